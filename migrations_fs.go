package banklink

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the SQL migrations. Postgres files live at the root of
// data/sql/migrations and SQLite alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
