// Package migrations resolves the embedded banklink schema for each supported
// SQL dialect.
package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	banklink "github.com/goliatone/go-banklink"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const root = "data/sql/migrations"

// Tables lists the tables the banklink schema creates, in creation order.
var Tables = []string{"banklink_items", "banklink_events"}

// ForDialect returns the migration directory for dialect from the embedded
// schema. Pass source to read a different tree with the same layout.
func ForDialect(dialect string, source ...fs.FS) (fs.FS, error) {
	base := banklink.GetMigrationsFS()
	if len(source) > 0 && source[0] != nil {
		base = source[0]
	}

	dir := root
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres, "postgresql":
	case DialectSQLite, "sqlite3":
		dir = root + "/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	fsys, err := fs.Sub(base, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			return nil, fmt.Errorf("migrations: %s/%s has no rollback", dir, up)
		}
	}
	return fsys, nil
}
