package sqlstore

import "github.com/goliatone/go-banklink/core"

var (
	_ core.ItemStore              = (*ItemStore)(nil)
	_ core.ItemStore              = (*CachedItemStore)(nil)
	_ core.EventStore             = (*EventStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
