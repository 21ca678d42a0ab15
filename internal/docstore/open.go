package docstore

import (
	"context"
	"fmt"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/config"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/database"
)

// Open returns the Store selected by cfg.Driver. The SQLite backend
// shares db, which must already be migrated; the other drivers ignore it.
func Open(ctx context.Context, cfg config.StoreConfig, db *database.DB) (Store, error) {
	switch cfg.Driver {
	case config.StoreDriverSQLite, "":
		if db == nil {
			return nil, fmt.Errorf("docstore: sqlite driver requires an open database")
		}
		return NewSQLiteStore(db), nil
	case config.StoreDriverPostgres:
		return ConnectPostgres(ctx, cfg.Postgres.DSN)
	case config.StoreDriverMongo:
		return ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	case config.StoreDriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("docstore: unknown driver %q", cfg.Driver)
	}
}
