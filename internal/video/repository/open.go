package repository

import (
	"context"
	"fmt"

	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/database"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/mongodb"
)

// Open connects to the store selected by cfg.Store.Driver. The returned
// function closes the underlying connection.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		client, err := mongodb.New(ctx, &cfg.Mongo, log)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB client")
			}
		}
		return NewMongoStore(client, cfg.Store.OperationTimeout, log), closeFn, nil

	case config.StorePostgres:
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close database")
			}
		}
		return NewPostgresStore(db, cfg.Store.OperationTimeout, log), closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
