package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/mcpcerts/internal/config"
	postgresstore "github.com/wolfeidau/mcpcerts/internal/store/postgres"
)

type MigrateCmd struct{}

func (m *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	log, cfg, err := setup(globals)
	if err != nil {
		return err
	}

	if cfg.Store.Type != config.StoreTypePostgres {
		return errors.New("migrations only apply to the postgres store")
	}

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{ConnString: cfg.Store.Postgres.ConnString})
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	if err := postgresstore.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations completed")
	return nil
}
