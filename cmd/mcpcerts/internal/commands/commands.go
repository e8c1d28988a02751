package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/wolfeidau/mcpcerts/internal/app"
	"github.com/wolfeidau/mcpcerts/internal/config"
	"github.com/wolfeidau/mcpcerts/internal/keystore"
	"github.com/wolfeidau/mcpcerts/internal/logger"
	"github.com/wolfeidau/mcpcerts/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
	Config  string
}

// setup configures logging and loads the configuration.
func setup(globals *Globals) (zerolog.Logger, *config.Config, error) {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log

	cfg, err := config.Load(globals.Config)
	if err != nil {
		return log, nil, err
	}

	return log, cfg, nil
}

// withApp wires the services, runs fn and tears everything down again.
func withApp(ctx context.Context, globals *Globals, fn func(ctx context.Context, a *app.App) error) error {
	log, cfg, err := setup(globals)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     globals.Version,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	a, err := app.New(ctx, cfg, keystore.NewLoader(nil))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
