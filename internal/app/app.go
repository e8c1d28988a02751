// Package app assembles stores, the registry and the certificate services
// from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/mcpcerts/internal/certificates"
	"github.com/wolfeidau/mcpcerts/internal/config"
	"github.com/wolfeidau/mcpcerts/internal/keystore"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
	"github.com/wolfeidau/mcpcerts/internal/pki"
	"github.com/wolfeidau/mcpcerts/internal/registry"
	"github.com/wolfeidau/mcpcerts/internal/signing"
	"github.com/wolfeidau/mcpcerts/internal/store"
	memorystore "github.com/wolfeidau/mcpcerts/internal/store/memory"
	postgresstore "github.com/wolfeidau/mcpcerts/internal/store/postgres"
)

// ErrLocalMode is returned for registry operations when running without a
// remote registry.
var ErrLocalMode = errors.New("not available with a local registry")

// App holds the wired services.
type App struct {
	Config       *config.Config
	Naming       *mrn.Naming
	Entities     store.EntityStore
	Certificates store.CertificateStore
	Truststore   *keystore.Truststore
	Manager      *certificates.Manager
	Facade       *signing.Facade

	client  *registry.Client // nil in local mode
	closers []func()
}

// New builds an App. loader reads keystore and truststore material.
func New(ctx context.Context, cfg *config.Config, loader *keystore.Loader) (*App, error) {
	a := &App{Config: cfg, Naming: cfg.Naming()}

	if err := a.initStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var (
		reg       certificates.Registry
		registrar signing.Registrar
		err       error
	)

	switch cfg.Registry.Mode {
	case config.RegistryModeLocal:
		reg, err = a.initLocal(ctx, loader)
	default:
		err = a.initRemote(ctx, loader)
		reg, registrar = a.client, a.client
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	// a nil *Truststore must reach the manager as a nil interface
	var trust certificates.TrustStore
	if a.Truststore != nil {
		trust = a.Truststore
	}

	a.Manager = certificates.NewManager(certificates.Config{
		Curve:        cfg.Keys.Curve,
		Algorithm:    cfg.Keys.Algorithm,
		SubjectDN:    cfg.Certificates.SubjectDN,
		Organisation: cfg.Registry.Organisation,
	}, a.Entities, a.Certificates, reg, trust)

	a.Facade = signing.NewFacade(signing.Config{TrustAnchorAlias: cfg.TrustAnchorAlias}, a.Entities, a.Manager, a.Naming, registrar)

	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	switch a.Config.Store.Type {
	case config.StoreTypePostgres:
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString: a.Config.Store.Postgres.ConnString,
			MaxConns:   a.Config.Store.Postgres.MaxConns,
			MinConns:   a.Config.Store.Postgres.MinConns,
		})
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		if a.Config.Store.Postgres.AutoMigrate {
			if err := postgresstore.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		a.Entities = postgresstore.NewEntityStore(pool)
		a.Certificates = postgresstore.NewCertificateStore(pool)
		log.Info().Msg("Using PostgreSQL stores")

	default:
		certs := memorystore.NewCertificateStore()
		a.Certificates = certs
		a.Entities = memorystore.NewEntityStore(certs)
		log.Info().Msg("Using in-memory stores")
	}

	return nil
}

func (a *App) initRemote(ctx context.Context, loader *keystore.Loader) error {
	identity, err := loader.LoadIdentity(ctx, a.Config.Keystore)
	if err != nil {
		return fmt.Errorf("failed to load keystore: %w", err)
	}

	if !a.Config.Truststore.IsZero() {
		a.Truststore, err = loader.LoadTruststore(ctx, a.Config.Truststore)
		if err != nil {
			return fmt.Errorf("failed to load truststore: %w", err)
		}
	} else {
		log.Warn().Msg("No truststore configured, registry server certificates are not verified")
	}

	httpClient, err := registry.NewHTTPClient(registry.Config{
		RequestTimeout:   a.Config.Registry.RequestTimeout,
		HandshakeTimeout: a.Config.Registry.HandshakeTimeout,
		InsecureTrust:    a.Config.Registry.InsecureTrust,
	}, identity, a.Truststore)
	if err != nil {
		return err
	}

	a.client, err = registry.NewClient(httpClient, a.Naming)
	if err != nil {
		return err
	}

	log.Info().Str("base_url", a.Naming.BaseURL()).Msg("Using remote identity registry")

	return nil
}

func (a *App) initLocal(ctx context.Context, loader *keystore.Loader) (*certificates.LocalIssuer, error) {
	ca, err := a.localCA()
	if err != nil {
		return nil, err
	}

	if !a.Config.Truststore.IsZero() {
		a.Truststore, err = loader.LoadTruststore(ctx, a.Config.Truststore)
		if err != nil {
			return nil, fmt.Errorf("failed to load truststore: %w", err)
		}
	} else {
		a.Truststore = &keystore.Truststore{}
	}

	if _, err := a.Truststore.Certificate(a.Config.TrustAnchorAlias); err != nil {
		caCert, err := ca.GetCACertificate()
		if err != nil {
			return nil, err
		}
		a.Truststore.Add(a.Config.TrustAnchorAlias, caCert)
	}

	log.Info().Msg("Using local certificate authority as identity registry")

	return certificates.NewLocalIssuer(ca, a.Entities, a.Certificates, a.Config.Certificates.Validity), nil
}

func (a *App) localCA() (*pki.FileSigner, error) {
	localCA := a.Config.Certificates.LocalCA
	if localCA.Certificate != "" {
		ca, err := pki.NewFileSigner(localCA.PrivateKey, localCA.Certificate)
		if err != nil {
			return nil, fmt.Errorf("failed to load local CA: %w", err)
		}
		return ca, nil
	}

	log.Warn().Msg("No local CA configured, generating an ephemeral one")

	return pki.NewEphemeralCA("mcpcerts local CA", a.Config.Keys.Curve, a.Config.Certificates.Validity*2)
}

// Registry returns the remote registry client.
func (a *App) Registry() (*registry.Client, error) {
	if a.client == nil {
		return nil, ErrLocalMode
	}
	return a.client, nil
}

// Close releases resources held by the stores.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
