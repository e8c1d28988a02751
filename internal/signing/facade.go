// Package signing resolves entities to their current certificate and signs or
// verifies payloads on their behalf.
package signing

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/mcpcerts/internal/errs"
	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
	"github.com/wolfeidau/mcpcerts/internal/registry"
	"github.com/wolfeidau/mcpcerts/internal/store"
	"github.com/wolfeidau/mcpcerts/internal/telemetry"
)

// DefaultTrustAnchorAlias is the truststore alias of the root handed out with
// signature certificates.
const DefaultTrustAnchorAlias = "mcp-root"

// Lifecycle is the certificate lifecycle the facade delegates to.
type Lifecycle interface {
	GetLatestOrCreate(ctx context.Context, entityID uuid.UUID) (*models.Certificate, error)
	SignContent(ctx context.Context, certificateID uuid.UUID, algorithm string, payload []byte) ([]byte, error)
	VerifyContent(ctx context.Context, certificateID uuid.UUID, algorithm string, content, signature []byte) (bool, error)
	GetTrustedCertificate(alias string) (*x509.Certificate, error)
}

// Registrar registers newly created entities with the identity registry.
type Registrar interface {
	GetEntity(ctx context.Context, k registry.Kind, entityMRN, version string) (registry.Entity, error)
	CreateEntity(ctx context.Context, k registry.Kind, e registry.Entity) (registry.Entity, error)
}

// Config controls the facade.
type Config struct {
	TrustAnchorAlias string
}

// Facade is the entry point for callers that sign on behalf of entities.
type Facade struct {
	cfg       Config
	entities  store.EntityStore
	lifecycle Lifecycle
	naming    *mrn.Naming
	registrar Registrar

	mu sync.Mutex // serializes entity get-or-create
}

// NewFacade wires a Facade. registrar may be nil, in which case entities
// created on demand are only stored locally.
func NewFacade(cfg Config, entities store.EntityStore, lifecycle Lifecycle, naming *mrn.Naming, registrar Registrar) *Facade {
	if cfg.TrustAnchorAlias == "" {
		cfg.TrustAnchorAlias = DefaultTrustAnchorAlias
	}
	return &Facade{
		cfg:       cfg,
		entities:  entities,
		lifecycle: lifecycle,
		naming:    naming,
		registrar: registrar,
	}
}

// GetSignatureCertificate returns the current certificate of the entity
// called name, creating the entity and a certificate when needed.
func (f *Facade) GetSignatureCertificate(ctx context.Context, name string, mmsi, version *string, entityType models.EntityType) (*models.SignatureCertificate, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "signing.GetSignatureCertificate",
		trace.WithAttributes(
			attribute.String("entity_name", name),
			attribute.String("entity_type", string(entityType)),
		))
	defer span.End()

	entity, err := f.getOrCreateEntity(ctx, name, mmsi, version, entityType)
	if err != nil {
		return nil, err
	}

	cert, err := f.lifecycle.GetLatestOrCreate(ctx, entity.ID)
	if err != nil {
		return nil, err
	}

	root, err := f.lifecycle.GetTrustedCertificate(f.cfg.TrustAnchorAlias)
	if err != nil {
		return nil, err
	}

	return &models.SignatureCertificate{
		CertificateID:         cert.ID.String(),
		CertificatePEM:        cert.CertificatePEM,
		PublicKeyPEM:          cert.PublicKeyPEM,
		RootCertificateBase64: base64.StdEncoding.EncodeToString(root.Raw),
	}, nil
}

func (f *Facade) getOrCreateEntity(ctx context.Context, name string, mmsi, version *string, entityType models.EntityType) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entity, err := f.entities.GetByName(ctx, name)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, store.ErrEntityNotFound) {
		return nil, fmt.Errorf("%w: entity %q: %v", errs.ErrDataNotFound, name, err)
	}

	entity, err = models.NewEntity(name, f.naming.ConstructMRN(entityType, name), entityType, mmsi, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}

	if f.registrar != nil {
		kind, wire, err := registry.FromModel(entity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
		}
		if err := f.register(ctx, kind, wire, entity); err != nil {
			return nil, err
		}
	}

	if err := f.entities.Save(ctx, entity); err != nil {
		if errors.Is(err, store.ErrEntityAlreadyExists) {
			return nil, fmt.Errorf("%w: MRN %s belongs to another entity", errs.ErrSavingFailed, entity.MRN)
		}
		return nil, fmt.Errorf("%w: entity %q: %v", errs.ErrSavingFailed, name, err)
	}

	log.Info().
		Str("entity_id", entity.ID.String()).
		Str("mrn", entity.MRN).
		Str("type", string(entity.Type)).
		Msg("entity created")

	return entity, nil
}

// register creates the entity at the registry unless the registry already
// knows it, in which case the local store simply catches up.
func (f *Facade) register(ctx context.Context, kind registry.Kind, wire registry.Entity, entity *models.Entity) error {
	var version string
	if entity.Version != nil {
		version = *entity.Version
	}

	_, err := f.registrar.GetEntity(ctx, kind, entity.MRN, version)
	switch {
	case err == nil:
		log.Info().Str("mrn", entity.MRN).Msg("entity already registered, adopting")
		return nil
	case !errors.Is(err, errs.ErrDataNotFound):
		return err
	}

	_, err = f.registrar.CreateEntity(ctx, kind, wire)
	return err
}

// GenerateEntitySignature signs payload with the given certificate. Every
// failure is reported as ErrInvalidRequest.
func (f *Facade) GenerateEntitySignature(ctx context.Context, certificateID uuid.UUID, algorithm string, payload []byte) ([]byte, error) {
	sig, err := f.lifecycle.SignContent(ctx, certificateID, algorithm, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}
	return sig, nil
}

// VerifyEntitySignatureByMRN verifies signature against the current
// certificate of the entity with the given MRN.
func (f *Facade) VerifyEntitySignatureByMRN(ctx context.Context, entityMRN, algorithm string, content, signature []byte) (bool, error) {
	entity, err := f.entities.GetByMRN(ctx, entityMRN)
	if err != nil {
		return false, fmt.Errorf("%w: entity %s: %v", errs.ErrDataNotFound, entityMRN, err)
	}

	cert, err := f.lifecycle.GetLatestOrCreate(ctx, entity.ID)
	if err != nil {
		return false, err
	}

	return f.lifecycle.VerifyContent(ctx, cert.ID, algorithm, content, signature)
}

// VerifyEntitySignatureByMMSI is VerifyEntitySignatureByMRN for an entity
// looked up by MMSI.
func (f *Facade) VerifyEntitySignatureByMMSI(ctx context.Context, mmsi, algorithm string, content, signature []byte) (bool, error) {
	entity, err := f.entities.GetByMMSI(ctx, mmsi)
	if err != nil {
		return false, fmt.Errorf("%w: entity with MMSI %s: %v", errs.ErrDataNotFound, mmsi, err)
	}

	return f.VerifyEntitySignatureByMRN(ctx, entity.MRN, algorithm, content, signature)
}
