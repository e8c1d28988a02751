package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/wolfeidau/mcpcerts/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrEntityNotFound      = errors.New("entity not found")
	ErrEntityAlreadyExists = errors.New("entity already exists")
	ErrCertNotFound        = errors.New("certificate not found")
)

// EntityStore persists entities.
type EntityStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	GetByMRN(ctx context.Context, mrn string) (*models.Entity, error)

	// GetByMMSI and GetByName return the oldest matching entity.
	GetByMMSI(ctx context.Context, mmsi string) (*models.Entity, error)
	GetByName(ctx context.Context, name string) (*models.Entity, error)

	// Save inserts or replaces the entity. Another entity already holding
	// the same MRN yields ErrEntityAlreadyExists.
	Save(ctx context.Context, entity *models.Entity) error

	// Delete removes the entity together with its certificates.
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, opts ListEntitiesOptions) ([]*models.Entity, error)
}

// ListEntitiesOptions filters List. Zero values match everything.
type ListEntitiesOptions struct {
	Type  models.EntityType
	Limit int
}

// CertificateStore persists certificates and their key material.
type CertificateStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Certificate, error)

	// FindAllByEntityID returns the entity's certificates ordered by start date.
	FindAllByEntityID(ctx context.Context, entityID uuid.UUID) ([]*models.Certificate, error)

	// Save inserts or replaces a certificate.
	Save(ctx context.Context, cert *models.Certificate) error
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
