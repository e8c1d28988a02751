package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the kind of maritime identity an entity represents.
type EntityType string

const (
	EntityTypeDevice  EntityType = "DEVICE"
	EntityTypeService EntityType = "SERVICE"
	EntityTypeVessel  EntityType = "VESSEL"
	EntityTypeUser    EntityType = "USER"
	EntityTypeRole    EntityType = "ROLE"
)

// EntityTypes lists every supported entity type.
var EntityTypes = []EntityType{
	EntityTypeDevice,
	EntityTypeService,
	EntityTypeVessel,
	EntityTypeUser,
	EntityTypeRole,
}

// ErrUnknownEntityType is returned when parsing an unsupported entity type.
var ErrUnknownEntityType = errors.New("unknown entity type")

// ParseEntityType parses an entity type name, ignoring case.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range EntityTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

func (t EntityType) String() string {
	return string(t)
}

// Entity is a named, typed identity holder that owns a set of certificates.
type Entity struct {
	ID      uuid.UUID  // UUIDv7
	Name    string     // Display name, also the lookup key for get-or-create
	MRN     string     // Canonical maritime resource name, unique
	MMSI    *string    // Maritime mobile service identity, optional
	Type    EntityType // DEVICE, SERVICE, VESSEL, USER or ROLE
	Version *string    // Instance version, set only for SERVICE entities

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEntity creates an entity with a fresh UUIDv7 identifier.
func NewEntity(name, mrn string, entityType EntityType, mmsi, version *string) (*Entity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate entity id: %w", err)
	}

	now := time.Now().UTC()
	e := &Entity{
		ID:        id,
		Name:      name,
		MRN:       mrn,
		MMSI:      mmsi,
		Type:      entityType,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return e, e.Validate()
}

// Validate checks the entity invariants.
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("entity name is required")
	}
	if strings.TrimSpace(e.MRN) == "" {
		return errors.New("entity MRN is required")
	}
	if _, err := ParseEntityType(string(e.Type)); err != nil {
		return err
	}

	hasVersion := e.Version != nil && strings.TrimSpace(*e.Version) != ""
	if e.Type == EntityTypeService && !hasVersion {
		return errors.New("service entities require a version")
	}
	if e.Type != EntityTypeService && e.Version != nil {
		return fmt.Errorf("%s entities must not carry a version", strings.ToLower(string(e.Type)))
	}

	return nil
}

// VersionString returns the entity version or an empty string.
func (e *Entity) VersionString() string {
	if e.Version == nil {
		return ""
	}
	return *e.Version
}
