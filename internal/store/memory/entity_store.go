package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/store"
)

// EntityStore implements store.EntityStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type EntityStore struct {
	mu sync.RWMutex

	entities      map[uuid.UUID]*models.Entity // entity_id -> Entity
	entitiesByMRN map[string]*models.Entity    // mrn -> Entity

	certs *CertificateStore
}

// NewEntityStore creates a new in-memory entity store. When certs is not nil
// deleting an entity also deletes its certificates.
func NewEntityStore(certs *CertificateStore) *EntityStore {
	return &EntityStore{
		entities:      make(map[uuid.UUID]*models.Entity),
		entitiesByMRN: make(map[string]*models.Entity),
		certs:         certs,
	}
}

// Get retrieves an entity by ID.
func (s *EntityStore) Get(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, exists := s.entities[id]
	if !exists {
		return nil, store.ErrEntityNotFound
	}

	return copyEntity(entity), nil
}

// GetByMRN retrieves an entity by MRN.
func (s *EntityStore) GetByMRN(ctx context.Context, mrn string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, exists := s.entitiesByMRN[mrn]
	if !exists {
		return nil, store.ErrEntityNotFound
	}

	return copyEntity(entity), nil
}

// GetByMMSI retrieves the oldest entity with the given MMSI.
func (s *EntityStore) GetByMMSI(ctx context.Context, mmsi string) (*models.Entity, error) {
	return s.first(func(e *models.Entity) bool {
		return e.MMSI != nil && *e.MMSI == mmsi
	})
}

// GetByName retrieves the oldest entity with the given name.
func (s *EntityStore) GetByName(ctx context.Context, name string) (*models.Entity, error) {
	return s.first(func(e *models.Entity) bool {
		return e.Name == name
	})
}

func (s *EntityStore) first(match func(*models.Entity) bool) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Entity
	for _, e := range s.entities {
		if !match(e) {
			continue
		}
		if found == nil || e.CreatedAt.Before(found.CreatedAt) ||
			(e.CreatedAt.Equal(found.CreatedAt) && e.ID.String() < found.ID.String()) {
			found = e
		}
	}

	if found == nil {
		return nil, store.ErrEntityNotFound
	}

	return copyEntity(found), nil
}

// Save inserts or replaces an entity.
func (s *EntityStore) Save(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if other, exists := s.entitiesByMRN[entity.MRN]; exists && other.ID != entity.ID {
		return store.ErrEntityAlreadyExists
	}

	if existing, exists := s.entities[entity.ID]; exists {
		delete(s.entitiesByMRN, existing.MRN)
		entity.CreatedAt = existing.CreatedAt
	}

	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	// Clone to avoid external modifications
	clone := copyEntity(entity)
	s.entities[clone.ID] = clone
	s.entitiesByMRN[clone.MRN] = clone

	return nil
}

// Delete removes an entity and, when configured, its certificates.
func (s *EntityStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, exists := s.entities[id]
	if !exists {
		return store.ErrEntityNotFound
	}

	delete(s.entities, id)
	delete(s.entitiesByMRN, entity.MRN)

	if s.certs != nil {
		s.certs.deleteByEntity(id)
	}

	return nil
}

// Exists reports whether an entity with the ID is stored.
func (s *EntityStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.entities[id]
	return exists, nil
}

// List returns entities ordered by creation time.
func (s *EntityStore) List(ctx context.Context, opts store.ListEntitiesOptions) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Entity
	for _, e := range s.entities {
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		result = append(result, copyEntity(e))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

func copyEntity(e *models.Entity) *models.Entity {
	clone := *e
	if e.MMSI != nil {
		mmsi := *e.MMSI
		clone.MMSI = &mmsi
	}
	if e.Version != nil {
		version := *e.Version
		clone.Version = &version
	}
	return &clone
}
