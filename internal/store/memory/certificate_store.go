package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/store"
)

// CertificateStore implements store.CertificateStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type CertificateStore struct {
	mu    sync.RWMutex
	certs map[uuid.UUID]*models.Certificate
}

// NewCertificateStore creates a new in-memory certificate store.
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{
		certs: make(map[uuid.UUID]*models.Certificate),
	}
}

// Get retrieves a certificate by ID.
func (s *CertificateStore) Get(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, exists := s.certs[id]
	if !exists {
		return nil, store.ErrCertNotFound
	}

	return copyCert(cert), nil
}

// FindAllByEntityID returns the entity's certificates ordered by start date.
func (s *CertificateStore) FindAllByEntityID(ctx context.Context, entityID uuid.UUID) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Certificate
	for _, cert := range s.certs {
		if cert.EntityID == entityID {
			result = append(result, copyCert(cert))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].StartDate.Before(result[j].StartDate)
	})

	return result, nil
}

// Save inserts or replaces a certificate.
func (s *CertificateStore) Save(ctx context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.certs[cert.ID] = copyCert(cert)
	return nil
}

// Delete removes a certificate.
func (s *CertificateStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.certs[id]; !exists {
		return store.ErrCertNotFound
	}

	delete(s.certs, id)
	return nil
}

// Exists reports whether a certificate with the ID is stored.
func (s *CertificateStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.certs[id]
	return exists, nil
}

func (s *CertificateStore) deleteByEntity(entityID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cert := range s.certs {
		if cert.EntityID == entityID {
			delete(s.certs, id)
		}
	}
}

// copyCert creates a deep copy of a certificate.
func copyCert(cert *models.Certificate) *models.Certificate {
	clone := *cert
	if cert.RemoteCertID != nil {
		remoteID := *cert.RemoteCertID
		clone.RemoteCertID = &remoteID
	}
	return &clone
}
