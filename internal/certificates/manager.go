// Package certificates manages the lifecycle of entity certificates: issuing
// them through the identity registry, picking the latest usable one,
// revoking, reconciling with the registry and signing with stored keys.
package certificates

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/mcpcerts/internal/errs"
	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
	"github.com/wolfeidau/mcpcerts/internal/pki"
	"github.com/wolfeidau/mcpcerts/internal/registry"
	"github.com/wolfeidau/mcpcerts/internal/store"
	"github.com/wolfeidau/mcpcerts/internal/telemetry"
)

// DefaultSubjectDN is the CSR subject template used when none is configured.
const DefaultSubjectDN = "CN={name}, O={organisation}, OU={type}, UID={mrn}"

// Registry is the part of the identity registry the lifecycle depends on.
type Registry interface {
	IssueEntityCertificate(ctx context.Context, k registry.Kind, entityMRN, version string, csr *x509.CertificateRequest) (string, *x509.Certificate, error)
	RevokeEntityCertificate(ctx context.Context, k registry.Kind, entityMRN, version, remoteCertID string) error
	GetEntityCertificates(ctx context.Context, k registry.Kind, entityMRN, version string) (map[string]registry.RemoteCertificate, error)
}

// TrustStore resolves trusted certificates by alias.
type TrustStore interface {
	Certificate(alias string) (*x509.Certificate, error)
}

// Config holds the key and CSR settings.
type Config struct {
	Curve        string // defaults to secp256r1
	Algorithm    string // defaults to SHA256withECDSA
	SubjectDN    string // template with {name}, {mrn}, {organisation} and {type}
	Organisation string
}

// SyncResult counts the local changes made by SyncWithRegistry.
type SyncResult struct {
	Revoked  int
	Imported int
}

// Manager implements the certificate lifecycle.
type Manager struct {
	cfg      Config
	entities store.EntityStore
	certs    store.CertificateStore
	registry Registry
	trust    TrustStore
	now      func() time.Time
	locks    *entityLocks
}

// NewManager wires a Manager. trust may be nil when trusted certificate
// lookups are not needed.
func NewManager(cfg Config, entities store.EntityStore, certs store.CertificateStore, reg Registry, trust TrustStore) *Manager {
	if cfg.Curve == "" {
		cfg.Curve = pki.DefaultCurve
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = pki.DefaultSignatureAlgorithm
	}
	if cfg.SubjectDN == "" {
		cfg.SubjectDN = DefaultSubjectDN
	}

	return &Manager{
		cfg:      cfg,
		entities: entities,
		certs:    certs,
		registry: reg,
		trust:    trust,
		now:      time.Now,
		locks:    newEntityLocks(),
	}
}

// FindAllByEntityID returns the locally stored certificates of an entity.
func (m *Manager) FindAllByEntityID(ctx context.Context, entityID uuid.UUID) ([]*models.Certificate, error) {
	certs, err := m.certs.FindAllByEntityID(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("%w: certificates of entity %s: %v", errs.ErrDataNotFound, entityID, err)
	}
	return certs, nil
}

// Generate creates a key pair, has the registry issue a certificate for it
// and stores the result. A storage failure after issuance leaves the remote
// certificate in place; it is logged and reported as ErrSavingFailed.
func (m *Manager) Generate(ctx context.Context, entityID uuid.UUID) (*models.Certificate, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "certificates.Generate",
		trace.WithAttributes(attribute.String("entity_id", entityID.String())))
	defer span.End()

	cert, err := m.generate(ctx, entityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return nil, err
	}
	return cert, nil
}

func (m *Manager) generate(ctx context.Context, entityID uuid.UUID) (*models.Certificate, error) {
	entity, kind, err := m.loadEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	kp, err := pki.GenerateKeyPair(m.cfg.Curve)
	if err != nil {
		return nil, err
	}

	csr, err := pki.GenerateCSR(kp, m.subjectDN(entity), m.cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	remoteID, issued, err := m.registry.IssueEntityCertificate(ctx, kind, entity.MRN, entity.VersionString(), csr)
	if err != nil {
		return nil, err
	}

	publicKeyPEM, err := pki.EncodePublicKeyPEM(kp.Public)
	if err != nil {
		return nil, err
	}
	privateKeyPEM, err := pki.EncodePrivateKeyPEM(kp.Private)
	if err != nil {
		return nil, err
	}

	id, err := models.NewCertificateID()
	if err != nil {
		return nil, err
	}

	cert := &models.Certificate{
		ID:             id,
		EntityID:       entity.ID,
		RemoteCertID:   &remoteID,
		CertificatePEM: pki.EncodeCertificatePEM(issued),
		PublicKeyPEM:   publicKeyPEM,
		PrivateKeyPEM:  privateKeyPEM,
		StartDate:      issued.NotBefore,
		EndDate:        issued.NotAfter,
	}

	metrics := telemetry.GetMetrics()

	if err := m.certs.Save(ctx, cert); err != nil {
		metrics.OrphanedCertificatesTotal.Add(ctx, 1)
		log.Error().
			Err(err).
			Str("entity_id", entity.ID.String()).
			Str("mrn", entity.MRN).
			Str("remote_id", remoteID).
			Str("serial", issued.SerialNumber.Text(16)).
			Msg("issued certificate could not be stored, remote certificate is orphaned")
		return nil, fmt.Errorf("%w: certificate %s for %s: %v", errs.ErrSavingFailed, remoteID, entity.MRN, err)
	}

	metrics.CertificatesIssuedTotal.Add(ctx, 1)

	log.Info().
		Str("entity_id", entity.ID.String()).
		Str("certificate_id", cert.ID.String()).
		Str("remote_id", remoteID).
		Time("not_after", cert.EndDate).
		Msg("certificate issued")

	return cert, nil
}

// GetLatestOrCreate returns the certificate with the greatest start date when
// it is usable, otherwise a freshly generated one. Calls for the same entity
// are serialized within this process.
func (m *Manager) GetLatestOrCreate(ctx context.Context, entityID uuid.UUID) (*models.Certificate, error) {
	unlock := m.locks.lock(entityID)
	defer unlock()

	certs, err := m.FindAllByEntityID(ctx, entityID)
	if err != nil {
		return nil, err
	}

	if latest := latestByStartDate(certs); latest != nil && latest.Usable(m.now()) {
		return latest, nil
	}

	return m.Generate(ctx, entityID)
}

func latestByStartDate(certs []*models.Certificate) *models.Certificate {
	var latest *models.Certificate
	for _, c := range certs {
		if latest == nil || c.StartDate.After(latest.StartDate) {
			latest = c
		}
	}
	return latest
}

// Revoke revokes the certificate at the registry and only then marks it
// revoked locally. Already revoked certificates are returned unchanged.
func (m *Manager) Revoke(ctx context.Context, certificateID uuid.UUID) (*models.Certificate, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "certificates.Revoke",
		trace.WithAttributes(attribute.String("certificate_id", certificateID.String())))
	defer span.End()

	cert, err := m.loadCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if cert.Revoked {
		return cert, nil
	}

	entity, kind, err := m.loadEntity(ctx, cert.EntityID)
	if err != nil {
		return nil, err
	}

	if err := m.registry.RevokeEntityCertificate(ctx, kind, entity.MRN, entity.VersionString(), cert.RemoteID()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry revoke failed")
		return nil, err
	}

	cert.Revoked = true
	if err := m.certs.Save(ctx, cert); err != nil {
		return nil, fmt.Errorf("%w: revoked certificate %s: %v", errs.ErrSavingFailed, cert.ID, err)
	}

	telemetry.GetMetrics().CertificatesRevokedTotal.Add(ctx, 1)

	log.Info().
		Str("certificate_id", cert.ID.String()).
		Str("remote_id", cert.RemoteID()).
		Msg("certificate revoked")

	return cert, nil
}

// Delete removes the certificate locally. The registry is not contacted.
func (m *Manager) Delete(ctx context.Context, certificateID uuid.UUID) error {
	if err := m.certs.Delete(ctx, certificateID); err != nil {
		if errors.Is(err, store.ErrCertNotFound) {
			return fmt.Errorf("%w: certificate %s", errs.ErrDataNotFound, certificateID)
		}
		return fmt.Errorf("failed to delete certificate %s: %w", certificateID, err)
	}

	telemetry.GetMetrics().CertificatesDeletedTotal.Add(ctx, 1)

	return nil
}

// SyncWithRegistry reconciles the local certificates of an entity with the
// registry's non-revoked set, matched by serial number. Local certificates
// the registry no longer lists are marked revoked and registry certificates
// missing locally are stored without key material. Nothing is written when
// both sides agree.
func (m *Manager) SyncWithRegistry(ctx context.Context, entityID uuid.UUID) (SyncResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "certificates.SyncWithRegistry",
		trace.WithAttributes(attribute.String("entity_id", entityID.String())))
	defer span.End()

	var result SyncResult

	entity, kind, err := m.loadEntity(ctx, entityID)
	if err != nil {
		return result, err
	}

	local, err := m.FindAllByEntityID(ctx, entityID)
	if err != nil {
		return result, err
	}

	remote, err := m.registry.GetEntityCertificates(ctx, kind, entity.MRN, entity.VersionString())
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	metrics := telemetry.GetMetrics()
	known := make(map[string]bool, len(local))

	for _, cert := range local {
		serial, err := cert.SerialNumber()
		if err != nil {
			log.Warn().Err(err).Str("certificate_id", cert.ID.String()).Msg("skipping local certificate with unreadable PEM")
			continue
		}
		known[serial] = true

		if _, ok := remote[serial]; ok || cert.Revoked {
			continue
		}

		cert.Revoked = true
		if err := m.certs.Save(ctx, cert); err != nil {
			return result, fmt.Errorf("%w: revoked certificate %s: %v", errs.ErrSavingFailed, cert.ID, err)
		}
		result.Revoked++
		metrics.CertificatesRevokedTotal.Add(ctx, 1)
	}

	serials := make([]string, 0, len(remote))
	for serial, rc := range remote {
		if known[serial] {
			continue
		}
		// certificates without a UID attribute are attributed to the entity
		if subject, err := pki.ExtractMRN(rc.Certificate); err == nil && subject != entity.MRN {
			log.Warn().
				Str("entity_id", entityID.String()).
				Str("serial", serial).
				Str("subject_mrn", subject).
				Msg("skipping registry certificate issued to another MRN")
			continue
		}
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	for _, serial := range serials {
		cert, err := m.mirror(entity.ID, remote[serial])
		if err != nil {
			return result, err
		}
		if err := m.certs.Save(ctx, cert); err != nil {
			return result, fmt.Errorf("%w: imported certificate %s: %v", errs.ErrSavingFailed, serial, err)
		}
		result.Imported++
		metrics.CertificatesImportedTotal.Add(ctx, 1)
	}

	span.SetAttributes(
		attribute.Int("revoked", result.Revoked),
		attribute.Int("imported", result.Imported),
	)

	log.Info().
		Str("entity_id", entityID.String()).
		Int("revoked", result.Revoked).
		Int("imported", result.Imported).
		Msg("synchronised with registry")

	return result, nil
}

func (m *Manager) mirror(entityID uuid.UUID, rc registry.RemoteCertificate) (*models.Certificate, error) {
	id, err := models.NewCertificateID()
	if err != nil {
		return nil, err
	}

	remote := rc.Certificate
	var remoteID *string
	if rc.ID != "" {
		remoteID = &rc.ID
	}

	publicKeyPEM, err := pki.EncodePublicKeyPEM(remote.PublicKey)
	if err != nil {
		return nil, err
	}

	return &models.Certificate{
		ID:             id,
		EntityID:       entityID,
		CertificatePEM: pki.EncodeCertificatePEM(remote),
		PublicKeyPEM:   publicKeyPEM,
		StartDate:      remote.NotBefore,
		EndDate:        remote.NotAfter,
		RemoteCertID:   remoteID,
	}, nil
}

// SignContent signs payload with the certificate's private key. Crypto
// failures are returned as they are.
func (m *Manager) SignContent(ctx context.Context, certificateID uuid.UUID, algorithm string, payload []byte) ([]byte, error) {
	cert, err := m.loadCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}

	key, err := pki.ParsePrivateKeyPEM(cert.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	sig, err := pki.Sign(key, m.algorithm(algorithm), payload)
	if err != nil {
		return nil, err
	}

	telemetry.GetMetrics().SignaturesTotal.Add(ctx, 1)

	return sig, nil
}

// VerifyContent reports whether signature is valid for content under the
// certificate's public key. Only an unknown certificate id is an error.
func (m *Manager) VerifyContent(ctx context.Context, certificateID uuid.UUID, algorithm string, content, signature []byte) (bool, error) {
	cert, err := m.loadCertificate(ctx, certificateID)
	if err != nil {
		return false, err
	}

	telemetry.GetMetrics().VerificationsTotal.Add(ctx, 1)

	pub, err := pki.ParsePublicKeyPEM(cert.PublicKeyPEM)
	if err != nil {
		log.Debug().Err(err).Str("certificate_id", cert.ID.String()).Msg("unreadable public key")
		return false, nil
	}

	return pki.Verify(pub, m.algorithm(algorithm), content, signature), nil
}

// GetTrustedCertificate returns a certificate from the truststore.
func (m *Manager) GetTrustedCertificate(alias string) (*x509.Certificate, error) {
	if m.trust == nil {
		return nil, fmt.Errorf("%w: no truststore configured", errs.ErrDataNotFound)
	}

	cert, err := m.trust.Certificate(alias)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDataNotFound, err)
	}
	return cert, nil
}

func (m *Manager) algorithm(name string) string {
	if strings.TrimSpace(name) == "" {
		return m.cfg.Algorithm
	}
	return name
}

func (m *Manager) subjectDN(e *models.Entity) string {
	return pki.RenderSubjectDN(m.cfg.SubjectDN, map[string]string{
		"name":         e.Name,
		"mrn":          e.MRN,
		"organisation": m.cfg.Organisation,
		"type":         mrn.TypeSegment(e.Type),
	})
}

func (m *Manager) loadEntity(ctx context.Context, id uuid.UUID) (*models.Entity, registry.Kind, error) {
	entity, err := m.entities.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: entity %s: %v", errs.ErrDataNotFound, id, err)
	}

	kind, err := registry.KindFor(entity.Type)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}

	return entity, kind, nil
}

func (m *Manager) loadCertificate(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	cert, err := m.certs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate %s: %v", errs.ErrDataNotFound, id, err)
	}
	return cert, nil
}
