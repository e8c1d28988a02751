package certificates

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/mcpcerts/internal/errs"
	"github.com/wolfeidau/mcpcerts/internal/pki"
	"github.com/wolfeidau/mcpcerts/internal/registry"
	"github.com/wolfeidau/mcpcerts/internal/store"
)

// DefaultValidity is the lifetime of certificates issued by LocalIssuer.
const DefaultValidity = 365 * 24 * time.Hour

// LocalIssuer stands in for the identity registry when running offline. It
// signs CSRs with a local CA and reports the locally stored certificates as
// the registry's view, so synchronisation never changes anything.
type LocalIssuer struct {
	signer   pki.CASigner
	entities store.EntityStore
	certs    store.CertificateStore
	validity time.Duration
	now      func() time.Time
}

// NewLocalIssuer returns a LocalIssuer. A zero validity uses DefaultValidity.
func NewLocalIssuer(signer pki.CASigner, entities store.EntityStore, certs store.CertificateStore, validity time.Duration) *LocalIssuer {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &LocalIssuer{
		signer:   signer,
		entities: entities,
		certs:    certs,
		validity: validity,
		now:      time.Now,
	}
}

// IssueEntityCertificate signs csr for the entity. The remote id is the hex
// serial number of the new certificate.
func (l *LocalIssuer) IssueEntityCertificate(_ context.Context, k registry.Kind, entityMRN, version string, csr *x509.CertificateRequest) (string, *x509.Certificate, error) {
	if strings.TrimSpace(entityMRN) == "" {
		return "", nil, fmt.Errorf("%w: %s MRN is required", errs.ErrInvalidRequest, k.Segment())
	}
	if k.RequiresVersion() && strings.TrimSpace(version) == "" {
		return "", nil, fmt.Errorf("%w: %s %s requires a version", errs.ErrInvalidRequest, k.Segment(), entityMRN)
	}

	start := l.now().UTC().Truncate(time.Second)
	cert, err := pki.IssueFromCSR(l.signer, csr, entityMRN, start, start.Add(l.validity))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}

	log.Debug().
		Str("mrn", entityMRN).
		Str("serial", cert.SerialNumber.Text(16)).
		Msg("certificate issued by local CA")

	return cert.SerialNumber.Text(16), cert, nil
}

// RevokeEntityCertificate accepts every revocation; the local CA publishes no
// revocation list.
func (l *LocalIssuer) RevokeEntityCertificate(_ context.Context, k registry.Kind, entityMRN, _, remoteCertID string) error {
	if remoteCertID == "" {
		return fmt.Errorf("%w: certificate of %s %s has no remote id", errs.ErrInvalidRequest, k.Segment(), entityMRN)
	}
	return nil
}

// GetEntityCertificates returns the non-revoked certificates stored for the
// entity, keyed by hex serial number.
func (l *LocalIssuer) GetEntityCertificates(ctx context.Context, k registry.Kind, entityMRN, _ string) (map[string]registry.RemoteCertificate, error) {
	entity, err := l.entities.GetByMRN(ctx, entityMRN)
	if err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			return nil, fmt.Errorf("%w: %s %s", errs.ErrDataNotFound, k.Segment(), entityMRN)
		}
		return nil, err
	}

	stored, err := l.certs.FindAllByEntityID(ctx, entity.ID)
	if err != nil {
		return nil, err
	}

	certs := make(map[string]registry.RemoteCertificate, len(stored))
	for _, c := range stored {
		if c.Revoked {
			continue
		}
		cert, err := pki.ParseCertificatePEM(c.CertificatePEM)
		if err != nil {
			log.Warn().Err(err).Str("certificate_id", c.ID.String()).Msg("skipping unreadable stored certificate")
			continue
		}
		serial := cert.SerialNumber.Text(16)
		certs[serial] = registry.RemoteCertificate{ID: serial, Certificate: cert}
	}

	return certs, nil
}
