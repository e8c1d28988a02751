package certificates

import (
	"context"
	"crypto/x509"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/mcpcerts/internal/errs"
	"github.com/wolfeidau/mcpcerts/internal/keystore"
	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/pki"
	"github.com/wolfeidau/mcpcerts/internal/registry"
	"github.com/wolfeidau/mcpcerts/internal/store/memory"
)

type fakeRegistry struct {
	ca *pki.FileSigner

	mu        sync.Mutex
	issued    int
	issueErr  error
	revokeErr error
	revoked   []string
	remote    map[string]*x509.Certificate
	delay     time.Duration
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	ca, err := pki.NewEphemeralCA("Test Registry CA", pki.DefaultCurve, time.Hour)
	require.NoError(t, err)
	return &fakeRegistry{ca: ca, remote: map[string]*x509.Certificate{}}
}

func (f *fakeRegistry) IssueEntityCertificate(_ context.Context, _ registry.Kind, entityMRN, _ string, csr *x509.CertificateRequest) (string, *x509.Certificate, error) {
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.issueErr != nil {
		return "", nil, f.issueErr
	}

	start := time.Now().Add(-time.Minute)
	cert, err := pki.IssueFromCSR(f.ca, csr, entityMRN, start, start.Add(time.Hour))
	if err != nil {
		return "", nil, err
	}
	f.issued++
	f.remote[cert.SerialNumber.Text(16)] = cert
	return cert.SerialNumber.Text(16), cert, nil
}

func (f *fakeRegistry) RevokeEntityCertificate(_ context.Context, _ registry.Kind, _, _, remoteCertID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked = append(f.revoked, remoteCertID)
	delete(f.remote, remoteCertID)
	return nil
}

func (f *fakeRegistry) GetEntityCertificates(context.Context, registry.Kind, string, string) (map[string]registry.RemoteCertificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]registry.RemoteCertificate, len(f.remote))
	for k, v := range f.remote {
		out[k] = registry.RemoteCertificate{ID: k, Certificate: v}
	}
	return out, nil
}

func (f *fakeRegistry) issueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

// countingStore records writes to the certificate store.
type countingStore struct {
	*memory.CertificateStore

	mu      sync.Mutex
	saves   int
	saveErr error
}

func (s *countingStore) Save(ctx context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	return s.CertificateStore.Save(ctx, cert)
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *countingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = 0
}

type fixture struct {
	manager  *Manager
	registry *fakeRegistry
	certs    *countingStore
	entities *memory.EntityStore
	entity   *models.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := memory.NewCertificateStore()
	certs := &countingStore{CertificateStore: mem}
	entities := memory.NewEntityStore(mem)
	reg := newFakeRegistry(t)

	caCert, err := reg.ca.GetCACertificate()
	require.NoError(t, err)
	trust := &keystore.Truststore{}
	trust.Add("mcp-root", caCert)

	mmsi := "123456789"
	entity, err := models.NewEntity("test_aton", "urn:mrn:mcp:device:mcc:grad:test_aton", models.EntityTypeDevice, &mmsi, nil)
	require.NoError(t, err)
	require.NoError(t, entities.Save(context.Background(), entity))

	m := NewManager(Config{Organisation: "grad"}, entities, certs, reg, trust)

	return &fixture{manager: m, registry: reg, certs: certs, entities: entities, entity: entity}
}

// seed stores a certificate signed by the fake registry CA without telling
// the registry about it.
func (f *fixture) seed(t *testing.T, start, end time.Time, revoked bool) *models.Certificate {
	t.Helper()

	kp, err := pki.GenerateKeyPair(pki.DefaultCurve)
	require.NoError(t, err)
	csr, err := pki.GenerateCSR(kp, "CN=seed", pki.DefaultSignatureAlgorithm)
	require.NoError(t, err)
	issued, err := pki.IssueFromCSR(f.registry.ca, csr, f.entity.MRN, start, end)
	require.NoError(t, err)

	pub, err := pki.EncodePublicKeyPEM(kp.Public)
	require.NoError(t, err)
	priv, err := pki.EncodePrivateKeyPEM(kp.Private)
	require.NoError(t, err)
	id, err := models.NewCertificateID()
	require.NoError(t, err)

	remoteID := issued.SerialNumber.Text(16)
	cert := &models.Certificate{
		ID:             id,
		EntityID:       f.entity.ID,
		RemoteCertID:   &remoteID,
		CertificatePEM: pki.EncodeCertificatePEM(issued),
		PublicKeyPEM:   pub,
		PrivateKeyPEM:  priv,
		StartDate:      start,
		EndDate:        end,
		Revoked:        revoked,
	}
	require.NoError(t, f.certs.CertificateStore.Save(context.Background(), cert))
	return cert
}

func TestManagerGetLatestOrCreate(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("issues when no certificate exists", func(t *testing.T) {
		f := newFixture(t)

		cert, err := f.manager.GetLatestOrCreate(ctx, f.entity.ID)
		require.NoError(t, err)
		require.Equal(t, 1, f.registry.issueCount())
		require.Equal(t, 1, f.certs.writes())
		require.True(t, cert.Usable(time.Now()))
		require.NotEmpty(t, cert.PrivateKeyPEM)
		require.NotEmpty(t, cert.RemoteID())

		issued, err := pki.ParseCertificatePEM(cert.CertificatePEM)
		require.NoError(t, err)
		uid, err := pki.ExtractMRN(issued)
		require.NoError(t, err)
		require.Equal(t, f.entity.MRN, uid)
		require.Equal(t, "test_aton", issued.Subject.CommonName)
	})

	t.Run("returns usable latest certificate", func(t *testing.T) {
		f := newFixture(t)
		existing := f.seed(t, now.Add(-time.Hour), now.Add(time.Hour), false)

		cert, err := f.manager.GetLatestOrCreate(ctx, f.entity.ID)
		require.NoError(t, err)
		require.Equal(t, existing.ID, cert.ID)
		require.Zero(t, f.registry.issueCount())
		require.Zero(t, f.certs.writes())
	})

	tests := []struct {
		name       string
		start, end time.Time
		revoked    bool
	}{
		{name: "revoked", start: now.Add(-time.Hour), end: now.Add(time.Hour), revoked: true},
		{name: "expired", start: now.Add(-2 * time.Hour), end: now.Add(-time.Hour)},
		{name: "not yet valid", start: now.Add(time.Hour), end: now.Add(2 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run("replaces "+tt.name+" certificate", func(t *testing.T) {
			f := newFixture(t)
			existing := f.seed(t, tt.start, tt.end, tt.revoked)

			cert, err := f.manager.GetLatestOrCreate(ctx, f.entity.ID)
			require.NoError(t, err)
			require.NotEqual(t, existing.ID, cert.ID)
			require.Equal(t, 1, f.registry.issueCount())
		})
	}

	t.Run("only the newest start date is considered", func(t *testing.T) {
		f := newFixture(t)
		older := f.seed(t, now.Add(-2*time.Hour), now.Add(time.Hour), false)
		newer := f.seed(t, now.Add(-time.Hour), now.Add(time.Hour), true)

		cert, err := f.manager.GetLatestOrCreate(ctx, f.entity.ID)
		require.NoError(t, err)
		require.NotEqual(t, older.ID, cert.ID)
		require.NotEqual(t, newer.ID, cert.ID)
		require.Equal(t, 1, f.registry.issueCount())
	})

	t.Run("concurrent callers share one issuance", func(t *testing.T) {
		f := newFixture(t)
		f.registry.delay = 20 * time.Millisecond

		const workers = 8
		ids := make([]uuid.UUID, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cert, err := f.manager.GetLatestOrCreate(ctx, f.entity.ID)
				if err == nil {
					ids[i] = cert.ID
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, f.registry.issueCount())
		for _, id := range ids {
			require.Equal(t, ids[0], id)
		}
	})

	t.Run("unknown entity", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.manager.GetLatestOrCreate(ctx, uuid.New())
		require.ErrorIs(t, err, errs.ErrDataNotFound)
		require.Zero(t, f.registry.issueCount())
	})
}

func TestManagerGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("registry failure is returned", func(t *testing.T) {
		f := newFixture(t)
		f.registry.issueErr = errs.ErrMcpConnectivity

		_, err := f.manager.Generate(ctx, f.entity.ID)
		require.ErrorIs(t, err, errs.ErrMcpConnectivity)
		require.Zero(t, f.certs.writes())
	})

	t.Run("storage failure after issuance", func(t *testing.T) {
		f := newFixture(t)
		f.certs.saveErr = errors.New("disk full")

		_, err := f.manager.Generate(ctx, f.entity.ID)
		require.ErrorIs(t, err, errs.ErrSavingFailed)
		require.Equal(t, 1, f.registry.issueCount())

		certs, err := f.manager.FindAllByEntityID(ctx, f.entity.ID)
		require.NoError(t, err)
		require.Empty(t, certs)
	})

	t.Run("unsupported curve", func(t *testing.T) {
		f := newFixture(t)
		f.manager.cfg.Curve = "brainpoolP999"

		_, err := f.manager.Generate(ctx, f.entity.ID)
		require.ErrorIs(t, err, pki.ErrUnsupportedCurve)
		require.Zero(t, f.registry.issueCount())
	})
}

func TestManagerRevoke(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("registry failure leaves certificate untouched", func(t *testing.T) {
		f := newFixture(t)
		cert := f.seed(t, now.Add(-time.Hour), now.Add(time.Hour), false)
		f.registry.revokeErr = errs.ErrInvalidRequest

		_, err := f.manager.Revoke(ctx, cert.ID)
		require.ErrorIs(t, err, errs.ErrInvalidRequest)
		require.Zero(t, f.certs.writes())

		stored, err := f.certs.Get(ctx, cert.ID)
		require.NoError(t, err)
		require.False(t, stored.Revoked)
	})

	t.Run("marks certificate revoked", func(t *testing.T) {
		f := newFixture(t)
		cert := f.seed(t, now.Add(-time.Hour), now.Add(time.Hour), false)

		got, err := f.manager.Revoke(ctx, cert.ID)
		require.NoError(t, err)
		require.True(t, got.Revoked)
		require.Equal(t, 1, f.certs.writes())
		require.Equal(t, []string{cert.RemoteID()}, f.registry.revoked)

		stored, err := f.certs.Get(ctx, cert.ID)
		require.NoError(t, err)
		require.True(t, stored.Revoked)
	})

	t.Run("already revoked", func(t *testing.T) {
		f := newFixture(t)
		cert := f.seed(t, now.Add(-time.Hour), now.Add(time.Hour), true)

		got, err := f.manager.Revoke(ctx, cert.ID)
		require.NoError(t, err)
		require.True(t, got.Revoked)
		require.Empty(t, f.registry.revoked)
		require.Zero(t, f.certs.writes())
	})

	t.Run("unknown certificate", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.manager.Revoke(ctx, uuid.New())
		require.ErrorIs(t, err, errs.ErrDataNotFound)
	})
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cert := f.seed(t, time.Now(), time.Now().Add(time.Hour), false)

	require.NoError(t, f.manager.Delete(ctx, cert.ID))
	require.ErrorIs(t, f.manager.Delete(ctx, cert.ID), errs.ErrDataNotFound)
	require.Empty(t, f.registry.revoked)
}

func TestManagerSyncWithRegistry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("revokes and imports differences", func(t *testing.T) {
		f := newFixture(t)

		// known locally, gone remotely
		stale := f.seed(t, now.Add(-time.Hour), now.Add(time.Hour), false)

		// known remotely only
		remote, err := f.manager.Generate(ctx, f.entity.ID)
		require.NoError(t, err)
		require.NoError(t, f.certs.CertificateStore.Delete(ctx, remote.ID))
		f.certs.reset()

		result, err := f.manager.SyncWithRegistry(ctx, f.entity.ID)
		require.NoError(t, err)
		require.Equal(t, SyncResult{Revoked: 1, Imported: 1}, result)
		require.Equal(t, 2, f.certs.writes())

		stored, err := f.certs.Get(ctx, stale.ID)
		require.NoError(t, err)
		require.True(t, stored.Revoked)

		certs, err := f.manager.FindAllByEntityID(ctx, f.entity.ID)
		require.NoError(t, err)
		require.Len(t, certs, 2)

		var imported *models.Certificate
		for _, c := range certs {
			if c.ID != stale.ID {
				imported = c
			}
		}
		require.NotNil(t, imported)
		require.Empty(t, imported.PrivateKeyPEM)
		require.Equal(t, remote.CertificatePEM, imported.CertificatePEM)
		require.True(t, remote.StartDate.Equal(imported.StartDate))
		require.False(t, imported.Revoked)
		require.Equal(t, remote.RemoteID(), imported.RemoteID())

		revoked, err := f.manager.Revoke(ctx, imported.ID)
		require.NoError(t, err)
		require.True(t, revoked.Revoked)
		require.Equal(t, []string{remote.RemoteID()}, f.registry.revoked)
	})

	t.Run("skips certificates issued to another MRN", func(t *testing.T) {
		f := newFixture(t)

		kp, err := pki.GenerateKeyPair(pki.DefaultCurve)
		require.NoError(t, err)
		csr, err := pki.GenerateCSR(kp, "CN=intruder", pki.DefaultSignatureAlgorithm)
		require.NoError(t, err)
		_, _, err = f.registry.IssueEntityCertificate(ctx, registry.KindDevice, "urn:mrn:mcp:device:mcc:grad:intruder", "", csr)
		require.NoError(t, err)
		f.certs.reset()

		result, err := f.manager.SyncWithRegistry(ctx, f.entity.ID)
		require.NoError(t, err)
		require.Equal(t, SyncResult{}, result)
		require.Zero(t, f.certs.writes())
	})

	t.Run("in sync writes nothing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Generate(ctx, f.entity.ID)
		require.NoError(t, err)
		f.certs.reset()

		result, err := f.manager.SyncWithRegistry(ctx, f.entity.ID)
		require.NoError(t, err)
		require.Equal(t, SyncResult{}, result)
		require.Zero(t, f.certs.writes())
	})

	t.Run("second sync is a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, now.Add(-time.Hour), now.Add(time.Hour), false)

		_, err := f.manager.SyncWithRegistry(ctx, f.entity.ID)
		require.NoError(t, err)
		f.certs.reset()

		result, err := f.manager.SyncWithRegistry(ctx, f.entity.ID)
		require.NoError(t, err)
		require.Equal(t, SyncResult{}, result)
		require.Zero(t, f.certs.writes())
	})
}

func TestManagerSignAndVerify(t *testing.T) {
	ctx := context.Background()
	payload := []byte("ATON 123456789 position report")

	f := newFixture(t)
	cert, err := f.manager.Generate(ctx, f.entity.ID)
	require.NoError(t, err)
	other, err := f.manager.Generate(ctx, f.entity.ID)
	require.NoError(t, err)

	sig, err := f.manager.SignContent(ctx, cert.ID, "", payload)
	require.NoError(t, err)

	t.Run("valid signature", func(t *testing.T) {
		ok, err := f.manager.VerifyContent(ctx, cert.ID, pki.DefaultSignatureAlgorithm, payload, sig)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("tampered content", func(t *testing.T) {
		ok, err := f.manager.VerifyContent(ctx, cert.ID, "", []byte("tampered"), sig)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("different certificate", func(t *testing.T) {
		ok, err := f.manager.VerifyContent(ctx, other.ID, "", payload, sig)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("garbage signature", func(t *testing.T) {
		ok, err := f.manager.VerifyContent(ctx, cert.ID, "", payload, []byte{0x01, 0x02})
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		_, err := f.manager.SignContent(ctx, cert.ID, "MD5withRSA", payload)
		require.ErrorIs(t, err, pki.ErrUnsupportedAlgorithm)
	})

	t.Run("unknown certificate", func(t *testing.T) {
		_, err := f.manager.SignContent(ctx, uuid.New(), "", payload)
		require.ErrorIs(t, err, errs.ErrDataNotFound)

		_, err = f.manager.VerifyContent(ctx, uuid.New(), "", payload, sig)
		require.ErrorIs(t, err, errs.ErrDataNotFound)
	})
}

func TestManagerGetTrustedCertificate(t *testing.T) {
	f := newFixture(t)

	cert, err := f.manager.GetTrustedCertificate("mcp-root")
	require.NoError(t, err)
	require.Equal(t, "Test Registry CA", cert.Subject.CommonName)

	_, err = f.manager.GetTrustedCertificate("missing")
	require.ErrorIs(t, err, errs.ErrDataNotFound)

	bare := NewManager(Config{}, f.entities, f.certs, f.registry, nil)
	_, err = bare.GetTrustedCertificate("mcp-root")
	require.ErrorIs(t, err, errs.ErrDataNotFound)
}
