package signing_test

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/mcpcerts/internal/certificates"
	"github.com/wolfeidau/mcpcerts/internal/errs"
	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/registry"
	"github.com/wolfeidau/mcpcerts/internal/registry/registrytest"
	"github.com/wolfeidau/mcpcerts/internal/signing"
	"github.com/wolfeidau/mcpcerts/internal/store/memory"
)

type harness struct {
	facade   *signing.Facade
	srv      *registrytest.Server
	entities *memory.EntityStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv := registrytest.NewServer(t, "grad")
	trust := srv.Truststore(t)

	httpClient, err := registry.NewHTTPClient(registry.Config{}, srv.ClientIdentity(t), trust)
	require.NoError(t, err)
	client, err := registry.NewClient(httpClient, srv.Naming)
	require.NoError(t, err)

	certs := memory.NewCertificateStore()
	entities := memory.NewEntityStore(certs)

	manager := certificates.NewManager(certificates.Config{Organisation: "grad"}, entities, certs, client, trust)
	facade := signing.NewFacade(signing.Config{TrustAnchorAlias: registrytest.RootAlias}, entities, manager, srv.Naming, client)

	return &harness{facade: facade, srv: srv, entities: entities}
}

func TestFacadeEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mmsi := "123456789"
	payload := []byte("AtoN 123456789 status message")

	sc, err := h.facade.GetSignatureCertificate(ctx, "test_aton", &mmsi, nil, models.EntityTypeDevice)
	require.NoError(t, err)
	require.NotEmpty(t, sc.CertificateID)
	require.Contains(t, sc.CertificatePEM, "BEGIN CERTIFICATE")
	require.Contains(t, sc.PublicKeyPEM, "BEGIN PUBLIC KEY")

	entity, err := h.entities.GetByName(ctx, "test_aton")
	require.NoError(t, err)
	require.Equal(t, "urn:mrn:mcp:device:mcc:grad:test_aton", entity.MRN)
	require.Equal(t, 1, h.srv.Calls(registrytest.OpCreate))
	require.Equal(t, 1, h.srv.Calls(registrytest.OpIssue))

	t.Run("root certificate is the registry CA", func(t *testing.T) {
		der, err := base64.StdEncoding.DecodeString(sc.RootCertificateBase64)
		require.NoError(t, err)
		root, err := x509.ParseCertificate(der)
		require.NoError(t, err)

		caCert, err := h.srv.CA.GetCACertificate()
		require.NoError(t, err)
		require.True(t, caCert.Equal(root))
	})

	t.Run("second call reuses the certificate", func(t *testing.T) {
		again, err := h.facade.GetSignatureCertificate(ctx, "test_aton", &mmsi, nil, models.EntityTypeDevice)
		require.NoError(t, err)
		require.Equal(t, sc.CertificateID, again.CertificateID)
		require.Equal(t, 1, h.srv.Calls(registrytest.OpCreate))
		require.Equal(t, 1, h.srv.Calls(registrytest.OpIssue))
	})

	certID, err := uuid.Parse(sc.CertificateID)
	require.NoError(t, err)

	sig, err := h.facade.GenerateEntitySignature(ctx, certID, "SHA256withECDSA", payload)
	require.NoError(t, err)

	t.Run("verify by MRN", func(t *testing.T) {
		ok, err := h.facade.VerifyEntitySignatureByMRN(ctx, entity.MRN, "SHA256withECDSA", payload, sig)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = h.facade.VerifyEntitySignatureByMRN(ctx, entity.MRN, "SHA256withECDSA", []byte("forged"), sig)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("verify by MMSI", func(t *testing.T) {
		ok, err := h.facade.VerifyEntitySignatureByMMSI(ctx, mmsi, "", payload, sig)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("unknown entities", func(t *testing.T) {
		_, err := h.facade.VerifyEntitySignatureByMRN(ctx, "urn:mrn:mcp:device:mcc:grad:nobody", "", payload, sig)
		require.ErrorIs(t, err, errs.ErrDataNotFound)

		_, err = h.facade.VerifyEntitySignatureByMMSI(ctx, "000000000", "", payload, sig)
		require.ErrorIs(t, err, errs.ErrDataNotFound)
	})

	t.Run("signing failures are invalid requests", func(t *testing.T) {
		_, err := h.facade.GenerateEntitySignature(ctx, certID, "SHA256withRSA", payload)
		require.ErrorIs(t, err, errs.ErrInvalidRequest)

		_, err = h.facade.GenerateEntitySignature(ctx, uuid.New(), "", payload)
		require.ErrorIs(t, err, errs.ErrInvalidRequest)
	})
}

func TestFacadeServiceEntity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	t.Run("version required", func(t *testing.T) {
		_, err := h.facade.GetSignatureCertificate(ctx, "Weather Service", nil, nil, models.EntityTypeService)
		require.ErrorIs(t, err, errs.ErrInvalidRequest)
		require.Zero(t, h.srv.Calls(registrytest.OpCreate))
	})

	t.Run("versioned", func(t *testing.T) {
		version := "1.0.0"
		sc, err := h.facade.GetSignatureCertificate(ctx, "Weather Service", nil, &version, models.EntityTypeService)
		require.NoError(t, err)
		require.NotEmpty(t, sc.CertificateID)

		entity, err := h.entities.GetByName(ctx, "Weather Service")
		require.NoError(t, err)
		require.Equal(t, "urn:mrn:mcp:service:mcc:grad:instance:weather-service", entity.MRN)
	})
}

func TestFacadeRegistryUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.srv.Close()

	_, err := h.facade.GetSignatureCertificate(ctx, "test_aton", nil, nil, models.EntityTypeDevice)
	require.ErrorIs(t, err, errs.ErrMcpConnectivity)

	_, err = h.entities.GetByName(ctx, "test_aton")
	require.Error(t, err)
}

func TestFacadeAdoptsRegisteredEntity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mmsi := "123456789"
	h.srv.Put("device", "urn:mrn:mcp:device:mcc:grad:test_aton", "", map[string]any{"name": "test_aton"})

	sc, err := h.facade.GetSignatureCertificate(ctx, "test_aton", &mmsi, nil, models.EntityTypeDevice)
	require.NoError(t, err)
	require.NotEmpty(t, sc.CertificateID)
	require.Zero(t, h.srv.Calls(registrytest.OpCreate))
	require.Equal(t, 1, h.srv.Calls(registrytest.OpIssue))

	entity, err := h.entities.GetByName(ctx, "test_aton")
	require.NoError(t, err)
	require.Equal(t, "urn:mrn:mcp:device:mcc:grad:test_aton", entity.MRN)
}

type stubLifecycle struct {
	signErr error
}

func (s *stubLifecycle) GetLatestOrCreate(context.Context, uuid.UUID) (*models.Certificate, error) {
	return nil, errors.New("not used")
}

func (s *stubLifecycle) SignContent(context.Context, uuid.UUID, string, []byte) ([]byte, error) {
	return nil, s.signErr
}

func (s *stubLifecycle) VerifyContent(context.Context, uuid.UUID, string, []byte, []byte) (bool, error) {
	return false, nil
}

func (s *stubLifecycle) GetTrustedCertificate(string) (*x509.Certificate, error) {
	return nil, errs.ErrDataNotFound
}

func TestFacadeGenerateEntitySignatureWrapsErrors(t *testing.T) {
	lc := &stubLifecycle{signErr: errors.New("asn1: structure error")}
	f := signing.NewFacade(signing.Config{}, memory.NewEntityStore(memory.NewCertificateStore()), lc, nil, nil)

	_, err := f.GenerateEntitySignature(context.Background(), uuid.New(), "", []byte("x"))
	require.ErrorIs(t, err, errs.ErrInvalidRequest)
	require.ErrorContains(t, err, "asn1: structure error")
}
