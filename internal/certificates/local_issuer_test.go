package certificates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/mcpcerts/internal/errs"
	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/pki"
	"github.com/wolfeidau/mcpcerts/internal/registry"
	"github.com/wolfeidau/mcpcerts/internal/store/memory"
)

func TestLocalIssuer(t *testing.T) {
	ctx := context.Background()

	ca, err := pki.NewEphemeralCA("Local CA", pki.DefaultCurve, time.Hour)
	require.NoError(t, err)

	certs := memory.NewCertificateStore()
	entities := memory.NewEntityStore(certs)

	version := "1.0"
	entity, err := models.NewEntity("weather", "urn:mrn:mcp:service:mcc:grad:instance:weather", models.EntityTypeService, nil, &version)
	require.NoError(t, err)
	require.NoError(t, entities.Save(ctx, entity))

	issuer := NewLocalIssuer(ca, entities, certs, 24*time.Hour)
	m := NewManager(Config{Organisation: "grad"}, entities, certs, issuer, nil)

	cert, err := m.GetLatestOrCreate(ctx, entity.ID)
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, cert.EndDate.Sub(cert.StartDate))

	serial, err := cert.SerialNumber()
	require.NoError(t, err)
	require.Equal(t, serial, cert.RemoteID())

	t.Run("sync changes nothing", func(t *testing.T) {
		result, err := m.SyncWithRegistry(ctx, entity.ID)
		require.NoError(t, err)
		require.Equal(t, SyncResult{}, result)
	})

	t.Run("revoke", func(t *testing.T) {
		got, err := m.Revoke(ctx, cert.ID)
		require.NoError(t, err)
		require.True(t, got.Revoked)

		remote, err := issuer.GetEntityCertificates(ctx, registry.KindService, entity.MRN, version)
		require.NoError(t, err)
		require.Empty(t, remote)
	})

	t.Run("missing version", func(t *testing.T) {
		kp, err := pki.GenerateKeyPair(pki.DefaultCurve)
		require.NoError(t, err)
		csr, err := pki.GenerateCSR(kp, "CN=weather", pki.DefaultSignatureAlgorithm)
		require.NoError(t, err)

		_, _, err = issuer.IssueEntityCertificate(ctx, registry.KindService, entity.MRN, "", csr)
		require.ErrorIs(t, err, errs.ErrInvalidRequest)
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := issuer.GetEntityCertificates(ctx, registry.KindDevice, "urn:mrn:mcp:device:mcc:grad:nobody", "")
		require.ErrorIs(t, err, errs.ErrDataNotFound)
	})
}
