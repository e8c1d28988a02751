package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
	"github.com/wolfeidau/mcpcerts/internal/pki"
)

func TestPayloadFlags(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		got, err := PayloadFlags{Payload: "hello"}.read()
		require.NoError(t, err)
		require.Equal(t, []byte("hello"), got)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "payload.bin")
		require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01}, 0o600))

		got, err := PayloadFlags{File: path}.read()
		require.NoError(t, err)
		require.Equal(t, []byte{0x00, 0x01}, got)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := PayloadFlags{}.read()
		require.Error(t, err)
	})
}

func TestOptional(t *testing.T) {
	require.Nil(t, optional(""))
	require.Equal(t, "1.0", *optional("1.0"))
}

func TestEntityMRN(t *testing.T) {
	naming := mrn.New("grad", "registry.example")

	require.Equal(t, "urn:mrn:mcp:device:mcc:grad:aton-1", entityMRN(naming, models.EntityTypeDevice, "ATON 1", "Test AtoN"))
	require.Equal(t, "urn:mrn:mcp:device:mcc:grad:test-aton", entityMRN(naming, models.EntityTypeDevice, "", "Test AtoN"))
	require.Equal(t, "urn:mrn:mcp:device:mcc:grad:null", entityMRN(naming, models.EntityTypeDevice, "", ""))
}

func TestNewCertificateView(t *testing.T) {
	kp, err := pki.GenerateKeyPair("")
	require.NoError(t, err)

	now := time.Now()
	issued, err := pki.GenerateSelfSignedCertificate(kp, "CN=test_aton, UID=urn:mrn:mcp:device:mcc:grad:test_aton", now.Add(-time.Minute), now.Add(time.Hour), "")
	require.NoError(t, err)

	id, err := models.NewCertificateID()
	require.NoError(t, err)
	remoteID := "42"
	cert := &models.Certificate{
		ID:             id,
		RemoteCertID:   &remoteID,
		CertificatePEM: pki.EncodeCertificatePEM(issued),
		StartDate:      issued.NotBefore,
		EndDate:        issued.NotAfter,
	}

	v := newCertificateView(cert, false)
	require.Equal(t, "42", v.RemoteCertID)
	require.Equal(t, issued.SerialNumber.Text(16), v.SerialNumber)
	require.Equal(t, "urn:mrn:mcp:device:mcc:grad:test_aton", v.SubjectMRN)
	require.Equal(t, string(models.CertificateStateActive), v.State)
	require.False(t, v.HasPrivateKey)
	require.Empty(t, v.CertificatePEM)

	require.NotEmpty(t, newCertificateView(cert, true).CertificatePEM)
}
