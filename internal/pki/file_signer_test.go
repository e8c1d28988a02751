package pki

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueFromCSR(t *testing.T) {
	ca, err := NewEphemeralCA("Test MIR CA", "", 24*time.Hour)
	require.NoError(t, err)

	kp, err := GenerateKeyPair("")
	require.NoError(t, err)

	csr, err := GenerateCSR(kp, "CN=aton, O=grad", "")
	require.NoError(t, err)

	start := time.Now().Add(-time.Minute)
	cert, err := IssueFromCSR(ca, csr, "urn:mrn:mcp:device:mcc:grad:aton", start, start.Add(time.Hour))
	require.NoError(t, err)

	caCert, err := ca.GetCACertificate()
	require.NoError(t, err)
	require.NoError(t, cert.CheckSignatureFrom(caCert))
	require.Equal(t, "aton", cert.Subject.CommonName)

	mrn, err := ExtractMRN(cert)
	require.NoError(t, err)
	require.Equal(t, "urn:mrn:mcp:device:mcc:grad:aton", mrn)
}

func TestNewFileSigner(t *testing.T) {
	ca, err := NewEphemeralCA("File CA", "", time.Hour)
	require.NoError(t, err)

	caCert, err := ca.GetCACertificate()
	require.NoError(t, err)
	keyPEM, err := EncodePrivateKeyPEM(ca.CAKey())
	require.NoError(t, err)

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "ca-key.pem")
	certPath := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte(keyPEM), 0600))
	require.NoError(t, os.WriteFile(certPath, []byte(EncodeCertificatePEM(caCert)), 0600))

	t.Run("matching pair", func(t *testing.T) {
		signer, err := NewFileSigner(keyPath, certPath)
		require.NoError(t, err)
		got, err := signer.GetCACertificate()
		require.NoError(t, err)
		require.Equal(t, caCert.Raw, got.Raw)
	})

	t.Run("mismatched pair", func(t *testing.T) {
		other, err := GenerateKeyPair("")
		require.NoError(t, err)
		otherPEM, err := EncodePrivateKeyPEM(other.Private)
		require.NoError(t, err)

		_, err = NewFileSignerFromPEM(otherPEM, EncodeCertificatePEM(caCert))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileSigner(filepath.Join(dir, "nope.pem"), certPath)
		require.Error(t, err)
	})
}
