package pki

import (
	"crypto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizePEM(t *testing.T) {
	require.Equal(t, "a\nb\nc", NormalizePEM(`a\nb\nc`))
	require.Equal(t, "already\nfine", NormalizePEM("already\nfine"))
}

func TestParsePEMWithEscapedNewlines(t *testing.T) {
	kp, err := GenerateKeyPair("")
	require.NoError(t, err)

	now := time.Now()
	cert, err := GenerateSelfSignedCertificate(kp, "CN=escaped", now, now.Add(time.Hour), "")
	require.NoError(t, err)

	escape := func(s string) string { return strings.ReplaceAll(s, "\n", `\n`) }

	t.Run("certificate", func(t *testing.T) {
		parsed, err := ParseCertificatePEM(escape(EncodeCertificatePEM(cert)))
		require.NoError(t, err)
		require.Equal(t, cert.SerialNumber, parsed.SerialNumber)
	})

	t.Run("public key", func(t *testing.T) {
		pubPEM, err := EncodePublicKeyPEM(kp.Public)
		require.NoError(t, err)

		pub, err := ParsePublicKeyPEM(escape(pubPEM))
		require.NoError(t, err)
		require.True(t, kp.Public.(interface{ Equal(crypto.PublicKey) bool }).Equal(pub))
	})

	t.Run("private key", func(t *testing.T) {
		privPEM, err := EncodePrivateKeyPEM(kp.Private)
		require.NoError(t, err)

		priv, err := ParsePrivateKeyPEM(escape(privPEM))
		require.NoError(t, err)
		require.True(t, kp.Private.(interface{ Equal(crypto.PrivateKey) bool }).Equal(priv))
	})

	t.Run("public key from certificate block", func(t *testing.T) {
		pub, err := ParsePublicKeyPEM(EncodeCertificatePEM(cert))
		require.NoError(t, err)
		require.True(t, kp.Public.(interface{ Equal(crypto.PublicKey) bool }).Equal(pub))
	})
}

func TestParsePEMErrors(t *testing.T) {
	_, err := ParseCertificatePEM("not pem")
	require.ErrorIs(t, err, ErrInvalidPEM)

	_, err = ParsePrivateKeyPEM("")
	require.ErrorIs(t, err, ErrInvalidPEM)

	_, err = ParsePublicKeyPEM("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n")
	require.Error(t, err)
}
