package pki

import (
	"crypto/x509"
)

// CASigner signs certificate templates. FileSigner is the only implementation;
// it backs the development registry and tests.
type CASigner interface {
	// SignCertificate signs a fully populated template and returns the DER-encoded certificate.
	SignCertificate(template *x509.Certificate) ([]byte, error)

	// GetCACertificate returns the CA certificate used as issuer.
	GetCACertificate() (*x509.Certificate, error)
}
