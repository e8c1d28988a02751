package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"os"
	"time"
)

// FileSigner implements CASigner using a CA private key held in memory,
// loaded from PEM files or generated on the fly.
// This is intended for local development and tests only.
type FileSigner struct {
	caKey  crypto.Signer
	caCert *x509.Certificate
}

// NewFileSigner creates a FileSigner from PEM-encoded key and certificate files.
func NewFileSigner(caKeyPath, caCertPath string) (*FileSigner, error) {
	keyData, err := os.ReadFile(caKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key file: %w", err)
	}

	certData, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert file: %w", err)
	}

	return NewFileSignerFromPEM(string(keyData), string(certData))
}

// NewFileSignerFromPEM creates a FileSigner from PEM-encoded key and certificate data.
func NewFileSignerFromPEM(keyPEM, certPEM string) (*FileSigner, error) {
	caKey, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA private key: %w", err)
	}

	caCert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	if err := verifyCertKeyPair(caCert, caKey); err != nil {
		return nil, fmt.Errorf("CA key and certificate do not match: %w", err)
	}

	return &FileSigner{
		caKey:  caKey,
		caCert: caCert,
	}, nil
}

// NewEphemeralCA generates a self-signed CA on the given curve.
func NewEphemeralCA(commonName, curve string, validity time.Duration) (*FileSigner, error) {
	kp, err := GenerateKeyPair(curve)
	if err != nil {
		return nil, err
	}

	serialNumber, err := NewSerialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, kp.Public, kp.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &FileSigner{caKey: kp.Private, caCert: caCert}, nil
}

// SignCertificate signs a certificate template using the CA private key.
// Returns DER-encoded certificate bytes.
func (s *FileSigner) SignCertificate(template *x509.Certificate) ([]byte, error) {
	return x509.CreateCertificate(rand.Reader, template, s.caCert, template.PublicKey, s.caKey)
}

// GetCACertificate returns the CA certificate.
func (s *FileSigner) GetCACertificate() (*x509.Certificate, error) {
	return s.caCert, nil
}

// CAKey returns the CA private key.
func (s *FileSigner) CAKey() crypto.Signer {
	return s.caKey
}

// IssueFromCSR signs a client certificate for the request's public key. The
// issued subject is the CSR subject with uid appended when it is not empty.
func IssueFromCSR(signer CASigner, csr *x509.CertificateRequest, uid string, start, end time.Time) (*x509.Certificate, error) {
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("invalid CSR signature: %w", err)
	}

	serialNumber, err := NewSerialNumber()
	if err != nil {
		return nil, err
	}

	subject := csr.Subject
	subject.ExtraNames = nil
	for _, atv := range csr.Subject.Names {
		if isStandardAttribute(atv.Type.String()) || (uid != "" && atv.Type.Equal(OIDUserID)) {
			continue
		}
		subject.ExtraNames = append(subject.ExtraNames, atv)
	}
	if uid != "" {
		subject.ExtraNames = append(subject.ExtraNames, pkix.AttributeTypeAndValue{Type: OIDUserID, Value: uid})
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      subject,
		NotBefore:    start,
		NotAfter:     end,
		PublicKey:    csr.PublicKey,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	der, err := signer.SignCertificate(template)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}

	return x509.ParseCertificate(der)
}

// isStandardAttribute reports whether pkix.Name already models the attribute
// through one of its typed fields.
func isStandardAttribute(oid string) bool {
	switch oid {
	case OIDCommonName.String(), OIDSerialNumber.String(), OIDCountry.String(),
		OIDLocality.String(), OIDProvince.String(), OIDStreetAddress.String(),
		OIDOrganization.String(), OIDOrganizationalUnit.String(), OIDPostalCode.String():
		return true
	}
	return false
}

// verifyCertKeyPair checks that a certificate's public key matches a private key
func verifyCertKeyPair(cert *x509.Certificate, key crypto.Signer) error {
	certPubKey, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("unsupported certificate public key type %T", cert.PublicKey)
	}

	if !certPubKey.Equal(key.Public()) {
		return fmt.Errorf("public keys do not match")
	}

	return nil
}
