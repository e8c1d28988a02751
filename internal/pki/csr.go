package pki

import (
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"
)

// GenerateCSR builds a PKCS#10 request for subjectDN signed with the key pair's
// private key. A blank algorithm selects DefaultSignatureAlgorithm.
func GenerateCSR(kp *KeyPair, subjectDN string, algorithm string) (*x509.CertificateRequest, error) {
	alg, err := LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	subject, err := ParseDN(subjectDN)
	if err != nil {
		return nil, err
	}

	template := &x509.CertificateRequest{
		Subject:            subject,
		SignatureAlgorithm: alg.X509,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, kp.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSR: %w", err)
	}

	return x509.ParseCertificateRequest(der)
}

// GenerateSelfSignedCertificate builds a self-signed X.509v3 certificate valid
// from start to end. It backs tests and local fallback paths; registry-trusted
// identities are always issued by the registry.
func GenerateSelfSignedCertificate(kp *KeyPair, subjectDN string, start, end time.Time, algorithm string) (*x509.Certificate, error) {
	alg, err := LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	subject, err := ParseDN(subjectDN)
	if err != nil {
		return nil, err
	}

	serialNumber, err := NewSerialNumber()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               subject,
		NotBefore:             start,
		NotAfter:              end,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		SignatureAlgorithm:    alg.X509,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, kp.Public, kp.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to create self-signed certificate: %w", err)
	}

	return x509.ParseCertificate(der)
}

// NewSerialNumber returns a random positive serial number below 2^159.
func NewSerialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 159)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return n.Add(n, big.NewInt(1)), nil
}
