package pki

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const (
	PEMTypeCertificate        = "CERTIFICATE"
	PEMTypeCertificateRequest = "CERTIFICATE REQUEST"
	PEMTypePublicKey          = "PUBLIC KEY"
	PEMTypePrivateKey         = "PRIVATE KEY"
	pemTypeECPrivateKey       = "EC PRIVATE KEY"
	pemTypeRSAPrivateKey      = "RSA PRIVATE KEY"
)

// ErrInvalidPEM is returned when no PEM block can be decoded.
var ErrInvalidPEM = errors.New("invalid PEM data")

// NormalizePEM replaces literal `\n` sequences with real newlines. The identity
// registry emits PEM bodies escaped this way.
func NormalizePEM(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

func decodePEM(data string) (*pem.Block, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(NormalizePEM(data))))
	if block == nil {
		return nil, ErrInvalidPEM
	}
	return block, nil
}

// EncodeCertificatePEM encodes a certificate as a CERTIFICATE block.
func EncodeCertificatePEM(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificate, Bytes: cert.Raw}))
}

// EncodeCSRPEM encodes a certificate request as a CERTIFICATE REQUEST block.
func EncodeCSRPEM(csr *x509.CertificateRequest) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificateRequest, Bytes: csr.Raw}))
}

// EncodePublicKeyPEM encodes a public key as a PKIX PUBLIC KEY block.
func EncodePublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypePublicKey, Bytes: der})), nil
}

// EncodePrivateKeyPEM encodes a private key as an unencrypted PKCS#8 PRIVATE KEY block.
func EncodePrivateKeyPEM(key crypto.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypePrivateKey, Bytes: der})), nil
}

// ParseCertificatePEM parses the first certificate in data.
func ParseCertificatePEM(data string) (*x509.Certificate, error) {
	block, err := decodePEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate PEM: %w", err)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// ParseCSRPEM parses a PKCS#10 certificate request and checks its signature.
func ParseCSRPEM(data string) (*x509.CertificateRequest, error) {
	block, err := decodePEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode CSR PEM: %w", err)
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("invalid CSR signature: %w", err)
	}
	return csr, nil
}

// ParsePublicKeyPEM parses a PKIX public key. A CERTIFICATE block is also
// accepted, in which case the certificate's key is returned.
func ParsePublicKeyPEM(data string) (crypto.PublicKey, error) {
	block, err := decodePEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key PEM: %w", err)
	}

	if block.Type == PEMTypeCertificate {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return cert.PublicKey, nil
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

// ParsePrivateKeyPEM parses a PKCS#8 private key. Legacy SEC 1 and PKCS#1
// blocks are accepted for keys imported from elsewhere.
func ParsePrivateKeyPEM(data string) (crypto.Signer, error) {
	block, err := decodePEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key PEM: %w", err)
	}

	var key any
	switch block.Type {
	case pemTypeECPrivateKey:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case pemTypeRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key of type %T cannot sign", key)
	}
	return signer, nil
}
