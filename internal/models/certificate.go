package models

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CertificateState is the derived lifecycle state of a certificate.
type CertificateState string

const (
	CertificateStatePending CertificateState = "PENDING"
	CertificateStateActive  CertificateState = "ACTIVE"
	CertificateStateExpired CertificateState = "EXPIRED"
	CertificateStateRevoked CertificateState = "REVOKED"
)

// Certificate is a locally cached certificate together with its key material.
// Only Revoked ever changes after creation, and only from false to true.
type Certificate struct {
	ID             uuid.UUID
	EntityID       uuid.UUID
	RemoteCertID   *string // Identifier assigned by the identity registry
	CertificatePEM string
	PublicKeyPEM   string
	PrivateKeyPEM  string // PKCS#8, never sent to the registry
	StartDate      time.Time
	EndDate        time.Time
	Revoked        bool
}

// NewCertificateID returns a fresh UUIDv7 for a certificate record.
func NewCertificateID() (uuid.UUID, error) {
	return uuid.NewV7()
}

// Usable reports whether the certificate is not revoked and now falls within [StartDate, EndDate).
func (c *Certificate) Usable(now time.Time) bool {
	return c.State(now) == CertificateStateActive
}

// State derives the lifecycle state at the given instant.
func (c *Certificate) State(now time.Time) CertificateState {
	switch {
	case c.Revoked:
		return CertificateStateRevoked
	case now.Before(c.StartDate):
		return CertificateStatePending
	case !now.Before(c.EndDate):
		return CertificateStateExpired
	default:
		return CertificateStateActive
	}
}

// SerialNumber returns the lower-case hex serial number of the certificate PEM.
func (c *Certificate) SerialNumber() (string, error) {
	data := strings.ReplaceAll(c.CertificatePEM, `\n`, "\n")
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return "", errors.New("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert.SerialNumber.Text(16), nil
}

// RemoteID returns the registry identifier or an empty string.
func (c *Certificate) RemoteID() string {
	if c.RemoteCertID == nil {
		return ""
	}
	return *c.RemoteCertID
}
