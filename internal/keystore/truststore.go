package keystore

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/mcpcerts/internal/pki"
)

// AliasHeader is the PEM header naming a truststore entry.
const AliasHeader = "Alias"

var ErrAliasNotFound = errors.New("truststore alias not found")

// Truststore is an aliased set of trusted certificates.
type Truststore struct {
	certs map[string]*x509.Certificate
}

// LoadTruststore reads a PEM bundle from src.
func (l *Loader) LoadTruststore(ctx context.Context, src Source) (*Truststore, error) {
	data, err := l.read(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to load truststore: %w", err)
	}
	return ParseTruststore(data)
}

// ParseTruststore parses every CERTIFICATE block in data. Entries are keyed
// by their Alias header, falling back to the lower-cased subject common name.
func ParseTruststore(data []byte) (*Truststore, error) {
	ts := &Truststore{certs: make(map[string]*x509.Certificate)}

	rest := []byte(pki.NormalizePEM(string(data)))
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pki.PEMTypeCertificate {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse truststore certificate: %w", err)
		}

		alias := strings.ToLower(strings.TrimSpace(block.Headers[AliasHeader]))
		if alias == "" {
			alias = strings.ToLower(cert.Subject.CommonName)
		}
		if alias == "" {
			alias = cert.SerialNumber.Text(16)
		}

		if _, dup := ts.certs[alias]; dup {
			log.Warn().Str("alias", alias).Msg("duplicate truststore alias, keeping first entry")
			continue
		}
		ts.certs[alias] = cert
	}

	if len(ts.certs) == 0 {
		return nil, fmt.Errorf("%w: truststore contains no certificates", pki.ErrInvalidPEM)
	}

	return ts, nil
}

// Add registers cert under alias, replacing any existing entry.
func (t *Truststore) Add(alias string, cert *x509.Certificate) {
	if t.certs == nil {
		t.certs = make(map[string]*x509.Certificate)
	}
	t.certs[strings.ToLower(alias)] = cert
}

// Certificate returns the certificate registered under alias. A nil
// Truststore holds no entries.
func (t *Truststore) Certificate(alias string) (*x509.Certificate, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
	cert, ok := t.certs[strings.ToLower(alias)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
	return cert, nil
}

// Aliases returns the sorted entry names.
func (t *Truststore) Aliases() []string {
	if t == nil {
		return nil
	}
	aliases := make([]string, 0, len(t.certs))
	for alias := range t.certs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Pool returns a CertPool holding every entry.
func (t *Truststore) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	if t == nil {
		return pool
	}
	for _, cert := range t.certs {
		pool.AddCert(cert)
	}
	return pool
}

// EncodeEntry renders cert as a PEM block carrying the alias header.
func EncodeEntry(alias string, cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:    pki.PEMTypeCertificate,
		Headers: map[string]string{AliasHeader: alias},
		Bytes:   cert.Raw,
	}))
}
