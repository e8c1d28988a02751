package keystore

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"

	"github.com/wolfeidau/mcpcerts/internal/pki"
)

const encryptedPrivateKeyType = "ENCRYPTED PRIVATE KEY"

var (
	ErrPasswordRequired = errors.New("keystore password required for encrypted private key")
	ErrKeyMismatch      = errors.New("private key does not match client certificate")
)

// IdentityConfig locates the client certificate chain and its private key.
type IdentityConfig struct {
	Certificate Source `yaml:"certificate"`
	PrivateKey  Source `yaml:"privateKey"`
	Password    string `yaml:"password"`
}

// Identity is the client certificate chain presented to the registry.
type Identity struct {
	Chain      []*x509.Certificate
	PrivateKey crypto.Signer
}

// LoadIdentity reads and parses the client identity.
func (l *Loader) LoadIdentity(ctx context.Context, cfg IdentityConfig) (*Identity, error) {
	certPEM, err := l.read(ctx, cfg.Certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	keyPEM, err := l.read(ctx, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client key: %w", err)
	}

	return ParseIdentity(certPEM, keyPEM, cfg.Password)
}

// ParseIdentity parses a PEM certificate chain and a PKCS#8 private key,
// decrypting the key with password when it is an ENCRYPTED PRIVATE KEY block.
func ParseIdentity(certPEM, keyPEM []byte, password string) (*Identity, error) {
	var chain []*x509.Certificate
	rest := []byte(pki.NormalizePEM(string(certPEM)))
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
			return nil, fmt.Errorf("failed to parse client certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no client certificate found", pki.ErrInvalidPEM)
	}

	key, err := parsePrivateKey(keyPEM, password)
	if err != nil {
		return nil, err
	}

	pub, ok := chain[0].PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(key.Public()) {
		return nil, ErrKeyMismatch
	}

	return &Identity{Chain: chain, PrivateKey: key}, nil
}

func parsePrivateKey(keyPEM []byte, password string) (crypto.Signer, error) {
	normalized := pki.NormalizePEM(string(keyPEM))

	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, fmt.Errorf("%w: no private key found", pki.ErrInvalidPEM)
	}

	if block.Type != encryptedPrivateKeyType {
		return pki.ParsePrivateKeyPEM(normalized)
	}

	if password == "" {
		return nil, ErrPasswordRequired
	}

	key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt client key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported client key type %T", key)
	}
	return signer, nil
}

// EncryptPrivateKeyPEM wraps key as a password protected PKCS#8 PEM block.
func EncryptPrivateKeyPEM(key crypto.PrivateKey, password string) (string, error) {
	der, err := pkcs8.MarshalPrivateKey(key, []byte(password), nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: encryptedPrivateKeyType, Bytes: der})), nil
}

// TLSCertificate returns the identity in the form crypto/tls expects.
func (i *Identity) TLSCertificate() tls.Certificate {
	raw := make([][]byte, 0, len(i.Chain))
	for _, c := range i.Chain {
		raw = append(raw, c.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  i.PrivateKey,
		Leaf:        i.Chain[0],
	}
}
