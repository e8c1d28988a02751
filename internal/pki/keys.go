package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// DefaultCurve is used when no curve name is configured.
const DefaultCurve = "secp256r1"

// ErrUnsupportedCurve is returned for curve names the crypto provider does not know.
var ErrUnsupportedCurve = errors.New("unsupported elliptic curve")

// curves maps the SEC 2 / X9.62 / NIST spellings onto the stdlib curves.
var curves = map[string]elliptic.Curve{
	"secp224r1":  elliptic.P224(),
	"p-224":      elliptic.P224(),
	"secp256r1":  elliptic.P256(),
	"prime256v1": elliptic.P256(),
	"p-256":      elliptic.P256(),
	"secp384r1":  elliptic.P384(),
	"p-384":      elliptic.P384(),
	"secp521r1":  elliptic.P521(),
	"p-521":      elliptic.P521(),
}

// SupportedCurves returns the canonical name of every curve GenerateKeyPair accepts.
func SupportedCurves() []string {
	return []string{"secp224r1", "secp256r1", "secp384r1", "secp521r1"}
}

// KeyPair holds an EC private key and its public half.
type KeyPair struct {
	Private crypto.Signer
	Public  crypto.PublicKey
	Curve   string
}

// CurveByName resolves a curve name, falling back to DefaultCurve when blank.
func CurveByName(name string) (elliptic.Curve, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultCurve
	}

	curve, ok := curves[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurve, name)
	}
	return curve, nil
}

// GenerateKeyPair creates a new EC key pair on the named curve.
func GenerateKeyPair(curveName string) (*KeyPair, error) {
	curve, err := CurveByName(curveName)
	if err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate EC key: %w", err)
	}

	return &KeyPair{
		Private: key,
		Public:  &key.PublicKey,
		Curve:   curve.Params().Name,
	}, nil
}
