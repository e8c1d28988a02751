package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// DefaultSignatureAlgorithm is used for CSRs and content signatures when none is given.
const DefaultSignatureAlgorithm = "SHA256withECDSA"

var (
	// ErrUnsupportedAlgorithm is returned for unknown signature algorithm names.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")

	// ErrKeyAlgorithmMismatch is returned when a key cannot be used with the requested algorithm.
	ErrKeyAlgorithmMismatch = errors.New("key does not match signature algorithm")
)

// SignatureAlgorithm describes a signature scheme by its JCA-style name.
type SignatureAlgorithm struct {
	Name      string
	X509      x509.SignatureAlgorithm
	Hash      crypto.Hash // zero for Ed25519
	KeyFamily x509.PublicKeyAlgorithm
}

var algorithms = map[string]SignatureAlgorithm{
	"sha256withecdsa": {Name: "SHA256withECDSA", X509: x509.ECDSAWithSHA256, Hash: crypto.SHA256, KeyFamily: x509.ECDSA},
	"sha384withecdsa": {Name: "SHA384withECDSA", X509: x509.ECDSAWithSHA384, Hash: crypto.SHA384, KeyFamily: x509.ECDSA},
	"sha512withecdsa": {Name: "SHA512withECDSA", X509: x509.ECDSAWithSHA512, Hash: crypto.SHA512, KeyFamily: x509.ECDSA},
	"sha256withrsa":   {Name: "SHA256withRSA", X509: x509.SHA256WithRSA, Hash: crypto.SHA256, KeyFamily: x509.RSA},
	"sha384withrsa":   {Name: "SHA384withRSA", X509: x509.SHA384WithRSA, Hash: crypto.SHA384, KeyFamily: x509.RSA},
	"sha512withrsa":   {Name: "SHA512withRSA", X509: x509.SHA512WithRSA, Hash: crypto.SHA512, KeyFamily: x509.RSA},
	"ed25519":         {Name: "Ed25519", X509: x509.PureEd25519, KeyFamily: x509.Ed25519},
}

// LookupAlgorithm resolves an algorithm name, case-insensitively, falling back to
// DefaultSignatureAlgorithm when blank.
func LookupAlgorithm(name string) (SignatureAlgorithm, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSignatureAlgorithm
	}

	alg, ok := algorithms[strings.ToLower(name)]
	if !ok {
		return SignatureAlgorithm{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	}
	return alg, nil
}

// Sign produces a signature over payload. ECDSA signatures are ASN.1 DER encoded,
// RSA signatures use PKCS#1 v1.5.
func Sign(key crypto.PrivateKey, algorithm string, payload []byte) ([]byte, error) {
	alg, err := LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T cannot sign", ErrKeyAlgorithmMismatch, key)
	}
	if keyFamily(signer.Public()) != alg.KeyFamily {
		return nil, fmt.Errorf("%w: %T with %s", ErrKeyAlgorithmMismatch, key, alg.Name)
	}

	if alg.Hash == 0 {
		return signer.Sign(rand.Reader, payload, crypto.Hash(0))
	}

	h := alg.Hash.New()
	h.Write(payload)
	return signer.Sign(rand.Reader, h.Sum(nil), alg.Hash)
}

// Verify reports whether sig is a valid signature over payload. Any failure,
// including malformed signatures and key/algorithm mismatches, yields false.
func Verify(pub crypto.PublicKey, algorithm string, payload, sig []byte) bool {
	alg, err := LookupAlgorithm(algorithm)
	if err != nil {
		return false
	}
	if keyFamily(pub) != alg.KeyFamily {
		return false
	}

	if alg.Hash == 0 {
		k, ok := pub.(ed25519.PublicKey)
		return ok && ed25519.Verify(k, payload, sig)
	}

	h := alg.Hash.New()
	h.Write(payload)
	digest := h.Sum(nil)

	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, digest, sig)
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, alg.Hash, digest, sig) == nil
	default:
		return false
	}
}

func keyFamily(pub crypto.PublicKey) x509.PublicKeyAlgorithm {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return x509.ECDSA
	case *rsa.PublicKey:
		return x509.RSA
	case ed25519.PublicKey:
		return x509.Ed25519
	default:
		return x509.UnknownPublicKeyAlgorithm
	}
}
