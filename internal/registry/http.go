package registry

import (
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/mcpcerts/internal/keystore"
	"github.com/wolfeidau/mcpcerts/internal/logger"
)

const (
	DefaultRequestTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

var (
	ErrIdentityRequired   = errors.New("registry client identity is required")
	ErrTruststoreRequired = errors.New("registry truststore is required unless insecure trust is enabled")
)

// Config controls the transport used to reach the identity registry.
type Config struct {
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration

	// InsecureTrust disables server certificate verification. It is only
	// honoured when no truststore is supplied.
	InsecureTrust bool
}

// NewHTTPClient builds the long lived mutual TLS client presented to the
// registry. Without a truststore the caller must opt in to InsecureTrust.
func NewHTTPClient(cfg Config, identity *keystore.Identity, trust *keystore.Truststore) (*http.Client, error) {
	if identity == nil {
		return nil, ErrIdentityRequired
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{identity.TLSCertificate()},
		MinVersion:   tls.VersionTLS12,
	}

	switch {
	case trust != nil:
		tlsConfig.RootCAs = trust.Pool()
	case cfg.InsecureTrust:
		log.Warn().Msg("registry server certificate verification disabled")
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
	default:
		return nil, ErrTruststoreRequired
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: cfg.HandshakeTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Transport: logger.NewRoundTripper(log.Logger, transport),
		Timeout:   cfg.RequestTimeout,
	}, nil
}
