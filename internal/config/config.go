// Package config loads the mcpcerts YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/mcpcerts/internal/keystore"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
	"github.com/wolfeidau/mcpcerts/internal/pki"
)

const (
	RegistryModeRemote = "remote"
	RegistryModeLocal  = "local"

	StoreTypeMemory   = "memory"
	StoreTypePostgres = "postgres"

	DefaultSubjectDN        = "CN={name}, O={organisation}, OU={type}, UID={mrn}"
	DefaultValidity         = 365 * 24 * time.Hour
	DefaultTrustAnchorAlias = "mcp-root"
	DefaultServiceName      = "mcpcerts"
)

// Config is the root of the configuration file.
type Config struct {
	Registry         RegistryConfig          `yaml:"registry"`
	Keys             KeysConfig              `yaml:"keys"`
	Certificates     CertificatesConfig      `yaml:"certificates"`
	Keystore         keystore.IdentityConfig `yaml:"keystore"`
	Truststore       keystore.Source         `yaml:"truststore"`
	TrustAnchorAlias string                  `yaml:"trustAnchorAlias"`
	Store            StoreConfig             `yaml:"store"`
	Telemetry        TelemetryConfig         `yaml:"telemetry"`
}

// RegistryConfig locates the identity registry and the organisation's MRN space.
type RegistryConfig struct {
	Mode             string        `yaml:"mode"` // remote or local
	Host             string        `yaml:"host"`
	Organisation     string        `yaml:"organisation"`
	Prefix           string        `yaml:"prefix"`
	Suffix           string        `yaml:"suffix"`
	OrgPrefix        string        `yaml:"orgPrefix"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	InsecureTrust    bool          `yaml:"insecureTrust"`
}

type KeysConfig struct {
	Curve     string `yaml:"curve"`
	Algorithm string `yaml:"algorithm"`
}

type CertificatesConfig struct {
	SubjectDN string        `yaml:"subjectDN"`
	Validity  time.Duration `yaml:"validity"` // local mode only
	LocalCA   LocalCAConfig `yaml:"localCA"`
}

// LocalCAConfig points at the CA used in local mode. When both paths are
// empty an ephemeral CA is generated at startup.
type LocalCAConfig struct {
	Certificate string `yaml:"certificate"`
	PrivateKey  string `yaml:"privateKey"`
}

type StoreConfig struct {
	Type     string         `yaml:"type"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	ConnString  string `yaml:"connString"`
	MaxConns    int32  `yaml:"maxConns"`
	MinConns    int32  `yaml:"minConns"`
	AutoMigrate bool   `yaml:"autoMigrate"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Load reads the configuration at path, applies environment overrides and
// defaults, then validates the result. An empty path starts from defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Registry.Mode == "" {
		c.Registry.Mode = RegistryModeRemote
	}
	if c.Registry.Prefix == "" {
		c.Registry.Prefix = mrn.DefaultPrefix
	}
	if c.Registry.Suffix == "" {
		c.Registry.Suffix = mrn.DefaultSuffix
	}
	if c.Registry.OrgPrefix == "" {
		c.Registry.OrgPrefix = mrn.DefaultOrgPrefix
	}
	if c.Keys.Curve == "" {
		c.Keys.Curve = pki.DefaultCurve
	}
	if c.Keys.Algorithm == "" {
		c.Keys.Algorithm = pki.DefaultSignatureAlgorithm
	}
	if c.Certificates.SubjectDN == "" {
		c.Certificates.SubjectDN = DefaultSubjectDN
	}
	if c.Certificates.Validity == 0 {
		c.Certificates.Validity = DefaultValidity
	}
	if c.TrustAnchorAlias == "" {
		c.TrustAnchorAlias = DefaultTrustAnchorAlias
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreTypeMemory
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Registry.Organisation) == "" {
		errs = append(errs, errors.New("registry.organisation is required"))
	}

	switch c.Registry.Mode {
	case RegistryModeRemote:
		if strings.TrimSpace(c.Registry.Host) == "" {
			errs = append(errs, errors.New("registry.host is required in remote mode"))
		}
		if c.Keystore.Certificate.IsZero() || c.Keystore.PrivateKey.IsZero() {
			errs = append(errs, errors.New("keystore.certificate and keystore.privateKey are required in remote mode"))
		}
		if c.Truststore.IsZero() && !c.Registry.InsecureTrust {
			errs = append(errs, errors.New("truststore is required unless registry.insecureTrust is set"))
		}
	case RegistryModeLocal:
		if (c.Certificates.LocalCA.Certificate == "") != (c.Certificates.LocalCA.PrivateKey == "") {
			errs = append(errs, errors.New("certificates.localCA needs both certificate and privateKey"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.mode must be %s or %s, got %q", RegistryModeRemote, RegistryModeLocal, c.Registry.Mode))
	}

	if _, err := pki.CurveByName(c.Keys.Curve); err != nil {
		errs = append(errs, fmt.Errorf("keys.curve: %w", err))
	}
	if _, err := pki.LookupAlgorithm(c.Keys.Algorithm); err != nil {
		errs = append(errs, fmt.Errorf("keys.algorithm: %w", err))
	}
	if c.Certificates.Validity < 0 {
		errs = append(errs, errors.New("certificates.validity must be positive"))
	}
	if c.Registry.RequestTimeout < 0 || c.Registry.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("registry timeouts must not be negative"))
	}

	switch c.Store.Type {
	case StoreTypeMemory:
	case StoreTypePostgres:
		if c.Store.Postgres.ConnString == "" {
			errs = append(errs, errors.New("store.postgres.connString is required (or MCPCERTS_POSTGRES_CONNECTION_STRING)"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type must be %s or %s, got %q", StoreTypeMemory, StoreTypePostgres, c.Store.Type))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sampleRatio must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

// Naming returns the MRN settings for the configured organisation.
func (c *Config) Naming() *mrn.Naming {
	return &mrn.Naming{
		Prefix:       c.Registry.Prefix,
		Suffix:       c.Registry.Suffix,
		Organisation: c.Registry.Organisation,
		OrgPrefix:    c.Registry.OrgPrefix,
		Host:         c.Registry.Host,
	}
}

// applyEnv overrides fields from MCPCERTS_* environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MCPCERTS_REGISTRY_MODE":              &c.Registry.Mode,
		"MCPCERTS_REGISTRY_HOST":              &c.Registry.Host,
		"MCPCERTS_REGISTRY_ORGANISATION":      &c.Registry.Organisation,
		"MCPCERTS_KEYSTORE_CERTIFICATE":       &c.Keystore.Certificate.Path,
		"MCPCERTS_KEYSTORE_PRIVATE_KEY":       &c.Keystore.PrivateKey.Path,
		"MCPCERTS_KEYSTORE_CERTIFICATE_SSM":   &c.Keystore.Certificate.SSM,
		"MCPCERTS_KEYSTORE_PRIVATE_KEY_SSM":   &c.Keystore.PrivateKey.SSM,
		"MCPCERTS_KEYSTORE_PASSWORD":          &c.Keystore.Password,
		"MCPCERTS_TRUSTSTORE":                 &c.Truststore.Path,
		"MCPCERTS_TRUSTSTORE_SSM":             &c.Truststore.SSM,
		"MCPCERTS_STORE_TYPE":                 &c.Store.Type,
		"MCPCERTS_POSTGRES_CONNECTION_STRING": &c.Store.Postgres.ConnString,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}

	bools := map[string]*bool{
		"MCPCERTS_REGISTRY_INSECURE_TRUST": &c.Registry.InsecureTrust,
		"MCPCERTS_POSTGRES_AUTO_MIGRATE":   &c.Store.Postgres.AutoMigrate,
		"MCPCERTS_TELEMETRY_ENABLED":       &c.Telemetry.Enabled,
	}
	for name, field := range bools {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*field = b
	}

	return nil
}
