// Package config loads the Normandy configuration file and applies
// NORMANDY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/kilupskalvis/normandy/internal/auth"
	"github.com/kilupskalvis/normandy/internal/signing"
)

const (
	DefaultConfigFile   = "normandy.toml"
	DefaultDatabaseFile = "normandy.db"
	EnvPrefix           = "NORMANDY_"
)

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// AutographConfig configures the signing service.
type AutographConfig struct {
	URL           string   `toml:"url"`
	HawkID        string   `toml:"hawk_id"`
	HawkSecretKey string   `toml:"hawk_secret_key"`
	Timeout       Duration `toml:"timeout"`
}

// CertificatesConfig configures x5u verification.
type CertificatesConfig struct {
	CheckValidity     bool     `toml:"check_validity"`
	ExpectedRootHash  string   `toml:"expected_root_hash"`
	ExpectedSubjectCN string   `toml:"expected_subject_cn"`
	ExpireEarlyDays   int      `toml:"expire_early_days"`
	FetchTimeout      Duration `toml:"fetch_timeout"`
}

// OIDCConfig configures bearer token authentication.
type OIDCConfig struct {
	UserEndpoint string   `toml:"user_endpoint"`
	Retries      int      `toml:"retries"`
	RetryBackoff Duration `toml:"retry_backoff"`
	CacheTTL     Duration `toml:"cache_ttl"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Listen            string  `toml:"listen"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Config represents the Normandy configuration
type Config struct {
	Database     string             `toml:"database"`
	Autograph    AutographConfig    `toml:"autograph"`
	Certificates CertificatesConfig `toml:"certificates"`
	OIDC         OIDCConfig         `toml:"oidc"`
	Server       ServerConfig       `toml:"server"`

	path string // file the config was loaded from
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Database: DefaultDatabaseFile,
		Autograph: AutographConfig{
			Timeout: Duration{signing.DefaultTimeout},
		},
		Certificates: CertificatesConfig{
			CheckValidity: true,
			FetchTimeout:  Duration{signing.DefaultTimeout},
		},
		OIDC: OIDCConfig{
			Retries:      5,
			RetryBackoff: Duration{100 * time.Millisecond},
			CacheTTL:     Duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Listen:            "0.0.0.0:8000",
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(name string, fn func(string) error) {
		if v := getenv(EnvPrefix + name); v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			}
		}
	}

	str("DATABASE", &c.Database)
	str("AUTOGRAPH_URL", &c.Autograph.URL)
	str("AUTOGRAPH_HAWK_ID", &c.Autograph.HawkID)
	str("AUTOGRAPH_HAWK_SECRET_KEY", &c.Autograph.HawkSecretKey)
	str("CERTIFICATES_EXPECTED_ROOT_HASH", &c.Certificates.ExpectedRootHash)
	str("CERTIFICATES_EXPECTED_SUBJECT_CN", &c.Certificates.ExpectedSubjectCN)
	str("OIDC_USER_ENDPOINT", &c.OIDC.UserEndpoint)
	str("SERVER_LISTEN", &c.Server.Listen)

	parse("CERTIFICATES_CHECK_VALIDITY", func(v string) (err error) {
		c.Certificates.CheckValidity, err = strconv.ParseBool(v)
		return err
	})
	parse("CERTIFICATES_EXPIRE_EARLY_DAYS", func(v string) (err error) {
		c.Certificates.ExpireEarlyDays, err = strconv.Atoi(v)
		return err
	})
	parse("AUTOGRAPH_TIMEOUT", c.Autograph.Timeout.parse)

	return errors.Join(errs...)
}

func (d *Duration) parse(v string) error {
	return d.UnmarshalText([]byte(v))
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(c.path, data, 0600)
}

// Path returns the file the configuration belongs to.
func (c *Config) Path() string {
	return c.path
}

// DatabasePath returns the bbolt database path. Relative paths are resolved
// against the directory of the config file.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) || c.path == "" {
		return c.Database
	}
	return filepath.Join(filepath.Dir(c.path), c.Database)
}

// Initialize writes a default configuration file at path.
func Initialize(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("config file %s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	cfg := Default()
	cfg.path = path
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SigningConfig returns the Autograph client settings.
func (c *Config) SigningConfig() signing.AutographConfig {
	return signing.AutographConfig{
		URL:           c.Autograph.URL,
		HawkID:        c.Autograph.HawkID,
		HawkSecretKey: c.Autograph.HawkSecretKey,
		Timeout:       c.Autograph.Timeout.Duration,
	}
}

// VerifierConfig returns the x5u verifier settings.
func (c *Config) VerifierConfig() signing.VerifierConfig {
	return signing.VerifierConfig{
		CheckValidity:     c.Certificates.CheckValidity,
		ExpectedRootHash:  c.Certificates.ExpectedRootHash,
		ExpectedSubjectCN: c.Certificates.ExpectedSubjectCN,
		HTTPClient:        &http.Client{Timeout: c.Certificates.FetchTimeout.Duration},
	}
}

// ExpireEarly returns the early expiry window for certificate checks.
func (c *Config) ExpireEarly() time.Duration {
	return time.Duration(c.Certificates.ExpireEarlyDays) * 24 * time.Hour
}

// AuthConfig returns the userinfo client settings.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		Endpoint: c.OIDC.UserEndpoint,
		Retry: &auth.RetryConfig{
			MaxRetries: c.OIDC.Retries,
			Backoff:    c.OIDC.RetryBackoff.Duration,
		},
		CacheTTL: c.OIDC.CacheTTL.Duration,
	}
}
