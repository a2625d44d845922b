package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "5s" in YAML and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config captures the runtime configuration of referrald.
type Config struct {
	Service         string             `yaml:"service" toml:"service"`
	Environment     string             `yaml:"environment" toml:"environment"`
	ListenAddress   string             `yaml:"listen" toml:"listen"`
	DataDir         string             `yaml:"data_dir" toml:"data_dir"`
	ReadTimeout     Duration           `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration           `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout Duration           `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	Logging         LoggingConfig      `yaml:"logging" toml:"logging"`
	Telemetry       TelemetryConfig    `yaml:"telemetry" toml:"telemetry"`
	Admin           AdminConfig        `yaml:"admin" toml:"admin"`
	RateLimit       RateLimitConfig    `yaml:"rate_limit" toml:"rate_limit"`
	Audit           AuditConfig        `yaml:"audit" toml:"audit"`
	Distribution    DistributionConfig `yaml:"distribution" toml:"distribution"`
	Genesis         GenesisConfig      `yaml:"genesis" toml:"genesis"`
}

// LoggingConfig controls the optional rotated log file.
type LoggingConfig struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// TelemetryConfig controls the OTLP exporters and the metrics endpoint.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool              `yaml:"insecure" toml:"insecure"`
	Headers     map[string]string `yaml:"headers" toml:"headers"`
	MetricsPath string            `yaml:"metrics_path" toml:"metrics_path"`
}

// AdminConfig secures the administrative API with HMAC-signed bearer tokens.
type AdminConfig struct {
	JWTSecret     string `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTSecretFile string `yaml:"jwt_secret_file" toml:"jwt_secret_file"`
	JWTSecretEnv  string `yaml:"jwt_secret_env" toml:"jwt_secret_env"`
	Issuer        string `yaml:"issuer" toml:"issuer"`
	Audience      string `yaml:"audience" toml:"audience"`
}

// RateLimitConfig throttles the public write endpoints per client.
// Forwarding headers are only honoured when TrustProxyHeaders is set.
type RateLimitConfig struct {
	RatePerSecond     float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
	TrustProxyHeaders bool    `yaml:"trust_proxy_headers" toml:"trust_proxy_headers"`
}

// AuditConfig selects the durable audit sink. An empty driver disables it.
type AuditConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
	DSNEnv string `yaml:"dsn_env" toml:"dsn_env"`
}

// DistributionConfig tunes the distribution pipeline.
type DistributionConfig struct {
	MaxHops int `yaml:"max_hops" toml:"max_hops"`
}

// Load reads configuration from path. Files ending in .toml are decoded as
// TOML; everything else is YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("decode config: unknown field %s", undecoded[0].String())
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Finalise(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Finalise applies defaults, resolves secret indirections and validates the
// result. Load calls it; callers building a Config in code should too.
func (c *Config) Finalise() error {
	applyDefaults(c)
	if err := c.Admin.normalise(); err != nil {
		return fmt.Errorf("admin security: %w", err)
	}
	if err := c.Audit.normalise(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return Validate(*c)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service) == "" {
		cfg.Service = "referrald"
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.ReadTimeout.Duration == 0 {
		cfg.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.WriteTimeout.Duration == 0 {
		cfg.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = "/metrics"
	}
	if cfg.RateLimit.RatePerSecond == 0 {
		cfg.RateLimit.RatePerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Admin.Issuer == "" {
		cfg.Admin.Issuer = "refchain"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 5
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	secret := strings.TrimSpace(a.JWTSecret)
	a.JWTSecretEnv = strings.TrimSpace(a.JWTSecretEnv)
	a.JWTSecretFile = strings.TrimSpace(a.JWTSecretFile)
	switch {
	case secret != "":
	case a.JWTSecretEnv != "":
		secret = strings.TrimSpace(os.Getenv(a.JWTSecretEnv))
		if secret == "" {
			return fmt.Errorf("jwt_secret_env %s is empty", a.JWTSecretEnv)
		}
	case a.JWTSecretFile != "":
		contents, err := os.ReadFile(a.JWTSecretFile)
		if err != nil {
			return fmt.Errorf("read jwt_secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	a.JWTSecret = secret
	return nil
}

func (a *AuditConfig) normalise() error {
	a.Driver = strings.ToLower(strings.TrimSpace(a.Driver))
	a.DSN = strings.TrimSpace(a.DSN)
	a.DSNEnv = strings.TrimSpace(a.DSNEnv)
	if a.DSN == "" && a.DSNEnv != "" {
		a.DSN = strings.TrimSpace(os.Getenv(a.DSNEnv))
		if a.DSN == "" {
			return fmt.Errorf("dsn_env %s is empty", a.DSNEnv)
		}
	}
	return nil
}
