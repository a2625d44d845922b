package config

import (
	"fmt"
	"strings"
)

// MinJWTSecretBytes is the shortest accepted HMAC secret.
const MinJWTSecretBytes = 32

// Validate checks a finalised configuration.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address must be configured")
	}
	if len(cfg.Admin.JWTSecret) < MinJWTSecretBytes {
		return fmt.Errorf("admin jwt secret must be at least %d bytes", MinJWTSecretBytes)
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	switch cfg.Audit.Driver {
	case "":
	case "sqlite", "postgres":
		if cfg.Audit.DSN == "" {
			return fmt.Errorf("audit dsn must be configured for driver %s", cfg.Audit.Driver)
		}
	default:
		return fmt.Errorf("unsupported audit driver %q", cfg.Audit.Driver)
	}
	if cfg.Distribution.MaxHops < 0 {
		return fmt.Errorf("distribution max_hops must not be negative")
	}
	if _, err := cfg.Genesis.Resolve(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	return nil
}
