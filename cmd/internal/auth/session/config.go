package session

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"
)

// MinSecretBytes is the minimum length of each signing secret.
const MinSecretBytes = 32

// Config defines runtime configuration for the token service.
type Config struct {
	// Issuer and Audience are set on every token and enforced on verify.
	Issuer   string
	Audience string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ClockSkew is the leeway applied to exp/iat checks.
	ClockSkew time.Duration

	// AccessSecret and RefreshSecret sign the two token classes. They must differ.
	AccessSecret  []byte
	RefreshSecret []byte

	// RefreshHashKey keys the stored refresh hash. Empty means RefreshSecret.
	RefreshHashKey []byte
}

// DefaultConfig returns defaults without secrets.
func DefaultConfig() Config {
	return Config{
		Issuer:     "chatd",
		Audience:   "chatd",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// Validate checks invariants. Every failure wraps ErrConfig.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return fmt.Errorf("%w: issuer is empty", ErrConfig)
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	case c.AccessTTL >= c.RefreshTTL:
		return fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrConfig)
	case c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute:
		return fmt.Errorf("%w: clock skew out of range", ErrConfig)
	case len(c.AccessSecret) < MinSecretBytes:
		return fmt.Errorf("%w: access secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	case len(c.RefreshSecret) < MinSecretBytes:
		return fmt.Errorf("%w: refresh secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	case bytes.Equal(c.AccessSecret, c.RefreshSecret):
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	case len(c.RefreshHashKey) > 0 && len(c.RefreshHashKey) < MinSecretBytes:
		return fmt.Errorf("%w: refresh hash key must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	return nil
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Required:
//   - CHAT_AUTH_ACCESS_SECRET
//   - CHAT_AUTH_REFRESH_SECRET
//
// Optional (durations are Go duration strings):
//   - CHAT_AUTH_ISSUER, CHAT_AUTH_AUDIENCE
//   - CHAT_AUTH_ACCESS_TTL, CHAT_AUTH_REFRESH_TTL, CHAT_AUTH_CLOCK_SKEW
//   - CHAT_AUTH_REFRESH_HASH_KEY
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("CHAT_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_AUTH_AUDIENCE")); v != "" {
		cfg.Audience = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CHAT_AUTH_ACCESS_TTL", &cfg.AccessTTL},
		{"CHAT_AUTH_REFRESH_TTL", &cfg.RefreshTTL},
		{"CHAT_AUTH_CLOCK_SKEW", &cfg.ClockSkew},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, d.key, err)
		}
		*d.dst = parsed
	}

	cfg.AccessSecret = []byte(strings.TrimSpace(os.Getenv("CHAT_AUTH_ACCESS_SECRET")))
	cfg.RefreshSecret = []byte(strings.TrimSpace(os.Getenv("CHAT_AUTH_REFRESH_SECRET")))
	if v := strings.TrimSpace(os.Getenv("CHAT_AUTH_REFRESH_HASH_KEY")); v != "" {
		cfg.RefreshHashKey = []byte(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
