package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var (
	testAccessSecret  = strings.Repeat("a", 32)
	testRefreshSecret = strings.Repeat("r", 32)
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("CHAT_AUTH_ACCESS_SECRET", testAccessSecret)
	t.Setenv("CHAT_AUTH_REFRESH_SECRET", testRefreshSecret)
}

func TestLoadConfigFromEnv_MissingSecrets(t *testing.T) {
	t.Setenv("CHAT_AUTH_ACCESS_SECRET", "")
	t.Setenv("CHAT_AUTH_REFRESH_SECRET", testRefreshSecret)
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing access secret, got %v", err)
	}

	t.Setenv("CHAT_AUTH_ACCESS_SECRET", testAccessSecret)
	t.Setenv("CHAT_AUTH_REFRESH_SECRET", "")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing refresh secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_SameSecretsRejected(t *testing.T) {
	t.Setenv("CHAT_AUTH_ACCESS_SECRET", testAccessSecret)
	t.Setenv("CHAT_AUTH_REFRESH_SECRET", testAccessSecret)
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for shared secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSecretRejected(t *testing.T) {
	t.Setenv("CHAT_AUTH_ACCESS_SECRET", "short")
	t.Setenv("CHAT_AUTH_REFRESH_SECRET", testRefreshSecret)
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	setSecrets(t)

	cases := map[string]string{
		"CHAT_AUTH_ACCESS_TTL":  "-5m",
		"CHAT_AUTH_REFRESH_TTL": "soon",
		"CHAT_AUTH_CLOCK_SKEW":  "1h",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig for %s=%s, got %v", key, val, err)
			}
		})
	}
}

func TestLoadConfigFromEnv_AccessMustBeShorter(t *testing.T) {
	setSecrets(t)
	t.Setenv("CHAT_AUTH_ACCESS_TTL", "48h")
	t.Setenv("CHAT_AUTH_REFRESH_TTL", "24h")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	setSecrets(t)
	t.Setenv("CHAT_AUTH_ISSUER", "chat-test")
	t.Setenv("CHAT_AUTH_AUDIENCE", "chat-clients")
	t.Setenv("CHAT_AUTH_ACCESS_TTL", "10m")
	t.Setenv("CHAT_AUTH_REFRESH_TTL", "48h")
	t.Setenv("CHAT_AUTH_CLOCK_SKEW", "20s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "chat-test" || cfg.Audience != "chat-clients" {
		t.Fatalf("issuer/audience mismatch: %q %q", cfg.Issuer, cfg.Audience)
	}
	if cfg.AccessTTL != 10*time.Minute || cfg.RefreshTTL != 48*time.Hour || cfg.ClockSkew != 20*time.Second {
		t.Fatalf("durations mismatch: %+v", cfg)
	}
	if string(cfg.AccessSecret) != testAccessSecret || string(cfg.RefreshSecret) != testRefreshSecret {
		t.Fatalf("secrets not loaded")
	}
}
