package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds websocket gateway limits and policies.
type Config struct {
	// AllowedOrigins is the Origin allowlist. "*" allows any origin.
	AllowedOrigins []string
	// OriginRequired rejects upgrades without an Origin header.
	OriginRequired bool
	// RequireAuth rejects upgrades that carry no verified identity.
	RequireAuth bool
	// InsecureSkipVerify disables coder/websocket's own origin check. Dev only.
	InsecureSkipVerify bool

	MaxMessageBytes int64
	WriteTimeout    time.Duration
	// ReadIdleTimeout closes connections that send nothing for this long. Zero disables it.
	ReadIdleTimeout time.Duration

	PingInterval time.Duration
	PingTimeout  time.Duration

	SendBuffer int

	// RateEvents inbound events are allowed per RateWindow per connection.
	RateEvents int
	RateWindow time.Duration

	LastSeenTimeout time.Duration
}

const (
	minSendBuffer   = 32
	maxPingFailures = 3
	closeGrace      = time.Second
)

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:  []string{"http://localhost", "http://127.0.0.1"},
		MaxMessageBytes: 64 << 10,
		WriteTimeout:    5 * time.Second,
		PingInterval:    25 * time.Second,
		PingTimeout:     5 * time.Second,
		SendBuffer:      256,
		RateEvents:      120,
		RateWindow:      10 * time.Second,
		LastSeenTimeout: defaultLastSeenTimeout,
	}
}

// LoadConfigFromEnv overlays CHAT_WS_* and CHAT_LAST_SEEN_TIMEOUT on the defaults.
// Malformed values keep the default.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.AllowedOrigins = envCSV("CHAT_WS_ORIGINS", cfg.AllowedOrigins)
	cfg.OriginRequired = envBool("CHAT_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	cfg.RequireAuth = envBool("CHAT_WS_REQUIRE_AUTH", cfg.RequireAuth)
	cfg.InsecureSkipVerify = envBool("CHAT_WS_DEV_INSECURE", cfg.InsecureSkipVerify)

	cfg.MaxMessageBytes = int64(envInt("CHAT_WS_MAX_MSG_BYTES", int(cfg.MaxMessageBytes)))
	cfg.WriteTimeout = envDuration("CHAT_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReadIdleTimeout = envDuration("CHAT_WS_READ_IDLE_TIMEOUT", cfg.ReadIdleTimeout)
	cfg.PingInterval = envDuration("CHAT_WS_PING_INTERVAL", cfg.PingInterval)
	cfg.PingTimeout = envDuration("CHAT_WS_PING_TIMEOUT", cfg.PingTimeout)
	cfg.SendBuffer = envInt("CHAT_WS_SEND_BUFFER", cfg.SendBuffer)
	cfg.RateEvents = envInt("CHAT_WS_RATE_LIMIT", cfg.RateEvents)
	cfg.RateWindow = envDuration("CHAT_WS_RATE_WINDOW", cfg.RateWindow)
	cfg.LastSeenTimeout = envDuration("CHAT_LAST_SEEN_TIMEOUT", cfg.LastSeenTimeout)

	return cfg.normalized()
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.SendBuffer < minSendBuffer {
		c.SendBuffer = minSendBuffer
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.LastSeenTimeout <= 0 {
		c.LastSeenTimeout = d.LastSeenTimeout
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
