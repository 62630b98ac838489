package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and cookie policy.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// LoginRateLimit attempts are allowed per LoginRateWindow per client IP.
	LoginRateLimit  int
	LoginRateWindow time.Duration

	AccessCookieName  string
	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

// DefaultConfig returns the auth API defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		LoginRateLimit:    20,
		LoginRateWindow:   5 * time.Minute,
		AccessCookieName:  "accessToken",
		RefreshCookieName: "refreshToken",
		CookiePath:        "/",
		CookieSameSite:    http.SameSiteLaxMode,
	}
}

// LoadConfigFromEnv loads auth API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	cfg := Config{
		TrustProxy:        envBool("CHAT_TRUST_PROXY", d.TrustProxy),
		MaxBodyBytes:      envInt64("CHAT_AUTH_MAX_BODY_BYTES", d.MaxBodyBytes),
		LoginRateLimit:    envInt("CHAT_LOGIN_RATE_LIMIT", d.LoginRateLimit),
		LoginRateWindow:   envDuration("CHAT_LOGIN_RATE_WINDOW", d.LoginRateWindow),
		AccessCookieName:  envString("CHAT_COOKIE_ACCESS_NAME", d.AccessCookieName),
		RefreshCookieName: envString("CHAT_COOKIE_REFRESH_NAME", d.RefreshCookieName),
		CookiePath:        envString("CHAT_COOKIE_PATH", d.CookiePath),
		CookieDomain:      envString("CHAT_COOKIE_DOMAIN", d.CookieDomain),
		CookieSecure:      envBool("CHAT_COOKIE_SECURE", d.CookieSecure),
		CookieSameSite:    parseSameSite(envString("CHAT_COOKIE_SAMESITE", "lax")),
	}
	return cfg.normalized()
}

// normalized applies cookie guardrails: SameSite=None requires Secure, and
// the two cookies never share a name.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.LoginRateLimit <= 0 {
		c.LoginRateLimit = d.LoginRateLimit
	}
	if c.LoginRateWindow <= 0 {
		c.LoginRateWindow = d.LoginRateWindow
	}
	if c.AccessCookieName == "" {
		c.AccessCookieName = d.AccessCookieName
	}
	if c.RefreshCookieName == "" {
		c.RefreshCookieName = d.RefreshCookieName
	}
	if c.AccessCookieName == c.RefreshCookieName {
		c.AccessCookieName, c.RefreshCookieName = d.AccessCookieName, d.RefreshCookieName
	}
	if c.CookiePath == "" {
		c.CookiePath = "/"
	}
	if c.CookieSameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}
	return c
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
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

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
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
