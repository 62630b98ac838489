package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/session"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/httpx"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/ratelimit"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/password"
)

// LoginObserver receives login outcomes, typically for metrics.
type LoginObserver interface {
	ObserveLogin(result string)
}

// Handler wires HTTP auth endpoints to the identity store and token service.
type Handler struct {
	log *slog.Logger
	cfg Config

	users     identity.Store
	sessions  *session.Service
	passwords password.Config

	limiter  *ratelimit.Keyed
	validate *httpx.Validator
	observer LoginObserver
	now      func() time.Time

	dummyHash string
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithLoginObserver reports login outcomes.
func WithLoginObserver(o LoginObserver) HandlerOption {
	return func(h *Handler) { h.observer = o }
}

// WithClock overrides the time source used for rate limiting and stamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, passwords password.Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || sessions == nil {
		return nil, errors.New("authapi: nil identity store or session service")
	}
	cfg = cfg.normalized()

	h := &Handler{
		log:       log,
		cfg:       cfg,
		users:     users,
		sessions:  sessions,
		passwords: passwords,
		limiter:   ratelimit.NewKeyed(cfg.LoginRateLimit, cfg.LoginRateWindow),
		validate:  httpx.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	// Dummy hash for timing-resistant login checks.
	hash, err := passwords.DummyHash()
	if err != nil {
		return nil, err
	}
	h.dummyHash = hash

	return h, nil
}

// AccessCookieName is the cookie the access token is set in, after config
// normalization. The session middleware reads the same name.
func (h *Handler) AccessCookieName() string { return h.cfg.AccessCookieName }

// Routes mounts the unauthenticated auth endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			httpx.WriteError(w, http.StatusBadRequest, "weak_password", err.Error())
		default:
			h.log.Error("auth.register.hash.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	ctx := r.Context()
	user, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		ProfilePic:   req.ProfilePic,
		Now:          h.now(),
	})
	if err != nil {
		var ce identity.ConflictError
		switch {
		case errors.As(err, &ce):
			httpx.WriteError(w, http.StatusConflict, ce.Field+"_taken", ce.Field+" already registered")
		case identity.IsInvalidInput(err):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			h.log.Error("auth.register.create.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	pair, err := h.sessions.Issue(ctx, user.ID)
	if err != nil {
		h.log.Error("auth.register.issue.fail", "user_id", user.ID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.register.ok", "user_id", user.ID)
	h.setSessionCookies(w, pair)
	httpx.WriteJSON(w, http.StatusCreated, sessionResponse{User: &user, TokenPair: pair})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)

	// IP-based throttling before the store lookup.
	if ok, retryAfter := h.limiter.Allow(ipKey(ip), now); !ok {
		h.observe("rate_limited")
		h.log.Info("auth.login.rate_limited", "ip", ipKey(ip))
		writeRateLimited(w, retryAfter)
		return
	}

	creds, err := h.users.GetCredentialsByEmail(ctx, req.Email)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		// Timing resistance: perform a dummy verify when the user is missing.
		_, _ = h.passwords.Verify(h.dummyHash, req.Password)
		h.observe("invalid")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	okPw, err := h.passwords.Verify(creds.PasswordHash, req.Password)
	if err != nil || !okPw {
		if err != nil {
			h.log.Warn("auth.login.verify.fail", "user_id", creds.UserID, "err", err)
		}
		h.observe("invalid")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	if h.passwords.NeedsRehash(creds.PasswordHash) {
		h.upgradeHash(r, creds.UserID, req.Password, now)
	}

	pair, err := h.sessions.Issue(ctx, creds.UserID)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "user_id", creds.UserID, "err", err)
		h.observe("error")
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	user, err := h.users.GetUser(ctx, creds.UserID)
	if err != nil {
		h.log.Error("auth.login.user.fail", "user_id", creds.UserID, "err", err)
		h.observe("error")
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.observe("ok")
	h.limiter.Reset(ipKey(ip))
	h.setSessionCookies(w, pair)
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{User: &user, TokenPair: pair})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		refreshToken, _ = h.refreshTokenFromCookie(r)
	}
	if refreshToken == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_refresh", "refresh token is required")
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionRevoked):
			h.clearSessionCookies(w)
			httpx.WriteError(w, http.StatusUnauthorized, "session_revoked", "refresh token no longer valid")
		case errors.Is(err, session.ErrInvalidRefresh):
			if errors.Is(err, session.ErrIdentityNotFound) {
				h.clearSessionCookies(w)
			}
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_refresh", "invalid refresh token")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.setSessionCookies(w, pair)
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{TokenPair: pair})
}

// ---- helpers ----

// upgradeHash replaces a legacy or weaker hash after a successful login.
// Failures are logged; the login proceeds with the old hash.
func (h *Handler) upgradeHash(r *http.Request, userID, plain string, now time.Time) {
	cfg := h.passwords
	cfg.Policy = password.Policy{MinLength: 1, MaxLength: cfg.Policy.MaxLength}
	hash, err := cfg.Hash(plain)
	if err != nil {
		h.log.Warn("auth.login.rehash.fail", "user_id", userID, "err", err)
		return
	}
	if err := h.users.UpdatePasswordHash(r.Context(), userID, hash, now); err != nil {
		h.log.Warn("auth.login.rehash.fail", "user_id", userID, "err", err)
		return
	}
	h.log.Info("auth.login.rehash.ok", "user_id", userID)
}

func (h *Handler) observe(result string) {
	if h.observer != nil {
		h.observer.ObserveLogin(result)
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
