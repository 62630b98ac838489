// Package middleware gates authenticated HTTP routes.
//
// Session reads the access token from a cookie, falls back to a bearer
// header, verifies it, and resolves the caller's profile with a single store
// lookup. Handlers downstream read it with ProfileFrom.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/session"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/httpx"
)

// DefaultCookieName is the access-token cookie set at login.
const DefaultCookieName = "accessToken"

// AccessVerifier verifies access tokens.
type AccessVerifier interface {
	VerifyAccess(raw string) (session.Claims, error)
}

// ProfileReader resolves a user and their rooms in one call.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (identity.Profile, error)
}

type ctxKey struct{}

// WithProfile returns ctx carrying p.
func WithProfile(ctx context.Context, p identity.Profile) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// ProfileFrom returns the profile stored by Session.
func ProfileFrom(ctx context.Context) (identity.Profile, bool) {
	p, ok := ctx.Value(ctxKey{}).(identity.Profile)
	return p, ok
}

// UserIDFrom returns the authenticated user id, or "" outside Session.
func UserIDFrom(ctx context.Context) string {
	p, _ := ProfileFrom(ctx)
	return p.User.ID
}

type options struct {
	cookieName string
	log        *slog.Logger
}

// Option configures Session.
type Option func(*options)

// WithCookieName overrides the access-token cookie name.
func WithCookieName(name string) Option {
	return func(o *options) {
		if n := strings.TrimSpace(name); n != "" {
			o.cookieName = n
		}
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Session authenticates each request or answers 401 without calling next.
// Store failures other than a missing user answer 500.
func Session(verifier AccessVerifier, profiles ProfileReader, opts ...Option) func(http.Handler) http.Handler {
	o := options{cookieName: DefaultCookieName, log: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := AccessToken(r, o.cookieName)
			if raw == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing access token")
				return
			}

			claims, err := verifier.VerifyAccess(raw)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
				return
			}

			profile, err := profiles.GetProfile(r.Context(), claims.UserID)
			switch {
			case err == nil:
			case identity.IsNotFound(err):
				o.log.Info("auth.session.identity_missing", "user_id", claims.UserID, "err", session.ErrIdentityNotFound)
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "identity not found")
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				o.log.Error("auth.session.profile.fail", "user_id", claims.UserID, "err", err)
				httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
		})
	}
}

// AccessToken extracts the access token from cookieName, then from an
// Authorization: Bearer header.
func AccessToken(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			if v := strings.TrimSpace(c.Value); v != "" {
				return v
			}
		}
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
