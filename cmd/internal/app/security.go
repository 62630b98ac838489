package app

import (
	"bytes"
	"errors"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/session"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy on top of
// session.Config validation. Fail-fast: nothing falls back to weaker hashing.
func ValidateSecurityConfig(cfg Config, sess session.Config) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	if !cfg.RequireRefreshHashKey {
		return nil
	}

	if len(sess.RefreshHashKey) == 0 {
		return errors.New("security policy: CHAT_REQUIRE_REFRESH_HASH_KEY=true but CHAT_AUTH_REFRESH_HASH_KEY is missing")
	}
	if bytes.Equal(sess.RefreshHashKey, sess.RefreshSecret) || bytes.Equal(sess.RefreshHashKey, sess.AccessSecret) {
		return errors.New("security policy: CHAT_AUTH_REFRESH_HASH_KEY must differ from both signing secrets")
	}

	// Assert on the hasher itself, the same code path the service uses.
	h, err := token.NewHasher(sess.RefreshHashKey, session.MinSecretBytes)
	if err != nil {
		return errors.New("security policy: CHAT_AUTH_REFRESH_HASH_KEY is too short (min 32 bytes)")
	}
	if !h.Keyed() {
		return errors.New("security policy: refresh hasher is not in HMAC mode")
	}
	return nil
}
