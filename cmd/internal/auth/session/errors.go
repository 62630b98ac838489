package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidRefresh is returned when a refresh token fails verification
	// (signature, expiry, class, claims). Callers force a full login.
	ErrInvalidRefresh = errors.New("invalid refresh token")

	// ErrSessionRevoked is returned when a well-formed refresh token is no
	// longer the stored one. Treat it as possible token theft.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrIdentityNotFound is returned when a token names a user that no longer exists.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
