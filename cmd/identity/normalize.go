package identity

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

const (
	maxUsernameRunes = 32
	maxEmailBytes    = 254
)

func validateNewUser(op string, in CreateUserInput) error {
	u := strings.TrimSpace(in.Username)
	if u == "" {
		return invalid(op, "username is required")
	}
	if utf8.RuneCountInString(u) > maxUsernameRunes {
		return invalid(op, "username too long")
	}
	e := strings.TrimSpace(in.Email)
	if e == "" || len(e) > maxEmailBytes {
		return invalid(op, "email is required")
	}
	if _, err := mail.ParseAddress(e); err != nil {
		return invalid(op, "email is malformed")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return invalid(op, "password hash is required")
	}
	return nil
}
