package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token classes carried in the token_type claim.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// maxTokenLen bounds untrusted input before parsing.
const maxTokenLen = 4096

// Claims is the verified content of a token.
type Claims struct {
	UserID    string
	TokenID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// tokenManager signs and parses one token class with one secret.
type tokenManager struct {
	tokenType string
	issuer    string
	audience  string
	ttl       time.Duration
	leeway    time.Duration
	secret    []byte
	now       func() time.Time
}

func (m *tokenManager) sign(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)
	claims := jwtClaims{
		TokenType: m.tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate has second precision; report what the token carries.
	return signed, claims.ExpiresAt.Time, nil
}

var errWrongTokenType = errors.New("unexpected token type")

func (m *tokenManager) parse(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxTokenLen {
		return Claims{}, jwt.ErrTokenMalformed
	}

	claims := &jwtClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Claims{}, err
	}
	if !tok.Valid {
		return Claims{}, jwt.ErrTokenUnverifiable
	}
	if claims.TokenType != m.tokenType {
		return Claims{}, errWrongTokenType
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, jwt.ErrTokenInvalidClaims
	}

	out := Claims{
		UserID:  claims.Subject,
		TokenID: claims.ID,
		Issuer:  claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
