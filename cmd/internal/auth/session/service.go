package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/token"
)

// TokenPair is the result of Issue and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Service issues, verifies and rotates token pairs.
type Service struct {
	cfg     Config
	access  *tokenManager
	refresh *tokenManager
	hasher  token.Hasher
	store   Store

	log      *slog.Logger
	observer RefreshObserver
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRefreshObserver reports refresh outcomes, typically to metrics.
func WithRefreshObserver(o RefreshObserver) Option {
	return func(s *Service) { s.observer = o }
}

// NewService validates cfg and builds a Service over store.
func NewService(cfg Config, store Store, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}

	hashKey := cfg.RefreshHashKey
	if len(hashKey) == 0 {
		hashKey = cfg.RefreshSecret
	}
	hasher, err := token.NewHasher(hashKey, MinSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh hash key: %v", ErrConfig, err)
	}

	s := &Service{
		cfg:    cfg,
		hasher: hasher,
		store:  store,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.access = &tokenManager{
		tokenType: tokenTypeAccess,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		ttl:       cfg.AccessTTL,
		leeway:    cfg.ClockSkew,
		secret:    cfg.AccessSecret,
		now:       s.now,
	}
	s.refresh = &tokenManager{
		tokenType: tokenTypeRefresh,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		ttl:       cfg.RefreshTTL,
		leeway:    cfg.ClockSkew,
		secret:    cfg.RefreshSecret,
		now:       s.now,
	}
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Issue mints a fresh pair for userID and makes its refresh token the only
// valid one for that user.
func (s *Service) Issue(ctx context.Context, userID string) (TokenPair, error) {
	pair, err := s.mint(userID)
	if err != nil {
		return TokenPair{}, err
	}

	if err := s.store.SetRefresh(ctx, userID, s.hasher.Hash(pair.RefreshToken), pair.RefreshExpiresAt); err != nil {
		if identity.IsNotFound(err) {
			return TokenPair{}, ErrIdentityNotFound
		}
		return TokenPair{}, fmt.Errorf("session: store refresh: %w", err)
	}
	return pair, nil
}

// VerifyAccess verifies an access token. Every failure is ErrInvalidToken.
func (s *Service) VerifyAccess(raw string) (Claims, error) {
	c, err := s.access.parse(raw)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}

// Refresh rotates oldRefresh into a new pair.
//
// Verification failures return ErrInvalidRefresh. A token that verifies but
// is no longer the stored one returns ErrSessionRevoked; so does the loser of
// two concurrent refreshes with the same token. A token for a deleted user
// returns an error matching both ErrInvalidRefresh and ErrIdentityNotFound.
func (s *Service) Refresh(ctx context.Context, oldRefresh string) (TokenPair, error) {
	// The stored hash is of the bare token.
	oldRefresh = strings.TrimSpace(oldRefresh)
	claims, err := s.refresh.parse(oldRefresh)
	if err != nil {
		s.observe("invalid")
		return TokenPair{}, ErrInvalidRefresh
	}

	pair, err := s.mint(claims.UserID)
	if err != nil {
		s.observe("error")
		return TokenPair{}, err
	}

	swapped, err := s.store.SwapRefresh(ctx, claims.UserID,
		s.hasher.Hash(oldRefresh), s.hasher.Hash(pair.RefreshToken), pair.RefreshExpiresAt)
	if err != nil {
		if identity.IsNotFound(err) {
			s.observe("invalid")
			return TokenPair{}, errors.Join(ErrInvalidRefresh, ErrIdentityNotFound)
		}
		s.observe("error")
		return TokenPair{}, fmt.Errorf("session: swap refresh: %w", err)
	}
	if !swapped {
		s.observe("revoked")
		s.log.Warn("auth.refresh.revoked", "user_id", claims.UserID, "jti", claims.TokenID)
		return TokenPair{}, ErrSessionRevoked
	}

	s.observe("ok")
	return pair, nil
}

func (s *Service) mint(userID string) (TokenPair, error) {
	if userID == "" {
		return TokenPair{}, ErrIdentityNotFound
	}
	now := s.now()

	access, accessExp, err := s.access.sign(userID, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session: sign access: %w", err)
	}
	refresh, refreshExp, err := s.refresh.sign(userID, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session: sign refresh: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) observe(result string) {
	if s.observer != nil {
		s.observer.ObserveRefresh(result)
	}
}
