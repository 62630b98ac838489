package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveRefresh(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[result]++
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = []byte(testAccessSecret)
	cfg.RefreshSecret = []byte(testRefreshSecret)
	return cfg
}

func newTestService(t *testing.T, opts ...Option) (*Service, *identity.MemoryStore, *testClock, string) {
	t.Helper()

	store := identity.NewMemoryStore()
	u, err := store.CreateUser(context.Background(), identity.CreateUserInput{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$argon2id$test",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	clock := &testClock{now: time.Now().UTC()}
	svc, err := NewService(testConfig(), store, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, clock, u.ID
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	if _, err := NewService(cfg, identity.NewMemoryStore()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := NewService(testConfig(), nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for nil store, got %v", err)
	}
}

func TestIssue_VerifyAccess(t *testing.T) {
	t.Parallel()
	svc, _, clock, userID := newTestService(t)

	pair, err := svc.Issue(context.Background(), userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatalf("refresh must outlive access")
	}

	claims, err := svc.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != userID || claims.TokenID == "" || claims.Issuer != "chatd" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.IssuedAt.After(clock.Now()) || !claims.ExpiresAt.After(clock.Now()) {
		t.Fatalf("unexpected times: %+v", claims)
	}
}

func TestIssue_UnknownIdentity(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)

	if _, err := svc.Issue(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	if _, err := svc.Issue(context.Background(), ""); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound for empty id, got %v", err)
	}
}

func TestVerifyAccess_Expired(t *testing.T) {
	t.Parallel()
	svc, _, clock, userID := newTestService(t)

	pair, err := svc.Issue(context.Background(), userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(svc.Config().AccessTTL + svc.Config().ClockSkew + time.Second)
	if _, err := svc.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired access, got %v", err)
	}
}

func TestVerifyAccess_Malformed(t *testing.T) {
	t.Parallel()
	svc, _, _, userID := newTestService(t)

	pair, err := svc.Issue(context.Background(), userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	for _, raw := range []string{"", "garbage", "a.b.c", tampered} {
		if _, err := svc.VerifyAccess(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("VerifyAccess(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestVerifyAccess_RejectsAlgNone(t *testing.T) {
	t.Parallel()
	svc, _, clock, userID := newTestService(t)

	now := clock.Now()
	claims := jwtClaims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chatd",
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"chatd"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := svc.VerifyAccess(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg=none, got %v", err)
	}
}

func TestSecretsAreNotInterchangeable(t *testing.T) {
	t.Parallel()
	svc, _, clock, userID := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}

	// Same payload shape and the "right" token_type, wrong secret.
	forge := func(tokenType string, secret []byte) string {
		now := clock.Now()
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
			TokenType: tokenType,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "chatd",
				Subject:   userID,
				Audience:  jwt.ClaimStrings{"chatd"},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
				ID:        "forged",
			},
		}).SignedString(secret)
		if err != nil {
			t.Fatalf("forge: %v", err)
		}
		return raw
	}

	if _, err := svc.VerifyAccess(forge(tokenTypeAccess, []byte(testRefreshSecret))); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access-typed token signed with refresh secret accepted: %v", err)
	}
	if _, err := svc.Refresh(ctx, forge(tokenTypeRefresh, []byte(testAccessSecret))); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("refresh-typed token signed with access secret accepted: %v", err)
	}
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	svc, _, _, userID := newTestService(t, WithRefreshObserver(obs))
	ctx := context.Background()

	first, err := svc.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.AccessToken == first.AccessToken {
		t.Fatalf("rotation must mint new values")
	}
	if _, err := svc.VerifyAccess(second.AccessToken); err != nil {
		t.Fatalf("rotated access token invalid: %v", err)
	}

	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("replayed refresh: expected ErrSessionRevoked, got %v", err)
	}

	third, err := svc.Refresh(ctx, second.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh second: %v", err)
	}
	if _, err := svc.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("second refresh of same value must fail, got %v", err)
	}
	if _, err := svc.Refresh(ctx, third.RefreshToken); err != nil {
		t.Fatalf("current refresh must still work: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.counts["ok"] != 3 || obs.counts["revoked"] != 2 {
		t.Fatalf("unexpected observer counts: %+v", obs.counts)
	}
}

func TestRefresh_AcceptsSurroundingWhitespace(t *testing.T) {
	t.Parallel()
	svc, _, _, userID := newTestService(t)
	ctx := context.Background()

	first, err := svc.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	second, err := svc.Refresh(ctx, " "+first.RefreshToken+"\n")
	if err != nil {
		t.Fatalf("padded current token must rotate, got %v", err)
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("rotated-away token: expected ErrSessionRevoked, got %v", err)
	}
	if _, err := svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("new token must rotate: %v", err)
	}
}

func TestIssue_SupersedesPreviousRefresh(t *testing.T) {
	t.Parallel()
	svc, _, _, userID := newTestService(t)
	ctx := context.Background()

	old, err := svc.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Issue(ctx, userID); err != nil {
		t.Fatalf("Issue again: %v", err)
	}

	if _, err := svc.Refresh(ctx, old.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after re-issue, got %v", err)
	}
}

func TestRefresh_Expired(t *testing.T) {
	t.Parallel()
	svc, _, clock, userID := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(svc.Config().RefreshTTL + svc.Config().ClockSkew + time.Second)
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("expected ErrInvalidRefresh for expired refresh, got %v", err)
	}
}

func TestRefresh_ConcurrentSameTokenExactlyOneWins(t *testing.T) {
	t.Parallel()
	svc, _, _, userID := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 16
	var (
		wins    atomic.Int32
		revoked atomic.Int32
		winner  atomic.Value
		start   = make(chan struct{})
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			next, err := svc.Refresh(ctx, pair.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
				winner.Store(next)
			case errors.Is(err, ErrSessionRevoked):
				revoked.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || revoked.Load() != n-1 {
		t.Fatalf("expected 1 win and %d revoked, got %d and %d", n-1, wins.Load(), revoked.Load())
	}

	// The store converged on the winner's value.
	next := winner.Load().(TokenPair)
	if _, err := svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("winner's refresh token must be current: %v", err)
	}
}

type goneStore struct{}

func (goneStore) SetRefresh(context.Context, string, string, time.Time) error {
	return identity.NotFoundError{Op: "test", Resource: "user"}
}

func (goneStore) SwapRefresh(context.Context, string, string, string, time.Time) (bool, error) {
	return false, identity.NotFoundError{Op: "test", Resource: "user"}
}

func TestRefresh_DeletedIdentity(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now().UTC()}
	issuer, err := NewService(testConfig(), identity.NewMemoryStore(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc, err := NewService(testConfig(), goneStore{}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	pair, err := issuer.mint("01HZZZZZZZZZZZZZZZZZZZZZZZ")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrInvalidRefresh) || !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrInvalidRefresh+ErrIdentityNotFound, got %v", err)
	}
}
