package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/token"
)

func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, client
}

func newRedisStoreForTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, string) {
	t.Helper()

	users := identity.NewMemoryStore()
	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Username:     "bob",
		Email:        "bob@example.com",
		PasswordHash: "$argon2id$test",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	server, client := newRedisClientForTest(t)
	return NewRedisStore(client, users, "chat-test"), server, u.ID
}

func TestRedisStore_SetAndSwap(t *testing.T) {
	t.Parallel()
	s, server, userID := newRedisStoreForTest(t)
	ctx := context.Background()

	h0 := token.HashSHA256Hex("r0")
	h1 := token.HashSHA256Hex("r1")
	exp := time.Now().Add(time.Hour)

	if err := s.SetRefresh(ctx, userID, h0, exp); err != nil {
		t.Fatalf("SetRefresh: %v", err)
	}
	got, err := server.Get("chat-test:refresh:" + userID)
	if err != nil || got != h0 {
		t.Fatalf("stored value mismatch: %q %v", got, err)
	}
	if ttl := server.TTL("chat-test:refresh:" + userID); ttl <= 0 {
		t.Fatalf("expected a ttl, got %v", ttl)
	}

	ok, err := s.SwapRefresh(ctx, userID, h0, h1, exp)
	if err != nil || !ok {
		t.Fatalf("swap: ok=%v err=%v", ok, err)
	}
	ok, err = s.SwapRefresh(ctx, userID, h0, h1, exp)
	if err != nil || ok {
		t.Fatalf("stale swap must fail: ok=%v err=%v", ok, err)
	}
}

func TestRedisStore_MissingUserAndExpiredValue(t *testing.T) {
	t.Parallel()
	s, server, userID := newRedisStoreForTest(t)
	ctx := context.Background()
	h := token.HashSHA256Hex("r")

	if err := s.SetRefresh(ctx, "ghost", h, time.Now().Add(time.Hour)); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found on set, got %v", err)
	}
	if _, err := s.SwapRefresh(ctx, "ghost", h, h, time.Now().Add(time.Hour)); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found on swap, got %v", err)
	}

	if err := s.SetRefresh(ctx, userID, h, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("SetRefresh: %v", err)
	}
	server.FastForward(3 * time.Second)

	ok, err := s.SwapRefresh(ctx, userID, h, token.HashSHA256Hex("next"), time.Now().Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("expired value must not swap: ok=%v err=%v", ok, err)
	}
}

// deletableUsers hides users removed after their refresh hash was stored.
type deletableUsers struct {
	UserLookup
	mu      sync.Mutex
	deleted map[string]bool
}

func (d *deletableUsers) GetUser(ctx context.Context, userID string) (identity.User, error) {
	d.mu.Lock()
	gone := d.deleted[userID]
	d.mu.Unlock()
	if gone {
		return identity.User{}, identity.NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return d.UserLookup.GetUser(ctx, userID)
}

func (d *deletableUsers) remove(userID string) {
	d.mu.Lock()
	d.deleted[userID] = true
	d.mu.Unlock()
}

func TestRedisStore_SwapForDeletedUserFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := identity.NewMemoryStore()
	u, err := mem.CreateUser(ctx, identity.CreateUserInput{
		Username:     "carol",
		Email:        "carol@example.com",
		PasswordHash: "$argon2id$test",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	users := &deletableUsers{UserLookup: mem, deleted: map[string]bool{}}
	server, client := newRedisClientForTest(t)
	s := NewRedisStore(client, users, "chat-test")

	h := token.HashSHA256Hex("r")
	exp := time.Now().Add(time.Hour)
	if err := s.SetRefresh(ctx, u.ID, h, exp); err != nil {
		t.Fatalf("SetRefresh: %v", err)
	}
	users.remove(u.ID)

	ok, err := s.SwapRefresh(ctx, u.ID, h, token.HashSHA256Hex("next"), exp)
	if ok || !identity.IsNotFound(err) {
		t.Fatalf("swap for deleted user: ok=%v err=%v", ok, err)
	}
	if server.Exists("chat-test:refresh:" + u.ID) {
		t.Fatalf("stale refresh hash left behind")
	}
}

func TestRedisStore_ConcurrentSwapSingleWinner(t *testing.T) {
	t.Parallel()
	s, _, userID := newRedisStoreForTest(t)
	ctx := context.Background()

	old := token.HashSHA256Hex("old")
	exp := time.Now().Add(time.Hour)
	if err := s.SetRefresh(ctx, userID, old, exp); err != nil {
		t.Fatalf("SetRefresh: %v", err)
	}

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.SwapRefresh(ctx, userID, old, token.HashSHA256Hex(fmt.Sprintf("new-%d", i)), exp)
			if err != nil {
				t.Errorf("swap: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestService_OverRedisStore(t *testing.T) {
	t.Parallel()
	store, _, userID := newRedisStoreForTest(t)
	ctx := context.Background()

	svc, err := NewService(testConfig(), store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	first, err := svc.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}
