package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity/ids"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/token"
)

// Integration tests are opt-in and require CHAT_TEST_DATABASE_URL.
// Outside CI an unreachable Postgres skips them.

func TestPostgresStore_CreateUser_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()
	s := mustNewIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := s.CreateUser(ctx, CreateUserInput{Username: "u1", Email: "User@Example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("create user 1: %v", err)
	}
	_, err := s.CreateUser(ctx, CreateUserInput{Username: "u2", Email: "user@example.COM", PasswordHash: "h"})
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestPostgresStore_ProfileAndLastSeen(t *testing.T) {
	t.Parallel()
	s := mustNewIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	room, err := s.CreateRoom(ctx, CreateRoomInput{CreatorID: alice.ID, MemberIDs: []string{bob.ID}})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(room.Members) != 2 || room.Members[0].UserID != alice.ID {
		t.Fatalf("unexpected members: %+v", room.Members)
	}

	seen := time.Now().UTC().Truncate(time.Microsecond)
	if err := s.TouchLastSeen(ctx, bob.ID, seen); err != nil {
		t.Fatalf("TouchLastSeen: %v", err)
	}
	if err := s.TouchLastSeen(ctx, bob.ID, seen.Add(-time.Hour)); err != nil {
		t.Fatalf("TouchLastSeen earlier: %v", err)
	}

	p, err := s.GetProfile(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if len(p.Rooms) != 1 || len(p.Rooms[0].Members) != 2 {
		t.Fatalf("unexpected profile rooms: %+v", p.Rooms)
	}
	m := p.Rooms[0].Members[1]
	if m.UserID != bob.ID || m.LastSeen == nil || !m.LastSeen.Equal(seen) {
		t.Fatalf("unexpected member: %+v", m)
	}

	if _, err := s.CreateRoom(ctx, CreateRoomInput{CreatorID: alice.ID, MemberIDs: []string{ids.New()}}); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown member, got %v", err)
	}
	if _, err := s.GetProfile(ctx, ids.New()); !IsNotFound(err) {
		t.Fatalf("expected not found profile, got %v", err)
	}
}

func TestPostgresStore_SwapRefresh_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	s := mustNewIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	u := mustCreateUser(t, s, "rotator")
	old := token.HashSHA256Hex("old")
	exp := time.Now().Add(time.Hour)
	if err := s.SetRefresh(ctx, u.ID, old, exp); err != nil {
		t.Fatalf("SetRefresh: %v", err)
	}

	const n = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.SwapRefresh(ctx, u.ID, old, token.HashSHA256Hex(fmt.Sprintf("new-%d", i)), exp)
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

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
	if _, err := s.SwapRefresh(ctx, ids.New(), old, old, exp); !IsNotFound(err) {
		t.Fatalf("expected not found for missing user, got %v", err)
	}
}

func mustNewIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CHAT_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CHAT_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "chat_it_" + strings.ToLower(ids.New())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

// mustApplySchema mirrors cmd/internal/app/migrations in an arbitrary schema.
func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgx.Identifier{schema, "users"}.Sanitize()
	rooms := pgx.Identifier{schema, "rooms"}.Sanitize()
	members := pgx.Identifier{schema, "room_members"}.Sanitize()

	ddl := fmt.Sprintf(`
CREATE TABLE %[1]s (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  username_norm TEXT NOT NULL,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  profile_pic TEXT NOT NULL DEFAULT '',
  about TEXT NOT NULL DEFAULT '',
  last_seen TIMESTAMPTZ NULL,
  refresh_token_hash TEXT NULL,
  refresh_expires_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT uq_users_username_norm UNIQUE (username_norm),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);

CREATE TABLE %[2]s (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  is_group BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE %[3]s (
  room_id TEXT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (room_id, user_id)
);
`, users, rooms, members)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
