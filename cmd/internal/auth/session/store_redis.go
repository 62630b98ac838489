package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/token"
)

// UserLookup confirms that a user exists.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (identity.User, error)
}

// RedisStore keeps refresh hashes in Redis, one key per user, expiring with
// the refresh token. It lets several chatd replicas share rotation state
// without touching the user table.
type RedisStore struct {
	client redis.UniversalClient
	users  UserLookup
	prefix string
}

// swapScript returns 1 on swap, 0 on mismatch, -1 when no value is stored.
var swapScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return -1
end
if cur ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// NewRedisStore builds a RedisStore. users is consulted to tell a missing
// user from a missing value.
func NewRedisStore(client redis.UniversalClient, users UserLookup, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "chat"
	}
	return &RedisStore{client: client, users: users, prefix: prefix}
}

func (s *RedisStore) key(userID string) string {
	return fmt.Sprintf("%s:refresh:%s", s.prefix, userID)
}

func (s *RedisStore) SetRefresh(ctx context.Context, userID, hash string, expiresAt time.Time) error {
	if len(hash) != token.HexLen {
		return fmt.Errorf("session: refresh hash must be %d hex chars", token.HexLen)
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(userID), hash, ttlUntil(expiresAt)).Err()
}

func (s *RedisStore) SwapRefresh(ctx context.Context, userID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	if len(newHash) != token.HexLen {
		return false, fmt.Errorf("session: refresh hash must be %d hex chars", token.HexLen)
	}

	// A hash may outlive its user; it must not rotate.
	if err := s.ensureUser(ctx, userID); err != nil {
		if identity.IsNotFound(err) {
			_ = s.client.Del(ctx, s.key(userID)).Err()
		}
		return false, err
	}

	res, err := swapScript.Run(ctx, s.client, []string{s.key(userID)},
		oldHash, newHash, ttlUntil(expiresAt).Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("session: redis swap: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) ensureUser(ctx context.Context, userID string) error {
	if s.users == nil {
		return nil
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return err
		}
		return fmt.Errorf("session: lookup user: %w", err)
	}
	return nil
}

func ttlUntil(expiresAt time.Time) time.Duration {
	d := time.Until(expiresAt)
	if d < time.Second {
		return time.Second
	}
	return d
}

var _ Store = (*RedisStore)(nil)
