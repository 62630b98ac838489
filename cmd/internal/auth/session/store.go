package session

import (
	"context"
	"time"
)

// Store holds the single current refresh-token hash of each user.
//
// Implementations report a missing user with an error matching
// identity.ErrNotFound; identity.MemoryStore, identity.PostgresStore and
// RedisStore satisfy it.
type Store interface {
	// SetRefresh overwrites the stored hash.
	SetRefresh(ctx context.Context, userID, hash string, expiresAt time.Time) error

	// SwapRefresh atomically replaces oldHash with newHash and reports
	// whether it did. Exactly one of several concurrent callers presenting
	// the same oldHash may observe true.
	SwapRefresh(ctx context.Context, userID, oldHash, newHash string, expiresAt time.Time) (bool, error)
}

// RefreshObserver receives refresh outcomes ("ok", "invalid", "revoked", "error").
type RefreshObserver interface {
	ObserveRefresh(result string)
}
