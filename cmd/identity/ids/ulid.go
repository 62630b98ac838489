// Package ids generates the ULID identifiers used for users, rooms and
// realtime connection handles.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars) stamped with now.
// A zero now uses the current UTC time.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// New returns a ULID for the current time. It falls back to ulid.Make, which
// uses a process-local monotonic entropy source, if crypto/rand fails.
func New() string {
	id, err := NewULID(time.Time{})
	if err != nil {
		return ulid.Make().String()
	}
	return id
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
