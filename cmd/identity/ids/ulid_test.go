package ids

import (
	"testing"
	"time"
)

func TestNewULID(t *testing.T) {
	t.Parallel()

	id, err := NewULID(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 || !Valid(id) {
		t.Fatalf("invalid ulid %q", id)
	}
}

func TestNew_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValid_Rejects(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "abc", "not-a-ulid-not-a-ulid-xxxx"} {
		if Valid(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}
