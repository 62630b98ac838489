package presence

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BindAppendsHandles(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.Bind("u1", "h1")
	r.Bind("u1", "h2")
	r.Bind("u2", "h3")

	assert.Equal(t, []Handle{"h1", "h2"}, r.HandlesFor("u1"))
	assert.Equal(t, []Handle{"h3"}, r.HandlesFor("u2"))
	assert.Equal(t, []string{"u1", "u2"}, r.Snapshot())

	ids, handles := r.Stats()
	assert.Equal(t, 2, ids)
	assert.Equal(t, 3, handles)
}

func TestRegistry_BindIsIdempotentAndMovesHandles(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	assert.Empty(t, r.Bind("u1", "h1"))
	assert.Empty(t, r.Bind("u1", "h1"))
	assert.Equal(t, []Handle{"h1"}, r.HandlesFor("u1"))

	// A handle re-announcing as someone else leaves its old owner.
	assert.Equal(t, "u1", r.Bind("u2", "h1"))
	assert.Empty(t, r.HandlesFor("u1"))
	assert.False(t, r.IsOnline("u1"))
	assert.Equal(t, []Handle{"h1"}, r.HandlesFor("u2"))

	id, ok := r.IdentityFor("h1")
	require.True(t, ok)
	assert.Equal(t, "u2", id)
}

func TestRegistry_OnChangeReportsSizesPerMutation(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	type sizes struct{ identities, handles int }
	var got []sizes
	r.OnChange(func(identities, handles int) {
		got = append(got, sizes{identities, handles})
	})

	r.Bind("u1", "h1")
	r.Bind("u1", "h2")
	r.Bind("u1", "h2") // no change
	r.Bind("u2", "h2") // moves
	r.Unbind("h1")
	r.Unbind("h1") // unknown

	assert.Equal(t, []sizes{{1, 1}, {1, 2}, {2, 2}, {1, 1}}, got)
}

func TestRegistry_OnChangeLastCallMatchesStats(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	var mu sync.Mutex
	var lastIDs, lastHandles int
	r.OnChange(func(identities, handles int) {
		mu.Lock()
		lastIDs, lastHandles = identities, handles
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h := Handle(fmt.Sprintf("w%d-h%d", w, i%5))
				if i%3 == 0 {
					r.Unbind(h)
					continue
				}
				r.Bind(fmt.Sprintf("u%d", i%4), h)
			}
		}(w)
	}
	wg.Wait()

	ids, handles := r.Stats()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, lastIDs)
	assert.Equal(t, handles, lastHandles)
}

func TestRegistry_IgnoresEmptyValues(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.Bind("", "h1")
	r.Bind("u1", "")

	assert.Empty(t, r.Snapshot())
	_, handles := r.Stats()
	assert.Zero(t, handles)
}

func TestRegistry_UnbindReturnsIdentity(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.Bind("u1", "h1")
	r.Bind("u1", "h2")

	id, ok := r.Unbind("h1")
	require.True(t, ok)
	assert.Equal(t, "u1", id)
	assert.Equal(t, []Handle{"h2"}, r.HandlesFor("u1"))
	assert.True(t, r.IsOnline("u1"))

	_, ok = r.Unbind("h2")
	require.True(t, ok)
	assert.False(t, r.IsOnline("u1"))
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_UnbindUnknownIsNoop(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Bind("u1", "h1")

	assert.NotPanics(t, func() {
		id, ok := r.Unbind("missing")
		assert.False(t, ok)
		assert.Empty(t, id)
	})

	// Double unbind is also a no-op.
	_, ok := r.Unbind("h1")
	require.True(t, ok)
	_, ok = r.Unbind("h1")
	assert.False(t, ok)

	assert.Empty(t, r.HandlesFor("u1"))
	_, ok = r.IdentityFor("h1")
	assert.False(t, ok)
}

func TestRegistry_ReturnedSlicesAreCopies(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Bind("u1", "h1")

	hs := r.HandlesFor("u1")
	hs[0] = "tampered"
	snap := r.Snapshot()
	snap[0] = "tampered"

	assert.Equal(t, []Handle{"h1"}, r.HandlesFor("u1"))
	assert.Equal(t, []string{"u1"}, r.Snapshot())
}

// assertConsistent checks that both indexes describe the same entries.
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()

	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for id, set := range r.byIdentity {
		if len(set) == 0 {
			t.Errorf("identity %s kept with empty set", id)
		}
		for h := range set {
			count++
			if got := r.byHandle[h]; got != id {
				t.Errorf("handle %s indexed under %s but bound to %s", h, id, got)
			}
		}
	}
	if count != len(r.byHandle) {
		t.Errorf("index sizes differ: %d vs %d", count, len(r.byHandle))
	}
}

func TestRegistry_ConcurrentStress(t *testing.T) {
	t.Parallel()

	const (
		workers          = 16
		handlesPerWorker = 8
		opsPerWorker     = 2000
	)
	identities := []string{"u0", "u1", "u2", "u3", "u4"}

	r := NewRegistry()

	// Each worker owns its handles, so the final state of a handle is the
	// worker's last operation on it regardless of interleaving.
	finals := make([]map[Handle]string, workers)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, id := range r.Snapshot() {
					_ = r.HandlesFor(id)
				}
				assertConsistent(t, r)
			}
		}()
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w) + 1))
			model := make(map[Handle]string, handlesPerWorker)

			for i := 0; i < opsPerWorker; i++ {
				h := Handle(fmt.Sprintf("w%d-h%d", w, rng.Intn(handlesPerWorker)))
				if rng.Intn(3) == 0 {
					r.Unbind(h)
					delete(model, h)
					continue
				}
				id := identities[rng.Intn(len(identities))]
				r.Bind(id, h)
				model[h] = id
			}
			finals[w] = model
		}(w)
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	want := make(map[string][]Handle)
	total := 0
	for _, model := range finals {
		for h, id := range model {
			want[id] = append(want[id], h)
			total++
		}
	}

	for _, id := range identities {
		exp := want[id]
		sort.Slice(exp, func(i, j int) bool { return exp[i] < exp[j] })
		if exp == nil {
			exp = []Handle{}
		}
		assert.Equal(t, exp, r.HandlesFor(id), "handles for %s", id)
	}

	_, handles := r.Stats()
	assert.Equal(t, total, handles)
	assertConsistent(t, r)
}
