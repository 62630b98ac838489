// Package presence tracks which identities are live on which realtime
// connection handles.
//
// A Registry holds at most one entry per handle. An identity may own any
// number of handles (one per device or tab); binding a new handle adds to
// the identity's set rather than replacing it. Every operation is atomic
// with respect to the others and never blocks on I/O.
package presence

import (
	"sort"
	"sync"
)

// Handle identifies one live transport connection.
type Handle string

// Registry maps identities to their live handles.
type Registry struct {
	mu         sync.RWMutex
	byHandle   map[Handle]string
	byIdentity map[string]map[Handle]struct{}

	onChange func(identities, handles int)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byHandle:   make(map[Handle]string),
		byIdentity: make(map[string]map[Handle]struct{}),
	}
}

// OnChange registers fn to receive the identity and handle counts after
// every mutation. fn runs under the registry lock, so successive calls see
// sizes in mutation order; it must not call back into the Registry.
func (r *Registry) OnChange(fn func(identities, handles int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Bind associates handle with identity alongside any handles identity
// already has. A handle already bound to another identity moves, and that
// identity is returned as displaced. Empty identities or handles are ignored.
func (r *Registry) Bind(identity string, h Handle) (displaced string) {
	if identity == "" || h == "" {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byHandle[h]; ok {
		if prev == identity {
			return ""
		}
		r.removeLocked(prev, h)
		displaced = prev
	}

	r.byHandle[h] = identity
	set, ok := r.byIdentity[identity]
	if !ok {
		set = make(map[Handle]struct{}, 1)
		r.byIdentity[identity] = set
	}
	set[h] = struct{}{}
	r.notifyLocked()
	return displaced
}

// Unbind removes the entry for h and returns the identity it was bound to.
// Unbinding an unknown handle is a no-op returning ok=false.
func (r *Registry) Unbind(h Handle) (identity string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok = r.byHandle[h]
	if !ok {
		return "", false
	}
	r.removeLocked(identity, h)
	r.notifyLocked()
	return identity, true
}

func (r *Registry) notifyLocked() {
	if r.onChange != nil {
		r.onChange(len(r.byIdentity), len(r.byHandle))
	}
}

// removeLocked drops h from identity's set. Caller holds r.mu.
func (r *Registry) removeLocked(identity string, h Handle) {
	delete(r.byHandle, h)
	set := r.byIdentity[identity]
	delete(set, h)
	if len(set) == 0 {
		delete(r.byIdentity, identity)
	}
}

// HandlesFor returns identity's live handles, sorted. Empty if offline.
func (r *Registry) HandlesFor(identity string) []Handle {
	r.mu.RLock()
	set := r.byIdentity[identity]
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IdentityFor returns the identity bound to h.
func (r *Registry) IdentityFor(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.byHandle[h]
	return identity, ok
}

// IsOnline reports whether identity has at least one live handle.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byIdentity[identity]) > 0
}

// Snapshot returns the online identities, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Stats reports the number of online identities and bound handles.
func (r *Registry) Stats() (identities, handles int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byIdentity), len(r.byHandle)
}
