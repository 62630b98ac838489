package realtime

import (
	"sync"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/presence"
	v1 "github.com/GentritBegaj/whatsapp-clone-be/shared/contracts/realtime/v1"
)

// Hub is the set of open channels, announced or not.
type Hub struct {
	mu      sync.RWMutex
	clients map[presence.Handle]*Client
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[presence.Handle]*Client)}
}

// Add registers c. A client with the same handle is replaced.
func (h *Hub) Add(c *Client) {
	if c == nil || c.Handle == "" {
		return
	}
	h.mu.Lock()
	h.clients[c.Handle] = c
	h.mu.Unlock()
}

// Remove unregisters the client with handle hd and reports whether it was present.
func (h *Hub) Remove(hd presence.Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[hd]; !ok {
		return false
	}
	delete(h.clients, hd)
	return true
}

// Get returns the client registered under hd.
func (h *Hub) Get(hd presence.Handle) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[hd]
	return c, ok
}

// Len returns the number of open channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of the open channels.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast offers env to every open channel and never blocks on a slow one.
func (h *Hub) Broadcast(env v1.Envelope) (delivered, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.offer(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
