package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity/ids"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/presence"
	v1 "github.com/GentritBegaj/whatsapp-clone-be/shared/contracts/realtime/v1"
)

const defaultLastSeenTimeout = 5 * time.Second

// LastSeenWriter persists the moment a user's channel closed.
type LastSeenWriter interface {
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
}

// Observer receives routing and connection events, typically for metrics.
type Observer interface {
	SetPresence(identities, handles int)
	Delivered(n int)
	Dropped()
	LastSeenFailed()
	ConnOpened()
	ConnClosed()
	Rejected(reason string)
}

type nopObserver struct{}

func (nopObserver) SetPresence(int, int) {}
func (nopObserver) Delivered(int)        {}
func (nopObserver) Dropped()             {}
func (nopObserver) LastSeenFailed()      {}
func (nopObserver) ConnOpened()          {}
func (nopObserver) ConnClosed()          {}
func (nopObserver) Rejected(string)      {}

// Router turns channel lifecycle and inbound events into registry mutations
// and outbound fan-out.
type Router struct {
	registry *presence.Registry
	hub      *Hub
	lastSeen LastSeenWriter

	log             *slog.Logger
	obs             Observer
	now             func() time.Time
	lastSeenTimeout time.Duration
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger (default slog.Default()).
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithObserver reports routing events.
func WithObserver(o Observer) RouterOption {
	return func(r *Router) {
		if o != nil {
			r.obs = o
		}
	}
}

// WithClock overrides the time source for last-seen stamps.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLastSeenTimeout bounds each last-seen write.
func WithLastSeenTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.lastSeenTimeout = d
		}
	}
}

// NewRouter builds a Router over registry. A nil registry gets a fresh one;
// a nil lastSeen skips persistence.
func NewRouter(registry *presence.Registry, lastSeen LastSeenWriter, opts ...RouterOption) *Router {
	if registry == nil {
		registry = presence.NewRegistry()
	}
	r := &Router{
		registry:        registry,
		hub:             NewHub(),
		lastSeen:        lastSeen,
		log:             slog.Default(),
		obs:             nopObserver{},
		now:             func() time.Time { return time.Now().UTC() },
		lastSeenTimeout: defaultLastSeenTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	registry.OnChange(r.obs.SetPresence)
	return r
}

// Registry returns the presence registry the router mutates.
func (r *Router) Registry() *presence.Registry { return r.registry }

// Hub returns the set of open channels.
func (r *Router) Hub() *Hub { return r.hub }

// Open registers c for broadcasts. It does not bind an identity.
func (r *Router) Open(c *Client) {
	r.hub.Add(c)
	r.obs.ConnOpened()
}

// Announce binds userID to c and broadcasts the online snapshot to everyone.
// If c was bound to another identity, that identity loses the channel: its
// last-seen is persisted and a lastSeen event follows the snapshot.
func (r *Router) Announce(c *Client, userID string) {
	displaced := r.registry.Bind(userID, c.Handle)
	r.log.Debug("presence.bind", "user_id", userID, "handle", string(c.Handle))

	if displaced == "" {
		r.broadcastSnapshot()
		return
	}
	r.log.Info("presence.rebind", "user_id", userID, "displaced", displaced, "handle", string(c.Handle))
	at := r.now()
	r.touchLastSeen(displaced, at)
	r.broadcastSnapshot()
	r.broadcastLastSeen(displaced, at)
}

// SendMessage delivers payload as newMessage to every channel of every
// receiver, once per channel, skipping the sending channel. Offline receivers
// are skipped. It returns the number of events enqueued.
func (r *Router) SendMessage(from *Client, receiverIDs []string, payload json.RawMessage) int {
	senderID, _ := r.registry.IdentityFor(from.Handle)
	env := newEnvelope(v1.TypeNewMessage, v1.NewMessage{Payload: payload, SenderID: senderID}, r.now())

	seen := make(map[presence.Handle]struct{})
	delivered := 0
	for _, uid := range receiverIDs {
		for _, h := range r.registry.HandlesFor(uid) {
			if h == from.Handle {
				continue
			}
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}

			c, ok := r.hub.Get(h)
			if !ok {
				continue
			}
			if c.offer(env) {
				delivered++
			} else {
				r.obs.Dropped()
				r.log.Warn("realtime.deliver.drop", "handle", string(h), "reason", "send queue full")
			}
		}
	}
	r.obs.Delivered(delivered)
	return delivered
}

// Close tears down c: it unregisters the channel, unbinds the handle,
// persists last-seen for the identity it held, then broadcasts the new
// snapshot and a lastSeen event. Closing an unknown channel is a no-op.
func (r *Router) Close(c *Client) {
	if !r.hub.Remove(c.Handle) {
		return
	}
	r.obs.ConnClosed()

	userID, bound := r.registry.Unbind(c.Handle)

	var at time.Time
	if bound {
		at = r.now()
		r.touchLastSeen(userID, at)
	}

	r.broadcastSnapshot()
	if bound {
		r.broadcastLastSeen(userID, at)
	}
}

// CloseAll asks every open channel to shut down. Each connection's own
// teardown then runs Close.
func (r *Router) CloseAll() {
	for _, c := range r.hub.Clients() {
		c.Close()
	}
}

func (r *Router) touchLastSeen(userID string, at time.Time) {
	if r.lastSeen == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.lastSeenTimeout)
	defer cancel()

	if err := r.lastSeen.TouchLastSeen(ctx, userID, at); err != nil {
		r.obs.LastSeenFailed()
		r.log.Error("presence.last_seen.fail", "user_id", userID, "err", err)
	}
}

func (r *Router) broadcastSnapshot() {
	online := r.registry.Snapshot()
	list := make([]v1.OnlineUser, 0, len(online))
	for _, id := range online {
		list = append(list, v1.OnlineUser{UserID: id})
	}
	r.broadcast(newEnvelope(v1.TypeGetUsers, v1.GetUsers{ActiveList: list}, r.now()))
}

func (r *Router) broadcastLastSeen(userID string, at time.Time) {
	r.broadcast(newEnvelope(v1.TypeLastSeen, v1.LastSeen{UserLastSeenID: userID, LastSeenTime: at}, at))
}

func (r *Router) broadcast(env v1.Envelope) {
	_, dropped := r.hub.Broadcast(env)
	for i := 0; i < dropped; i++ {
		r.obs.Dropped()
	}
}

func newEnvelope(typ string, data any, ts time.Time) v1.Envelope {
	b, _ := json.Marshal(data)
	ts = ts.UTC()
	return v1.Envelope{
		V:    v1.Version,
		Type: typ,
		ID:   ids.New(),
		TS:   &ts,
		Data: b,
	}
}
