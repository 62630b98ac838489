package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity/ids"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/presence"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/ratelimit"
	v1 "github.com/GentritBegaj/whatsapp-clone-be/shared/contracts/realtime/v1"
)

// IdentityResolver returns the authenticated identity of an upgrade request.
type IdentityResolver func(r *http.Request) (userID string, ok bool)

// WSGateway is the websocket entrypoint for realtime presence and delivery.
//
// It enforces origin policy, rate limits and heartbeats, and routes validated
// envelopes to the Router.
type WSGateway struct {
	log    *slog.Logger
	router *Router
	cfg    Config
	obs    Observer

	resolve IdentityResolver

	// Accept authorizes same-host origins itself; cross-origin needs patterns.
	originPatterns []string

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// GatewayOption configures a WSGateway.
type GatewayOption func(*WSGateway)

// WithIdentityResolver ties each connection to the identity resolved from
// its upgrade request. isOnline must then name that identity.
func WithIdentityResolver(fn IdentityResolver) GatewayOption {
	return func(g *WSGateway) { g.resolve = fn }
}

// WithGatewayObserver reports connection events and rejections.
func WithGatewayObserver(o Observer) GatewayOption {
	return func(g *WSGateway) {
		if o != nil {
			g.obs = o
		}
	}
}

// NewWSGateway constructs a gateway over router.
func NewWSGateway(log *slog.Logger, router *Router, cfg Config, opts ...GatewayOption) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if router == nil {
		router = NewRouter(nil, nil, WithRouterLogger(log))
	}
	g := &WSGateway{
		log:    log,
		router: router,
		cfg:    cfg.normalized(),
		obs:    nopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.originPatterns = originPatterns(g.cfg.AllowedOrigins)
	return g
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.obs.Rejected("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var authID string
	if g.resolve != nil {
		if id, ok := g.resolve(r); ok {
			authID = id
		}
	}
	if g.cfg.RequireAuth && authID == "" {
		g.obs.Rejected("unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !g.track() {
		g.obs.Rejected("shutting_down")
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.active.Done()

	// Server read/write timeouts would otherwise outlive the handshake on the
	// hijacked connection.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	conn.SetReadLimit(g.cfg.MaxMessageBytes)

	client := NewClient(presence.Handle(ids.New()), g.cfg.SendBuffer)
	g.router.Open(client)
	defer g.router.Close(client)
	if g.isClosing() {
		client.Close()
	}

	log := g.log.With("handle", string(client.Handle))
	log.Debug("ws.open", "remote", r.RemoteAddr, "subprotocol", conn.Subprotocol())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// A client closed from outside (Router.CloseAll) ends the connection.
	go func() {
		select {
		case <-client.Done():
			shutdown(websocket.StatusGoingAway, "server shutdown")
		case <-ctx.Done():
		}
	}()

	rl := ratelimit.NewWindow(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.PingInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, g.cfg.PingTimeout)
				err := conn.Ping(pingCtx)
				pingCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		env, err := g.read(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			case readErrBadJSON:
				g.reject(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now()) {
			g.reject(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.reject(client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeIsOnline:
			if code, msg := g.onIsOnline(client, authID, env); code != "" {
				g.reject(client, code, msg)
			}

		case v1.TypeSendMessage:
			if code, msg := g.onSendMessage(client, env); code != "" {
				g.reject(client, code, msg)
			}

		case v1.TypeDisconnect:
			shutdown(websocket.StatusNormalClosure, "bye")
			break readLoop
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	log.Debug("ws.close")
}

// Shutdown stops accepting upgrades, closes every open channel and waits for
// the connection handlers to finish their teardown, last-seen writes
// included, or for ctx to end.
func (g *WSGateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	g.router.CloseAll()

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *WSGateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closing {
		return false
	}
	g.active.Add(1)
	return true
}

func (g *WSGateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

func (g *WSGateway) onIsOnline(client *Client, authID string, env v1.Envelope) (code, msg string) {
	var p v1.IsOnline
	if err := env.Decode(&p); err != nil {
		return "bad_request", err.Error()
	}
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return "bad_request", "missing userID"
	}
	if authID != "" && userID != authID {
		return "forbidden", "userID does not match the authenticated session"
	}
	g.router.Announce(client, userID)
	return "", ""
}

func (g *WSGateway) onSendMessage(client *Client, env v1.Envelope) (code, msg string) {
	var p v1.SendMessage
	if err := env.Decode(&p); err != nil {
		return "bad_request", err.Error()
	}
	if len(p.ReceiverIDs) == 0 {
		return "bad_request", "missing receiverIds"
	}
	if len(p.Payload) == 0 {
		return "bad_request", "missing payload"
	}
	g.router.SendMessage(client, p.ReceiverIDs, p.Payload)
	return "", ""
}

func (g *WSGateway) reject(client *Client, code, msg string) {
	g.obs.Rejected(code)
	_ = client.offer(newEnvelope(v1.TypeError, v1.Error{Code: code, Message: msg}, time.Now()))
}

func (g *WSGateway) read(parent context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	ctx := parent
	if g.cfg.ReadIdleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, g.cfg.ReadIdleTimeout)
		defer cancel()
	}
	return readEnvelope(ctx, conn)
}

// ---- envelope IO ----

var errBadJSON = errors.New("invalid JSON frame")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist.
// A "*" entry becomes a match-all pattern.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
