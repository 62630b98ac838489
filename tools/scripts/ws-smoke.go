// Package main provides a CI-friendly WebSocket smoke test for chatd realtime.
//
// It validates:
//   - registration of two throwaway users over HTTP
//   - handshake + subprotocol selection with a bearer session
//   - isOnline announcement and the getUsers snapshot
//   - sendMessage -> newMessage delivery to the receiver
//   - disconnect -> lastSeen broadcast
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/GentritBegaj/whatsapp-clone-be/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	token  string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

type registerResponse struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	AccessToken string `json:"accessToken"`
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello chat 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := wsURLFor(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}

	root := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())

	a := mustRegister(root, "A", *baseURL, "smoke_a_"+suffix, *timeout)
	b := mustRegister(root, "B", *baseURL, "smoke_b_"+suffix, *timeout)

	mustConnect(root, a, wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustConnect(root, b, wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	mustAnnounce(root, a, *timeout)
	mustAnnounce(root, b, *timeout)
	mustSeeOnline(root, a, []string{a.userID, b.userID}, *timeout)

	mustWriteWithTimeout(root, a.conn, v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeSendMessage,
		Data: mustJSON(v1.SendMessage{ReceiverIDs: []string{b.userID}, Payload: mustJSON(map[string]string{"text": *text})}),
	}, *timeout)

	msg := b.mustReadUntilType(root, v1.TypeNewMessage, *timeout)
	var nm v1.NewMessage
	if err := json.Unmarshal(msg.Data, &nm); err != nil {
		fatalf("unmarshal newMessage (%s): %v", b.name, err)
	}
	var body map[string]string
	if err := json.Unmarshal(nm.Payload, &body); err != nil || body["text"] != *text {
		fatalf("newMessage payload mismatch (%s): %s", b.name, nm.Payload)
	}

	mustWriteWithTimeout(root, a.conn, v1.Envelope{V: v1.Version, Type: v1.TypeDisconnect}, *timeout)

	seen := b.mustReadUntilType(root, v1.TypeLastSeen, *timeout)
	var ls v1.LastSeen
	if err := json.Unmarshal(seen.Data, &ls); err != nil {
		fatalf("unmarshal lastSeen (%s): %v", b.name, err)
	}
	if ls.UserLastSeenID != a.userID {
		fatalf("lastSeen user mismatch: got=%q want=%q", ls.UserLastSeenID, a.userID)
	}

	fmt.Println("OK: ws smoke passed")
}

func wsURLFor(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func mustRegister(parent context.Context, name, baseURL, username string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]string{
		"username": username,
		"email":    username + "@smoke.invalid",
		"password": "smoke test password " + username,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/register", bytes.NewReader(body))
	if err != nil {
		fatalf("build register request (%s): %v", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("register (%s): %v", name, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != http.StatusCreated {
		fatalf("register (%s): status=%d body=%s", name, resp.StatusCode, raw)
	}

	var out registerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		fatalf("decode register (%s): %v", name, err)
	}
	if out.User.ID == "" || out.AccessToken == "" {
		fatalf("register (%s): missing user id or access token", name)
	}
	return &smokeClient{name: name, userID: out.User.ID, token: out.AccessToken}
}

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	if origin != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if err != nil {
		if resp != nil {
			fatalf("dial failed (%s): status=%d err=%v", c.name, resp.StatusCode, err)
		}
		fatalf("dial failed (%s): %v", c.name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", c.name, got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c.conn = conn
	c.inbox = make(chan v1.Envelope, 64)
	c.errCh = make(chan error, 1)
	c.startReadLoop()
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.errCh <- err
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.errCh <- fmt.Errorf("bad frame: %w", err)
				return
			}
			c.inbox <- env
		}
	}()
}

func mustAnnounce(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeIsOnline,
		Data: mustJSON(v1.IsOnline{UserID: c.userID}),
	}, stepTimeout)
}

// mustSeeOnline waits for a snapshot that contains every id in want.
func mustSeeOnline(parent context.Context, c *smokeClient, want []string, stepTimeout time.Duration) {
	for {
		env := c.mustReadUntilType(parent, v1.TypeGetUsers, stepTimeout)
		var p v1.GetUsers
		if err := json.Unmarshal(env.Data, &p); err != nil {
			fatalf("unmarshal getUsers (%s): %v", c.name, err)
		}
		online := make(map[string]bool, len(p.ActiveList))
		for _, u := range p.ActiveList {
			online[u.UserID] = true
		}
		all := true
		for _, id := range want {
			all = all && online[id]
		}
		if all {
			return
		}
	}
}

// mustReadUntilType skips presence churn and fails on server errors.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.Error
				_ = json.Unmarshal(env.Data, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
