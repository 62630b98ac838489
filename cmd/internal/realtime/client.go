package realtime

import (
	"sync"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/presence"
	v1 "github.com/GentritBegaj/whatsapp-clone-be/shared/contracts/realtime/v1"
)

const defaultSendQueueSize = 64

// Client is one open realtime channel.
//
// Send is never closed by the server, so concurrent broadcasters cannot panic.
// done signals shutdown and Close is idempotent.
type Client struct {
	Handle presence.Handle
	Send   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(h presence.Handle, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		Handle: h,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues env without blocking. It reports false when the client is
// closed or its queue is full.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
