package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"webptt/internal/relay"
	"webptt/internal/wsserver"
)

const (
	writeDeadline      = 5 * time.Second
	maxReadMessageSize = 64 * 1024
	closeGracePeriod   = time.Second
)

// ErrClosed is returned for operations on a closed Client.
var ErrClosed = errors.New("content: connection closed")

// ErrRejected is returned when the background answers a request with an error.
var ErrRejected = errors.New("content: request rejected")

// ErrTimeout is returned when a request gets no reply in time.
var ErrTimeout = errors.New("content: request timed out")

// newRequestIDFn is replaced in tests.
var newRequestIDFn = uuid.NewString

// Client is a WebSocket connection to the background hub that correlates
// requests with replies. Envelopes that are not replies go to the handler
// passed to Dial, on the read goroutine.
type Client struct {
	conn *websocket.Conn

	// writeMu serializes writes; gorilla/websocket allows one writer.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan relay.Envelope
	closed  bool

	handler func(relay.Envelope)
	done    chan struct{}
}

// Dial connects to the hub at base (a ws:// URL or host:port).
func Dial(ctx context.Context, base string, params wsserver.ConnectParams, handler func(relay.Envelope)) (*Client, error) {
	target, err := wsserver.ConnectURL(base, params)
	if err != nil {
		return nil, fmt.Errorf("content: dial: %w", err)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("content: dial %s: %w", target, err)
	}
	conn.SetReadLimit(maxReadMessageSize)

	if handler == nil {
		handler = func(relay.Envelope) {}
	}
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan relay.Envelope),
		handler: handler,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send writes env.
func (c *Client) Send(env relay.Envelope) error {
	payload, err := relay.Encode(env)
	if err != nil {
		return fmt.Errorf("content: send %s: %w", env.ID, err)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("content: send %s: %w", env.ID, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("content: send %s: %w", env.ID, err)
	}
	return nil
}

// Request sends env with a fresh request id and waits for the matching reply.
func (c *Client) Request(ctx context.Context, env relay.Envelope) (relay.Envelope, error) {
	env.Req = newRequestIDFn()
	ch := make(chan relay.Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return relay.Envelope{}, ErrClosed
	}
	c.pending[env.Req] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, env.Req)
		c.mu.Unlock()
	}()

	if err := c.Send(env); err != nil {
		return relay.Envelope{}, err
	}

	select {
	case reply := <-ch:
		if reply.ID == relay.MsgError {
			var reason string
			if err := reply.DecodeValue(&reason); err != nil {
				reason = string(reply.Value)
			}
			return relay.Envelope{}, fmt.Errorf("%w: %s: %s", ErrRejected, env.ID, reason)
		}
		return reply, nil
	case <-c.done:
		return relay.Envelope{}, ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return relay.Envelope{}, fmt.Errorf("%w: %s", ErrTimeout, env.ID)
		}
		return relay.Envelope{}, ctx.Err()
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline)); err != nil {
		slog.Debug("[content] close frame not sent", "error", err)
	}
	c.writeMu.Unlock()

	// Give the hub a moment to echo the close before dropping the socket.
	select {
	case <-c.done:
	case <-time.After(closeGracePeriod):
	}
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] content readLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	}()

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[content] connection lost", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		env, err := relay.Decode(msg)
		if err != nil {
			slog.Debug("[content] invalid message from background", "error", err)
			continue
		}
		if (env.ID == relay.MsgReply || (env.ID == relay.MsgError && env.Req != "")) && c.deliverReply(env) {
			continue
		}
		c.handler(env)
	}
}

func (c *Client) deliverReply(env relay.Envelope) bool {
	c.mu.Lock()
	ch, ok := c.pending[env.Req]
	c.mu.Unlock()
	if !ok {
		slog.Debug("[content] reply without pending request", "req", env.Req)
		return true
	}
	select {
	case ch <- env:
	default:
	}
	return true
}
