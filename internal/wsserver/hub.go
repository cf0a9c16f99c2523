package wsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"webptt/internal/relay"
)

// writeDeadline is the maximum time allowed for a single WebSocket write to
// complete. If a tab freezes longer than this, its connection is considered dead.
const writeDeadline = 5 * time.Second

// readDeadline is the maximum time the server waits for any read activity
// (including pong responses) before considering the connection dead.
// 90 seconds allows for ~3 missed pings (pingInterval=30s) before timeout.
const readDeadline = 90 * time.Second

// pingInterval is the interval between server-initiated WebSocket pings.
const pingInterval = 30 * time.Second

// maxReadMessageSize limits the maximum size of incoming WebSocket messages.
// Relay envelopes are well under 1 KiB; status replies are only ever sent,
// never read.
const maxReadMessageSize = 32 * 1024

// ErrUnknownTab is returned by Send when no connection exists for the tab.
var ErrUnknownTab = errors.New("wsserver: unknown tab")

// ErrWriteFailed is returned by Send when the write failed and the
// connection was dropped.
var ErrWriteFailed = errors.New("wsserver: write failed")

var wsUpgrader = websocket.Upgrader{
	// Browser extensions connect from their own origin; the listener is bound
	// to 127.0.0.1 so external hosts cannot reach it.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4 * 1024,
}

// newTabIDFn is replaced in tests.
var newTabIDFn = uuid.NewString

// Tab describes one connected endpoint.
type Tab struct {
	ID          string
	URL         string
	ConnectedAt time.Time
}

// MessageHandler is called for every envelope a tab sends. It runs on the
// tab's read goroutine, so messages from one tab are handled in order.
type MessageHandler func(tab Tab, env relay.Envelope)

// HubOptions configures the WebSocket server.
type HubOptions struct {
	// Addr is the listen address. Use "127.0.0.1:0" for OS-assigned port.
	Addr string
	// OnMessage receives decoded envelopes. Nil drops them.
	OnMessage MessageHandler
	// OnDisconnect is called once after a tab's connection is gone and no
	// newer connection took over its id.
	OnDisconnect func(tab Tab)
}

// tabConn is one live connection. writeMu serializes WriteMessage calls:
// gorilla/websocket does not support concurrent writes.
type tabConn struct {
	tab     Tab
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Hub accepts one WebSocket connection per tab and routes relay envelopes
// between the tabs and the background endpoint.
//
// A new connection that reuses a tab id replaces the old one (page reload).
//
// Lock ordering (never acquire in reverse):
//
//	tabConn.writeMu -> mu
//
// Write failure policy: any write failure (Send, Broadcast, pingLoop) drops
// the connection via clearIfCurrent+closeConn. The tab must reconnect.
type Hub struct {
	opts HubOptions

	// mu protects tabs.
	mu   sync.RWMutex
	tabs map[string]*tabConn

	listener net.Listener
	server   *http.Server
	url      string // "ws://127.0.0.1:<port>/ws", set after Start

	// closeOnce ensures Stop is idempotent. A stopped Hub cannot be reused.
	closeOnce sync.Once
}

// NewHub creates a Hub with the given options.
// The hub is not started until Start is called.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	return &Hub{
		opts: opts,
		tabs: make(map[string]*tabConn),
	}
}

// Start begins listening on the configured address and serves WebSocket
// connections. When ctx is cancelled, active request handlers receive
// cancellation; the server itself must be stopped explicitly via Stop.
//
// Start must be called exactly once.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("wsserver: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	h.listener = ln

	port := ln.Addr().(*net.TCPAddr).Port
	h.url = fmt.Sprintf("ws://127.0.0.1:%d%s", port, EndpointPath)

	mux := http.NewServeMux()
	mux.HandleFunc(EndpointPath, h.handleWS)

	h.server = &http.Server{
		Handler: mux,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[DEBUG-WS] server error", "error", serveErr)
		}
	}()

	slog.Info("[DEBUG-WS] server started", "url", h.url)
	return nil
}

// Stop shuts down the HTTP server and closes every tab connection.
// Safe to call multiple times.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		conns := make([]*tabConn, 0, len(h.tabs))
		for _, tc := range h.tabs {
			conns = append(conns, tc)
		}
		h.tabs = make(map[string]*tabConn)
		h.mu.Unlock()

		for _, tc := range conns {
			h.closeConn(tc, "hub stop")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("wsserver: shutdown: %w", err)
			}
		}

		slog.Info("[DEBUG-WS] server stopped")
	})
	return stopErr
}

// URL returns the WebSocket URL (e.g. "ws://127.0.0.1:54321/ws").
// Returns empty string if the server has not started.
func (h *Hub) URL() string {
	return h.url
}

// Addr returns the bound listen address, or "" before Start.
func (h *Hub) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Tabs returns a snapshot of the connected tabs ordered by connect time.
func (h *Hub) Tabs() []Tab {
	h.mu.RLock()
	out := make([]Tab, 0, len(h.tabs))
	for _, tc := range h.tabs {
		out = append(out, tc.tab)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// HasTab reports whether tabID is connected.
func (h *Hub) HasTab(tabID string) bool {
	h.mu.RLock()
	_, ok := h.tabs[tabID]
	h.mu.RUnlock()
	return ok
}

// Send writes env to one tab.
func (h *Hub) Send(tabID string, env relay.Envelope) error {
	payload, err := relay.Encode(env)
	if err != nil {
		return fmt.Errorf("wsserver: send %s: %w", env.ID, err)
	}
	h.mu.RLock()
	tc := h.tabs[tabID]
	h.mu.RUnlock()
	if tc == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}
	// NOTE: the tab may be replaced between RUnlock and the write. A write on
	// the stale connection fails and clearIfCurrent leaves the newer one alone.
	if !h.writeText(tc, payload) {
		return fmt.Errorf("%w: %s", ErrWriteFailed, tabID)
	}
	return nil
}

// Broadcast writes env to every tab for which match returns true (nil matches
// all). It returns the number of tabs the envelope was delivered to.
func (h *Hub) Broadcast(env relay.Envelope, match func(Tab) bool) int {
	payload, err := relay.Encode(env)
	if err != nil {
		slog.Warn("[DEBUG-WS] failed to encode broadcast", "id", env.ID, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*tabConn, 0, len(h.tabs))
	for _, tc := range h.tabs {
		if match == nil || match(tc.tab) {
			targets = append(targets, tc)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, tc := range targets {
		if h.writeText(tc, payload) {
			delivered++
		}
	}
	return delivered
}

// writeText writes one text frame. On failure the connection is dropped and
// false is returned.
func (h *Hub) writeText(tc *tabConn, payload []byte) bool {
	tc.writeMu.Lock()
	if !h.setWriteDeadlineOrClose(tc, writeDeadline) {
		tc.writeMu.Unlock()
		return false
	}
	err := tc.conn.WriteMessage(websocket.TextMessage, payload)
	h.clearWriteDeadline(tc)
	tc.writeMu.Unlock()

	if err != nil {
		slog.Warn("[DEBUG-WS] write failed, closing connection", "tab", tc.tab.ID, "error", err)
		h.clearIfCurrent(tc)
		h.closeConn(tc, "write error")
		return false
	}
	return true
}

// clearIfCurrent removes tc only if it is still the connection registered for
// its tab id. Returns true if it was removed.
// Caller must NOT hold h.mu.
func (h *Hub) clearIfCurrent(tc *tabConn) bool {
	h.mu.Lock()
	isCurrent := h.tabs[tc.tab.ID] == tc
	if isCurrent {
		delete(h.tabs, tc.tab.ID)
	}
	h.mu.Unlock()
	return isCurrent
}

// closeConn closes a connection. Double close is expected (read pump exit
// after a write failure) and logged at Debug level.
func (h *Hub) closeConn(tc *tabConn, reason string) {
	if closeErr := tc.conn.Close(); closeErr != nil {
		slog.Debug("[DEBUG-WS] connection close", "tab", tc.tab.ID, "reason", reason, "error", closeErr)
	}
}

// setWriteDeadlineOrClose sets a write deadline on the connection. If setting
// the deadline fails the connection is in an indeterminate state and is closed.
func (h *Hub) setWriteDeadlineOrClose(tc *tabConn, d time.Duration) bool {
	if err := tc.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
		slog.Warn("[DEBUG-WS] SetWriteDeadline failed, closing connection", "tab", tc.tab.ID, "error", err)
		h.clearIfCurrent(tc)
		h.closeConn(tc, "SetWriteDeadline failure")
		return false
	}
	return true
}

// clearWriteDeadline resets the write deadline after a successful write.
// Failure is non-fatal: the next write sets a fresh deadline.
func (h *Hub) clearWriteDeadline(tc *tabConn) {
	if err := tc.conn.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("[DEBUG-WS] clearWriteDeadline failed (non-fatal)", "error", err)
	}
}

// handleWS upgrades HTTP to WebSocket and runs the read pump for the tab.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	params := ParseConnectParams(r.URL.Query())

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-WS] upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[DEBUG-WS] SetReadDeadline failed on new connection", "error", err)
		if closeErr := conn.Close(); closeErr != nil {
			slog.Debug("[DEBUG-WS] connection close", "error", closeErr)
		}
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	if params.TabID == "" {
		params.TabID = newTabIDFn()
	}
	tc := &tabConn{
		tab: Tab{
			ID:          params.TabID,
			URL:         params.PageURL,
			ConnectedAt: time.Now(),
		},
		conn: conn,
	}

	h.mu.Lock()
	old := h.tabs[tc.tab.ID]
	h.tabs[tc.tab.ID] = tc
	h.mu.Unlock()

	if old != nil {
		h.closeConn(old, "replaced by new connection")
	}

	slog.Info("[DEBUG-WS] tab connected", "tab", tc.tab.ID, "url", tc.tab.URL, "remoteAddr", conn.RemoteAddr())

	pingDone := make(chan struct{})
	go h.pingLoop(tc, pingDone)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] wsserver handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}

		close(pingDone)

		// clearIfCurrent may already have run after a write failure, so
		// ownership of the tab id is checked against the map instead.
		h.clearIfCurrent(tc)
		h.closeConn(tc, "read pump exit")

		h.mu.RLock()
		_, replaced := h.tabs[tc.tab.ID]
		h.mu.RUnlock()
		slog.Info("[DEBUG-WS] tab disconnected", "tab", tc.tab.ID, "replaced", replaced)
		if !replaced && h.opts.OnDisconnect != nil {
			h.opts.OnDisconnect(tc.tab)
		}
	}()

	for {
		msgType, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[DEBUG-WS] read error", "tab", tc.tab.ID, "error", readErr)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, decodeErr := relay.Decode(msg)
		if decodeErr != nil {
			slog.Debug("[DEBUG-WS] invalid message from tab", "tab", tc.tab.ID, "error", decodeErr)
			h.sendError(tc, decodeErr.Error())
			continue
		}
		if h.opts.OnMessage != nil {
			h.opts.OnMessage(tc.tab, env)
		}
	}
}

// pingLoop sends periodic WebSocket pings to detect dead connections.
// Exits when done is closed or a ping fails.
func (h *Hub) pingLoop(tc *tabConn, done <-chan struct{}) {
	defer func() {
		// A connection left open without pings would never be detected as dead.
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] wsserver pingLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.clearIfCurrent(tc)
			h.closeConn(tc, "pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingIntervalFn())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			tc.writeMu.Lock()
			if !h.setWriteDeadlineOrClose(tc, writeDeadline) {
				tc.writeMu.Unlock()
				return
			}
			pingErr := tc.conn.WriteMessage(websocket.PingMessage, nil)
			h.clearWriteDeadline(tc)
			tc.writeMu.Unlock()

			if pingErr != nil {
				slog.Debug("[DEBUG-WS] ping failed, connection likely dead", "tab", tc.tab.ID, "error", pingErr)
				h.clearIfCurrent(tc)
				h.closeConn(tc, "ping failure")
				return
			}
		}
	}
}

// pingIntervalFn is replaced in tests to exercise the ping loop quickly.
var pingIntervalFn = func() time.Duration { return pingInterval }

// sendError tells the tab its last message was rejected.
func (h *Hub) sendError(tc *tabConn, message string) {
	payload, err := relay.Encode(relay.MustMessage(relay.MsgError, message))
	if err != nil {
		slog.Debug("[DEBUG-WS] failed to encode error message", "error", err)
		return
	}
	h.writeText(tc, payload)
}
