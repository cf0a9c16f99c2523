package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	defaultConnTimeout       = 10 * time.Second
	defaultMaxConnections    = 16
	connSlotAcquireTimeout   = 2 * time.Second
	acceptErrorBurstLimit    = 10
	acceptErrorBurstCooldown = 500 * time.Millisecond
)

// Server accepts pipe connections and hands each request to a Handler.
// One request is served per connection.
type Server struct {
	pipeName string
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	wg        sync.WaitGroup
	connSlots chan struct{}
}

// NewServer constructs a Server. An empty pipeName uses DefaultPipeName.
func NewServer(pipeName string, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if pipeName == "" {
		pipeName = DefaultPipeName()
	}
	return &Server{
		pipeName:  pipeName,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		connSlots: make(chan struct{}, defaultMaxConnections),
	}
}

// PipeName returns the listen address.
func (s *Server) PipeName() string {
	return s.pipeName
}

// Start begins listening.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("ipc: server already started")
	}
	if s.handler == nil {
		return errors.New("ipc: server requires a handler")
	}

	listener, err := listen(s.pipeName)
	if err != nil {
		return fmt.Errorf("ipc: listen %s: %w", s.pipeName, err)
	}

	s.listener = listener
	s.started = true
	s.wg.Go(s.acceptLoop)
	slog.Info("[ipc] pulse pipe listening", "pipe", s.pipeName)
	return nil
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			slog.Warn("[ipc] failed to close pipe listener during shutdown", "error", err)
		}
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	consecutiveErrors := 0
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors > acceptErrorBurstLimit {
				slog.Warn("[ipc] accept loop: repeated failures", "error", err, "count", consecutiveErrors)
				time.Sleep(acceptErrorBurstCooldown)
			} else {
				slog.Debug("[ipc] accept error", "error", err)
			}
			continue
		}
		consecutiveErrors = 0

		if !s.acquireConnectionSlot() {
			s.writeResponse(conn, Response{Error: "server busy, try again later"})
			if closeErr := conn.Close(); closeErr != nil {
				slog.Debug("[ipc] failed to close rejected connection", "error", closeErr)
			}
			continue
		}

		s.wg.Go(func() {
			defer s.releaseConnectionSlot()
			s.handleConnection(conn)
		})
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		slog.Warn("[ipc] failed to set connection deadline", "error", err)
		return
	}

	reader := bufio.NewReaderSize(conn, maxRequestBytes+1)
	raw, err := readDelimitedFrame(reader, maxRequestBytes)
	if errors.Is(err, io.EOF) {
		slog.Debug("[ipc] client disconnected without sending data")
		return
	}
	if err != nil {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	req, err := decodeRequest(raw)
	if err != nil {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	slog.Debug("[ipc] request received", "command", req.Command)
	s.writeResponse(conn, s.handler.Handle(req))
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	raw, err := encodeFrame(resp)
	if err != nil {
		slog.Warn("[ipc] failed to encode response", "error", err)
		raw = []byte(`{"ok":false,"error":"internal encode error"}` + "\n")
	}
	if _, err := conn.Write(raw); err != nil {
		slog.Debug("[ipc] failed to write response", "error", err)
	}
}

func (s *Server) acquireConnectionSlot() bool {
	timer := time.NewTimer(connSlotAcquireTimeout)
	defer timer.Stop()
	select {
	case s.connSlots <- struct{}{}:
		return true
	case <-timer.C:
		slog.Warn("[ipc] connection slots exhausted, rejecting client")
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) releaseConnectionSlot() {
	select {
	case <-s.connSlots:
	default:
		slog.Warn("[ipc] releaseConnectionSlot: no slot to release (possible double-release)")
	}
}
