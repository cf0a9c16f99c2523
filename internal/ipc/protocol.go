// Package ipc is the local pulse pipe. External hotkey tools send a
// newline-delimited JSON Request and read one Response per connection.
// On Windows the transport is a named pipe restricted to the current user;
// elsewhere it is a unix socket with 0600 permissions.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// PipeEnv overrides the default pipe name.
const PipeEnv = "WEBPTT_PIPE"

// Commands accepted by the server.
const (
	CommandPulse = "pulse"
	CommandPing  = "ping"
)

const (
	maxRequestBytes  = 4 * 1024
	maxResponseBytes = 4 * 1024
)

// Request is one command sent over the pipe.
type Request struct {
	Command string `json:"command"`
}

// Response answers a Request.
type Response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Pulses uint64 `json:"pulses,omitempty"`
}

// Handler executes a request.
type Handler interface {
	Handle(req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req Request) Response

// Handle calls f(req).
func (f HandlerFunc) Handle(req Request) Response { return f(req) }

// DefaultPipeName returns the pipe to use. A PipeEnv value that matches the
// platform naming pattern wins; otherwise a per-user default is built.
func DefaultPipeName() string {
	if v, ok := trustedPipeNameFromEnv(); ok {
		return v
	}
	return defaultPipeName()
}

func trustedPipeNameFromEnv() (string, bool) {
	value := strings.TrimSpace(os.Getenv(PipeEnv))
	if value == "" {
		return "", false
	}
	if !validPipeName(value) {
		slog.Warn("[ipc] "+PipeEnv+" rejected: value does not match allowed pattern", "value", value)
		return "", false
	}
	return value, true
}

func encodeFrame(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return Request{}, errors.New("missing command")
	}
	return req, nil
}

func decodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// readDelimitedFrame reads one '\n' terminated frame of at most maxBytes.
// The reader must be sized maxBytes+1. A final frame without delimiter is
// accepted at EOF.
func readDelimitedFrame(reader *bufio.Reader, maxBytes int) ([]byte, error) {
	raw, err := reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxBytes)
	}
	if errors.Is(err, io.EOF) {
		if len(raw) == 0 {
			return nil, io.EOF
		}
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}
