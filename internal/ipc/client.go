package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"time"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultRWTimeout   = 5 * time.Second
)

// Send sends one request and waits for its response. An empty pipeName uses
// DefaultPipeName.
func Send(pipeName string, req Request) (Response, error) {
	if pipeName == "" {
		pipeName = DefaultPipeName()
	}

	conn, err := dial(pipeName, defaultDialTimeout)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(defaultRWTimeout)); err != nil {
		return Response{}, fmt.Errorf("ipc: set deadline: %w", err)
	}

	raw, err := encodeFrame(req)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: encode request: %w", err)
	}
	if _, err := conn.Write(raw); err != nil {
		return Response{}, fmt.Errorf("ipc: write request: %w", err)
	}

	respRaw, err := readDelimitedFrame(bufio.NewReaderSize(conn, maxResponseBytes+1), maxResponseBytes)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: read response: %w", err)
	}
	resp, err := decodeResponse(respRaw)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: invalid response: %w", err)
	}
	return resp, nil
}

// IsConnectionError reports whether err means no server is listening.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "open"
	}
	return false
}
