//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"webptt/internal/userutil"
)

const socketSuffix = ".sock"

func socketDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); dir != "" {
		return dir
	}
	return os.TempDir()
}

func defaultPipeName() string {
	return filepath.Join(socketDir(), "webptt-"+userutil.CurrentUsername()+socketSuffix)
}

func validPipeName(name string) bool {
	return filepath.IsAbs(name) &&
		strings.HasPrefix(filepath.Base(name), "webptt-") &&
		strings.HasSuffix(name, socketSuffix)
}

// listen binds a unix socket readable only by the current user. A stale
// socket file left by a crashed server is removed first; a live one is
// reported as in use.
func listen(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if conn, dialErr := net.DialTimeout("unix", path, 200*time.Millisecond); dialErr == nil {
			conn.Close()
			return nil, fmt.Errorf("socket %s already in use", path)
		}
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, fmt.Errorf("remove stale socket: %w", rmErr)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

func dial(path string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", path, timeout)
}
