package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"
)

// listenSocket replaces any stale socket at path and restricts it to the
// current user.
func listenSocket(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0700); err != nil {
		listener.Close()
		return nil, err
	}
	return listener, nil
}

// DialSocket connects a page agent to the daemon's socket.
func DialSocket(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

func socketResponsive(path string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
