package session

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// SocketFlag carries the transport address to a spawned worker.
	SocketFlag = "ipc-socket"
	// EnvSocket is read when the flag is absent.
	EnvSocket = "WEBEXT_IPC_SOCKET"
	// MaxSocketPath is the sun_path limit on Linux minus the terminator.
	MaxSocketPath = 107
)

var ErrNoSocket = errors.New("session: no ipc socket address")

// SocketArg renders the worker command line argument for path.
func SocketArg(path string) string {
	return "--" + SocketFlag + "=" + path
}

// ResolveSocket picks the flag value, then the environment.
func ResolveSocket(flagValue string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv(EnvSocket)); v != "" {
		return v, nil
	}
	return "", ErrNoSocket
}

// DefaultSocketPath places the socket under XDG_RUNTIME_DIR, falling back to
// the temp dir.
func DefaultSocketPath(pid int) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "webext", "ipc-"+strconv.Itoa(pid)+".sock")
}
