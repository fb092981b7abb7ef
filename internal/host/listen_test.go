package host

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/danmuck/webext/internal/testutil/testlog"
)

func TestListenReplacesStaleSocket(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	stale.SetUnlinkOnClose(false)
	_ = stale.Close()
	if _, err := os.Lstat(path); err != nil {
		t.Fatalf("stale socket missing: %v", err)
	}

	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("listen over stale socket: %v", err)
	}
	defer ln.Close()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("socket mode: %o", perm)
	}
}

func TestListenRefusesLiveSocket(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	if _, err := Listen(path); !errors.Is(err, ErrSocketInUse) {
		t.Fatalf("expected ErrSocketInUse, got %v", err)
	}
}

func TestListenRejectsRegularFile(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Listen(path); !errors.Is(err, ErrSocketInUse) {
		t.Fatalf("expected ErrSocketInUse, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected socket_path error")
	}
	cfg.SocketPath = "/tmp/x.sock"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
	cfg.Spawn.Count = 2
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected worker_command error")
	}
	cfg.Spawn.Command = "/bin/true"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("spawn config: %v", err)
	}
}
