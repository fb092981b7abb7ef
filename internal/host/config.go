package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/webext/internal/protocol/frame"
)

// SpawnConfig describes the worker processes the host launches itself.
type SpawnConfig struct {
	Command string
	Args    []string
	Env     []string
	Count   int
}

// Config is the UI-side IPC configuration.
type Config struct {
	SocketPath      string
	AdminListenAddr string
	// AdminToken, when set, is required as a bearer token on every admin
	// route except /health.
	AdminToken string
	Limits     frame.Limits
	// PendingLimit caps messages queued per worker before it is Ready.
	PendingLimit int
	// ReadyTimeout bounds WaitReady for spawned workers.
	ReadyTimeout time.Duration
	Spawn        SpawnConfig
}

func DefaultConfig() Config {
	return Config{
		SocketPath:      "",
		AdminListenAddr: "",
		Limits:          frame.DefaultLimits(),
		PendingLimit:    1024,
		ReadyTimeout:    10 * time.Second,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SocketPath) == "" {
		return fmt.Errorf("host: socket_path required")
	}
	if c.Limits.MaxPayloadBytes == 0 {
		return fmt.Errorf("host: max_payload_bytes must be > 0")
	}
	if c.Spawn.Count < 0 {
		return fmt.Errorf("host: spawn_workers must be >= 0")
	}
	if c.Spawn.Count > 0 && strings.TrimSpace(c.Spawn.Command) == "" {
		return fmt.Errorf("host: worker_command required when spawn_workers > 0")
	}
	return nil
}
