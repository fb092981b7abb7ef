package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/webext/internal/host"
	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/danmuck/webext/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadHostConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadHostConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SocketPath != "/tmp/webext/ipc-host.sock" {
		t.Fatalf("unexpected socket: %q", cfg.SocketPath)
	}
	if cfg.AdminListenAddr != "127.0.0.1:7120" {
		t.Fatalf("unexpected admin listen: %q", cfg.AdminListenAddr)
	}
	if cfg.Limits.MaxPayloadBytes != 4<<20 {
		t.Fatalf("unexpected payload limit: %d", cfg.Limits.MaxPayloadBytes)
	}
	if cfg.AdminToken != "change-me" {
		t.Fatalf("unexpected admin token: %q", cfg.AdminToken)
	}
	if cfg.PendingLimit != 256 {
		t.Fatalf("unexpected pending limit: %d", cfg.PendingLimit)
	}
	if cfg.ReadyTimeout != 5*time.Second {
		t.Fatalf("unexpected ready timeout: %v", cfg.ReadyTimeout)
	}
	if cfg.Spawn.Command != "webext-worker" || cfg.Spawn.Count != 2 {
		t.Fatalf("unexpected spawn config: %+v", cfg.Spawn)
	}
	if len(cfg.Spawn.Args) != 2 || cfg.Spawn.Args[1] != "ext" {
		t.Fatalf("unexpected worker args: %+v", cfg.Spawn.Args)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadHostConfigKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadHostConfig(writeConfig(t, `socket_path = "/tmp/x.sock"`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := host.DefaultConfig()
	if cfg.Limits != frame.DefaultLimits() {
		t.Fatalf("unexpected limits: %+v", cfg.Limits)
	}
	if cfg.PendingLimit != want.PendingLimit || cfg.ReadyTimeout != want.ReadyTimeout {
		t.Fatalf("defaults overwritten: %+v", cfg)
	}
}

func TestLoadHostConfigErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration": `ready_timeout = "soon"`,
		"bad level":    `log_level = "loud"`,
		"unknown key":  `sockett_path = "/tmp/x.sock"`,
		"bad syntax":   `socket_path = `,
	}
	for name, content := range cases {
		if _, err := loadHostConfig(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadHostConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoadHostConfigLogLevelNames(t *testing.T) {
	testlog.Start(t)
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	for name, want := range map[string]zerolog.Level{
		"off":     zerolog.Disabled,
		"warning": zerolog.WarnLevel,
		"debug":   zerolog.DebugLevel,
	} {
		if _, err := loadHostConfig(writeConfig(t, `log_level = "`+name+`"`)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got := zerolog.GlobalLevel(); got != want {
			t.Fatalf("%s: got level %s want %s", name, got, want)
		}
	}
}
