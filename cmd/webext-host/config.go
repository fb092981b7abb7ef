package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/webext/internal/host"
	"github.com/danmuck/webext/internal/logging"
)

type fileConfig struct {
	SocketPath      string   `toml:"socket_path"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	AdminToken      string   `toml:"admin_token"`
	MaxPayloadBytes uint32   `toml:"max_payload_bytes"`
	PendingLimit    int      `toml:"pending_limit"`
	ReadyTimeout    string   `toml:"ready_timeout"`
	LogLevel        string   `toml:"log_level"`
	WorkerCommand   string   `toml:"worker_command"`
	WorkerArgs      []string `toml:"worker_args"`
	WorkerEnv       []string `toml:"worker_env"`
	SpawnWorkers    int      `toml:"spawn_workers"`
}

func loadHostConfig(path string) (host.Config, error) {
	cfg := host.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return host.Config{}, fmt.Errorf("load host config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return host.Config{}, fmt.Errorf("load host config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("socket_path") {
		cfg.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("pending_limit") {
		cfg.PendingLimit = raw.PendingLimit
	}
	if meta.IsDefined("ready_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadyTimeout))
		if err != nil {
			return host.Config{}, fmt.Errorf("parse ready_timeout: %w", err)
		}
		cfg.ReadyTimeout = d
	}
	if meta.IsDefined("log_level") {
		if !logging.SetLevel(raw.LogLevel) {
			return host.Config{}, fmt.Errorf("parse log_level: unknown level %q", raw.LogLevel)
		}
	}
	if meta.IsDefined("worker_command") {
		cfg.Spawn.Command = strings.TrimSpace(raw.WorkerCommand)
	}
	if meta.IsDefined("worker_args") {
		cfg.Spawn.Args = append([]string{}, raw.WorkerArgs...)
	}
	if meta.IsDefined("worker_env") {
		cfg.Spawn.Env = append([]string{}, raw.WorkerEnv...)
	}
	if meta.IsDefined("spawn_workers") {
		cfg.Spawn.Count = raw.SpawnWorkers
	}
	return cfg, nil
}
