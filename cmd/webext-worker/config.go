package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/webext/internal/worker"
)

type fileConfig struct {
	Name            string `toml:"name"`
	SocketPath      string `toml:"socket_path"`
	ConnectAttempts int    `toml:"connect_attempts"`
	ConnectTimeout  string `toml:"connect_timeout"`
	ReadyTimeout    string `toml:"ready_timeout"`
	BackoffInitial  string `toml:"backoff_initial"`
	BackoffMax      string `toml:"backoff_max"`
	MaxPayloadBytes uint32 `toml:"max_payload_bytes"`
}

func loadWorkerConfig(path string) (worker.Config, error) {
	cfg := worker.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return worker.Config{}, fmt.Errorf("load worker config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("socket_path") {
		cfg.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("connect_attempts") {
		cfg.Session.ConnectAttempts = raw.ConnectAttempts
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"ready_timeout", raw.ReadyTimeout, &cfg.Session.ReadyTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Session.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return worker.Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if err := cfg.Session.Validate(); err != nil {
		return worker.Config{}, err
	}
	return cfg, nil
}
