package session

import (
	"fmt"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines worker dial and bootstrap defaults.
type Config struct {
	// ConnectAttempts bounds dial attempts. 1 means fail on the first error.
	ConnectAttempts int
	ConnectTimeout  time.Duration
	// ReadyTimeout bounds the local init hooks before the ready signal.
	ReadyTimeout time.Duration
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectAttempts: 1,
		ConnectTimeout:  5 * time.Second,
		ReadyTimeout:    10 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) Validate() error {
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("session: connect_attempts must be >= 1, got %d", c.ConnectAttempts)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("session: connect_timeout must be > 0")
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.InitialDelay > c.Backoff.MaxDelay {
		return fmt.Errorf("session: backoff_initial exceeds backoff_max")
	}
	return nil
}
