package redis

import (
	"fmt"
	"time"
)

// Config for the Redis pub/sub broker.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// BufferSize bounds each subscription's delivery channel. When a
	// subscriber falls behind, further records for it are dropped.
	BufferSize int

	// PingTimeout bounds the connectivity check at construction time.
	PingTimeout time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:        "127.0.0.1:6379",
		DB:          0,
		BufferSize:  1024,
		PingTimeout: 2 * time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("config: buffer_size must be >= 1, got %d", c.BufferSize)
	}
	if c.PingTimeout <= 0 {
		return fmt.Errorf("config: ping_timeout must be > 0, got %v", c.PingTimeout)
	}
	return nil
}
