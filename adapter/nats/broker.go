package nats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/trickstertwo/xledger"
)

// Config for the NATS broker.
type Config struct {
	// URL of the NATS server, e.g. nats://127.0.0.1:4222.
	URL string

	// BufferSize bounds each subscription's delivery channel. When a
	// subscriber falls behind, further records for it are dropped.
	BufferSize int

	// ReconnectWait between reconnect attempts. Reconnects are unlimited.
	ReconnectWait time.Duration

	// Options are extra nats.Option values appended to the defaults,
	// e.g. disconnect/reconnect handlers or credentials.
	Options []nats.Option
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		URL:           nats.DefaultURL,
		BufferSize:    1024,
		ReconnectWait: time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("config: buffer_size must be >= 1, got %d", c.BufferSize)
	}
	if c.ReconnectWait <= 0 {
		return fmt.Errorf("config: reconnect_wait must be > 0, got %v", c.ReconnectWait)
	}
	return nil
}

// Broker publishes record frames over NATS subjects.
type Broker struct {
	cfg   Config
	conn  *nats.Conn
	codec xledger.Codec

	closeOnce sync.Once
	closed    atomic.Bool

	dropped atomic.Uint64
}

var _ xledger.Broker = (*Broker)(nil)

// New connects to NATS with automatic reconnection.
func New(cfg Config, codec xledger.Codec) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if codec == nil {
		codec = xledger.JSONCodec{}
	}

	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
	}
	conn, err := nats.Connect(cfg.URL, append(defaults, cfg.Options...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return &Broker{cfg: cfg, conn: conn, codec: codec}, nil
}

// Publish sends one record frame to a subject.
func (b *Broker) Publish(ctx context.Context, channel string, rec xledger.Record) error {
	if b.closed.Load() {
		return xledger.ErrBusClosed
	}
	frame, err := xledger.EncodeRecord(b.codec, rec)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(channel, frame); err != nil {
		return &xledger.TransportError{Op: "nats publish", Err: err}
	}
	return nil
}

// Subscribe registers a subject subscription and delivers decoded frames on
// the returned channel. The NATS callback never blocks: when the channel
// buffer is full the frame is dropped.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan xledger.Record, func(), error) {
	if b.closed.Load() {
		return nil, nil, xledger.ErrBusClosed
	}

	ch := make(chan xledger.Record, b.cfg.BufferSize)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := b.conn.Subscribe(channel, func(msg *nats.Msg) {
		rec, err := xledger.DecodeRecord(b.codec, msg.Data)
		if err != nil {
			b.dropped.Add(1)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- rec:
		default:
			b.dropped.Add(1)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, &xledger.TransportError{Op: "nats subscribe", Err: err}
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so frames published on other connections are routed.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, &xledger.TransportError{Op: "nats flush", Err: err}
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			// Drain remaining frames so the callback can't race a send
			// against close, then close.
			for {
				select {
				case <-ch:
				default:
					close(ch)
					return
				}
			}
		})
	}

	return ch, cancel, nil
}

// Dropped reports frames discarded due to backpressure or decode failure.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// Close drains and closes the connection.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.conn.Close()
	})
	return nil
}
