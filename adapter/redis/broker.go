package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xledger"
)

// Broker publishes record frames over Redis pub/sub channels.
type Broker struct {
	cfg    Config
	client *redis.Client
	codec  xledger.Codec

	closeOnce sync.Once
	closed    atomic.Bool

	dropped atomic.Uint64
}

var _ xledger.Broker = (*Broker)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config, codec xledger.Codec) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if codec == nil {
		codec = xledger.JSONCodec{}
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Broker{cfg: cfg, client: client, codec: codec}, nil
}

// Publish sends one record frame to a channel.
func (b *Broker) Publish(ctx context.Context, channel string, rec xledger.Record) error {
	if b.closed.Load() {
		return xledger.ErrBusClosed
	}
	frame, err := xledger.EncodeRecord(b.codec, rec)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, frame).Err(); err != nil {
		return &xledger.TransportError{Op: "redis publish", Err: err}
	}
	return nil
}

// Subscribe opens a pub/sub subscription and pumps decoded frames into the
// returned channel. Frames that arrive while the subscriber's buffer is full
// are dropped, keeping the pump from blocking on a slow consumer.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan xledger.Record, func(), error) {
	if b.closed.Load() {
		return nil, nil, xledger.ErrBusClosed
	}

	sub := b.client.Subscribe(ctx, channel)
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, &xledger.TransportError{Op: "redis subscribe", Err: err}
	}

	out := make(chan xledger.Record, b.cfg.BufferSize)
	done := make(chan struct{})

	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				rec, err := xledger.DecodeRecord(b.codec, []byte(msg.Payload))
				if err != nil {
					b.dropped.Add(1)
					continue
				}
				select {
				case out <- rec:
				default:
					b.dropped.Add(1)
				}
			}
		}
	}()

	var cancelOnce sync.Once
	cancel := func() {
		cancelOnce.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}

// Dropped reports frames discarded due to backpressure or decode failure.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// Close shuts the client down. Open subscriptions observe the closed
// connection and drain.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		err = b.client.Close()
	})
	return err
}

func ping(c *redis.Client, cfg Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
