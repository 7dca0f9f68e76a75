package redis

import (
	"fmt"

	"github.com/trickstertwo/xledger"
)

// Option configures the xledger.Bus construction when calling Use.
type Option func(*xledger.BusBuilder)

// WithBuilder exposes the underlying builder for arbitrary configuration.
func WithBuilder(fn func(*xledger.BusBuilder)) Option {
	return func(b *xledger.BusBuilder) {
		if fn != nil {
			fn(b)
		}
	}
}

// Use connects the Redis broker, builds the default xledger.Bus with it and
// returns the bus. Log and dedup store still have to be supplied through an
// option; Redis carries only the best-effort fan-out path.
//
// It fails fast by panicking if construction fails.
func Use(cfg Config, opts ...Option) *xledger.Bus {
	broker, err := New(cfg, nil)
	if err != nil {
		panic(fmt.Errorf("redis.Use: %w", err))
	}
	bus, err := xledger.Default(func(b *xledger.BusBuilder) {
		b.WithBroker(broker)
		for _, o := range opts {
			if o != nil {
				o(b)
			}
		}
	})
	if err != nil {
		panic(fmt.Errorf("redis.Use: %w", err))
	}
	return bus
}
