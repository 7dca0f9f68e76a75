package memory

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

// Use builds and sets the default xledger.Bus on fully in-memory adapters
// and returns it, mirroring the adapter Use pattern for explicit, one-call
// initialization in development and tests.
//
// It fails fast by panicking if construction fails.
func Use(cfg BrokerConfig, opts ...Option) *xledger.Bus {
	bus, err := xledger.Default(func(b *xledger.BusBuilder) {
		b.WithLog(NewLog()).
			WithBroker(NewBroker(cfg)).
			WithDedup(NewDedupStore())
		for _, o := range opts {
			if o != nil {
				o(b)
			}
		}
	})
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return bus
}
