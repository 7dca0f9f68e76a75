package xledger

import (
	"context"
	"sync"
)

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// Default returns the process-wide singleton Bus. If it isn't initialized
// yet, it initializes it using the optional init function (Builder + Factory).
func Default(init func(b *BusBuilder)) (*Bus, error) {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()

	if defaultBus != nil {
		return defaultBus, nil
	}
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, err
	}
	defaultBus = bus
	return defaultBus, nil
}

// SetDefault replaces the process-wide default Bus.
func SetDefault(b *Bus) {
	if b == nil {
		panic("xledger: SetDefault called with nil Bus")
	}
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

// Publish is the Facade using the default bus.
func Publish(ctx context.Context, ev Event) (uint64, error) {
	b, err := Default(nil)
	if err != nil {
		return 0, err
	}
	return b.Publish(ctx, ev)
}

// Subscribe is the Facade using the default bus.
func Subscribe(ctx context.Context, subscriber string, kinds []string, handler Handler) (Subscription, error) {
	b, err := Default(nil)
	if err != nil {
		return nil, err
	}
	return b.Subscribe(ctx, subscriber, kinds, handler)
}

// History is the Facade using the default bus.
func History(ctx context.Context, f HistoryFilter) ([]Record, bool, error) {
	b, err := Default(nil)
	if err != nil {
		return nil, false, err
	}
	return b.History(ctx, f)
}
