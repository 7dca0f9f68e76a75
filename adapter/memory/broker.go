package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xledger"
)

// BrokerConfig controls the in-memory broker.
type BrokerConfig struct {
	// BufferSize is the per-subscriber queue size (default 1024). A full
	// queue drops the frame: at-most-once by design.
	BufferSize int
}

// Broker fans record frames out to live subscribers per channel. Frames are
// dropped when a subscriber's buffer is full or nobody is listening; the
// durable log is the system of record, not this.
type Broker struct {
	cfg BrokerConfig

	mu       sync.RWMutex
	channels map[string]map[int]chan xledger.Record
	nextSub  int

	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ xledger.Broker = (*Broker)(nil)

// NewBroker returns an in-memory broker.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	return &Broker{
		cfg:      cfg,
		channels: make(map[string]map[int]chan xledger.Record),
	}
}

func (b *Broker) Publish(ctx context.Context, channel string, rec xledger.Record) error {
	if b.closed.Load() {
		return errors.New("memory broker is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	subs := b.channels[channel]
	// No subscribers: the frame is simply lost, which is acceptable.
	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan xledger.Record, func(), error) {
	if b.closed.Load() {
		return nil, nil, errors.New("memory broker is closed")
	}

	ch := make(chan xledger.Record, b.cfg.BufferSize)

	b.mu.Lock()
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[int]chan xledger.Record)
	}
	id := b.nextSub
	b.nextSub++
	b.channels[channel][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.channels[channel]; subs != nil {
				delete(subs, id)
			}
			b.mu.Unlock()
			// Drain so a racing Publish never blocks, then close.
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

// Dropped returns how many frames were lost to full buffers.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.channels {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
	}
	return nil
}
