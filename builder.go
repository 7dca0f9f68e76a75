package xledger

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	taxonomy *Taxonomy
	router   *Router
	log      Log
	broker   Broker
	dedup    DedupStore
	registry *SchemaRegistry

	codecName string
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	producer    string
	mode        Mode

	poolWorkers int
	poolBuffer  int
}

// NewBusBuilder returns a new builder with sensible defaults: the platform
// taxonomy, the default router prefix, JSON codec, required mode.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		codecName:   "json",
		mode:        ModeRequired,
		producer:    "xledger",
		poolWorkers: 4,
		poolBuffer:  1000,
	}
}

// WithTaxonomy replaces the default platform taxonomy.
func (bb *BusBuilder) WithTaxonomy(t *Taxonomy) *BusBuilder {
	bb.taxonomy = t
	return bb
}

// WithRouter replaces the default router (e.g. to change the channel prefix).
func (bb *BusBuilder) WithRouter(r *Router) *BusBuilder {
	bb.router = r
	return bb
}

// WithLog wires the durable log adapter. Required outside degraded mode.
func (bb *BusBuilder) WithLog(l Log) *BusBuilder {
	bb.log = l
	return bb
}

// WithBroker wires the real-time fan-out adapter. Optional: without it the
// bus is log-only and consumers poll.
func (bb *BusBuilder) WithBroker(br Broker) *BusBuilder {
	bb.broker = br
	return bb
}

// WithDedup wires the dedup record store used by consumer loops.
func (bb *BusBuilder) WithDedup(d DedupStore) *BusBuilder {
	bb.dedup = d
	return bb
}

// WithRegistry hands the schema version registry to the bus. Populate it at
// startup; it is read-only during consumption.
func (bb *BusBuilder) WithRegistry(r *SchemaRegistry) *BusBuilder {
	bb.registry = r
	return bb
}

// WithCodec selects a codec by name (default: json).
func (bb *BusBuilder) WithCodec(name string) *BusBuilder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready Codec instance.
func (bb *BusBuilder) WithCodecInstance(c Codec) *BusBuilder {
	bb.codecInst = c
	return bb
}

// WithMiddleware adds processing middlewares applied around every handler.
func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

// WithObserver attaches observers for lifecycle telemetry.
func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithLogger injects a custom xlog logger.
func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

// WithClock injects a custom xclock clock.
func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithProducer names this process in stamped event metadata.
func (bb *BusBuilder) WithProducer(name string) *BusBuilder {
	if name != "" {
		bb.producer = name
	}
	return bb
}

// WithMode selects the operating mode. Required (default) treats a missing
// backing store as fatal; degraded (development/CI only) disables
// publish/subscribe without crashing, with a loud warning.
func (bb *BusBuilder) WithMode(m Mode) *BusBuilder {
	bb.mode = m
	return bb
}

// WithObserverPool sizes the async telemetry pool.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	if workers > 0 {
		bb.poolWorkers = workers
	}
	if bufferSize > 0 {
		bb.poolBuffer = bufferSize
	}
	return bb
}

// Build assembles the bus. In required mode a missing log is a fatal
// configuration error; in degraded mode the bus comes up disabled.
func (bb *BusBuilder) Build() (*Bus, error) {
	taxonomy := bb.taxonomy
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}
	router := bb.router
	if router == nil {
		router = NewRouter()
	}
	registry := bb.registry
	if registry == nil {
		registry = NewSchemaRegistry()
	}

	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		var err error
		cd, err = NewCodec(bb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	if bb.log == nil {
		if bb.mode != ModeDegraded {
			return nil, ErrNoLogConfigured
		}
		lg.Warn().Msg("xledger: DEGRADED MODE - no backing store, publishing and subscribing are disabled")
	}
	if bb.log != nil && bb.dedup == nil {
		return nil, &ConfigError{Reason: "a dedup store is required alongside the durable log"}
	}

	b := &Bus{
		taxonomy:     taxonomy,
		router:       router,
		log:          bb.log,
		broker:       bb.broker,
		dedup:        bb.dedup,
		registry:     registry,
		codec:        cd,
		clock:        clk,
		logger:       lg,
		middlewares:  bb.middlewares,
		producer:     bb.producer,
		mode:         bb.mode,
		observerPool: NewObserverPool(context.Background(), bb.poolWorkers, bb.poolBuffer),
		activeSubs:   make(map[string]struct{}),
		metrics:      &busMetrics{},
	}

	// Attach the logging observer first for dependable telemetry unless one
	// was supplied externally.
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b, nil
}

// New constructs a Bus via Builder and returns a close func for convenience.
func New(init func(b *BusBuilder)) (*Bus, func() error, error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return bus.Close(context.Background()) }
	return bus, closeFn, nil
}
