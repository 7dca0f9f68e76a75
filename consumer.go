package xledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ConsumerState tracks where a subscription loop currently is.
type ConsumerState int32

const (
	StateIdle ConsumerState = iota
	StateReading
	StateProcessing
	StateStopped
)

func (s ConsumerState) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Outcome is the terminal state of processing one record.
type Outcome int

const (
	// OutcomeAcked: handler succeeded, dedup record inserted.
	OutcomeAcked Outcome = iota
	// OutcomeAckedDedup: the (subscriber, offset) pair was already
	// processed; the handler was not invoked.
	OutcomeAckedDedup
	// OutcomeAckedPermanent: permanent failure, dedup record inserted with
	// an error annotation; never retried.
	OutcomeAckedPermanent
	// OutcomeRetryPending: transient failure, no dedup record; the record
	// must be redelivered.
	OutcomeRetryPending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAckedDedup:
		return "acked_dedup"
	case OutcomeAckedPermanent:
		return "acked_permanent"
	case OutcomeRetryPending:
		return "retry_pending"
	default:
		return "acked"
	}
}

// ConsumerConfig assembles a Consumer's collaborators.
type ConsumerConfig struct {
	// Name identifies the subscriber; dedup keys are namespaced by it.
	Name string
	// Log is read as the authoritative record stream.
	Log Log
	// Dedup persists processing marks for this subscriber.
	Dedup DedupStore
	// Registry upcasts stale payloads before dispatch.
	Registry *SchemaRegistry
	// Broker, when set, is used only as a low-latency wakeup; correctness
	// never depends on it.
	Broker Broker
	// Channels to watch for wakeups (typically Router.ChannelsForKinds).
	Channels []string
	// StartOffset is the first offset to read (0 = beginning of the log).
	StartOffset uint64
	// BatchSize caps one log read (default 128).
	BatchSize int
	// PollInterval bounds the wait for new records when no broker wakeup
	// arrives (default 2s).
	PollInterval time.Duration
	// RetryBackoff is the pause before re-reading a transiently failed
	// offset (default 500ms).
	RetryBackoff time.Duration

	Codec       Codec
	Logger      *xlog.Logger
	Clock       xclock.Clock
	Middlewares []Middleware

	// notify forwards lifecycle telemetry to the bus observers.
	notify func(BusEvent)
}

// Consumer is the idempotent subscription side of the bus. It tails the
// durable log, short-circuits redeliveries through the dedup store, upcasts
// stale payloads and classifies handler failures. For a fixed subscriber a
// given offset has its handler invoked at most once on the success path,
// however often the transport redelivers it.
type Consumer struct {
	cfg        ConsumerConfig
	dispatcher *dispatcher
	instanceID string

	// after schedules the poll and backoff waits; tests swap it to drive
	// the loop without real sleeps.
	after func(time.Duration) <-chan time.Time

	running atomic.Bool
	state   atomic.Int32
}

// NewConsumer validates cfg and builds a consumer with an empty handler set.
// Register handlers with Handle before Start.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Name == "" {
		return nil, ErrInvalidSubscription
	}
	if cfg.Log == nil {
		return nil, ErrNoLogConfigured
	}
	if cfg.Dedup == nil {
		return nil, &ConfigError{Reason: "consumer requires a dedup store"}
	}
	if cfg.Registry == nil {
		cfg.Registry = NewSchemaRegistry()
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = xlog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = xclock.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 128
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.notify == nil {
		cfg.notify = func(BusEvent) {}
	}
	// Dedup keys are shared by every instance of a subscriber; the instance
	// ID exists so racing instances can be told apart in logs.
	instanceID := uuid.NewString()
	cfg.Logger = cfg.Logger.With(
		xlog.Str("subscriber", cfg.Name),
		xlog.Str("instance", instanceID),
	)
	return &Consumer{
		cfg:        cfg,
		dispatcher: newDispatcher(cfg.Registry, cfg.Codec, cfg.Logger, cfg.Clock, cfg.Middlewares),
		instanceID: instanceID,
		after:      time.After,
	}, nil
}

// Handle binds handler to kind. Call before Start; the handler table is not
// safe for mutation while the loop runs.
func (c *Consumer) Handle(kind string, handler Handler) {
	c.dispatcher.register(kind, handler)
}

// Name returns the subscriber name.
func (c *Consumer) Name() string { return c.cfg.Name }

// InstanceID returns the identifier distinguishing this consumer from other
// instances of the same subscriber. It is generated at construction and also
// carried on every log line the loop emits.
func (c *Consumer) InstanceID() string { return c.instanceID }

// State reports the loop's current position in its lifecycle.
func (c *Consumer) State() ConsumerState { return ConsumerState(c.state.Load()) }

// ProcessRecord runs the idempotent state machine for one record:
// dedup short-circuit, upcast, dispatch, ack decision. Exposed so transports
// and tests can drive delivery directly.
func (c *Consumer) ProcessRecord(ctx context.Context, rec Record) (Outcome, error) {
	seen, err := c.cfg.Dedup.Seen(ctx, c.cfg.Name, rec.Offset)
	if err != nil {
		return OutcomeRetryPending, &TransportError{Op: "dedup read", Err: err}
	}
	if seen {
		c.cfg.notify(BusEvent{
			Type: EventAckDedup, Subscriber: c.cfg.Name,
			EventID: rec.Event.ID, Kind: rec.Event.Kind, Offset: rec.Offset,
		})
		return OutcomeAckedDedup, nil
	}

	start := c.cfg.Clock.Now()
	c.cfg.notify(BusEvent{
		Type: EventConsumeStart, Subscriber: c.cfg.Name,
		EventID: rec.Event.ID, Kind: rec.Event.Kind, Offset: rec.Offset,
	})

	handlerErr := c.dispatcher.dispatch(ctx, rec)
	duration := c.cfg.Clock.Since(start)

	c.cfg.notify(BusEvent{
		Type: EventConsumeDone, Subscriber: c.cfg.Name,
		EventID: rec.Event.ID, Kind: rec.Event.Kind, Offset: rec.Offset,
		Duration: duration, Err: handlerErr,
	})

	if handlerErr == nil {
		// The dedup insert happens only after the handler has fully
		// returned, preserving the at-most-once-effect guarantee.
		if err := c.mark(ctx, rec, ""); err != nil {
			return OutcomeRetryPending, err
		}
		c.cfg.notify(BusEvent{
			Type: EventAck, Subscriber: c.cfg.Name,
			EventID: rec.Event.ID, Kind: rec.Event.Kind, Offset: rec.Offset,
		})
		return OutcomeAcked, nil
	}

	if Classify(handlerErr) == ClassPermanent {
		if err := c.mark(ctx, rec, handlerErr.Error()); err != nil {
			return OutcomeRetryPending, err
		}
		c.cfg.notify(BusEvent{
			Type: EventAckPermanent, Subscriber: c.cfg.Name,
			EventID: rec.Event.ID, Kind: rec.Event.Kind, Offset: rec.Offset,
			Err: handlerErr,
		})
		return OutcomeAckedPermanent, handlerErr
	}

	c.cfg.notify(BusEvent{
		Type: EventRetryPending, Subscriber: c.cfg.Name,
		EventID: rec.Event.ID, Kind: rec.Event.Kind, Offset: rec.Offset,
		Err: handlerErr,
	})
	return OutcomeRetryPending, handlerErr
}

func (c *Consumer) mark(ctx context.Context, rec Record, errAnnotation string) error {
	err := c.cfg.Dedup.Mark(ctx, DedupRecord{
		Subscriber:  c.cfg.Name,
		Offset:      rec.Offset,
		EventID:     rec.Event.ID,
		Kind:        rec.Event.Kind,
		ProcessedAt: c.cfg.Clock.Now(),
		Error:       errAnnotation,
	})
	if err != nil {
		return &TransportError{Op: "dedup write", Err: err}
	}
	return nil
}

// Start launches the subscription loop. Exactly one loop may run per
// consumer; a second Start returns ErrAlreadyRunning. The loop exits when
// ctx is canceled or the handle is stopped, always letting an in-flight
// handler finish first.
func (c *Consumer) Start(ctx context.Context) (Subscription, error) {
	if c.running.Swap(true) {
		return nil, ErrAlreadyRunning
	}
	if len(c.dispatcher.handlers) == 0 {
		c.running.Store(false)
		return nil, ErrInvalidSubscription
	}

	h := &subscriptionHandle{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	loopCtx, cancel := context.WithCancel(ctx)

	wake, cleanup := c.wakeup(loopCtx)

	c.cfg.Logger.Debug().Msg("xledger: subscription loop started")
	go func() {
		defer func() {
			cleanup()
			cancel()
			c.state.Store(int32(StateStopped))
			c.running.Store(false)
			close(h.doneCh)
			c.cfg.Logger.Debug().Msg("xledger: subscription loop stopped")
		}()
		h.err = c.run(loopCtx, h.stopCh, wake)
	}()

	return h, nil
}

// wakeup subscribes to the broker channels purely as a latency optimization.
// Failures degrade to interval polling; the log remains authoritative.
func (c *Consumer) wakeup(ctx context.Context) (<-chan struct{}, func()) {
	wake := make(chan struct{}, 1)
	if c.cfg.Broker == nil || len(c.cfg.Channels) == 0 {
		return wake, func() {}
	}

	var cancels []func()
	var wg sync.WaitGroup
	for _, ch := range c.cfg.Channels {
		recCh, cancelSub, err := c.cfg.Broker.Subscribe(ctx, ch)
		if err != nil {
			c.cfg.Logger.Warn().Err(err).Msg("xledger: broker wakeup unavailable, polling only")
			continue
		}
		cancels = append(cancels, cancelSub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range recCh {
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}()
	}
	return wake, func() {
		for _, cancelSub := range cancels {
			cancelSub()
		}
		wg.Wait()
	}
}

// run is the subscription loop: a task that blocks on a receive primitive
// and dispatches to handlers, with an explicit stop signal.
func (c *Consumer) run(ctx context.Context, stop <-chan struct{}, wake <-chan struct{}) error {
	pos := c.cfg.StartOffset

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		c.state.Store(int32(StateReading))
		recs, err := c.cfg.Log.Read(ctx, pos, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.cfg.Logger.Warn().Err(err).Msg("xledger: log read failed, backing off")
			if !c.sleep(ctx, stop, c.cfg.RetryBackoff) {
				return nil
			}
			continue
		}

		if len(recs) == 0 {
			c.state.Store(int32(StateIdle))
			select {
			case <-ctx.Done():
				return nil
			case <-stop:
				return nil
			case <-wake:
			case <-c.after(c.cfg.PollInterval):
			}
			continue
		}

		for _, rec := range recs {
			// Stops take effect between records, never mid-handler.
			select {
			case <-stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			if !c.dispatcher.handles(rec.Event.Kind) {
				pos = rec.Offset + 1
				continue
			}

			c.state.Store(int32(StateProcessing))
			outcome, _ := c.ProcessRecord(ctx, rec)
			if outcome == OutcomeRetryPending {
				// Stay on this offset; the re-read is the redelivery.
				if !c.sleep(ctx, stop, c.cfg.RetryBackoff) {
					return nil
				}
				break
			}
			pos = rec.Offset + 1
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-c.after(d):
		return true
	}
}

type subscriptionHandle struct {
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	err      error
}

func (h *subscriptionHandle) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
}

func (h *subscriptionHandle) Done() <-chan struct{} { return h.doneCh }

func (h *subscriptionHandle) Err() error {
	select {
	case <-h.doneCh:
		return h.err
	default:
		return nil
	}
}
