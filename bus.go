package xledger

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ HealthChecker = (*Bus)(nil)

// Bus is the central Facade tying the Router, the durable Log and the Broker
// together behind the publish/subscribe/replay contracts.
type Bus struct {
	taxonomy *Taxonomy
	router   *Router
	log      Log
	broker   Broker
	dedup    DedupStore
	registry *SchemaRegistry

	codec       Codec
	clock       xclock.Clock
	logger      *xlog.Logger
	middlewares []Middleware
	producer    string
	mode        Mode

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	subsMu     sync.Mutex
	activeSubs map[string]struct{}

	metrics   *busMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

// busMetrics uses lock-free atomics on the hot path.
type busMetrics struct {
	publishCount  atomic.Uint64
	publishErrors atomic.Uint64
	consumeCount  atomic.Uint64
	ackCount      atomic.Uint64
	ackDedupCount atomic.Uint64
	ackPermCount  atomic.Uint64
	retryCount    atomic.Uint64
	errorCount    atomic.Uint64
	processingNs  atomic.Int64
}

// Codec returns the configured codec (Strategy).
func (b *Bus) Codec() Codec { return b.codec }

// Registry returns the schema version registry handed to consumers and the
// replay engine.
func (b *Bus) Registry() *SchemaRegistry { return b.registry }

// Router returns the routing function.
func (b *Bus) Router() *Router { return b.router }

// Publish validates, stamps and appends ev to the durable log, then fans the
// accepted record out to the routed broker channels best-effort. The returned
// offset is the log position. A log append failure is returned to the caller;
// broker failures are logged and swallowed because the log is the system of
// record. Callers should log-and-continue on error rather than fail their own
// business transaction.
func (b *Bus) Publish(ctx context.Context, ev Event) (uint64, error) {
	if b.closed.Load() {
		return 0, ErrBusClosed
	}
	if b.mode == ModeDegraded && b.log == nil {
		b.logger.With(xlog.Str("kind", ev.Kind)).Warn().Msg("xledger: degraded mode, event dropped")
		return 0, nil
	}

	if err := b.prepare(&ev); err != nil {
		b.metrics.publishErrors.Add(1)
		return 0, err
	}

	b.metrics.publishCount.Add(1)
	b.notifyAsync(BusEvent{Type: EventPublishStart, Kind: ev.Kind, EventID: ev.ID})

	start := b.clock.Now()
	offset, err := b.log.Append(ctx, ev)
	duration := b.clock.Since(start)
	b.recordProcessingTime(duration.Nanoseconds())

	if err != nil {
		err = &TransportError{Op: "log append", Err: err}
		b.metrics.publishErrors.Add(1)
		b.metrics.errorCount.Add(1)
		b.notifyAsync(BusEvent{Type: EventPublishDone, Kind: ev.Kind, EventID: ev.ID, Duration: duration, Err: err})
		return 0, err
	}

	rec := Record{Offset: offset, Event: ev}
	for _, channel := range b.router.Route(ev) {
		if b.broker == nil {
			break
		}
		if perr := b.broker.Publish(ctx, channel, rec); perr != nil {
			// Best-effort side: the durable log already accepted the event.
			b.metrics.errorCount.Add(1)
			b.logger.With(xlog.Str("channel", channel)).Warn().Err(perr).Msg("xledger: broker publish failed")
			b.notifyAsync(BusEvent{Type: EventError, Channel: channel, Kind: ev.Kind, EventID: ev.ID, Err: perr})
		}
	}

	b.notifyAsync(BusEvent{Type: EventPublishDone, Kind: ev.Kind, EventID: ev.ID, Offset: offset, Duration: duration})
	return offset, nil
}

// PublishAsync publishes on a background goroutine, expressing fire-and-forget
// as an explicit result channel the caller may await or ignore. Failures are
// never silently swallowed: they reach the logger and observers either way.
func (b *Bus) PublishAsync(ctx context.Context, ev Event) <-chan PublishResult {
	resultCh := make(chan PublishResult, 1)
	go func() {
		offset, err := b.Publish(ctx, ev)
		if err != nil {
			b.logger.With(xlog.Str("kind", ev.Kind)).Warn().Err(err).Msg("xledger: async publish failed")
		}
		resultCh <- PublishResult{Offset: offset, Err: err}
		close(resultCh)
	}()
	return resultCh
}

// prepare stamps the envelope for acceptance: a fresh ID on every attempt,
// producer metadata, the registry's latest schema version when unset, and
// taxonomy validation.
func (b *Bus) prepare(ev *Event) error {
	if ev.Kind == "" {
		return ErrInvalidEventKind
	}
	if !b.taxonomy.Known(ev.Kind) {
		return ErrUnknownKind
	}
	if ev.Source == "" {
		return ErrInvalidEventSource
	}
	if err := validatePayload(ev.Payload); err != nil {
		return err
	}

	// IDs are unique per publish attempt, not stable across retries.
	ev.ID = NewEventID()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = b.clock.Now()
	}
	if ev.SchemaVersion == 0 {
		if latest := b.registry.LatestVersion(ev.Kind); latest > 0 {
			ev.SchemaVersion = latest
		} else {
			ev.SchemaVersion = 1
		}
	}
	if ev.Meta == nil {
		ev.Meta = make(map[string]string, 3)
	}
	ev.Meta[MetaSchemaVersion] = strconv.Itoa(ev.SchemaVersion)
	ev.Meta[MetaProducer] = b.producer
	ev.Meta[MetaSource] = ev.Source
	return nil
}

// Subscribe starts the single consumer loop for subscriber over the channels
// derived from kinds, reading from the beginning of the log. Handlers receive
// upcast-current events; see SubscribeFrom to start at a snapshot position.
func (b *Bus) Subscribe(ctx context.Context, subscriber string, kinds []string, handler Handler) (Subscription, error) {
	return b.SubscribeFrom(ctx, subscriber, kinds, handler, 0)
}

// SubscribeFrom is Subscribe starting at a previously observed log offset.
func (b *Bus) SubscribeFrom(ctx context.Context, subscriber string, kinds []string, handler Handler, from uint64) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if b.mode == ModeDegraded && b.log == nil {
		return nil, ErrDegradedMode
	}
	if subscriber == "" || len(kinds) == 0 || handler == nil {
		return nil, ErrInvalidSubscription
	}
	for _, k := range kinds {
		if !b.taxonomy.Known(k) {
			return nil, ErrUnknownKind
		}
	}

	// Exactly one active loop per subscriber name, to avoid
	// duplicate-but-racing ACKs within one subscriber.
	b.subsMu.Lock()
	if _, busy := b.activeSubs[subscriber]; busy {
		b.subsMu.Unlock()
		return nil, ErrAlreadyRunning
	}
	b.activeSubs[subscriber] = struct{}{}
	b.subsMu.Unlock()

	release := func() {
		b.subsMu.Lock()
		delete(b.activeSubs, subscriber)
		b.subsMu.Unlock()
	}

	consumer, err := NewConsumer(ConsumerConfig{
		Name:        subscriber,
		Log:         b.log,
		Dedup:       b.dedup,
		Registry:    b.registry,
		Broker:      b.broker,
		Channels:    b.router.ChannelsForKinds(kinds),
		StartOffset: from,
		Codec:       b.codec,
		Logger:      b.logger,
		Clock:       b.clock,
		Middlewares: b.middlewares,
		notify:      b.consumerNotify,
	})
	if err != nil {
		release()
		return nil, err
	}
	for _, k := range kinds {
		consumer.Handle(k, handler)
	}

	sub, err := consumer.Start(ctx)
	if err != nil {
		release()
		return nil, err
	}

	go func() {
		<-sub.Done()
		release()
	}()
	return sub, nil
}

// Replayer builds a replay engine over this bus's log, registry and ambient
// stack. Register projection handlers on the result before calling Replay.
func (b *Bus) Replayer() (*Replayer, error) {
	if b.log == nil {
		return nil, ErrNoLogConfigured
	}
	return NewReplayer(ReplayerConfig{
		Log:         b.log,
		Registry:    b.registry,
		Codec:       b.codec,
		Logger:      b.logger,
		Clock:       b.clock,
		Middlewares: b.middlewares,
		notify:      b.notifyAsync,
	})
}

// History serves read-only audit queries against the durable log.
func (b *Bus) History(ctx context.Context, f HistoryFilter) ([]Record, bool, error) {
	if b.closed.Load() {
		return nil, false, ErrBusClosed
	}
	if b.mode == ModeDegraded && b.log == nil {
		return nil, false, ErrDegradedMode
	}
	return b.log.History(ctx, f)
}

// consumerNotify bridges consumer telemetry into bus metrics and observers.
func (b *Bus) consumerNotify(e BusEvent) {
	switch e.Type {
	case EventConsumeStart:
		b.metrics.consumeCount.Add(1)
	case EventConsumeDone:
		if e.Duration > 0 {
			b.recordProcessingTime(e.Duration.Nanoseconds())
		}
	case EventAck:
		b.metrics.ackCount.Add(1)
	case EventAckDedup:
		b.metrics.ackDedupCount.Add(1)
	case EventAckPermanent:
		b.metrics.ackPermCount.Add(1)
	case EventRetryPending:
		b.metrics.retryCount.Add(1)
	case EventError:
		b.metrics.errorCount.Add(1)
	}
	b.notifyAsync(e)
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	return Metrics{
		Published:           b.metrics.publishCount.Load(),
		PublishErrors:       b.metrics.publishErrors.Load(),
		Consumed:            b.metrics.consumeCount.Load(),
		Acked:               b.metrics.ackCount.Load(),
		AckedDedup:          b.metrics.ackDedupCount.Load(),
		AckedPermanent:      b.metrics.ackPermCount.Load(),
		Retried:             b.metrics.retryCount.Load(),
		Errors:              b.metrics.errorCount.Load(),
		EventsDropped:       b.observerPool.Stats().Dropped,
		AvgProcessingTimeMs: float64(b.metrics.processingNs.Load()) / 1e6,
	}
}

// Health checks bus health for liveness/readiness probes.
func (b *Bus) Health(ctx context.Context) HealthStatus {
	if b.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Message:   "bus is closed",
		}
	}
	if b.mode == ModeDegraded && b.log == nil {
		return HealthStatus{
			Status:    "degraded",
			Metrics:   b.GetMetrics(),
			Timestamp: time.Now(),
			Message:   "no backing store, publishing disabled",
		}
	}

	metrics := b.GetMetrics()
	status := "healthy"
	if metrics.Errors > 0 && metrics.Published > 0 {
		if float64(metrics.Errors)/float64(metrics.Published) > 0.05 {
			status = "degraded"
		}
	}
	return HealthStatus{Status: status, Metrics: metrics, Timestamp: time.Now()}
}

// Close gracefully shuts down the bus: drain telemetry, then release the
// broker, log and dedup store. Idempotent.
func (b *Bus) Close(ctx context.Context) error {
	var closeErr error

	b.closeOnce.Do(func() {
		b.closed.Store(true)

		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("xledger: observer pool shutdown timeout")
				closeErr = err
			}
		}
		if b.broker != nil {
			if err := b.broker.Close(); err != nil {
				b.logger.Error().Err(err).Msg("xledger: broker close failed")
				closeErr = err
			}
		}
		if b.log != nil {
			if err := b.log.Close(); err != nil {
				b.logger.Error().Err(err).Msg("xledger: log close failed")
				closeErr = err
			}
		}
		if b.dedup != nil {
			if err := b.dedup.Close(); err != nil {
				b.logger.Error().Err(err).Msg("xledger: dedup store close failed")
				closeErr = err
			}
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches telemetry asynchronously (non-blocking).
func (b *Bus) notifyAsync(e BusEvent) {
	if b.observerPool == nil || b.closed.Load() {
		return
	}

	b.observersMu.RLock()
	observerCount := len(b.observers)
	if observerCount == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, observerCount)
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.observerPool.Notify(e, observers)
}

// recordProcessingTime keeps an exponential moving average of processing time.
func (b *Bus) recordProcessingTime(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := b.metrics.processingNs.Load()
	if current == 0 {
		b.metrics.processingNs.Store(ns)
		return
	}
	newAvg := int64(float64(ns)*alpha + float64(current)*(1-alpha))
	b.metrics.processingNs.Store(newAvg)
}
