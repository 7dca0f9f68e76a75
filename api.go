package xledger

import "context"

// Handler processes one upcast-current event. Returning nil acks the record;
// returning an error triggers classification (permanent -> ack with
// annotation, transient -> redelivery).
type Handler func(ctx context.Context, ev Event) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// Subscription is the control handle for an active consumer loop.
type Subscription interface {
	// Stop signals the loop to exit between records. An in-flight handler
	// invocation completes before the stop takes effect. Stop blocks until
	// the loop has exited.
	Stop()
	// Done is closed when the loop has fully exited.
	Done() <-chan struct{}
	// Err returns the terminal loop error, if any, once Done is closed.
	Err() error
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API is the complete bus surface consumed by business modules.
type API interface {
	// Publish appends to the durable log and fans out best-effort.
	// Callers are expected to log-and-continue on error: events are an
	// audit/coordination side channel, not the source of truth.
	Publish(ctx context.Context, ev Event) (uint64, error)
	// PublishAsync publishes on a background goroutine and exposes the
	// outcome on the returned channel, which the caller may ignore.
	PublishAsync(ctx context.Context, ev Event) <-chan PublishResult
	// Subscribe starts one consumer loop for subscriber over the channels
	// derived from kinds and dispatches to handler.
	Subscribe(ctx context.Context, subscriber string, kinds []string, handler Handler) (Subscription, error)
	// History serves read-only audit queries.
	History(ctx context.Context, f HistoryFilter) ([]Record, bool, error)
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Bus)(nil)
