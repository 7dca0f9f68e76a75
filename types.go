package xledger

import "time"

// PublishResult carries the outcome of an asynchronous publish.
type PublishResult struct {
	Offset uint64
	Err    error
}

// BusEventType enumerates internal lifecycle events for the Observer pattern.
type BusEventType string

const (
	EventPublishStart BusEventType = "publish_start"
	EventPublishDone  BusEventType = "publish_done"
	EventConsumeStart BusEventType = "consume_start"
	EventConsumeDone  BusEventType = "consume_done"
	EventAck          BusEventType = "ack"
	EventAckDedup     BusEventType = "ack_dedup"
	EventAckPermanent BusEventType = "ack_permanent"
	EventRetryPending BusEventType = "retry_pending"
	EventReplayHalt   BusEventType = "replay_halt"
	EventError        BusEventType = "error"
)

// BusEvent carries telemetry for observers.
type BusEvent struct {
	Type       BusEventType
	Channel    string
	Subscriber string
	EventID    string
	Kind       string
	Offset     uint64
	Duration   time.Duration
	Err        error

	// Internal: attached for async dispatch
	observers []Observer
}

// Metrics defines observable telemetry for the bus.
type Metrics struct {
	Published           uint64
	PublishErrors       uint64
	Consumed            uint64
	Acked               uint64
	AckedDedup          uint64
	AckedPermanent      uint64
	Retried             uint64
	Errors              uint64
	EventsDropped       uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates bus health for liveness/readiness probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}
