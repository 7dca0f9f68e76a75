package xledger

import "context"

// Broker is the Strategy interface for real-time fan-out. Delivery is
// best-effort, at-most-once and unordered across subscribers: a partition or
// absent consumer simply loses the frame on that channel. Nothing is entitled
// to be correct from the broker alone; the Log is the system of record.
type Broker interface {
	// Publish sends one record frame to a channel.
	Publish(ctx context.Context, channel string, rec Record) error
	// Subscribe delivers record frames on the returned channel for the
	// lifetime of the subscription. Call cancel to unsubscribe and close
	// the channel. Frames may be dropped under backpressure.
	Subscribe(ctx context.Context, channel string) (<-chan Record, func(), error)
	// Close releases resources.
	Close() error
}
