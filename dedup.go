package xledger

import (
	"context"
	"time"
)

// DedupRecord tracks that a (subscriber, offset) pair has been processed.
// The pair is the primary key; EventID is a secondary audit field only.
// Records become eligible for deletion after the retention window.
type DedupRecord struct {
	Subscriber  string    `json:"subscriber"`
	Offset      uint64    `json:"offset"`
	EventID     string    `json:"event_id"`
	Kind        string    `json:"kind"`
	ProcessedAt time.Time `json:"processed_at"`
	// Error annotates a permanently failed record; empty means success.
	Error string `json:"error,omitempty"`
}

// DefaultDedupRetention is the recommended minimum retention for dedup
// records before TTL cleanup.
const DefaultDedupRetention = 30 * 24 * time.Hour

// DedupStore persists processing marks. Keys are namespaced by subscriber, so
// instances of different subscribers write concurrently without coordination;
// within one subscriber only a single loop should hold the subscription.
type DedupStore interface {
	// Seen reports whether the (subscriber, offset) pair was already
	// processed (successfully or permanently failed).
	Seen(ctx context.Context, subscriber string, offset uint64) (bool, error)
	// Mark records a processed pair. Marking an already-marked pair is not
	// an error (idempotent under racing ACKs).
	Mark(ctx context.Context, rec DedupRecord) error
	// Purge deletes records processed before the cutoff and returns how
	// many were removed.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	// Close releases resources.
	Close() error
}
