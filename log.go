package xledger

import (
	"context"
	"time"
)

// Record is a durable, ordered, immutable wrapper around one accepted event.
// Created on append, never mutated, never deleted outside an explicit,
// audited retention policy.
type Record struct {
	// Offset is the stable, monotonically increasing log position, assigned
	// once and never reused. It is the primary deduplication key.
	Offset uint64 `json:"offset"`
	Event  Event  `json:"event"`
}

// Log is the append-only, totally ordered system of record. Offset assignment
// is serialized even under concurrent writers; a failed append is reported to
// the producer, never swallowed.
type Log interface {
	// Append accepts an event and returns its assigned offset.
	Append(ctx context.Context, ev Event) (uint64, error)
	// Read returns up to limit records with offset >= from, in offset order.
	// Callers may resume from any previously observed offset.
	Read(ctx context.Context, from uint64, limit int) ([]Record, error)
	// History serves audit queries over the secondary indices. The bool
	// result reports truncation: true means more records matched than were
	// returned, or an enrichment dependency was unavailable and the result
	// is partial.
	History(ctx context.Context, f HistoryFilter) ([]Record, bool, error)
	// Close releases resources.
	Close() error
}

// Rewriter is implemented by logs that support bulk schema migration.
// Rewrite replaces the stored payload and schema version at offset; it is
// reserved for operator-driven migrations taken after a backup snapshot.
type Rewriter interface {
	Rewrite(ctx context.Context, offset uint64, payload map[string]any, schemaVersion int) error
}

// HistoryFilter narrows an audit query. Zero values mean "any".
type HistoryFilter struct {
	TenantID string
	ActorID  string
	Kinds    []string
	Since    time.Time
	Until    time.Time
	// Limit caps the result size; <= 0 applies the adapter default.
	Limit int
}
