package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/trickstertwo/xledger"
)

// defaultHistoryLimit caps History results when the filter sets no limit.
const defaultHistoryLimit = 1000

// Log is an append-only in-memory log. Offsets start at 1 and are assigned
// under a single lock, the serialization point required for total ordering.
type Log struct {
	mu      sync.RWMutex
	records []xledger.Record
	closed  bool
}

var _ xledger.Log = (*Log)(nil)
var _ xledger.Rewriter = (*Log)(nil)

// NewLog returns an empty log.
func NewLog() *Log { return &Log{} }

func (l *Log) Append(ctx context.Context, ev xledger.Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.New("memory log is closed")
	}
	offset := uint64(len(l.records)) + 1
	l.records = append(l.records, xledger.Record{Offset: offset, Event: ev})
	return offset, nil
}

func (l *Log) Read(ctx context.Context, from uint64, limit int) ([]xledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, errors.New("memory log is closed")
	}

	// Offsets are dense here, so the slice index is offset-1.
	start := int(from)
	if from > 0 {
		start = int(from - 1)
	}
	if start >= len(l.records) {
		return nil, nil
	}
	end := start + limit
	if end > len(l.records) {
		end = len(l.records)
	}
	out := make([]xledger.Record, end-start)
	copy(out, l.records[start:end])
	return out, nil
}

func (l *Log) History(ctx context.Context, f xledger.HistoryFilter) ([]xledger.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []xledger.Record
	truncated := false
	for _, rec := range l.records {
		if !matches(rec.Event, f) {
			continue
		}
		if len(out) == limit {
			truncated = true
			break
		}
		out = append(out, rec)
	}
	return out, truncated, nil
}

// Rewrite supports bulk schema migration in tests and dry-run tooling.
func (l *Log) Rewrite(ctx context.Context, offset uint64, payload map[string]any, schemaVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset < 1 || offset > uint64(len(l.records)) {
		return errors.New("memory log: offset out of range")
	}
	rec := &l.records[offset-1]
	rec.Event.Payload = payload
	rec.Event.SchemaVersion = schemaVersion
	return nil
}

// Len returns the number of stored records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Log) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func matches(ev xledger.Event, f xledger.HistoryFilter) bool {
	if f.TenantID != "" && ev.TenantID != f.TenantID {
		return false
	}
	if f.ActorID != "" && ev.ActorID != f.ActorID {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if ev.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && ev.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ev.OccurredAt.Before(f.Until) {
		return false
	}
	return true
}
