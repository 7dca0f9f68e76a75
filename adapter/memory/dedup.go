package memory

import (
	"context"
	"sync"
	"time"

	"github.com/trickstertwo/xledger"
)

// DedupStore keeps processing marks in process memory, keyed by
// (subscriber, offset).
type DedupStore struct {
	mu    sync.RWMutex
	marks map[string]map[uint64]xledger.DedupRecord
}

var _ xledger.DedupStore = (*DedupStore)(nil)

// NewDedupStore returns an empty store.
func NewDedupStore() *DedupStore {
	return &DedupStore{marks: make(map[string]map[uint64]xledger.DedupRecord)}
}

func (s *DedupStore) Seen(ctx context.Context, subscriber string, offset uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.marks[subscriber][offset]
	s.mu.RUnlock()
	return ok, nil
}

func (s *DedupStore) Mark(ctx context.Context, rec xledger.DedupRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marks[rec.Subscriber] == nil {
		s.marks[rec.Subscriber] = make(map[uint64]xledger.DedupRecord)
	}
	// First mark wins; racing ACKs for the same pair are idempotent.
	if _, ok := s.marks[rec.Subscriber][rec.Offset]; !ok {
		s.marks[rec.Subscriber][rec.Offset] = rec
	}
	return nil
}

func (s *DedupStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, offsets := range s.marks {
		for off, rec := range offsets {
			if rec.ProcessedAt.Before(olderThan) {
				delete(offsets, off)
				removed++
			}
		}
	}
	return removed, nil
}

// Get returns the stored mark for audit inspection in tests and tooling.
func (s *DedupStore) Get(subscriber string, offset uint64) (xledger.DedupRecord, bool) {
	s.mu.RLock()
	rec, ok := s.marks[subscriber][offset]
	s.mu.RUnlock()
	return rec, ok
}

func (s *DedupStore) Close() error { return nil }
