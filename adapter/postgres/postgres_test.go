package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xledger"
)

// testStore connects to the database from XLEDGER_TEST_DATABASE_URL, or
// skips. The schema is migrated and both tables truncated per test.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("XLEDGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("XLEDGER_TEST_DATABASE_URL not set")
	}
	s, err := New(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.db.Exec("TRUNCATE event_log RESTART IDENTITY")
	require.NoError(t, err)
	_, err = s.db.Exec("TRUNCATE dedup_records")
	require.NoError(t, err)
	return s
}

func testEvent(t *testing.T, tenant string) xledger.Event {
	t.Helper()
	ev, err := xledger.NewEvent(xledger.KindCreditAllocated, "treasury",
		map[string]any{"amount": 5, "tenant": tenant},
		xledger.WithTenant(tenant),
		xledger.WithSchemaVersion(1),
		xledger.WithMeta(map[string]string{"producer": "test"}),
	)
	require.NoError(t, err)
	return ev
}

func TestStore_AppendAndRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ev := testEvent(t, "tenant-a")
	offset, err := s.Append(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), offset)

	offset2, err := s.Append(ctx, testEvent(t, "tenant-b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), offset2)

	recs, err := s.Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	got := recs[0].Event
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, "tenant-a", got.TenantID)
	assert.EqualValues(t, 5, got.Payload["amount"])
	assert.Equal(t, "test", got.Meta["producer"])
	assert.WithinDuration(t, ev.OccurredAt, got.OccurredAt, time.Millisecond)

	recs, err = s.Read(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(2), recs[0].Offset)
}

func TestStore_HistoryFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, tenant := range []string{"tenant-a", "tenant-b", "tenant-a"} {
		_, err := s.Append(ctx, testEvent(t, tenant))
		require.NoError(t, err)
	}

	recs, truncated, err := s.History(ctx, xledger.HistoryFilter{TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Len(t, recs, 2)

	recs, truncated, err = s.History(ctx, xledger.HistoryFilter{Limit: 2})
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, recs, 2)

	recs, _, err = s.History(ctx, xledger.HistoryFilter{
		Kinds: []string{xledger.KindMissionCreated},
	})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_Rewrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	offset, err := s.Append(ctx, testEvent(t, "tenant-a"))
	require.NoError(t, err)

	err = s.Rewrite(ctx, offset, map[string]any{"amount": 5, "metadata": map[string]any{}}, 2)
	require.NoError(t, err)

	recs, err := s.Read(ctx, offset, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Event.SchemaVersion)
	assert.Contains(t, recs[0].Event.Payload, "metadata")

	assert.Error(t, s.Rewrite(ctx, 999, nil, 2))
}

func TestStore_DedupLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "billing", 1)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, xledger.DedupRecord{
		Subscriber: "billing", Offset: 1, EventID: "ev-1",
		Kind: xledger.KindCreditAllocated, ProcessedAt: time.Now(),
	}))
	// Conflicting second mark is ignored.
	require.NoError(t, s.Mark(ctx, xledger.DedupRecord{
		Subscriber: "billing", Offset: 1, EventID: "ev-1",
		Kind: xledger.KindCreditAllocated, ProcessedAt: time.Now(), Error: "late",
	}))

	seen, err = s.Seen(ctx, "billing", 1)
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, s.Mark(ctx, xledger.DedupRecord{
		Subscriber: "billing", Offset: 2, EventID: "ev-2",
		Kind: xledger.KindCreditAllocated, ProcessedAt: time.Now().Add(-48 * time.Hour),
	}))

	n, err := s.Purge(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	seen, err = s.Seen(ctx, "billing", 2)
	require.NoError(t, err)
	assert.False(t, seen)
}
