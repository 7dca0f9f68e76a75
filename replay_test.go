package xledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xledger"
	"github.com/trickstertwo/xledger/adapter/memory"
)

func creditRegistry(t *testing.T) *xledger.SchemaRegistry {
	t.Helper()
	r := xledger.NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion(xledger.KindCreditAllocated, 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion(xledger.KindCreditAllocated, 2, func(p map[string]any) (map[string]any, error) {
		if _, ok := p["metadata"]; !ok {
			p["metadata"] = map[string]any{}
		}
		return p, nil
	}, "add metadata"))
	return r
}

// Rebuilding a projection from a log holding a mix of stored versions must
// hand every event to the handler in its latest shape.
func TestReplay_MixedVersionsYieldLatestShape(t *testing.T) {
	log := memory.NewLog()
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 1}, xledger.WithSchemaVersion(1))
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 2}, xledger.WithSchemaVersion(1))
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 3, "metadata": map[string]any{"batch": 1}},
		xledger.WithSchemaVersion(2))

	replayer, err := xledger.NewReplayer(xledger.ReplayerConfig{
		Log:      log,
		Registry: creditRegistry(t),
	})
	require.NoError(t, err)

	var applied []xledger.Event
	replayer.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		applied = append(applied, ev)
		return nil
	})

	last, err := replayer.Replay(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	require.Len(t, applied, 3)
	for _, ev := range applied {
		assert.Equal(t, 2, ev.SchemaVersion)
		assert.Contains(t, ev.Payload, "metadata")
	}
}

func TestReplay_SkipsUnhandledKinds(t *testing.T) {
	log := memory.NewLog()
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 1})
	appendEvent(t, log, xledger.KindMissionCreated, map[string]any{"mission": "m-1"})
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 2})

	replayer, err := xledger.NewReplayer(xledger.ReplayerConfig{
		Log:      log,
		Registry: xledger.NewSchemaRegistry(),
	})
	require.NoError(t, err)

	var count int
	replayer.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		count++
		return nil
	})

	last, err := replayer.Replay(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last, "skipped records still advance the cursor")
	assert.Equal(t, 2, count)
}

func TestReplay_FromOffsetSkipsEarlierRecords(t *testing.T) {
	log := memory.NewLog()
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 1})
	rec2 := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 2})

	replayer, err := xledger.NewReplayer(xledger.ReplayerConfig{
		Log:      log,
		Registry: xledger.NewSchemaRegistry(),
	})
	require.NoError(t, err)

	var ids []string
	replayer.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		ids = append(ids, ev.ID)
		return nil
	})

	_, err = replayer.Replay(context.Background(), rec2.Offset)
	require.NoError(t, err)
	assert.Equal(t, []string{rec2.Event.ID}, ids)
}

// Any failure during replay is fatal: the run halts at the offending offset
// instead of acking past it, and reports the last offset it applied.
func TestReplay_HaltsOnFirstFailure(t *testing.T) {
	log := memory.NewLog()
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 1})
	bad := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 2})
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 3})

	replayer, err := xledger.NewReplayer(xledger.ReplayerConfig{
		Log:      log,
		Registry: xledger.NewSchemaRegistry(),
	})
	require.NoError(t, err)

	var applied int
	replayer.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		if ev.ID == bad.Event.ID {
			return &xledger.TransportError{Op: "projection write", Err: assert.AnError}
		}
		applied++
		return nil
	})

	last, err := replayer.Replay(context.Background(), 0)
	require.Error(t, err)

	var rerr *xledger.ReplayError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, bad.Offset, rerr.Offset)
	assert.Equal(t, uint64(1), rerr.LastApplied)
	assert.Equal(t, uint64(1), last)
	assert.Equal(t, 1, applied, "records after the failure are never applied")
}

// A stale payload with no registered upcaster chain must halt the replay,
// not silently pass an old shape to the projection.
func TestReplay_UpcastFailureIsFatal(t *testing.T) {
	log := memory.NewLog()
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 1}, xledger.WithSchemaVersion(0))

	registry := creditRegistry(t)
	replayer, err := xledger.NewReplayer(xledger.ReplayerConfig{Log: log, Registry: registry})
	require.NoError(t, err)

	replayer.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		return nil
	})

	_, err = replayer.Replay(context.Background(), 0)
	var rerr *xledger.ReplayError
	require.ErrorAs(t, err, &rerr)

	var uerr *xledger.UpcastError
	assert.ErrorAs(t, err, &uerr)
}
