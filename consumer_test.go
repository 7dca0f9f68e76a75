package xledger_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xledger"
	"github.com/trickstertwo/xledger/adapter/memory"
)

func appendEvent(t *testing.T, log *memory.Log, kind string, payload map[string]any, opts ...xledger.EventOption) xledger.Record {
	t.Helper()
	ev, err := xledger.NewEvent(kind, "test-agent", payload, opts...)
	require.NoError(t, err)
	offset, err := log.Append(context.Background(), ev)
	require.NoError(t, err)
	return xledger.Record{Offset: offset, Event: ev}
}

func newTestConsumer(t *testing.T, log *memory.Log, dedup *memory.DedupStore) *xledger.Consumer {
	t.Helper()
	c, err := xledger.NewConsumer(xledger.ConsumerConfig{
		Name:         "billing",
		Log:          log,
		Dedup:        dedup,
		PollInterval: 20 * time.Millisecond,
		RetryBackoff: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewConsumer_InstanceIDDistinguishesRacingInstances(t *testing.T) {
	log := memory.NewLog()
	dedup := memory.NewDedupStore()

	// Two instances of the same subscriber share the dedup namespace but
	// must be tellable apart in logs and telemetry.
	a := newTestConsumer(t, log, dedup)
	b := newTestConsumer(t, log, dedup)

	require.NotEmpty(t, a.InstanceID())
	require.NotEmpty(t, b.InstanceID())
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())
	assert.Equal(t, a.InstanceID(), a.InstanceID(), "stable for the consumer's lifetime")
	assert.Equal(t, a.Name(), b.Name())
}

func TestProcessRecord_HandlerRunsOnceForDuplicateDelivery(t *testing.T) {
	log := memory.NewLog()
	dedup := memory.NewDedupStore()
	c := newTestConsumer(t, log, dedup)

	var calls atomic.Int32
	c.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		calls.Add(1)
		return nil
	})

	rec := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 5})

	outcome, err := c.ProcessRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, xledger.OutcomeAcked, outcome)

	// Redelivery of the same offset must short-circuit on the dedup record.
	outcome, err = c.ProcessRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, xledger.OutcomeAckedDedup, outcome)

	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessRecord_PermanentFailureAcksWithAnnotation(t *testing.T) {
	log := memory.NewLog()
	dedup := memory.NewDedupStore()
	c := newTestConsumer(t, log, dedup)

	c.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		return &xledger.ValidationError{Reason: "amount missing"}
	})

	rec := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{})

	outcome, err := c.ProcessRecord(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, xledger.OutcomeAckedPermanent, outcome)

	stored, ok := dedup.Get("billing", rec.Offset)
	require.True(t, ok, "permanent failure must still produce a dedup record")
	assert.Contains(t, stored.Error, "amount missing")

	// And the record is never handed to the handler again.
	outcome, err = c.ProcessRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, xledger.OutcomeAckedDedup, outcome)
}

func TestProcessRecord_TransientFailureLeavesRecordUnacked(t *testing.T) {
	log := memory.NewLog()
	dedup := memory.NewDedupStore()
	c := newTestConsumer(t, log, dedup)

	var calls atomic.Int32
	c.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		if calls.Add(1) == 1 {
			return &xledger.TransportError{Op: "downstream", Err: assert.AnError}
		}
		return nil
	})

	rec := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 5})

	outcome, err := c.ProcessRecord(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, xledger.OutcomeRetryPending, outcome)

	_, ok := dedup.Get("billing", rec.Offset)
	assert.False(t, ok, "transient failure must not write a dedup record")

	// Redelivery succeeds and acks.
	outcome, err = c.ProcessRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, xledger.OutcomeAcked, outcome)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProcessRecord_UpcastsBeforeHandler(t *testing.T) {
	registry := xledger.NewSchemaRegistry()
	require.NoError(t, registry.RegisterVersion(xledger.KindCreditAllocated, 1, nil, "initial"))
	require.NoError(t, registry.RegisterVersion(xledger.KindCreditAllocated, 2, func(p map[string]any) (map[string]any, error) {
		if _, ok := p["metadata"]; !ok {
			p["metadata"] = map[string]any{}
		}
		return p, nil
	}, "add metadata"))

	log := memory.NewLog()
	c, err := xledger.NewConsumer(xledger.ConsumerConfig{
		Name:     "billing",
		Log:      log,
		Dedup:    memory.NewDedupStore(),
		Registry: registry,
	})
	require.NoError(t, err)

	var seenVersion int
	var hadMetadata bool
	c.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		seenVersion = ev.SchemaVersion
		_, hadMetadata = ev.Payload["metadata"]
		return nil
	})

	rec := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 5},
		xledger.WithSchemaVersion(1))

	outcome, err := c.ProcessRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, xledger.OutcomeAcked, outcome)
	assert.Equal(t, 2, seenVersion, "handler must only ever see the latest shape")
	assert.True(t, hadMetadata)
}

func TestConsumer_StartTailsLogAndStops(t *testing.T) {
	log := memory.NewLog()
	dedup := memory.NewDedupStore()
	c := newTestConsumer(t, log, dedup)

	got := make(chan string, 10)
	c.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error {
		got <- ev.ID
		return nil
	})

	rec1 := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 1})
	rec2 := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 2})

	sub, err := c.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, rec1.Event.ID, waitFor(t, got))
	assert.Equal(t, rec2.Event.ID, waitFor(t, got))

	// Appends after start are picked up by the tailing loop.
	rec3 := appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 3})
	assert.Equal(t, rec3.Event.ID, waitFor(t, got))

	sub.Stop()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
	assert.NoError(t, sub.Err())
}

func TestConsumer_SecondStartRejected(t *testing.T) {
	log := memory.NewLog()
	c := newTestConsumer(t, log, memory.NewDedupStore())
	c.Handle(xledger.KindCreditAllocated, func(ctx context.Context, ev xledger.Event) error { return nil })

	sub, err := c.Start(context.Background())
	require.NoError(t, err)
	defer sub.Stop()

	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, xledger.ErrAlreadyRunning)
}

func TestConsumer_StartWithoutHandlersRejected(t *testing.T) {
	c := newTestConsumer(t, memory.NewLog(), memory.NewDedupStore())
	_, err := c.Start(context.Background())
	assert.ErrorIs(t, err, xledger.ErrInvalidSubscription)
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := xledger.NewConsumer(xledger.ConsumerConfig{Log: memory.NewLog(), Dedup: memory.NewDedupStore()})
	assert.Error(t, err, "missing name")

	_, err = xledger.NewConsumer(xledger.ConsumerConfig{Name: "x", Dedup: memory.NewDedupStore()})
	assert.Error(t, err, "missing log")

	_, err = xledger.NewConsumer(xledger.ConsumerConfig{Name: "x", Log: memory.NewLog()})
	assert.Error(t, err, "missing dedup store")
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}
