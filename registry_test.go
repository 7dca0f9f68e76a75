package xledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addDefaults(p map[string]any) (map[string]any, error) {
	if _, ok := p["metadata"]; !ok {
		p["metadata"] = map[string]any{}
	}
	return p, nil
}

func TestRegisterVersion_ContiguityEnforced(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))

	// Skipping a version is a startup failure, not a latent runtime one.
	err := r.RegisterVersion("credit.allocated", 3, addDefaults, "skips v2")
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)

	require.NoError(t, r.RegisterVersion("credit.allocated", 2, addDefaults, "add metadata"))
	assert.Equal(t, 2, r.LatestVersion("credit.allocated"))
}

func TestRegisterVersion_FirstVersionHasNoUpcaster(t *testing.T) {
	r := NewSchemaRegistry()
	err := r.RegisterVersion("credit.allocated", 1, addDefaults, "v1 with upcaster")
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)

	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	err = r.RegisterVersion("credit.allocated", 2, nil, "v2 without upcaster")
	assert.ErrorAs(t, err, &cerr)
}

func TestLatestVersion_UnregisteredKindIsUnversioned(t *testing.T) {
	r := NewSchemaRegistry()
	assert.Equal(t, 0, r.LatestVersion("mission.created"))
}

func TestUpcast_WalksChainToLatest(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion("credit.allocated", 2, addDefaults, "add metadata"))
	require.NoError(t, r.RegisterVersion("credit.allocated", 3, func(p map[string]any) (map[string]any, error) {
		p["currency"] = "credits"
		return p, nil
	}, "add currency"))

	ev := Event{Kind: "credit.allocated", SchemaVersion: 1, Payload: map[string]any{"amount": 10}}
	out, err := r.Upcast(ev)
	require.NoError(t, err)

	assert.Equal(t, 3, out.SchemaVersion)
	assert.Equal(t, map[string]any{}, out.Payload["metadata"])
	assert.Equal(t, "credits", out.Payload["currency"])
	assert.EqualValues(t, 10, out.Payload["amount"])
}

func TestUpcast_DoesNotMutateInput(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion("credit.allocated", 2, addDefaults, "add metadata"))

	ev := Event{Kind: "credit.allocated", SchemaVersion: 1, Payload: map[string]any{"amount": 10}}
	_, err := r.Upcast(ev)
	require.NoError(t, err)

	assert.NotContains(t, ev.Payload, "metadata", "stored payload must stay untouched")
	assert.Equal(t, 1, ev.SchemaVersion)
}

// The same stored payload must upcast to byte-identical output on every run.
func TestUpcast_Deterministic(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion("credit.allocated", 2, addDefaults, "add metadata"))

	ev := Event{Kind: "credit.allocated", SchemaVersion: 1, Payload: map[string]any{"amount": 10, "tenant": "a"}}

	first, err := r.Upcast(ev)
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first.Payload)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := r.Upcast(ev)
		require.NoError(t, err)
		againJSON, err := json.Marshal(again.Payload)
		require.NoError(t, err)
		assert.Equal(t, string(firstJSON), string(againJSON))
	}
}

func TestUpcast_InvalidStoredVersionFails(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion("credit.allocated", 2, addDefaults, "add metadata"))

	// A stored version below 1 has no chain entry to start from.
	ev := Event{Kind: "credit.allocated", SchemaVersion: 0, Payload: map[string]any{}}
	_, err := r.Upcast(ev)
	var uerr *UpcastError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "credit.allocated", uerr.Kind)
}

func TestUpcast_AheadOfRegistryFails(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion("credit.allocated", 2, addDefaults, "add metadata"))

	// A payload stamped past the registry's latest version means this
	// process is running a stale registry; handlers would receive a shape
	// nothing upcasts into.
	ev := Event{Kind: "credit.allocated", SchemaVersion: 3, Payload: map[string]any{"amount": 10}}
	_, err := r.Upcast(ev)
	var uerr *UpcastError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 3, uerr.FromVersion)
}

func TestUpcast_FailingUpcasterSurfacesReason(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion("credit.allocated", 2, func(p map[string]any) (map[string]any, error) {
		return nil, assert.AnError
	}, "always fails"))

	ev := Event{Kind: "credit.allocated", SchemaVersion: 1, Payload: map[string]any{}}
	_, err := r.Upcast(ev)
	var uerr *UpcastError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 1, uerr.FromVersion)
}

func TestUpcast_DroppedFieldFailsUnlessSuperseded(t *testing.T) {
	dropDetail := func(p map[string]any) (map[string]any, error) {
		delete(p, "detail")
		return p, nil
	}

	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("mission.completed", 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion("mission.completed", 2, dropDetail, "drop detail"))

	ev := Event{Kind: "mission.completed", SchemaVersion: 1, Payload: map[string]any{"detail": "x", "outcome": "ok"}}
	_, err := r.Upcast(ev)
	var uerr *UpcastError
	require.ErrorAs(t, err, &uerr)

	// The same transformation is legal when the version declares the field
	// superseded.
	r2 := NewSchemaRegistry()
	require.NoError(t, r2.RegisterVersion("mission.completed", 1, nil, "initial"))
	require.NoError(t, r2.RegisterVersion("mission.completed", 2, dropDetail, "drop detail", Supersedes("detail")))

	out, err := r2.Upcast(ev)
	require.NoError(t, err)
	assert.NotContains(t, out.Payload, "detail")
	assert.Equal(t, "ok", out.Payload["outcome"])
}

func TestUpcast_UnversionedAndCurrentPassThrough(t *testing.T) {
	r := NewSchemaRegistry()

	// Kind with no registered versions passes through untouched.
	ev := Event{Kind: "mission.created", SchemaVersion: 1, Payload: map[string]any{"a": 1}}
	out, err := r.Upcast(ev)
	require.NoError(t, err)
	assert.Equal(t, ev.SchemaVersion, out.SchemaVersion)

	// Already-current events pass through too.
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	cur := Event{Kind: "credit.allocated", SchemaVersion: 1, Payload: map[string]any{"amount": 1}}
	out, err = r.Upcast(cur)
	require.NoError(t, err)
	assert.Equal(t, 1, out.SchemaVersion)
}

func TestVersions_ReturnsChainInOrder(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.RegisterVersion("credit.allocated", 1, nil, "initial"))
	require.NoError(t, r.RegisterVersion("credit.allocated", 2, addDefaults, "add metadata"))

	entries := r.Versions("credit.allocated")
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Version)
	assert.Equal(t, 2, entries[1].Version)
	assert.Equal(t, "add metadata", entries[1].Description)
}
