package xledger

import (
	"fmt"
	"sync"
)

// UpcastFunc transforms a payload from version N to version N+1. It must be
// pure: no I/O, no randomness, deterministic output for identical input. It
// must preserve every input field not explicitly superseded.
type UpcastFunc func(payload map[string]any) (map[string]any, error)

// VersionEntry describes one registered schema version of an event kind.
type VersionEntry struct {
	Kind        string
	Version     int
	Description string
	// Supersedes lists input fields the upcaster into this version is
	// allowed to drop or rename away.
	Supersedes []string

	upcaster UpcastFunc
}

// VersionOption customizes a version registration.
type VersionOption func(*VersionEntry)

// Supersedes declares fields the upcaster into this version replaces. Any
// other missing input field is a defect and fails the upcast.
func Supersedes(fields ...string) VersionOption {
	return func(e *VersionEntry) { e.Supersedes = append(e.Supersedes, fields...) }
}

// SchemaRegistry tracks, per event kind, the current schema version and the
// chain of upcasters bringing older payloads forward. It is an explicit,
// constructed object handed to the consumer and replay engine: populate it
// once at startup, append-only thereafter, never mutate concurrently with
// consumption.
type SchemaRegistry struct {
	mu    sync.RWMutex
	kinds map[string][]VersionEntry // index i holds version i+1
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{kinds: make(map[string][]VersionEntry)}
}

// RegisterVersion records schema version for kind. Versions must be
// registered contiguously starting at 1; a gap is a fatal configuration
// error, not a runtime event. Version 1 is the base shape and takes no
// upcaster; every later version requires the single-step upcaster from its
// predecessor.
func (r *SchemaRegistry) RegisterVersion(kind string, version int, fn UpcastFunc, description string, opts ...VersionOption) error {
	if kind == "" {
		return &ConfigError{Reason: "schema version kind must not be empty"}
	}
	if version < 1 {
		return &ConfigError{Reason: fmt.Sprintf("schema version for %s must be >= 1, got %d", kind, version)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.kinds[kind]
	if want := len(chain) + 1; version != want {
		return &ConfigError{
			Reason: fmt.Sprintf("schema versions for %s must be contiguous: expected v%d, got v%d", kind, want, version),
		}
	}
	if version == 1 {
		if fn != nil {
			return &ConfigError{Reason: fmt.Sprintf("schema v1 for %s is the base shape and takes no upcaster", kind)}
		}
	} else if fn == nil {
		return &ConfigError{Reason: fmt.Sprintf("schema v%d for %s requires an upcaster from v%d", version, kind, version-1)}
	}

	entry := VersionEntry{
		Kind:        kind,
		Version:     version,
		Description: description,
		upcaster:    fn,
	}
	for _, o := range opts {
		if o != nil {
			o(&entry)
		}
	}
	r.kinds[kind] = append(chain, entry)
	return nil
}

// LatestVersion returns the current schema version for kind, or 0 when the
// kind has no registered versions (unversioned kinds pass through upcasting
// untouched).
func (r *SchemaRegistry) LatestVersion(kind string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds[kind])
}

// Versions returns the registered chain for kind in version order.
func (r *SchemaRegistry) Versions(kind string) []VersionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.kinds[kind]
	out := make([]VersionEntry, len(chain))
	copy(out, chain)
	return out
}

// Upcast brings ev's payload forward to the latest registered version,
// threading the transformed payload through each single-step upcaster. The
// input event is not mutated. A failing upcaster, a stored version outside
// the registered range or a payload stamped ahead of the registry returns an
// UpcastError: permanent in live consumption, fatal during replay.
func (r *SchemaRegistry) Upcast(ev Event) (Event, error) {
	latest := r.LatestVersion(ev.Kind)
	if latest == 0 || ev.SchemaVersion == latest {
		return ev, nil
	}
	if ev.SchemaVersion > latest {
		return ev, &UpcastError{
			Kind:        ev.Kind,
			FromVersion: ev.SchemaVersion,
			Reason:      fmt.Sprintf("stored schema version v%d is ahead of the registry (latest v%d)", ev.SchemaVersion, latest),
		}
	}
	if ev.SchemaVersion < 1 {
		return ev, &UpcastError{
			Kind:        ev.Kind,
			FromVersion: ev.SchemaVersion,
			Reason:      "stored schema version below 1",
		}
	}

	payload, err := clonePayload(ev.Payload)
	if err != nil {
		return ev, &UpcastError{Kind: ev.Kind, FromVersion: ev.SchemaVersion, Reason: err.Error()}
	}

	for v := ev.SchemaVersion; v < latest; v++ {
		entry, ok := r.entryFor(ev.Kind, v+1)
		if !ok || entry.upcaster == nil {
			return ev, &UpcastError{Kind: ev.Kind, FromVersion: v, Reason: "no upcaster registered"}
		}
		// Snapshot the key set first: upcasters are free to mutate the map
		// in place, which would otherwise make the drop check vacuous.
		before := make([]string, 0, len(payload))
		for k := range payload {
			before = append(before, k)
		}
		next, err := entry.upcaster(payload)
		if err != nil {
			return ev, &UpcastError{Kind: ev.Kind, FromVersion: v, Reason: err.Error()}
		}
		if missing := missingFields(before, next, entry.Supersedes); len(missing) > 0 {
			return ev, &UpcastError{
				Kind:        ev.Kind,
				FromVersion: v,
				Reason:      fmt.Sprintf("upcaster dropped fields %v without superseding them", missing),
			}
		}
		payload = next
	}

	out := ev
	out.Payload = payload
	out.SchemaVersion = latest
	return out, nil
}

func (r *SchemaRegistry) entryFor(kind string, version int) (VersionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.kinds[kind]
	if version < 1 || version > len(chain) {
		return VersionEntry{}, false
	}
	return chain[version-1], true
}

// missingFields returns input keys absent from output and not superseded.
func missingFields(in []string, out map[string]any, superseded []string) []string {
	var missing []string
	for _, k := range in {
		if _, ok := out[k]; ok {
			continue
		}
		dropped := false
		for _, s := range superseded {
			if s == k {
				dropped = true
				break
			}
		}
		if !dropped {
			missing = append(missing, k)
		}
	}
	return missing
}
