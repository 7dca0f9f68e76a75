package xledger

import (
	"encoding/json"
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Event is the envelope traveling the bus. The Payload is an open,
// schema-versioned key/value structure; typed views are constructed by
// consumers after upcasting (see Decode).
type Event struct {
	// ID is unique per publish attempt and regenerated on every retry.
	// It is audit/trace data only, never a deduplication key.
	ID string `json:"id"`
	// Kind is a member of the closed, namespaced taxonomy
	// (e.g. "mission.created", "credit.consumed").
	Kind string `json:"kind"`
	// Source identifies the producing component.
	Source string `json:"source"`
	// Target optionally addresses a single consumer; empty means broadcast.
	Target string `json:"target,omitempty"`
	// Payload is the open event body, shaped by SchemaVersion for this Kind.
	Payload map[string]any `json:"payload"`
	// SchemaVersion is the version of Payload's shape for this Kind.
	SchemaVersion int `json:"schema_version"`
	// OccurredAt is assigned by the producer.
	OccurredAt time.Time `json:"occurred_at"`

	// Cross-cutting attributes for tracing, multi-tenancy and audit filtering.
	CorrelationID string `json:"correlation_id,omitempty"`
	MissionID     string `json:"mission_id,omitempty"`
	TaskID        string `json:"task_id,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	Severity      string `json:"severity,omitempty"`

	// Meta is free-form producer metadata (schema version, producer name,
	// source module). Used for audit, never for routing.
	Meta map[string]string `json:"meta,omitempty"`
}

// Meta keys the bus stamps on every published event.
const (
	MetaSchemaVersion = "schema_version"
	MetaProducer      = "producer"
	MetaSource        = "source"
)

// eventIDAlphabet is the character set for the random portion of event IDs.
const eventIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// eventIDLength is the number of random characters after the "ev-" prefix.
const eventIDLength = 16

// NewEventID returns a fresh "ev-" prefixed identifier.
func NewEventID() string {
	id, err := nanoid.Generate(eventIDAlphabet, eventIDLength)
	if err != nil {
		// nanoid only fails on a broken entropy source; fall back to a
		// timestamp so publishing never blocks on ID generation.
		return fmt.Sprintf("ev-%d", time.Now().UnixNano())
	}
	return "ev-" + id
}

// EventOption customizes optional envelope attributes at construction.
type EventOption func(*Event)

// WithTarget addresses the event to a single consumer's private channel.
func WithTarget(target string) EventOption {
	return func(e *Event) { e.Target = target }
}

// WithCorrelation attaches a correlation identifier for tracing.
func WithCorrelation(id string) EventOption {
	return func(e *Event) { e.CorrelationID = id }
}

// WithMission attaches the mission this event belongs to.
func WithMission(id string) EventOption {
	return func(e *Event) { e.MissionID = id }
}

// WithTask attaches the task this event belongs to.
func WithTask(id string) EventOption {
	return func(e *Event) { e.TaskID = id }
}

// WithTenant scopes the event to a tenant for audit filtering.
func WithTenant(id string) EventOption {
	return func(e *Event) { e.TenantID = id }
}

// WithActor records the acting principal.
func WithActor(id string) EventOption {
	return func(e *Event) { e.ActorID = id }
}

// WithSeverity tags the event severity (info, warning, critical...).
func WithSeverity(severity string) EventOption {
	return func(e *Event) { e.Severity = severity }
}

// WithSchemaVersion pins the payload schema version. Without it the bus
// stamps the registry's latest version for the kind at publish time.
func WithSchemaVersion(v int) EventOption {
	return func(e *Event) { e.SchemaVersion = v }
}

// WithOccurredAt overrides the producer timestamp.
func WithOccurredAt(t time.Time) EventOption {
	return func(e *Event) { e.OccurredAt = t }
}

// WithMeta merges producer metadata into the envelope.
func WithMeta(meta map[string]string) EventOption {
	return func(e *Event) {
		if e.Meta == nil {
			e.Meta = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			e.Meta[k] = v
		}
	}
}

// NewEvent constructs an envelope for kind produced by source. ID and
// OccurredAt are assigned if absent. Taxonomy membership is enforced at
// publish time by the bus; NewEvent only rejects structurally invalid input.
func NewEvent(kind, source string, payload map[string]any, opts ...EventOption) (Event, error) {
	if kind == "" {
		return Event{}, ErrInvalidEventKind
	}
	if source == "" {
		return Event{}, ErrInvalidEventSource
	}
	e := Event{
		Kind:    kind,
		Source:  source,
		Payload: payload,
	}
	for _, o := range opts {
		if o != nil {
			o(&e)
		}
	}
	if e.ID == "" {
		e.ID = NewEventID()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if err := validatePayload(payload); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Namespace returns the segment of Kind before the first separator, or the
// whole Kind when it carries no namespace.
func (e Event) Namespace() string {
	return kindNamespace(e.Kind)
}

// clonePayload deep-copies a payload through its JSON form. Upcasters receive
// copies so a failed chain never leaves a half-transformed envelope behind.
func clonePayload(p map[string]any) (map[string]any, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("payload not serializable: %v", err)}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("payload not round-trippable: %v", err)}
	}
	return out, nil
}

// validatePayload rejects payloads that cannot be serialized for the wire.
func validatePayload(p map[string]any) error {
	if p == nil {
		return nil
	}
	if _, err := json.Marshal(p); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("payload not serializable: %v", err)}
	}
	return nil
}
