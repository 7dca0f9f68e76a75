package xledger

import (
	"context"
	"errors"
	"fmt"
)

// Class partitions processing failures for the consumer's ack decision.
type Class int

const (
	// ClassTransient errors are not acked; the record is redelivered.
	ClassTransient Class = iota
	// ClassPermanent errors are acked with an error annotation; never retried.
	ClassPermanent
)

func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// Sentinel errors for misuse of the bus surface.
var (
	ErrBusClosed           = errors.New("xledger: bus is closed")
	ErrInvalidEventKind    = errors.New("xledger: event kind must not be empty")
	ErrInvalidEventSource  = errors.New("xledger: event source must not be empty")
	ErrUnknownKind         = errors.New("xledger: event kind not in taxonomy")
	ErrInvalidSubscription = errors.New("xledger: subscriber name, kind set and handler are required")
	ErrAlreadyRunning      = errors.New("xledger: subscription loop already running for this subscriber")
	ErrDegradedMode        = errors.New("xledger: bus is running degraded, subscriptions disabled")
	ErrNoLogConfigured     = errors.New("xledger: no durable log configured")
	ErrDefaultBusNotSet    = errors.New("xledger: default bus not initialized")
)

// TransportError marks a backing-store failure (unreachable, timeout).
// Always transient: publish returns it to the caller, consumers leave the
// record unacked for redelivery.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError marks a malformed payload, unknown kind or missing required
// field. Always permanent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// UpcastError marks a missing upcaster in the chain or an upcaster failure.
// Permanent in live consumption, fatal during replay.
type UpcastError struct {
	Kind        string
	FromVersion int
	Reason      string
}

func (e *UpcastError) Error() string {
	return fmt.Sprintf("upcast %s v%d->v%d: %s", e.Kind, e.FromVersion, e.FromVersion+1, e.Reason)
}

// ConfigError marks a fatal misconfiguration discovered at startup, such as
// registering schema versions out of order.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// Permanent wraps err so Classify treats it as permanent. Handlers declare
// business failures that must never be retried this way.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassPermanent}
}

// Transient wraps err so Classify treats it as transient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient}
}

type classifiedError struct {
	err   error
	class Class
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Classify maps a handler or pipeline error onto the ack taxonomy.
// Unclassified errors default to transient: retry is preferred over silent
// loss.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ClassPermanent
	}
	var ue *UpcastError
	if errors.As(err, &ue) {
		return ClassPermanent
	}
	var te *TransportError
	if errors.As(err, &te) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	return ClassTransient
}
