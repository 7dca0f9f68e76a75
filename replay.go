package xledger

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ReplayerConfig assembles a Replayer.
type ReplayerConfig struct {
	Log      Log
	Registry *SchemaRegistry

	Codec       Codec
	Logger      *xlog.Logger
	Clock       xclock.Clock
	Middlewares []Middleware

	// BatchSize caps one log read (default 256).
	BatchSize int

	// notify forwards telemetry to bus observers when wired through the bus.
	notify func(BusEvent)
}

// Replayer rebuilds derived state (projections) by reading the durable log in
// order and pushing every record through the same dispatch used by live
// consumption, so handlers observe only current-schema payloads on both
// paths.
//
// Replay differs from live consumption in one way: any upcast or handler
// failure is fatal and halts the replay. Rebuilding projections over an
// inconsistent history must never silently proceed.
type Replayer struct {
	cfg        ReplayerConfig
	dispatcher *dispatcher
}

// NewReplayer validates cfg and builds a replayer with an empty handler set.
func NewReplayer(cfg ReplayerConfig) (*Replayer, error) {
	if cfg.Log == nil {
		return nil, ErrNoLogConfigured
	}
	if cfg.Registry == nil {
		cfg.Registry = NewSchemaRegistry()
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = xlog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = xclock.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 256
	}
	if cfg.notify == nil {
		cfg.notify = func(BusEvent) {}
	}
	return &Replayer{
		cfg:        cfg,
		dispatcher: newDispatcher(cfg.Registry, cfg.Codec, cfg.Logger, cfg.Clock, cfg.Middlewares),
	}, nil
}

// Handle binds a projection handler to kind. Records of unregistered kinds
// are skipped, not failed: a projection replays only the kinds it owns.
func (r *Replayer) Handle(kind string, handler Handler) {
	r.dispatcher.register(kind, handler)
}

// ReplayError wraps the failure that halted a replay together with the last
// successfully applied offset, for resumption after a fix.
type ReplayError struct {
	Offset      uint64 // offset of the failing record
	LastApplied uint64 // last offset whose handler completed
	Err         error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay halted at offset %d (last applied %d): %v", e.Offset, e.LastApplied, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// Replay reads the log from offset `from` (0 = full history; a snapshot
// position skips already-applied history) and applies every record with a
// registered handler. It returns the last successfully applied offset. On
// any failure it stops immediately and returns a ReplayError; already-applied
// records are not rolled back.
func (r *Replayer) Replay(ctx context.Context, from uint64) (uint64, error) {
	pos := from
	var lastApplied uint64

	for {
		if err := ctx.Err(); err != nil {
			return lastApplied, err
		}

		recs, err := r.cfg.Log.Read(ctx, pos, r.cfg.BatchSize)
		if err != nil {
			return lastApplied, &ReplayError{Offset: pos, LastApplied: lastApplied, Err: &TransportError{Op: "log read", Err: err}}
		}
		if len(recs) == 0 {
			return lastApplied, nil
		}

		for _, rec := range recs {
			if !r.dispatcher.handles(rec.Event.Kind) {
				pos = rec.Offset + 1
				continue
			}

			if err := r.dispatcher.dispatch(ctx, rec); err != nil {
				halt := &ReplayError{Offset: rec.Offset, LastApplied: lastApplied, Err: err}
				r.cfg.notify(BusEvent{
					Type:    EventReplayHalt,
					EventID: rec.Event.ID,
					Kind:    rec.Event.Kind,
					Offset:  rec.Offset,
					Err:     err,
				})
				r.cfg.Logger.Error().Err(err).Msg("xledger: replay halted")
				return lastApplied, halt
			}
			lastApplied = rec.Offset
			pos = rec.Offset + 1
		}
	}
}
