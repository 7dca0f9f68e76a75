package xledger

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// dispatcher is the handler table shared by live consumption and replay, so
// an event observes identical upcasting and handler logic on both paths.
type dispatcher struct {
	registry    *SchemaRegistry
	codec       Codec
	logger      *xlog.Logger
	clock       xclock.Clock
	handlers    map[string]Handler // kind -> chained handler
	middlewares []Middleware
}

func newDispatcher(registry *SchemaRegistry, codec Codec, logger *xlog.Logger, clock xclock.Clock, mws []Middleware) *dispatcher {
	return &dispatcher{
		registry:    registry,
		codec:       codec,
		logger:      logger,
		clock:       clock,
		handlers:    make(map[string]Handler),
		middlewares: mws,
	}
}

// register binds handler to kind, pre-composing the middleware chain with
// panic recovery always innermost so it runs regardless of user middleware.
func (d *dispatcher) register(kind string, handler Handler) {
	base := RecoveryMiddleware()(handler)
	d.handlers[kind] = Chain(base, d.middlewares...)
}

func (d *dispatcher) handles(kind string) bool {
	_, ok := d.handlers[kind]
	return ok
}

// kinds returns the registered kind set.
func (d *dispatcher) kinds() []string {
	out := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, k)
	}
	return out
}

// dispatch upcasts rec's event to the current schema and invokes the kind's
// handler. Handlers never see a payload older than the registry's latest
// version. The returned error is unclassified; callers apply Classify (live)
// or treat any failure as fatal (replay).
func (d *dispatcher) dispatch(ctx context.Context, rec Record) error {
	handler, ok := d.handlers[rec.Event.Kind]
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("no handler for kind %q", rec.Event.Kind)}
	}

	ev, err := d.registry.Upcast(rec.Event)
	if err != nil {
		return err
	}

	hctx := injectCodec(ctx, d.codec)
	hctx = injectLogger(hctx, d.logger)
	hctx = injectClock(hctx, d.clock)
	hctx = injectOffset(hctx, rec.Offset)

	return handler(hctx, ev)
}
