package xledger

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xledger (prevents collisions).
type ctxKey string

const (
	codecCtxKey  ctxKey = "xledger:codec"
	loggerCtxKey ctxKey = "xledger:logger"
	clockCtxKey  ctxKey = "xledger:clock"
	offsetCtxKey ctxKey = "xledger:offset"
)

func injectCodec(ctx context.Context, c Codec) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, codecCtxKey, c)
}

// CodecFromContext retrieves the Codec the consumer injected for handlers
// that build typed payload views.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	if v := ctx.Value(codecCtxKey); v != nil {
		if c, ok := v.(Codec); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext retrieves a logger previously injected into the context.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

// ClockFromContext retrieves a clock previously injected into the context.
func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectOffset(ctx context.Context, offset uint64) context.Context {
	return context.WithValue(ctx, offsetCtxKey, offset)
}

// OffsetFromContext retrieves the log offset of the record a handler is
// processing. Handlers use it for audit trails, never for control flow.
func OffsetFromContext(ctx context.Context) (uint64, bool) {
	if v := ctx.Value(offsetCtxKey); v != nil {
		if o, ok := v.(uint64); ok {
			return o, true
		}
	}
	return 0, false
}
