package xledger

import (
	"strconv"

	"github.com/trickstertwo/xlog"
)

// Observer receives bus lifecycle events. Implementations should be
// non-blocking; slow observers are isolated by the ObserverPool.
type Observer interface {
	OnEvent(e BusEvent)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e BusEvent)

func (f ObserverFunc) OnEvent(e BusEvent) { f(e) }

// LoggingObserver is an Adapter that emits bus events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e BusEvent) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("channel", e.Channel),
		xlog.Str("subscriber", e.Subscriber),
		xlog.Str("event_id", e.EventID),
		xlog.Str("kind", e.Kind),
		xlog.Str("offset", strconv.FormatUint(e.Offset, 10)),
	)
	switch e.Type {
	case EventError, EventRetryPending, EventReplayHalt:
		ev.Warn().Err(e.Err).Msg("xledger event")
	case EventAckPermanent:
		// Permanently failed records are surfaced for operator visibility.
		ev.Warn().Err(e.Err).Msg("xledger event acked with error annotation")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xledger event")
	}
}
