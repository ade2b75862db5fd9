package bot

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// heartbeatResolution is the countdown tick.
const heartbeatResolution = time.Second

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func newTimeTicker(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// heartbeat keeps a session alive. A countdown loses one unit per tick and a
// watcher sends a heartbeat once it hits zero. Any outgoing frame resets the
// countdown through Touch.
type heartbeat struct {
	ticks     int64
	remaining atomic.Int64
	due       chan struct{}
	send      func(ctx context.Context) error
	newTicker func(time.Duration) ticker
	logger    zerolog.Logger
}

func newHeartbeat(interval time.Duration, newTicker func(time.Duration) ticker, send func(context.Context) error, logger zerolog.Logger) *heartbeat {
	ticks := int64(interval / heartbeatResolution)
	if ticks < 1 {
		ticks = 1
	}
	h := &heartbeat{
		ticks:     ticks,
		due:       make(chan struct{}, 1),
		send:      send,
		newTicker: newTicker,
		logger:    logger,
	}
	h.remaining.Store(ticks)
	return h
}

// Touch restarts the countdown.
func (h *heartbeat) Touch() {
	h.remaining.Store(h.ticks)
}

func (h *heartbeat) countdown(ctx context.Context) {
	t := h.newTicker(heartbeatResolution)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if h.remaining.Add(-1) == 0 {
				select {
				case h.due <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (h *heartbeat) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.due:
			if err := h.send(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				h.logger.Warn().Err(err).Msg("Heartbeat failed")
			}
			h.Touch()
		}
	}
}
