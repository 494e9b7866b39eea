package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/metrics"
)

// HealthChecker periodically snapshots State, exports gauges and declares
// the stream stale when a nominally connected socket has been silent past
// the liveness timeout. Its only lever over the stream client is the
// force-reconnect flag.
type HealthChecker struct {
	state           *State
	logInterval     time.Duration
	livenessTimeout time.Duration

	now func() int64
}

func NewHealthChecker(state *State, logInterval, livenessTimeout time.Duration) *HealthChecker {
	return &HealthChecker{
		state:           state,
		logInterval:     logInterval,
		livenessTimeout: livenessTimeout,
		now:             func() int64 { return time.Now().Unix() },
	}
}

func (h *HealthChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.check()
		}
	}
}

func (h *HealthChecker) check() {
	now := h.now()
	snap := h.state.Snapshot()

	heartbeatAge := int64(0)
	if snap.LastHeartbeat > 0 {
		heartbeatAge = max(0, now-snap.LastHeartbeat)
	}
	tickAge := int64(0)
	if snap.LastTick > 0 {
		tickAge = max(0, now-snap.LastTick)
	}

	stale := snap.ConnState == Connected &&
		snap.LastHeartbeat > 0 &&
		heartbeatAge > int64(h.livenessTimeout/time.Second)
	if stale {
		h.state.SetForceReconnect()
	}

	if snap.ConnState == Connected {
		metrics.WsConnected.Set(1)
	} else {
		metrics.WsConnected.Set(0)
	}
	metrics.OpenPositions.Set(float64(snap.OpenCount))
	metrics.SubscribedSymbols.Set(float64(snap.SubscribedCount))
	metrics.LastHeartbeatAge.Set(float64(heartbeatAge))
	metrics.LastTickAge.Set(float64(tickAge))

	log.Info().
		Str("ws", snap.ConnState.String()).
		Int("open", snap.OpenCount).
		Int("subscribed", snap.SubscribedCount).
		Int64("dropped_ticks", snap.DroppedTicks).
		Int("queue_depth", snap.QueueDepth).
		Int64("heartbeat_age_sec", heartbeatAge).
		Msg("manager heartbeat")

	if stale {
		log.Warn().Int64("heartbeat_age_sec", heartbeatAge).
			Msg("stream stale, scheduling forced reconnect")
	}
}
