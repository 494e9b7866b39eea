// Package metrics exposes the trade manager's Prometheus instrumentation:
//
//   - tm_ws_connected                 – stream connected (1/0)
//   - tm_open_positions               – open virtual positions
//   - tm_subscribed_symbols           – symbols currently subscribed
//   - tm_last_tick_age_seconds        – seconds since last parsed tick
//   - tm_last_heartbeat_age_seconds   – seconds since last stream frame
//   - tm_dropped_ticks_total          – ticks dropped on full queue
//   - tm_reconnect_total              – stream reconnects (errors + forced)
//   - tm_exceptions_total             – per-unit-of-work errors survived
//
// All collectors are registered on the default registry and served by the
// HTTP listener started in Serve (Prometheus text exposition at /metrics).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	WsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tm_ws_connected",
		Help: "Stream connected (1/0)",
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tm_open_positions",
		Help: "Open virtual positions count",
	})

	SubscribedSymbols = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tm_subscribed_symbols",
		Help: "Subscribed symbols count",
	})

	LastTickAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tm_last_tick_age_seconds",
		Help: "Seconds since last tick",
	})

	LastHeartbeatAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tm_last_heartbeat_age_seconds",
		Help: "Seconds since last heartbeat",
	})

	DroppedTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tm_dropped_ticks_total",
		Help: "Dropped ticks total",
	})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tm_reconnect_total",
		Help: "Stream reconnect total",
	})

	Exceptions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tm_exceptions_total",
		Help: "Recovered errors total",
	})
)

func init() {
	prometheus.MustRegister(
		WsConnected,
		OpenPositions,
		SubscribedSymbols,
		LastTickAge,
		LastHeartbeatAge,
		DroppedTicks,
		Reconnects,
		Exceptions,
	)
}

// Serve starts the /metrics listener in the background. Listener failure is
// logged, not fatal; the manager keeps trading without metrics.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
}
