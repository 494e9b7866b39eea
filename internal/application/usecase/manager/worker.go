package manager

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/metrics"
)

// TickWorker is the single consumer of the bounded tick queue. It isolates
// per-tick work (evaluation, store writes, sidecar publishes) from the
// network read loop; one bad tick never halts the rest.
type TickWorker struct {
	state  *State
	router *Router
	sink   port.EventSink
}

func NewTickWorker(state *State, router *Router, sink port.EventSink) *TickWorker {
	if sink == nil {
		sink = port.NewNoopSink()
	}
	return &TickWorker{state: state, router: router, sink: sink}
}

func (w *TickWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q := <-w.state.Ticks():
			if err := w.sink.PublishQuote(ctx, q); err != nil {
				log.Warn().Err(err).Str("symbol", q.Symbol).Msg("quote publish failed")
			}
			if err := w.router.OnTick(ctx, q); err != nil {
				metrics.Exceptions.Inc()
				log.Warn().Err(err).Str("symbol", q.Symbol).Msg("tick worker error")
			}
		}
	}
}
