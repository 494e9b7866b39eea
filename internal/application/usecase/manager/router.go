package manager

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

// Router matches one tick against the symbol's open positions and persists
// any resulting closes as a single transaction.
type Router struct {
	state *State
	store port.Store
	sink  port.EventSink
	mode  string
}

func NewRouter(state *State, store port.Store, sink port.EventSink, mode string) *Router {
	if sink == nil {
		sink = port.NewNoopSink()
	}
	return &Router{state: state, store: store, sink: sink, mode: mode}
}

// OnTick serializes per symbol: concurrent ticks for the same symbol never
// interleave their evaluate-and-close sequences, ticks for different symbols
// proceed in parallel. The conditional close in the store keeps this safe
// even against writers that do not hold the lock.
func (r *Router) OnTick(ctx context.Context, q domain.Quote) error {
	lock := r.state.SymbolLock(q.Symbol)
	lock.Lock()
	defer lock.Unlock()

	positions := r.state.OpenPositions(q.Symbol)
	if len(positions) == 0 {
		return nil
	}

	reqs := make([]port.CloseRequest, 0, 1)
	for _, pos := range positions {
		res := domain.EvaluateHit(pos, q, r.mode)
		if !res.ShouldClose {
			continue
		}
		reqs = append(reqs, port.CloseRequest{
			PosID:  pos.ID,
			Reason: res.CloseReason,
			Price:  res.ClosePrice,
			Source: res.HitSource,
			TickTs: q.Ts,
			Bid:    q.Bid,
			HasBid: q.HasBid,
			Ask:    q.Ask,
			HasAsk: q.HasAsk,
		})
	}
	if len(reqs) == 0 {
		return nil
	}

	closed, err := r.store.CloseBatch(ctx, reqs)
	if err != nil {
		return fmt.Errorf("close batch for %s: %w", q.Symbol, err)
	}

	closedSet := make(map[int64]struct{}, len(closed))
	for _, id := range closed {
		closedSet[id] = struct{}{}
	}

	for _, req := range reqs {
		if _, ok := closedSet[req.PosID]; !ok {
			log.Debug().Int64("pos_id", req.PosID).Str("symbol", q.Symbol).
				Msg("position already closed elsewhere")
			continue
		}
		r.state.RemovePosition(q.Symbol, req.PosID)

		log.Info().
			Str("symbol", q.Symbol).
			Int64("pos_id", req.PosID).
			Str("reason", req.Reason).
			Float64("price", req.Price).
			Str("source", req.Source).
			Msg("position closed")

		ev := port.PositionEvent{
			Type:   "CLOSED",
			PosID:  req.PosID,
			Symbol: q.Symbol,
			Ts:     q.Ts,
			Price:  req.Price,
			Reason: req.Reason,
		}
		if err := r.sink.PublishEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Int64("pos_id", req.PosID).Msg("event publish failed")
		}
	}
	return nil
}
