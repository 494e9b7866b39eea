package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/metrics"
)

// Ingester consumes the external signal feed through a persisted cursor and
// opens virtual positions idempotently.
type Ingester struct {
	state            *State
	store            port.Store
	source           port.SignalSource
	sink             port.EventSink
	batchSize        int
	maxOpenPerSymbol int
	pollInterval     time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewIngester(state *State, store port.Store, source port.SignalSource, sink port.EventSink,
	batchSize, maxOpenPerSymbol int, pollInterval time.Duration) *Ingester {
	if sink == nil {
		sink = port.NewNoopSink()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if maxOpenPerSymbol <= 0 {
		maxOpenPerSymbol = 1
	}
	return &Ingester{
		state:            state,
		store:            store,
		source:           source,
		sink:             sink,
		batchSize:        batchSize,
		maxOpenPerSymbol: maxOpenPerSymbol,
		pollInterval:     pollInterval,
		sleep:            sleepCtx,
	}
}

// Resync rebuilds the in-memory open-position cache from the store, which is
// the authority for position status.
func (i *Ingester) Resync(ctx context.Context) error {
	positions, err := i.store.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	i.state.ReplaceOpenPositions(positions)
	return nil
}

// IngestOnce processes one batch. The cursor advances to the last id
// actually examined, whether the row opened a position or was skipped; an
// unexpected error aborts the whole batch uncommitted so it is retried.
func (i *Ingester) IngestOnce(ctx context.Context) (int, error) {
	cursor, err := i.store.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}

	rows, err := i.source.FetchNewSignals(ctx, cursor, i.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch signals: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	lastID := cursor
	openedInBatch := make(map[string]int)
	toOpen := make([]port.Signal, 0, len(rows))

	for _, sig := range rows {
		lastID = sig.ID

		count, err := i.store.OpenCountForSymbol(ctx, sig.Symbol)
		if err != nil {
			return 0, fmt.Errorf("open count for %s: %w", sig.Symbol, err)
		}
		if count+openedInBatch[sig.Symbol] >= i.maxOpenPerSymbol {
			log.Info().Str("symbol", sig.Symbol).Int64("signal_id", sig.ID).
				Msg("signal ignored, symbol already has open position")
			continue
		}
		toOpen = append(toOpen, sig)
		openedInBatch[sig.Symbol]++
	}

	// toOpen may be empty; the cursor still advances past the examined rows
	results, err := i.store.OpenBatch(ctx, toOpen, lastID)
	if err != nil {
		return 0, fmt.Errorf("open batch: %w", err)
	}

	inserted := 0
	for _, res := range results {
		if !res.Inserted {
			log.Debug().Int64("signal_id", res.Signal.ID).Msg("duplicate signal key, not inserted")
			continue
		}
		inserted++
		log.Info().
			Str("symbol", res.Signal.Symbol).
			Int64("signal_id", res.Signal.ID).
			Int64("pos_id", res.PosID).
			Msg("position opened")

		ev := port.PositionEvent{
			Type:     "OPENED",
			PosID:    res.PosID,
			Symbol:   res.Signal.Symbol,
			Ts:       time.Now().Unix(),
			Price:    res.Signal.Entry,
			SignalID: res.Signal.ID,
		}
		if err := i.sink.PublishEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Int64("pos_id", res.PosID).Msg("event publish failed")
		}
	}

	if err := i.Resync(ctx); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// Run polls until cancelled. A non-empty batch retries immediately; an empty
// one sleeps the poll interval. Batch errors are survived with a poll delay.
func (i *Ingester) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		inserted, err := i.IngestOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Exceptions.Inc()
			log.Warn().Err(err).Msg("ingest batch failed, will retry")
			if err := i.sleep(ctx, i.pollInterval); err != nil {
				return err
			}
			continue
		}

		if inserted == 0 {
			if err := i.sleep(ctx, i.pollInterval); err != nil {
				return err
			}
		}
	}
}
