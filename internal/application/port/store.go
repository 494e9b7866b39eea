package port

import (
	"context"

	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

// Signal is one row of the externally produced signal feed. Ids are strictly
// increasing; the feed is consumed read-only.
type Signal struct {
	ID         int64
	Symbol     string
	Timeframe  string
	Date       int64
	SignalType string
	Side       string
	Entry      float64
	Stop       float64
	TP         float64
	CreatedAt  int64
}

type SignalSource interface {
	// FetchNewSignals returns up to limit rows with id > afterID, id ascending.
	FetchNewSignals(ctx context.Context, afterID int64, limit int) ([]Signal, error)
}

// CloseRequest asks the store for one conditional OPEN->CLOSED transition.
type CloseRequest struct {
	PosID      int64
	Reason     string
	Price      float64
	Source     string
	TickTs     int64
	Bid, Ask   float64
	HasBid     bool
	HasAsk     bool
}

// OpenResult reports the outcome of one idempotent insert. Inserted=false
// means the signal key already existed, which is a normal outcome.
type OpenResult struct {
	Signal   Signal
	PosID    int64
	Inserted bool
}

// Store is the persisted authority for position state. Implementations must
// provide conditional writes (no-op on duplicate key, no-op unless OPEN) and
// commit each batch method as a single transaction.
type Store interface {
	EnsureSchema(ctx context.Context) error

	LoadOpenPositions(ctx context.Context) ([]domain.Position, error)
	OpenCountForSymbol(ctx context.Context, symbol string) (int, error)

	Cursor(ctx context.Context) (int64, error)

	// OpenBatch inserts positions for the given signals, appends an OPENED
	// event per inserted row, and persists the cursor, all in one transaction.
	// A crash before commit loses neither positions nor unconsumed signals.
	OpenBatch(ctx context.Context, signals []Signal, cursor int64) ([]OpenResult, error)

	// CloseBatch applies conditional closes and appends a CLOSED event for
	// each position actually transitioned, in one transaction. Requests that
	// lose the race to another writer are skipped, not failed.
	CloseBatch(ctx context.Context, reqs []CloseRequest) (closed []int64, err error)

	Close() error
}
