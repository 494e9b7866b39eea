package port

import (
	"context"

	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

// PositionEvent mirrors the append-only audit record for downstream
// consumers (notification sidecar, dashboards).
type PositionEvent struct {
	Type     string // OPENED | CLOSED
	PosID    int64
	Symbol   string
	Ts       int64
	Price    float64
	Reason   string
	SignalID int64
}

// EventSink receives best-effort copies of quotes and position events.
// Failures are logged by callers, never propagated into the trading path.
type EventSink interface {
	PublishQuote(ctx context.Context, q domain.Quote) error
	PublishEvent(ctx context.Context, ev PositionEvent) error
}

type noopSink struct{}

func NewNoopSink() EventSink { return &noopSink{} }

func (n *noopSink) PublishQuote(ctx context.Context, q domain.Quote) error { return nil }

func (n *noopSink) PublishEvent(ctx context.Context, ev PositionEvent) error { return nil }
