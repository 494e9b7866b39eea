package domain

import (
	"fmt"
	"strings"
)

const (
	SideLong  = "LONG"
	SideShort = "SHORT"

	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"

	CloseReasonSL = "SL"
	CloseReasonTP = "TP"
)

// Position is a virtual position opened from an external signal and tracked
// until a tick crosses its stop or target. Once Status is CLOSED the row is
// immutable; the store enforces the single OPEN->CLOSED transition.
type Position struct {
	ID              int64
	SignalKey       string
	Symbol          string
	Timeframe       string
	SignalDate      int64
	SignalCreatedAt int64
	SignalType      string
	Side            string
	Entry           float64
	SL              float64
	TP              float64
	OpenedAt        int64
	Status          string
	ClosedAt        int64
	CloseReason     string
	ClosePrice      float64
}

// SignalKey derives the unique idempotency key for a signal. Two signals with
// the same (symbol, timeframe, date, type, side) map to the same key, so at
// most one position is ever created for them.
func SignalKey(symbol, timeframe string, date int64, signalType, side string) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", symbol, timeframe, date, signalType, side)
}

// NormalizeSide maps exchange-style sides onto LONG/SHORT. Unknown values are
// returned upper-cased as-is.
func NormalizeSide(side string) string {
	s := strings.ToUpper(strings.TrimSpace(side))
	switch s {
	case "BUY", "LONG":
		return SideLong
	case "SELL", "SHORT":
		return SideShort
	}
	return s
}
