package domain

// Quote is one market data update for a symbol. Bybit ticker frames carry a
// varying subset of fields, so each price has an explicit presence flag
// instead of a pointer.
type Quote struct {
	Symbol string
	Ts     int64 // unix seconds

	Last    float64
	HasLast bool
	Bid     float64
	HasBid  bool
	Ask     float64
	HasAsk  bool
}

// NormalizeTs converts a feed timestamp to unix seconds. Bybit mixes seconds
// and milliseconds across frame types.
func NormalizeTs(ts int64) int64 {
	if ts > 1_000_000_000_000 {
		return ts / 1000
	}
	return ts
}
