package domain

const (
	// HitModeBidAsk evaluates LONG positions against the bid and SHORT
	// positions against the ask, the price each side would actually get.
	HitModeBidAsk = "bidask"
	// HitModeLastPrice evaluates both sides against the last trade price.
	HitModeLastPrice = "last_price"
)

// EvalResult is the outcome of a single position/quote evaluation. A quote
// missing the fields the mode needs yields ShouldClose=false, not an error.
type EvalResult struct {
	ShouldClose bool
	CloseReason string
	ClosePrice  float64
	HitSource   string
}

// EvaluateHit decides whether a quote crosses the position's stop or target.
// SL is checked before TP, so when one quote satisfies both the stop wins.
func EvaluateHit(pos Position, q Quote, mode string) EvalResult {
	var longPrice, shortPrice float64
	var source string

	switch mode {
	case HitModeBidAsk:
		if !q.HasBid || !q.HasAsk {
			return EvalResult{}
		}
		longPrice, shortPrice = q.Bid, q.Ask
		source = HitModeBidAsk
	default:
		if !q.HasLast {
			return EvalResult{}
		}
		longPrice, shortPrice = q.Last, q.Last
		source = HitModeLastPrice
	}

	switch NormalizeSide(pos.Side) {
	case SideLong:
		if longPrice <= pos.SL {
			return EvalResult{true, CloseReasonSL, longPrice, source}
		}
		if longPrice >= pos.TP {
			return EvalResult{true, CloseReasonTP, longPrice, source}
		}
	case SideShort:
		if shortPrice >= pos.SL {
			return EvalResult{true, CloseReasonSL, shortPrice, source}
		}
		if shortPrice <= pos.TP {
			return EvalResult{true, CloseReasonTP, shortPrice, source}
		}
	}

	return EvalResult{}
}
