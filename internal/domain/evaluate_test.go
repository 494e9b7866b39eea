package domain

import "testing"

func longPos() Position {
	return Position{ID: 1, Symbol: "BTCUSDT", Side: SideLong, Entry: 100, SL: 90, TP: 120}
}

func shortPos() Position {
	return Position{ID: 2, Symbol: "BTCUSDT", Side: SideShort, Entry: 100, SL: 110, TP: 80}
}

func bidAskQuote(bid, ask float64) Quote {
	return Quote{Symbol: "BTCUSDT", Ts: 1700000000, Bid: bid, HasBid: true, Ask: ask, HasAsk: true}
}

func lastQuote(last float64) Quote {
	return Quote{Symbol: "BTCUSDT", Ts: 1700000000, Last: last, HasLast: true}
}

func TestEvaluateHitLongBidAsk(t *testing.T) {
	tests := []struct {
		name      string
		bid       float64
		wantClose bool
		wantWhy   string
		wantPrice float64
	}{
		{"stop hit", 89, true, CloseReasonSL, 89},
		{"stop exact", 90, true, CloseReasonSL, 90},
		{"target hit", 121, true, CloseReasonTP, 121},
		{"between levels", 100, false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := EvaluateHit(longPos(), bidAskQuote(tt.bid, tt.bid+1), HitModeBidAsk)
			if res.ShouldClose != tt.wantClose {
				t.Fatalf("ShouldClose = %v, want %v", res.ShouldClose, tt.wantClose)
			}
			if !tt.wantClose {
				return
			}
			if res.CloseReason != tt.wantWhy {
				t.Errorf("CloseReason = %q, want %q", res.CloseReason, tt.wantWhy)
			}
			if res.ClosePrice != tt.wantPrice {
				t.Errorf("ClosePrice = %v, want %v", res.ClosePrice, tt.wantPrice)
			}
			if res.HitSource != HitModeBidAsk {
				t.Errorf("HitSource = %q, want %q", res.HitSource, HitModeBidAsk)
			}
		})
	}
}

func TestEvaluateHitShortLastPrice(t *testing.T) {
	tests := []struct {
		name    string
		last    float64
		wantWhy string
	}{
		{"stop hit", 111, CloseReasonSL},
		{"target hit", 79, CloseReasonTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := EvaluateHit(shortPos(), lastQuote(tt.last), HitModeLastPrice)
			if !res.ShouldClose {
				t.Fatalf("expected close at last=%v", tt.last)
			}
			if res.CloseReason != tt.wantWhy {
				t.Errorf("CloseReason = %q, want %q", res.CloseReason, tt.wantWhy)
			}
			if res.HitSource != HitModeLastPrice {
				t.Errorf("HitSource = %q, want %q", res.HitSource, HitModeLastPrice)
			}
		})
	}
}

func TestEvaluateHitShortUsesAsk(t *testing.T) {
	// short evaluated against ask, not bid
	res := EvaluateHit(shortPos(), Quote{Bid: 115, HasBid: true, Ask: 100, HasAsk: true}, HitModeBidAsk)
	if res.ShouldClose {
		t.Fatalf("short must ignore bid crossing the stop, got close %q at %v", res.CloseReason, res.ClosePrice)
	}

	res = EvaluateHit(shortPos(), Quote{Bid: 100, HasBid: true, Ask: 111, HasAsk: true}, HitModeBidAsk)
	if !res.ShouldClose || res.CloseReason != CloseReasonSL || res.ClosePrice != 111 {
		t.Fatalf("expected SL at ask=111, got %+v", res)
	}
}

func TestEvaluateHitMissingFieldsIsNoClose(t *testing.T) {
	// bid alone is not enough under bidask, even at an extreme level
	res := EvaluateHit(longPos(), Quote{Bid: 1, HasBid: true}, HitModeBidAsk)
	if res.ShouldClose {
		t.Fatalf("expected no close on incomplete bidask quote, got %+v", res)
	}

	res = EvaluateHit(longPos(), Quote{Bid: 1, HasBid: true, Ask: 1, HasAsk: true}, HitModeLastPrice)
	if res.ShouldClose {
		t.Fatalf("expected no close without last price, got %+v", res)
	}
}

func TestEvaluateHitStopWinsOverTarget(t *testing.T) {
	// degenerate position where one price satisfies both levels
	pos := Position{Side: SideLong, SL: 100, TP: 100}
	res := EvaluateHit(pos, lastQuote(100), HitModeLastPrice)
	if !res.ShouldClose || res.CloseReason != CloseReasonSL {
		t.Fatalf("expected SL to win when both levels are satisfied, got %+v", res)
	}
}

func TestNormalizeSide(t *testing.T) {
	tests := []struct{ in, want string }{
		{"BUY", SideLong},
		{"buy", SideLong},
		{"LONG", SideLong},
		{"SELL", SideShort},
		{" short ", SideShort},
		{"HEDGE", "HEDGE"},
	}
	for _, tt := range tests {
		if got := NormalizeSide(tt.in); got != tt.want {
			t.Errorf("NormalizeSide(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSignalKey(t *testing.T) {
	got := SignalKey("BTCUSDT", "4h", 1700000000, "breakout", SideLong)
	want := "BTCUSDT:4h:1700000000:breakout:LONG"
	if got != want {
		t.Errorf("SignalKey = %q, want %q", got, want)
	}
}

func TestNormalizeTs(t *testing.T) {
	if got := NormalizeTs(1700000000123); got != 1700000000 {
		t.Errorf("milliseconds not normalized, got %d", got)
	}
	if got := NormalizeTs(1700000000); got != 1700000000 {
		t.Errorf("seconds must pass through, got %d", got)
	}
}
