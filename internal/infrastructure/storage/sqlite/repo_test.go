package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "positions.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return r
}

func testSignal(id int64, symbol string) port.Signal {
	return port.Signal{
		ID:         id,
		Symbol:     symbol,
		Timeframe:  "4h",
		Date:       1700000000 + id,
		SignalType: "breakout",
		Side:       "BUY",
		Entry:      100,
		Stop:       90,
		TP:         120,
		CreatedAt:  1700000000,
	}
}

func TestOpenBatchInsertsAndAdvancesCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	results, err := r.OpenBatch(ctx, []port.Signal{testSignal(1, "BTCUSDT"), testSignal(2, "ETHUSDT")}, 2)
	if err != nil {
		t.Fatalf("OpenBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for i, res := range results {
		if !res.Inserted || res.PosID == 0 {
			t.Errorf("result[%d] = %+v, want inserted with pos id", i, res)
		}
	}

	cursor, err := r.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor != 2 {
		t.Errorf("cursor = %d, want 2", cursor)
	}

	open, err := r.LoadOpenPositions(ctx)
	if err != nil {
		t.Fatalf("LoadOpenPositions: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open positions = %d, want 2", len(open))
	}
	if open[0].Side != domain.SideLong {
		t.Errorf("side = %q, want normalized %q", open[0].Side, domain.SideLong)
	}
}

func TestOpenBatchDuplicateKeyIgnored(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.OpenBatch(ctx, []port.Signal{testSignal(1, "BTCUSDT")}, 1); err != nil {
		t.Fatalf("first OpenBatch: %v", err)
	}

	// same content under a new feed id derives the same signal key
	dup := testSignal(2, "BTCUSDT")
	dup.Date = testSignal(1, "BTCUSDT").Date
	results, err := r.OpenBatch(ctx, []port.Signal{dup}, 2)
	if err != nil {
		t.Fatalf("second OpenBatch: %v", err)
	}
	if results[0].Inserted {
		t.Error("duplicate signal key must not insert a second position")
	}

	// cursor still advances past the duplicate
	cursor, _ := r.Cursor(ctx)
	if cursor != 2 {
		t.Errorf("cursor = %d, want 2", cursor)
	}

	if n, _ := r.OpenCountForSymbol(ctx, "BTCUSDT"); n != 1 {
		t.Errorf("open count = %d, want 1", n)
	}
}

func TestOpenBatchEmptyStillSetsCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.OpenBatch(ctx, nil, 42); err != nil {
		t.Fatalf("OpenBatch: %v", err)
	}
	cursor, _ := r.Cursor(ctx)
	if cursor != 42 {
		t.Errorf("cursor = %d, want 42", cursor)
	}
}

func TestCursorEmptyIsZero(t *testing.T) {
	r := newTestRepo(t)

	cursor, err := r.Cursor(context.Background())
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor != 0 {
		t.Errorf("cursor = %d, want 0 on fresh database", cursor)
	}
}

func TestCloseBatchIsConditional(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	results, err := r.OpenBatch(ctx, []port.Signal{testSignal(1, "BTCUSDT")}, 1)
	if err != nil {
		t.Fatalf("OpenBatch: %v", err)
	}
	posID := results[0].PosID

	req := port.CloseRequest{
		PosID:  posID,
		Reason: domain.CloseReasonSL,
		Price:  89.5,
		Source: domain.HitModeBidAsk,
		TickTs: 1700000100,
		Bid:    89.5, HasBid: true,
		Ask: 89.7, HasAsk: true,
	}

	closed, err := r.CloseBatch(ctx, []port.CloseRequest{req})
	if err != nil {
		t.Fatalf("CloseBatch: %v", err)
	}
	if len(closed) != 1 || closed[0] != posID {
		t.Fatalf("closed = %v, want [%d]", closed, posID)
	}

	// second attempt loses the conditional update
	closed, err = r.CloseBatch(ctx, []port.CloseRequest{req})
	if err != nil {
		t.Fatalf("CloseBatch repeat: %v", err)
	}
	if len(closed) != 0 {
		t.Errorf("closed = %v, want none on already closed position", closed)
	}

	open, _ := r.LoadOpenPositions(ctx)
	if len(open) != 0 {
		t.Errorf("open positions = %d, want 0", len(open))
	}

	var reason string
	var price float64
	err = r.GetDB().QueryRow(
		`SELECT close_reason, close_price FROM virtual_positions WHERE id=?`, posID,
	).Scan(&reason, &price)
	if err != nil {
		t.Fatalf("read closed row: %v", err)
	}
	if reason != domain.CloseReasonSL || price != 89.5 {
		t.Errorf("close_reason=%q close_price=%v", reason, price)
	}

	var events int
	if err := r.GetDB().QueryRow(
		`SELECT COUNT(*) FROM position_events WHERE pos_id=? AND event_type='CLOSED'`, posID,
	).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Errorf("CLOSED events = %d, want 1", events)
	}
}

func TestSignalSourceFetchNewSignals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.db")
	src, err := NewSignalSource(path)
	if err != nil {
		t.Fatalf("open signal source: %v", err)
	}
	t.Cleanup(func() { src.Close() })

	// the generator owns this schema; recreate just enough of it
	if _, err := src.GetDB().Exec(`
		CREATE TABLE signals (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  symbol TEXT, timeframe TEXT, date INTEGER, signal_type TEXT,
		  side TEXT, entry REAL, stop REAL, tp REAL, created_at INTEGER
		);
		INSERT INTO signals(symbol, timeframe, date, signal_type, side, entry, stop, tp, created_at)
		VALUES ('BTCUSDT','4h',1700000000,'breakout','BUY',100,90,120,1700000000),
		       ('ETHUSDT','4h',1700000060,'breakout','SELL',200,220,150,1700000060),
		       ('XRPUSDT','4h',1700000120,'breakout','BUY',1,0.9,1.2,1700000120);
	`); err != nil {
		t.Fatalf("seed signals: %v", err)
	}

	sigs, err := src.FetchNewSignals(context.Background(), 1, 500)
	if err != nil {
		t.Fatalf("FetchNewSignals: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("signals = %d, want 2 after id 1", len(sigs))
	}
	if sigs[0].ID != 2 || sigs[0].Symbol != "ETHUSDT" || sigs[0].Side != "SELL" {
		t.Errorf("first signal = %+v", sigs[0])
	}
	if sigs[1].ID != 3 {
		t.Errorf("second signal id = %d, want 3", sigs[1].ID)
	}

	sigs, err = src.FetchNewSignals(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("FetchNewSignals limit: %v", err)
	}
	if len(sigs) != 1 {
		t.Errorf("signals = %d, want limit 1 respected", len(sigs))
	}
}
