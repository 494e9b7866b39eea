package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

const cursorKey = "last_seen_signal_id"

// Repo is the default position store, one sqlite file with WAL journaling.
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB { return r.db }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS virtual_positions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  signal_key TEXT NOT NULL UNIQUE,
  symbol TEXT NOT NULL,
  timeframe TEXT NOT NULL,
  signal_date INTEGER NOT NULL,
  signal_created_at INTEGER NOT NULL,
  signal_type TEXT NOT NULL,
  side TEXT NOT NULL,
  entry REAL NOT NULL,
  sl REAL NOT NULL,
  tp REAL NOT NULL,
  opened_at INTEGER NOT NULL,
  status TEXT NOT NULL,
  closed_at INTEGER,
  close_reason TEXT,
  close_price REAL,
  hit_source TEXT,
  last_tick_ts INTEGER,
  last_tick_price REAL,
  meta_json TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vp_status_symbol ON virtual_positions(status, symbol);
CREATE INDEX IF NOT EXISTS idx_vp_close_reason ON virtual_positions(close_reason);
CREATE INDEX IF NOT EXISTS idx_vp_opened_at ON virtual_positions(opened_at);

CREATE TABLE IF NOT EXISTS position_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  pos_id INTEGER NOT NULL,
  ts INTEGER NOT NULL,
  event_type TEXT NOT NULL,
  price REAL,
  bid REAL,
  ask REAL,
  payload_json TEXT,
  error TEXT,
  FOREIGN KEY (pos_id) REFERENCES virtual_positions(id)
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON position_events(ts);

CREATE TABLE IF NOT EXISTS manager_state (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`)
	return err
}

func (r *Repo) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, signal_key, symbol, timeframe, signal_date, signal_created_at,
		       signal_type, side, entry, sl, tp, opened_at, status
		FROM virtual_positions
		WHERE status='OPEN'
		ORDER BY opened_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.ID, &p.SignalKey, &p.Symbol, &p.Timeframe, &p.SignalDate, &p.SignalCreatedAt,
			&p.SignalType, &p.Side, &p.Entry, &p.SL, &p.TP, &p.OpenedAt, &p.Status,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) OpenCountForSymbol(ctx context.Context, symbol string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM virtual_positions WHERE symbol=? AND status='OPEN'`, symbol).Scan(&n)
	return n, err
}

func (r *Repo) Cursor(ctx context.Context) (int64, error) {
	var v string
	err := r.db.QueryRowContext(ctx,
		`SELECT v FROM manager_state WHERE k=?`, cursorKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var id int64
	if _, err := fmt.Sscanf(v, "%d", &id); err != nil {
		return 0, fmt.Errorf("bad cursor value %q: %w", v, err)
	}
	return id, nil
}

func (r *Repo) OpenBatch(ctx context.Context, signals []port.Signal, cursor int64) ([]port.OpenResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	results := make([]port.OpenResult, 0, len(signals))

	for _, sig := range signals {
		side := domain.NormalizeSide(sig.Side)
		key := domain.SignalKey(sig.Symbol, sig.Timeframe, sig.Date, sig.SignalType, side)

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO virtual_positions(
			  signal_key, symbol, timeframe, signal_date, signal_created_at,
			  signal_type, side, entry, sl, tp,
			  opened_at, status, meta_json, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', '{}', ?, ?)`,
			key, sig.Symbol, sig.Timeframe, sig.Date, sig.CreatedAt,
			sig.SignalType, side, sig.Entry, sig.Stop, sig.TP,
			now, now, now,
		)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected != 1 {
			results = append(results, port.OpenResult{Signal: sig})
			continue
		}

		posID, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		payload, _ := json.Marshal(map[string]any{"signal_id": sig.ID, "signal_key": key})
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO position_events(pos_id, ts, event_type, payload_json)
			VALUES (?, ?, 'OPENED', ?)`,
			posID, now, string(payload),
		); err != nil {
			return nil, err
		}
		results = append(results, port.OpenResult{Signal: sig, PosID: posID, Inserted: true})
	}

	if err := setCursorTx(ctx, tx, cursor, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

func setCursorTx(ctx context.Context, tx *sql.Tx, value, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO manager_state(k, v, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(k) DO UPDATE SET v=excluded.v, updated_at=excluded.updated_at`,
		cursorKey, fmt.Sprintf("%d", value), now)
	return err
}

func (r *Repo) CloseBatch(ctx context.Context, reqs []port.CloseRequest) ([]int64, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	var closed []int64

	for _, req := range reqs {
		res, err := tx.ExecContext(ctx, `
			UPDATE virtual_positions
			SET status='CLOSED', closed_at=?, close_reason=?, close_price=?,
			    hit_source=?, last_tick_ts=?, last_tick_price=?, updated_at=?
			WHERE id=? AND status='OPEN'`,
			now, req.Reason, req.Price, req.Source, req.TickTs, req.Price, now, req.PosID,
		)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected != 1 {
			// lost the race to another writer, normal outcome
			continue
		}

		payload, _ := json.Marshal(map[string]any{"reason": req.Reason, "source": req.Source})
		bid := sql.NullFloat64{Float64: req.Bid, Valid: req.HasBid}
		ask := sql.NullFloat64{Float64: req.Ask, Valid: req.HasAsk}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO position_events(pos_id, ts, event_type, price, bid, ask, payload_json)
			VALUES (?, ?, 'CLOSED', ?, ?, ?, ?)`,
			req.PosID, now, req.Price, bid, ask, string(payload),
		); err != nil {
			return nil, err
		}
		closed = append(closed, req.PosID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return closed, nil
}

var _ port.Store = (*Repo)(nil)
