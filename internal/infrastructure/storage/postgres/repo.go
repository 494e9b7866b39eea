package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

const cursorKey = "last_seen_signal_id"

// Repo implements the position store and the signal source on a single
// Postgres database, for deployments where the signal generator writes to
// the same instance.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS virtual_positions (
  id BIGSERIAL PRIMARY KEY,
  signal_key TEXT NOT NULL UNIQUE,
  symbol TEXT NOT NULL,
  timeframe TEXT NOT NULL,
  signal_date BIGINT NOT NULL,
  signal_created_at BIGINT NOT NULL,
  signal_type TEXT NOT NULL,
  side TEXT NOT NULL,
  entry DOUBLE PRECISION NOT NULL,
  sl DOUBLE PRECISION NOT NULL,
  tp DOUBLE PRECISION NOT NULL,
  opened_at BIGINT NOT NULL,
  status TEXT NOT NULL,
  closed_at BIGINT,
  close_reason TEXT,
  close_price DOUBLE PRECISION,
  hit_source TEXT,
  last_tick_ts BIGINT,
  last_tick_price DOUBLE PRECISION,
  meta_json TEXT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vp_status_symbol ON virtual_positions(status, symbol);
CREATE INDEX IF NOT EXISTS idx_vp_opened_at ON virtual_positions(opened_at);

CREATE TABLE IF NOT EXISTS position_events (
  id BIGSERIAL PRIMARY KEY,
  pos_id BIGINT NOT NULL REFERENCES virtual_positions(id),
  ts BIGINT NOT NULL,
  event_type TEXT NOT NULL,
  price DOUBLE PRECISION,
  bid DOUBLE PRECISION,
  ask DOUBLE PRECISION,
  payload_json TEXT,
  error TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON position_events(ts);

CREATE TABLE IF NOT EXISTS manager_state (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL,
  updated_at BIGINT NOT NULL
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
		`SELECT COUNT(*) FROM virtual_positions WHERE symbol=$1 AND status='OPEN'`, symbol).Scan(&n)
	return n, err
}

func (r *Repo) Cursor(ctx context.Context) (int64, error) {
	var v string
	err := r.db.QueryRowContext(ctx,
		`SELECT v FROM manager_state WHERE k=$1`, cursorKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
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

		var posID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO virtual_positions(
			  signal_key, symbol, timeframe, signal_date, signal_created_at,
			  signal_type, side, entry, sl, tp,
			  opened_at, status, meta_json, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'OPEN', '{}', $12, $13)
			ON CONFLICT (signal_key) DO NOTHING
			RETURNING id`,
			key, sig.Symbol, sig.Timeframe, sig.Date, sig.CreatedAt,
			sig.SignalType, side, sig.Entry, sig.Stop, sig.TP,
			now, now, now,
		).Scan(&posID)
		if errors.Is(err, sql.ErrNoRows) {
			results = append(results, port.OpenResult{Signal: sig})
			continue
		}
		if err != nil {
			return nil, err
		}

		payload, _ := json.Marshal(map[string]any{"signal_id": sig.ID, "signal_key": key})
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO position_events(pos_id, ts, event_type, payload_json)
			VALUES ($1, $2, 'OPENED', $3)`,
			posID, now, string(payload),
		); err != nil {
			return nil, err
		}
		results = append(results, port.OpenResult{Signal: sig, PosID: posID, Inserted: true})
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO manager_state(k, v, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (k) DO UPDATE SET v=excluded.v, updated_at=excluded.updated_at`,
		cursorKey, strconv.FormatInt(cursor, 10), now,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
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
			SET status='CLOSED', closed_at=$1, close_reason=$2, close_price=$3,
			    hit_source=$4, last_tick_ts=$5, last_tick_price=$6, updated_at=$7
			WHERE id=$8 AND status='OPEN'`,
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
			continue
		}

		payload, _ := json.Marshal(map[string]any{"reason": req.Reason, "source": req.Source})
		bid := sql.NullFloat64{Float64: req.Bid, Valid: req.HasBid}
		ask := sql.NullFloat64{Float64: req.Ask, Valid: req.HasAsk}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO position_events(pos_id, ts, event_type, price, bid, ask, payload_json)
			VALUES ($1, $2, 'CLOSED', $3, $4, $5, $6)`,
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

func (r *Repo) FetchNewSignals(ctx context.Context, afterID int64, limit int) ([]port.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, timeframe, date, signal_type, side, entry, stop, tp, created_at
		FROM signals
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []port.Signal
	for rows.Next() {
		var sig port.Signal
		if err := rows.Scan(
			&sig.ID, &sig.Symbol, &sig.Timeframe, &sig.Date, &sig.SignalType,
			&sig.Side, &sig.Entry, &sig.Stop, &sig.TP, &sig.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

var (
	_ port.Store        = (*Repo)(nil)
	_ port.SignalSource = (*Repo)(nil)
)
