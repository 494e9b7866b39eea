package sqlite

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
)

// SignalSource reads the externally produced signal feed. The signal
// generator owns that database; we only ever select from it.
type SignalSource struct {
	db *sql.DB
}

func NewSignalSource(path string) (*SignalSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SignalSource{db: db}, nil
}

func (s *SignalSource) Close() error { return s.db.Close() }

func (s *SignalSource) GetDB() *sql.DB { return s.db }

func (s *SignalSource) FetchNewSignals(ctx context.Context, afterID int64, limit int) ([]port.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, timeframe, date, signal_type, side, entry, stop, tp, created_at
		FROM signals
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?`, afterID, limit)
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

var _ port.SignalSource = (*SignalSource)(nil)
