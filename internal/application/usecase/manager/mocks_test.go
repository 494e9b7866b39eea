package manager

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

// memStore is an in-memory port.Store with the same conditional-write
// semantics as the sqlite repo.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	byKey       map[string]int64
	positions   map[int64]*domain.Position
	cursor      int64
	transitions map[int64]int
	closeCalls  int
	failClose   error
}

func newMemStore() *memStore {
	return &memStore{
		byKey:       make(map[string]int64),
		positions:   make(map[int64]*domain.Position),
		transitions: make(map[int64]int),
	}
}

func (m *memStore) seedOpen(symbol, side string, sl, tp float64) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := &domain.Position{
		ID:     m.nextID,
		Symbol: symbol,
		Side:   side,
		SL:     sl,
		TP:     tp,
		Status: domain.StatusOpen,
	}
	m.positions[p.ID] = p
	return p
}

func (m *memStore) EnsureSchema(ctx context.Context) error { return nil }

func (m *memStore) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.positions {
		if p.Status == domain.StatusOpen {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) OpenCountForSymbol(ctx context.Context, symbol string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.positions {
		if p.Symbol == symbol && p.Status == domain.StatusOpen {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Cursor(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *memStore) OpenBatch(ctx context.Context, signals []port.Signal, cursor int64) ([]port.OpenResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]port.OpenResult, 0, len(signals))
	for _, sig := range signals {
		side := domain.NormalizeSide(sig.Side)
		key := domain.SignalKey(sig.Symbol, sig.Timeframe, sig.Date, sig.SignalType, side)
		if _, dup := m.byKey[key]; dup {
			results = append(results, port.OpenResult{Signal: sig})
			continue
		}
		m.nextID++
		m.byKey[key] = m.nextID
		m.positions[m.nextID] = &domain.Position{
			ID:        m.nextID,
			SignalKey: key,
			Symbol:    sig.Symbol,
			Side:      side,
			Entry:     sig.Entry,
			SL:        sig.Stop,
			TP:        sig.TP,
			Status:    domain.StatusOpen,
		}
		results = append(results, port.OpenResult{Signal: sig, PosID: m.nextID, Inserted: true})
	}
	m.cursor = cursor
	return results, nil
}

func (m *memStore) CloseBatch(ctx context.Context, reqs []port.CloseRequest) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	if m.failClose != nil {
		err := m.failClose
		m.failClose = nil
		return nil, err
	}

	var closed []int64
	for _, req := range reqs {
		p, ok := m.positions[req.PosID]
		if !ok || p.Status != domain.StatusOpen {
			continue
		}
		p.Status = domain.StatusClosed
		p.CloseReason = req.Reason
		p.ClosePrice = req.Price
		m.transitions[req.PosID]++
		closed = append(closed, req.PosID)
	}
	return closed, nil
}

func (m *memStore) Close() error { return nil }

var _ port.Store = (*memStore)(nil)

type memSource struct {
	mu      sync.Mutex
	signals []port.Signal
}

func (s *memSource) FetchNewSignals(ctx context.Context, afterID int64, limit int) ([]port.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []port.Signal
	for _, sig := range s.signals {
		if sig.ID > afterID {
			out = append(out, sig)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

var _ port.SignalSource = (*memSource)(nil)

// fakeCodec speaks plain JSON quotes instead of a real exchange protocol.
type fakeCodec struct{}

func (fakeCodec) SubscribeFrame(symbols []string) any {
	return map[string]any{"op": "subscribe", "args": symbols}
}

func (fakeCodec) UnsubscribeFrame(symbols []string) any {
	return map[string]any{"op": "unsubscribe", "args": symbols}
}

func (fakeCodec) PingFrame() any { return map[string]any{"op": "ping"} }

func (fakeCodec) ParseFrame(b []byte) ([]domain.Quote, *port.StreamAck, error) {
	var q domain.Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, nil, err
	}
	return []domain.Quote{q}, nil, nil
}

type readTimeoutErr struct{}

func (readTimeoutErr) Error() string   { return "read timeout" }
func (readTimeoutErr) Timeout() bool   { return true }
func (readTimeoutErr) Temporary() bool { return true }

type fakeConn struct {
	mu     sync.Mutex
	frames chan []byte
	writes []any
	err    error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case b := <-c.frames:
		return b, nil
	case <-time.After(timeout):
		return nil, readTimeoutErr{}
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    chan *fakeConn
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (port.StreamConn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.dials <= d.failures
	d.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
