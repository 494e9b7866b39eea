package manager

import (
	"sort"
	"sync"

	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// State is the single shared registry. One coarse mutex guards every
// composite field; per-symbol mutexes serialize evaluate-and-close sequences
// without dragging unrelated symbols behind the coarse lock. The coarse lock
// is never held across I/O.
type State struct {
	mu sync.Mutex

	openBySymbol map[string][]domain.Position
	lastQuote    map[string]domain.Quote
	subscribed   map[string]struct{}
	symbolLocks  map[string]*sync.Mutex

	ticks        chan domain.Quote
	droppedTicks int64

	connState      ConnState
	lastHeartbeat  int64
	lastTick       int64
	forceReconnect bool
}

func NewState(queueSize int) *State {
	if queueSize <= 0 {
		queueSize = 5000
	}
	return &State{
		openBySymbol: make(map[string][]domain.Position),
		lastQuote:    make(map[string]domain.Quote),
		subscribed:   make(map[string]struct{}),
		symbolLocks:  make(map[string]*sync.Mutex),
		ticks:        make(chan domain.Quote, queueSize),
	}
}

// SymbolLock returns the dedicated mutex for a symbol, creating it on first
// use. Creation happens under the coarse lock so two goroutines racing on
// first access get the same mutex.
func (s *State) SymbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.symbolLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.symbolLocks[symbol] = l
	}
	return l
}

// DesiredSubscriptions is the sorted set of symbols with at least one open
// position.
func (s *State) DesiredSubscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.openBySymbol))
	for sym, positions := range s.openBySymbol {
		if len(positions) > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// SubscriptionDelta diffs desired against currently subscribed symbols.
func (s *State) SubscriptionDelta() (add, remove []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desired := make(map[string]struct{}, len(s.openBySymbol))
	for sym, positions := range s.openBySymbol {
		if len(positions) > 0 {
			desired[sym] = struct{}{}
		}
	}
	for sym := range desired {
		if _, ok := s.subscribed[sym]; !ok {
			add = append(add, sym)
		}
	}
	for sym := range s.subscribed {
		if _, ok := desired[sym]; !ok {
			remove = append(remove, sym)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}

// MarkSubscribed records symbols after their subscribe frame was sent.
func (s *State) MarkSubscribed(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.subscribed[sym] = struct{}{}
	}
}

func (s *State) MarkUnsubscribed(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		delete(s.subscribed, sym)
	}
}

func (s *State) OpenPositions(symbol string) []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.openBySymbol[symbol]
	if len(src) == 0 {
		return nil
	}
	out := make([]domain.Position, len(src))
	copy(out, src)
	return out
}

// ReplaceOpenPositions swaps the whole open-position cache, used by the
// ingest resync against the persisted store.
func (s *State) ReplaceOpenPositions(positions []domain.Position) {
	grouped := make(map[string][]domain.Position)
	for _, p := range positions {
		grouped[p.Symbol] = append(grouped[p.Symbol], p)
	}
	s.mu.Lock()
	s.openBySymbol = grouped
	s.mu.Unlock()
}

// RemovePosition drops one closed position from the cache.
func (s *State) RemovePosition(symbol string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.openBySymbol[symbol]
	if len(src) == 0 {
		return
	}
	out := src[:0]
	for _, p := range src {
		if p.ID != id {
			out = append(out, p)
		}
	}
	s.openBySymbol[symbol] = out
}

// RecordQuote updates the last-quote cache and the last-tick timestamp.
func (s *State) RecordQuote(q domain.Quote) {
	s.mu.Lock()
	s.lastQuote[q.Symbol] = q
	s.lastTick = q.Ts
	s.mu.Unlock()
}

func (s *State) LastQuote(symbol string) (domain.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.lastQuote[symbol]
	return q, ok
}

// EnqueueTick attempts a non-blocking enqueue. On a full queue the tick is
// dropped and counted; the read loop must never block on a slow consumer.
func (s *State) EnqueueTick(q domain.Quote) bool {
	select {
	case s.ticks <- q:
		return true
	default:
		s.mu.Lock()
		s.droppedTicks++
		s.mu.Unlock()
		return false
	}
}

func (s *State) Ticks() <-chan domain.Quote { return s.ticks }

func (s *State) SetConnState(cs ConnState) {
	s.mu.Lock()
	s.connState = cs
	s.mu.Unlock()
}

// ResetOnConnect applies the connect-success transition: fresh connection
// means nothing is subscribed yet, the heartbeat clock restarts and any
// pending forced reconnect is satisfied.
func (s *State) ResetOnConnect(now int64) {
	s.mu.Lock()
	s.connState = Connected
	s.subscribed = make(map[string]struct{})
	s.lastHeartbeat = now
	s.forceReconnect = false
	s.mu.Unlock()
}

// ResetOnDisconnect applies the disconnect transition.
func (s *State) ResetOnDisconnect() {
	s.mu.Lock()
	s.connState = Disconnected
	s.subscribed = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *State) Heartbeat(now int64) {
	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()
}

func (s *State) SetForceReconnect() {
	s.mu.Lock()
	s.forceReconnect = true
	s.mu.Unlock()
}

func (s *State) ForceReconnectRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceReconnect
}

// Snapshot is the health loop's consistent view, taken under the coarse lock.
type Snapshot struct {
	ConnState       ConnState
	OpenCount       int
	SubscribedCount int
	DroppedTicks    int64
	QueueDepth      int
	LastHeartbeat   int64
	LastTick        int64
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := 0
	for _, positions := range s.openBySymbol {
		open += len(positions)
	}
	return Snapshot{
		ConnState:       s.connState,
		OpenCount:       open,
		SubscribedCount: len(s.subscribed),
		DroppedTicks:    s.droppedTicks,
		QueueDepth:      len(s.ticks),
		LastHeartbeat:   s.lastHeartbeat,
		LastTick:        s.lastTick,
	}
}
