package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

// Sink mirrors quotes and position events into Redis for sidecar consumers:
// latest quote per symbol in a hash, events in a stream plus a pub/sub
// channel for push-style listeners.
type Sink struct {
	rdb          *redis.Client
	ttl          time.Duration
	keyQuotes    string // prefix + ":quotes"
	eventStream  string
	eventChannel string
}

type quotePayload struct {
	Symbol string   `json:"symbol"`
	Ts     int64    `json:"ts"`
	Last   *float64 `json:"last,omitempty"`
	Bid    *float64 `json:"bid,omitempty"`
	Ask    *float64 `json:"ask,omitempty"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, eventStream, eventChannel string) *Sink {
	if strings.TrimSpace(eventStream) == "" {
		eventStream = prefix + ":events"
	}
	if strings.TrimSpace(eventChannel) == "" {
		eventChannel = prefix + ":events:pub"
	}
	return &Sink{
		rdb:          rdb,
		ttl:          ttl,
		keyQuotes:    prefix + ":quotes",
		eventStream:  eventStream,
		eventChannel: eventChannel,
	}
}

func (s *Sink) PublishQuote(ctx context.Context, q domain.Quote) error {
	p := quotePayload{Symbol: q.Symbol, Ts: q.Ts}
	if q.HasLast {
		p.Last = &q.Last
	}
	if q.HasBid {
		p.Bid = &q.Bid
	}
	if q.HasAsk {
		p.Ask = &q.Ask
	}
	b, _ := json.Marshal(p)

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, s.keyQuotes, q.Symbol, string(b))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.keyQuotes, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Sink) PublishEvent(ctx context.Context, ev port.PositionEvent) error {
	_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.eventStream,
		Values: map[string]any{
			"type":      ev.Type,
			"pos_id":    ev.PosID,
			"symbol":    ev.Symbol,
			"ts":        ev.Ts,
			"price":     ev.Price,
			"reason":    ev.Reason,
			"signal_id": ev.SignalID,
		},
	}).Result()
	if err != nil {
		return err
	}

	b, _ := json.Marshal(ev)
	return s.rdb.Publish(ctx, s.eventChannel, string(b)).Err()
}

var _ port.EventSink = (*Sink)(nil)
