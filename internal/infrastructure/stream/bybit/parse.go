package bybit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

// Codec implements the stream protocol for the Bybit v5 public feed.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

func (Codec) SubscribeFrame(symbols []string) any {
	return SubscribeRequest{Op: "subscribe", Args: topics(symbols)}
}

func (Codec) UnsubscribeFrame(symbols []string) any {
	return SubscribeRequest{Op: "unsubscribe", Args: topics(symbols)}
}

func (Codec) PingFrame() any { return SubscribeRequest{Op: "ping"} }

func (Codec) ParseFrame(b []byte) ([]domain.Quote, *port.StreamAck, error) {
	return ParseFrame(b)
}

func topics(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, Topic(sym))
	}
	return out
}

var _ port.StreamCodec = Codec{}

// SubscribeRequest is the Bybit v5 control frame for subscribe, unsubscribe
// and ping ops.
type SubscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

const topicPrefix = "tickers."

// Topic maps a symbol to its ticker topic name.
func Topic(symbol string) string {
	return topicPrefix + strings.ToUpper(strings.TrimSpace(symbol))
}

type tickerItem struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	Time      int64  `json:"time"`
	Timestamp int64  `json:"timestamp"`
}

// tickerData accepts both shapes Bybit uses for the data field: a single
// object on linear tickers, an array elsewhere.
type tickerData []tickerItem

func (d *tickerData) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []tickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one tickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = tickerData{one}
		return nil
	default:
		return fmt.Errorf("unexpected ticker data json: %s", string(b))
	}
}

type tickerMsg struct {
	Topic string     `json:"topic"`
	Ts    int64      `json:"ts"`
	Data  tickerData `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

// ParseFrame decodes one stream frame into quotes. Control acks come back in
// ack; frames on non-ticker topics yield neither.
func ParseFrame(b []byte) (quotes []domain.Quote, ack *port.StreamAck, err error) {
	var msg tickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, nil, err
	}

	if msg.Success != nil {
		return nil, &port.StreamAck{Op: msg.Op, Success: *msg.Success, RetMsg: msg.RetMsg}, nil
	}
	if msg.Op == "pong" || msg.Op == "ping" {
		return nil, &port.StreamAck{Op: msg.Op, Success: true}, nil
	}
	if !strings.HasPrefix(msg.Topic, topicPrefix) {
		return nil, nil, nil
	}

	for _, item := range msg.Data {
		sym := strings.ToUpper(strings.TrimSpace(item.Symbol))
		if sym == "" {
			continue
		}

		rawTs := item.Time
		if rawTs == 0 {
			rawTs = item.Timestamp
		}
		if rawTs == 0 {
			rawTs = msg.Ts
		}
		if rawTs == 0 {
			rawTs = time.Now().Unix()
		}

		q := domain.Quote{Symbol: sym, Ts: domain.NormalizeTs(rawTs)}
		q.Last, q.HasLast = parsePrice(item.LastPrice)
		q.Bid, q.HasBid = parsePrice(item.Bid1Price)
		q.Ask, q.HasAsk = parsePrice(item.Ask1Price)
		quotes = append(quotes, q)
	}
	return quotes, nil, nil
}

func parsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
