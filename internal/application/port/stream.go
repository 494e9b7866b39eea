package port

import (
	"context"
	"time"

	"github.com/fazulfi/bybit-h4-engine/internal/domain"
)

// StreamConn is one live connection to the market data stream. ReadMessage
// blocks for at most the given timeout; a timeout is reported as an error
// satisfying net.Error with Timeout()==true and is not fatal to the caller.
type StreamConn interface {
	ReadMessage(timeout time.Duration) ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

type StreamDialer interface {
	Dial(ctx context.Context, url string) (StreamConn, error)
}

// StreamAck is a control response frame (subscribe confirmation, pong).
type StreamAck struct {
	Op      string
	Success bool
	RetMsg  string
}

// StreamCodec owns the wire protocol: building control frames from bare
// symbol sets and decoding data frames into quotes. The stream client stays
// exchange-agnostic behind it.
type StreamCodec interface {
	SubscribeFrame(symbols []string) any
	UnsubscribeFrame(symbols []string) any
	PingFrame() any
	ParseFrame(b []byte) (quotes []domain.Quote, ack *StreamAck, err error)
}
