package bybit

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
)

// Dialer connects to the Bybit v5 public stream.
type Dialer struct{}

func NewDialer() *Dialer { return &Dialer{} }

func (d *Dialer) Dial(ctx context.Context, url string) (port.StreamConn, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(cctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		ws:     ws,
		frames: make(chan frame, 64),
		done:   make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

type frame struct {
	b   []byte
	err error
}

// Conn wraps a gorilla connection behind a reader goroutine so that a read
// timeout is a plain retryable outcome. Gorilla itself poisons the
// connection once a read deadline expires, which the stream client's 1s
// polling read would trip constantly.
type Conn struct {
	ws     *websocket.Conn
	frames chan frame
	done   chan struct{}
	once   sync.Once
}

func (c *Conn) readPump() {
	for {
		_, b, err := c.ws.ReadMessage()
		select {
		case c.frames <- frame{b: b, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// ReadMessage returns the next frame, or a timeout error satisfying
// net.Error after the given duration.
func (c *Conn) ReadMessage(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-c.frames:
		return f.b, f.err
	case <-timer.C:
		return nil, errReadTimeout
	}
}

func (c *Conn) WriteJSON(v any) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.ws.Close()
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "stream read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var errReadTimeout = timeoutError{}
