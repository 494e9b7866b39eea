package manager

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/metrics"
)

// StreamClient owns the outbound stream connection and its reconnect state
// machine: DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTED on any
// error or forced reconnect. Subscriptions are diffed against State every
// inner iteration, so a position opened or closed mid-connection adjusts the
// topic set within one read timeout.
type StreamClient struct {
	state       *State
	dialer      port.StreamDialer
	codec       port.StreamCodec
	url         string
	readTimeout time.Duration
	pingEvery   time.Duration
	backoff     Backoff

	// injectable for deterministic tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() int64
}

func NewStreamClient(state *State, dialer port.StreamDialer, codec port.StreamCodec, url string, readTimeout time.Duration) *StreamClient {
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	return &StreamClient{
		state:       state,
		dialer:      dialer,
		codec:       codec,
		url:         url,
		readTimeout: readTimeout,
		pingEvery:   20 * time.Second,
		backoff:     DefaultBackoff(),
		sleep:       sleepCtx,
		now:         func() int64 { return time.Now().Unix() },
	}
}

func (c *StreamClient) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.state.SetConnState(Connecting)
		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Exceptions.Inc()
			metrics.Reconnects.Inc()
			c.state.ResetOnDisconnect()
			delay := c.backoff.Delay(attempt)
			attempt++
			log.Warn().Err(err).Dur("retry_in", delay).Str("url", c.url).Msg("stream dial failed")
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		c.state.ResetOnConnect(c.now())
		attempt = 0
		log.Info().Str("url", c.url).Msg("stream connected")

		err = c.runConn(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.state.ResetOnDisconnect()

		if err == nil {
			// intentional break (forced reconnect), no backoff
			continue
		}

		metrics.Exceptions.Inc()
		metrics.Reconnects.Inc()
		delay := c.backoff.Delay(attempt)
		attempt++
		log.Warn().Err(err).Dur("retry_in", delay).Msg("stream disconnected")
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// runConn drives one connected session. Returning nil means an intentional
// reconnect; any error is a connection failure.
func (c *StreamClient) runConn(ctx context.Context, conn port.StreamConn) error {
	lastPing := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.syncSubscriptions(conn); err != nil {
			return err
		}

		if c.state.ForceReconnectRequested() {
			metrics.Reconnects.Inc()
			log.Warn().Msg("forced reconnect requested by liveness check")
			return nil
		}

		if time.Since(lastPing) >= c.pingEvery {
			if err := conn.WriteJSON(c.codec.PingFrame()); err != nil {
				return err
			}
			lastPing = time.Now()
		}

		b, err := conn.ReadMessage(c.readTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}

		// any frame counts as liveness, not only ticks
		c.state.Heartbeat(c.now())

		quotes, ack, err := c.codec.ParseFrame(b)
		if err != nil {
			log.Warn().Err(err).Msg("malformed stream frame, skipping")
			continue
		}
		if ack != nil && !ack.Success {
			log.Warn().Str("op", ack.Op).Str("ret_msg", ack.RetMsg).Msg("stream control frame rejected")
			continue
		}

		for _, q := range quotes {
			c.state.RecordQuote(q)
			if !c.state.EnqueueTick(q) {
				metrics.DroppedTicks.Inc()
			}
		}
	}
}

// syncSubscriptions sends subscribe/unsubscribe frames for the delta between
// desired and current topics. The subscribed set is updated only after the
// frame went out.
func (c *StreamClient) syncSubscriptions(conn port.StreamConn) error {
	add, remove := c.state.SubscriptionDelta()

	if len(add) > 0 {
		if err := conn.WriteJSON(c.codec.SubscribeFrame(add)); err != nil {
			return err
		}
		c.state.MarkSubscribed(add)
		log.Info().Strs("symbols", add).Msg("subscribed")
	}
	if len(remove) > 0 {
		if err := conn.WriteJSON(c.codec.UnsubscribeFrame(remove)); err != nil {
			return err
		}
		c.state.MarkUnsubscribed(remove)
		log.Info().Strs("symbols", remove).Msg("unsubscribed")
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
