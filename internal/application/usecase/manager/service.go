package manager

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
)

// Options carries the tunables the config layer resolved.
type Options struct {
	IngestBatchSize  int
	IngestPoll       time.Duration
	HealthLogEvery   time.Duration
	LivenessTimeout  time.Duration
	HitPriceMode     string
	MaxOpenPerSymbol int
	TickQueueSize    int
	WsURL            string
	ReadTimeout      time.Duration
}

// Service wires state, router, stream client, tick worker, ingester and
// health checker into one run.
type Service struct {
	state    *State
	ingester *Ingester
	stream   *StreamClient
	worker   *TickWorker
	health   *HealthChecker
}

func NewService(store port.Store, source port.SignalSource, sink port.EventSink,
	dialer port.StreamDialer, codec port.StreamCodec, opts Options) *Service {

	state := NewState(opts.TickQueueSize)
	router := NewRouter(state, store, sink, opts.HitPriceMode)

	return &Service{
		state:    state,
		ingester: NewIngester(state, store, source, sink, opts.IngestBatchSize, opts.MaxOpenPerSymbol, opts.IngestPoll),
		stream:   NewStreamClient(state, dialer, codec, opts.WsURL, opts.ReadTimeout),
		worker:   NewTickWorker(state, router, sink),
		health:   NewHealthChecker(state, opts.HealthLogEvery, opts.LivenessTimeout),
	}
}

func (s *Service) State() *State { return s.state }

// RunOnce primes the cache and performs a single ingest pass.
func (s *Service) RunOnce(ctx context.Context) error {
	if err := s.ingester.Resync(ctx); err != nil {
		return err
	}
	_, err := s.ingester.IngestOnce(ctx)
	return err
}

// Run primes the cache and runs all loops until the context is cancelled.
// One loop failing fatally cancels the rest and surfaces the error; a plain
// cancellation is a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ingester.Resync(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ingester.Run(gctx) })
	g.Go(func() error { return s.stream.Run(gctx) })
	g.Go(func() error { return s.worker.Run(gctx) })
	g.Go(func() error { return s.health.Run(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
