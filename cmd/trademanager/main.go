package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fazulfi/bybit-h4-engine/internal/application/port"
	"github.com/fazulfi/bybit-h4-engine/internal/application/usecase/manager"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/config"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/logger"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/metrics"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/storage/postgres"
	redissink "github.com/fazulfi/bybit-h4-engine/internal/infrastructure/storage/redis"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/storage/sqlite"
	"github.com/fazulfi/bybit-h4-engine/internal/infrastructure/stream/bybit"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	once := flag.Bool("once", false, "run one ingest pass and exit")
	daemon := flag.Bool("daemon", false, "run all loops continuously")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store  port.Store
		source port.SignalSource
	)
	switch cfg.Storage.Driver {
	case "postgres":
		repo, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres failed")
		}
		defer repo.Close()
		store, source = repo, repo
	default:
		repo, err := sqlite.New(cfg.Storage.SqlitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.SqlitePath).Msg("open sqlite failed")
		}
		defer repo.Close()

		signals, err := sqlite.NewSignalSource(cfg.Storage.SignalsPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.SignalsPath).Msg("open signals db failed")
		}
		defer signals.Close()
		store, source = repo, signals
	}

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema init failed")
	}

	sink := port.NewNoopSink()
	if cfg.Redis.Enabled {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		sink = redissink.New(rdb, cfg.Redis.Prefix,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
			cfg.Redis.EventStream, cfg.Redis.EventChannel)
	}

	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.Addr)
	}

	svc := manager.NewService(store, source, sink, bybit.NewDialer(), bybit.NewCodec(), manager.Options{
		IngestBatchSize:  cfg.Manager.IngestBatchSize,
		IngestPoll:       time.Duration(cfg.Manager.IngestPollSec * float64(time.Second)),
		HealthLogEvery:   time.Duration(cfg.Manager.HealthLogSec) * time.Second,
		LivenessTimeout:  time.Duration(cfg.Manager.LivenessTimeoutSec) * time.Second,
		HitPriceMode:     cfg.Manager.HitPriceMode,
		MaxOpenPerSymbol: cfg.Manager.MaxOpenPerSymbol,
		TickQueueSize:    cfg.Manager.TickQueueSize,
		WsURL:            cfg.Stream.WsURL,
		ReadTimeout:      time.Duration(cfg.Stream.ReadTimeoutSec) * time.Second,
	})

	log.Info().
		Str("config", *configPath).
		Str("driver", cfg.Storage.Driver).
		Str("mode", cfg.Manager.HitPriceMode).
		Str("ws_url", cfg.Stream.WsURL).
		Bool("redis", cfg.Redis.Enabled).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("trade manager starting")

	// no explicit mode means a single ingest pass
	runOnce := *once || !*daemon

	if runOnce {
		if err := svc.RunOnce(ctx); err != nil {
			log.Fatal().Err(err).Msg("ingest pass failed")
		}
		return
	}

	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("trade manager exited")
	}
	log.Warn().Msg("exit")
}
