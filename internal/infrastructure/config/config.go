package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`

	Manager struct {
		IngestBatchSize    int     `toml:"ingest_batch_size"`
		IngestPollSec      float64 `toml:"ingest_poll_sec"`
		HealthLogSec       int     `toml:"health_log_sec"`
		LivenessTimeoutSec int     `toml:"liveness_timeout_sec"`
		HitPriceMode       string  `toml:"hit_price_mode"` // bidask | last_price
		MaxOpenPerSymbol   int     `toml:"max_open_per_symbol"`
		TickQueueSize      int     `toml:"tick_queue_size"`
	} `toml:"manager"`

	Stream struct {
		WsURL          string `toml:"ws_url"` // e.g. wss://stream.bybit.com/v5/public/linear
		ReadTimeoutSec int    `toml:"read_timeout_sec"`
	} `toml:"stream"`

	Storage struct {
		Driver      string `toml:"driver"` // sqlite | postgres
		SqlitePath  string `toml:"sqlite_path"`
		SignalsPath string `toml:"signals_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"storage"`

	Redis struct {
		Enabled      bool   `toml:"enabled"`
		Addr         string `toml:"addr"`
		Prefix       string `toml:"prefix"`
		TTLSec       int    `toml:"ttl_sec"`
		EventStream  string `toml:"event_stream"`
		EventChannel string `toml:"event_channel"`
	} `toml:"redis"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`
}

// Load reads the TOML file, fills defaults, applies TM_* environment
// overrides and validates. A missing file is not an error: env plus defaults
// is a complete configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Manager.IngestBatchSize <= 0 {
		cfg.Manager.IngestBatchSize = 500
	}
	if cfg.Manager.IngestPollSec <= 0 {
		cfg.Manager.IngestPollSec = 1.0
	}
	if cfg.Manager.HealthLogSec <= 0 {
		cfg.Manager.HealthLogSec = 60
	}
	if cfg.Manager.LivenessTimeoutSec <= 0 {
		cfg.Manager.LivenessTimeoutSec = 45
	}
	if strings.TrimSpace(cfg.Manager.HitPriceMode) == "" {
		cfg.Manager.HitPriceMode = "bidask"
	}
	if cfg.Manager.MaxOpenPerSymbol <= 0 {
		cfg.Manager.MaxOpenPerSymbol = 1
	}
	if cfg.Manager.TickQueueSize <= 0 {
		cfg.Manager.TickQueueSize = 5000
	}
	if strings.TrimSpace(cfg.Stream.WsURL) == "" {
		cfg.Stream.WsURL = "wss://stream.bybit.com/v5/public/linear"
	}
	if cfg.Stream.ReadTimeoutSec <= 0 {
		cfg.Stream.ReadTimeoutSec = 1
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Storage.SqlitePath) == "" {
		cfg.Storage.SqlitePath = "data/trade_manager.db"
	}
	if strings.TrimSpace(cfg.Storage.SignalsPath) == "" {
		cfg.Storage.SignalsPath = "data/signals.db"
	}
	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = "tm"
	}
	if cfg.Redis.TTLSec <= 0 {
		cfg.Redis.TTLSec = 300
	}
	if strings.TrimSpace(cfg.Metrics.Addr) == "" {
		cfg.Metrics.Addr = "127.0.0.1:9101"
	}
}

// applyEnv keeps the TM_* surface of the original deployment working on top
// of the TOML file.
func applyEnv(cfg *Config) {
	cfg.Manager.IngestBatchSize = envInt("TM_INGEST_BATCH_SIZE", cfg.Manager.IngestBatchSize)
	cfg.Manager.IngestPollSec = envFloat("TM_INGEST_POLL_SEC", cfg.Manager.IngestPollSec)
	cfg.Manager.HealthLogSec = envInt("TM_HEALTH_LOG_SEC", cfg.Manager.HealthLogSec)
	cfg.Manager.LivenessTimeoutSec = envInt("TM_LIVENESS_TIMEOUT_SEC", cfg.Manager.LivenessTimeoutSec)
	cfg.Manager.HitPriceMode = envStr("TM_HIT_PRICE_MODE", cfg.Manager.HitPriceMode)
	cfg.Manager.MaxOpenPerSymbol = envInt("TM_MAX_OPEN_PER_SYMBOL", cfg.Manager.MaxOpenPerSymbol)
	cfg.Manager.TickQueueSize = envInt("TM_TICK_QUEUE_SIZE", cfg.Manager.TickQueueSize)
	cfg.Stream.WsURL = envStr("TM_WS_URL", cfg.Stream.WsURL)
	cfg.Storage.Driver = envStr("TM_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.SqlitePath = envStr("TM_SQLITE_PATH", cfg.Storage.SqlitePath)
	cfg.Storage.SignalsPath = envStr("TM_SIGNALS_PATH", cfg.Storage.SignalsPath)
	cfg.Storage.PostgresDSN = envStr("TM_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Redis.Addr = envStr("TM_REDIS_ADDR", cfg.Redis.Addr)
	if cfg.Redis.Addr != "" && os.Getenv("TM_REDIS_ADDR") != "" {
		cfg.Redis.Enabled = true
	}
}

func validate(cfg *Config) error {
	switch cfg.Manager.HitPriceMode {
	case "bidask", "last_price":
	default:
		return fmt.Errorf("manager.hit_price_mode must be bidask or last_price, got %q", cfg.Manager.HitPriceMode)
	}

	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but redis enabled")
	}
	return nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
