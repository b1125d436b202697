package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"FinSignal/pkg/logger"
	"FinSignal/pkg/util"
)

// SymbolConfig is one tracked instrument.
type SymbolConfig struct {
	Symbol   string `yaml:"symbol"`
	Pair     string `yaml:"pair"`
	Interval string `yaml:"interval"`
}

type Config struct {
	Environment string         `yaml:"environment" default:"development"`
	Symbols     []SymbolConfig `yaml:"symbols"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Logger       logger.Config `yaml:"logger"`
	LogCollector struct {
		Enabled   bool          `yaml:"enabled"`
		Topic     string        `yaml:"topic" default:"finsignal.logs.errors"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100"`
	} `yaml:"log_collector"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Snapshots struct {
		Backend  string `yaml:"backend" default:"postgres"` // postgres | memory
		Postgres struct {
			DSN             string        `yaml:"dsn"`
			MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
			MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
			QueryTimeout    time.Duration `yaml:"query_timeout" default:"5s"`
			AutoMigrate     bool          `yaml:"auto_migrate" default:"true"`
		} `yaml:"postgres"`
	} `yaml:"snapshots"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finsignal"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Addr        string        `yaml:"addr" default:"localhost:6379"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		KeyPrefix   string        `yaml:"key_prefix" default:"finsignal:"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		PoolSize    int           `yaml:"pool_size" default:"20"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Topics       struct {
			FeatureSnapshots string `yaml:"feature_snapshots" default:"finsignal.features"`
			SnapshotEvents   string `yaml:"snapshot_events" default:"finsignal.snapshots"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"finsignal"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"finsignal.features.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	FeatureSource struct {
		URL             string        `yaml:"url"`
		APIKey          string        `yaml:"api_key"`
		Timeout         time.Duration `yaml:"timeout" default:"10s"`
		Retries         int           `yaml:"retries" default:"2"`
		FillFromCandles bool          `yaml:"fill_from_candles" default:"true"`
	} `yaml:"feature_source"`
	PriceSource struct {
		RESTURL         string        `yaml:"rest_url" default:"https://api.binance.com"`
		RESTEnabled     bool          `yaml:"rest_enabled" default:"true"`
		RateLimitRPS    float64       `yaml:"rate_limit_rps" default:"20"`
		Burst           int           `yaml:"burst" default:"40"`
		BreakerFailures uint32        `yaml:"breaker_failures" default:"5"`
		BreakerTimeout  time.Duration `yaml:"breaker_timeout" default:"30s"`
		MaxStaleness    time.Duration `yaml:"max_staleness" default:"2h"`
	} `yaml:"price_source"`
	PriceFeed struct {
		Enabled        bool          `yaml:"enabled"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://stream.binance.com:9443/stream"`
		Interval       string        `yaml:"interval" default:"1m"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		BatchSize      int           `yaml:"batch_size" default:"100"`
		BatchTimeout   time.Duration `yaml:"batch_timeout" default:"2s"`
	} `yaml:"price_feed"`
	Signal struct {
		BuyThreshold  float64 `yaml:"buy_threshold" default:"1"`
		SellThreshold float64 `yaml:"sell_threshold" default:"1"`
		MaxAbsScore   float64 `yaml:"max_abs_score" default:"4"`
	} `yaml:"signal"`
	Labeling struct {
		Horizon    string   `yaml:"horizon" default:"24h"`
		Strategies []string `yaml:"strategies" default:"[\"basic\",\"breakout\",\"mean-reversion\",\"momentum\"]"`
		Thresholds struct {
			Basic         float64 `yaml:"basic" default:"0.5"`
			Breakout      float64 `yaml:"breakout" default:"2"`
			MomentumScore float64 `yaml:"momentum_score" default:"1.5"`
		} `yaml:"thresholds"`
		ChunkSize   int           `yaml:"chunk_size" default:"100"`
		Limit       int           `yaml:"limit" default:"1000"`
		Workers     int           `yaml:"workers" default:"4"`
		SkipOnError bool          `yaml:"skip_on_error" default:"true"`
		ClaimTTL    time.Duration `yaml:"claim_ttl" default:"2m"`
	} `yaml:"labeling"`
	Backtest struct {
		MinAIConfidence float64 `yaml:"min_ai_confidence" default:"0.2"`
	} `yaml:"backtest"`
	Model struct {
		Epochs       int           `yaml:"epochs" default:"500"`
		LearningRate float64       `yaml:"learning_rate" default:"0.1"`
		MinSamples   int           `yaml:"min_samples" default:"20"`
		TrainWindow  time.Duration `yaml:"train_window" default:"2160h"`
	} `yaml:"model"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Name       string        `yaml:"name" default:"jobs"`
		Workers    int           `yaml:"workers" default:"2"`
		MaxRetries int           `yaml:"max_retries" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	} `yaml:"queue"`
	Scheduler struct {
		Enabled         bool          `yaml:"enabled"`
		CollectInterval time.Duration `yaml:"collect_interval" default:"1h"`
		LabelInterval   time.Duration `yaml:"label_interval" default:"15m"`
		TrainInterval   time.Duration `yaml:"train_interval" default:"24h"`
	} `yaml:"scheduler"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(b, nil)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(b, os.Getenv)
}

// Parse builds a validated Config from YAML bytes without env overrides.
func Parse(b []byte) (*Config, error) {
	return parse(b, nil)
}

// parse applies struct-tag defaults first so explicit YAML values, including
// false and 0, win over them.
func parse(b []byte, getenv func(string) string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if getenv != nil {
		c.applyEnv(getenv)
	}
	c.normalize()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Snapshots.Postgres.DSN = v
	}
	if v := getenv("SNAPSHOT_BACKEND"); v != "" {
		c.Snapshots.Backend = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
		c.Kafka.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("FEATURE_SOURCE_URL"); v != "" {
		c.FeatureSource.URL = v
	}
	if v := getenv("FEATURE_SOURCE_API_KEY"); v != "" {
		c.FeatureSource.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Symbols = nil
		for _, s := range util.SplitCSV(v) {
			c.Symbols = append(c.Symbols, SymbolConfig{Symbol: s})
		}
	}
	if v := getenv("LABEL_HORIZON"); v != "" {
		c.Labeling.Horizon = v
	}
}

// normalize fills per-symbol defaults that cannot be expressed as struct tags.
func (c *Config) normalize() {
	for i := range c.Symbols {
		s := &c.Symbols[i]
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		if s.Pair == "" {
			s.Pair = s.Symbol + "USDT"
		}
		s.Pair = strings.ToUpper(s.Pair)
		if s.Interval == "" {
			s.Interval = "1h"
		}
	}
	c.Snapshots.Backend = strings.ToLower(c.Snapshots.Backend)
}

// HorizonDuration parses labeling.horizon. Validate guarantees it succeeds.
func (c *Config) HorizonDuration() time.Duration {
	d, _ := util.ParseHorizon(c.Labeling.Horizon)
	return d
}

// FindSymbol returns the tracked symbol config, if any.
func (c *Config) FindSymbol(symbol string) (SymbolConfig, bool) {
	symbol = strings.ToUpper(symbol)
	for _, s := range c.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolConfig{}, false
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbols: empty symbol")
		}
	}
	switch c.Snapshots.Backend {
	case "postgres":
		if c.Snapshots.Postgres.DSN == "" {
			return fmt.Errorf("snapshots.postgres.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("snapshots.backend must be 'postgres' or 'memory', got '%s'", c.Snapshots.Backend)
	}
	if _, err := util.ParseHorizon(c.Labeling.Horizon); err != nil {
		return fmt.Errorf("labeling.horizon: %w", err)
	}
	if len(c.Labeling.Strategies) == 0 {
		return fmt.Errorf("labeling.strategies cannot be empty")
	}
	if c.Labeling.ChunkSize <= 0 || c.Labeling.Workers <= 0 || c.Labeling.Limit <= 0 {
		return fmt.Errorf("labeling.chunk_size, workers and limit must be positive")
	}
	th := c.Labeling.Thresholds
	if th.Basic <= 0 || th.Breakout <= 0 || th.MomentumScore <= 0 {
		return fmt.Errorf("labeling.thresholds must be positive")
	}
	if c.Model.Epochs <= 0 || c.Model.LearningRate <= 0 || c.Model.MinSamples <= 0 {
		return fmt.Errorf("model.epochs, learning_rate and min_samples must be positive")
	}
	if c.Backtest.MinAIConfidence < 0 || c.Backtest.MinAIConfidence > 1 {
		return fmt.Errorf("backtest.min_ai_confidence must be within [0,1]")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Kafka.Consumer.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("kafka.consumer requires kafka.enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue requires redis.enabled")
	}
	if c.PriceFeed.Enabled && !c.ClickHouse.Enabled {
		return fmt.Errorf("price_feed requires clickhouse.enabled")
	}
	if c.LogCollector.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("log_collector requires kafka.enabled")
	}
	return nil
}
