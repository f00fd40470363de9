// Package config loads the per-process YAML configuration shared by the
// three binaries, applying environment overrides the same way the teacher's
// internal/core config did: read file, unmarshal, let component-scoped
// environment variables win, then validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Common holds the configuration fields every process needs.
type Common struct {
	LogLevel string `yaml:"log_level"`

	Database struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		User            string        `yaml:"user"`
		Password        string        `yaml:"password"`
		Name            string        `yaml:"name"`
		SSLMode         string        `yaml:"ssl_mode"`
		MaxConnections  int           `yaml:"max_connections"`
		ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	} `yaml:"database"`

	Bus struct {
		BrokerURL string `yaml:"broker_url"`
		ClientID  string `yaml:"client_id"`
	} `yaml:"bus"`
}

func (c *Common) validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConnections <= 0 {
		c.Database.MaxConnections = 10
	}
	if c.Database.ConnectTimeout <= 0 {
		c.Database.ConnectTimeout = 10 * time.Second
	}
	if c.Bus.BrokerURL == "" {
		return fmt.Errorf("bus.broker_url is required")
	}
	if c.Bus.ClientID == "" {
		return fmt.Errorf("bus.client_id is required")
	}
	return nil
}

// DatabaseURL builds the pgx connection string for Common.Database.
func (c *Common) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.SSLMode)
}

func (c *Common) applyEnvOverrides(prefix string) {
	if v := os.Getenv(prefix + "_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv(prefix + "_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Database.Port = p
		}
	}
	if v := os.Getenv(prefix + "_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv(prefix + "_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(prefix + "_DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv(prefix + "_BUS_BROKER_URL"); v != "" {
		c.Bus.BrokerURL = v
	}
	if v := os.Getenv(prefix + "_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// GatewayConfig is the ingest gateway's (C3) process configuration.
type GatewayConfig struct {
	Common `yaml:",inline"`

	HTTPPort        int           `yaml:"http_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	MaxBatchSize       int           `yaml:"max_batch_size"`
	RateLimitRPM       float64       `yaml:"rate_limit_rpm"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	PreaggEnabled      bool          `yaml:"preagg_enabled"`
	PreaggWindow       time.Duration `yaml:"preagg_window_s"`
	PreaggMaxKeys      int           `yaml:"preagg_max_keys"`
	PreaggShardCount   int           `yaml:"preagg_shard_count"`
	PublishRetryBudget int           `yaml:"publish_retry_budget"`

	AuthEnabled bool     `yaml:"auth_enabled"`
	APIKeys     []string `yaml:"api_keys"`
}

// DefaultGatewayConfig returns the spec's documented defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		HTTPPort:           8080,
		RequestTimeout:     30 * time.Second,
		MaxBatchSize:       1000,
		RateLimitRPM:       1000,
		RateLimitBurst:     1000,
		PreaggEnabled:      true,
		PreaggWindow:       60 * time.Second,
		PreaggMaxKeys:      10000,
		PreaggShardCount:   16,
		PublishRetryBudget: 3,
	}
}

// LoadGatewayConfig reads, validates and env-overrides a GatewayConfig.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	cfg := DefaultGatewayConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides("VANTAGE_GATEWAY")
	if err := cfg.Common.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max_batch_size must be positive")
	}
	if cfg.PublishRetryBudget <= 0 {
		cfg.PublishRetryBudget = 3
	}
	return cfg, nil
}

// WorkerConfig is the stream worker's (C4) process configuration.
type WorkerConfig struct {
	Common `yaml:",inline"`

	DebugPort int `yaml:"debug_port"`

	ConsumerGroup       string        `yaml:"consumer_group"`
	TargetBatchSize     int           `yaml:"target_batch_size"`
	BatchMin            int           `yaml:"batch_min"`
	BatchMax            int           `yaml:"batch_max"`
	MaxFlushInterval    time.Duration `yaml:"max_flush_interval_ms"`
	BreakerFailThreshold int          `yaml:"breaker_fail_threshold"`
	BreakerSuccessThreshold int       `yaml:"breaker_success_threshold"`
	BreakerCooldown     time.Duration `yaml:"breaker_cooldown_s"`
	InsertRetryAttempts int           `yaml:"insert_retry_attempts"`
	RollupInterval      time.Duration `yaml:"rollup_interval"`
	RetentionRawDays    int           `yaml:"retention_raw_days"`
	RetentionHourlyDays int           `yaml:"retention_hourly_days"`
	RetentionDailyDays  int           `yaml:"retention_daily_days"`
	DeadLetterCapacity  int           `yaml:"dead_letter_capacity"`
}

// DefaultWorkerConfig returns the spec's documented defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		DebugPort:               9090,
		ConsumerGroup:           "vantage-worker",
		TargetBatchSize:         100,
		BatchMin:                10,
		BatchMax:                1000,
		MaxFlushInterval:        time.Second,
		BreakerFailThreshold:    5,
		BreakerSuccessThreshold: 2,
		BreakerCooldown:         60 * time.Second,
		InsertRetryAttempts:     3,
		RollupInterval:          time.Hour,
		RetentionRawDays:        90,
		RetentionHourlyDays:     365,
		RetentionDailyDays:      3 * 365,
		DeadLetterCapacity:      200,
	}
}

// LoadWorkerConfig reads, validates and env-overrides a WorkerConfig.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides("VANTAGE_WORKER")
	if err := cfg.Common.validate(); err != nil {
		return nil, err
	}
	if cfg.BatchMin <= 0 || cfg.BatchMax < cfg.BatchMin {
		return nil, fmt.Errorf("invalid batch_min/batch_max")
	}
	return cfg, nil
}

// QueryConfig is the query & signals service's (C5) process configuration.
type QueryConfig struct {
	Common `yaml:",inline"`

	HTTPPort       int           `yaml:"http_port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	LivePollInterval time.Duration `yaml:"live_poll_ms"`
	LiveBufferSize   int           `yaml:"live_buffer"`
	LiveHeartbeat    time.Duration `yaml:"live_heartbeat_s"`

	BaselineWindow time.Duration `yaml:"baseline_window_s"`
	EvalPeriod     time.Duration `yaml:"eval_period_s"`
	SigmaK         float64       `yaml:"sigma_k"`

	HealthWindow time.Duration `yaml:"health_window_s"`
	HealthWeights struct {
		Error   float64 `yaml:"error"`
		Latency float64 `yaml:"latency"`
		Traffic float64 `yaml:"traffic"`
	} `yaml:"health_weights"`

	CacheAddr string `yaml:"cache_addr"`

	AuthEnabled bool     `yaml:"auth_enabled"`
	APIKeys     []string `yaml:"api_keys"`
}

// DefaultQueryConfig returns the spec's documented defaults.
func DefaultQueryConfig() *QueryConfig {
	cfg := &QueryConfig{
		HTTPPort:         8081,
		RequestTimeout:   30 * time.Second,
		LivePollInterval: time.Second,
		LiveBufferSize:   256,
		LiveHeartbeat:    30 * time.Second,
		BaselineWindow:   7 * 24 * time.Hour,
		EvalPeriod:       60 * time.Second,
		SigmaK:           3.0,
		HealthWindow:     5 * time.Minute,
	}
	cfg.HealthWeights.Error = 0.5
	cfg.HealthWeights.Latency = 0.3
	cfg.HealthWeights.Traffic = 0.2
	return cfg
}

// LoadQueryConfig reads, validates and env-overrides a QueryConfig.
func LoadQueryConfig(path string) (*QueryConfig, error) {
	cfg := DefaultQueryConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides("VANTAGE_QUERY")
	if err := cfg.Common.validate(); err != nil {
		return nil, err
	}
	if cfg.SigmaK <= 0 {
		return nil, fmt.Errorf("sigma_k must be positive")
	}
	return cfg, nil
}

// loadYAML unmarshals path into out if the file exists; a missing file just
// keeps the caller's defaults. The teacher's own LoadConfig is stricter —
// it errors on a missing file via os.IsNotExist — but each process here
// always has env-var overrides and validated defaults available, so an
// absent config path is a normal way to run against env vars alone rather
// than an error.
func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// ConfigPath resolves the config file path for a component from its
// VANTAGE_<COMPONENT>_CONFIG_PATH environment variable, defaulting to
// configs/<component>.yaml.
func ConfigPath(component string) string {
	envVar := "VANTAGE_" + strings.ToUpper(component) + "_CONFIG_PATH"
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return "configs/" + component + ".yaml"
}
