package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the remindd daemon.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL   string `json:"database_url"`
	TriggerSecret string `json:"-"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	HTTPAddr      string `json:"http_addr"`

	// LocalUTCOffsetHours fixes the wall-clock zone used for deadlines,
	// reminder instants and marker buckets. All instances sharing a marker
	// store must agree on it.
	LocalUTCOffsetHours int `json:"local_utc_offset_hours"`

	DispatchTimeout    time.Duration `json:"-"`
	DispatchTimeoutStr string        `json:"dispatch_timeout"`
	DispatchWorkers    int           `json:"dispatch_workers"`

	PrefilterWindow    time.Duration `json:"-"`
	PrefilterWindowStr string        `json:"prefilter_window"`

	MarkerMaxAge     time.Duration `json:"-"`
	MarkerMaxAgeStr  string        `json:"marker_max_age"`
	CleanupBatchSize int           `json:"cleanup_batch_size"`

	TickLoopEnabled bool   `json:"tick_loop_enabled"`
	TickCron        string `json:"tick_cron"`

	// Notifier: "webhook" or "telegram".
	Notifier          string        `json:"notifier"`
	WebhookSecret     string        `json:"-"`
	WebhookTimeout    time.Duration `json:"-"`
	WebhookTimeoutStr string        `json:"webhook_timeout"`
	TelegramToken     string        `json:"-"`

	// NotifyRate is messages per second; 0 disables throttling.
	NotifyRate  float64 `json:"notify_rate"`
	NotifyBurst int     `json:"notify_burst"`

	// BreakerThreshold: 0 disables the circuit breaker.
	BreakerThreshold   int           `json:"breaker_threshold"`
	BreakerCooldown    time.Duration `json:"-"`
	BreakerCooldownStr string        `json:"breaker_cooldown"`

	CacheRefreshEnabled     bool          `json:"cache_refresh_enabled"`
	CacheRefreshInterval    time.Duration `json:"-"`
	CacheRefreshIntervalStr string        `json:"cache_refresh_interval"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	LeaderElectionEnabled      bool          `json:"leader_election_enabled"`
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults. A .env
// file in the working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		TriggerSecret:              os.Getenv("TRIGGER_SECRET"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		DispatchTimeoutStr:         os.Getenv("DISPATCH_TIMEOUT"),
		PrefilterWindowStr:         os.Getenv("PREFILTER_WINDOW"),
		MarkerMaxAgeStr:            os.Getenv("MARKER_MAX_AGE"),
		TickLoopEnabled:            os.Getenv("TICK_LOOP_ENABLED") != "false",
		TickCron:                   os.Getenv("TICK_CRON"),
		Notifier:                   os.Getenv("NOTIFIER"),
		WebhookSecret:              os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeoutStr:          os.Getenv("WEBHOOK_TIMEOUT"),
		TelegramToken:              os.Getenv("TELEGRAM_TOKEN"),
		BreakerCooldownStr:         os.Getenv("BREAKER_COOLDOWN"),
		CacheRefreshEnabled:        os.Getenv("CACHE_REFRESH_ENABLED") != "false",
		CacheRefreshIntervalStr:    os.Getenv("CACHE_REFRESH_INTERVAL"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:                os.Getenv("METRICS_ADDR"),
		MetricsPath:                os.Getenv("METRICS_PATH"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		LeaderElectionEnabled:      os.Getenv("LEADER_ELECTION_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	cfg.LocalUTCOffsetHours = 8
	if offsetStr := os.Getenv("LOCAL_UTC_OFFSET_HOURS"); offsetStr != "" {
		if n, err := strconv.Atoi(offsetStr); err == nil {
			cfg.LocalUTCOffsetHours = n
		} else {
			log.Printf("config: invalid LOCAL_UTC_OFFSET_HOURS %q (must be an integer), using default 8", offsetStr)
		}
	}

	if workersStr := os.Getenv("DISPATCH_WORKERS"); workersStr != "" {
		if n, err := parseInt(workersStr); err == nil && n > 0 {
			cfg.DispatchWorkers = n
		} else {
			log.Printf("config: invalid DISPATCH_WORKERS %q (must be a positive integer), using default 1", workersStr)
		}
	}
	if cfg.DispatchWorkers == 0 {
		cfg.DispatchWorkers = 1
	}

	if batchStr := os.Getenv("CLEANUP_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.CleanupBatchSize = n
		} else {
			log.Printf("config: invalid CLEANUP_BATCH_SIZE %q (must be a positive integer), using default 200", batchStr)
		}
	}
	if cfg.CleanupBatchSize == 0 {
		cfg.CleanupBatchSize = 200
	}

	if rateStr := os.Getenv("NOTIFY_RATE"); rateStr != "" {
		if f, err := strconv.ParseFloat(rateStr, 64); err == nil && f >= 0 {
			cfg.NotifyRate = f
		} else {
			log.Printf("config: invalid NOTIFY_RATE %q (messages per second), throttling disabled", rateStr)
		}
	}
	if burstStr := os.Getenv("NOTIFY_BURST"); burstStr != "" {
		if n, err := parseInt(burstStr); err == nil {
			cfg.NotifyBurst = n
		} else {
			log.Printf("config: invalid NOTIFY_BURST %q (must be a non-negative integer), using 0", burstStr)
		}
	}
	if cfg.NotifyRate > 0 && cfg.NotifyBurst == 0 {
		cfg.NotifyBurst = 1
	}

	if threshStr := os.Getenv("BREAKER_THRESHOLD"); threshStr != "" {
		if n, err := parseInt(threshStr); err == nil {
			cfg.BreakerThreshold = n
		} else {
			log.Printf("config: invalid BREAKER_THRESHOLD %q (must be a non-negative integer), breaker disabled", threshStr)
		}
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.TickCron == "" {
		cfg.TickCron = "* * * * *"
	}
	if cfg.Notifier == "" {
		cfg.Notifier = "webhook"
	}
	if cfg.DispatchTimeoutStr == "" {
		cfg.DispatchTimeoutStr = "10s"
	}
	if cfg.PrefilterWindowStr == "" {
		cfg.PrefilterWindowStr = "3m"
	}
	if cfg.MarkerMaxAgeStr == "" {
		cfg.MarkerMaxAgeStr = "1h"
	}
	if cfg.WebhookTimeoutStr == "" {
		cfg.WebhookTimeoutStr = "30s"
	}
	if cfg.BreakerCooldownStr == "" {
		cfg.BreakerCooldownStr = "2m"
	}
	if cfg.CacheRefreshIntervalStr == "" {
		cfg.CacheRefreshIntervalStr = "5m"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "15s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "10s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DispatchTimeoutStr); err == nil {
		cfg.DispatchTimeout = d
	}
	if d, err := time.ParseDuration(cfg.PrefilterWindowStr); err == nil {
		cfg.PrefilterWindow = d
	}
	if d, err := time.ParseDuration(cfg.MarkerMaxAgeStr); err == nil {
		cfg.MarkerMaxAge = d
	}
	if d, err := time.ParseDuration(cfg.WebhookTimeoutStr); err == nil {
		cfg.WebhookTimeout = d
	}
	if d, err := time.ParseDuration(cfg.BreakerCooldownStr); err == nil {
		cfg.BreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.CacheRefreshIntervalStr); err == nil {
		cfg.CacheRefreshInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// Location returns the fixed zone all deadline and bucket arithmetic uses.
func (c Config) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.LocalUTCOffsetHours), c.LocalUTCOffsetHours*3600)
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string  `json:"database_url"`
		TriggerSecret           string  `json:"trigger_secret"`
		RedisAddr               string  `json:"redis_addr,omitempty"`
		HTTPAddr                string  `json:"http_addr"`
		LocalUTCOffsetHours     int     `json:"local_utc_offset_hours"`
		DispatchTimeout         string  `json:"dispatch_timeout"`
		DispatchWorkers         int     `json:"dispatch_workers"`
		PrefilterWindow         string  `json:"prefilter_window"`
		MarkerMaxAge            string  `json:"marker_max_age"`
		CleanupBatchSize        int     `json:"cleanup_batch_size"`
		TickLoopEnabled         bool    `json:"tick_loop_enabled"`
		TickCron                string  `json:"tick_cron"`
		Notifier                string  `json:"notifier"`
		WebhookSecret           string  `json:"webhook_secret,omitempty"`
		WebhookTimeout          string  `json:"webhook_timeout"`
		TelegramToken           string  `json:"telegram_token,omitempty"`
		NotifyRate              float64 `json:"notify_rate"`
		NotifyBurst             int     `json:"notify_burst"`
		BreakerThreshold        int     `json:"breaker_threshold"`
		BreakerCooldown         string  `json:"breaker_cooldown"`
		CacheRefreshEnabled     bool    `json:"cache_refresh_enabled"`
		CacheRefreshInterval    string  `json:"cache_refresh_interval"`
		MetricsEnabled          bool    `json:"metrics_enabled"`
		MetricsAddr             string  `json:"metrics_addr"`
		MetricsPath             string  `json:"metrics_path"`
		DBMaxOpenConns          int     `json:"db_max_open_conns"`
		DBMaxIdleConns          int     `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string  `json:"db_conn_max_lifetime"`
		DBOpTimeout             string  `json:"db_op_timeout"`
		HTTPShutdownTimeout     string  `json:"http_shutdown_timeout"`
		LeaderElectionEnabled   bool    `json:"leader_election_enabled"`
		LeaderRetryInterval     string  `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string  `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		TriggerSecret:           maskSecret(c.TriggerSecret),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		LocalUTCOffsetHours:     c.LocalUTCOffsetHours,
		DispatchTimeout:         c.DispatchTimeoutStr,
		DispatchWorkers:         c.DispatchWorkers,
		PrefilterWindow:         c.PrefilterWindowStr,
		MarkerMaxAge:            c.MarkerMaxAgeStr,
		CleanupBatchSize:        c.CleanupBatchSize,
		TickLoopEnabled:         c.TickLoopEnabled,
		TickCron:                c.TickCron,
		Notifier:                c.Notifier,
		WebhookSecret:           maskSecret(c.WebhookSecret),
		WebhookTimeout:          c.WebhookTimeoutStr,
		TelegramToken:           maskSecret(c.TelegramToken),
		NotifyRate:              c.NotifyRate,
		NotifyBurst:             c.NotifyBurst,
		BreakerThreshold:        c.BreakerThreshold,
		BreakerCooldown:         c.BreakerCooldownStr,
		CacheRefreshEnabled:     c.CacheRefreshEnabled,
		CacheRefreshInterval:    c.CacheRefreshIntervalStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsAddr:             c.MetricsAddr,
		MetricsPath:             c.MetricsPath,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
