// Package config provides configuration management for the kline cache.
// Values are layered: struct-tag defaults, an optional .env file, a JSON or
// YAML config file, KLINE_* environment variables, then validation.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/johnayoung/go-kline-cache/internal/collector"
	"github.com/johnayoung/go-kline-cache/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KLINE_"

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName string `json:"app_name" yaml:"app_name" default:"go-kline-cache" validate:"required"`
	Version string `json:"version" yaml:"version" default:"1.0.0"`

	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Exchange  ExchangeConfig  `json:"exchange" yaml:"exchange"`
	Collector CollectorConfig `json:"collector" yaml:"collector"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend       string `json:"backend" yaml:"backend" default:"file" validate:"oneof=file memory duckdb redis"`
	Root          string `json:"root" yaml:"root" default:"./database"`
	DuckDBPath    string `json:"duckdb_path" yaml:"duckdb_path" default:"./data/klines.db"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" default:"localhost:6379"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" validate:"gte=0"`
	RedisPrefix   string `json:"redis_prefix" yaml:"redis_prefix" default:"klinecache"`
}

// ExchangeConfig configures the KuCoin client.
type ExchangeConfig struct {
	BaseURL           string            `json:"base_url" yaml:"base_url" default:"https://api.kucoin.com" validate:"required,url"`
	RequestsPerSecond float64           `json:"requests_per_second" yaml:"requests_per_second" default:"10" validate:"gt=0"`
	Burst             int               `json:"burst" yaml:"burst" default:"1" validate:"gte=1"`
	Timeout           string            `json:"timeout" yaml:"timeout" default:"30s" validate:"duration"`
	UserAgent         string            `json:"user_agent" yaml:"user_agent" default:"go-kline-cache/1.0"`
	RetryPolicy       RetryPolicyConfig `json:"retry_policy" yaml:"retry_policy"`
}

// RetryPolicyConfig bounds retries of a single window fetch.
type RetryPolicyConfig struct {
	MaxAttempts  int     `json:"max_attempts" yaml:"max_attempts" default:"8" validate:"gte=1"`
	InitialDelay string  `json:"initial_delay" yaml:"initial_delay" default:"100ms" validate:"duration"`
	MaxDelay     string  `json:"max_delay" yaml:"max_delay" default:"1s" validate:"duration"`
	Multiplier   float64 `json:"multiplier" yaml:"multiplier" default:"2" validate:"gte=1"`
	Jitter       float64 `json:"jitter" yaml:"jitter" default:"0.5" validate:"gte=0,lte=1"`
}

// CollectorConfig tunes window downloads.
type CollectorConfig struct {
	// Concurrency is -1 or 1 for sequential downloads, 2..50 for a worker pool.
	Concurrency int `json:"concurrency" yaml:"concurrency" default:"16"`
	// RecordLimit is the exchange's maximum candles per call.
	RecordLimit int `json:"record_limit" yaml:"record_limit" default:"1500" validate:"gte=1,lte=1500"`
}

// HistoryConfig controls the history cache.
type HistoryConfig struct {
	// StartDate is the dd-mm-yyyy date full downloads begin at.
	StartDate string `json:"start_date" yaml:"start_date" default:"01-01-2017" validate:"required"`
	// Timezone decides which calendar day a candle belongs to.
	Timezone string `json:"timezone" yaml:"timezone" default:"UTC" validate:"required"`
	// DeferredTimeframes are downloaded in the background on first request.
	DeferredTimeframes []string `json:"deferred_timeframes" yaml:"deferred_timeframes" default:"[\"1min\",\"3min\",\"5min\"]"`
}

// CatalogConfig controls the symbol catalog refresh.
type CatalogConfig struct {
	RefreshInterval string `json:"refresh_interval" yaml:"refresh_interval" default:"24h" validate:"duration"`
	RefreshOnStart  bool   `json:"refresh_on_start" yaml:"refresh_on_start" default:"true"`
	JobTimeout      string `json:"job_timeout" yaml:"job_timeout" default:"5m" validate:"duration"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string `json:"address" yaml:"address" default:":8000" validate:"required"`
	ReadTimeout     string `json:"read_timeout" yaml:"read_timeout" default:"30s" validate:"duration"`
	WriteTimeout    string `json:"write_timeout" yaml:"write_timeout" default:"5m" validate:"duration"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout" default:"30s" validate:"duration"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format        string            `json:"format" yaml:"format" default:"json" validate:"oneof=json text"`
	Output        string            `json:"output" yaml:"output" default:"stdout" validate:"oneof=stdout stderr file"`
	FilePath      string            `json:"file_path" yaml:"file_path"`
	MaxSize       int               `json:"max_size" yaml:"max_size" default:"100"`
	MaxBackups    int               `json:"max_backups" yaml:"max_backups" default:"5"`
	MaxAge        int               `json:"max_age" yaml:"max_age" default:"30"`
	Compress      bool              `json:"compress" yaml:"compress" default:"true"`
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" default:"true"`
	Path      string `json:"path" yaml:"path" default:"/metrics" validate:"startswith=/"`
	Namespace string `json:"namespace" yaml:"namespace" default:"klinecache"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envPath    string
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewConfigManager creates a new configuration manager. envPath may be empty,
// in which case a .env file in the working directory is used when present.
func NewConfigManager(configPath, envPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	validate := validator.New()
	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})

	return &ConfigManager{
		configPath: configPath,
		envPath:    envPath,
		logger:     logger,
		validate:   validate,
	}
}

// LoadConfig loads configuration from all layers and validates the result.
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	if err := cm.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(ctx, config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"storage_backend", config.Storage.Backend,
		"concurrency", config.Collector.Concurrency,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadEnvFile loads .env into the process environment without overriding
// variables that are already set.
func (cm *ConfigManager) loadEnvFile() error {
	path := cm.envPath
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	cm.logger.Debug("loaded environment file", "path", path)
	return nil
}

// loadFromFile decodes JSON, or YAML for .yaml/.yml files, over config.
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	if isYAML(cm.configPath) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv applies KLINE_* overrides. Malformed numbers are reported
// rather than silently ignored.
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var errs []string

	str := func(name string, dst *string) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
			*dst = val
		}
	}
	integer := func(name string, dst *int) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	// Storage
	str("STORAGE_BACKEND", &config.Storage.Backend)
	str("STORAGE_ROOT", &config.Storage.Root)
	str("DUCKDB_PATH", &config.Storage.DuckDBPath)
	str("REDIS_ADDR", &config.Storage.RedisAddr)
	str("REDIS_PASSWORD", &config.Storage.RedisPassword)
	integer("REDIS_DB", &config.Storage.RedisDB)
	str("REDIS_PREFIX", &config.Storage.RedisPrefix)

	// Exchange
	str("EXCHANGE_BASE_URL", &config.Exchange.BaseURL)
	float("RATE_LIMIT", &config.Exchange.RequestsPerSecond)
	integer("RATE_BURST", &config.Exchange.Burst)
	str("HTTP_TIMEOUT", &config.Exchange.Timeout)
	integer("RETRY_MAX_ATTEMPTS", &config.Exchange.RetryPolicy.MaxAttempts)
	str("RETRY_INITIAL_DELAY", &config.Exchange.RetryPolicy.InitialDelay)
	str("RETRY_MAX_DELAY", &config.Exchange.RetryPolicy.MaxDelay)

	// Collector
	integer("CONCURRENCY", &config.Collector.Concurrency)
	integer("RECORD_LIMIT", &config.Collector.RecordLimit)

	// History
	str("START_DATE", &config.History.StartDate)
	str("TIMEZONE", &config.History.Timezone)
	if val := os.Getenv(EnvPrefix + "DEFERRED_TIMEFRAMES"); val != "" {
		config.History.DeferredTimeframes = splitList(val)
	}

	// Catalog
	str("CATALOG_REFRESH_INTERVAL", &config.Catalog.RefreshInterval)
	boolean("CATALOG_REFRESH_ON_START", &config.Catalog.RefreshOnStart)

	// Server
	str("SERVER_ADDRESS", &config.Server.Address)
	if port := os.Getenv("APP_PORT"); port != "" && os.Getenv(EnvPrefix+"SERVER_ADDRESS") == "" {
		config.Server.Address = ":" + port
	}

	// Logging
	str("LOG_LEVEL", &config.Logging.Level)
	str("LOG_FORMAT", &config.Logging.Format)
	str("LOG_OUTPUT", &config.Logging.Output)
	str("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics
	boolean("METRICS_ENABLED", &config.Metrics.Enabled)
	str("METRICS_PATH", &config.Metrics.Path)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides:\n- %s", strings.Join(errs, "\n- "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig runs the struct-tag rules, then the cross-field checks, and
// reports every problem at once.
func (cm *ConfigManager) validateConfig(ctx context.Context, config *AppConfig) error {
	var problems []string

	if err := cm.validate.StructCtx(ctx, config); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
		}
	}

	if !collector.ValidConcurrency(config.Collector.Concurrency) {
		problems = append(problems, fmt.Sprintf("collector.concurrency must be -1 or between 1 and %d", collector.MaxConcurrency))
	}

	loc, err := time.LoadLocation(config.History.Timezone)
	if err != nil {
		problems = append(problems, fmt.Sprintf("history.timezone is not a valid location: %v", err))
		loc = time.UTC
	}
	if _, err := models.ParseDate(config.History.StartDate, loc); err != nil {
		problems = append(problems, fmt.Sprintf("history.start_date: %v", err))
	}
	for _, tf := range config.History.DeferredTimeframes {
		if _, err := models.ParseTimeframe(tf); err != nil {
			problems = append(problems, fmt.Sprintf("history.deferred_timeframes: %v", err))
		}
	}

	if config.Storage.Backend == "file" && config.Storage.Root == "" {
		problems = append(problems, "storage.root is required for file storage")
	}
	if config.Storage.Backend == "duckdb" && config.Storage.DuckDBPath == "" {
		problems = append(problems, "storage.duckdb_path is required for DuckDB storage")
	}
	if config.Storage.Backend == "redis" && config.Storage.RedisAddr == "" {
		problems = append(problems, "storage.redis_addr is required for Redis storage")
	}

	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		problems = append(problems, "logging.file_path is required when output is file")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(problems, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig writes the current configuration to the config file, as YAML
// or JSON depending on its extension.
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(cm.configPath) {
		data, err = yaml.Marshal(cm.config)
	} else {
		data, err = json.MarshalIndent(cm.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration populated from the struct-tag defaults.
func DefaultConfig() (*AppConfig, error) {
	config := &AppConfig{}
	if err := defaults.Set(config); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if config.Logging.ContextFields == nil {
		config.Logging.ContextFields = map[string]string{
			"service": config.AppName,
			"version": config.Version,
		}
	}
	return config, nil
}

// Location returns the configured time zone.
func (h HistoryConfig) Location() (*time.Location, error) {
	return time.LoadLocation(h.Timezone)
}

// Since returns the start date at midnight in the configured time zone.
func (h HistoryConfig) Since() (time.Time, error) {
	loc, err := h.Location()
	if err != nil {
		return time.Time{}, err
	}
	return models.ParseDate(h.StartDate, loc)
}

// Deferred returns the deferred timeframes. Entries are validated on load.
func (h HistoryConfig) Deferred() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(h.DeferredTimeframes))
	for _, tf := range h.DeferredTimeframes {
		out = append(out, models.Timeframe(strings.TrimSpace(tf)))
	}
	return out
}

// Duration parses a validated duration string, falling back to def.
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Storage.RedisPassword != "" {
		sanitized.Storage.RedisPassword = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fieldPath turns "AppConfig.Storage.Backend" into "Storage.Backend".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
