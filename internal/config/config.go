// Package config provides configuration management for the review analysis pipeline.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for every environment variable read by Load.
const envPrefix = "REVIEWPIPE"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Supported extraction providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderStatic    = "static"
)

// Config holds all configuration for the review analysis pipeline.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains Temporal orchestration settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains the alert/metric sink publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Extraction contains theme extraction client settings.
	Extraction ExtractionConfig `mapstructure:"extraction"`
	// Pipeline contains scheduling and retry tuning.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from REVIEWPIPE_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun runs pending migrations when the server starts.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// TemporalConfig holds Temporal configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue polled by the pipeline worker.
	TaskQueue string `mapstructure:"task_queue"`
	// TickWorkflowID is the fixed ID of the cron workflow driving the pipeline.
	TickWorkflowID string `mapstructure:"tick_workflow_id"`
	// TickSchedule is the cron schedule of the pipeline tick (e.g. "@every 30s").
	TickSchedule string `mapstructure:"tick_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every pipeline metric name.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds the alert/metric sink publisher settings.
type KafkaConfig struct {
	// Enabled controls whether sink events are published to Kafka.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// MetricsTopic receives metric events.
	MetricsTopic string `mapstructure:"metrics_topic"`
	// AlertsTopic receives alert events.
	AlertsTopic string `mapstructure:"alerts_topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// WriteTimeout bounds a single publish.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ExtractionConfig holds theme extraction client configuration.
type ExtractionConfig struct {
	// Provider is the extraction provider (openai, anthropic, static).
	Provider string `mapstructure:"provider"`
	// Timeout bounds one extraction call, including client-side retries.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the number of in-call retries on transient HTTP errors.
	// The default of 0 leaves retries to the task backoff.
	MaxRetries int `mapstructure:"max_retries"`
	// Temperature is the model temperature setting.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens caps the model response length.
	MaxTokens int `mapstructure:"max_tokens"`
	// MaxReviewChars truncates each review text before it is sent.
	MaxReviewChars int `mapstructure:"max_review_chars"`
	// RateLimitRPS is the outbound requests per second limit.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	// RateLimitBurst is the burst size for the rate limiter.
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
	// OpenAI contains OpenAI-compatible endpoint settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic endpoint settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
}

// ProviderConfig holds per-provider endpoint settings.
type ProviderConfig struct {
	// APIKey is loaded from REVIEWPIPE_EXTRACTION_<PROVIDER>_API_KEY only.
	APIKey string `mapstructure:"-"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
}

// PipelineConfig holds scheduling, batching and retry tuning.
type PipelineConfig struct {
	// MaxScrapingWait is how long a report may stay in scraping before forced completion.
	MaxScrapingWait time.Duration `mapstructure:"max_scraping_wait" validate:"gt=0"`
	// MonitorBatchLimit caps the reports inspected per monitor tick.
	MonitorBatchLimit int `mapstructure:"monitor_batch_limit" validate:"min=1,max=1000"`
	// BatchSize is the number of reviews per analysis task.
	BatchSize int `mapstructure:"batch_size" validate:"min=1,max=2000"`
	// DispatchLimit is the number of tasks claimed per dispatch call.
	DispatchLimit int `mapstructure:"dispatch_limit" validate:"min=1,max=64"`
	// Concurrency bounds parallel task processing within one dispatch call.
	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=64"`
	// PlatformConcurrency bounds parallel extraction calls within one task.
	PlatformConcurrency int `mapstructure:"platform_concurrency" validate:"min=1,max=16"`
	// MaxRetries is the failure budget of a task before it is permanently failed.
	MaxRetries int `mapstructure:"max_retries" validate:"min=1,max=20"`
	// FailureThreshold is the permanently-failed task ratio above which a report fails.
	FailureThreshold float64 `mapstructure:"failure_threshold" validate:"gt=0,lte=1"`
	// TaskLease is how long a claimed task stays invisible to other dispatchers.
	TaskLease time.Duration `mapstructure:"task_lease" validate:"gt=0"`
	// CompletionStaleAfter is how long a report may sit in completing before
	// the dispatcher re-opens it.
	CompletionStaleAfter time.Duration `mapstructure:"completion_stale_after" validate:"gt=0"`
	// MaxThemes caps the consolidated themes kept per platform.
	MaxThemes int `mapstructure:"max_themes" validate:"min=1,max=500"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/review-pipeline")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets come from the environment only; their fields are tagged mapstructure:"-".
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(envPrefix + "_DATABASE_PASSWORD")
	cfg.Extraction.OpenAI.APIKey = os.Getenv(envPrefix + "_EXTRACTION_OPENAI_API_KEY")
	cfg.Extraction.Anthropic.APIKey = os.Getenv(envPrefix + "_EXTRACTION_ANTHROPIC_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "reviewpipe")
	v.SetDefault("database.name", "review_pipeline")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "review-pipeline")
	v.SetDefault("temporal.tick_workflow_id", "review-pipeline-tick")
	v.SetDefault("temporal.tick_schedule", "@every 30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "review_pipeline")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.metrics_topic", "review-pipeline.metrics")
	v.SetDefault("kafka.alerts_topic", "review-pipeline.alerts")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "50ms")
	v.SetDefault("kafka.write_timeout", "5s")

	// Extraction defaults
	v.SetDefault("extraction.provider", ProviderOpenAI)
	v.SetDefault("extraction.timeout", "150s")
	v.SetDefault("extraction.max_retries", 0)
	v.SetDefault("extraction.temperature", 0.2)
	v.SetDefault("extraction.max_tokens", 4096)
	v.SetDefault("extraction.max_review_chars", 1000)
	v.SetDefault("extraction.rate_limit_rps", 2.0)
	v.SetDefault("extraction.rate_limit_burst", 4)
	v.SetDefault("extraction.openai.model", "gpt-4o-mini")
	v.SetDefault("extraction.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("extraction.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("extraction.anthropic.base_url", "https://api.anthropic.com")

	// Pipeline defaults
	v.SetDefault("pipeline.max_scraping_wait", "15m")
	v.SetDefault("pipeline.monitor_batch_limit", 100)
	v.SetDefault("pipeline.batch_size", 200)
	v.SetDefault("pipeline.dispatch_limit", 6)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.platform_concurrency", 3)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.failure_threshold", 0.5)
	v.SetDefault("pipeline.task_lease", "10m")
	v.SetDefault("pipeline.completion_stale_after", "10m")
	v.SetDefault("pipeline.max_themes", 50)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("temporal task queue is required")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	switch strings.ToLower(c.Extraction.Provider) {
	case ProviderOpenAI:
		if c.Extraction.OpenAI.APIKey == "" {
			return fmt.Errorf("extraction provider %q requires %s_EXTRACTION_OPENAI_API_KEY to be set", c.Extraction.Provider, envPrefix)
		}
	case ProviderAnthropic:
		if c.Extraction.Anthropic.APIKey == "" {
			return fmt.Errorf("extraction provider %q requires %s_EXTRACTION_ANTHROPIC_API_KEY to be set", c.Extraction.Provider, envPrefix)
		}
	case ProviderStatic:
	default:
		return fmt.Errorf("unsupported extraction provider: %q", c.Extraction.Provider)
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("extraction timeout must be positive")
	}

	if err := validator.New().Struct(c.Pipeline); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}

	return nil
}
