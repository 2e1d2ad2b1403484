package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Job store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Dispatch modes
const (
	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Search   SearchConfig   `yaml:"search"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SearchConfig holds the permit search pipeline configuration
type SearchConfig struct {
	Store           string               `yaml:"store"`
	Dispatch        string               `yaml:"dispatch"`
	MaxJobs         int                  `yaml:"max_jobs"`
	JobTTL          time.Duration        `yaml:"job_ttl"`
	SweepInterval   time.Duration        `yaml:"sweep_interval"`
	JobTimeout      time.Duration        `yaml:"job_timeout"`
	EstimatedTime   time.Duration        `yaml:"estimated_time"`
	ValidateResults bool                 `yaml:"validate_results"`
	Scrape          ScrapeConfig         `yaml:"scrape"`
	RateLimits      RateLimitsConfig     `yaml:"rate_limits"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	AI              AIConfig             `yaml:"ai"`
	Geocoder        GeocoderConfig       `yaml:"geocoder"`
	Discovery       DiscoveryConfig      `yaml:"discovery"`
	Validation      ValidationConfig     `yaml:"validation"`
}

// ScrapeConfig holds web scraper settings
type ScrapeConfig struct {
	Timeout              time.Duration `yaml:"timeout"`
	DelayBetweenRequests time.Duration `yaml:"delay_between_requests"`
	MaxRetries           *int          `yaml:"max_retries"`
	AdvancedExtraction   *bool         `yaml:"advanced_extraction"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
	UserAgent            string        `yaml:"user_agent"`
}

// AdvancedExtractionEnabled defaults to true when unset
func (s ScrapeConfig) AdvancedExtractionEnabled() bool {
	return s.AdvancedExtraction == nil || *s.AdvancedExtraction
}

// RateLimitsConfig holds the two shared limiter profiles
type RateLimitsConfig struct {
	External RateLimitConfig `yaml:"external"`
	Internal RateLimitConfig `yaml:"internal"`
}

// RateLimitConfig holds the ceilings of one limiter
type RateLimitConfig struct {
	RequestsPerSecond int           `yaml:"requests_per_second"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	MaxWait           time.Duration `yaml:"max_wait"`
}

// CircuitBreakerConfig holds the breaker guarding AI extraction
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	SuccessThreshold uint32        `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// AIConfig holds OpenAI extraction settings
type AIConfig struct {
	Enabled         bool          `yaml:"enabled"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxContentChars int           `yaml:"max_content_chars"`
	MaxRetries      *int          `yaml:"max_retries"`
}

// Retries returns the configured retry count, or -1 when unset
func (a AIConfig) Retries() int {
	if a.MaxRetries == nil {
		return -1
	}
	return *a.MaxRetries
}

// GeocoderConfig holds Census geocoder settings
type GeocoderConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	Benchmark string        `yaml:"benchmark"`
	Vintage   string        `yaml:"vintage"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DiscoveryConfig holds jurisdiction discovery settings
type DiscoveryConfig struct {
	DirectoryPath   string        `yaml:"directory_path"`
	ProbeEnabled    bool          `yaml:"probe_enabled"`
	ProbeCandidates []string      `yaml:"probe_candidates"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
}

// ValidationConfig holds data validator settings
type ValidationConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheCapacity uint64        `yaml:"cache_capacity"`
}

// Load reads and parses the configuration file, then applies env overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	return &config, nil
}

// applyEnv lets secrets come from the environment instead of the file
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Search.AI.APIKey == "" {
		c.Search.AI.APIKey = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
}

func (c *Config) applyDefaults() {
	s := &c.Search

	if s.Store == "" {
		s.Store = StoreMemory
	}
	if s.Dispatch == "" {
		s.Dispatch = DispatchInline
	}
	if s.MaxJobs == 0 {
		s.MaxJobs = 100
	}
	if s.JobTTL == 0 {
		s.JobTTL = 30 * time.Minute
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = time.Minute
	}
	if s.JobTimeout == 0 {
		s.JobTimeout = 5 * time.Minute
	}
	if s.EstimatedTime == 0 {
		s.EstimatedTime = 30 * time.Second
	}

	if s.Scrape.Timeout == 0 {
		s.Scrape.Timeout = 30 * time.Second
	}
	if s.Scrape.DelayBetweenRequests == 0 {
		s.Scrape.DelayBetweenRequests = time.Second
	}
	if s.Scrape.MaxRetries == nil {
		s.Scrape.MaxRetries = intPtr(2)
	}

	if s.RateLimits.External.RequestsPerSecond == 0 {
		s.RateLimits.External.RequestsPerSecond = 1
	}
	if s.RateLimits.External.RequestsPerMinute == 0 {
		s.RateLimits.External.RequestsPerMinute = 30
	}
	if s.RateLimits.Internal.RequestsPerSecond == 0 {
		s.RateLimits.Internal.RequestsPerSecond = 5
	}
	if s.RateLimits.Internal.RequestsPerMinute == 0 {
		s.RateLimits.Internal.RequestsPerMinute = 100
	}

	if s.AI.Model == "" {
		s.AI.Model = "gpt-4o-mini"
	}
	if s.AI.Timeout == 0 {
		s.AI.Timeout = 60 * time.Second
	}
	if s.AI.MaxContentChars == 0 {
		s.AI.MaxContentChars = 12000
	}
	if s.AI.MaxRetries == nil {
		s.AI.MaxRetries = intPtr(3)
	}

	if s.Validation.CacheTTL == 0 {
		s.Validation.CacheTTL = time.Hour
	}
	if s.Validation.CacheCapacity == 0 {
		s.Validation.CacheCapacity = 1000
	}
}

// Validate checks the search section and the backends it depends on
func (c *Config) Validate() error {
	s := c.Search

	switch s.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("invalid search store: %q (must be %s or %s)", s.Store, StoreMemory, StorePostgres)
	}

	switch s.Dispatch {
	case DispatchInline, DispatchQueue:
	default:
		return fmt.Errorf("invalid search dispatch: %q (must be %s or %s)", s.Dispatch, DispatchInline, DispatchQueue)
	}

	if s.Dispatch == DispatchQueue && s.Store != StorePostgres {
		return fmt.Errorf("queue dispatch requires the %s store", StorePostgres)
	}

	if s.MaxJobs <= 0 {
		return fmt.Errorf("search max_jobs must be greater than 0")
	}

	if s.JobTTL <= 0 {
		return fmt.Errorf("search job_ttl must be greater than 0")
	}

	if s.JobTimeout <= 0 {
		return fmt.Errorf("search job_timeout must be greater than 0")
	}

	if s.Scrape.MaxRetries != nil && *s.Scrape.MaxRetries < 0 {
		return fmt.Errorf("search scrape max_retries must not be negative")
	}

	if s.AI.MaxRetries != nil && *s.AI.MaxRetries < 0 {
		return fmt.Errorf("search ai max_retries must not be negative")
	}

	if s.AI.Enabled && s.AI.APIKey == "" {
		return fmt.Errorf("search ai api_key is required when ai is enabled (or set OPENAI_API_KEY)")
	}

	if s.Store == StorePostgres {
		if err := c.validateDatabase(); err != nil {
			return err
		}
	}

	if s.Dispatch == DispatchQueue {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateAPIConfig checks the configuration of the api-service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the configuration of the worker-service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Search.Dispatch != DispatchQueue {
		return fmt.Errorf("worker requires search dispatch %q", DispatchQueue)
	}

	return c.Validate()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func intPtr(v int) *int {
	return &v
}
