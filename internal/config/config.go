package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Intel    IntelConfig
	Sinks    SinkConfig
	Feeds    FeedConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigin   string

	// APIToken guards the /api routes when set
	APIToken       string
	RateLimitRPS   float64
	RateLimitBurst int
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// For SQLite
	Path string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// IntelConfig tunes the ingestion, scoring and escalation pipeline
type IntelConfig struct {
	// WorkerPoolSize of 0 means min(number of sources, 8)
	WorkerPoolSize   int
	PollTimeout      time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	FailureThreshold int
	FetchLimit       int
	RefreshInterval  time.Duration

	// StrongReputation is the magnitude at which two disagreeing sources trigger the
	// malicious-wins rule.
	StrongReputation int

	Thresholds        ScoreThresholds
	CorroborationStep float64
	CategoryWeights   map[string]float64
	ActionPriority    int
	ActionCategories  []string
	SLA               SLATable
	SLATrackerSpec    string
}

// ScoreThresholds are lower bounds on the priority score for priorities 1..3
type ScoreThresholds struct {
	Critical float64
	High     float64
	Medium   float64
}

// SLATable maps notification severity to response deadline
type SLATable struct {
	Critical time.Duration
	High     time.Duration
	Medium   time.Duration
	Low      time.Duration
}

// For returns the SLA duration for a priority rank (1=critical .. 4=low)
func (t SLATable) For(priority int) time.Duration {
	switch priority {
	case 1:
		return t.Critical
	case 2:
		return t.High
	case 3:
		return t.Medium
	default:
		return t.Low
	}
}

// SinkConfig configures downstream notification delivery
type SinkConfig struct {
	RedisURL           string
	NotificationStream string
	EscalationStream   string
	WebhookURL         string
	SupervisorWebhook  string
	WebhookTimeout     time.Duration
}

// FeedConfig contains adapter-level settings shared by all sources
type FeedConfig struct {
	OTXBaseURL        string
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors as it's optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigin:   getEnv("ALLOWED_ORIGIN", "http://localhost:5173"),
			APIToken:        getEnv("API_TOKEN", ""),
			RateLimitRPS:    getEnvAsFloat("API_RATE_LIMIT_RPS", 50),
			RateLimitBurst:  getEnvAsInt("API_RATE_LIMIT_BURST", 100),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "threatwatch"),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Path:            getEnv("DB_PATH", "./threatwatch.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Intel: IntelConfig{
			WorkerPoolSize:   getEnvAsInt("INTEL_WORKERS", 0),
			PollTimeout:      getEnvAsDuration("INTEL_POLL_TIMEOUT", 30*time.Second),
			BackoffBase:      getEnvAsDuration("INTEL_BACKOFF_BASE", 30*time.Second),
			BackoffMax:       getEnvAsDuration("INTEL_BACKOFF_MAX", 30*time.Minute),
			FailureThreshold: getEnvAsInt("INTEL_FAILURE_THRESHOLD", 5),
			FetchLimit:       getEnvAsInt("INTEL_FETCH_LIMIT", 100),
			RefreshInterval:  getEnvAsDuration("INTEL_REFRESH_INTERVAL", time.Minute),
			StrongReputation: getEnvAsInt("INTEL_STRONG_REPUTATION", 5),
			Thresholds: ScoreThresholds{
				Critical: getEnvAsFloat("INTEL_SCORE_CRITICAL", 8),
				High:     getEnvAsFloat("INTEL_SCORE_HIGH", 5),
				Medium:   getEnvAsFloat("INTEL_SCORE_MEDIUM", 2),
			},
			CorroborationStep: getEnvAsFloat("INTEL_CORROBORATION_STEP", 0.25),
			CategoryWeights:   getEnvAsWeights("INTEL_CATEGORY_WEIGHTS", DefaultCategoryWeights()),
			ActionPriority:    getEnvAsInt("INTEL_ACTION_PRIORITY", 2),
			ActionCategories:  getEnvAsList("INTEL_ACTION_CATEGORIES", []string{"ioc", "malware", "vulnerability", "campaign"}),
			SLA: SLATable{
				Critical: getEnvAsDuration("SLA_CRITICAL", 2*time.Hour),
				High:     getEnvAsDuration("SLA_HIGH", 8*time.Hour),
				Medium:   getEnvAsDuration("SLA_MEDIUM", 72*time.Hour),
				Low:      getEnvAsDuration("SLA_LOW", 168*time.Hour),
			},
			SLATrackerSpec: getEnv("SLA_TRACKER_SCHEDULE", "@every 1m"),
		},
		Sinks: SinkConfig{
			RedisURL:           getEnv("REDIS_URL", ""),
			NotificationStream: getEnv("REDIS_NOTIFICATION_STREAM", "threat-notifications"),
			EscalationStream:   getEnv("REDIS_ESCALATION_STREAM", "threat-escalations"),
			WebhookURL:         getEnv("NOTIFY_WEBHOOK_URL", ""),
			SupervisorWebhook:  getEnv("SUPERVISOR_WEBHOOK_URL", ""),
			WebhookTimeout:     getEnvAsDuration("NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Feeds: FeedConfig{
			OTXBaseURL:        getEnv("OTX_BASE_URL", "https://otx.alienvault.com"),
			RequestsPerSecond: getEnvAsFloat("FEED_REQUESTS_PER_SECOND", 2),
			Burst:             getEnvAsInt("FEED_BURST", 4),
			UserAgent:         getEnv("FEED_USER_AGENT", "threatwatch/1.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration Load would produce with an empty environment
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigin:   "http://localhost:5173",
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Intel:   DefaultIntel(),
		Feeds: FeedConfig{
			OTXBaseURL:        "https://otx.alienvault.com",
			RequestsPerSecond: 2,
			Burst:             4,
			UserAgent:         "threatwatch/1.0",
		},
	}
}

// DefaultIntel returns the pipeline defaults
func DefaultIntel() IntelConfig {
	return IntelConfig{
		PollTimeout:       30 * time.Second,
		BackoffBase:       30 * time.Second,
		BackoffMax:        30 * time.Minute,
		FailureThreshold:  5,
		FetchLimit:        100,
		RefreshInterval:   time.Minute,
		StrongReputation:  5,
		Thresholds:        ScoreThresholds{Critical: 8, High: 5, Medium: 2},
		CorroborationStep: 0.25,
		CategoryWeights:   DefaultCategoryWeights(),
		ActionPriority:    2,
		ActionCategories:  []string{"ioc", "malware", "vulnerability", "campaign"},
		SLA: SLATable{
			Critical: 2 * time.Hour,
			High:     8 * time.Hour,
			Medium:   72 * time.Hour,
			Low:      168 * time.Hour,
		},
		SLATrackerSpec: "@every 1m",
	}
}

// DefaultCategoryWeights ranks active campaigns above isolated indicators
func DefaultCategoryWeights() map[string]float64 {
	return map[string]float64{
		"campaign":      1.5,
		"malware":       1.2,
		"ioc":           1.0,
		"vulnerability": 1.0,
		"reputation":    0.8,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	return c.Intel.Validate()
}

// Validate checks the pipeline settings for internal consistency
func (i IntelConfig) Validate() error {
	if i.WorkerPoolSize < 0 {
		return fmt.Errorf("worker pool size must not be negative")
	}
	if i.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive")
	}
	if i.BackoffBase <= 0 || i.BackoffMax < i.BackoffBase {
		return fmt.Errorf("backoff base must be positive and not exceed backoff max")
	}
	if i.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1")
	}
	t := i.Thresholds
	if !(t.Critical >= t.High && t.High >= t.Medium && t.Medium > 0) {
		return fmt.Errorf("score thresholds must satisfy critical >= high >= medium > 0")
	}
	if i.ActionPriority < 1 || i.ActionPriority > 4 {
		return fmt.Errorf("action priority must be between 1 and 4")
	}
	for _, d := range []time.Duration{i.SLA.Critical, i.SLA.High, i.SLA.Medium, i.SLA.Low} {
		if d <= 0 {
			return fmt.Errorf("SLA durations must be positive")
		}
	}
	for name, w := range i.CategoryWeights {
		if w <= 0 {
			return fmt.Errorf("category weight for %s must be positive", name)
		}
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsWeights parses "campaign=1.5,ioc=1" over the defaults
func getEnvAsWeights(key string, defaultValue map[string]float64) map[string]float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	for _, pair := range strings.Split(valueStr, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if w, err := strconv.ParseFloat(raw, 64); err == nil {
			defaultValue[strings.TrimSpace(name)] = w
		}
	}
	return defaultValue
}
