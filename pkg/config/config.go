package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for feedback-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, tokens, keys) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Port is the HTTP listen port for serve mode.
	Port string `yaml:"port" env:"PORT" env-default:"8080"`

	// Telegram source configuration
	Telegram TelegramConfig `yaml:"telegram"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional snapshot cache)
	Redis RedisConfig `yaml:"redis"`

	// AI model endpoints (extraction LLM + embeddings)
	AI AIConfig `yaml:"ai"`

	// Vector index backend for similarity search
	VectorIndex VectorIndexConfig `yaml:"vector_index"`

	// Ingestion pipeline tuning
	Ingest IngestConfig `yaml:"ingest"`

	// Retrieval and ranking tuning
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// TelegramConfig holds settings for the Telegram message source.
type TelegramConfig struct {
	// BotToken authorizes against the Bot API. Secret - env only.
	BotToken string `yaml:"-" env:"TELEGRAM_BOT_TOKEN"`
	// ChatID is the numeric id of the group the pipeline reads from.
	ChatID int64 `yaml:"chat_id" env:"TELEGRAM_CHAT_ID" env-default:"0"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"feedback"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"feedback_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional Redis cache configuration.
// Leave Host empty to run without a cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// SnapshotTTLSeconds bounds staleness of cached ranking snapshots.
	SnapshotTTLSeconds int `yaml:"snapshot_ttl_seconds" env:"REDIS_SNAPSHOT_TTL_SECONDS" env-default:"300"`
}

// IsAvailable returns true if a Redis cache is configured.
func (c *RedisConfig) IsAvailable() bool {
	return c.Host != ""
}

// AIConfig holds endpoints for the extraction LLM and the embedding model.
// Any OpenAI-compatible endpoint works (hosted or local).
type AIConfig struct {
	APIKey          string  `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
	BaseURL         string  `yaml:"base_url" env:"AI_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model           string  `yaml:"model" env:"AI_MODEL" env-default:"gpt-4o-mini"`
	EmbeddingModel  string  `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	TimeoutSeconds  int     `yaml:"timeout_seconds" env:"AI_TIMEOUT_SECONDS" env-default:"60"`
	Temperature     float32 `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0.1"`
	MaxOutputTokens int     `yaml:"max_output_tokens" env:"AI_MAX_OUTPUT_TOKENS" env-default:"2048"`
	// MinConfidence is the inclusive floor below which extracted feedback is rejected.
	MinConfidence float64 `yaml:"min_confidence" env:"AI_MIN_CONFIDENCE" env-default:"0.7"`
}

// VectorIndexConfig selects and configures the similarity-search backend.
type VectorIndexConfig struct {
	// Backend is one of: memory, qdrant.
	Backend    string `yaml:"backend" env:"VECTOR_INDEX_BACKEND" env-default:"memory"`
	QdrantURL  string `yaml:"qdrant_url" env:"QDRANT_URL" env-default:""`
	QdrantKey  string `yaml:"-" env:"QDRANT_API_KEY"` // Secret - not in YAML
	Collection string `yaml:"collection" env:"VECTOR_INDEX_COLLECTION" env-default:"feedbacks"`
	// Dimension must match the embedding model output size.
	Dimension int `yaml:"dimension" env:"VECTOR_INDEX_DIMENSION" env-default:"1536"`
}

// IngestConfig holds ingestion pipeline tuning.
type IngestConfig struct {
	// Mode is one of: bulk, monitor, hybrid.
	Mode string `yaml:"mode" env:"INGEST_MODE" env-default:"hybrid"`
	// BulkLimit caps how many historical messages one bulk run fetches.
	BulkLimit int `yaml:"bulk_limit" env:"INGEST_BULK_LIMIT" env-default:"10000"`
	// BulkBatchSize is the page size for historical fetches.
	BulkBatchSize int `yaml:"bulk_batch_size" env:"INGEST_BULK_BATCH_SIZE" env-default:"100"`
	// MonitorBatchSize is the page size for live polling.
	MonitorBatchSize int `yaml:"monitor_batch_size" env:"INGEST_MONITOR_BATCH_SIZE" env-default:"50"`
	// MonitorIntervalSeconds is the live polling interval.
	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds" env:"INGEST_MONITOR_INTERVAL_SECONDS" env-default:"30"`
	// SweepIntervalMinutes is how often the reconciliation sweep re-checks for gaps.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" env:"INGEST_SWEEP_INTERVAL_MINUTES" env-default:"30"`
	// Workers bounds concurrent extraction calls.
	Workers int `yaml:"workers" env:"INGEST_WORKERS" env-default:"4"`
}

// MonitorInterval returns the polling interval as a duration.
func (c *IngestConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

// SweepInterval returns the reconciliation sweep interval as a duration.
func (c *IngestConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// RetrievalConfig holds search and ranking tuning.
type RetrievalConfig struct {
	// ResolveThreshold is the fuzzy score (0-100) required to bind a
	// mention to an existing professor during ingestion.
	ResolveThreshold int `yaml:"resolve_threshold" env:"RETRIEVAL_RESOLVE_THRESHOLD" env-default:"85"`
	// SearchThreshold is the looser fuzzy score used for user-facing search.
	SearchThreshold int `yaml:"search_threshold" env:"RETRIEVAL_SEARCH_THRESHOLD" env-default:"70"`
	// MinFeedbacks is the floor below which a professor or course is
	// excluded from rankings.
	MinFeedbacks int `yaml:"min_feedbacks" env:"RETRIEVAL_MIN_FEEDBACKS" env-default:"3"`
	// MaxResults caps search result lists.
	MaxResults int `yaml:"max_results" env:"RETRIEVAL_MAX_RESULTS" env-default:"10"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// If config.yaml does not exist, configuration comes from environment variables
// alone. Secrets (PGPASSWORD, TELEGRAM_BOT_TOKEN, AI_API_KEY, REDIS_PASSWORD,
// QDRANT_API_KEY) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints that cleanenv tags cannot express.
func (c *Config) Validate() error {
	switch c.Ingest.Mode {
	case "bulk", "monitor", "hybrid":
	default:
		return fmt.Errorf("ingest.mode must be bulk, monitor, or hybrid, got %q", c.Ingest.Mode)
	}

	switch c.VectorIndex.Backend {
	case "memory":
	case "qdrant":
		if c.VectorIndex.QdrantURL == "" {
			return fmt.Errorf("vector_index.qdrant_url is required for the qdrant backend")
		}
	default:
		return fmt.Errorf("vector_index.backend must be memory or qdrant, got %q", c.VectorIndex.Backend)
	}

	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		return fmt.Errorf("ai.min_confidence must be in [0,1], got %f", c.AI.MinConfidence)
	}
	if c.Retrieval.ResolveThreshold < 0 || c.Retrieval.ResolveThreshold > 100 {
		return fmt.Errorf("retrieval.resolve_threshold must be in [0,100], got %d", c.Retrieval.ResolveThreshold)
	}
	if c.Retrieval.SearchThreshold > c.Retrieval.ResolveThreshold {
		return fmt.Errorf("retrieval.search_threshold must not exceed resolve_threshold")
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.BulkBatchSize < 1 || c.Ingest.MonitorBatchSize < 1 {
		return fmt.Errorf("ingest batch sizes must be at least 1")
	}

	return nil
}

// Example renders a commented starter config.yaml with all defaults
// filled in. Secret fields stay out of the file.
func Example() ([]byte, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to populate defaults: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal example config: %w", err)
	}

	header := []byte("# feedback-engine configuration.\n" +
		"# Environment variables override every value here.\n" +
		"# Secrets (PGPASSWORD, TELEGRAM_BOT_TOKEN, AI_API_KEY, REDIS_PASSWORD,\n" +
		"# QDRANT_API_KEY) are env-only and never read from this file.\n")
	return append(header, out...), nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the host:port pair for the Redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
