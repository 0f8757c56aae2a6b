package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"deskmate-knowledge"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey    string        `envconfig:"OPENAI_API_KEY"`
	ChatModel       string        `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel  string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-ada-002"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	ProviderRetries int           `envconfig:"PROVIDER_RETRIES" default:"2"`

	// Retrieval and ranking policy. Hand-tuned values; treated as
	// configuration rather than behavior to derive.
	BoostFactor           float32       `envconfig:"BOOST_FACTOR" default:"0.05"`
	ContextBudgetChars    int           `envconfig:"CONTEXT_BUDGET_CHARS" default:"8000"`
	CacheCapacity         int           `envconfig:"CACHE_CAPACITY" default:"200"`
	CacheMaxAge           time.Duration `envconfig:"CACHE_MAX_AGE" default:"168h"`
	CacheSimilarity       float32       `envconfig:"CACHE_SIMILARITY" default:"0.92"`
	HighConfidenceScore   float32       `envconfig:"HIGH_CONFIDENCE_SCORE" default:"0.75"`
	KeywordApplyThreshold int           `envconfig:"KEYWORD_APPLY_THRESHOLD" default:"3"`
	FailureAlertThreshold int           `envconfig:"FAILURE_ALERT_THRESHOLD" default:"5"`

	// Background workers.
	FlushInterval     time.Duration `envconfig:"FLUSH_INTERVAL" default:"5m"`
	BackfillInterval  time.Duration `envconfig:"BACKFILL_INTERVAL" default:"1m"`
	FeedbackRetention time.Duration `envconfig:"FEEDBACK_RETENTION" default:"2160h"`

	TicketProjectPrefixes []string `envconfig:"TICKET_PROJECT_PREFIXES" default:"IT,HD,SD"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("DESKMATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
