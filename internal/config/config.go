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

	// DatabaseURL selects the pgvector index. Empty runs the in-memory index.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"vektor-uploads"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY" required:"true"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	// Generation is optional: disabled answers return passages only.
	GenerationEnabled bool `envconfig:"GENERATION_ENABLED" default:"true"`

	SentryDSN string `envconfig:"SENTRY_DSN"`

	ChunkMaxChars    int `envconfig:"CHUNK_MAX_CHARS" default:"1200"`
	ChunkOverlap     int `envconfig:"CHUNK_OVERLAP" default:"200"`
	EmbedConcurrency int `envconfig:"EMBED_CONCURRENCY" default:"4"`

	// ContinueOnExtractError skips unreadable files instead of failing the batch.
	ContinueOnExtractError bool `envconfig:"CONTINUE_ON_EXTRACT_ERROR" default:"false"`

	// UploadRetention is how long terminal upload jobs stay queryable.
	UploadRetention time.Duration `envconfig:"UPLOAD_RETENTION" default:"60s"`

	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"33554432"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("VEKTOR", &cfg); err != nil {
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

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}
