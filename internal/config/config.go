package config

import (
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	VectorBackend       string `envconfig:"VECTOR_BACKEND" default:"postgres"`
	DatabaseURL         string `envconfig:"DATABASE_URL"`
	KnowledgeTable      string `envconfig:"KNOWLEDGE_TABLE" default:"knowledge_chunks"`
	PatientRecordsTable string `envconfig:"PATIENT_RECORDS_TABLE" default:"patient_record_chunks"`
	MigrationsPath      string `envconfig:"MIGRATIONS_PATH" default:"migrations"`

	EmbeddingProvider   string        `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"nomic-embed-text"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
	OpenAIAPIKey        string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `envconfig:"OPENAI_BASE_URL" default:"http://localhost:11434/v1"`
	GeminiAPIKey        string        `envconfig:"GEMINI_API_KEY"`
	EmbedCacheSize      int           `envconfig:"EMBED_CACHE_SIZE" default:"4096"`
	EmbedCacheTTL       time.Duration `envconfig:"EMBED_CACHE_TTL" default:"1h"`

	ChunkSize           int     `envconfig:"CHUNK_SIZE" default:"800"`
	ChunkOverlap        int     `envconfig:"CHUNK_OVERLAP" default:"150"`
	TopK                int     `envconfig:"TOP_K" default:"5"`
	ClinicalTopK        int     `envconfig:"CLINICAL_TOP_K" default:"8"`
	ScoreFloor          float32 `envconfig:"SCORE_FLOOR" default:"0.70"`
	RedundancyThreshold float32 `envconfig:"REDUNDANCY_THRESHOLD" default:"0.95"`
	ContextMaxChunks    int     `envconfig:"CONTEXT_MAX_CHUNKS" default:"0"`

	// Cron spec for refreshing every patient summary; empty disables it.
	SummarySchedule string `envconfig:"SUMMARY_SCHEDULE"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CARECONTEXT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
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

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.EmbeddingProvider)
	}
	if c.EmbeddingProvider == ProviderGemini && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("EMBEDDING_MODEL is required")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}

	switch c.VectorBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("VECTOR_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.VectorBackend)
	}
	if !identifierPattern.MatchString(c.KnowledgeTable) {
		return fmt.Errorf("KNOWLEDGE_TABLE %q is not a valid identifier", c.KnowledgeTable)
	}
	if !identifierPattern.MatchString(c.PatientRecordsTable) {
		return fmt.Errorf("PATIENT_RECORDS_TABLE %q is not a valid identifier", c.PatientRecordsTable)
	}
	if c.KnowledgeTable == c.PatientRecordsTable {
		return fmt.Errorf("KNOWLEDGE_TABLE and PATIENT_RECORDS_TABLE must differ")
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if c.TopK <= 0 || c.ClinicalTopK <= 0 {
		return fmt.Errorf("TOP_K and CLINICAL_TOP_K must be positive")
	}
	if c.ScoreFloor < 0 || c.ScoreFloor > 1 {
		return fmt.Errorf("SCORE_FLOOR must be in [0, 1]")
	}
	if c.RedundancyThreshold < 0 || c.RedundancyThreshold > 1 {
		return fmt.Errorf("REDUNDANCY_THRESHOLD must be in [0, 1]")
	}
	if c.ContextMaxChunks < 0 {
		return fmt.Errorf("CONTEXT_MAX_CHUNKS must not be negative")
	}
	if c.EmbedCacheSize < 0 {
		return fmt.Errorf("EMBED_CACHE_SIZE must not be negative")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
