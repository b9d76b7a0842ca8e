package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string

	// Auth
	JWTSecret string

	// Object storage. When AWS credentials are absent, uploads fall back to
	// the local filesystem under UploadDir.
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	// Local storage root for uploads and rendered page images.
	UploadDir       string
	MaxFileSizeMB   int64
	QueueBufferSize int

	// Gemini
	AIAPIKey   string
	EmbedModel string
	EmbedDim   int
	GenModel   string

	// Cloud PDF parsing (optional; local extraction is the fallback).
	ParseAPIKey string
	ParseURL    string

	// Vector store: "qdrant", "pgvector" or "" (disabled).
	VectorProvider   string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Redis (optional). Shared caches and rate budgets become no-ops
	// without it.
	RedisURL string

	// Per-minute budgets shared across processes.
	EmbedRequestsPerMinute    int
	GenerateRequestsPerMinute int
	GenerationCacheTTL        time.Duration

	// Admission gates (per process).
	MaxConcurrentDocuments  int
	MaxConcurrentSearches   int
	MaxConcurrentLLMCalls   int
	MaxConcurrentEmbedCalls int
	GateAcquireTimeout      time.Duration

	// Page rendering limits.
	MaxRenderPages  int
	VisionBatchSize int
}

// LoadConfig loads the environment variables and returns config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("APP_ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "docsage-docs"),

		UploadDir:       getEnv("UPLOAD_DIR", "./uploads"),
		MaxFileSizeMB:   int64(getEnvInt("MAX_FILE_SIZE_MB", 10)),
		QueueBufferSize: getEnvInt("INGEST_QUEUE_SIZE", 64),

		AIAPIKey:   getEnv("GEMINI_API_KEY", ""),
		EmbedModel: getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:   getEnvInt("EMBED_DIM", 768),
		GenModel:   getEnv("GEN_MODEL", "gemini-2.5-flash"),

		ParseAPIKey: getEnv("PARSE_API_KEY", ""),
		ParseURL:    getEnv("PARSE_URL", "https://api.cloud.llamaindex.ai/api/parsing"),

		VectorProvider:   getEnv("VECTOR_PROVIDER", ""),
		QdrantURL:        getEnv("QDRANT_URL", ""),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "docsage_documents"),

		RedisURL: getEnv("REDIS_URL", ""),

		EmbedRequestsPerMinute:    getEnvInt("EMBED_RPM", 120),
		GenerateRequestsPerMinute: getEnvInt("GENERATE_RPM", 8),
		GenerationCacheTTL:        getEnvDuration("GENERATION_CACHE_TTL", 10*time.Minute),

		MaxConcurrentDocuments:  getEnvInt("MAX_CONCURRENT_DOCUMENTS", 1),
		MaxConcurrentSearches:   getEnvInt("MAX_CONCURRENT_SEARCHES", 10),
		MaxConcurrentLLMCalls:   getEnvInt("MAX_CONCURRENT_LLM", 2),
		MaxConcurrentEmbedCalls: getEnvInt("MAX_CONCURRENT_EMBED", 4),
		GateAcquireTimeout:      getEnvDuration("GATE_ACQUIRE_TIMEOUT", 250*time.Millisecond),

		MaxRenderPages:  getEnvInt("MAX_RENDER_PAGES", 100),
		VisionBatchSize: getEnvInt("VISION_CONCURRENCY", 2),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// MaxFileSizeBytes is the upload size cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB << 20
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
