// Package config loads graph memory's service configuration from environment
// variables, following the teacher's convention of one documented struct
// with sane fallbacks (manifold/internal/config) adapted to a pure
// env-var source per the spec's "no YAML" ambient-stack decision.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the fully-resolved, typed configuration for the graphmemoryd
// process. Every field except the fixed ServiceName is sourced from an
// environment variable; nothing is read from a YAML file. The only
// command-line flag, --port, is parsed in cmd/graphmemoryd and overrides PORT.
type Config struct {
	Port int

	LogLevel string
	LogPath  string

	// Object store (S3 / MinIO-compatible).
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3Insecure     bool

	// Graph + token store (Postgres).
	GraphDSN string

	// Vector store (Qdrant).
	QdrantAddr   string
	QdrantAPIKey string

	// Redis distributed lock.
	RedisAddr string
	RedisDB   int

	// LLM / embedding endpoint (OpenAI-compatible, or Anthropic).
	LLMProvider    string // "openai" | "anthropic"
	LLMBaseURL     string
	LLMAPIKey      string
	LLMChatModel   string
	LLMEmbedModel  string
	EmbedDimension int

	// Ontology documents.
	OntologyDir string

	// Auth.
	BootstrapAdminKey string

	// Tunables (spec §6 "Configuration").
	MaxDocumentSizeMB    int
	ExtractionChunkSize  int
	MaxTextLength        int
	ChunkSize            int
	ChunkOverlap         int
	RAGScoreThreshold    float64
	RAGChunkLimit        int
	BackupRetentionCount int
	ExtractionTimeout    time.Duration

	ServiceName    string
	ServiceVersion string
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid integer, using default")
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid float, using default")
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Load reads a .env file if present (teacher's cmd/agent convention via
// joho/godotenv), then resolves Config from the environment. Mandatory
// fields (object-store credentials/bucket, graph-store DSN, LLM key,
// bootstrap admin key) are validated here, matching spec §6. The LLM URL is
// not checked: when LLM_BASE_URL is unset it falls back to the OpenAI endpoint.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("config: failed to load .env file")
	}

	cfg := &Config{
		Port:     getenvInt("PORT", 8088),
		LogLevel: getenv("LOG_LEVEL", "info"),
		LogPath:  getenv("LOG_PATH", ""),

		S3Endpoint:     getenv("GRAPHMEMORY_S3_ENDPOINT", ""),
		S3Region:       getenv("GRAPHMEMORY_S3_REGION", "us-east-1"),
		S3Bucket:       getenv("GRAPHMEMORY_S3_BUCKET", ""),
		S3AccessKey:    getenv("GRAPHMEMORY_S3_ACCESS_KEY", ""),
		S3SecretKey:    getenv("GRAPHMEMORY_S3_SECRET_KEY", ""),
		S3UsePathStyle: getenvBool("GRAPHMEMORY_S3_PATH_STYLE", true),
		S3Insecure:     getenvBool("GRAPHMEMORY_S3_INSECURE", false),

		GraphDSN: getenv("GRAPHMEMORY_GRAPH_DSN", ""),

		QdrantAddr:   getenv("GRAPHMEMORY_QDRANT_ADDR", "localhost:6334"),
		QdrantAPIKey: getenv("GRAPHMEMORY_QDRANT_API_KEY", ""),

		RedisAddr: getenv("GRAPHMEMORY_REDIS_ADDR", "localhost:6379"),
		RedisDB:   getenvInt("GRAPHMEMORY_REDIS_DB", 0),

		LLMProvider:    strings.ToLower(getenv("LLM_PROVIDER", "openai")),
		LLMBaseURL:     getenv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:      getenv("LLM_API_KEY", ""),
		LLMChatModel:   getenv("LLM_CHAT_MODEL", "gpt-4o-mini"),
		LLMEmbedModel:  getenv("LLM_EMBED_MODEL", "text-embedding-3-large"),
		EmbedDimension: getenvInt("LLM_EMBED_DIMENSIONS", 1024),

		OntologyDir: getenv("GRAPHMEMORY_ONTOLOGY_DIR", "./ontologies"),

		BootstrapAdminKey: getenv("GRAPHMEMORY_BOOTSTRAP_ADMIN_KEY", ""),

		MaxDocumentSizeMB:    getenvInt("GRAPHMEMORY_MAX_DOCUMENT_SIZE_MB", 50),
		ExtractionChunkSize:  getenvInt("GRAPHMEMORY_EXTRACTION_CHUNK_SIZE", 25000),
		MaxTextLength:        getenvInt("GRAPHMEMORY_MAX_TEXT_LENGTH", 950000),
		ChunkSize:            getenvInt("GRAPHMEMORY_CHUNK_SIZE", 500),
		ChunkOverlap:         getenvInt("GRAPHMEMORY_CHUNK_OVERLAP", 50),
		RAGScoreThreshold:    getenvFloat("GRAPHMEMORY_RAG_SCORE_THRESHOLD", 0.58),
		RAGChunkLimit:        getenvInt("GRAPHMEMORY_RAG_CHUNK_LIMIT", 8),
		BackupRetentionCount: getenvInt("GRAPHMEMORY_BACKUP_RETENTION_COUNT", 5),
		ExtractionTimeout:    time.Duration(getenvInt("GRAPHMEMORY_EXTRACTION_TIMEOUT_S", 600)) * time.Second,

		ServiceName:    "graphmemoryd",
		ServiceVersion: getenv("GRAPHMEMORY_VERSION", "dev"),
	}

	var missing []string
	if cfg.S3Bucket == "" {
		missing = append(missing, "GRAPHMEMORY_S3_BUCKET")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "GRAPHMEMORY_S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "GRAPHMEMORY_S3_SECRET_KEY")
	}
	if cfg.GraphDSN == "" {
		missing = append(missing, "GRAPHMEMORY_GRAPH_DSN")
	}
	if cfg.LLMAPIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if cfg.BootstrapAdminKey == "" {
		missing = append(missing, "GRAPHMEMORY_BOOTSTRAP_ADMIN_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	log.Info().
		Int("port", cfg.Port).
		Str("llm_provider", cfg.LLMProvider).
		Str("ontology_dir", cfg.OntologyDir).
		Msg("configuration loaded")

	return cfg, nil
}
