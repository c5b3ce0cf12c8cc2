package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Keys     APIKeys
	Ai       AIConfig
	Chat     ChatConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	WsLogFilePath      string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JWTSecret          string // empty disables bearer identity
	OtelEnabled        bool
}

type DatabaseConfig struct {
	Connection string
}

type APIKeys struct {
	GoogleGemini string
	Jina         string
	HuggingFace  string
}

type AIConfig struct {
	EmbeddingProvider string // "ollama", "gemini" or "jina"
	EmbeddingBaseURL  string
	OllamaBaseURL     string
	OllamaModel       string // embedding model served by Ollama
	LLMProvider       string // "ollama" or "huggingface"
	LLMModel          string // e.g. "llama3", "qwen2.5"
	LLMBaseURL        string
	LLMTemperature    float64
	LLMMaxTokens      int
}

// ChatConfig tunes the conversation pipeline
type ChatConfig struct {
	TopK               int  // similarity candidates fetched before reranking
	TopN               int  // passages passed to the model
	MaxCarried         int  // previously cited passages carried in hybrid mode
	Hybrid             bool // carry cited passages into later turns
	RerankByDefault    bool
	RerankerProvider   string // "jina" or "lexical"
	Lookahead          int
	PreambleLimit      int
	GenerationTimeout  time.Duration
	NoDataTimeout      time.Duration
	IdleTimeout        time.Duration
	CleanupInterval    time.Duration
	IndexBackend       string // "pgvector" or "memory"
	CorpusFile         string // JSON corpus for the memory backend
	ArchiveEnabled     bool   // snapshot conversations to redis
	EventsEnabled      bool   // forward turn events to NATS
	ResumeWaitDuration time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "websocket.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
			OtelEnabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Keys: APIKeys{
			GoogleGemini: getEnv("GOOGLE_GEMINI_API_KEY", ""),
			Jina:         getEnv("JINA_API_KEY", ""),
			HuggingFace:  getEnv("HUGGINGFACE_API_KEY", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingBaseURL:  getEnv("EMBEDDING_BASE_URL", ""),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			LLMProvider:       getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:          getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
			LLMTemperature:    getEnvAsFloat("LLM_TEMPERATURE", 0.2),
			LLMMaxTokens:      getEnvAsInt("LLM_MAX_TOKENS", 1024),
		},
		Chat: ChatConfig{
			TopK:               getEnvAsInt("RETRIEVAL_TOP_K", 20),
			TopN:               getEnvAsInt("RETRIEVAL_TOP_N", 5),
			MaxCarried:         getEnvAsInt("RETRIEVAL_MAX_CARRIED", 15),
			Hybrid:             getEnvAsBool("RETRIEVAL_HYBRID", false),
			RerankByDefault:    getEnvAsBool("RERANK_BY_DEFAULT", false),
			RerankerProvider:   getEnv("RERANKER_PROVIDER", "lexical"),
			Lookahead:          getEnvAsInt("STREAM_LOOKAHEAD", 5),
			PreambleLimit:      getEnvAsInt("STREAM_PREAMBLE_LIMIT", 100),
			GenerationTimeout:  getEnvAsDuration("GENERATION_TIMEOUT", 5*time.Minute),
			NoDataTimeout:      getEnvAsDuration("NO_DATA_TIMEOUT", 60*time.Second),
			IdleTimeout:        getEnvAsDuration("CONVERSATION_IDLE_TIMEOUT", time.Hour),
			CleanupInterval:    getEnvAsDuration("CONVERSATION_CLEANUP_INTERVAL", 10*time.Minute),
			IndexBackend:       getEnv("INDEX_BACKEND", "pgvector"),
			CorpusFile:         getEnv("CORPUS_FILE", "corpus.json"),
			ArchiveEnabled:     getEnvAsBool("CONVERSATION_ARCHIVE_ENABLED", false),
			EventsEnabled:      getEnvAsBool("EVENTS_NATS_ENABLED", false),
			ResumeWaitDuration: getEnvAsDuration("RESUME_WAIT", 30*time.Second),
		},
	}
}

// IsProduction reports whether GO_ENV selects production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
