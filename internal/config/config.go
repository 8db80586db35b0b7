// Package config reads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/classifier"
	"github.com/dvloznov/finance-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/finance-assistant/internal/normalizer"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Backend names a durable store implementation.
type Backend string

const (
	BackendBigQuery Backend = "bigquery"
	BackendMongo    Backend = "mongo"
	BackendLocal    Backend = "local"
)

type Config struct {
	GeminiAPIKey        string
	ClassifierModel     string
	ClassifierFastModel string

	StoreBackend  Backend
	BQProject     string
	BQDataset     string
	MongoURI      string
	MongoDatabase string
	LocalStoreDir string

	ContextWindow  int
	TaskWorkers    int
	TaskMaxRetries int

	LogLevel  string
	LogFormat string
	Port      string
}

// Load reads .env if present and then the environment. Malformed numbers
// fall back to their defaults with a warning.
func Load(log zerolog.Logger) *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}
	return FromEnv(log)
}

// FromEnv builds a Config from the current environment only.
func FromEnv(log zerolog.Logger) *Config {
	return &Config{
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
		ClassifierModel:     getEnv("CLASSIFIER_MODEL", classifier.DefaultModelName),
		ClassifierFastModel: getEnv("CLASSIFIER_FAST_MODEL", classifier.DefaultFastModelName),

		StoreBackend:  Backend(strings.ToLower(getEnv("STORE_BACKEND", string(BackendLocal)))),
		BQProject:     getEnv("BQ_PROJECT", ""),
		BQDataset:     getEnv("BQ_DATASET", "finance"),
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "assistant"),
		LocalStoreDir: getEnv("LOCAL_STORE_DIR", "./data"),

		ContextWindow:  getEnvInt(log, "CONTEXT_WINDOW", normalizer.DefaultContextWindow),
		TaskWorkers:    getEnvInt(log, "TASK_WORKERS", inmemory.DefaultWorkers),
		TaskMaxRetries: getEnvInt(log, "TASK_MAX_RETRIES", inmemory.DefaultMaxRetries),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "console")),
		Port:      getEnv("PORT", "8080"),
	}
}

// Validate checks that the selected backend has what it needs and that a
// Gemini key was found in GEMINI_API_KEY or GOOGLE_API_KEY.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendBigQuery:
		if c.BQProject == "" {
			return fmt.Errorf("BQ_PROJECT is required for the bigquery backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo backend")
		}
	case BackendLocal:
		if c.LocalStoreDir == "" {
			return fmt.Errorf("LOCAL_STORE_DIR must not be empty")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY or GOOGLE_API_KEY is required")
	}
	return nil
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(log zerolog.Logger, key string, fallback int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		log.Warn().Str("key", key).Str("value", raw).Int("default", fallback).Msg("Invalid number in environment, using default")
		return fallback
	}
	return n
}
