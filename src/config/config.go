// Package config collects the environment-driven settings for the companion
// memory service. Values come from the process environment; the daemon loads
// a .env file first so local runs need no exported variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultDataDir             = "data"
	DefaultMongoDatabase       = "companion"
	DefaultCacheSize           = 512
	DefaultCacheTTL            = 24 * time.Hour
	DefaultSummaryInterval     = 10
	DefaultMaintenanceSchedule = "0 3 * * *"
)

type Config struct {
	// DatabaseURL selects the Postgres/pgvector primary store; MongoURI
	// selects the MongoDB Atlas alternative. When both are empty the
	// service runs on the local store alone.
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// DataDir holds the local fallback store and on-disk caches.
	DataDir string

	// Characters overrides the built-in registry when non-empty.
	Characters []string

	LLMProvider   string
	LLMModel      string
	EmbedProvider string
	EmbedModel    string
	EmbedDim      int

	CacheFile string
	CacheSize int
	CacheTTL  time.Duration

	SummaryInterval     int
	MaintenanceSchedule string
}

// FromEnv reads every setting, applying defaults for anything unset.
func FromEnv() Config {
	return Config{
		DatabaseURL:         os.Getenv("COMPANION_DATABASE_URL"),
		MongoURI:            os.Getenv("COMPANION_MONGO_URI"),
		MongoDatabase:       envString("COMPANION_MONGO_DB", DefaultMongoDatabase),
		DataDir:             envString("COMPANION_DATA_DIR", DefaultDataDir),
		Characters:          envList("COMPANION_CHARACTERS"),
		LLMProvider:         os.Getenv("COMPANION_LLM_PROVIDER"),
		LLMModel:            os.Getenv("COMPANION_LLM_MODEL"),
		EmbedProvider:       os.Getenv("COMPANION_EMBED_PROVIDER"),
		EmbedModel:          os.Getenv("COMPANION_EMBED_MODEL"),
		EmbedDim:            envInt("COMPANION_EMBED_DIM", 0),
		CacheFile:           os.Getenv("COMPANION_CACHE_FILE"),
		CacheSize:           envInt("COMPANION_CACHE_SIZE", DefaultCacheSize),
		CacheTTL:            envDuration("COMPANION_CACHE_TTL", DefaultCacheTTL),
		SummaryInterval:     envInt("COMPANION_SUMMARY_INTERVAL", DefaultSummaryInterval),
		MaintenanceSchedule: envString("COMPANION_MAINTENANCE_CRON", DefaultMaintenanceSchedule),
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
