// Package config loads the scheduler's environment-driven configuration
// with documented defaults for every optional setting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/oculus/pkg/jobcore"
)

// Config holds every environment-driven setting recognized by the scheduler.
type Config struct {
	DatabaseURL           string
	JourneySessionCookie  string
	SlackToken            string
	MaxDBConnections      int
	FetchConcurrency      int
	EmbedConcurrency      int
	EmbedBatchSize        int
	DBEmbedConcurrency    int
	DevMode               bool
	Wipe                  bool
	MigrateOnly           bool
	ForceEmbeddingRegen   bool
	ReembedTarget         string
	DisabledJobs          map[string]bool
	RunReform             bool
	LogLevel              string
	Port                  int
}

// FromEnv loads a Config from the process environment, applying the
// documented defaults for every optional field.
func FromEnv() (*Config, error) {
	databaseURL, err := requireEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	cookie, err := requireEnv("JOURNEY_SESSION_COOKIE")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:          databaseURL,
		JourneySessionCookie: cookie,
		SlackToken:           os.Getenv("SLACK_TOKEN"),
		MaxDBConnections:     intEnv("MAX_DB_CONNECTIONS", 50),
		FetchConcurrency:     intEnv("FETCH_CONCURRENCY", jobcore.FetchConcurrency()),
		EmbedConcurrency:     max(intEnv("EMBED_CONCURRENCY", jobcore.BaseConcurrency()), jobcore.BaseConcurrency()),
		EmbedBatchSize:       intEnv("EMBED_BATCH_SIZE", 32),
		DBEmbedConcurrency:   intEnv("DB_EMBED_CONCURRENCY", minInt(jobcore.BaseConcurrency(), 8)),
		DevMode:              boolEnv("DEV_MODE"),
		Wipe:                 boolEnv("WIPE"),
		MigrateOnly:          boolEnv("MIGRATE_ONLY"),
		ForceEmbeddingRegen:  os.Getenv("FORCE_EMBEDDING_REGEN") != "",
		ReembedTarget:        strings.ToLower(os.Getenv("REEMBED_TARGET")),
		DisabledJobs:         parseDisabledJobs(),
		RunReform:            boolEnv("RUN_REFORM"),
		LogLevel:             envOr("LOG_LEVEL", "info"),
		Port:                 intEnv("PORT", 8080),
	}

	return cfg, nil
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: %s not set", key)
	}
	return v, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolEnv(key string) bool {
	return strings.ToLower(os.Getenv(key)) == "true"
}

func parseDisabledJobs() map[string]bool {
	disabled := make(map[string]bool)
	raw := os.Getenv("DISABLE_JOBS")
	if raw == "" {
		return disabled
	}
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			disabled[name] = true
		}
	}
	return disabled
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
