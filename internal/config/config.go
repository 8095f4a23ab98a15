// Package config loads runtime configuration from the environment,
// optionally seeded from a local .env file, and validates it fails fast at
// startup rather than surfacing missing credentials mid-request (spec §6
// "Environment variables").
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ModelProvider names which provider's credential the runtime resolved.
type ModelProvider string

const (
	ProviderAnthropic ModelProvider = "anthropic"
	ProviderOpenAI    ModelProvider = "openai"
)

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	ModelProvider  ModelProvider
	AnthropicKey   string
	OpenAIKey      string
	ModelName      string
	CheckpointDSN  string
	BlobBucket     string
	BlobRegion     string
	BlobEndpoint   string
	HTTPAddr       string
	CompactionThreshold int
	RecursionBound      int
	Datasources         map[string]DatasourceConfig
}

// DatasourceConfig carries the per-datasource credential pair referenced by
// spec §6 as DATASOURCE_<NAME>_DSN / DATASOURCE_<NAME>_TOKEN.
type DatasourceConfig struct {
	Name  string
	DSN   string
	Token string
}

// Load reads environment variables (after loading a .env file if present)
// and validates required ones, returning a Configuration error (spec §7)
// that the caller should treat as startup-fatal.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		AnthropicKey:        os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		ModelName:           envOrDefault("MODEL_NAME", ""),
		CheckpointDSN:       os.Getenv("CHECKPOINT_STORE_DSN"),
		BlobBucket:          os.Getenv("BLOB_BUCKET"),
		BlobRegion:          envOrDefault("BLOB_REGION", "us-east-1"),
		BlobEndpoint:        os.Getenv("BLOB_ENDPOINT"),
		HTTPAddr:            envOrDefault("HTTP_ADDR", ":8080"),
		CompactionThreshold: envOrDefaultInt("COMPACTION_THRESHOLD", 15000),
		RecursionBound:      envOrDefaultInt("RECURSION_BOUND", 50),
	}

	switch {
	case cfg.AnthropicKey != "":
		cfg.ModelProvider = ProviderAnthropic
	case cfg.OpenAIKey != "":
		cfg.ModelProvider = ProviderOpenAI
	default:
		return nil, fmt.Errorf("config: one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}

	if cfg.CheckpointDSN == "" {
		return nil, fmt.Errorf("config: CHECKPOINT_STORE_DSN is required (use memory:// for the in-memory backend)")
	}
	if cfg.BlobBucket == "" {
		return nil, fmt.Errorf("config: BLOB_BUCKET is required")
	}

	cfg.Datasources = loadDatasources()
	return cfg, nil
}

func loadDotEnv() {
	candidates := []string{".env"}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, cwd+"/.env")
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				log.Printf("config: failed to load %s: %v", p, err)
			}
			return
		}
	}
}

// loadDatasources scans the environment for DATASOURCE_<NAME>_DSN /
// DATASOURCE_<NAME>_TOKEN pairs (spec §6).
func loadDatasources() map[string]DatasourceConfig {
	out := make(map[string]DatasourceConfig)
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "DATASOURCE_") {
			continue
		}
		rest := strings.TrimPrefix(key, "DATASOURCE_")
		name, field, ok := cutSuffixField(rest)
		if !ok {
			continue
		}
		entry := out[name]
		entry.Name = name
		switch field {
		case "DSN":
			entry.DSN = os.Getenv(key)
		case "TOKEN":
			entry.Token = os.Getenv(key)
		default:
			continue
		}
		out[name] = entry
	}
	return out
}

func cutSuffixField(rest string) (name, field string, ok bool) {
	for _, suffix := range []string{"DSN", "TOKEN"} {
		if strings.HasSuffix(rest, "_"+suffix) {
			return strings.TrimSuffix(rest, "_"+suffix), suffix, true
		}
	}
	return "", "", false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
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
