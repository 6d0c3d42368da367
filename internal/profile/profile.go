package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol)
	AIEmbeddingProvider   string // Provider identifier: openai, siliconflow, ollama
	AIEmbeddingAPIKey     string
	AIEmbeddingBaseURL    string // Optional, has default per provider
	AIEmbeddingModel      string
	AIEmbeddingDimensions int
	AIEmbeddingTimeout    int     // Per-call timeout in seconds (default: 30)
	AIEmbeddingRPS        float64 // Rate limit for embedding calls (default: 5)

	// Index configuration
	IndexDir string // Directory holding the persisted index pair

	// Other configurations
	Mode    string
	Addr    string
	Data    string
	Driver  string
	DSN     string
	Version string
	Port    int

	AIEnabled bool
}

// Provider default configurations for embeddings.
// Used when TRIPSENSE_AI_EMBEDDING_BASE_URL is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
	Dims    int
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
		Dims:    1536,
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
		Dims:    1024,
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
		Dims:    768,
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if the embedding API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEmbeddingAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.AIEmbeddingProvider = getEnvOrDefault("TRIPSENSE_AI_EMBEDDING_PROVIDER", "openai")
	p.AIEmbeddingAPIKey = getEnvOrDefault("TRIPSENSE_AI_EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY"))
	p.AIEmbeddingBaseURL = getEnvOrDefault("TRIPSENSE_AI_EMBEDDING_BASE_URL", "")
	p.AIEmbeddingModel = getEnvOrDefault("TRIPSENSE_AI_EMBEDDING_MODEL", "")
	p.AIEmbeddingDimensions = getEnvOrDefaultInt("TRIPSENSE_AI_EMBEDDING_DIMENSIONS", 0)
	p.AIEmbeddingTimeout = getEnvOrDefaultInt("TRIPSENSE_AI_EMBEDDING_TIMEOUT_SECONDS", 30)
	p.AIEmbeddingRPS = getEnvOrDefaultFloat("TRIPSENSE_AI_EMBEDDING_RPS", 5)

	p.IndexDir = getEnvOrDefault("TRIPSENSE_INDEX_DIR", "")

	// AI is enabled if an API key is configured
	p.AIEnabled = p.AIEmbeddingAPIKey != ""

	// Validate and apply provider defaults if not explicitly set
	if _, ok := embeddingProviderDefaults[p.AIEmbeddingProvider]; !ok {
		slog.Warn("Unknown embedding provider, using default: openai", "provider", p.AIEmbeddingProvider)
		p.AIEmbeddingProvider = "openai"
	}
	defaults := embeddingProviderDefaults[p.AIEmbeddingProvider]
	if p.AIEmbeddingBaseURL == "" {
		p.AIEmbeddingBaseURL = defaults.BaseURL
	}
	if p.AIEmbeddingModel == "" {
		p.AIEmbeddingModel = defaults.Model
	}
	if p.AIEmbeddingDimensions <= 0 {
		p.AIEmbeddingDimensions = defaults.Dims
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "tripsense")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/tripsense"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("tripsense_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.IndexDir == "" {
		p.IndexDir = filepath.Join(dataDir, "indexes")
	}
	if err := os.MkdirAll(p.IndexDir, 0770); err != nil {
		return errors.Wrapf(err, "unable to create index directory %s", p.IndexDir)
	}

	return nil
}
