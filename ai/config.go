// Package ai provides the embedding gateway consumed by the retrieval core.
package ai

import (
	"time"

	"github.com/hrygo/tripsense/internal/profile"
)

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int

	// Timeout bounds every embedding call. A timed-out call is treated the
	// same as a provider failure.
	Timeout time.Duration

	// MaxInputChars is the safe character budget; longer input is truncated
	// before the request is dispatched.
	MaxInputChars int

	// RequestsPerSecond rate-limits outbound embedding calls. Zero disables
	// the limiter.
	RequestsPerSecond float64
}

// DefaultEmbeddingConfig returns the default embedding configuration.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:      "openai",
		Model:         "text-embedding-3-small",
		Dimensions:    1536,
		Timeout:       30 * time.Second,
		MaxInputChars: 8000,
	}
}

// NewEmbeddingConfigFromProfile creates an embedding config from the profile.
func NewEmbeddingConfigFromProfile(p *profile.Profile) EmbeddingConfig {
	cfg := DefaultEmbeddingConfig()
	cfg.Provider = p.AIEmbeddingProvider
	cfg.Model = p.AIEmbeddingModel
	cfg.APIKey = p.AIEmbeddingAPIKey
	cfg.BaseURL = p.AIEmbeddingBaseURL
	if p.AIEmbeddingDimensions > 0 {
		cfg.Dimensions = p.AIEmbeddingDimensions
	}
	if p.AIEmbeddingTimeout > 0 {
		cfg.Timeout = time.Duration(p.AIEmbeddingTimeout) * time.Second
	}
	cfg.RequestsPerSecond = p.AIEmbeddingRPS
	return cfg
}
