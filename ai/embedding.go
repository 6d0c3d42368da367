package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/tripsense/ai/cache"
	"github.com/hrygo/tripsense/ai/metrics"
)

// Sentinel errors for the embedding gateway contract.
var (
	// ErrEmbeddingUnavailable marks transport or provider failures, including
	// timeouts. Callers must not retry internally beyond the bounded timeout
	// already applied here.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrInputTooLarge marks input exceeding the safe character budget.
	// The gateway truncates before dispatch, so this is only returned when
	// truncation is disabled (MaxInputChars <= 0 means no budget).
	ErrInputTooLarge = errors.New("embedding input too large")
)

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

type embeddingService struct {
	client  *openai.Client
	limiter *rate.Limiter
	metrics *metrics.Registry
	cfg     EmbeddingConfig
}

// NewEmbeddingService creates an EmbeddingService over any OpenAI-compatible
// provider (openai, siliconflow, ollama). A nil metrics registry disables
// metric recording.
func NewEmbeddingService(cfg EmbeddingConfig, m *metrics.Registry) (EmbeddingService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding api key required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", cfg.Dimensions)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &embeddingService{
		client:  openai.NewClientWithConfig(clientConfig),
		limiter: limiter,
		metrics: m,
		cfg:     cfg,
	}, nil
}

func (s *embeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty embedding result", ErrEmbeddingUnavailable)
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		truncated, err := truncateInput(t, s.cfg.MaxInputChars)
		if err != nil {
			return nil, err
		}
		inputs[i] = truncated
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      openai.EmbeddingModel(s.cfg.Model),
		Dimensions: s.cfg.Dimensions,
	})
	s.metrics.ObserveEmbedding(time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrEmbeddingUnavailable)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (s *embeddingService) Dimensions() int {
	return s.cfg.Dimensions
}

// defaultMaxInputChars is the fallback safe character budget.
const defaultMaxInputChars = 8000

// truncateInput enforces the safe character budget. With a positive budget
// the input is clipped; without one, over-long input is rejected.
func truncateInput(text string, maxChars int) (string, error) {
	runes := []rune(text)
	if maxChars <= 0 {
		if len(runes) > defaultMaxInputChars {
			return "", fmt.Errorf("%w: %d chars", ErrInputTooLarge, len(runes))
		}
		return text, nil
	}
	if len(runes) > maxChars {
		return string(runes[:maxChars]), nil
	}
	return text, nil
}

// CachedEmbeddingService wraps an EmbeddingService with a bounded exact-match
// LRU cache for single-text embeddings. Cache keys are the exact (already
// truncated) input text, so a hit is content-identical to a fresh embedding
// by construction. Batch calls bypass the cache: they only occur during
// rebuilds where inputs are unique.
type CachedEmbeddingService struct {
	inner   EmbeddingService
	cache   *cache.LRUCache[string, []float32]
	metrics *metrics.Registry
}

// NewCachedEmbeddingService creates the caching wrapper.
func NewCachedEmbeddingService(inner EmbeddingService, capacity int, ttl time.Duration, m *metrics.Registry) *CachedEmbeddingService {
	return &CachedEmbeddingService{
		inner:   inner,
		cache:   cache.NewLRUCache[string, []float32](capacity, ttl),
		metrics: m,
	}
}

func (s *CachedEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.cache.Get(text); ok {
		s.metrics.IncEmbeddingCache(true)
		return vec, nil
	}
	s.metrics.IncEmbeddingCache(false)

	vec, err := s.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithDefaultTTL(text, vec)
	return vec, nil
}

func (s *CachedEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return s.inner.EmbedBatch(ctx, texts)
}

func (s *CachedEmbeddingService) Dimensions() int {
	return s.inner.Dimensions()
}
