package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/cloo-solutions/carecontext/internal/config"
	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/gemini"
	"github.com/cloo-solutions/carecontext/internal/logging"
	"github.com/cloo-solutions/carecontext/internal/openai"
)

var (
	ErrEmptyText = domain.NewDomainError(domain.ErrCodeValidation, "text to embed cannot be empty")
	ErrMalformed = errors.New("malformed embedding")
)

// Embedder is a provider-specific embedding client.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
}

// Gateway is the single embedding entry point shared by ingestion and
// retrieval. It is safe for concurrent use and immutable after construction.
type Gateway struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewGateway wraps e. A non-positive cache size or TTL disables caching.
func NewGateway(e Embedder, opts Options) *Gateway {
	g := &Gateway{next: e}
	if opts.CacheSize > 0 && opts.CacheTTL > 0 {
		g.cache = expirable.NewLRU[string, []float32](opts.CacheSize, nil, opts.CacheTTL)
	}
	return g
}

// New selects the provider named in cfg and wraps it in a Gateway.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	var e Embedder
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		gc, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:              cfg.GeminiAPIKey,
			EmbeddingModel:      cfg.EmbeddingModel,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, err
		}
		e = gc
	case config.ProviderOpenAI:
		e = openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      cfg.EmbeddingModel,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	return NewGateway(e, Options{CacheSize: cfg.EmbedCacheSize, CacheTTL: cfg.EmbedCacheTTL}), nil
}

func (g *Gateway) Model() string {
	return g.next.Model()
}

func (g *Gateway) Dimensions() int {
	return g.next.Dimensions()
}

// Embed converts text to a vector. Any backend failure or malformed output
// is reported as EMBEDDING_UNAVAILABLE; no fallback vector is ever returned.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	key := cacheKey(g.next.Model(), text)
	if g.cache != nil {
		if cached, ok := g.cache.Get(key); ok {
			logging.GetLogger(ctx).Debug("embedding cache hit", zap.String("model", g.next.Model()))
			return cloneEmbedding(cached), nil
		}
	}

	vec, err := g.next.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, domain.EmbeddingUnavailable(err)
	}
	if err := validateVector(vec, g.next.Dimensions()); err != nil {
		return nil, domain.EmbeddingUnavailable(err)
	}

	if g.cache != nil {
		g.cache.Add(key, cloneEmbedding(vec))
	}
	return vec, nil
}

func validateVector(vec []float32, dims int) error {
	if len(vec) != dims {
		return fmt.Errorf("%w: got %d dimensions, expected %d", ErrMalformed, len(vec), dims)
	}
	var norm float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", ErrMalformed)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", ErrMalformed)
	}
	return nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + model + ":" + hex.EncodeToString(sum[:])
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
