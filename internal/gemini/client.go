package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const (
	DefaultEmbeddingModel      = "text-embedding-004"
	DefaultEmbeddingDimensions = 768

	// Task type used for both documents and queries so the vector space is shared.
	taskTypeSimilarity = "SEMANTIC_SIMILARITY"
)

var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	ErrNoEmbedding     = errors.New("gemini returned empty embedding")
	ErrNoAPIKey        = errors.New("gemini api key is required")
)

// EmbedAPI is the subset of the genai models service used for embeddings.
type EmbedAPI interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client generates embeddings through the Gemini API. It holds one genai
// client for the life of the process.
type Client struct {
	api        EmbedAPI
	model      string
	dimensions int
}

type Config struct {
	APIKey              string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// NewClient connects to the Gemini API.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newClient(gc.Models, cfg), nil
}

func newClient(api EmbedAPI, cfg Config) *Client {
	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dims := cfg.EmbeddingDimensions
	if dims <= 0 {
		dims = DefaultEmbeddingDimensions
	}
	return &Client{api: api, model: model, dimensions: dims}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding embeds a single text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	dims := int32(c.dimensions)
	resp, err := c.api.EmbedContent(
		ctx,
		c.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		&genai.EmbedContentConfig{
			TaskType:             taskTypeSimilarity,
			OutputDimensionality: &dims,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, ErrNoEmbedding
	}

	values := resp.Embeddings[0].Values
	if len(values) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrWrongDimensions, len(values), c.dimensions)
	}
	return values, nil
}
