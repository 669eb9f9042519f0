package service

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/factcorpus/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultJinaBaseURL = "https://api.jina.ai/v1"
)

// Embedder turns chunk texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// NewEmbedder builds the embedder selected by cfg.Provider.
// Parameters:
//   - cfg: embedding provider settings.
// Returns:
//   - Embedder: jina (default) or openai-compatible embedder.
//   - error: non-nil for unknown providers or client setup failure.
func NewEmbedder(cfg *config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "jina":
		return NewEmbeddingService(cfg), nil
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// EmbeddingService calls a Jina-compatible embeddings endpoint.
type EmbeddingService struct {
	client     *resty.Client
	baseURL    string
	model      string
	dimensions int
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg *config.EmbeddingConfig) *EmbeddingService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultJinaBaseURL
	}

	return &EmbeddingService{
		client:     client,
		baseURL:    baseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Dimensions returns the configured vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// EmbedBatch generates passage embeddings for texts, preserving order.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := jinaRequest{
		Model:         s.model,
		Task:          "retrieval.passage",
		Dimensions:    s.dimensions,
		Input:         texts,
		EmbeddingType: "float",
	}

	var resp jinaResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.baseURL + "/embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embedding API error: status %d: %s", httpResp.StatusCode(), resp.Detail)
		}
		return nil, fmt.Errorf("embedding API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	return embeddings, nil
}

// OpenAIEmbedder embeds through any OpenAI-compatible API.
type OpenAIEmbedder struct {
	embedder   embeddings.Embedder
	dimensions int
}

// NewOpenAIEmbedder creates an embedder backed by an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg *config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(cmp.Or(cfg.APIKey, "none")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(max(cfg.BatchSize, 1)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &OpenAIEmbedder{embedder: embedder, dimensions: cfg.Dimensions}, nil
}

// EmbedBatch generates embeddings for texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding API error: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(vectors), len(texts))
	}
	return vectors, nil
}

// Dimensions returns the configured vector size.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

