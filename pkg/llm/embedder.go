// Package llm provides the OpenAI-compatible embedding client used to rank
// card search results.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/logging"
	"github.com/uralreduktor/seny/pkg/retry"
)

// Embedder turns text into a semantic vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds configuration for the embedding client.
type Config struct {
	Endpoint   string // Base URL; empty uses the OpenAI default
	Model      string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Breaker    BreakerConfig
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retry   *retry.Config
	breaker *Breaker
	logger  *zap.Logger
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for cfg.
func NewOpenAIEmbedder(cfg *Config, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries >= 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   retryCfg,
		breaker: NewBreaker(cfg.Breaker),
		logger:  logger.Named("embedder"),
	}, nil
}

// Embed returns the embedding of text. Transient failures are retried;
// every failure is returned as *EmbeddingError. While the breaker is open
// Embed fails immediately with ErrorKindUnavailable.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.breaker.Allow(); err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vector, err := retry.DoWithResult(ctx, e.retry, func() ([]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: []string{text},
		})
		if err != nil {
			return nil, ClassifyError(err, e.model)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, &EmbeddingError{Kind: ErrorKindEmpty, Message: "no embedding in response", Model: e.model}
		}
		return resp.Data[0].Embedding, nil
	})
	e.breaker.Record(err)
	if err != nil {
		embErr := ClassifyError(err, e.model)
		e.logger.Warn("Embedding request failed",
			zap.String("kind", string(embErr.Kind)),
			zap.Bool("retryable", embErr.Retryable),
			zap.String("error", logging.SanitizeError(err)))
		return nil, embErr
	}
	return vector, nil
}

// DisabledEmbedder is used when no embedding endpoint is configured.
type DisabledEmbedder struct{}

var _ Embedder = DisabledEmbedder{}

// Embed always fails with ErrorKindDisabled.
func (DisabledEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, &EmbeddingError{Kind: ErrorKindDisabled, Message: "semantic search is not configured"}
}
