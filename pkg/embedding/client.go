// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/pkg/breaker"
	"rag-tenant-go/pkg/log"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	// Dimensions 返回向量维度，用于创建集合。
	Dimensions() int
	Model() string
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *openai.Client
	cb     *gobreaker.CircuitBreaker
}

// NewClient creates an OpenAI-compatible embedding client guarded by a circuit breaker.
func NewClient(cfg config.EmbeddingConfig, breakerCfg config.BreakerConfig) Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		cb:     breaker.New("embedding", breakerCfg),
	}
}

func (c *openAICompatibleClient) Dimensions() int { return c.cfg.Dimensions }

func (c *openAICompatibleClient) Model() string { return c.cfg.Model }

// CreateEmbedding calls the embeddings endpoint for a single text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}
	log.Debugf("[EmbeddingClient] 开始调用 Embedding API, model: %s, input_len: %d", c.cfg.Model, len(text))

	resp, err := breaker.Do(c.cb, func() (openai.EmbeddingResponse, error) {
		return c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(c.cfg.Model),
			Input:      []string{text},
			Dimensions: c.cfg.Dimensions,
		})
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			log.Warnf("[EmbeddingClient] 熔断中, 跳过调用: %v", err)
		} else {
			log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		}
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("received empty embedding from api")
	}
	return resp.Data[0].Embedding, nil
}
