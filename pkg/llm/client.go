// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/pkg/breaker"
	"rag-tenant-go/pkg/log"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// MessageWriter defines an interface for writing WebSocket messages.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Generator 是生成后端的最小接口：一次提示，一次回复。
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client defines the interface for an LLM client.
type Client interface {
	Generator
	// Stream 将回复分块写入 writer，并返回完整回复。
	Stream(ctx context.Context, prompt string, writer MessageWriter) (string, error)
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
	cb     *gobreaker.CircuitBreaker
}

// NewClient creates a new OpenAI-compatible chat client.
func NewClient(cfg config.LLMConfig, breakerCfg config.BreakerConfig) Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		cb:     breaker.New("llm", breakerCfg),
	}
}

func (c *openAIClient) request(prompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(c.cfg.Generation.Temperature),
		TopP:        float32(c.cfg.Generation.TopP),
		MaxTokens:   c.cfg.Generation.MaxTokens,
		Stream:      stream,
	}
}

// Generate 发送单轮提示并返回完整回复。
func (c *openAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := breaker.Do(c.cb, func() (openai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, c.request(prompt, false))
	})
	if err != nil {
		logCallError("调用 chat api 失败", err)
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream 以流式方式生成回复，每个增量作为一条 websocket 文本消息写出。
func (c *openAIClient) Stream(ctx context.Context, prompt string, writer MessageWriter) (string, error) {
	stream, err := breaker.Do(c.cb, func() (*openai.ChatCompletionStream, error) {
		return c.client.CreateChatCompletionStream(ctx, c.request(prompt, true))
	})
	if err != nil {
		logCallError("打开流式会话失败", err)
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return answer.String(), fmt.Errorf("failed to read from stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		answer.WriteString(content)
		if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
			return answer.String(), fmt.Errorf("failed to write message to websocket: %w", err)
		}
	}
	return answer.String(), nil
}

func logCallError(msg string, err error) {
	if errors.Is(err, breaker.ErrOpen) {
		log.Warnf("[LLMClient] 熔断中, 跳过调用: %v", err)
		return
	}
	log.Errorf("[LLMClient] %s: %v", msg, err)
}
