// Package llmclient talks to an LLM backend. The Ollama realization uses
// raw net/http against the local server's chat endpoint; there is no SDK
// worth the dependency for a two-endpoint protocol.
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"qaforge/internal/model"
)

// Request mirrors llm/types.go's Request: a conversation plus generation
// parameters.
type Request struct {
	Messages    []model.Message
	Temperature float64
	MaxTokens   int
	Options     map[string]any
}

// Response mirrors llm/types.go's Response.
type Response struct {
	Content    string
	Model      string
	TokensUsed int
}

// Client is the full client surface (Generate/GetModel/GetProvider/
// IsAvailable); Chat is the narrow operation gates.ReviewRunner drives,
// implemented in terms of Generate.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	GetModel() string
	GetProvider() string
	IsAvailable(ctx context.Context) bool
	Chat(ctx context.Context, messages []model.Message) (string, error)
}

// Config mirrors llm/types.go's Config.
type Config struct {
	Provider    string
	Model       string
	Temperature float64
	BaseURL     string
	KeepAlive   bool
	IdleTimeout int
}

// OllamaClient implements Client against a local Ollama server.
type OllamaClient struct {
	model       string
	temperature float64
	baseURL     string
	http        *http.Client
}

// NewOllamaClient constructs an OllamaClient. An empty BaseURL defaults
// to Ollama's standard local port.
func NewOllamaClient(cfg Config) *OllamaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		baseURL:     baseURL,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

type chatRequestBody struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
	Stream   bool            `json:"stream"`
}

type chatStreamChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Generate sends the conversation to Ollama's /api/chat endpoint and
// accumulates the streamed response, following AskWithMessages's
// line-delimited-JSON reading loop.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(chatRequestBody{Model: c.model, Messages: req.Messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Streaming responses can run long; no fixed client timeout, bounded
	// only by ctx, mirroring AskWithMessages's dedicated streaming client.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama generation error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(b))
	}

	var content bytes.Buffer
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var chunk chatStreamChunk
			if json.Unmarshal(line, &chunk) == nil {
				content.WriteString(chunk.Message.Content)
				if chunk.Done {
					break
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ollama stream: %w", err)
		}
	}

	return &Response{Content: content.String(), Model: c.model}, nil
}

// Chat implements the narrow conversational interface in terms of
// Generate, satisfying gates.LLMClient by signature.
func (c *OllamaClient) Chat(ctx context.Context, messages []model.Message) (string, error) {
	resp, err := c.Generate(ctx, Request{Messages: messages})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string { return c.model }

// GetProvider identifies this client's backend.
func (c *OllamaClient) GetProvider() string { return "ollama" }

// IsAvailable pings Ollama's tag-listing endpoint, mirroring
// a cheap version probe.
func (c *OllamaClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
