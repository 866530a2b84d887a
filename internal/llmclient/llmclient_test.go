package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"qaforge/internal/model"
)

func TestOllamaClient_Chat_AccumulatesStreamedChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"message":{"content":"hello "},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"content":"world"},"done":true}` + "\n"))
	}))
	defer server.Close()

	c := NewOllamaClient(Config{Model: "test-model", BaseURL: server.URL})
	content, err := c.Chat(context.Background(), []model.Message{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestOllamaClient_Generate_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	c := NewOllamaClient(Config{Model: "test-model", BaseURL: server.URL})
	_, err := c.Generate(context.Background(), Request{Messages: []model.Message{{Role: "user", Content: "hi"}}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestOllamaClient_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewOllamaClient(Config{Model: "test-model", BaseURL: server.URL})
	assert.True(t, c.IsAvailable(context.Background()))
}

func TestOllamaClient_IsAvailable_Unreachable(t *testing.T) {
	c := NewOllamaClient(Config{Model: "test-model", BaseURL: "http://127.0.0.1:1"})
	assert.False(t, c.IsAvailable(context.Background()))
}

func TestOllamaClient_GetModelAndProvider(t *testing.T) {
	c := NewOllamaClient(Config{Model: "llama3"})
	assert.Equal(t, "llama3", c.GetModel())
	assert.Equal(t, "ollama", c.GetProvider())
}
