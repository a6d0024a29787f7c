package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/sieve/llm"
	_ "github.com/c360studio/sieve/llm/providers" // register adapters
)

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-123",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func testConfig(url string) *llm.ProviderConfig {
	return &llm.ProviderConfig{
		Name:     "test",
		Provider: "ollama",
		URL:      url,
		Model:    "test-model",
		Enabled:  true,
	}
}

func TestClientCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion("Hello! How can I help you?"))
	}))
	defer server.Close()

	client := llm.NewClient()
	resp, err := client.Complete(context.Background(), testConfig(server.URL), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help you?", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestClientCompleteRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion("recovered"))
	}))
	defer server.Close()

	client := llm.NewClient(llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        10 * time.Millisecond,
	}))

	resp, err := client.Complete(context.Background(), testConfig(server.URL), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientCompleteFatalNoRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := llm.NewClient(llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        10 * time.Millisecond,
	}))

	_, err := client.Complete(context.Background(), testConfig(server.URL), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load(), "fatal errors must not be retried")
}

func TestClientCompleteTransientExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := llm.NewClient(llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        10 * time.Millisecond,
	}))

	_, err := client.Complete(context.Background(), testConfig(server.URL), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func TestClientCompleteDisabledConfig(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.Enabled = false

	client := llm.NewClient()
	_, err := client.Complete(context.Background(), cfg, llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestClientCompleteContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := llm.NewClient()
	_, err := client.Complete(ctx, testConfig(server.URL), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
}
