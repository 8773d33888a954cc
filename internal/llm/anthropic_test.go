package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adambossy/tally/internal/common"
)

func TestNewAnthropicClient(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  Config{APIKey: "test-key"},
			wantErr: false,
		},
		{
			name:    "missing API key",
			config:  Config{APIKey: ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := newAnthropicClient(tt.config)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, client)
			}
		})
	}
}

func anthropicMessageReply(text string) map[string]any {
	return map[string]any{
		"id":    "msg-test",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-3-5-haiku-20241022",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
	}
}

func TestAnthropicClient_ClassifyBatch(t *testing.T) {
	t.Run("parses successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

			text := `{"results": [{"index": 0, "category_key": "food.groceries", "confidence": 0.9, "rationale": "supermarket", "revised_category_key": "food.restaurants", "revised_confidence": 0.95}]}`
			require.NoError(t, json.NewEncoder(w).Encode(anthropicMessageReply(text)))
		}))
		defer server.Close()

		client, err := newAnthropicClient(Config{APIKey: "test-key"})
		require.NoError(t, err)
		client.baseURL = server.URL

		resp, err := client.ClassifyBatch(context.Background(), "classify this")
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "food.groceries", resp.Results[0].CategoryKey)
		assert.Equal(t, "food.restaurants", resp.Results[0].RevisedCategoryKey)
		assert.InDelta(t, 0.95, resp.Results[0].RevisedConfidence, 0.001)
	})

	t.Run("maps 429 to rate limit error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client, err := newAnthropicClient(Config{APIKey: "test-key"})
		require.NoError(t, err)
		client.baseURL = server.URL

		_, err = client.ClassifyBatch(context.Background(), "classify this")
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrRateLimit))
	})

	t.Run("rejects empty content", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"content": []any{}}))
		}))
		defer server.Close()

		client, err := newAnthropicClient(Config{APIKey: "test-key"})
		require.NoError(t, err)
		client.baseURL = server.URL

		_, err = client.ClassifyBatch(context.Background(), "classify this")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no content in response")
	})
}
