package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/registry"
)

func newOpenAITestAdapter(t *testing.T, handler http.HandlerFunc) *OpenAICompatible {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOpenAICompatible(Settings{Vendor: registry.OpenAI, BaseURL: srv.URL + "/v1", Auth: NewBearerAuth("sk-test")})
	require.NoError(t, err)
	return p
}

func TestOpenAICompatible_Chat(t *testing.T) {
	p := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])
		assert.EqualValues(t, 64, body["max_tokens"])
		assert.Nil(t, body["stream"])

		w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	})

	maxTokens := 64
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:     "gpt-4o",
		Messages:  []Message{{Role: "user", Content: "hi"}},
		MaxTokens: &maxTokens,
	})
	require.NoError(t, err)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, resp.Usage)
}

func TestOpenAICompatible_ChatStream(t *testing.T) {
	p := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	s, err := p.ChatStream(context.Background(), ChatRequest{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	content, chunks := collect(t, s)
	assert.Equal(t, "Hello", content)
	assert.Equal(t, "assistant", chunks[0].Role)
	require.NotNil(t, lastUsage(chunks))
	assert.Equal(t, Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, *lastUsage(chunks))
}

func TestOpenAICompatible_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		kind      ErrorKind
		retryable bool
		disables  bool
	}{
		{http.StatusUnauthorized, `{"error":"bad key"}`, KindAuth, true, true},
		{http.StatusTooManyRequests, `{"error":"slow down"}`, KindRateLimit, true, false},
		{http.StatusTooManyRequests, `{"error":{"code":"insufficient_quota"}}`, KindQuota, true, true},
		{http.StatusInternalServerError, `oops`, KindServer, true, false},
		{http.StatusBadRequest, `{"error":"bad input"}`, KindBadRequest, false, false},
		{http.StatusNotFound, `{"error":"no such model"}`, KindBadRequest, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.kind), func(t *testing.T) {
			p := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := p.Chat(context.Background(), ChatRequest{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
			ve, ok := AsVendorError(err)
			require.True(t, ok, "expected VendorError, got %v", err)
			assert.Equal(t, tt.status, ve.Status)
			assert.Equal(t, tt.kind, ve.Kind)
			assert.Equal(t, tt.retryable, ve.Retryable())
			assert.Equal(t, tt.disables, ve.DisablesCredential())
		})
	}
}

func TestOpenAICompatible_Timeout(t *testing.T) {
	p := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Chat(ctx, ChatRequest{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
	ve, ok := AsVendorError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, ve.Kind)
	assert.True(t, ve.Retryable())
}

func TestOpenAICompatible_Embeddings(t *testing.T) {
	p := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Write([]byte(`{"model":"text-embedding-3-small","data":[{"index":1,"embedding":[0.3]},{"index":0,"embedding":[0.1,0.2]}],"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	})

	resp, err := p.Embeddings(context.Background(), EmbeddingRequest{Model: "text-embedding-3-small", Input: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1, 0.2}, {0.3}}, resp.Embeddings)
	assert.Equal(t, 4, resp.Usage.PromptTokens)
}

func TestOpenAICompatible_Images(t *testing.T) {
	p := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 2, body["n"])
		assert.Equal(t, "1024x1024", body["size"])
		w.Write([]byte(`{"data":[{"url":"https://img/1"},{"url":"https://img/2"}]}`))
	})

	resp, err := p.Images(context.Background(), ImageRequest{Model: "dall-e-3", Prompt: "a cat", N: 2, Size: "1024x1024"})
	require.NoError(t, err)
	require.Len(t, resp.Images, 2)
	assert.Equal(t, "https://img/1", resp.Images[0].URL)
}

func TestOpenAICompatible_Video(t *testing.T) {
	p := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/videos", r.URL.Path)
		w.Write([]byte(`{"id":"video_1","model":"sora-2","status":"queued","seconds":"8"}`))
	})

	resp, err := p.Video(context.Background(), VideoRequest{Model: "sora-2", Prompt: "waves", Seconds: 4})
	require.NoError(t, err)
	assert.Equal(t, "video_1", resp.ID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 8, resp.Seconds)
}

func TestNewOpenAICompatible_DefaultBaseURL(t *testing.T) {
	p, err := NewOpenAICompatible(Settings{Vendor: registry.DeepSeek})
	require.NoError(t, err)
	assert.Equal(t, "https://api.deepseek.com/v1", p.baseURL)

	_, err = NewOpenAICompatible(Settings{Vendor: registry.Vendor("nobody")})
	assert.Error(t, err)
}
