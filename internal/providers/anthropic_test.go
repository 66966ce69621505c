package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/registry"
)

func TestAnthropic_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be brief", body.System)
		assert.Equal(t, anthropicMaxTokens, body.MaxTokens)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)

		w.Write([]byte(`{"id":"msg_1","model":"claude-sonnet-4","role":"assistant","stop_reason":"end_turn","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"usage":{"input_tokens":10,"output_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewAnthropic(Settings{Vendor: registry.Anthropic, BaseURL: srv.URL + "/v1", Auth: NewAPIKeyAuth("key-1", "x-api-key", "")})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model: "claude-sonnet-4",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, resp.Usage)
}

func TestAnthropic_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":7}}}\n\n")
		fmt.Fprint(w, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Good\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" day\"}}\n\n")
		fmt.Fprint(w, "event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	p := NewAnthropic(Settings{Vendor: registry.Anthropic, BaseURL: srv.URL})
	s, err := p.ChatStream(context.Background(), ChatRequest{Model: "claude-sonnet-4", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	content, chunks := collect(t, s)
	assert.Equal(t, "Good day", content)
	assert.Equal(t, "assistant", chunks[0].Role)

	last := chunks[len(chunks)-1]
	assert.Equal(t, "end_turn", last.FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, Usage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9}, *last.Usage)
}

func TestAnthropic_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	p := NewAnthropic(Settings{Vendor: registry.Anthropic, BaseURL: srv.URL})
	s, err := p.ChatStream(context.Background(), ChatRequest{Model: "claude-sonnet-4", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Recv()
	ve, ok := AsVendorError(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimit, ve.Kind)
	assert.Equal(t, "Overloaded", ve.Message)
}

func TestAnthropic_UnsupportedOperations(t *testing.T) {
	p := NewAnthropic(Settings{Vendor: registry.Anthropic})

	_, err := p.Embeddings(context.Background(), EmbeddingRequest{Model: "claude", Input: []string{"x"}})
	ve, ok := AsVendorError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnsupported, ve.Kind)
	assert.True(t, ve.Retryable())

	_, err = p.Images(context.Background(), ImageRequest{Model: "claude", Prompt: "x"})
	assert.Error(t, err)
	_, err = p.Video(context.Background(), VideoRequest{Model: "claude", Prompt: "x"})
	assert.Error(t, err)
}
