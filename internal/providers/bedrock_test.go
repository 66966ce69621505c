package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/models"
	"aigateway/internal/registry"
)

func newBedrockTestAdapter(t *testing.T, handler http.HandlerFunc) *Bedrock {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	auth, err := NewSigV4Auth(models.AccessKeyPair{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, "bedrock", "us-east-1")
	require.NoError(t, err)

	p, err := NewBedrock(Settings{Vendor: registry.Bedrock, BaseURL: srv.URL, Region: "us-east-1", Auth: auth})
	require.NoError(t, err)
	return p
}

func writeEvent(t *testing.T, w http.ResponseWriter, eventType string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	var msg eventstream.Message
	msg.Headers.Set(":message-type", eventstream.StringValue("event"))
	msg.Headers.Set(":event-type", eventstream.StringValue(eventType))
	msg.Payload = body
	require.NoError(t, eventstream.NewEncoder().Encode(w, msg))
}

func TestBedrock_ChatSignsRequest(t *testing.T) {
	p := newBedrockTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model/anthropic.claude-3-haiku-20240307-v1:0/converse", r.URL.Path)
		assert.Contains(t, r.URL.RawPath+r.URL.EscapedPath(), "%3A")

		authz := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(authz, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), authz)
		assert.Contains(t, authz, "/us-east-1/bedrock/aws4_request")
		assert.NotEmpty(t, r.Header.Get("X-Amz-Date"))

		var body bedrockConverseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.System, 1)
		require.Len(t, body.Messages, 1)

		w.Write([]byte(`{"output":{"message":{"role":"assistant","content":[{"text":"pong"}]}},"stopReason":"end_turn","usage":{"inputTokens":4,"outputTokens":1,"totalTokens":5}}`))
	})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Model: "anthropic.claude-3-haiku-20240307-v1:0",
		Messages: []Message{
			{Role: "system", Content: "be short"},
			{Role: "user", Content: "ping"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 4, CompletionTokens: 1, TotalTokens: 5}, resp.Usage)
}

func TestBedrock_ChatStream(t *testing.T) {
	p := newBedrockTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/converse-stream"))
		w.Header().Set("Content-Type", "application/vnd.amazon.eventstream")

		writeEvent(t, w, "messageStart", map[string]string{"role": "assistant"})
		writeEvent(t, w, "contentBlockDelta", map[string]any{"delta": map[string]string{"text": "Hi"}})
		writeEvent(t, w, "contentBlockDelta", map[string]any{"delta": map[string]string{"text": "!"}})
		writeEvent(t, w, "messageStop", map[string]string{"stopReason": "end_turn"})
		writeEvent(t, w, "metadata", map[string]any{"usage": map[string]int{"inputTokens": 3, "outputTokens": 2, "totalTokens": 5}})
	})

	s, err := p.ChatStream(context.Background(), ChatRequest{Model: "amazon.nova-lite-v1:0", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	content, chunks := collect(t, s)
	assert.Equal(t, "Hi!", content)
	assert.Equal(t, "assistant", chunks[0].Role)

	last := chunks[len(chunks)-1]
	assert.Equal(t, "end_turn", last.FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 5, last.Usage.TotalTokens)
}

func TestBedrock_StreamException(t *testing.T) {
	p := newBedrockTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var msg eventstream.Message
		msg.Headers.Set(":message-type", eventstream.StringValue("exception"))
		msg.Headers.Set(":exception-type", eventstream.StringValue("throttlingException"))
		msg.Payload = []byte(`{"message":"Too many requests"}`)
		require.NoError(t, eventstream.NewEncoder().Encode(w, msg))
	})

	s, err := p.ChatStream(context.Background(), ChatRequest{Model: "amazon.nova-lite-v1:0", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Recv()
	ve, ok := AsVendorError(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimit, ve.Kind)
	assert.Contains(t, ve.Message, "Too many requests")
}

func TestBedrock_Embeddings(t *testing.T) {
	calls := 0
	p := newBedrockTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.True(t, strings.HasSuffix(r.URL.Path, "/invoke"))
		w.Write([]byte(`{"embedding":[0.5,0.25],"inputTextTokenCount":3}`))
	})

	resp, err := p.Embeddings(context.Background(), EmbeddingRequest{Model: "amazon.titan-embed-text-v2:0", Input: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, resp.Embeddings, 2)
	assert.Equal(t, 6, resp.Usage.PromptTokens)
}

func TestNewBedrock_RequiresRegion(t *testing.T) {
	_, err := NewBedrock(Settings{Vendor: registry.Bedrock})
	assert.Error(t, err)

	p, err := NewBedrock(Settings{Vendor: registry.Bedrock, Region: "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://bedrock-runtime.eu-west-1.amazonaws.com", p.baseURL)
}
