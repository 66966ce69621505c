package providers

import (
	"context"
	"encoding/json"
	"strings"

	"aigateway/internal/registry"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// Anthropic talks to the Messages API.
type Anthropic struct {
	http    httpCaller
	baseURL string
}

var _ Adapter = (*Anthropic)(nil)

// NewAnthropic creates an Anthropic adapter
func NewAnthropic(s Settings) *Anthropic {
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	headers := map[string]string{"anthropic-version": anthropicVersion}
	for k, v := range s.Headers {
		headers[k] = v
	}
	s.Headers = headers
	return &Anthropic{http: httpCaller{settings: s}, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *Anthropic) Vendor() registry.Vendor {
	return registry.Anthropic
}

type anthropicRequest struct {
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	Role       string `json:"role"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

func (p *Anthropic) build(req ChatRequest, stream bool) anthropicRequest {
	r := anthropicRequest{
		Model:         req.Model,
		MaxTokens:     anthropicMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        stream,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		r.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		r.Messages = append(r.Messages, m)
	}
	r.System = strings.Join(system, "\n")
	return r
}

func (p *Anthropic) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp anthropicResponse
	if err := p.http.postJSON(ctx, p.baseURL+"/messages", p.build(req, false), &resp); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Role:         "assistant",
		Content:      sb.String(),
		FinishReason: resp.StopReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (p *Anthropic) ChatStream(ctx context.Context, req ChatRequest) (ChatStream, error) {
	resp, err := p.http.post(ctx, p.baseURL+"/messages", p.build(req, true), "text/event-stream")
	if err != nil {
		return nil, err
	}
	return &anthropicStream{reader: NewStreamReader(resp.Body)}, nil
}

type anthropicEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// anthropicStream turns Messages API events into chunks. Input tokens arrive
// with message_start and output tokens with message_delta.
type anthropicStream struct {
	reader *StreamReader
	usage  Usage
}

func (s *anthropicStream) Recv() (ChatChunk, error) {
	for {
		ev, err := s.reader.Read()
		if err != nil {
			return ChatChunk{}, err
		}

		var e anthropicEvent
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			continue
		}

		switch e.Type {
		case "message_start":
			s.usage.PromptTokens = e.Message.Usage.InputTokens
			return ChatChunk{Role: "assistant"}, nil
		case "content_block_delta":
			if e.Delta.Text == "" {
				continue
			}
			return ChatChunk{Content: e.Delta.Text}, nil
		case "message_delta":
			if e.Usage != nil {
				s.usage.CompletionTokens = e.Usage.OutputTokens
			}
			s.usage.TotalTokens = s.usage.PromptTokens + s.usage.CompletionTokens
			u := s.usage
			return ChatChunk{FinishReason: e.Delta.StopReason, Usage: &u}, nil
		case "error":
			msg := "stream error"
			kind := KindServer
			if e.Error != nil {
				msg = e.Error.Message
				if e.Error.Type == "rate_limit_error" || e.Error.Type == "overloaded_error" {
					kind = KindRateLimit
				}
			}
			return ChatChunk{}, &VendorError{Vendor: registry.Anthropic, Kind: kind, Message: msg}
		}
	}
}

func (s *anthropicStream) Close() error {
	return s.reader.Close()
}

func (p *Anthropic) Embeddings(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	return nil, Unsupported(registry.Anthropic, "embeddings")
}

func (p *Anthropic) Images(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	return nil, Unsupported(registry.Anthropic, "image generation")
}

func (p *Anthropic) Video(ctx context.Context, req VideoRequest) (*VideoResponse, error) {
	return nil, Unsupported(registry.Anthropic, "video generation")
}
