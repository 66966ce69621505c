package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aigateway/internal/registry"
)

// DefaultBaseURLs are the OpenAI-compatible endpoints of vendors that have one.
var DefaultBaseURLs = map[registry.Vendor]string{
	registry.OpenAI:     "https://api.openai.com/v1",
	registry.DeepSeek:   "https://api.deepseek.com/v1",
	registry.XAI:        "https://api.x.ai/v1",
	registry.OpenRouter: "https://openrouter.ai/api/v1",
	registry.Ollama:     "http://localhost:11434/v1",
	registry.Poe:        "https://api.poe.com/v1",
	registry.Doubao:     "https://ark.cn-beijing.volces.com/api/v3",
	registry.Mistral:    "https://api.mistral.ai/v1",
}

// OpenAICompatible talks to any vendor exposing the OpenAI REST API.
// Works with OpenAI, DeepSeek, xAI, OpenRouter, Ollama, Poe, Doubao and Mistral.
type OpenAICompatible struct {
	http    httpCaller
	baseURL string
}

var _ Adapter = (*OpenAICompatible)(nil)

// NewOpenAICompatible creates an adapter. An empty BaseURL falls back to the vendor default.
func NewOpenAICompatible(s Settings) (*OpenAICompatible, error) {
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURLs[s.Vendor]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required for %s", s.Vendor)
	}
	return &OpenAICompatible{
		http:    httpCaller{settings: s},
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (p *OpenAICompatible) Vendor() registry.Vendor {
	return p.http.settings.Vendor
}

type oaiRequest struct {
	Model         string            `json:"model"`
	Messages      []Message         `json:"messages"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Stop          []string          `json:"stop,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u oaiUsage) canonical() Usage {
	out := Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

type oaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage oaiUsage `json:"usage"`
}

type oaiChunk struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAICompatible) buildChat(req ChatRequest, stream bool) oaiRequest {
	r := oaiRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if stream {
		r.StreamOptions = &oaiStreamOptions{IncludeUsage: true}
	}
	return r
}

func (p *OpenAICompatible) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp oaiResponse
	if err := p.http.postJSON(ctx, p.baseURL+"/chat/completions", p.buildChat(req, false), &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &VendorError{Vendor: p.Vendor(), Kind: KindServer, Message: "empty choices in response"}
	}

	role := resp.Choices[0].Message.Role
	if role == "" {
		role = "assistant"
	}
	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Role:         role,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage:        resp.Usage.canonical(),
	}, nil
}

func (p *OpenAICompatible) ChatStream(ctx context.Context, req ChatRequest) (ChatStream, error) {
	resp, err := p.http.post(ctx, p.baseURL+"/chat/completions", p.buildChat(req, true), "text/event-stream")
	if err != nil {
		return nil, err
	}
	return &oaiStream{reader: NewStreamReader(resp.Body), vendor: p.Vendor()}, nil
}

// oaiStream parses OpenAI chat completion chunks.
type oaiStream struct {
	reader *StreamReader
	vendor registry.Vendor
}

func (s *oaiStream) Recv() (ChatChunk, error) {
	for {
		ev, err := s.reader.Read()
		if err != nil {
			return ChatChunk{}, err
		}

		var chunk oaiChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			continue // skip malformed chunks
		}
		if chunk.Error != nil {
			return ChatChunk{}, &VendorError{Vendor: s.vendor, Kind: KindServer, Message: chunk.Error.Message}
		}

		out := ChatChunk{}
		if len(chunk.Choices) > 0 {
			c := chunk.Choices[0]
			out.Role = c.Delta.Role
			out.Content = c.Delta.Content
			if c.FinishReason != nil {
				out.FinishReason = *c.FinishReason
			}
		}
		if chunk.Usage != nil {
			u := chunk.Usage.canonical()
			out.Usage = &u
		}
		if out.Role == "" && out.Content == "" && out.FinishReason == "" && out.Usage == nil {
			continue
		}
		return out, nil
	}
}

func (s *oaiStream) Close() error {
	return s.reader.Close()
}

func (p *OpenAICompatible) Embeddings(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	body := map[string]any{"model": req.Model, "input": req.Input}
	if req.Dimensions != nil {
		body["dimensions"] = *req.Dimensions
	}

	var resp struct {
		Model string `json:"model"`
		Data  []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Usage oaiUsage `json:"usage"`
	}
	if err := p.http.postJSON(ctx, p.baseURL+"/embeddings", body, &resp); err != nil {
		return nil, err
	}

	vectors := make([][]float64, len(req.Input))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return &EmbeddingResponse{Model: resp.Model, Embeddings: vectors, Usage: resp.Usage.canonical()}, nil
}

func (p *OpenAICompatible) Images(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	body := map[string]any{"model": req.Model, "prompt": req.Prompt}
	if req.N > 0 {
		body["n"] = req.N
	}
	for k, v := range map[string]string{"size": req.Size, "quality": req.Quality, "style": req.Style, "response_format": req.ResponseFormat} {
		if v != "" {
			body[k] = v
		}
	}

	var resp struct {
		Data []struct {
			URL           string `json:"url"`
			B64JSON       string `json:"b64_json"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := p.http.postJSON(ctx, p.baseURL+"/images/generations", body, &resp); err != nil {
		return nil, err
	}

	out := &ImageResponse{Model: req.Model}
	for _, d := range resp.Data {
		out.Images = append(out.Images, Image{URL: d.URL, B64JSON: d.B64JSON, RevisedPrompt: d.RevisedPrompt})
	}
	if resp.Usage != nil {
		out.Usage = Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return out, nil
}

func (p *OpenAICompatible) Video(ctx context.Context, req VideoRequest) (*VideoResponse, error) {
	body := map[string]any{"model": req.Model, "prompt": req.Prompt}
	if req.Seconds > 0 {
		body["seconds"] = fmt.Sprint(req.Seconds)
	}
	if req.Size != "" {
		body["size"] = req.Size
	}

	var resp struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Status  string `json:"status"`
		Seconds string `json:"seconds"`
	}
	if err := p.http.postJSON(ctx, p.baseURL+"/videos", body, &resp); err != nil {
		return nil, err
	}

	seconds := req.Seconds
	if n, err := parseSeconds(resp.Seconds); err == nil && n > 0 {
		seconds = n
	}
	return &VideoResponse{ID: resp.ID, Model: resp.Model, Status: resp.Status, Seconds: seconds}, nil
}

func parseSeconds(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
