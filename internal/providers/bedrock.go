package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"

	"aigateway/internal/registry"
)

// Bedrock talks to the Bedrock Runtime Converse API, signing requests with SigV4.
type Bedrock struct {
	http    httpCaller
	baseURL string
}

var _ Adapter = (*Bedrock)(nil)

// NewBedrock creates a Bedrock adapter. Region is required unless BaseURL is set.
func NewBedrock(s Settings) (*Bedrock, error) {
	baseURL := s.BaseURL
	if baseURL == "" {
		if s.Region == "" {
			return nil, fmt.Errorf("region is required for bedrock")
		}
		baseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", s.Region)
	}
	return &Bedrock{http: httpCaller{settings: s}, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (p *Bedrock) Vendor() registry.Vendor {
	return registry.Bedrock
}

// modelURL escapes the model id the way the AWS SDK does; ids such as
// "anthropic.claude-3-haiku-20240307-v1:0" carry a colon.
func (p *Bedrock) modelURL(model, op string) string {
	id := strings.ReplaceAll(url.PathEscape(model), ":", "%3A")
	return fmt.Sprintf("%s/model/%s/%s", p.baseURL, id, op)
}

type bedrockText struct {
	Text string `json:"text"`
}

type bedrockMessage struct {
	Role    string        `json:"role"`
	Content []bedrockText `json:"content"`
}

type bedrockInferenceConfig struct {
	MaxTokens     *int     `json:"maxTokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

type bedrockConverseRequest struct {
	Messages        []bedrockMessage        `json:"messages"`
	System          []bedrockText           `json:"system,omitempty"`
	InferenceConfig *bedrockInferenceConfig `json:"inferenceConfig,omitempty"`
}

type bedrockUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

func (u bedrockUsage) canonical() Usage {
	out := Usage{PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

type bedrockConverseResponse struct {
	Output struct {
		Message bedrockMessage `json:"message"`
	} `json:"output"`
	StopReason string       `json:"stopReason"`
	Usage      bedrockUsage `json:"usage"`
}

func (p *Bedrock) build(req ChatRequest) bedrockConverseRequest {
	var r bedrockConverseRequest
	for _, m := range req.Messages {
		if m.Role == "system" {
			r.System = append(r.System, bedrockText{Text: m.Content})
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		r.Messages = append(r.Messages, bedrockMessage{Role: role, Content: []bedrockText{{Text: m.Content}}})
	}
	if req.MaxTokens != nil || req.Temperature != nil || req.TopP != nil || len(req.Stop) > 0 {
		r.InferenceConfig = &bedrockInferenceConfig{
			MaxTokens:     req.MaxTokens,
			Temperature:   req.Temperature,
			TopP:          req.TopP,
			StopSequences: req.Stop,
		}
	}
	return r
}

func (p *Bedrock) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp bedrockConverseResponse
	if err := p.http.postJSON(ctx, p.modelURL(req.Model, "converse"), p.build(req), &resp); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, c := range resp.Output.Message.Content {
		sb.WriteString(c.Text)
	}
	return &ChatResponse{
		Model:        req.Model,
		Role:         "assistant",
		Content:      sb.String(),
		FinishReason: resp.StopReason,
		Usage:        resp.Usage.canonical(),
	}, nil
}

func (p *Bedrock) ChatStream(ctx context.Context, req ChatRequest) (ChatStream, error) {
	resp, err := p.http.post(ctx, p.modelURL(req.Model, "converse-stream"), p.build(req), "application/vnd.amazon.eventstream")
	if err != nil {
		return nil, err
	}
	return &bedrockStream{
		body:    resp.Body,
		decoder: eventstream.NewDecoder(),
		buf:     make([]byte, 0, 16*1024),
	}, nil
}

// bedrockStream decodes AWS event-stream frames of converse-stream.
type bedrockStream struct {
	body    io.ReadCloser
	decoder *eventstream.Decoder
	buf     []byte
	finish  string
}

func headerString(h eventstream.Headers, name string) string {
	if sv, ok := h.Get(name).(eventstream.StringValue); ok {
		return string(sv)
	}
	return ""
}

func (s *bedrockStream) Recv() (ChatChunk, error) {
	for {
		msg, err := s.decoder.Decode(s.body, s.buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ChatChunk{}, io.EOF
			}
			return ChatChunk{}, &VendorError{Vendor: registry.Bedrock, Kind: KindNetwork, Err: err}
		}

		if headerString(msg.Headers, ":message-type") == "exception" {
			exception := headerString(msg.Headers, ":exception-type")
			kind := KindServer
			if exception == "throttlingException" {
				kind = KindRateLimit
			}
			var body struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(msg.Payload, &body)
			return ChatChunk{}, &VendorError{Vendor: registry.Bedrock, Kind: kind, Message: exception + ": " + body.Message}
		}

		switch headerString(msg.Headers, ":event-type") {
		case "messageStart":
			return ChatChunk{Role: "assistant"}, nil
		case "contentBlockDelta":
			var ev struct {
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.Delta.Text == "" {
				continue
			}
			return ChatChunk{Content: ev.Delta.Text}, nil
		case "messageStop":
			var ev struct {
				StopReason string `json:"stopReason"`
			}
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				s.finish = ev.StopReason
			}
		case "metadata":
			var ev struct {
				Usage bedrockUsage `json:"usage"`
			}
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				continue
			}
			u := ev.Usage.canonical()
			return ChatChunk{FinishReason: s.finish, Usage: &u}, nil
		}
	}
}

func (s *bedrockStream) Close() error {
	return s.body.Close()
}

// Embeddings invokes a Titan embedding model once per input.
func (p *Bedrock) Embeddings(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	out := &EmbeddingResponse{Model: req.Model}
	for _, in := range req.Input {
		body := map[string]any{"inputText": in}
		if req.Dimensions != nil {
			body["dimensions"] = *req.Dimensions
		}

		var resp struct {
			Embedding           []float64 `json:"embedding"`
			InputTextTokenCount int       `json:"inputTextTokenCount"`
		}
		if err := p.http.postJSON(ctx, p.modelURL(req.Model, "invoke"), body, &resp); err != nil {
			return nil, err
		}
		out.Embeddings = append(out.Embeddings, resp.Embedding)
		out.Usage.PromptTokens += resp.InputTextTokenCount
	}
	out.Usage.TotalTokens = out.Usage.PromptTokens
	return out, nil
}

// Images invokes a Titan image generator model.
func (p *Bedrock) Images(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	n := req.N
	if n <= 0 {
		n = 1
	}
	body := map[string]any{
		"taskType":              "TEXT_IMAGE",
		"textToImageParams":     map[string]string{"text": req.Prompt},
		"imageGenerationConfig": map[string]any{"numberOfImages": n},
	}

	var resp struct {
		Images []string `json:"images"`
	}
	if err := p.http.postJSON(ctx, p.modelURL(req.Model, "invoke"), body, &resp); err != nil {
		return nil, err
	}

	out := &ImageResponse{Model: req.Model}
	for _, img := range resp.Images {
		out.Images = append(out.Images, Image{B64JSON: img})
	}
	return out, nil
}

func (p *Bedrock) Video(ctx context.Context, req VideoRequest) (*VideoResponse, error) {
	return nil, Unsupported(registry.Bedrock, "video generation")
}
