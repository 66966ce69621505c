package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"aigateway/internal/registry"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini talks to the Generative Language API.
type Gemini struct {
	http    httpCaller
	baseURL string
}

var _ Adapter = (*Gemini)(nil)

// NewGemini creates a Gemini adapter. The API key goes in the x-goog-api-key header.
func NewGemini(s Settings) *Gemini {
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &Gemini{http: httpCaller{settings: s}, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *Gemini) Vendor() registry.Vendor {
	return registry.Google
}

func (p *Gemini) modelURL(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", p.baseURL, url.PathEscape(model), method)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u geminiUsage) canonical() Usage {
	out := Usage{PromptTokens: u.PromptTokenCount, CompletionTokens: u.CandidatesTokenCount, TotalTokens: u.TotalTokenCount}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *geminiUsage `json:"usageMetadata"`
	ModelVersion  string       `json:"modelVersion"`
}

func (r geminiResponse) text() (string, string) {
	if len(r.Candidates) == 0 {
		return "", ""
	}
	var sb strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), strings.ToLower(r.Candidates[0].FinishReason)
}

func (p *Gemini) build(req ChatRequest) geminiRequest {
	var gr geminiRequest
	var system []geminiPart
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, geminiPart{Text: m.Content})
			continue
		case "assistant":
			gr.Contents = append(gr.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			gr.Contents = append(gr.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		gr.SystemInstruction = &geminiContent{Parts: system}
	}
	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil || len(req.Stop) > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			StopSequences:   req.Stop,
		}
	}
	return gr
}

func (p *Gemini) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp geminiResponse
	if err := p.http.postJSON(ctx, p.modelURL(req.Model, "generateContent"), p.build(req), &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, &VendorError{Vendor: registry.Google, Kind: KindServer, Message: "empty candidates in response"}
	}

	content, finish := resp.text()
	out := &ChatResponse{Model: req.Model, Role: "assistant", Content: content, FinishReason: finish}
	if resp.UsageMetadata != nil {
		out.Usage = resp.UsageMetadata.canonical()
	}
	return out, nil
}

func (p *Gemini) ChatStream(ctx context.Context, req ChatRequest) (ChatStream, error) {
	resp, err := p.http.post(ctx, p.modelURL(req.Model, "streamGenerateContent")+"?alt=sse", p.build(req), "text/event-stream")
	if err != nil {
		return nil, err
	}
	return &geminiStream{reader: NewStreamReader(resp.Body)}, nil
}

// geminiStream reads streamGenerateContent events. Every event repeats the
// running usage, so only the latest report is kept.
type geminiStream struct {
	reader *StreamReader
}

func (s *geminiStream) Recv() (ChatChunk, error) {
	for {
		ev, err := s.reader.Read()
		if err != nil {
			return ChatChunk{}, err
		}

		var resp geminiResponse
		if err := json.Unmarshal(ev.Data, &resp); err != nil {
			continue
		}

		content, finish := resp.text()
		out := ChatChunk{Content: content, FinishReason: finish}
		if finish != "" && resp.UsageMetadata != nil {
			u := resp.UsageMetadata.canonical()
			out.Usage = &u
		}
		if out.Content == "" && out.FinishReason == "" {
			continue
		}
		return out, nil
	}
}

func (s *geminiStream) Close() error {
	return s.reader.Close()
}

func (p *Gemini) Embeddings(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	type embedRequest struct {
		Model                string        `json:"model"`
		Content              geminiContent `json:"content"`
		OutputDimensionality *int          `json:"outputDimensionality,omitempty"`
	}
	body := struct {
		Requests []embedRequest `json:"requests"`
	}{}
	for _, in := range req.Input {
		body.Requests = append(body.Requests, embedRequest{
			Model:                "models/" + req.Model,
			Content:              geminiContent{Parts: []geminiPart{{Text: in}}},
			OutputDimensionality: req.Dimensions,
		})
	}

	var resp struct {
		Embeddings []struct {
			Values []float64 `json:"values"`
		} `json:"embeddings"`
	}
	if err := p.http.postJSON(ctx, p.modelURL(req.Model, "batchEmbedContents"), body, &resp); err != nil {
		return nil, err
	}

	out := &EmbeddingResponse{Model: req.Model}
	for _, e := range resp.Embeddings {
		out.Embeddings = append(out.Embeddings, e.Values)
	}
	return out, nil
}

func (p *Gemini) Images(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	n := req.N
	if n <= 0 {
		n = 1
	}
	body := map[string]any{
		"instances":  []map[string]string{{"prompt": req.Prompt}},
		"parameters": map[string]any{"sampleCount": n},
	}

	var resp struct {
		Predictions []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
		} `json:"predictions"`
	}
	if err := p.http.postJSON(ctx, p.modelURL(req.Model, "predict"), body, &resp); err != nil {
		return nil, err
	}

	out := &ImageResponse{Model: req.Model}
	for _, pr := range resp.Predictions {
		out.Images = append(out.Images, Image{B64JSON: pr.BytesBase64Encoded})
	}
	return out, nil
}

func (p *Gemini) Video(ctx context.Context, req VideoRequest) (*VideoResponse, error) {
	params := map[string]any{}
	if req.Seconds > 0 {
		params["durationSeconds"] = req.Seconds
	}
	body := map[string]any{
		"instances":  []map[string]string{{"prompt": req.Prompt}},
		"parameters": params,
	}

	var resp struct {
		Name string `json:"name"`
		Done bool   `json:"done"`
	}
	if err := p.http.postJSON(ctx, p.modelURL(req.Model, "predictLongRunning"), body, &resp); err != nil {
		return nil, err
	}

	status := "queued"
	if resp.Done {
		status = "completed"
	}
	return &VideoResponse{ID: resp.Name, Model: req.Model, Status: status, Seconds: req.Seconds}, nil
}
