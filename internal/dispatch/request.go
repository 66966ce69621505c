package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"aigateway/internal/models"
	"aigateway/internal/providers"
)

const maxImagesPerRequest = 10

// Caller identifies who is spending.
type Caller struct {
	UserDid string
	AppID   string
}

// Request is a validated request ready for dispatch.
type Request struct {
	ID     string
	Caller Caller
	Type   models.CallType
	// Model is the resolved "provider/model" id.
	Model  string
	Stream bool

	Chat      providers.ChatRequest
	Embedding providers.EmbeddingRequest
	Image     providers.ImageRequest
	Video     providers.VideoRequest
}

// fields reads request parameters from the flat shape and from the nested
// input / input.modelOptions shape. The first location holding a key wins.
type fields []map[string]any

func lookup(body map[string]any) fields {
	f := fields{body}
	if input, ok := body["input"].(map[string]any); ok {
		f = append(f, input)
		if opts, ok := input["modelOptions"].(map[string]any); ok {
			f = append(f, opts)
		}
	}
	return f
}

func (f fields) get(keys ...string) (any, bool) {
	for _, m := range f {
		for _, k := range keys {
			if v, ok := m[k]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func (f fields) string(keys ...string) (string, error) {
	v, ok := f.get(keys...)
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", validationError("%s must be a string", keys[0])
	}
	return s, nil
}

func (f fields) bool(key string) bool {
	v, _ := f.get(key)
	b, _ := v.(bool)
	return b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		x, err := n.Float64()
		return x, err == nil
	}
	return 0, false
}

func (f fields) float(keys ...string) (*float64, error) {
	v, ok := f.get(keys...)
	if !ok {
		return nil, nil
	}
	x, ok := toFloat(v)
	if !ok {
		return nil, validationError("%s must be a number", keys[0])
	}
	return &x, nil
}

func (f fields) int(keys ...string) (*int, error) {
	x, err := f.float(keys...)
	if err != nil || x == nil {
		return nil, err
	}
	if *x != float64(int(*x)) || *x < 0 {
		return nil, validationError("%s must be a non-negative integer", keys[0])
	}
	n := int(*x)
	return &n, nil
}

// strings accepts a single string or an array of strings.
func (f fields) strings(key string) ([]string, error) {
	v, ok := f.get(key)
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case string:
		return []string{s}, nil
	case []any:
		out := make([]string, 0, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, validationError("%s[%d] must be a string", key, i)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, validationError("%s must be a string or an array of strings", key)
}

func decodeChat(f fields) (providers.ChatRequest, error) {
	var req providers.ChatRequest

	raw, _ := f.get("messages")
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return req, validationError("messages must be a non-empty array")
	}
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return req, validationError("messages[%d] must be an object", i)
		}
		role, _ := m["role"].(string)
		if role == "" {
			return req, validationError("messages[%d].role is required", i)
		}
		content, err := messageContent(m["content"])
		if err != nil {
			return req, validationError("messages[%d].%s", i, err)
		}
		req.Messages = append(req.Messages, providers.Message{Role: role, Content: content})
	}

	var err error
	if req.Temperature, err = f.float("temperature"); err != nil {
		return req, err
	}
	if req.TopP, err = f.float("top_p", "topP"); err != nil {
		return req, err
	}
	if req.MaxTokens, err = f.int("max_tokens", "maxTokens"); err != nil {
		return req, err
	}
	if req.Stop, err = f.strings("stop"); err != nil {
		return req, err
	}
	return req, nil
}

// messageContent accepts plain text or an array of text parts.
func messageContent(v any) (string, error) {
	switch c := v.(type) {
	case string:
		return c, nil
	case []any:
		var sb strings.Builder
		for _, part := range c {
			p, ok := part.(map[string]any)
			if !ok {
				return "", fmt.Errorf("content parts must be objects")
			}
			if t, _ := p["type"].(string); t != "" && t != "text" {
				return "", fmt.Errorf("content part type %q is not supported", t)
			}
			text, _ := p["text"].(string)
			sb.WriteString(text)
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("content must be a string or an array of text parts")
}

func decodeEmbedding(f fields) (providers.EmbeddingRequest, error) {
	var req providers.EmbeddingRequest
	input, err := f.strings("input")
	if err != nil {
		return req, err
	}
	if len(input) == 0 {
		return req, validationError("input must not be empty")
	}
	req.Input = input
	if req.Dimensions, err = f.int("dimensions"); err != nil {
		return req, err
	}
	return req, nil
}

func decodeImage(f fields) (providers.ImageRequest, error) {
	var req providers.ImageRequest
	var err error
	if req.Prompt, err = f.string("prompt"); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return req, validationError("prompt is required")
	}

	n, err := f.int("n")
	if err != nil {
		return req, err
	}
	req.N = 1
	if n != nil {
		req.N = *n
	}
	if req.N < 1 || req.N > maxImagesPerRequest {
		return req, validationError("n must be between 1 and %d", maxImagesPerRequest)
	}

	if req.Size, err = f.string("size"); err != nil {
		return req, err
	}
	if req.Quality, err = f.string("quality"); err != nil {
		return req, err
	}
	if req.Style, err = f.string("style"); err != nil {
		return req, err
	}
	if req.ResponseFormat, err = f.string("response_format", "responseFormat"); err != nil {
		return req, err
	}
	return req, nil
}

func decodeVideo(f fields) (providers.VideoRequest, error) {
	var req providers.VideoRequest
	var err error
	if req.Prompt, err = f.string("prompt"); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return req, validationError("prompt is required")
	}
	seconds, err := f.int("seconds", "duration")
	if err != nil {
		return req, err
	}
	if seconds != nil {
		req.Seconds = *seconds
	}
	if req.Size, err = f.string("size"); err != nil {
		return req, err
	}
	return req, nil
}
