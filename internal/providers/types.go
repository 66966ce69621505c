package providers

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage counts tokens consumed by a call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates u2 into u, filling TotalTokens when the vendor omits it.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
	if u.TotalTokens < u.PromptTokens+u.CompletionTokens {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// ChatRequest is the vendor-neutral chat request. Model is the provider model id.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string
}

// ChatResponse is a complete chat answer.
type ChatResponse struct {
	ID           string
	Model        string
	Role         string
	Content      string
	FinishReason string
	Usage        Usage
}

// ChatChunk is one increment of a streamed answer. Usage is set on the chunk
// that carries the vendor's usage report, usually the last one.
type ChatChunk struct {
	Role         string
	Content      string
	FinishReason string
	Usage        *Usage
}

// ChatStream yields chunks until Recv returns io.EOF.
type ChatStream interface {
	Recv() (ChatChunk, error)
	Close() error
}

// EmbeddingRequest asks for one vector per input.
type EmbeddingRequest struct {
	Model      string
	Input      []string
	Dimensions *int
}

// EmbeddingResponse holds vectors in input order.
type EmbeddingResponse struct {
	Model      string
	Embeddings [][]float64
	Usage      Usage
}

// ImageRequest asks for N generated images.
type ImageRequest struct {
	Model          string
	Prompt         string
	N              int
	Size           string
	Quality        string
	Style          string
	ResponseFormat string
}

// Image is one generated image, by URL or inline base64.
type Image struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revisedPrompt,omitempty"`
}

// ImageResponse lists generated images.
type ImageResponse struct {
	Model  string
	Images []Image
	Usage  Usage
}

// VideoRequest asks for a generated video.
type VideoRequest struct {
	Model   string
	Prompt  string
	Seconds int
	Size    string
}

// VideoResponse describes a video generation job.
type VideoResponse struct {
	ID      string
	Model   string
	Status  string
	URL     string
	Seconds int
}
