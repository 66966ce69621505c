// Package providers holds the vendor adapters. Each adapter speaks one vendor
// wire format and normalizes it to the canonical request, response and chunk
// types of this package.
package providers

import (
	"context"
	"net/http"

	"aigateway/internal/registry"
)

// Adapter is implemented by each vendor integration.
type Adapter interface {
	// Vendor returns the provider vendor the adapter talks to
	Vendor() registry.Vendor

	// Chat sends a chat completion request and waits for the full answer
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream starts a streamed chat completion. It returns once the vendor
	// accepted the request; errors before that point are VendorErrors.
	ChatStream(ctx context.Context, req ChatRequest) (ChatStream, error)

	// Embeddings computes embedding vectors
	Embeddings(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)

	// Images generates images
	Images(ctx context.Context, req ImageRequest) (*ImageResponse, error)

	// Video starts a video generation job
	Video(ctx context.Context, req VideoRequest) (*VideoResponse, error)
}

// Settings configure one adapter instance.
type Settings struct {
	Vendor  registry.Vendor
	BaseURL string
	Region  string
	Auth    Authenticator
	Client  *http.Client
	// Headers are sent with every request, after authentication.
	Headers map[string]string
}

func (s Settings) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}
