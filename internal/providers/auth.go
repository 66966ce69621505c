package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"aigateway/internal/models"
)

// Authenticator applies a credential to an outgoing vendor request.
// Different vendors use different mechanisms:
// - API key in a header (OpenAI, Anthropic, Gemini)
// - AWS SigV4 request signing (Bedrock)
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request, payload []byte) error
}

// APIKeyAuth puts an API key in a header (OpenAI style).
type APIKeyAuth struct {
	apiKey     string
	headerName string // e.g., "Authorization"
	prefix     string // e.g., "Bearer "
}

// NewBearerAuth sends "Authorization: Bearer <key>".
func NewBearerAuth(apiKey string) *APIKeyAuth {
	return NewAPIKeyAuth(apiKey, "Authorization", "Bearer ")
}

// NewAPIKeyAuth sends "<header>: <prefix><key>".
func NewAPIKeyAuth(apiKey, headerName, prefix string) *APIKeyAuth {
	if headerName == "" {
		headerName = "Authorization"
	}
	return &APIKeyAuth{
		apiKey:     apiKey,
		headerName: headerName,
		prefix:     prefix,
	}
}

// Apply adds the API key to the request
func (a *APIKeyAuth) Apply(ctx context.Context, req *http.Request, payload []byte) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	req.Header.Set(a.headerName, a.prefix+a.apiKey)
	return nil
}

// SigV4Auth signs requests with an AWS access key pair.
type SigV4Auth struct {
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	service string
	region  string
	now     func() time.Time
}

// NewSigV4Auth creates a signer for service in region.
func NewSigV4Auth(pair models.AccessKeyPair, service, region string) (*SigV4Auth, error) {
	if pair.AccessKeyID == "" || pair.SecretAccessKey == "" {
		return nil, fmt.Errorf("access key id and secret access key are required")
	}
	if region == "" {
		return nil, fmt.Errorf("region is required for %s", service)
	}
	return &SigV4Auth{
		creds:   credentials.NewStaticCredentialsProvider(pair.AccessKeyID, pair.SecretAccessKey, pair.SessionToken),
		signer:  v4.NewSigner(),
		service: service,
		region:  region,
		now:     time.Now,
	}, nil
}

// Apply signs the request over payload
func (a *SigV4Auth) Apply(ctx context.Context, req *http.Request, payload []byte) error {
	creds, err := a.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	sum := sha256.Sum256(payload)
	if err := a.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), a.service, a.region, a.now()); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	return nil
}
