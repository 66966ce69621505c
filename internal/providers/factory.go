package providers

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"aigateway/internal/models"
	"aigateway/internal/registry"
)

// Decrypter opens encrypted credential values.
type Decrypter interface {
	Decrypt(token string) ([]byte, error)
}

// Factory builds adapters for a provider row and one of its credentials.
type Factory struct {
	decrypter Decrypter
	client    *http.Client
}

// NewFactory creates a factory sharing one HTTP client between adapters.
// The client has no overall timeout; callers bound calls with their context,
// since a streamed answer may legitimately outlive any fixed limit.
func NewFactory(decrypter Decrypter) *Factory {
	return &Factory{
		decrypter: decrypter,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// New returns an adapter for provider authenticated with cred.
func (f *Factory) New(provider *models.Provider, cred *models.Credential) (Adapter, error) {
	vendor, ok := registry.ParseProviderVendor(provider.Name)
	if !ok {
		return nil, fmt.Errorf("unknown provider vendor %q", provider.Name)
	}

	plain, err := f.decrypter.Decrypt(cred.Value)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %s: %w", cred.ID, err)
	}

	s := Settings{
		Vendor:  vendor,
		BaseURL: provider.BaseURL,
		Region:  provider.Region,
		Client:  f.client,
	}

	switch vendor {
	case registry.Bedrock:
		if cred.CredentialType != models.CredentialTypeAccessKeyPair {
			return nil, fmt.Errorf("bedrock credential %s must be an access key pair", cred.ID)
		}
		var pair models.AccessKeyPair
		if err := json.Unmarshal(plain, &pair); err != nil {
			return nil, fmt.Errorf("parse access key pair %s: %w", cred.ID, err)
		}
		region := provider.Region
		if region == "" {
			region = provider.ConfigString("region")
		}
		s.Region = region
		auth, err := NewSigV4Auth(pair, "bedrock", region)
		if err != nil {
			return nil, err
		}
		s.Auth = auth
		return NewBedrock(s)

	case registry.Anthropic:
		s.Auth = NewAPIKeyAuth(string(plain), "x-api-key", "")
		return NewAnthropic(s), nil

	case registry.Google:
		s.Auth = NewAPIKeyAuth(string(plain), "x-goog-api-key", "")
		return NewGemini(s), nil

	default:
		s.Auth = NewBearerAuth(string(plain))
		if referer := provider.ConfigString("httpReferer"); referer != "" {
			s.Headers = map[string]string{"HTTP-Referer": referer}
		}
		return NewOpenAICompatible(s)
	}
}
