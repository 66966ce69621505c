package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"aigateway/internal/cache"
	"aigateway/internal/metrics"
	"aigateway/internal/models"
	"aigateway/internal/providers"
	"aigateway/internal/registry"
	"aigateway/internal/rotation"
	"aigateway/internal/storage"
)

// fakeStore is an in-memory configuration store.
type fakeStore struct {
	mu          sync.Mutex
	providers   []*models.Provider
	credentials []*models.Credential
	rates       []*models.ModelRate
}

func (s *fakeStore) FindProviders(ctx context.Context, f storage.ProviderFilter) ([]*models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Provider
	for _, p := range s.providers {
		if f.EnabledOnly && !p.Enabled {
			continue
		}
		if len(f.Names) > 0 && !containsFold(f.Names, p.Name) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) FindCredentials(ctx context.Context, f storage.CredentialFilter) ([]*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Credential
	for _, c := range s.credentials {
		if f.ActiveOnly && !c.Active {
			continue
		}
		for _, id := range f.ProviderIDs {
			if c.ProviderID == id {
				cp := *c
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) FindModelRates(ctx context.Context, f storage.ModelRateFilter) ([]*models.ModelRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ModelRate
	for _, r := range s.rates {
		if r.Model == f.Model && (f.Type == "" || r.Type == f.Type) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateCredential(ctx context.Context, id uuid.UUID, patch models.CredentialPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.credentials {
		if c.ID == id {
			if patch.Active != nil {
				c.Active = *patch.Active
			}
			if patch.Error != nil {
				c.Error.String, c.Error.Valid = *patch.Error, true
			}
			return nil
		}
	}
	return storage.ErrCredentialNotFound
}

func (s *fakeStore) credential(providerName string) *models.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.providers {
		if p.Name == providerName {
			for _, c := range s.credentials {
				if c.ProviderID == p.ID {
					cp := *c
					return &cp
				}
			}
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// fakeAdapter answers with scripted functions and counts calls.
type fakeAdapter struct {
	vendor registry.Vendor
	chat   func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
	stream func(ctx context.Context, req providers.ChatRequest) (providers.ChatStream, error)

	calls  atomic.Int32
	mu     sync.Mutex
	models []string
}

func (a *fakeAdapter) Vendor() registry.Vendor { return a.vendor }

func (a *fakeAdapter) seen(model string) {
	a.calls.Add(1)
	a.mu.Lock()
	a.models = append(a.models, model)
	a.mu.Unlock()
}

func (a *fakeAdapter) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	a.seen(req.Model)
	if a.chat == nil {
		return okChat(ctx, req)
	}
	return a.chat(ctx, req)
}

func (a *fakeAdapter) ChatStream(ctx context.Context, req providers.ChatRequest) (providers.ChatStream, error) {
	a.seen(req.Model)
	if a.stream == nil {
		return &fakeStream{chunks: []providers.ChatChunk{
			{Role: "assistant"},
			{Content: "Hello"},
			{Content: " world", FinishReason: "stop", Usage: &providers.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
		}}, nil
	}
	return a.stream(ctx, req)
}

func (a *fakeAdapter) Embeddings(ctx context.Context, req providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	a.seen(req.Model)
	return &providers.EmbeddingResponse{
		Model:      req.Model,
		Embeddings: [][]float64{{0.1}},
		Usage:      providers.Usage{PromptTokens: 4, TotalTokens: 4},
	}, nil
}

func (a *fakeAdapter) Images(ctx context.Context, req providers.ImageRequest) (*providers.ImageResponse, error) {
	a.seen(req.Model)
	out := &providers.ImageResponse{Model: req.Model}
	for i := 0; i < req.N; i++ {
		out.Images = append(out.Images, providers.Image{URL: "https://img"})
	}
	return out, nil
}

func (a *fakeAdapter) Video(ctx context.Context, req providers.VideoRequest) (*providers.VideoResponse, error) {
	a.seen(req.Model)
	return &providers.VideoResponse{ID: "v1", Model: req.Model, Status: "queued", Seconds: req.Seconds}, nil
}

func okChat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{
		Role:    "assistant",
		Content: "hi there",
		Usage:   providers.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func failChat(vendor registry.Vendor, status int) func(context.Context, providers.ChatRequest) (*providers.ChatResponse, error) {
	return func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
		return nil, vendorError(vendor, status)
	}
}

func vendorError(vendor registry.Vendor, status int) *providers.VendorError {
	kind := providers.KindServer
	switch {
	case status == 401:
		kind = providers.KindAuth
	case status == 429:
		kind = providers.KindRateLimit
	case status == 400:
		kind = providers.KindBadRequest
	}
	return &providers.VendorError{Vendor: vendor, Status: status, Kind: kind, Message: "scripted failure"}
}

// fakeStream replays chunks, then returns err or io.EOF.
type fakeStream struct {
	chunks []providers.ChatChunk
	err    error
	block  <-chan struct{}
	closed atomic.Bool
}

func (s *fakeStream) Recv() (providers.ChatChunk, error) {
	if s.block != nil {
		<-s.block
	}
	if len(s.chunks) == 0 {
		if s.err != nil {
			return providers.ChatChunk{}, s.err
		}
		return providers.ChatChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeFactory struct {
	adapters map[registry.Vendor]*fakeAdapter
	err      map[registry.Vendor]error
}

func (f *fakeFactory) New(provider *models.Provider, cred *models.Credential) (providers.Adapter, error) {
	v := registry.Vendor(provider.Name)
	if err := f.err[v]; err != nil {
		return nil, err
	}
	a, ok := f.adapters[v]
	if !ok {
		return nil, errors.New("no adapter for " + provider.Name)
	}
	return a, nil
}

type fakeGate struct {
	err   error
	calls atomic.Int32
}

func (g *fakeGate) CheckUserCreditBalance(ctx context.Context, userDid string) error {
	g.calls.Add(1)
	return g.err
}

type fakeRecorder struct {
	mu     sync.Mutex
	calls  []models.ModelCall
	usages []models.Usage
}

func (r *fakeRecorder) RecordCall(call models.ModelCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRecorder) RecordUsage(usage models.Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usages = append(r.usages, usage)
}

func (r *fakeRecorder) statuses() []models.CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CallStatus, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Status
	}
	return out
}

func (r *fakeRecorder) usageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.usages)
}

type harness struct {
	store    *fakeStore
	layer    *cache.Layer
	adapters map[registry.Vendor]*fakeAdapter
	factory  *fakeFactory
	gate     *fakeGate
	recorder *fakeRecorder
	metrics  *metrics.Metrics
	d        *Dispatcher
}

// newHarness configures one enabled provider with one active credential per vendor.
func newHarness(t *testing.T, config Config, vendors ...registry.Vendor) *harness {
	t.Helper()
	h := &harness{
		store:    &fakeStore{},
		adapters: make(map[registry.Vendor]*fakeAdapter),
		gate:     &fakeGate{},
		recorder: &fakeRecorder{},
		metrics:  metrics.New(),
	}
	for _, v := range vendors {
		p := &models.Provider{ID: uuid.New(), Name: string(v), Enabled: true}
		h.store.providers = append(h.store.providers, p)
		h.store.credentials = append(h.store.credentials, &models.Credential{
			ID: uuid.New(), ProviderID: p.ID, Name: string(v) + "-key", Active: true, Weight: 100,
		})
		h.adapters[v] = &fakeAdapter{vendor: v}
	}
	h.factory = &fakeFactory{adapters: h.adapters, err: map[registry.Vendor]error{}}
	h.layer = cache.NewLayer(h.store, cache.DefaultConfig())

	reg := registry.New(nil)
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 2 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	h.d = New(Deps{
		Registry: reg,
		Selector: rotation.NewSelector(reg, h.layer),
		Factory:  h.factory,
		Gate:     h.gate,
		Catalog:  h.layer,
		Recorder: h.recorder,
		Metrics:  h.metrics,
	}, config)
	return h
}

func chatBody(model string, messages ...string) map[string]any {
	list := make([]any, 0, len(messages))
	for _, m := range messages {
		list = append(list, map[string]any{"role": "user", "content": m})
	}
	return map[string]any{"model": model, "messages": list}
}

var testCaller = Caller{UserDid: "did:abt:user1", AppID: "app-1"}

func (h *harness) prepare(t *testing.T, body map[string]any, typ models.CallType) *Request {
	t.Helper()
	req, err := h.d.Prepare(context.Background(), body, typ, testCaller)
	require.NoError(t, err)
	return req
}
