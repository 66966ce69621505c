package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"aigateway/internal/billing"
	"aigateway/internal/cache"
	"aigateway/internal/dispatch"
	"aigateway/internal/metrics"
	"aigateway/internal/middleware"
	"aigateway/internal/models"
	"aigateway/internal/providers"
	"aigateway/internal/ratelimit"
	"aigateway/internal/recorder"
	"aigateway/internal/registry"
	"aigateway/internal/rotation"
	"aigateway/internal/storage"
)

// vendorServer is an OpenAI compatible upstream.
type vendorServer struct {
	*httptest.Server
	hits   atomic.Int32
	status int
	// stall keeps a stream open after its first chunk until the client leaves.
	stall atomic.Bool

	mu     sync.Mutex
	models []string
}

func newVendorServer(t *testing.T, status int) *vendorServer {
	t.Helper()
	v := &vendorServer{status: status}
	v.Server = httptest.NewServer(http.HandlerFunc(v.serve))
	t.Cleanup(v.Close)
	return v
}

func (v *vendorServer) serve(w http.ResponseWriter, r *http.Request) {
	v.hits.Add(1)
	var body struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	v.mu.Lock()
	v.models = append(v.models, body.Model)
	v.mu.Unlock()

	if v.status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(v.status)
		fmt.Fprint(w, `{"error":{"message":"upstream exploded"}}`)
		return
	}

	if body.Stream && v.stall.Load() {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"Hel\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		return
	}

	if body.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"cmpl-1","model":%q,"choices":[{"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`, body.Model)
}

func (v *vendorServer) seenModels() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.models...)
}

// fakeLedger answers credit queries from memory.
type fakeLedger struct {
	mu           sync.Mutex
	balance      decimal.Decimal
	autoPurchase bool
	balanceCalls int
}

func (l *fakeLedger) GetBalanceSummary(ctx context.Context, userDid, currencyID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceCalls++
	return l.balance, nil
}

func (l *fakeLedger) VerifyAutoPurchase(ctx context.Context, userDid string) (bool, error) {
	return l.autoPurchase, nil
}

func (l *fakeLedger) RecordMeterEvent(ctx context.Context, event billing.MeterEvent) error {
	return nil
}

func (l *fakeLedger) GetMeter(ctx context.Context, name string) (*models.Meter, error) {
	return &models.Meter{Name: name, CurrencyID: "credits"}, nil
}

func (l *fakeLedger) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceCalls
}

type gatewayOptions struct {
	billing      bool
	callerSecret []byte
	limiter      ratelimit.Limiter
	streamIdle   time.Duration
	// vendors maps provider names to upstream base URLs, in creation order.
	vendors []vendorEntry
}

type vendorEntry struct {
	name string
	url  string
}

type gateway struct {
	*httptest.Server
	store    *storage.Store
	ledger   *fakeLedger
	recorder *recorder.Recorder
	metrics  *metrics.Metrics
	closed   sync.Once
}

func newGateway(t *testing.T, opts gatewayOptions) *gateway {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewDB(storage.DBConfig{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	store := storage.NewStore(db)

	enc, err := storage.NewEncryption("gateway-test-secret")
	require.NoError(t, err)
	for _, v := range opts.vendors {
		p := &models.Provider{Name: v.name, DisplayName: v.name, BaseURL: v.url, Enabled: true}
		require.NoError(t, store.Providers.Create(ctx, p))
		token, err := enc.Encrypt([]byte("sk-" + v.name))
		require.NoError(t, err)
		require.NoError(t, store.Credentials.Create(ctx, &models.Credential{
			ProviderID: p.ID, Name: v.name + "-key", Value: token, Active: true, Weight: 1,
		}))
	}

	layer := cache.NewLayer(store, cache.DefaultConfig())
	reg := registry.New(nil)
	ledger := &fakeLedger{}
	m := metrics.New()

	rec := recorder.New(recorder.Deps{
		Calls:       store.ModelCalls,
		Usages:      store.Usages,
		Credentials: store.Credentials,
		Rates:       layer,
	}, recorder.MemoryQueues(nil), recorder.Config{})
	rec.Start()

	d := dispatch.New(dispatch.Deps{
		Registry: reg,
		Selector: rotation.NewSelector(reg, layer),
		Factory:  providers.NewFactory(enc),
		Gate:     billing.NewCreditGate(opts.billing, "ai-credits", ledger, layer),
		Catalog:  layer,
		Recorder: rec,
		Metrics:  m,
	}, dispatch.Config{MaxRetries: 3, RequestTimeout: 5 * time.Second, StreamIdleTimeout: opts.streamIdle})

	g := &gateway{store: store, ledger: ledger, recorder: rec, metrics: m}
	g.Server = httptest.NewServer(NewRouter(&Dependencies{
		Dispatcher:   d,
		RateLimit:    opts.limiter,
		Metrics:      m,
		CallerSecret: opts.callerSecret,
	}))
	t.Cleanup(g.Close)
	t.Cleanup(g.drain)
	return g
}

// drain waits until every scheduled record is written.
func (g *gateway) drain() {
	g.closed.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.recorder.Close(ctx)
	})
}

// callStatuses drains the recorder and lists the recorded attempts in order.
func (g *gateway) callStatuses(t *testing.T) []string {
	t.Helper()
	g.drain()
	var statuses []string
	require.NoError(t, g.store.DB().Conn().Select(&statuses, `SELECT status FROM model_calls ORDER BY attempt`))
	return statuses
}

func (g *gateway) usageCount(t *testing.T) int {
	t.Helper()
	g.drain()
	var n int
	require.NoError(t, g.store.DB().Conn().Get(&n, `SELECT COUNT(*) FROM usages`))
	return n
}

func (g *gateway) post(t *testing.T, path string, body any, header ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(http.MethodPost, g.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderUserDid, "did:abt:alice")
	req.Header.Set(middleware.HeaderAppID, "app-1")
	for i := 0; i+1 < len(header); i += 2 {
		if header[i+1] == "" {
			req.Header.Del(header[i])
			continue
		}
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func chatRequest(model string, messages ...string) map[string]any {
	list := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		list = append(list, map[string]string{"role": "user", "content": m})
	}
	return map[string]any{"model": model, "messages": list}
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := readBody(t, resp)
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &env), body)
	require.NotEmpty(t, env.Error.Message, body)
	return strings.ToLower(env.Error.Message)
}
