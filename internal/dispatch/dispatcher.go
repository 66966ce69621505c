// Package dispatch runs a request through the credit gate, provider selection
// and failover until one provider answers or every candidate has failed.
//
// Each attempt is recorded as a ModelCall; at most one of them succeeds.
// Usage is recorded for the successful attempt only. Both writes go through
// the Recorder and never delay the answer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"aigateway/internal/billing"
	"aigateway/internal/cache"
	"aigateway/internal/metrics"
	"aigateway/internal/models"
	"aigateway/internal/providers"
	"aigateway/internal/registry"
	"aigateway/internal/rotation"
	"aigateway/internal/timing"
	"aigateway/internal/utils"
)

// Selector picks provider candidates for a bare model id.
type Selector interface {
	registry.ProviderPicker
	Next(ctx context.Context, model string, opts rotation.Options) (*rotation.Candidate, error)
	CountProviders(ctx context.Context, model string, prefer registry.Vendor) (int, error)
}

// AdapterFactory builds the vendor adapter of a candidate.
type AdapterFactory interface {
	New(provider *models.Provider, cred *models.Credential) (providers.Adapter, error)
}

// CreditGate is asked before any vendor is called.
type CreditGate interface {
	CheckUserCreditBalance(ctx context.Context, userDid string) error
}

// Catalog is the cached configuration read by dispatch.
type Catalog interface {
	GetEnabledProviders(ctx context.Context) ([]*models.Provider, error)
	GetCachedCredentials(ctx context.Context, providerIDs ...uuid.UUID) ([]*models.Credential, error)
	GetCachedModelRates(ctx context.Context, q cache.RateQuery) ([]*models.ModelRate, error)
	DisableCredential(ctx context.Context, id, providerID uuid.UUID, reason string) error
}

// Recorder schedules the writes of an attempt.
type Recorder interface {
	RecordCall(call models.ModelCall)
	RecordUsage(usage models.Usage)
}

// Deps are the collaborators of a Dispatcher. Metrics may be nil.
type Deps struct {
	Registry *registry.Registry
	Selector Selector
	Factory  AdapterFactory
	Gate     CreditGate
	Catalog  Catalog
	Recorder Recorder
	Metrics  *metrics.Metrics
}

// Config bounds the dispatch of one request.
type Config struct {
	// MaxRetries is the most attempts one request may make.
	MaxRetries int
	// RequestTimeout bounds each vendor call; for streams, the wait for the first chunk.
	RequestTimeout time.Duration
	// StreamIdleTimeout bounds the wait between two chunks of a committed stream.
	StreamIdleTimeout time.Duration
	OnlyListedModels  bool
}

// Dispatcher runs requests against providers.
type Dispatcher struct {
	Deps
	config Config
	logger *utils.Logger
}

// New creates a dispatcher
func New(deps Deps, config Config) *Dispatcher {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.StreamIdleTimeout <= 0 {
		config.StreamIdleTimeout = config.RequestTimeout
	}
	return &Dispatcher{
		Deps:   deps,
		config: config,
		logger: utils.NewLogger("dispatch"),
	}
}

// Result is a successful answer and where it came from.
type Result[T any] struct {
	Value    T
	Vendor   registry.Vendor
	Model    string
	Attempts int
}

// Prepare resolves the model of body, writing the "provider/model" id back into
// every place the model was found, and validates the rest of the request.
func (d *Dispatcher) Prepare(ctx context.Context, body map[string]any, typ models.CallType, caller Caller) (*Request, error) {
	stop := timing.FromContext(ctx).Track(timing.EnsureProvider)
	model, err := d.Registry.EnsureModelWithProvider(ctx, body, d.Selector)
	stop()
	if err != nil {
		return nil, classify(err)
	}

	req := &Request{
		ID:     uuid.NewString(),
		Caller: caller,
		Type:   typ,
		Model:  model,
	}
	f := lookup(body)
	switch typ {
	case models.CallTypeChatCompletion:
		req.Stream = f.bool("stream")
		req.Chat, err = decodeChat(f)
	case models.CallTypeEmbedding:
		req.Embedding, err = decodeEmbedding(f)
	case models.CallTypeImageGeneration:
		req.Image, err = decodeImage(f)
	case models.CallTypeVideo:
		req.Video, err = decodeVideo(f)
	default:
		err = validationError("unsupported call type %q", typ)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// metering is what an attempt consumed.
type metering struct {
	usage   providers.Usage
	images  int
	seconds int
}

// plan is the state of one request across its attempts.
type plan struct {
	req      *Request
	model    string
	prefer   registry.Vendor
	limit    int
	attempts int
	tried    map[uuid.UUID]bool
	lastErr  error
	timings  *timing.Timings
	logger   *utils.Logger
}

func (p *plan) more() bool {
	return p.attempts < p.limit
}

// begin runs the checks that precede the first vendor call.
func (d *Dispatcher) begin(ctx context.Context, req *Request) (*plan, error) {
	d.Metrics.Inc(metrics.Requests)

	prefer, bare := d.Registry.SplitModel(req.Model)
	p := &plan{
		req:     req,
		model:   bare,
		prefer:  prefer,
		tried:   make(map[uuid.UUID]bool),
		timings: timing.FromContext(ctx),
		logger:  d.logger.With("requestId", req.ID, "model", req.Model),
	}

	stop := p.timings.Track(timing.PreChecks)
	err := d.preChecks(ctx, req, bare)
	stop()
	if err != nil {
		return nil, err
	}

	stop = p.timings.Track(timing.MaxProviderRetries)
	count, err := d.Selector.CountProviders(ctx, bare, prefer)
	stop()
	if err != nil {
		p.logger.Error("Failed to count providers", "error", err)
		return nil, &Error{Status: http.StatusInternalServerError, Message: "internal error", Err: err}
	}
	if count == 0 {
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf("no provider available for model %s", bare)}
	}
	p.limit = min(count, d.config.MaxRetries)
	return p, nil
}

func (d *Dispatcher) preChecks(ctx context.Context, req *Request, bare string) error {
	if d.config.OnlyListedModels {
		rates, err := d.Catalog.GetCachedModelRates(ctx, cache.RateQuery{Model: bare, Type: req.Type})
		if err != nil {
			d.logger.Error("Failed to load model rates", "model", bare, "error", err)
			return &Error{Status: http.StatusInternalServerError, Message: "internal error", Err: err}
		}
		if len(rates) == 0 {
			return &Error{Status: http.StatusNotFound, Message: fmt.Sprintf("model %s is not available", bare)}
		}
	}

	if err := d.Gate.CheckUserCreditBalance(ctx, req.Caller.UserDid); err != nil {
		if errors.Is(err, billing.ErrInsufficientCredit) {
			d.Metrics.Inc(metrics.InsufficientCredit)
			return &Error{Status: http.StatusPaymentRequired, Message: "insufficient credit", Err: err}
		}
		d.logger.Error("Credit check failed", "userDid", req.Caller.UserDid, "error", err)
		return &Error{Status: http.StatusInternalServerError, Message: "credit check failed", Err: err}
	}
	return nil
}

// attempt is one call to one candidate.
type attempt struct {
	cand    *rotation.Candidate
	adapter providers.Adapter
	call    models.ModelCall
}

// next selects the following candidate, or returns nil when none is left.
// An adapter that cannot be built is reported through err with a non-nil attempt.
func (d *Dispatcher) next(ctx context.Context, p *plan) (*attempt, error) {
	stop := p.timings.Track(timing.GetCredentials)
	opts := rotation.Options{Exclude: p.tried}
	if p.attempts == 0 {
		opts.Prefer = p.prefer
	}
	cand, err := d.Selector.Next(ctx, p.model, opts)
	stop()
	if err != nil {
		p.logger.Error("Failed to select provider", "error", err)
		return nil, &Error{Status: http.StatusInternalServerError, Message: "internal error", Err: err}
	}
	if cand == nil {
		return nil, nil
	}

	p.attempts++
	p.tried[cand.Provider.ID] = true
	d.Metrics.Inc(metrics.Attempts)
	if p.attempts > 1 {
		d.Metrics.Inc(metrics.Retries)
	}

	stop = p.timings.Track(timing.ModelCallCreate)
	a := &attempt{
		cand: cand,
		call: models.ModelCall{
			ID:           uuid.New(),
			RequestID:    p.req.ID,
			UserDid:      p.req.Caller.UserDid,
			AppID:        p.req.Caller.AppID,
			ProviderID:   cand.Provider.ID,
			CredentialID: cand.Credential.ID,
			Model:        p.model,
			Type:         p.req.Type,
			Attempt:      p.attempts,
			Streaming:    p.req.Stream,
			CallTime:     time.Now().UTC(),
		},
	}
	stop()

	a.adapter, err = d.Factory.New(cand.Provider, cand.Credential)
	if err != nil {
		return a, fmt.Errorf("build adapter for %s: %w", cand.Vendor, err)
	}
	return a, nil
}

// succeed records the successful attempt and its usage.
func (d *Dispatcher) succeed(p *plan, a *attempt, m metering) {
	d.Metrics.Inc(metrics.Successes)

	stop := p.timings.Track(timing.ModelStatus)
	call := a.call
	call.Status = models.CallStatusSuccess
	call.PromptTokens = m.usage.PromptTokens
	call.CompletionTokens = m.usage.CompletionTokens
	call.TotalTokens = m.usage.TotalTokens
	call.DurationMs = time.Since(call.CallTime).Milliseconds()
	d.Recorder.RecordCall(call)
	stop()

	stop = p.timings.Track(timing.Usage)
	d.Recorder.RecordUsage(models.Usage{
		UserDid:                 p.req.Caller.UserDid,
		AppID:                   p.req.Caller.AppID,
		Type:                    p.req.Type,
		Model:                   p.model,
		ProviderID:              a.cand.Provider.ID,
		PromptTokens:            m.usage.PromptTokens,
		CompletionTokens:        m.usage.CompletionTokens,
		NumberOfImageGeneration: m.images,
		MediaDuration:           m.seconds,
	})
	stop()
}

// fail records a failed attempt and reports whether the request must stop.
func (d *Dispatcher) fail(ctx context.Context, p *plan, a *attempt, err error) (*Error, bool) {
	d.Metrics.Inc(metrics.Failures)

	stop := p.timings.Track(timing.ModelStatus)
	call := a.call
	call.Status = models.CallStatusFailed
	call.ErrorReason.String, call.ErrorReason.Valid = err.Error(), true
	call.DurationMs = time.Since(call.CallTime).Milliseconds()
	d.Recorder.RecordCall(call)
	stop()

	logger := p.logger.With("provider", a.cand.Vendor, "attempt", p.attempts)
	if ctx.Err() != nil {
		logger.Warn("Caller went away during provider call", "error", err)
		return &Error{Status: StatusClientClosedRequest, Message: "request canceled", Err: ctx.Err()}, true
	}

	ve, ok := providers.AsVendorError(err)
	if ok && ve.DisablesCredential() {
		d.Metrics.Inc(metrics.CredentialDisables)
		if derr := d.Catalog.DisableCredential(context.WithoutCancel(ctx), a.cand.Credential.ID, a.cand.Provider.ID, ve.Error()); derr != nil {
			logger.Error("Failed to disable credential", "credentialId", a.cand.Credential.ID, "error", derr)
		} else {
			logger.Warn("Disabled credential", "credentialId", a.cand.Credential.ID, "kind", ve.Kind)
		}
	}
	if ok && !ve.Retryable() {
		logger.Info("Provider rejected request", "status", ve.Status, "error", err)
		status := ve.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		return &Error{Status: status, Message: ve.Message, Err: err}, true
	}

	logger.Warn("Provider attempt failed", "error", err)
	p.lastErr = err
	return nil, false
}

// exhausted is the error of a request that ran out of candidates.
func (p *plan) exhausted() *Error {
	if p.attempts == 0 {
		return &Error{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf("no provider available for model %s", p.model)}
	}
	status := http.StatusBadGateway
	if ve, ok := providers.AsVendorError(p.lastErr); ok && (ve.Status == http.StatusTooManyRequests || ve.Status >= 500) {
		status = ve.Status
	}
	return &Error{
		Status:  status,
		Message: fmt.Sprintf("model %s failed after %d attempts", p.model, p.attempts),
		Err:     p.lastErr,
	}
}

type invokeFunc[T any] func(ctx context.Context, a providers.Adapter, model string) (T, metering, error)

// execute runs invoke against candidates until one succeeds.
func execute[T any](ctx context.Context, d *Dispatcher, req *Request, invoke invokeFunc[T]) (*Result[T], error) {
	p, err := d.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	for p.more() {
		a, err := d.next(ctx, p)
		if a == nil {
			if err != nil {
				return nil, err
			}
			break
		}
		if err == nil {
			var value T
			var m metering
			err = d.invoke(ctx, p, func(ctx context.Context) error {
				var ierr error
				value, m, ierr = invoke(ctx, a.adapter, a.cand.Model)
				return ierr
			})
			if err == nil {
				d.succeed(p, a, m)
				return &Result[T]{Value: value, Vendor: a.cand.Vendor, Model: a.cand.Model, Attempts: p.attempts}, nil
			}
		}
		if final, stop := d.fail(ctx, p, a, err); stop {
			return nil, final
		}
	}
	return nil, p.exhausted()
}

// invoke runs fn under the per-attempt timeout and a panic guard.
func (d *Dispatcher) invoke(ctx context.Context, p *plan, fn func(ctx context.Context) error) (err error) {
	callCtx, cancel := context.WithTimeout(ctx, d.config.RequestTimeout)
	defer cancel()
	defer p.timings.Track(timing.ProviderTTFB)()
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("Recover from panic in provider adapter", "panic", rec)
			err = fmt.Errorf("provider adapter panic: %v", rec)
		}
	}()
	return fn(callCtx)
}

// Chat answers a chat completion.
func (d *Dispatcher) Chat(ctx context.Context, req *Request) (*Result[*providers.ChatResponse], error) {
	return execute(ctx, d, req, func(ctx context.Context, a providers.Adapter, model string) (*providers.ChatResponse, metering, error) {
		chat := req.Chat
		chat.Model = model
		resp, err := a.Chat(ctx, chat)
		if err != nil {
			return nil, metering{}, err
		}
		return resp, metering{usage: resp.Usage}, nil
	})
}

// Embeddings computes embeddings.
func (d *Dispatcher) Embeddings(ctx context.Context, req *Request) (*Result[*providers.EmbeddingResponse], error) {
	return execute(ctx, d, req, func(ctx context.Context, a providers.Adapter, model string) (*providers.EmbeddingResponse, metering, error) {
		in := req.Embedding
		in.Model = model
		resp, err := a.Embeddings(ctx, in)
		if err != nil {
			return nil, metering{}, err
		}
		return resp, metering{usage: resp.Usage}, nil
	})
}

// Images generates images.
func (d *Dispatcher) Images(ctx context.Context, req *Request) (*Result[*providers.ImageResponse], error) {
	return execute(ctx, d, req, func(ctx context.Context, a providers.Adapter, model string) (*providers.ImageResponse, metering, error) {
		in := req.Image
		in.Model = model
		resp, err := a.Images(ctx, in)
		if err != nil {
			return nil, metering{}, err
		}
		return resp, metering{usage: resp.Usage, images: len(resp.Images)}, nil
	})
}

// Video starts a video generation.
func (d *Dispatcher) Video(ctx context.Context, req *Request) (*Result[*providers.VideoResponse], error) {
	return execute(ctx, d, req, func(ctx context.Context, a providers.Adapter, model string) (*providers.VideoResponse, metering, error) {
		in := req.Video
		in.Model = model
		resp, err := a.Video(ctx, in)
		if err != nil {
			return nil, metering{}, err
		}
		return resp, metering{seconds: resp.Seconds}, nil
	})
}

// Available reports whether at least one enabled provider has an active credential.
func (d *Dispatcher) Available(ctx context.Context) (bool, error) {
	list, err := d.Catalog.GetEnabledProviders(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range list {
		creds, err := d.Catalog.GetCachedCredentials(ctx, p.ID)
		if err != nil {
			return false, err
		}
		for _, c := range creds {
			if c.Active {
				return true, nil
			}
		}
	}
	return false, nil
}
