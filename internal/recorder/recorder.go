// Package recorder persists model calls and usages off the request path.
//
// Calls and usages travel through separate queues and workers, so a failing
// usage write never delays or blocks a call write and the other way round.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"aigateway/internal/billing"
	"aigateway/internal/cache"
	"aigateway/internal/models"
	"aigateway/internal/queue"
	"aigateway/internal/utils"
)

// CallStore persists model calls
type CallStore interface {
	Create(ctx context.Context, call *models.ModelCall) error
}

// UsageStore persists usages
type UsageStore interface {
	Create(ctx context.Context, usage *models.Usage) error
}

// CredentialCounter counts successful uses of a credential
type CredentialCounter interface {
	IncrementUsage(ctx context.Context, id uuid.UUID, at time.Time) error
}

// RateSource looks up model rates
type RateSource interface {
	GetCachedModelRates(ctx context.Context, q cache.RateQuery) ([]*models.ModelRate, error)
}

// MeterSink accepts meter events for the ledger
type MeterSink interface {
	Enqueue(ctx context.Context, event billing.MeterEvent) error
}

// Deps are the collaborators of a Recorder. Meter may be nil when billing is off.
type Deps struct {
	Calls       CallStore
	Usages      UsageStore
	Credentials CredentialCounter
	Rates       RateSource
	Meter       MeterSink
}

// Config controls credit computation and the queue workers
type Config struct {
	Queue          *queue.Config
	BillingEnabled bool
	BasePrice      decimal.Decimal
	MeterName      string
}

// Queues are the backends of the two workers
type Queues struct {
	Calls     queue.Queue[models.ModelCall]
	CallsDLQ  queue.DeadLetterQueue[models.ModelCall]
	Usages    queue.Queue[models.Usage]
	UsagesDLQ queue.DeadLetterQueue[models.Usage]
}

// MemoryQueues returns in-process queues
func MemoryQueues(config *queue.Config) Queues {
	return Queues{
		Calls:     queue.NewMemoryQueue[models.ModelCall](config),
		CallsDLQ:  queue.NewMemoryDeadLetterQueue[models.ModelCall](),
		Usages:    queue.NewMemoryQueue[models.Usage](config),
		UsagesDLQ: queue.NewMemoryDeadLetterQueue[models.Usage](),
	}
}

// RedisQueues returns queues shared through Redis
func RedisQueues(client *redis.Client, config *queue.Config) (Queues, error) {
	var qs Queues
	var err error

	callCfg := *config
	callCfg.QueueName = config.QueueName + ":calls"
	if qs.Calls, err = queue.NewRedisQueue[models.ModelCall](client, &callCfg); err != nil {
		return qs, err
	}
	if qs.CallsDLQ, err = queue.NewRedisDeadLetterQueue[models.ModelCall](client, &callCfg); err != nil {
		return qs, err
	}

	usageCfg := *config
	usageCfg.QueueName = config.QueueName + ":usages"
	if qs.Usages, err = queue.NewRedisQueue[models.Usage](client, &usageCfg); err != nil {
		return qs, err
	}
	if qs.UsagesDLQ, err = queue.NewRedisDeadLetterQueue[models.Usage](client, &usageCfg); err != nil {
		return qs, err
	}
	return qs, nil
}

// Recorder schedules ModelCall and Usage writes without blocking the caller
type Recorder struct {
	deps   Deps
	config Config

	calls  *queue.Worker[models.ModelCall]
	usages *queue.Worker[models.Usage]

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	logger  *utils.Logger
}

// New creates a recorder over the given queues
func New(deps Deps, qs Queues, config Config) *Recorder {
	if config.Queue == nil {
		config.Queue = queue.DefaultConfig("recorder")
	}
	if config.BasePrice.IsZero() {
		config.BasePrice = decimal.NewFromInt(1)
	}

	r := &Recorder{
		deps:   deps,
		config: config,
		logger: utils.NewLogger("recorder"),
	}

	callCfg := *config.Queue
	callCfg.QueueName = "call-recorder"
	r.calls = queue.NewWorker(qs.Calls, qs.CallsDLQ, &callCfg, r.writeCall)

	usageCfg := *config.Queue
	usageCfg.QueueName = "usage-recorder"
	r.usages = queue.NewWorker(qs.Usages, qs.UsagesDLQ, &usageCfg, r.writeUsage)

	return r
}

// Start starts both workers
func (r *Recorder) Start() {
	r.calls.Start()
	r.usages.Start()
}

// RecordCall schedules a ModelCall write. It never blocks and never fails.
func (r *Recorder) RecordCall(call models.ModelCall) {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if call.CallTime.IsZero() {
		call.CallTime = time.Now().UTC()
	}
	r.spawn("call", func(ctx context.Context) error {
		return r.calls.Enqueue(ctx, call)
	})
}

// RecordUsage schedules a Usage write. Credits are computed by the worker.
func (r *Recorder) RecordUsage(usage models.Usage) {
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	r.spawn("usage", func(ctx context.Context) error {
		return r.usages.Enqueue(ctx, usage)
	})
}

func (r *Recorder) spawn(kind string, fn func(ctx context.Context) error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("Recorder closed, dropping record", "kind", kind)
		return
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Recover from panic while scheduling record", "kind", kind, "panic", rec)
			}
		}()

		if err := fn(context.Background()); err != nil {
			r.logger.Error("Failed to schedule record", "kind", kind, "error", err)
		}
	}()
}

func (r *Recorder) writeCall(ctx context.Context, call models.ModelCall) error {
	if err := r.deps.Calls.Create(ctx, &call); err != nil {
		return err
	}

	if call.Status == models.CallStatusSuccess && call.CredentialID != uuid.Nil && r.deps.Credentials != nil {
		if err := r.deps.Credentials.IncrementUsage(ctx, call.CredentialID, call.CallTime); err != nil {
			r.logger.Warn("Failed to increment credential usage", "credentialId", call.CredentialID, "error", err)
		}
	}
	return nil
}

func (r *Recorder) writeUsage(ctx context.Context, usage models.Usage) error {
	if !usage.UsedCredits.Valid {
		credits, err := r.credits(ctx, usage)
		if err != nil {
			return err
		}
		usage.UsedCredits = credits
	}

	if err := r.deps.Usages.Create(ctx, &usage); err != nil {
		return err
	}

	if r.config.BillingEnabled && r.deps.Meter != nil && usage.UsedCredits.Valid && usage.UsedCredits.Decimal.IsPositive() {
		event := billing.MeterEvent{
			ID:        usage.ID,
			Meter:     r.config.MeterName,
			UserDid:   usage.UserDid,
			AppID:     usage.AppID,
			UsageID:   usage.ID,
			Model:     usage.Model,
			Amount:    usage.UsedCredits.Decimal,
			Timestamp: usage.CreatedAt,
		}
		// the usage row exists; a retry here would insert it twice
		if err := r.deps.Meter.Enqueue(ctx, event); err != nil {
			r.logger.Error("Failed to queue meter event", "usageId", usage.ID, "userDid", usage.UserDid, "error", err)
		}
	}
	return nil
}

func (r *Recorder) credits(ctx context.Context, usage models.Usage) (decimal.NullDecimal, error) {
	rates, err := r.deps.Rates.GetCachedModelRates(ctx, cache.RateQuery{
		Model:      usage.Model,
		ProviderID: usage.ProviderID,
		Type:       usage.Type,
	})
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("load model rate: %w", err)
	}

	var rate *models.ModelRate
	if len(rates) > 0 {
		rate = rates[0]
	}
	return billing.CalculateCredits(rate, billing.Consumption{
		Type:             usage.Type,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Images:           usage.NumberOfImageGeneration,
		MediaSeconds:     usage.MediaDuration,
	}, r.config.BasePrice), nil
}

// Stats returns the counters of both workers
func (r *Recorder) Stats() map[string]queue.WorkerStats {
	return map[string]queue.WorkerStats{
		"calls":  r.calls.Stats(),
		"usages": r.usages.Stats(),
	}
}

// Close waits for scheduled records, then drains and stops both workers.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for scheduled records: %w", ctx.Err())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.calls.Stop(gctx) })
	g.Go(func() error { return r.usages.Stop(gctx) })
	return g.Wait()
}
