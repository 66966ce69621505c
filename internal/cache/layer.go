// Package cache holds the bounded, TTL-based snapshots of configuration the
// dispatch path reads on every request.
package cache

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"aigateway/internal/models"
	"aigateway/internal/storage"
	"aigateway/internal/utils"
)

// ConfigStore is the read side of the configuration store plus the one write the
// cache layer owns.
type ConfigStore interface {
	FindProviders(ctx context.Context, f storage.ProviderFilter) ([]*models.Provider, error)
	FindCredentials(ctx context.Context, f storage.CredentialFilter) ([]*models.Credential, error)
	FindModelRates(ctx context.Context, f storage.ModelRateFilter) ([]*models.ModelRate, error)
	UpdateCredential(ctx context.Context, id uuid.UUID, patch models.CredentialPatch) error
}

// Config holds capacities and TTLs of the cache layer
type Config struct {
	Size          int
	CredentialTTL time.Duration
	ProviderTTL   time.Duration
	ModelRateTTL  time.Duration
	CreditTTL     time.Duration
	MeterTTL      time.Duration
	// FetchTimeout bounds a store query shared by concurrent misses.
	FetchTimeout time.Duration
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		Size:          1000,
		CredentialTTL: 5 * time.Minute,
		ProviderTTL:   5 * time.Minute,
		ModelRateTTL:  10 * time.Minute,
		CreditTTL:     time.Minute,
		MeterTTL:      30 * time.Minute,
		FetchTimeout:  10 * time.Second,
	}
}

// RateQuery selects model rates. A nil ProviderID or empty Type matches any.
type RateQuery struct {
	Model      string
	ProviderID uuid.UUID
	Type       models.CallType
}

func (q RateQuery) key() string {
	provider := "*"
	if q.ProviderID != uuid.Nil {
		provider = q.ProviderID.String()
	}
	return q.Model + "|" + provider + "|" + string(q.Type)
}

// Layer is the read-through cache in front of the configuration store.
// Snapshots are shared between callers and must not be mutated. Empty results are
// never cached.
type Layer struct {
	store ConfigStore

	credentials *LRUCache[[]*models.Credential]
	providers   *LRUCache[[]*models.Provider]
	rates       *LRUCache[[]*models.ModelRate]
	credits     *LRUCache[decimal.Decimal]
	meters      *LRUCache[*models.Meter]

	group        singleflight.Group
	fetchTimeout time.Duration
	logger       *utils.Logger
}

// NewLayer creates a cache layer over store
func NewLayer(store ConfigStore, cfg Config) *Layer {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Layer{
		fetchTimeout: cfg.FetchTimeout,
		store:        store,
		credentials:  NewLRUCache[[]*models.Credential](cfg.Size, cfg.CredentialTTL),
		providers:    NewLRUCache[[]*models.Provider](cfg.Size, cfg.ProviderTTL),
		rates:        NewLRUCache[[]*models.ModelRate](cfg.Size, cfg.ModelRateTTL),
		credits:      NewLRUCache[decimal.Decimal](cfg.Size, cfg.CreditTTL),
		meters:       NewLRUCache[*models.Meter](16, cfg.MeterTTL),
		logger:       utils.NewLogger("cache"),
	}
}

// readThrough serves key from c or loads it once per generation, so that
// concurrent misses share a single store query.
func readThrough[T any](ctx context.Context, l *Layer, name string, c *LRUCache[[]T], key string,
	fetch func(context.Context) ([]T, error)) ([]T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	gen := c.Generation()
	flight := fmt.Sprintf("%s|%d|%s", name, gen, key)
	v, err := l.share(ctx, flight, func(ctx context.Context) (any, error) {
		items, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			c.SetIfGeneration(key, items, gen)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

// share runs fn once for every concurrent caller of key. fn gets a context
// detached from any single caller and bounded by the fetch timeout; each caller
// still stops waiting when its own ctx is done.
func (l *Layer) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := l.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
		defer cancel()
		return fn(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// GetCachedProvider returns the enabled provider named name, or nil if there is none.
func (l *Layer) GetCachedProvider(ctx context.Context, name string) (*models.Provider, error) {
	providers, err := readThrough(ctx, l, "provider", l.providers, "name:"+name,
		func(ctx context.Context) ([]*models.Provider, error) {
			return l.store.FindProviders(ctx, storage.ProviderFilter{Names: []string{name}, EnabledOnly: true})
		})
	if err != nil {
		return nil, fmt.Errorf("load provider %s: %w", name, err)
	}
	if len(providers) == 0 {
		return nil, nil
	}
	return providers[0], nil
}

// GetEnabledProviders returns all enabled providers.
func (l *Layer) GetEnabledProviders(ctx context.Context) ([]*models.Provider, error) {
	providers, err := readThrough(ctx, l, "provider", l.providers, "enabled:*",
		func(ctx context.Context) ([]*models.Provider, error) {
			return l.store.FindProviders(ctx, storage.ProviderFilter{EnabledOnly: true})
		})
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	return providers, nil
}

// GetCachedCredentials returns the active credentials of the given providers.
func (l *Layer) GetCachedCredentials(ctx context.Context, providerIDs ...uuid.UUID) ([]*models.Credential, error) {
	if len(providerIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(providerIDs))
	for i, id := range providerIDs {
		ids[i] = id.String()
	}
	slices.Sort(ids)

	creds, err := readThrough(ctx, l, "credential", l.credentials, strings.Join(ids, ","),
		func(ctx context.Context) ([]*models.Credential, error) {
			return l.store.FindCredentials(ctx, storage.CredentialFilter{ProviderIDs: providerIDs, ActiveOnly: true})
		})
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return creds, nil
}

// GetCachedModelRates returns the rates matching q.
func (l *Layer) GetCachedModelRates(ctx context.Context, q RateQuery) ([]*models.ModelRate, error) {
	rates, err := readThrough(ctx, l, "rate", l.rates, q.key(),
		func(ctx context.Context) ([]*models.ModelRate, error) {
			f := storage.ModelRateFilter{Model: q.Model, Type: q.Type}
			if q.ProviderID != uuid.Nil {
				f.ProviderIDs = []uuid.UUID{q.ProviderID}
			}
			return l.store.FindModelRates(ctx, f)
		})
	if err != nil {
		return nil, fmt.Errorf("load model rates for %s: %w", q.Model, err)
	}
	return rates, nil
}

// DisableCredential marks a credential inactive with the failure reason. The
// credential cache is invalidated before it returns, even if the update failed.
func (l *Layer) DisableCredential(ctx context.Context, id, providerID uuid.UUID, reason string) error {
	inactive := false
	err := l.store.UpdateCredential(ctx, id, models.CredentialPatch{Active: &inactive, Error: &reason})
	l.ClearCredentialListCache()
	if err != nil {
		return fmt.Errorf("disable credential %s: %w", id, err)
	}
	l.logger.Warn("Credential disabled", "credentialId", id, "providerId", providerID, "reason", reason)
	return nil
}

// GetCachedCredit returns a cached positive balance for userDid.
func (l *Layer) GetCachedCredit(userDid string) (decimal.Decimal, bool) {
	return l.credits.Get(userDid)
}

// CacheCredit stores balance for userDid when it is positive. Zero and negative
// balances are never cached.
func (l *Layer) CacheCredit(userDid string, balance decimal.Decimal) {
	if !balance.IsPositive() {
		return
	}
	l.credits.Set(userDid, balance)
}

// GetCachedMeter returns the meter called name, loading it with fetch on a miss.
func (l *Layer) GetCachedMeter(ctx context.Context, name string, fetch func(context.Context) (*models.Meter, error)) (*models.Meter, error) {
	if m, ok := l.meters.Get(name); ok {
		return m, nil
	}
	gen := l.meters.Generation()
	v, err := l.share(ctx, fmt.Sprintf("meter|%d|%s", gen, name), func(ctx context.Context) (any, error) {
		m, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if m != nil {
			l.meters.SetIfGeneration(name, m, gen)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load meter %s: %w", name, err)
	}
	return v.(*models.Meter), nil
}

// ClearCredentialListCache drops every credential snapshot
func (l *Layer) ClearCredentialListCache() {
	l.credentials.Clear()
}

// ClearProviderCache drops every provider snapshot
func (l *Layer) ClearProviderCache() {
	l.providers.Clear()
}

// ClearModelRateCache drops every model rate snapshot
func (l *Layer) ClearModelRateCache() {
	l.rates.Clear()
}

// ClearCreditCache drops the balances of the given users, or all balances when
// none is given.
func (l *Layer) ClearCreditCache(userDids ...string) {
	if len(userDids) == 0 {
		l.credits.Clear()
		return
	}
	for _, did := range userDids {
		l.credits.Delete(did)
	}
}

// ClearMeterCache drops the cached meter definitions
func (l *Layer) ClearMeterCache() {
	l.meters.Clear()
}

// ClearAll drops every snapshot
func (l *Layer) ClearAll() {
	l.ClearCredentialListCache()
	l.ClearProviderCache()
	l.ClearModelRateCache()
	l.ClearCreditCache()
	l.ClearMeterCache()
}

// CleanupExpired sweeps expired entries from every cache
func (l *Layer) CleanupExpired() int {
	return l.credentials.CleanupExpired() +
		l.providers.CleanupExpired() +
		l.rates.CleanupExpired() +
		l.credits.CleanupExpired() +
		l.meters.CleanupExpired()
}

// Stats reports the size of each cache
func (l *Layer) Stats() map[string]CacheStats {
	return map[string]CacheStats{
		"credentials": l.credentials.GetStats(),
		"providers":   l.providers.GetStats(),
		"modelRates":  l.rates.GetStats(),
		"credits":     l.credits.GetStats(),
		"meters":      l.meters.GetStats(),
	}
}
