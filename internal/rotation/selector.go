// Package rotation picks the (provider, credential) pair to try next for a model.
package rotation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"aigateway/internal/models"
	"aigateway/internal/registry"
)

// Source is the cached configuration the selector reads.
type Source interface {
	GetCachedProvider(ctx context.Context, name string) (*models.Provider, error)
	GetCachedCredentials(ctx context.Context, providerIDs ...uuid.UUID) ([]*models.Credential, error)
}

// Candidate is one provider attempt.
type Candidate struct {
	Vendor     registry.Vendor
	Provider   *models.Provider
	Credential *models.Credential
	// Model is the id in the form the provider expects.
	Model string
}

// Options restrict a selection.
type Options struct {
	// Prefer pins the choice to this provider when it has an active credential.
	Prefer registry.Vendor
	// Exclude lists provider IDs already tried by the request.
	Exclude map[uuid.UUID]bool
}

func (o Options) restricted() bool {
	return o.Prefer != "" || len(o.Exclude) > 0
}

// Selector spreads load with smooth weighted round robin over every eligible
// (provider, credential) pair of a model. Its state is per process and advisory;
// callers retrying a request must pass the providers they already tried.
type Selector struct {
	registry *registry.Registry
	source   Source

	mu    sync.Mutex
	state map[string]map[uuid.UUID]int
}

// NewSelector creates a selector
func NewSelector(reg *registry.Registry, source Source) *Selector {
	return &Selector{
		registry: reg,
		source:   source,
		state:    make(map[string]map[uuid.UUID]int),
	}
}

type pair struct {
	vendor     registry.Vendor
	provider   *models.Provider
	credential *models.Credential
}

// eligible lists the pairs of model's supported providers that are enabled,
// not excluded and have active credentials.
func (s *Selector) eligible(ctx context.Context, model string, opts Options) ([]pair, error) {
	vendors := s.registry.GetSupportedProviders(model)
	if opts.Prefer != "" {
		vendors = append([]registry.Vendor{opts.Prefer}, vendors...)
	}

	seen := make(map[registry.Vendor]bool, len(vendors))
	var pairs []pair
	for _, v := range vendors {
		if seen[v] {
			continue
		}
		seen[v] = true

		provider, err := s.source.GetCachedProvider(ctx, string(v))
		if err != nil {
			return nil, err
		}
		if provider == nil || opts.Exclude[provider.ID] {
			continue
		}
		creds, err := s.source.GetCachedCredentials(ctx, provider.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range creds {
			if c.Active {
				pairs = append(pairs, pair{vendor: v, provider: provider, credential: c})
			}
		}
	}

	if opts.Prefer != "" {
		var preferred []pair
		for _, p := range pairs {
			if p.vendor == opts.Prefer {
				preferred = append(preferred, p)
			}
		}
		if len(preferred) > 0 {
			return preferred, nil
		}
	}
	return pairs, nil
}

// Next returns the next candidate for model, or nil when no provider has an
// active credential.
func (s *Selector) Next(ctx context.Context, model string, opts Options) (*Candidate, error) {
	pairs, err := s.eligible(ctx, model, opts)
	if err != nil {
		return nil, fmt.Errorf("select provider for %s: %w", model, err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	chosen := s.pick(model, pairs, !opts.restricted())
	return &Candidate{
		Vendor:     chosen.vendor,
		Provider:   chosen.provider,
		Credential: chosen.credential,
		Model:      s.registry.ResolveProviderModelID(chosen.vendor, model, ""),
	}, nil
}

// pick runs one smooth weighted round robin step.
func (s *Selector) pick(model string, pairs []pair, prune bool) pair {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state[model]
	if !ok {
		current = make(map[uuid.UUID]int, len(pairs))
		s.state[model] = current
	}

	total := 0
	best := -1
	for i, p := range pairs {
		w := p.credential.EffectiveWeight()
		current[p.credential.ID] += w
		total += w
		if best < 0 || current[p.credential.ID] > current[pairs[best].credential.ID] {
			best = i
		}
	}
	current[pairs[best].credential.ID] -= total

	if prune && len(current) > len(pairs) {
		live := make(map[uuid.UUID]bool, len(pairs))
		for _, p := range pairs {
			live[p.credential.ID] = true
		}
		for id := range current {
			if !live[id] {
				delete(current, id)
			}
		}
	}

	return pairs[best]
}

// GetNextProviderForModel returns the next candidate without restrictions.
func (s *Selector) GetNextProviderForModel(ctx context.Context, model string) (*Candidate, error) {
	return s.Next(ctx, model, Options{})
}

// PickProvider chooses a provider vendor for model, or "" when none is usable.
func (s *Selector) PickProvider(ctx context.Context, model string) (registry.Vendor, error) {
	c, err := s.Next(ctx, model, Options{})
	if err != nil || c == nil {
		return "", err
	}
	return c.Vendor, nil
}

// CountProviders returns how many distinct providers could serve model.
func (s *Selector) CountProviders(ctx context.Context, model string, prefer registry.Vendor) (int, error) {
	pairs, err := s.eligible(ctx, model, Options{})
	if err != nil {
		return 0, err
	}
	providers := make(map[uuid.UUID]bool)
	for _, p := range pairs {
		providers[p.provider.ID] = true
	}
	if prefer != "" {
		if p, err := s.source.GetCachedProvider(ctx, string(prefer)); err == nil && p != nil {
			providers[p.ID] = true
		}
	}
	return len(providers), nil
}
