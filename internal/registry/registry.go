package registry

import (
	"errors"
	"strings"
	"sync/atomic"

	"aigateway/internal/utils"
)

var (
	// ErrUnsupportedModel is returned when no vendor can serve a model
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrMissingModel is returned when a request carries no model field
	ErrMissingModel = errors.New("model is required")
)

// Registry answers vendor questions against the current catalog. The catalog
// can be swapped at runtime; each call sees one consistent catalog.
type Registry struct {
	catalog atomic.Pointer[Catalog]
	logger  *utils.Logger
}

// New creates a registry using catalog, or the default catalog when nil.
func New(catalog *Catalog) *Registry {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := &Registry{logger: utils.NewLogger("registry")}
	r.catalog.Store(catalog)
	return r
}

// Catalog returns the active catalog
func (r *Registry) Catalog() *Catalog {
	return r.catalog.Load()
}

// SetCatalog swaps the active catalog
func (r *Registry) SetCatalog(c *Catalog) {
	r.catalog.Store(c)
}

// InferVendorFromModel returns the vendor of model, or false when the name is not
// recognized. Callers must treat false as unsupported.
func (r *Registry) InferVendorFromModel(model string) (Vendor, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return "", false
	}
	// openRouter and bedrock style ids carry the vendor already
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, rule := range r.Catalog().Rules {
		if rule.matches(m) {
			return rule.Vendor, true
		}
	}
	return "", false
}

// GetSupportedProviders returns the direct vendor of model (when it has an
// integration) followed by every aggregator that proxies it, in priority order.
func (r *Registry) GetSupportedProviders(model string) []Vendor {
	vendor, ok := r.InferVendorFromModel(model)
	if !ok {
		return nil
	}

	c := r.Catalog()
	var out []Vendor
	if c.isDirect(vendor) {
		out = append(out, vendor)
	}
	for _, a := range c.Aggregators {
		if a.proxies(vendor) {
			out = append(out, a.Vendor)
		}
	}
	return out
}

// GetDefaultProviderForModel returns the first supported provider of model.
func (r *Registry) GetDefaultProviderForModel(model string) (Vendor, bool) {
	providers := r.GetSupportedProviders(model)
	if len(providers) == 0 {
		return "", false
	}
	return providers[0], true
}

// ResolveProviderModelID writes model the way provider expects it. vendor may be
// empty, in which case it is inferred from model.
func (r *Registry) ResolveProviderModelID(provider Vendor, model string, vendor Vendor) string {
	if vendor == "" {
		vendor, _ = r.InferVendorFromModel(model)
	}

	agg, ok := r.Catalog().aggregator(provider)
	if !ok {
		return bareModel(model)
	}

	switch agg.Format {
	case FormatSlash:
		if strings.Contains(model, "/") || vendor == "" {
			return model
		}
		return agg.prefixFor(vendor) + "/" + model
	case FormatDot:
		bare := bareModel(model)
		if vendor == "" {
			return bare
		}
		prefix := agg.prefixFor(vendor) + "."
		if strings.HasPrefix(bare, prefix) {
			return bare
		}
		return prefix + bare
	default:
		return bareModel(model)
	}
}

// SplitModel separates a "provider/model" id. provider is empty when the prefix
// is not a known provider vendor.
func (r *Registry) SplitModel(model string) (provider Vendor, bare string) {
	if i := strings.Index(model, "/"); i > 0 {
		if v, ok := ParseProviderVendor(model[:i]); ok {
			return v, model[i+1:]
		}
	}
	return "", model
}

// bareModel drops an aggregator vendor prefix ("meta-llama/llama-3" -> "llama-3").
func bareModel(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}
