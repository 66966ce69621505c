package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelIDFormat is how an aggregator expects the model id to be written.
type ModelIDFormat string

const (
	FormatBare  ModelIDFormat = "bare"  // gpt-4o
	FormatSlash ModelIDFormat = "slash" // openai/gpt-4o
	FormatDot   ModelIDFormat = "dot"   // anthropic.claude-3-haiku
)

// Rule maps a model name pattern to its vendor. Patterns are case-insensitive.
type Rule struct {
	Prefix   string `yaml:"prefix,omitempty"`
	Contains string `yaml:"contains,omitempty"`
	Vendor   Vendor `yaml:"vendor"`
}

func (r Rule) matches(model string) bool {
	switch {
	case r.Prefix != "":
		return strings.HasPrefix(model, strings.ToLower(r.Prefix))
	case r.Contains != "":
		return strings.Contains(model, strings.ToLower(r.Contains))
	}
	return false
}

// Aggregator is a provider that proxies models of other vendors.
type Aggregator struct {
	Vendor  Vendor            `yaml:"vendor"`
	Proxies []Vendor          `yaml:"proxies"` // "*" proxies every vendor
	Format  ModelIDFormat     `yaml:"format"`
	Aliases map[Vendor]string `yaml:"aliases,omitempty"`
}

func (a Aggregator) proxies(v Vendor) bool {
	for _, p := range a.Proxies {
		if p == "*" || p == v {
			return true
		}
	}
	return false
}

func (a Aggregator) prefixFor(v Vendor) string {
	if alias, ok := a.Aliases[v]; ok {
		return alias
	}
	return string(v)
}

// Catalog holds the inference rules and the aggregator table.
type Catalog struct {
	Rules []Rule `yaml:"rules"`
	// Direct lists vendors that are served by their own provider integration.
	Direct      []Vendor     `yaml:"direct"`
	Aggregators []Aggregator `yaml:"aggregators"`
}

// DefaultCatalog returns the built-in catalog. Aggregators are in priority order.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Rules: []Rule{
			{Prefix: "gpt-", Vendor: OpenAI},
			{Prefix: "chatgpt-", Vendor: OpenAI},
			{Prefix: "o1", Vendor: OpenAI},
			{Prefix: "o3", Vendor: OpenAI},
			{Prefix: "o4-", Vendor: OpenAI},
			{Prefix: "dall-e", Vendor: OpenAI},
			{Prefix: "text-embedding", Vendor: OpenAI},
			{Prefix: "sora", Vendor: OpenAI},
			{Contains: "gemini", Vendor: Google},
			{Contains: "gemma", Vendor: Google},
			{Contains: "imagen", Vendor: Google},
			{Contains: "claude", Vendor: Anthropic},
			{Contains: "deepseek", Vendor: DeepSeek},
			{Contains: "grok", Vendor: XAI},
			{Contains: "doubao", Vendor: Doubao},
			{Contains: "llama", Vendor: Meta},
			{Contains: "mistral", Vendor: Mistral},
			{Contains: "mixtral", Vendor: Mistral},
			{Contains: "codestral", Vendor: Mistral},
			{Contains: "qwen", Vendor: Qwen},
			{Prefix: "yi-", Vendor: Yi},
			{Prefix: "phi-", Vendor: Microsoft},
		},
		Direct: []Vendor{OpenAI, Anthropic, Google, DeepSeek, XAI, Doubao, Mistral},
		Aggregators: []Aggregator{
			{
				Vendor:  OpenRouter,
				Proxies: []Vendor{"*"},
				Format:  FormatSlash,
				Aliases: map[Vendor]string{Meta: "meta-llama", Mistral: "mistralai", XAI: "x-ai"},
			},
			{
				Vendor:  Poe,
				Proxies: []Vendor{OpenAI, Anthropic, Google, DeepSeek, XAI, Meta, Mistral, Qwen},
				Format:  FormatBare,
			},
			{
				Vendor:  Bedrock,
				Proxies: []Vendor{Anthropic, Meta, Mistral, DeepSeek},
				Format:  FormatDot,
			},
			{
				Vendor:  Ollama,
				Proxies: []Vendor{Meta, Mistral, Qwen, Yi, Microsoft, DeepSeek},
				Format:  FormatBare,
			},
		},
	}
}

// isDirect reports whether v has its own provider integration.
func (c *Catalog) isDirect(v Vendor) bool {
	for _, d := range c.Direct {
		if d == v {
			return true
		}
	}
	return false
}

func (c *Catalog) aggregator(v Vendor) (Aggregator, bool) {
	for _, a := range c.Aggregators {
		if a.Vendor == v {
			return a, true
		}
	}
	return Aggregator{}, false
}

// Validate checks that every rule and aggregator is usable.
func (c *Catalog) Validate() error {
	for i, r := range c.Rules {
		if r.Vendor == "" {
			return fmt.Errorf("catalog: rule[%d]: vendor is required", i)
		}
		if r.Prefix == "" && r.Contains == "" {
			return fmt.Errorf("catalog: rule[%d]: prefix or contains is required", i)
		}
	}
	seen := make(map[Vendor]bool, len(c.Aggregators))
	for i, a := range c.Aggregators {
		if a.Vendor == "" {
			return fmt.Errorf("catalog: aggregator[%d]: vendor is required", i)
		}
		if seen[a.Vendor] {
			return fmt.Errorf("catalog: duplicate aggregator %q", a.Vendor)
		}
		seen[a.Vendor] = true
		switch a.Format {
		case FormatBare, FormatSlash, FormatDot:
		default:
			return fmt.Errorf("catalog: aggregator %q: unknown format %q", a.Vendor, a.Format)
		}
	}
	return nil
}

// LoadCatalogFile reads a YAML override and merges it over the default catalog.
// Override rules are evaluated before the built-in ones; a non-empty aggregator
// list replaces the built-in table; direct vendors are added.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var override Catalog
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &override); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	merged := DefaultCatalog()
	merged.Rules = append(override.Rules, merged.Rules...)
	for _, d := range override.Direct {
		if !merged.isDirect(d) {
			merged.Direct = append(merged.Direct, d)
		}
	}
	if len(override.Aggregators) > 0 {
		merged.Aggregators = override.Aggregators
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}
