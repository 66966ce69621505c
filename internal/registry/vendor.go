// Package registry maps model names to the vendors that can serve them.
package registry

import "strings"

// Vendor names a model vendor or a provider integration. Provider rows are
// named after the vendor they integrate.
type Vendor string

const (
	OpenAI     Vendor = "openai"
	Anthropic  Vendor = "anthropic"
	Bedrock    Vendor = "bedrock"
	DeepSeek   Vendor = "deepseek"
	Google     Vendor = "google"
	Ollama     Vendor = "ollama"
	OpenRouter Vendor = "openRouter"
	XAI        Vendor = "xai"
	Poe        Vendor = "poe"
	Doubao     Vendor = "doubao"
	Mistral    Vendor = "mistral"

	// Model vendors without a first-party integration; reachable via aggregators only.
	Meta      Vendor = "meta"
	Qwen      Vendor = "qwen"
	Yi        Vendor = "01-ai"
	Microsoft Vendor = "microsoft"
)

// ProviderVendors lists every vendor that can appear as a Provider name.
var ProviderVendors = []Vendor{
	OpenAI, Anthropic, Bedrock, DeepSeek, Google, Ollama, OpenRouter, XAI, Poe, Doubao, Mistral,
}

// ParseProviderVendor matches name case-insensitively against ProviderVendors.
func ParseProviderVendor(name string) (Vendor, bool) {
	for _, v := range ProviderVendors {
		if strings.EqualFold(string(v), name) {
			return v, true
		}
	}
	return "", false
}

func (v Vendor) String() string {
	return string(v)
}
