package registry

import (
	"context"
	"fmt"
)

// ModelLocation is a place in a request body that can carry the model id.
type ModelLocation int

const (
	TopLevel ModelLocation = iota
	NestedInput
	NestedModelOptions
)

func (l ModelLocation) String() string {
	switch l {
	case TopLevel:
		return "model"
	case NestedInput:
		return "input.model"
	case NestedModelOptions:
		return "input.modelOptions.model"
	}
	return "unknown"
}

// locations are searched in this order; the first one present wins.
var locations = []ModelLocation{TopLevel, NestedInput, NestedModelOptions}

func (l ModelLocation) container(body map[string]any) map[string]any {
	switch l {
	case TopLevel:
		return body
	case NestedInput:
		input, _ := body["input"].(map[string]any)
		return input
	case NestedModelOptions:
		input, _ := body["input"].(map[string]any)
		if input == nil {
			return nil
		}
		opts, _ := input["modelOptions"].(map[string]any)
		return opts
	}
	return nil
}

// Get returns the model string at l, if any.
func (l ModelLocation) Get(body map[string]any) (string, bool) {
	c := l.container(body)
	if c == nil {
		return "", false
	}
	s, ok := c["model"].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Set writes model at l. It only writes where a container already exists.
func (l ModelLocation) Set(body map[string]any, model string) bool {
	c := l.container(body)
	if c == nil {
		return false
	}
	c["model"] = model
	return true
}

// ProviderPicker chooses a provider for a bare model id. It returns "" when no
// provider has an active credential.
type ProviderPicker interface {
	PickProvider(ctx context.Context, model string) (Vendor, error)
}

// FindModel returns the model id of body and every location that carries it.
func FindModel(body map[string]any) (string, []ModelLocation) {
	var model string
	var found []ModelLocation
	for _, loc := range locations {
		if v, ok := loc.Get(body); ok {
			if model == "" {
				model = v
			}
			found = append(found, loc)
		}
	}
	return model, found
}

// EnsureModelWithProvider makes sure the model of body is written as
// "provider/model". An unprefixed model gets a provider from picker, or the
// default provider when picker has none. The resolved id is written back to
// every location the model was found in and returned.
func (r *Registry) EnsureModelWithProvider(ctx context.Context, body map[string]any, picker ProviderPicker) (string, error) {
	model, found := FindModel(body)
	if model == "" {
		return "", ErrMissingModel
	}

	provider, bare := r.SplitModel(model)
	if provider == "" {
		if _, ok := r.InferVendorFromModel(bare); !ok {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
		}
		if picker != nil {
			picked, err := picker.PickProvider(ctx, bare)
			if err != nil {
				return "", fmt.Errorf("pick provider for %s: %w", bare, err)
			}
			provider = picked
		}
		if provider == "" {
			def, ok := r.GetDefaultProviderForModel(bare)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
			}
			provider = def
		}
	}

	resolved := string(provider) + "/" + bare
	for _, loc := range found {
		loc.Set(body, resolved)
	}
	return resolved, nil
}
