package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// httpCaller is shared by the HTTP based adapters.
type httpCaller struct {
	settings Settings
}

// post sends body as JSON and returns the response once the status is 2xx.
// Any other outcome is a VendorError and the body is closed.
func (c httpCaller) post(ctx context.Context, url string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.settings.Auth != nil {
		if err := c.settings.Auth.Apply(ctx, req, payload); err != nil {
			return nil, &VendorError{Vendor: c.settings.Vendor, Kind: KindAuth, Err: err}
		}
	}
	for k, v := range c.settings.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.settings.client().Do(req)
	if err != nil {
		return nil, transportError(ctx, c.settings.Vendor, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		// Read body for error context, but don't fail if we can't.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, statusError(c.settings.Vendor, resp.StatusCode, string(msg))
	}
	return resp, nil
}

// postJSON posts body and decodes the answer into out.
func (c httpCaller) postJSON(ctx context.Context, url string, body, out any) error {
	resp, err := c.post(ctx, url, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError(ctx, c.settings.Vendor, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
