package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aigateway/internal/models"
)

// Ledger is the payment service that owns credit balances.
type Ledger interface {
	// GetBalanceSummary returns the spendable balance of userDid in currencyID.
	GetBalanceSummary(ctx context.Context, userDid, currencyID string) (decimal.Decimal, error)

	// VerifyAutoPurchase reports whether userDid may continue on an empty balance.
	VerifyAutoPurchase(ctx context.Context, userDid string) (bool, error)

	// RecordMeterEvent charges consumed credits to the user.
	RecordMeterEvent(ctx context.Context, event MeterEvent) error

	// GetMeter returns the meter definition called name.
	GetMeter(ctx context.Context, name string) (*models.Meter, error)
}

// MeterEvent is one charge reported to the ledger. ID doubles as the idempotency key.
type MeterEvent struct {
	ID        uuid.UUID       `json:"id"`
	Meter     string          `json:"meter"`
	UserDid   string          `json:"userDid"`
	AppID     string          `json:"appId,omitempty"`
	UsageID   uuid.UUID       `json:"usageId"`
	Model     string          `json:"model,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// LedgerError is a non-2xx answer from the ledger.
type LedgerError struct {
	Status int
	Body   string
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger returned %d: %s", e.Status, e.Body)
}

// HTTPLedger talks to the ledger's REST API.
type HTTPLedger struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPLedger creates a ledger client. timeout bounds every call.
func NewHTTPLedger(baseURL, apiKey string, timeout time.Duration) *HTTPLedger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type balanceSummary struct {
	Balance decimal.Decimal `json:"balance"`
}

func (l *HTTPLedger) GetBalanceSummary(ctx context.Context, userDid, currencyID string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("userDid", userDid)
	if currencyID != "" {
		q.Set("currencyId", currencyID)
	}

	var out balanceSummary
	if err := l.do(ctx, http.MethodGet, "/api/credit/summary?"+q.Encode(), nil, nil, &out); err != nil {
		return decimal.Zero, fmt.Errorf("get balance summary: %w", err)
	}
	return out.Balance, nil
}

func (l *HTTPLedger) VerifyAutoPurchase(ctx context.Context, userDid string) (bool, error) {
	var out struct {
		CanContinue bool `json:"canContinue"`
	}
	body := map[string]string{"userDid": userDid}
	if err := l.do(ctx, http.MethodPost, "/api/credit/auto-purchase/verify", body, nil, &out); err != nil {
		return false, fmt.Errorf("verify auto purchase: %w", err)
	}
	return out.CanContinue, nil
}

func (l *HTTPLedger) RecordMeterEvent(ctx context.Context, event MeterEvent) error {
	headers := map[string]string{"Idempotency-Key": event.ID.String()}
	if err := l.do(ctx, http.MethodPost, "/api/meter-events", event, headers, nil); err != nil {
		return fmt.Errorf("record meter event: %w", err)
	}
	return nil
}

func (l *HTTPLedger) GetMeter(ctx context.Context, name string) (*models.Meter, error) {
	var m models.Meter
	if err := l.do(ctx, http.MethodGet, "/api/meters/"+url.PathEscape(name), nil, nil, &m); err != nil {
		return nil, fmt.Errorf("get meter %s: %w", name, err)
	}
	if m.Name == "" {
		m.Name = name
	}
	return &m, nil
}

func (l *HTTPLedger) do(ctx context.Context, method, path string, in any, headers map[string]string, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &LedgerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NoopLedger grants everything and discards meter events.
type NoopLedger struct{}

func NewNoopLedger() *NoopLedger {
	return &NoopLedger{}
}

func (NoopLedger) GetBalanceSummary(ctx context.Context, userDid, currencyID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (NoopLedger) VerifyAutoPurchase(ctx context.Context, userDid string) (bool, error) {
	return true, nil
}

func (NoopLedger) RecordMeterEvent(ctx context.Context, event MeterEvent) error {
	return nil
}

func (NoopLedger) GetMeter(ctx context.Context, name string) (*models.Meter, error) {
	return &models.Meter{Name: name}, nil
}
