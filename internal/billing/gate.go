package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"aigateway/internal/models"
	"aigateway/internal/utils"
)

// ErrInsufficientCredit is returned when a user may not spend.
var ErrInsufficientCredit = errors.New("insufficient credit")

// CreditCache holds positive balances and meter definitions.
type CreditCache interface {
	GetCachedCredit(userDid string) (decimal.Decimal, bool)
	CacheCredit(userDid string, balance decimal.Decimal)
	GetCachedMeter(ctx context.Context, name string, fetch func(context.Context) (*models.Meter, error)) (*models.Meter, error)
}

// CreditGate decides whether a caller may spend before any vendor is called.
type CreditGate struct {
	enabled   bool
	meterName string
	ledger    Ledger
	cache     CreditCache
	logger    *utils.Logger
}

// NewCreditGate creates a gate. A disabled gate allows every caller.
func NewCreditGate(enabled bool, meterName string, ledger Ledger, cache CreditCache) *CreditGate {
	return &CreditGate{
		enabled:   enabled,
		meterName: meterName,
		ledger:    ledger,
		cache:     cache,
		logger:    utils.NewLogger("credit-gate"),
	}
}

// Enabled reports whether credit billing is on
func (g *CreditGate) Enabled() bool {
	return g.enabled
}

// CheckUserCreditBalance returns nil when userDid may spend and
// ErrInsufficientCredit when not. Other errors mean the ledger could not be asked.
func (g *CreditGate) CheckUserCreditBalance(ctx context.Context, userDid string) error {
	if !g.enabled {
		return nil
	}

	if balance, ok := g.cache.GetCachedCredit(userDid); ok && balance.IsPositive() {
		return nil
	}

	meter, err := g.cache.GetCachedMeter(ctx, g.meterName, func(ctx context.Context) (*models.Meter, error) {
		return g.ledger.GetMeter(ctx, g.meterName)
	})
	if err != nil {
		return err
	}
	currencyID := ""
	if meter != nil {
		currencyID = meter.CurrencyID
	}

	balance, err := g.ledger.GetBalanceSummary(ctx, userDid, currencyID)
	if err != nil {
		return err
	}
	if balance.IsPositive() {
		g.cache.CacheCredit(userDid, balance)
		return nil
	}

	ok, err := g.ledger.VerifyAutoPurchase(ctx, userDid)
	if err != nil {
		return err
	}
	if !ok {
		g.logger.Debug("Credit check refused", "userDid", userDid, "balance", balance.String())
		return fmt.Errorf("%w: balance %s", ErrInsufficientCredit, balance.String())
	}
	return nil
}
