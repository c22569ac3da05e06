// Package tax computes the transfer tax and where it is sent.
package tax

import (
	"context"

	"github.com/shopspring/decimal"

	"govtoken/internal/access"
	"govtoken/internal/amount"
	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

const component = "tax"

// MaxRateBps is the highest configurable tax rate, 10%.
const MaxRateBps = 1000

// Config is the tax configuration.
type Config struct {
	RateBps  int64          `json:"rate_bps"`
	Enabled  bool           `json:"enabled"`
	Treasury domain.Address `json:"treasury"`
}

// Active reports whether transfers are taxed at all.
func (c Config) Active() bool {
	return c.Enabled && c.RateBps > 0 && !c.Treasury.IsZero()
}

type Engine struct {
	db     *state.DB
	config *state.Value[Config]
	access *access.Registry
	clock  clock.Clock
	logger logger.Logger
}

func NewEngine(db *state.DB, acl *access.Registry, clk clock.Clock, log logger.Logger) *Engine {
	return &Engine{
		db:     db,
		config: state.NewValue[Config](db, "tax.config"),
		access: acl,
		clock:  clk,
		logger: log,
	}
}

func (e *Engine) Config() Config {
	return e.config.Get()
}

// Treasury returns the configured tax sink, zero if unset.
func (e *Engine) Treasury() domain.Address {
	return e.config.Get().Treasury
}

// IsTreasury reports whether addr is the tax sink. The zero address never is.
func (e *Engine) IsTreasury(addr domain.Address) bool {
	t := e.config.Get().Treasury
	return !t.IsZero() && t == addr
}

// Compute returns the tax owed on amt; zero when tax is inactive.
func (e *Engine) Compute(amt decimal.Decimal) decimal.Decimal {
	cfg := e.config.Get()
	if !cfg.Active() {
		return decimal.Zero
	}
	return amount.Bps(amt, cfg.RateBps)
}

// SetTaxRate sets the rate in basis points. Requires governance.
func (e *Engine) SetTaxRate(ctx context.Context, caller domain.Address, bps int64) error {
	return e.update(ctx, caller, func(c *Config) error {
		if bps < 0 {
			return pkgerrors.Wrap(pkgerrors.ErrInvalidLimit, "negative tax rate")
		}
		if bps > MaxRateBps {
			return pkgerrors.ErrTaxRateTooHigh
		}
		c.RateBps = bps
		return nil
	})
}

// SetTaxEnabled switches taxation on or off. Requires governance.
func (e *Engine) SetTaxEnabled(ctx context.Context, caller domain.Address, enabled bool) error {
	return e.update(ctx, caller, func(c *Config) error {
		c.Enabled = enabled
		return nil
	})
}

// SetTreasury sets the tax sink. The zero address disables collection. Requires governance.
func (e *Engine) SetTreasury(ctx context.Context, caller, treasury domain.Address) error {
	return e.update(ctx, caller, func(c *Config) error {
		c.Treasury = treasury
		return nil
	})
}

func (e *Engine) update(ctx context.Context, caller domain.Address, mutate func(*Config) error) error {
	return e.db.Atomic(ctx, func(ctx context.Context) error {
		if err := e.access.Require(domain.CapGovernance, caller); err != nil {
			return err
		}
		cfg := e.config.Get()
		if err := mutate(&cfg); err != nil {
			return err
		}
		e.config.Set(ctx, cfg)

		fields := map[string]interface{}{
			"rate_bps": cfg.RateBps,
			"enabled":  cfg.Enabled,
			"treasury": cfg.Treasury.Hex(),
		}
		e.db.Emit(ctx, domain.NewEvent(component, domain.EventTaxConfigUpdated, e.clock.Now(), fields))
		e.logger.Info("Tax configuration updated", fields)
		return nil
	})
}
