// Package mint bounds token creation by a yearly inflation budget and a
// global supply cap.
package mint

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"govtoken/internal/access"
	"govtoken/internal/amount"
	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

const (
	component = "mint"

	// PeriodLength is the inflation budget period.
	PeriodLength = 365 * 24 * time.Hour
	// DefaultInflationBps is the yearly mint allowance as a share of supply, 6%.
	DefaultInflationBps = 600
	// MaxInflationBps bounds SetInflationRate.
	MaxInflationBps = 1000
)

// Budget is the mint allowance of the current period.
type Budget struct {
	PeriodStart      time.Time       `json:"period_start"`
	MintedThisPeriod decimal.Decimal `json:"minted_this_period"`
	PeriodLimit      decimal.Decimal `json:"period_limit"`
}

// Config fixes the supply ceiling and the starting inflation rate.
// A nil InflationBps selects DefaultInflationBps; zero disables minting.
type Config struct {
	GlobalCap    decimal.Decimal
	InflationBps *int64
}

type Controller struct {
	db        *state.DB
	budget    *state.Value[Budget]
	rate      *state.Value[int64]
	globalCap decimal.Decimal
	initial   int64
	access    *access.Registry
	clock     clock.Clock
	logger    logger.Logger
}

func NewController(db *state.DB, acl *access.Registry, clk clock.Clock, log logger.Logger, cfg Config) *Controller {
	initial := int64(DefaultInflationBps)
	if cfg.InflationBps != nil {
		initial = *cfg.InflationBps
	}
	return &Controller{
		db:        db,
		budget:    state.NewValue[Budget](db, "mint.budget"),
		rate:      state.NewValue[int64](db, "mint.rate"),
		globalCap: cfg.GlobalCap,
		initial:   initial,
		access:    acl,
		clock:     clk,
		logger:    log,
	}
}

func (c *Controller) GlobalCap() decimal.Decimal {
	return c.globalCap
}

// InflationBps returns the rate applied at the next rollover.
func (c *Controller) InflationBps() int64 {
	if bps, ok := c.rate.Lookup(); ok {
		return bps
	}
	return c.initial
}

// SetInflationRate changes the rate used when the next period starts. Requires governance.
func (c *Controller) SetInflationRate(ctx context.Context, caller domain.Address, bps int64) error {
	return c.db.Atomic(ctx, func(ctx context.Context) error {
		if err := c.access.Require(domain.CapGovernance, caller); err != nil {
			return err
		}
		if bps < 0 || bps > MaxInflationBps {
			return pkgerrors.Wrap(pkgerrors.ErrInvalidLimit, "inflation rate out of range")
		}
		c.rate.Set(ctx, bps)
		c.db.Emit(ctx, domain.NewEvent(component, domain.EventInflationRateUpdated, c.clock.Now(), map[string]interface{}{
			"rate_bps": bps,
		}))
		c.logger.Info("Inflation rate updated", map[string]interface{}{"rate_bps": bps})
		return nil
	})
}

// Start opens the first period with a limit derived from supply. It is a
// no-op once a period exists.
func (c *Controller) Start(ctx context.Context, supply decimal.Decimal) {
	if _, ok := c.budget.Lookup(); ok {
		return
	}
	c.roll(ctx, supply)
}

// CheckCap fails when minting amt on top of supply would pass the global cap.
func (c *Controller) CheckCap(supply, amt decimal.Decimal) error {
	if supply.Add(amt).GreaterThan(c.globalCap) {
		return pkgerrors.Wrap(pkgerrors.ErrGlobalCapExceeded, supply.Add(amt).String())
	}
	return nil
}

// Charge reserves amt of this period's budget. supply is the total supply
// before the mint; the period rolls first if it has ended.
func (c *Controller) Charge(ctx context.Context, supply, amt decimal.Decimal) error {
	if err := c.CheckCap(supply, amt); err != nil {
		return err
	}
	b, ok := c.budget.Lookup()
	if !ok || !c.clock.Now().Before(b.PeriodStart.Add(PeriodLength)) {
		b = c.roll(ctx, supply)
	}
	if b.MintedThisPeriod.Add(amt).GreaterThan(b.PeriodLimit) {
		return pkgerrors.Wrap(pkgerrors.ErrInflationLimitReached, b.PeriodLimit.Sub(b.MintedThisPeriod).String()+" remaining")
	}
	b.MintedThisPeriod = b.MintedThisPeriod.Add(amt)
	c.budget.Set(ctx, b)
	return nil
}

func (c *Controller) roll(ctx context.Context, supply decimal.Decimal) Budget {
	b := Budget{
		PeriodStart:      c.clock.Now(),
		MintedThisPeriod: decimal.Zero,
		PeriodLimit:      amount.Bps(supply, c.InflationBps()),
	}
	c.budget.Set(ctx, b)
	c.db.Emit(ctx, domain.NewEvent(component, domain.EventMintPeriodRolled, b.PeriodStart, map[string]interface{}{
		"period_limit": b.PeriodLimit.String(),
		"supply":       supply.String(),
	}))
	c.logger.Info("Mint period rolled", map[string]interface{}{
		"period_limit": b.PeriodLimit.String(),
		"supply":       supply.String(),
	})
	return b
}

// Budget returns the stored period.
func (c *Controller) Budget() Budget {
	return c.budget.Get()
}

// RemainingThisPeriod is what may still be minted before the next rollover,
// ignoring the global cap. An ended period reports zero until it rolls.
func (c *Controller) RemainingThisPeriod() decimal.Decimal {
	b, ok := c.budget.Lookup()
	if !ok || !c.clock.Now().Before(b.PeriodStart.Add(PeriodLength)) {
		return decimal.Zero
	}
	return b.PeriodLimit.Sub(b.MintedThisPeriod)
}
