// Package velocity enforces per-transfer caps and a daily spend budget per account.
package velocity

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
	component = "velocity"
	day       = int64(24 * time.Hour / time.Second)
)

// Window is an account's spend for its current day.
type Window struct {
	LastResetDay int64           `json:"last_reset_day"`
	SpentToday   decimal.Decimal `json:"spent_today"`
}

// Limits are the global velocity caps.
type Limits struct {
	MaxTransfer decimal.Decimal `json:"max_transfer"`
	DailyLimit  decimal.Decimal `json:"daily_limit"`
}

type Ledger struct {
	db       *state.DB
	windows  *state.Map[domain.Address, Window]
	excluded *state.Map[domain.Address, bool]
	limits   *state.Value[Limits]
	defaults Limits
	access   *access.Registry
	clock    clock.Clock
	logger   logger.Logger
}

func NewLedger(db *state.DB, acl *access.Registry, clk clock.Clock, log logger.Logger, defaults Limits) *Ledger {
	return &Ledger{
		db:       db,
		windows:  state.NewMap[domain.Address, Window](db, "velocity.windows", state.AddressKeys),
		excluded: state.NewMap[domain.Address, bool](db, "velocity.excluded", state.AddressKeys),
		limits:   state.NewValue[Limits](db, "velocity.limits"),
		defaults: defaults,
		access:   acl,
		clock:    clk,
		logger:   log,
	}
}

// DayIndex is the number of whole days since the Unix epoch.
func DayIndex(t time.Time) int64 {
	return t.Unix() / day
}

// Limits returns the active caps.
func (l *Ledger) Limits() Limits {
	if stored, ok := l.limits.Lookup(); ok {
		return stored
	}
	return l.defaults
}

// SetLimits replaces both caps. Requires governance.
func (l *Ledger) SetLimits(ctx context.Context, caller domain.Address, maxTransfer, dailyLimit decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.access.Require(domain.CapGovernance, caller); err != nil {
			return err
		}
		if err := amount.ValidatePositive(maxTransfer); err != nil {
			return pkgerrors.Wrap(pkgerrors.ErrInvalidLimit, "max transfer")
		}
		if err := amount.ValidatePositive(dailyLimit); err != nil {
			return pkgerrors.Wrap(pkgerrors.ErrInvalidLimit, "daily limit")
		}
		l.limits.Set(ctx, Limits{MaxTransfer: maxTransfer, DailyLimit: dailyLimit})
		l.db.Emit(ctx, domain.NewEvent(component, domain.EventLimitsUpdated, l.clock.Now(), map[string]interface{}{
			"max_transfer": maxTransfer.String(),
			"daily_limit":  dailyLimit.String(),
		}))
		l.logger.Info("Velocity limits updated", map[string]interface{}{
			"max_transfer": maxTransfer.String(),
			"daily_limit":  dailyLimit.String(),
		})
		return nil
	})
}

// SetExcluded flags owner as exempt from both caps. Requires compliance.
func (l *Ledger) SetExcluded(ctx context.Context, caller, owner domain.Address, excluded bool) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.access.Require(domain.CapCompliance, caller); err != nil {
			return err
		}
		return l.exclude(ctx, owner, excluded)
	})
}

// Exclude sets the exemption flag without a capability check. It is used by
// the token bootstrap for the initial holder.
func (l *Ledger) Exclude(ctx context.Context, owner domain.Address) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		return l.exclude(ctx, owner, true)
	})
}

func (l *Ledger) exclude(ctx context.Context, owner domain.Address, excluded bool) error {
	if owner.IsZero() {
		return pkgerrors.ErrZeroAddress
	}
	if excluded {
		l.excluded.Set(ctx, owner, true)
	} else {
		l.excluded.Delete(ctx, owner)
	}
	l.db.Emit(ctx, domain.NewEvent(component, domain.EventLimitExclusionSet, l.clock.Now(), map[string]interface{}{
		"account":  owner.Hex(),
		"excluded": excluded,
	}))
	return nil
}

func (l *Ledger) IsExcluded(owner domain.Address) bool {
	return l.excluded.Value(owner)
}

// Consume charges amount against owner's caps. The window rolls over once
// when the day index changes; the spend is committed only if both caps hold.
func (l *Ledger) Consume(ctx context.Context, owner domain.Address, amt decimal.Decimal) error {
	limits := l.Limits()
	if amt.GreaterThan(limits.MaxTransfer) {
		return pkgerrors.Wrap(pkgerrors.ErrMaxTransferExceeded, amt.String())
	}

	w := l.current(owner)
	if w.SpentToday.Add(amt).GreaterThan(limits.DailyLimit) {
		return pkgerrors.Wrap(pkgerrors.ErrDailyLimitExceeded, owner.Hex())
	}
	w.SpentToday = w.SpentToday.Add(amt)
	l.windows.Set(ctx, owner, w)
	return nil
}

// Window returns owner's window as of now.
func (l *Ledger) Window(owner domain.Address) Window {
	return l.current(owner)
}

// Remaining is what owner may still send today.
func (l *Ledger) Remaining(owner domain.Address) decimal.Decimal {
	left := l.Limits().DailyLimit.Sub(l.current(owner).SpentToday)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

func (l *Ledger) current(owner domain.Address) Window {
	today := DayIndex(l.clock.Now())
	w, ok := l.windows.Get(owner)
	if !ok || w.LastResetDay != today {
		return Window{LastResetDay: today, SpentToday: decimal.Zero}
	}
	return w
}
