// Package treasury holds protocol funds behind an initial lock and
// recurring, capped spending windows.
package treasury

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"govtoken/internal/access"
	"govtoken/internal/amount"
	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/reentrancy"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

const component = "treasury"

// Asset is a balance store the vault can disburse from.
type Asset interface {
	BalanceOf(ctx context.Context, owner domain.Address) decimal.Decimal
	Transfer(ctx context.Context, from, to domain.Address, amt decimal.Decimal) error
}

// State is the vault's lifecycle position.
type State string

const (
	StateLocked       State = "LOCKED"
	StateWindowClosed State = "WINDOW_CLOSED"
	StateWindowOpen   State = "WINDOW_OPEN"
)

// Config fixes the vault's schedule.
type Config struct {
	LockDuration time.Duration
	WindowLength time.Duration
	LimitBps     int64
}

// Window is the vault's schedule record.
type Window struct {
	InitialUnlockAt time.Time `json:"initial_unlock_at"`
	Start           time.Time `json:"window_start"`
	End             time.Time `json:"window_end"`
}

func (w Window) open(now time.Time) bool {
	return !w.End.IsZero() && !now.Before(w.Start) && !now.After(w.End)
}

// budgetKey scopes per-asset counters to one window.
type budgetKey struct {
	WindowStart int64
	Asset       domain.AssetID
}

var budgetKeys = state.KeyCodec[budgetKey]{
	Encode: func(k budgetKey) string { return strconv.FormatInt(k.WindowStart, 10) + "/" + string(k.Asset) },
	Decode: func(s string) (budgetKey, error) {
		start, asset, ok := strings.Cut(s, "/")
		if !ok {
			return budgetKey{}, fmt.Errorf("malformed budget key %q", s)
		}
		ts, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			return budgetKey{}, err
		}
		return budgetKey{WindowStart: ts, Asset: domain.AssetID(asset)}, nil
	},
}

type Vault struct {
	db        *state.DB
	address   domain.Address
	config    Config
	assets    map[domain.AssetID]Asset
	window    *state.Value[Window]
	emergency *state.Value[bool]
	opening   *state.Map[budgetKey, decimal.Decimal]
	withdrawn *state.Map[budgetKey, decimal.Decimal]
	guard     reentrancy.Guard
	access    *access.Registry
	clock     clock.Clock
	logger    logger.Logger
}

func NewVault(db *state.DB, address domain.Address, cfg Config, assets map[domain.AssetID]Asset, acl *access.Registry, clk clock.Clock, log logger.Logger) *Vault {
	return &Vault{
		db:        db,
		address:   address,
		config:    cfg,
		assets:    assets,
		window:    state.NewValue[Window](db, "treasury.window"),
		emergency: state.NewValue[bool](db, "treasury.emergency"),
		opening:   state.NewMap[budgetKey, decimal.Decimal](db, "treasury.opening", budgetKeys),
		withdrawn: state.NewMap[budgetKey, decimal.Decimal](db, "treasury.withdrawn", budgetKeys),
		access:    acl,
		clock:     clk,
		logger:    log,
	}
}

// Address is the account that holds the vault's funds.
func (v *Vault) Address() domain.Address {
	return v.address
}

// Initialize starts the lock. Requires admin and runs once.
func (v *Vault) Initialize(ctx context.Context, caller domain.Address) error {
	return v.db.Atomic(ctx, func(ctx context.Context) error {
		if err := v.access.Require(domain.CapAdmin, caller); err != nil {
			return err
		}
		if _, ok := v.window.Lookup(); ok {
			return pkgerrors.ErrAlreadyInitialized
		}
		w := Window{InitialUnlockAt: v.clock.Now().Add(v.config.LockDuration)}
		v.window.Set(ctx, w)
		v.logger.Info("Treasury locked", map[string]interface{}{"unlock_at": w.InitialUnlockAt})
		return nil
	})
}

// OpenSpendingWindow opens [now, now+WindowLength]. Requires treasury_manager.
func (v *Vault) OpenSpendingWindow(ctx context.Context, caller domain.Address) error {
	return v.db.Atomic(ctx, func(ctx context.Context) error {
		if err := v.access.Require(domain.CapTreasuryManager, caller); err != nil {
			return err
		}
		now := v.clock.Now()
		w, ok := v.window.Lookup()
		if !ok || now.Before(w.InitialUnlockAt) {
			return pkgerrors.Wrap(pkgerrors.ErrVaultLocked, "unlock at "+w.InitialUnlockAt.Format(time.RFC3339))
		}
		if w.open(now) {
			return pkgerrors.Wrap(pkgerrors.ErrWindowAlreadyOpen, "ends "+w.End.Format(time.RFC3339))
		}
		w.Start = now
		w.End = now.Add(v.config.WindowLength)
		v.window.Set(ctx, w)

		v.db.Emit(ctx, domain.NewEvent(component, domain.EventWindowOpened, now, map[string]interface{}{
			"window_start": w.Start,
			"window_end":   w.End,
		}))
		v.logger.Info("Spending window opened", map[string]interface{}{
			"window_start": w.Start,
			"window_end":   w.End,
			"by":           caller.Hex(),
		})
		return nil
	})
}

// Withdraw disburses amt of asset to to. Requires treasury_spender.
func (v *Vault) Withdraw(ctx context.Context, caller domain.Address, asset domain.AssetID, to domain.Address, amt decimal.Decimal) error {
	return v.db.Atomic(ctx, func(ctx context.Context) error {
		return v.guard.Run(ctx, func(ctx context.Context) error {
			return v.withdraw(ctx, caller, asset, to, amt)
		})
	})
}

// WithdrawERC20 disburses the governance token.
func (v *Vault) WithdrawERC20(ctx context.Context, caller, to domain.Address, amt decimal.Decimal) error {
	return v.Withdraw(ctx, caller, domain.AssetToken, to, amt)
}

// WithdrawETH disburses the native asset.
func (v *Vault) WithdrawETH(ctx context.Context, caller, to domain.Address, amt decimal.Decimal) error {
	return v.Withdraw(ctx, caller, domain.AssetNative, to, amt)
}

func (v *Vault) withdraw(ctx context.Context, caller domain.Address, assetID domain.AssetID, to domain.Address, amt decimal.Decimal) error {
	if err := v.access.Require(domain.CapTreasurySpender, caller); err != nil {
		return err
	}
	if to.IsZero() {
		return pkgerrors.ErrZeroAddress
	}
	if err := amount.ValidatePositive(amt); err != nil {
		return err
	}
	asset, ok := v.assets[assetID]
	if !ok {
		return pkgerrors.Wrap(pkgerrors.ErrUnknownAsset, string(assetID))
	}

	now := v.clock.Now()
	emergency := v.emergency.Get()
	if !emergency {
		w, initialized := v.window.Lookup()
		if !initialized || now.Before(w.InitialUnlockAt) {
			return pkgerrors.ErrVaultLocked
		}
		if !w.open(now) {
			return pkgerrors.ErrWindowClosed
		}

		key := budgetKey{WindowStart: w.Start.Unix(), Asset: assetID}
		opening, captured := v.opening.Get(key)
		if !captured {
			opening = asset.BalanceOf(ctx, v.address)
			v.opening.Set(ctx, key, opening)
		}
		limit := amount.Bps(opening, v.config.LimitBps)
		spent := v.withdrawn.Value(key).Add(amt)
		if spent.GreaterThan(limit) {
			v.logger.Warn("Treasury withdrawal over window limit", map[string]interface{}{
				"asset":  string(assetID),
				"amount": amt.String(),
				"limit":  limit.String(),
			})
			return pkgerrors.Wrap(pkgerrors.ErrExceedsLimit,
				fmt.Sprintf("%s of %s already withdrawn", v.withdrawn.Value(key), limit))
		}
		v.withdrawn.Set(ctx, key, spent)
	}

	if err := asset.Transfer(ctx, v.address, to, amt); err != nil {
		return err
	}

	v.db.Emit(ctx, domain.NewEvent(component, domain.EventTreasuryWithdrawal, now, map[string]interface{}{
		"asset":     string(assetID),
		"to":        to.Hex(),
		"amount":    amt.String(),
		"emergency": emergency,
	}))
	v.logger.Info("Treasury withdrawal", map[string]interface{}{
		"asset":     string(assetID),
		"to":        to.Hex(),
		"amount":    amt.String(),
		"emergency": emergency,
		"by":        caller.Hex(),
	})
	return nil
}

// ToggleEmergencyMode flips emergency mode. Requires emergency.
func (v *Vault) ToggleEmergencyMode(ctx context.Context, caller domain.Address) error {
	return v.db.Atomic(ctx, func(ctx context.Context) error {
		if err := v.access.Require(domain.CapEmergency, caller); err != nil {
			return err
		}
		on := !v.emergency.Get()
		v.emergency.Set(ctx, on)
		v.db.Emit(ctx, domain.NewEvent(component, domain.EventEmergencyToggled, v.clock.Now(), map[string]interface{}{
			"enabled": on,
			"by":      caller.Hex(),
		}))
		v.logger.Warn("Treasury emergency mode toggled", map[string]interface{}{
			"enabled": on,
			"by":      caller.Hex(),
		})
		return nil
	})
}

func (v *Vault) EmergencyMode() bool {
	return v.emergency.Get()
}

// State reports the lifecycle position at the current time.
func (v *Vault) State() State {
	now := v.clock.Now()
	w, ok := v.window.Lookup()
	switch {
	case !ok || now.Before(w.InitialUnlockAt):
		return StateLocked
	case w.open(now):
		return StateWindowOpen
	default:
		return StateWindowClosed
	}
}

func (v *Vault) Window() Window {
	return v.window.Get()
}

// Remaining is what may still be withdrawn of asset in the open window.
// Before the first withdrawal it is computed from the current balance.
func (v *Vault) Remaining(ctx context.Context, assetID domain.AssetID) (decimal.Decimal, error) {
	asset, ok := v.assets[assetID]
	if !ok {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.ErrUnknownAsset, string(assetID))
	}
	left := decimal.Zero
	err := v.db.View(ctx, func(ctx context.Context) error {
		if v.State() != StateWindowOpen {
			return nil
		}
		key := budgetKey{WindowStart: v.window.Get().Start.Unix(), Asset: assetID}
		opening, captured := v.opening.Get(key)
		if !captured {
			opening = asset.BalanceOf(ctx, v.address)
		}
		left = amount.Bps(opening, v.config.LimitBps).Sub(v.withdrawn.Value(key))
		return nil
	})
	if left.IsNegative() {
		left = decimal.Zero
	}
	return left, err
}
