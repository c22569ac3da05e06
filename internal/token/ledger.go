// Package token is the fungible token ledger.
//
// Every value movement goes through one pipeline: compliance gates on both
// sides, then velocity caps and tax for ordinary transfers, then the balance
// write. Public operations run inside state.DB.Atomic, so any failure leaves
// balances, allowances, counters and events untouched.
package token

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"govtoken/internal/access"
	"govtoken/internal/amount"
	"govtoken/internal/clock"
	"govtoken/internal/compliance"
	"govtoken/internal/domain"
	"govtoken/internal/mint"
	"govtoken/internal/state"
	"govtoken/internal/tax"
	"govtoken/internal/velocity"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

const (
	component = "token"
	// Namespace carries the ledger's schema version.
	Namespace = "token"
)

// Metadata describes the token.
type Metadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ReceiverHook runs after holder receives tokens, inside the same operation.
// Returning an error aborts the operation.
type ReceiverHook func(ctx context.Context, from domain.Address, amt decimal.Decimal) error

type allowanceKey struct {
	Owner   domain.Address
	Spender domain.Address
}

var allowanceKeys = state.KeyCodec[allowanceKey]{
	Encode: func(k allowanceKey) string { return k.Owner.Hex() + "/" + k.Spender.Hex() },
	Decode: func(s string) (allowanceKey, error) {
		owner, spender, ok := strings.Cut(s, "/")
		if !ok {
			return allowanceKey{}, fmt.Errorf("malformed allowance key %q", s)
		}
		o, err := domain.ParseAddress(owner)
		if err != nil {
			return allowanceKey{}, err
		}
		sp, err := domain.ParseAddress(spender)
		if err != nil {
			return allowanceKey{}, err
		}
		return allowanceKey{Owner: o, Spender: sp}, nil
	},
}

type Ledger struct {
	db         *state.DB
	balances   *state.Map[domain.Address, decimal.Decimal]
	allowances *state.Map[allowanceKey, decimal.Decimal]
	supply     *state.Value[decimal.Decimal]
	paused     *state.Value[bool]
	meta       *state.Value[Metadata]

	access     *access.Registry
	compliance *compliance.Registry
	velocity   *velocity.Ledger
	tax        *tax.Engine
	mint       *mint.Controller
	clock      clock.Clock
	logger     logger.Logger

	hooksMu sync.RWMutex
	hooks   map[domain.Address]ReceiverHook
}

// Deps are the engines the pipeline consults.
type Deps struct {
	Access     *access.Registry
	Compliance *compliance.Registry
	Velocity   *velocity.Ledger
	Tax        *tax.Engine
	Mint       *mint.Controller
	Clock      clock.Clock
	Logger     logger.Logger
}

func NewLedger(db *state.DB, deps Deps) *Ledger {
	return &Ledger{
		db:         db,
		balances:   state.NewMap[domain.Address, decimal.Decimal](db, "token.balances", state.AddressKeys),
		allowances: state.NewMap[allowanceKey, decimal.Decimal](db, "token.allowances", allowanceKeys),
		supply:     state.NewValue[decimal.Decimal](db, "token.supply"),
		paused:     state.NewValue[bool](db, "token.paused"),
		meta:       state.NewValue[Metadata](db, "token.metadata"),
		access:     deps.Access,
		compliance: deps.Compliance,
		velocity:   deps.Velocity,
		tax:        deps.Tax,
		mint:       deps.Mint,
		clock:      deps.Clock,
		logger:     deps.Logger,
		hooks:      make(map[domain.Address]ReceiverHook),
	}
}

// Bootstrap mints the initial supply to holder outside the inflation budget,
// exempts holder from velocity limits and opens the first mint period.
// Requires admin and runs once.
func (l *Ledger) Bootstrap(ctx context.Context, caller, holder domain.Address, supply decimal.Decimal, meta Metadata) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.access.Require(domain.CapAdmin, caller); err != nil {
			return err
		}
		if l.db.SchemaVersion(Namespace) > 0 {
			return pkgerrors.ErrAlreadyInitialized
		}
		if holder.IsZero() {
			return pkgerrors.ErrZeroAddress
		}
		if err := amount.Validate(supply); err != nil {
			return err
		}
		if err := l.mint.CheckCap(decimal.Zero, supply); err != nil {
			return err
		}
		return l.db.Migrate(ctx, Namespace, 1, func(ctx context.Context) error {
			l.meta.Set(ctx, meta)
			if err := l.move(ctx, domain.ZeroAddress, holder, supply); err != nil {
				return err
			}
			if err := l.velocity.Exclude(ctx, holder); err != nil {
				return err
			}
			l.mint.Start(ctx, supply)
			l.logger.Info("Token bootstrapped", map[string]interface{}{
				"holder": holder.Hex(),
				"supply": supply.String(),
				"symbol": meta.Symbol,
			})
			return nil
		})
	})
}

// MigrateV2 moves the ledger schema to version 2, replacing the metadata.
// Requires admin; fails with ErrAlreadyMigrated once applied.
func (l *Ledger) MigrateV2(ctx context.Context, caller domain.Address, meta Metadata) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.access.Require(domain.CapAdmin, caller); err != nil {
			return err
		}
		return l.db.Migrate(ctx, Namespace, 2, func(ctx context.Context) error {
			l.meta.Set(ctx, meta)
			l.db.Emit(ctx, domain.NewEvent(component, domain.EventSchemaMigrated, l.clock.Now(), map[string]interface{}{
				"namespace": Namespace,
				"version":   2,
			}))
			return nil
		})
	})
}

// Transfer moves amt from caller to to.
func (l *Ledger) Transfer(ctx context.Context, caller, to domain.Address, amt decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.checkMove(to, amt); err != nil {
			return err
		}
		net, err := l.update(ctx, caller, caller, to, amt)
		if err != nil {
			return err
		}
		return l.notify(ctx, caller, to, net)
	})
}

// TransferFrom moves amt from owner to to on behalf of spender, consuming
// the full amt from the allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, to domain.Address, amt decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.checkMove(to, amt); err != nil {
			return err
		}
		if err := l.spendAllowance(ctx, owner, spender, amt); err != nil {
			return err
		}
		net, err := l.update(ctx, spender, owner, to, amt)
		if err != nil {
			return err
		}
		return l.notify(ctx, owner, to, net)
	})
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(ctx context.Context, owner, spender domain.Address, amt decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if owner.IsZero() || spender.IsZero() {
			return pkgerrors.ErrZeroAddress
		}
		if err := amount.Validate(amt); err != nil {
			return err
		}
		l.setAllowance(ctx, owner, spender, amt)
		l.db.Emit(ctx, domain.NewEvent(component, domain.EventApproval, l.clock.Now(), map[string]interface{}{
			"owner":   owner.Hex(),
			"spender": spender.Hex(),
			"amount":  amt.String(),
		}))
		return nil
	})
}

// Burn destroys amt of caller's balance.
func (l *Ledger) Burn(ctx context.Context, caller domain.Address, amt decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.checkBurn(amt); err != nil {
			return err
		}
		return l.burn(ctx, caller, caller, amt)
	})
}

// BurnFrom destroys amt of owner's balance on behalf of spender.
func (l *Ledger) BurnFrom(ctx context.Context, spender, owner domain.Address, amt decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.checkBurn(amt); err != nil {
			return err
		}
		if err := l.spendAllowance(ctx, owner, spender, amt); err != nil {
			return err
		}
		return l.burn(ctx, spender, owner, amt)
	})
}

// Mint creates amt for to within the inflation budget. Requires minter.
func (l *Ledger) Mint(ctx context.Context, caller, to domain.Address, amt decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.access.Require(domain.CapMinter, caller); err != nil {
			return err
		}
		if l.paused.Get() {
			return pkgerrors.ErrTokenPaused
		}
		if err := amount.ValidatePositive(amt); err != nil {
			return err
		}
		if to.IsZero() {
			return pkgerrors.ErrZeroAddress
		}
		if err := l.compliance.CheckRecipient(to); err != nil {
			return err
		}
		if err := l.mint.Charge(ctx, l.supply.Get(), amt); err != nil {
			l.logger.Warn("Mint rejected", map[string]interface{}{
				"to":     to.Hex(),
				"amount": amt.String(),
				"error":  err.Error(),
			})
			return err
		}
		if _, err := l.update(ctx, caller, domain.ZeroAddress, to, amt); err != nil {
			return err
		}
		l.db.Emit(ctx, domain.NewEvent(component, domain.EventMint, l.clock.Now(), map[string]interface{}{
			"to":     to.Hex(),
			"amount": amt.String(),
			"by":     caller.Hex(),
		}))
		return l.notify(ctx, domain.ZeroAddress, to, amt)
	})
}

// Pause stops every value movement. Requires pauser.
func (l *Ledger) Pause(ctx context.Context, caller domain.Address) error {
	return l.setPaused(ctx, caller, true)
}

// Unpause resumes value movement. Requires pauser.
func (l *Ledger) Unpause(ctx context.Context, caller domain.Address) error {
	return l.setPaused(ctx, caller, false)
}

func (l *Ledger) setPaused(ctx context.Context, caller domain.Address, paused bool) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.access.Require(domain.CapPauser, caller); err != nil {
			return err
		}
		l.paused.Set(ctx, paused)
		typ := domain.EventUnpaused
		if paused {
			typ = domain.EventPaused
		}
		l.db.Emit(ctx, domain.NewEvent(component, typ, l.clock.Now(), map[string]interface{}{"by": caller.Hex()}))
		l.logger.Info("Token pause state changed", map[string]interface{}{"paused": paused, "by": caller.Hex()})
		return nil
	})
}

// SetReceiverHook installs (or with nil, removes) the hook run after owner
// receives tokens. Hooks live in memory only.
func (l *Ledger) SetReceiverHook(owner domain.Address, hook ReceiverHook) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	if hook == nil {
		delete(l.hooks, owner)
		return
	}
	l.hooks[owner] = hook
}

func (l *Ledger) BalanceOf(ctx context.Context, owner domain.Address) decimal.Decimal {
	var out decimal.Decimal
	_ = l.db.View(ctx, func(ctx context.Context) error {
		out = l.balanceOf(owner)
		return nil
	})
	return out
}

func (l *Ledger) TotalSupply(ctx context.Context) decimal.Decimal {
	var out decimal.Decimal
	_ = l.db.View(ctx, func(ctx context.Context) error {
		out = l.supply.Get()
		return nil
	})
	return out
}

func (l *Ledger) Allowance(ctx context.Context, owner, spender domain.Address) decimal.Decimal {
	var out decimal.Decimal
	_ = l.db.View(ctx, func(ctx context.Context) error {
		out = l.allowances.Value(allowanceKey{Owner: owner, Spender: spender})
		return nil
	})
	return out
}

func (l *Ledger) Paused(ctx context.Context) bool {
	var out bool
	_ = l.db.View(ctx, func(ctx context.Context) error {
		out = l.paused.Get()
		return nil
	})
	return out
}

func (l *Ledger) Metadata(ctx context.Context) Metadata {
	var out Metadata
	_ = l.db.View(ctx, func(ctx context.Context) error {
		out = l.meta.Get()
		return nil
	})
	return out
}

// SchemaVersion is the ledger's current schema version; zero before Bootstrap.
func (l *Ledger) SchemaVersion() int {
	return l.db.SchemaVersion(Namespace)
}

func (l *Ledger) checkMove(to domain.Address, amt decimal.Decimal) error {
	if l.paused.Get() {
		return pkgerrors.ErrTokenPaused
	}
	if to.IsZero() {
		return pkgerrors.ErrZeroAddress
	}
	return amount.Validate(amt)
}

func (l *Ledger) checkBurn(amt decimal.Decimal) error {
	if l.paused.Get() {
		return pkgerrors.ErrTokenPaused
	}
	return amount.Validate(amt)
}

func (l *Ledger) burn(ctx context.Context, operator, owner domain.Address, amt decimal.Decimal) error {
	if owner.IsZero() {
		return pkgerrors.ErrZeroAddress
	}
	if _, err := l.update(ctx, operator, owner, domain.ZeroAddress, amt); err != nil {
		return err
	}
	l.db.Emit(ctx, domain.NewEvent(component, domain.EventBurn, l.clock.Now(), map[string]interface{}{
		"from":   owner.Hex(),
		"amount": amt.String(),
		"by":     operator.Hex(),
	}))
	return nil
}

// update is the authorization pipeline. It returns the amount delivered to
// to after tax.
func (l *Ledger) update(ctx context.Context, operator, from, to domain.Address, amt decimal.Decimal) (decimal.Decimal, error) {
	if !from.IsZero() {
		if err := l.compliance.CheckSender(from); err != nil {
			return decimal.Zero, err
		}
	}
	if !to.IsZero() {
		if err := l.compliance.CheckRecipient(to); err != nil {
			return decimal.Zero, err
		}
	}

	net := amt
	if l.restricted(operator, from, to) {
		if err := l.velocity.Consume(ctx, from, amt); err != nil {
			l.logger.Warn("Transfer rejected by velocity limits", map[string]interface{}{
				"from":   from.Hex(),
				"amount": amt.String(),
				"error":  err.Error(),
			})
			return decimal.Zero, err
		}
		if cut := l.tax.Compute(amt); cut.IsPositive() {
			treasury := l.tax.Treasury()
			if err := l.move(ctx, from, treasury, cut); err != nil {
				return decimal.Zero, err
			}
			l.db.Emit(ctx, domain.NewEvent(component, domain.EventTaxCollected, l.clock.Now(), map[string]interface{}{
				"from":     from.Hex(),
				"treasury": treasury.Hex(),
				"amount":   cut.String(),
			}))
			net = amt.Sub(cut)
		}
	}

	if err := l.move(ctx, from, to, net); err != nil {
		return decimal.Zero, err
	}
	return net, nil
}

// restricted reports whether velocity caps and tax apply. Mints, burns,
// transfers touching the tax treasury, exempt senders and bridge operators
// are not restricted.
func (l *Ledger) restricted(operator, from, to domain.Address) bool {
	if from.IsZero() || to.IsZero() {
		return false
	}
	if l.tax.IsTreasury(from) || l.tax.IsTreasury(to) {
		return false
	}
	if l.velocity.IsExcluded(from) {
		return false
	}
	return !l.access.Has(domain.CapBridge, operator)
}

// move is the primitive balance write. The zero address stands for supply.
func (l *Ledger) move(ctx context.Context, from, to domain.Address, amt decimal.Decimal) error {
	if from.IsZero() {
		l.supply.Set(ctx, l.supply.Get().Add(amt))
	} else {
		bal := l.balanceOf(from)
		if bal.LessThan(amt) {
			return pkgerrors.Wrap(pkgerrors.ErrInsufficientBalance,
				fmt.Sprintf("%s has %s, needs %s", from.Hex(), bal, amt))
		}
		l.setBalance(ctx, from, bal.Sub(amt))
	}

	if to.IsZero() {
		l.supply.Set(ctx, l.supply.Get().Sub(amt))
	} else {
		l.setBalance(ctx, to, l.balanceOf(to).Add(amt))
	}

	l.db.Emit(ctx, domain.NewEvent(component, domain.EventTransfer, l.clock.Now(), map[string]interface{}{
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": amt.String(),
	}))
	return nil
}

func (l *Ledger) balanceOf(owner domain.Address) decimal.Decimal {
	bal, ok := l.balances.Get(owner)
	if !ok {
		return decimal.Zero
	}
	return bal
}

func (l *Ledger) setBalance(ctx context.Context, owner domain.Address, bal decimal.Decimal) {
	if bal.IsZero() {
		l.balances.Delete(ctx, owner)
		return
	}
	l.balances.Set(ctx, owner, bal)
}

func (l *Ledger) spendAllowance(ctx context.Context, owner, spender domain.Address, amt decimal.Decimal) error {
	key := allowanceKey{Owner: owner, Spender: spender}
	current := l.allowances.Value(key)
	if current.LessThan(amt) {
		return pkgerrors.Wrap(pkgerrors.ErrInsufficientAllowance,
			fmt.Sprintf("%s allows %s %s, needs %s", owner.Hex(), spender.Hex(), current, amt))
	}
	l.setAllowance(ctx, owner, spender, current.Sub(amt))
	return nil
}

func (l *Ledger) setAllowance(ctx context.Context, owner, spender domain.Address, amt decimal.Decimal) {
	key := allowanceKey{Owner: owner, Spender: spender}
	if amt.IsZero() {
		l.allowances.Delete(ctx, key)
		return
	}
	l.allowances.Set(ctx, key, amt)
}

func (l *Ledger) notify(ctx context.Context, from, to domain.Address, amt decimal.Decimal) error {
	l.hooksMu.RLock()
	hook := l.hooks[to]
	l.hooksMu.RUnlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, from, amt)
}
