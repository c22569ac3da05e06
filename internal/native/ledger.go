// Package native keeps balances of the chain's native asset.
package native

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"govtoken/internal/access"
	"govtoken/internal/amount"
	"govtoken/internal/domain"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

// ReceiveHook runs after an account receives native funds. An error aborts
// the transfer.
type ReceiveHook func(ctx context.Context, from domain.Address, amt decimal.Decimal) error

type Ledger struct {
	db       *state.DB
	balances *state.Map[domain.Address, decimal.Decimal]
	access   *access.Registry
	logger   logger.Logger

	mu    sync.RWMutex
	hooks map[domain.Address]ReceiveHook
}

func NewLedger(db *state.DB, acl *access.Registry, log logger.Logger) *Ledger {
	return &Ledger{
		db:       db,
		balances: state.NewMap[domain.Address, decimal.Decimal](db, "native.balances", state.AddressKeys),
		access:   acl,
		logger:   log,
		hooks:    make(map[domain.Address]ReceiveHook),
	}
}

// Deposit credits funds entering from outside the system. Requires admin.
func (l *Ledger) Deposit(ctx context.Context, caller, to domain.Address, amt decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if err := l.access.Require(domain.CapAdmin, caller); err != nil {
			return err
		}
		if to.IsZero() {
			return pkgerrors.ErrZeroAddress
		}
		if err := amount.ValidatePositive(amt); err != nil {
			return err
		}
		l.balances.Set(ctx, to, l.balances.Value(to).Add(amt))
		l.logger.Debug("Native deposit", map[string]interface{}{"to": to.Hex(), "amount": amt.String()})
		return nil
	})
}

// Transfer sends amt from from to to and runs to's receive hook.
func (l *Ledger) Transfer(ctx context.Context, from, to domain.Address, amt decimal.Decimal) error {
	return l.db.Atomic(ctx, func(ctx context.Context) error {
		if to.IsZero() {
			return pkgerrors.ErrZeroAddress
		}
		if err := amount.Validate(amt); err != nil {
			return err
		}
		bal := l.balances.Value(from)
		if bal.LessThan(amt) {
			return pkgerrors.Wrap(pkgerrors.ErrInsufficientBalance,
				fmt.Sprintf("native: %s has %s, needs %s", from.Hex(), bal, amt))
		}
		l.balances.Set(ctx, from, bal.Sub(amt))
		l.balances.Set(ctx, to, l.balances.Value(to).Add(amt))

		l.mu.RLock()
		hook := l.hooks[to]
		l.mu.RUnlock()
		if hook != nil {
			return hook(ctx, from, amt)
		}
		return nil
	})
}

// SetReceiveHook installs or, with nil, removes owner's receive hook.
func (l *Ledger) SetReceiveHook(owner domain.Address, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.hooks, owner)
		return
	}
	l.hooks[owner] = hook
}

func (l *Ledger) BalanceOf(ctx context.Context, owner domain.Address) decimal.Decimal {
	var out decimal.Decimal
	_ = l.db.View(ctx, func(ctx context.Context) error {
		out = l.balances.Value(owner)
		return nil
	})
	return out
}
