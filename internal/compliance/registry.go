// Package compliance tracks blacklisted and time-locked accounts.
package compliance

import (
	"context"
	"time"

	"govtoken/internal/access"
	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

const component = "compliance"

// Entry is the compliance record of one account.
type Entry struct {
	Blacklisted bool      `json:"blacklisted"`
	Reason      string    `json:"reason,omitempty"`
	LockedUntil time.Time `json:"locked_until,omitempty"`
}

func (e Entry) empty() bool {
	return !e.Blacklisted && e.Reason == "" && e.LockedUntil.IsZero()
}

type Registry struct {
	db      *state.DB
	entries *state.Map[domain.Address, Entry]
	access  *access.Registry
	clock   clock.Clock
	logger  logger.Logger
}

func NewRegistry(db *state.DB, acl *access.Registry, clk clock.Clock, log logger.Logger) *Registry {
	return &Registry{
		db:      db,
		entries: state.NewMap[domain.Address, Entry](db, "compliance.entries", state.AddressKeys),
		access:  acl,
		clock:   clk,
		logger:  log,
	}
}

// Blacklist blocks owner from sending and receiving.
func (r *Registry) Blacklist(ctx context.Context, caller, owner domain.Address, reason string) error {
	return r.update(ctx, caller, owner, domain.EventBlacklisted, func(e *Entry) error {
		e.Blacklisted = true
		e.Reason = reason
		return nil
	}, map[string]interface{}{"reason": reason})
}

// RemoveFromBlacklist clears the blacklist flag and reason.
func (r *Registry) RemoveFromBlacklist(ctx context.Context, caller, owner domain.Address) error {
	return r.update(ctx, caller, owner, domain.EventBlacklistRemoved, func(e *Entry) error {
		e.Blacklisted = false
		e.Reason = ""
		return nil
	}, nil)
}

// LockFunds stops owner from sending until now+duration. A later call
// overwrites the previous lock.
func (r *Registry) LockFunds(ctx context.Context, caller, owner domain.Address, duration time.Duration) error {
	until := r.clock.Now().Add(duration)
	return r.update(ctx, caller, owner, domain.EventFundsLocked, func(e *Entry) error {
		if duration <= 0 {
			return pkgerrors.ErrInvalidDuration
		}
		e.LockedUntil = until
		return nil
	}, map[string]interface{}{"locked_until": until})
}

// UnlockFunds clears any time lock on owner.
func (r *Registry) UnlockFunds(ctx context.Context, caller, owner domain.Address) error {
	return r.update(ctx, caller, owner, domain.EventFundsUnlocked, func(e *Entry) error {
		e.LockedUntil = time.Time{}
		return nil
	}, nil)
}

func (r *Registry) update(ctx context.Context, caller, owner domain.Address, typ domain.EventType, mutate func(*Entry) error, data map[string]interface{}) error {
	return r.db.Atomic(ctx, func(ctx context.Context) error {
		if err := r.access.Require(domain.CapCompliance, caller); err != nil {
			return err
		}
		if owner.IsZero() {
			return pkgerrors.ErrZeroAddress
		}

		entry := r.entries.Value(owner)
		if err := mutate(&entry); err != nil {
			return err
		}
		if entry.empty() {
			r.entries.Delete(ctx, owner)
		} else {
			r.entries.Set(ctx, owner, entry)
		}

		if data == nil {
			data = map[string]interface{}{}
		}
		data["account"] = owner.Hex()
		r.db.Emit(ctx, domain.NewEvent(component, typ, r.clock.Now(), data))
		r.logger.Info("Compliance entry updated", map[string]interface{}{
			"event":   string(typ),
			"account": owner.Hex(),
			"by":      caller.Hex(),
		})
		return nil
	})
}

// Entry returns the record for owner.
func (r *Registry) Entry(owner domain.Address) Entry {
	return r.entries.Value(owner)
}

func (r *Registry) IsBlacklisted(owner domain.Address) bool {
	return r.entries.Value(owner).Blacklisted
}

// IsLocked reports whether owner is inside an active time lock.
func (r *Registry) IsLocked(owner domain.Address) bool {
	return r.clock.Now().Before(r.entries.Value(owner).LockedUntil)
}

// CheckSender rejects blacklisted or time-locked senders.
func (r *Registry) CheckSender(owner domain.Address) error {
	entry := r.entries.Value(owner)
	if entry.Blacklisted {
		return pkgerrors.Wrap(pkgerrors.ErrAccountBlacklisted, owner.Hex())
	}
	if r.clock.Now().Before(entry.LockedUntil) {
		return pkgerrors.Wrap(pkgerrors.ErrAccountLocked, owner.Hex())
	}
	return nil
}

// CheckRecipient rejects blacklisted recipients.
func (r *Registry) CheckRecipient(owner domain.Address) error {
	if r.entries.Value(owner).Blacklisted {
		return pkgerrors.Wrap(pkgerrors.ErrAccountBlacklisted, owner.Hex())
	}
	return nil
}
