// Package access maps capabilities to the accounts that hold them.
package access

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

const component = "access"

type grant struct {
	Capability domain.Capability
	Holder     domain.Address
}

var grantKeys = state.KeyCodec[grant]{
	Encode: func(g grant) string { return string(g.Capability) + "/" + g.Holder.Hex() },
	Decode: func(s string) (grant, error) {
		capName, addr, ok := strings.Cut(s, "/")
		if !ok {
			return grant{}, fmt.Errorf("malformed grant key %q", s)
		}
		holder, err := domain.ParseAddress(addr)
		if err != nil {
			return grant{}, err
		}
		return grant{Capability: domain.Capability(capName), Holder: holder}, nil
	},
}

// Registry stores capability grants.
type Registry struct {
	db     *state.DB
	grants *state.Map[grant, bool]
	clock  clock.Clock
	logger logger.Logger
}

func NewRegistry(db *state.DB, clk clock.Clock, log logger.Logger) *Registry {
	return &Registry{
		db:     db,
		grants: state.NewMap[grant, bool](db, "access.grants", grantKeys),
		clock:  clk,
		logger: log,
	}
}

// Has reports whether holder has capability c.
func (r *Registry) Has(c domain.Capability, holder domain.Address) bool {
	return r.grants.Value(grant{Capability: c, Holder: holder})
}

// Require fails with an UnauthorizedError unless caller holds c.
func (r *Registry) Require(c domain.Capability, caller domain.Address) error {
	if r.Has(c, caller) {
		return nil
	}
	return pkgerrors.Unauthorized(string(c), caller.Hex())
}

// Bootstrap grants the admin capability to the first administrator.
func (r *Registry) Bootstrap(ctx context.Context, admin domain.Address) error {
	return r.db.Atomic(ctx, func(ctx context.Context) error {
		if len(r.holders(domain.CapAdmin)) > 0 {
			return pkgerrors.ErrAlreadyInitialized
		}
		if admin.IsZero() {
			return pkgerrors.ErrZeroAddress
		}
		r.set(ctx, admin, domain.CapAdmin, admin, true)
		return nil
	})
}

// Grant gives holder capability c. Requires admin.
func (r *Registry) Grant(ctx context.Context, caller domain.Address, c domain.Capability, holder domain.Address) error {
	return r.db.Atomic(ctx, func(ctx context.Context) error {
		if err := r.Require(domain.CapAdmin, caller); err != nil {
			return err
		}
		if !c.Valid() {
			return pkgerrors.Wrap(pkgerrors.ErrUnknownCapability, string(c))
		}
		if holder.IsZero() {
			return pkgerrors.ErrZeroAddress
		}
		r.set(ctx, caller, c, holder, true)
		return nil
	})
}

// Revoke removes capability c from holder. Requires admin.
func (r *Registry) Revoke(ctx context.Context, caller domain.Address, c domain.Capability, holder domain.Address) error {
	return r.db.Atomic(ctx, func(ctx context.Context) error {
		if err := r.Require(domain.CapAdmin, caller); err != nil {
			return err
		}
		if !r.Has(c, holder) {
			return nil
		}
		r.set(ctx, caller, c, holder, false)
		return nil
	})
}

// Holders lists the holders of c in address order.
func (r *Registry) Holders(ctx context.Context, c domain.Capability) []domain.Address {
	var out []domain.Address
	_ = r.db.View(ctx, func(ctx context.Context) error {
		out = r.holders(c)
		return nil
	})
	return out
}

func (r *Registry) holders(c domain.Capability) []domain.Address {
	var out []domain.Address
	r.grants.Range(func(g grant, held bool) bool {
		if held && g.Capability == c {
			out = append(out, g.Holder)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

func (r *Registry) set(ctx context.Context, caller domain.Address, c domain.Capability, holder domain.Address, held bool) {
	key := grant{Capability: c, Holder: holder}
	typ := domain.EventCapabilityGranted
	if held {
		r.grants.Set(ctx, key, true)
	} else {
		r.grants.Delete(ctx, key)
		typ = domain.EventCapabilityRevoked
	}
	r.db.Emit(ctx, domain.NewEvent(component, typ, r.clock.Now(), map[string]interface{}{
		"capability": string(c),
		"holder":     holder.Hex(),
		"by":         caller.Hex(),
	}))
	r.logger.Info("Capability changed", map[string]interface{}{
		"capability": string(c),
		"holder":     holder.Hex(),
		"held":       held,
	})
}
