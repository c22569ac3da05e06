// Package reentrancy blocks nested entry into value-moving operations.
package reentrancy

import (
	"context"

	pkgerrors "govtoken/pkg/errors"
)

// Guard is an entered flag. Operations are serialized by the state DB, so
// a set flag always means a nested call from inside the same operation.
type Guard struct {
	entered bool
}

// Run executes fn unless the guard is already entered.
func (g *Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.entered {
		return pkgerrors.ErrReentrantCall
	}
	g.entered = true
	defer func() { g.entered = false }()
	return fn(ctx)
}

// Entered reports whether an operation is in progress.
func (g *Guard) Entered() bool {
	return g.entered
}
