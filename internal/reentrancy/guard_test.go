package reentrancy

import (
	"context"
	"testing"

	pkgerrors "govtoken/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestGuard_RejectsNestedRun(t *testing.T) {
	var g Guard
	ctx := context.Background()

	var nested error
	err := g.Run(ctx, func(ctx context.Context) error {
		assert.True(t, g.Entered())
		nested = g.Run(ctx, func(ctx context.Context) error { return nil })
		return nil
	})

	assert.NoError(t, err)
	assert.ErrorIs(t, nested, pkgerrors.ErrReentrantCall)
	assert.False(t, g.Entered())
}

func TestGuard_ClearsAfterError(t *testing.T) {
	var g Guard
	ctx := context.Background()
	_ = g.Run(ctx, func(ctx context.Context) error { return pkgerrors.ErrZeroAmount })
	assert.NoError(t, g.Run(ctx, func(ctx context.Context) error { return nil }))
}
