package velocity

import (
	"context"
	"testing"
	"time"

	"govtoken/internal/access"
	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db       *state.DB
	ledger   *Ledger
	clock    *clock.Manual
	governor domain.Address
	officer  domain.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := state.NewDB()
	clk := clock.NewManual(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
	acl := access.NewRegistry(db, clk, logger.NewNop())
	admin, governor, officer := domain.NewAddress(), domain.NewAddress(), domain.NewAddress()
	require.NoError(t, acl.Bootstrap(ctx, admin))
	require.NoError(t, acl.Grant(ctx, admin, domain.CapGovernance, governor))
	require.NoError(t, acl.Grant(ctx, admin, domain.CapCompliance, officer))
	l := NewLedger(db, acl, clk, logger.NewNop(), Limits{
		MaxTransfer: decimal.NewFromInt(60),
		DailyLimit:  decimal.NewFromInt(100),
	})
	return &fixture{db: db, ledger: l, clock: clk, governor: governor, officer: officer}
}

func (f *fixture) consume(owner domain.Address, amt int64) error {
	return f.db.Atomic(context.Background(), func(ctx context.Context) error {
		return f.ledger.Consume(ctx, owner, decimal.NewFromInt(amt))
	})
}

func TestConsume_PerTransferCap(t *testing.T) {
	f := newFixture(t)
	u := domain.NewAddress()

	assert.ErrorIs(t, f.consume(u, 61), pkgerrors.ErrMaxTransferExceeded)
	assert.True(t, f.ledger.Window(u).SpentToday.IsZero())
	assert.NoError(t, f.consume(u, 60))
}

func TestConsume_DailyLimitResetsOnNextDay(t *testing.T) {
	f := newFixture(t)
	u := domain.NewAddress()

	require.NoError(t, f.consume(u, 50))
	require.NoError(t, f.consume(u, 50))
	err := f.consume(u, 1)
	assert.ErrorIs(t, err, pkgerrors.ErrDailyLimitExceeded)
	assert.Equal(t, pkgerrors.KindBudget, pkgerrors.KindOf(err))
	assert.Equal(t, "100", f.ledger.Window(u).SpentToday.String())

	// 59 minutes later is still the same day.
	f.clock.Advance(59 * time.Minute)
	assert.ErrorIs(t, f.consume(u, 1), pkgerrors.ErrDailyLimitExceeded)

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.consume(u, 1))
	w := f.ledger.Window(u)
	assert.Equal(t, "1", w.SpentToday.String())
	assert.Equal(t, DayIndex(f.clock.Now()), w.LastResetDay)
	assert.Equal(t, "99", f.ledger.Remaining(u).String())
}

func TestSetLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.ledger.SetLimits(ctx, f.officer, decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, pkgerrors.ErrUnauthorized)

	err = f.ledger.SetLimits(ctx, f.governor, decimal.Zero, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidLimit)

	require.NoError(t, f.ledger.SetLimits(ctx, f.governor, decimal.NewFromInt(500), decimal.NewFromInt(1000)))
	assert.Equal(t, "500", f.ledger.Limits().MaxTransfer.String())
	assert.Equal(t, "1000", f.ledger.Limits().DailyLimit.String())
}

func TestSetExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := domain.NewAddress()

	assert.ErrorIs(t, f.ledger.SetExcluded(ctx, f.governor, u, true), pkgerrors.ErrUnauthorized)
	require.NoError(t, f.ledger.SetExcluded(ctx, f.officer, u, true))
	assert.True(t, f.ledger.IsExcluded(u))
	require.NoError(t, f.ledger.SetExcluded(ctx, f.officer, u, false))
	assert.False(t, f.ledger.IsExcluded(u))
}
