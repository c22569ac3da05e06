package bridge_test

import (
	"context"
	"testing"
	"time"

	"govtoken/internal/amount"
	"govtoken/internal/bridge"
	"govtoken/internal/domain"
	"govtoken/internal/testkit"
	pkgerrors "govtoken/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remote = domain.ChainID(137)

type fixture struct {
	*testkit.Stack
	gateway *bridge.Gateway
	relayer domain.Address
	user    domain.Address
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := testkit.NewWithOptions(t, testkit.Options{MaxTransfer: 50, DailyLimit: 50, GlobalCap: 200_000_000_000})
	address := domain.DeriveAddress("bridge")
	gw := bridge.NewGateway(s.DB, address, s.Ledger, s.Access, s.Clock, s.Logger)

	relayer, user := domain.NewAddress(), domain.NewAddress()
	require.NoError(t, s.Access.Grant(ctx, s.Admin, domain.CapBridge, address))
	require.NoError(t, s.Access.Grant(ctx, s.Admin, domain.CapRelayer, relayer))
	require.NoError(t, gw.ConfigureChain(ctx, s.Admin, remote, true, d(1000), d(500)))

	s.Fund(t, address, 10_000)
	s.Fund(t, user, 5_000)
	require.NoError(t, s.Ledger.Approve(ctx, user, address, d(5_000)))
	return &fixture{Stack: s, gateway: gw, relayer: relayer, user: user}
}

func msg(b byte) domain.MessageID {
	var id domain.MessageID
	id[0] = b
	return id
}

func TestBridgeOut_LocksWithoutTaxOrVelocity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.EnableTax(t, 1000, domain.NewAddress())
	events := f.Events()
	dest := domain.NewAddress()

	id, err := f.gateway.BridgeOut(ctx, f.user, remote, dest, d(400))
	require.NoError(t, err)

	assert.Equal(t, "4600", f.Balance(f.user))
	assert.Equal(t, "10400", f.Balance(f.gateway.Address()))
	assert.True(t, f.Velocity.Window(f.user).SpentToday.IsZero())
	assert.Equal(t, bridge.OutboundID(remote, f.user, dest, d(400), 1), id)

	cfg, ok := f.gateway.Chain(ctx, remote)
	require.True(t, ok)
	assert.Equal(t, "400", cfg.SpentOut.String())

	var sent []domain.Event
	for _, ev := range *events {
		if ev.Type == domain.EventBridgeSent {
			sent = append(sent, ev)
		}
	}
	require.Len(t, sent, 1)
	assert.Equal(t, id.Hex(), sent[0].Data["message_id"])

	second, err := f.gateway.BridgeOut(ctx, f.user, remote, dest, d(400))
	require.NoError(t, err)
	assert.NotEqual(t, id, second, "nonce makes ids unique")
}

func TestBridgeOut_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dest := domain.NewAddress()

	_, err := f.gateway.BridgeOut(ctx, f.user, domain.ChainID(1), dest, d(1))
	assert.ErrorIs(t, err, pkgerrors.ErrChainNotSupported)
	_, err = f.gateway.BridgeOut(ctx, f.user, remote, dest, d(0))
	assert.ErrorIs(t, err, pkgerrors.ErrZeroAmount)
	_, err = f.gateway.BridgeOut(ctx, f.user, remote, domain.ZeroAddress, d(1))
	assert.ErrorIs(t, err, pkgerrors.ErrZeroAddress)

	require.NoError(t, f.gateway.ConfigureChain(ctx, f.Admin, remote, false, d(1000), d(500)))
	_, err = f.gateway.BridgeOut(ctx, f.user, remote, dest, d(1))
	assert.ErrorIs(t, err, pkgerrors.ErrChainNotSupported)
}

func TestBridgeOut_DailyLimitAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dest := domain.NewAddress()

	_, err := f.gateway.BridgeOut(ctx, f.user, remote, dest, d(1000))
	require.NoError(t, err)
	_, err = f.gateway.BridgeOut(ctx, f.user, remote, dest, d(1))
	assert.ErrorIs(t, err, pkgerrors.ErrDailyLimitExceeded)
	assert.Equal(t, "4000", f.Balance(f.user))

	// Outbound saturation does not affect inbound.
	require.NoError(t, f.gateway.BridgeIn(ctx, f.relayer, remote, dest, d(500), msg(1)))

	f.Clock.Advance(bridge.ResetInterval - time.Second)
	_, err = f.gateway.BridgeOut(ctx, f.user, remote, dest, d(1))
	assert.ErrorIs(t, err, pkgerrors.ErrDailyLimitExceeded)

	f.Clock.Advance(time.Second)
	_, err = f.gateway.BridgeOut(ctx, f.user, remote, dest, d(1000))
	require.NoError(t, err)

	cfg, _ := f.gateway.Chain(ctx, remote)
	assert.Equal(t, "1000", cfg.SpentOut.String())
	assert.True(t, cfg.SpentIn.IsZero(), "both counters reset together")
}

func TestBridgeIn_ReplayRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := domain.NewAddress(), domain.NewAddress()

	require.NoError(t, f.gateway.BridgeIn(ctx, f.relayer, remote, alice, d(100), msg(7)))
	assert.Equal(t, "100", f.Balance(alice))
	assert.True(t, f.gateway.IsProcessed(ctx, msg(7)))

	err := f.gateway.BridgeIn(ctx, f.relayer, remote, bob, d(5), msg(7))
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadyProcessed)
	assert.Equal(t, pkgerrors.KindState, pkgerrors.KindOf(err))
	assert.Equal(t, "0", f.Balance(bob))

	cfg, _ := f.gateway.Chain(ctx, remote)
	assert.Equal(t, "100", cfg.SpentIn.String())
}

func TestBridgeIn_LimitsAndAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	to := domain.NewAddress()

	assert.ErrorIs(t, f.gateway.BridgeIn(ctx, f.user, remote, to, d(1), msg(1)), pkgerrors.ErrUnauthorized)
	assert.ErrorIs(t, f.gateway.BridgeIn(ctx, f.relayer, domain.ChainID(9), to, d(1), msg(1)), pkgerrors.ErrChainNotSupported)
	assert.ErrorIs(t, f.gateway.BridgeIn(ctx, f.relayer, remote, to, d(501), msg(1)), pkgerrors.ErrDailyLimitExceeded)
	assert.False(t, f.gateway.IsProcessed(ctx, msg(1)), "failed release leaves the id unused")

	require.NoError(t, f.gateway.BridgeIn(ctx, f.relayer, remote, to, d(500), msg(1)))
	assert.Equal(t, "500", f.Balance(to))
}

func TestBridgeIn_BlacklistedRecipientRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	to := domain.NewAddress()
	require.NoError(t, f.Compliance.Blacklist(ctx, f.Admin, to, "stolen funds"))

	err := f.gateway.BridgeIn(ctx, f.relayer, remote, to, d(10), msg(3))
	assert.ErrorIs(t, err, pkgerrors.ErrAccountBlacklisted)
	assert.False(t, f.gateway.IsProcessed(ctx, msg(3)))
	cfg, _ := f.gateway.Chain(ctx, remote)
	assert.True(t, cfg.SpentIn.IsZero())
}

func TestBridgeIn_ReentrantReleaseRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	attacker := domain.NewAddress()

	f.Ledger.SetReceiverHook(attacker, func(ctx context.Context, from domain.Address, amt decimal.Decimal) error {
		return f.gateway.BridgeIn(ctx, f.relayer, remote, attacker, amt, msg(9))
	})

	err := f.gateway.BridgeIn(ctx, f.relayer, remote, attacker, d(100), msg(8))
	assert.ErrorIs(t, err, pkgerrors.ErrReentrantCall)
	assert.Equal(t, "0", f.Balance(attacker))
	assert.False(t, f.gateway.IsProcessed(ctx, msg(8)))
	assert.Equal(t, "10000", f.Balance(f.gateway.Address()))
}

func TestConfigureChain_KeepsCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gateway.BridgeOut(ctx, f.user, remote, domain.NewAddress(), d(300))
	require.NoError(t, err)

	assert.ErrorIs(t, f.gateway.ConfigureChain(ctx, f.user, remote, true, d(1), d(1)), pkgerrors.ErrUnauthorized)
	assert.ErrorIs(t, f.gateway.ConfigureChain(ctx, f.Admin, remote, true, d(-1), d(1)), pkgerrors.ErrInvalidLimit)
	require.NoError(t, f.gateway.ConfigureChain(ctx, f.Admin, remote, true, d(2000), d(2000)))

	cfg, ok := f.gateway.Chain(ctx, remote)
	require.True(t, ok)
	assert.Equal(t, "300", cfg.SpentOut.String())
	assert.Equal(t, "2000", cfg.DailyLimitOut.String())

	_, ok = f.gateway.Chain(ctx, domain.ChainID(5))
	assert.False(t, ok)
}

func TestConfigureChain_LimitsAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	over := amount.Max.Add(d(1))
	assert.ErrorIs(t, f.gateway.ConfigureChain(ctx, f.Admin, remote, true, over, d(1)), pkgerrors.ErrInvalidLimit)
	assert.ErrorIs(t, f.gateway.ConfigureChain(ctx, f.Admin, remote, true, d(1), over), pkgerrors.ErrInvalidLimit)
	require.NoError(t, f.gateway.ConfigureChain(ctx, f.Admin, remote, true, amount.Max, amount.Max))

	assert.NotPanics(t, func() {
		bridge.OutboundID(remote, f.user, f.user, amount.Max, 1)
	})
}
