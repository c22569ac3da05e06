// Package testkit assembles the token stack for component tests.
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"govtoken/internal/access"
	"govtoken/internal/clock"
	"govtoken/internal/compliance"
	"govtoken/internal/domain"
	"govtoken/internal/mint"
	"govtoken/internal/state"
	"govtoken/internal/tax"
	"govtoken/internal/token"
	"govtoken/internal/velocity"
	"govtoken/pkg/logger"
)

// InitialSupply matches the production bootstrap supply.
const InitialSupply = 100_000_000_000

// Start is the clock's initial reading.
var Start = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// Stack is a bootstrapped ledger with every engine it consults. Admin holds
// every capability and the initial supply.
type Stack struct {
	DB         *state.DB
	Clock      *clock.Manual
	Logger     logger.Logger
	Access     *access.Registry
	Compliance *compliance.Registry
	Velocity   *velocity.Ledger
	Tax        *tax.Engine
	Mint       *mint.Controller
	Ledger     *token.Ledger
	Admin      domain.Address
}

// Options tune the stack before bootstrap.
type Options struct {
	MaxTransfer int64
	DailyLimit  int64
	GlobalCap   int64
}

func DefaultOptions() Options {
	return Options{
		MaxTransfer: 1_000_000,
		DailyLimit:  5_000_000,
		GlobalCap:   200_000_000_000,
	}
}

func New(t testing.TB) *Stack {
	return NewWithOptions(t, DefaultOptions())
}

func NewWithOptions(t testing.TB, opts Options) *Stack {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()
	db := state.NewDB()
	clk := clock.NewManual(Start)

	s := &Stack{DB: db, Clock: clk, Logger: log, Admin: domain.NewAddress()}
	s.Access = access.NewRegistry(db, clk, log)
	s.Compliance = compliance.NewRegistry(db, s.Access, clk, log)
	s.Velocity = velocity.NewLedger(db, s.Access, clk, log, velocity.Limits{
		MaxTransfer: decimal.NewFromInt(opts.MaxTransfer),
		DailyLimit:  decimal.NewFromInt(opts.DailyLimit),
	})
	s.Tax = tax.NewEngine(db, s.Access, clk, log)
	s.Mint = mint.NewController(db, s.Access, clk, log, mint.Config{GlobalCap: decimal.NewFromInt(opts.GlobalCap)})
	s.Ledger = token.NewLedger(db, token.Deps{
		Access:     s.Access,
		Compliance: s.Compliance,
		Velocity:   s.Velocity,
		Tax:        s.Tax,
		Mint:       s.Mint,
		Clock:      clk,
		Logger:     log,
	})

	require.NoError(t, s.Access.Bootstrap(ctx, s.Admin))
	for _, c := range domain.Capabilities {
		if c == domain.CapAdmin || c == domain.CapBridge {
			continue
		}
		require.NoError(t, s.Access.Grant(ctx, s.Admin, c, s.Admin))
	}
	require.NoError(t, s.Ledger.Bootstrap(ctx, s.Admin, s.Admin, decimal.NewFromInt(InitialSupply), token.Metadata{
		Name: "Governance Token", Symbol: "GOV", Decimals: 18,
	}))
	return s
}

// Fund sends amt from the admin's supply to to.
func (s *Stack) Fund(t testing.TB, to domain.Address, amt int64) {
	t.Helper()
	require.NoError(t, s.Ledger.Transfer(context.Background(), s.Admin, to, decimal.NewFromInt(amt)))
}

// EnableTax turns on a bps tax paid to treasury.
func (s *Stack) EnableTax(t testing.TB, bps int64, treasury domain.Address) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Tax.SetTaxRate(ctx, s.Admin, bps))
	require.NoError(t, s.Tax.SetTaxEnabled(ctx, s.Admin, true))
	require.NoError(t, s.Tax.SetTreasury(ctx, s.Admin, treasury))
}

// Balance returns owner's balance as a string.
func (s *Stack) Balance(owner domain.Address) string {
	return s.Ledger.BalanceOf(context.Background(), owner).String()
}

// Events collects every committed event from now on.
func (s *Stack) Events() *[]domain.Event {
	var events []domain.Event
	s.DB.OnCommit(func(ctx context.Context, c state.Commit) {
		events = append(events, c.Events...)
	})
	return &events
}
