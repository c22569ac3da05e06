package token_test

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"govtoken/internal/domain"
	"govtoken/internal/testkit"
	"govtoken/internal/token"
	pkgerrors "govtoken/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestBootstrap(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()

	assert.Equal(t, "100000000000", s.Balance(s.Admin))
	assert.Equal(t, "100000000000", s.Ledger.TotalSupply(ctx).String())
	assert.True(t, s.Velocity.IsExcluded(s.Admin))
	assert.Equal(t, 1, s.Ledger.SchemaVersion())
	assert.Equal(t, "GOV", s.Ledger.Metadata(ctx).Symbol)
	assert.Equal(t, "6000000000", s.Mint.Budget().PeriodLimit.String())

	err := s.Ledger.Bootstrap(ctx, s.Admin, s.Admin, d(1), token.Metadata{})
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadyInitialized)
	assert.Equal(t, "100000000000", s.Ledger.TotalSupply(ctx).String())
}

func TestTransfer_TaxScenario(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	treasury, u, v := domain.NewAddress(), domain.NewAddress(), domain.NewAddress()
	s.EnableTax(t, 1000, treasury)
	s.Fund(t, u, 100)

	assert.Equal(t, "0", s.Balance(treasury), "excluded governor pays no tax")

	require.NoError(t, s.Ledger.Transfer(ctx, u, v, d(10)))

	assert.Equal(t, "9", s.Balance(v))
	assert.Equal(t, "1", s.Balance(treasury))
	assert.Equal(t, "90", s.Balance(u))
	assert.Equal(t, "10", s.Velocity.Window(u).SpentToday.String())
}

func TestTransfer_TaxRounding(t *testing.T) {
	cases := []struct {
		name      string
		bps       int64
		treasury  bool
		amount    int64
		delivered string
		taxed     string
	}{
		{"floor", 250, true, 999, "975", "24"},
		{"below one unit", 1000, true, 9, "9", "0"},
		{"zero rate", 0, true, 500, "500", "0"},
		{"no treasury", 1000, false, 500, "500", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testkit.New(t)
			ctx := context.Background()
			treasury, u, v := domain.NewAddress(), domain.NewAddress(), domain.NewAddress()
			require.NoError(t, s.Tax.SetTaxRate(ctx, s.Admin, tc.bps))
			require.NoError(t, s.Tax.SetTaxEnabled(ctx, s.Admin, true))
			if tc.treasury {
				require.NoError(t, s.Tax.SetTreasury(ctx, s.Admin, treasury))
			}
			s.Fund(t, u, tc.amount)

			require.NoError(t, s.Ledger.Transfer(ctx, u, v, d(tc.amount)))
			assert.Equal(t, tc.delivered, s.Balance(v))
			assert.Equal(t, tc.taxed, s.Balance(treasury))
			assert.Equal(t, "0", s.Balance(u))
		})
	}
}

func TestTransfer_TreasuryIsNeverTaxedOrLimited(t *testing.T) {
	s := testkit.NewWithOptions(t, testkit.Options{MaxTransfer: 50, DailyLimit: 50, GlobalCap: 200_000_000_000})
	ctx := context.Background()
	treasury, u := domain.NewAddress(), domain.NewAddress()
	s.EnableTax(t, 1000, treasury)
	s.Fund(t, treasury, 1000)

	require.NoError(t, s.Ledger.Transfer(ctx, treasury, u, d(400)))
	assert.Equal(t, "400", s.Balance(u))
	assert.Equal(t, "600", s.Balance(treasury))

	require.NoError(t, s.Ledger.Transfer(ctx, u, treasury, d(300)))
	assert.Equal(t, "900", s.Balance(treasury))
	assert.True(t, s.Velocity.Window(u).SpentToday.IsZero())
}

func TestTransfer_SelfTransferIsTaxedAndLimited(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	treasury, u := domain.NewAddress(), domain.NewAddress()
	s.EnableTax(t, 1000, treasury)
	s.Fund(t, u, 100)

	require.NoError(t, s.Ledger.Transfer(ctx, u, u, d(50)))
	assert.Equal(t, "95", s.Balance(u))
	assert.Equal(t, "5", s.Balance(treasury))
	assert.Equal(t, "50", s.Velocity.Window(u).SpentToday.String())
}

func TestTransfer_BlacklistBlocksBothDirections(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	x, y := domain.NewAddress(), domain.NewAddress()
	s.Fund(t, x, 100)
	s.Fund(t, y, 100)
	require.NoError(t, s.Compliance.Blacklist(ctx, s.Admin, x, "sanctions"))

	err := s.Ledger.Transfer(ctx, x, y, d(1))
	assert.ErrorIs(t, err, pkgerrors.ErrAccountBlacklisted)
	assert.Equal(t, pkgerrors.KindCompliance, pkgerrors.KindOf(err))
	assert.ErrorIs(t, s.Ledger.Transfer(ctx, y, x, d(1)), pkgerrors.ErrAccountBlacklisted)
	assert.ErrorIs(t, s.Ledger.Mint(ctx, s.Admin, x, d(1)), pkgerrors.ErrAccountBlacklisted)
	assert.ErrorIs(t, s.Ledger.Burn(ctx, x, d(1)), pkgerrors.ErrAccountBlacklisted)

	assert.Equal(t, "100", s.Balance(x))
	assert.Equal(t, "100", s.Balance(y))

	require.NoError(t, s.Compliance.RemoveFromBlacklist(ctx, s.Admin, x))
	require.NoError(t, s.Ledger.Transfer(ctx, y, x, d(1)))
}

func TestTransfer_TimeLockBlocksSendingOnly(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	x, y := domain.NewAddress(), domain.NewAddress()
	s.Fund(t, x, 100)
	require.NoError(t, s.Compliance.LockFunds(ctx, s.Admin, x, time.Hour))

	assert.ErrorIs(t, s.Ledger.Transfer(ctx, x, y, d(1)), pkgerrors.ErrAccountLocked)
	s.Fund(t, x, 1)

	s.Clock.Advance(time.Hour)
	require.NoError(t, s.Ledger.Transfer(ctx, x, y, d(1)))
	assert.Equal(t, "100", s.Balance(x))
}

func TestTransfer_VelocityCaps(t *testing.T) {
	s := testkit.NewWithOptions(t, testkit.Options{MaxTransfer: 60, DailyLimit: 100, GlobalCap: 200_000_000_000})
	ctx := context.Background()
	u, v := domain.NewAddress(), domain.NewAddress()
	s.Fund(t, u, 1000)

	assert.ErrorIs(t, s.Ledger.Transfer(ctx, u, v, d(61)), pkgerrors.ErrMaxTransferExceeded)
	require.NoError(t, s.Ledger.Transfer(ctx, u, v, d(60)))
	require.NoError(t, s.Ledger.Transfer(ctx, u, v, d(40)))
	assert.ErrorIs(t, s.Ledger.Transfer(ctx, u, v, d(1)), pkgerrors.ErrDailyLimitExceeded)

	s.Clock.Advance(24 * time.Hour)
	require.NoError(t, s.Ledger.Transfer(ctx, u, v, d(1)))
	assert.Equal(t, "1", s.Velocity.Window(u).SpentToday.String())

	require.NoError(t, s.Velocity.SetExcluded(ctx, s.Admin, u, true))
	require.NoError(t, s.Ledger.Transfer(ctx, u, v, d(500)))
	assert.Equal(t, "601", s.Balance(v))
}

func TestTransfer_FailureRollsBackEverything(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	treasury, u, v := domain.NewAddress(), domain.NewAddress(), domain.NewAddress()
	s.EnableTax(t, 1000, treasury)
	s.Fund(t, u, 50)
	events := s.Events()

	// Tax (6) is collected before the net move (54) runs out of funds.
	err := s.Ledger.Transfer(ctx, u, v, d(60))
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)

	assert.Equal(t, "50", s.Balance(u))
	assert.Equal(t, "0", s.Balance(treasury))
	assert.Equal(t, "0", s.Balance(v))
	assert.True(t, s.Velocity.Window(u).SpentToday.IsZero())
	assert.Empty(t, *events)
}

func TestTransfer_RejectsOutOfRangeAmounts(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	to := domain.NewAddress()
	huge := decimal.RequireFromString("1e30000000")

	start := time.Now()
	err := s.Ledger.Transfer(ctx, s.Admin, to, huge)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	assert.Less(t, len(err.Error()), 200)
	assert.ErrorIs(t, s.Ledger.Burn(ctx, s.Admin, huge), pkgerrors.ErrInvalidAmount)
	assert.ErrorIs(t, s.Ledger.Approve(ctx, s.Admin, to, huge), pkgerrors.ErrInvalidAmount)
	assert.Less(t, time.Since(start), time.Second)

	over := decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 256), 0)
	assert.ErrorIs(t, s.Ledger.Transfer(ctx, s.Admin, to, over), pkgerrors.ErrInvalidAmount)
	assert.Equal(t, "0", s.Balance(to))
	assert.Equal(t, "100000000000", s.Balance(s.Admin))
}

func TestTransferFrom(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	treasury, owner, spender, to := domain.NewAddress(), domain.NewAddress(), domain.NewAddress(), domain.NewAddress()
	s.EnableTax(t, 1000, treasury)
	s.Fund(t, owner, 200)

	assert.ErrorIs(t, s.Ledger.TransferFrom(ctx, spender, owner, to, d(1)), pkgerrors.ErrInsufficientAllowance)

	require.NoError(t, s.Ledger.Approve(ctx, owner, spender, d(150)))
	require.NoError(t, s.Ledger.TransferFrom(ctx, spender, owner, to, d(100)))

	assert.Equal(t, "50", s.Ledger.Allowance(ctx, owner, spender).String(), "allowance spent by the gross amount")
	assert.Equal(t, "90", s.Balance(to))
	assert.Equal(t, "10", s.Balance(treasury))
	assert.Equal(t, "100", s.Velocity.Window(owner).SpentToday.String(), "owner's budget is charged")
	assert.True(t, s.Velocity.Window(spender).SpentToday.IsZero())

	assert.ErrorIs(t, s.Ledger.Approve(ctx, owner, domain.ZeroAddress, d(1)), pkgerrors.ErrZeroAddress)
	assert.ErrorIs(t, s.Ledger.Approve(ctx, owner, spender, d(-1)), pkgerrors.ErrInvalidAmount)
}

func TestTransferFrom_BridgeOperatorBypassesTaxAndLimits(t *testing.T) {
	s := testkit.NewWithOptions(t, testkit.Options{MaxTransfer: 10, DailyLimit: 10, GlobalCap: 200_000_000_000})
	ctx := context.Background()
	treasury, owner, gateway := domain.NewAddress(), domain.NewAddress(), domain.NewAddress()
	s.EnableTax(t, 1000, treasury)
	s.Fund(t, owner, 100)
	require.NoError(t, s.Access.Grant(ctx, s.Admin, domain.CapBridge, gateway))

	require.NoError(t, s.Ledger.Approve(ctx, owner, gateway, d(100)))
	require.NoError(t, s.Ledger.TransferFrom(ctx, gateway, owner, gateway, d(100)))

	assert.Equal(t, "100", s.Balance(gateway))
	assert.Equal(t, "0", s.Balance(treasury))
	assert.True(t, s.Velocity.Window(owner).SpentToday.IsZero())
}

func TestBurn(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	owner, spender := domain.NewAddress(), domain.NewAddress()
	s.Fund(t, owner, 100)

	require.NoError(t, s.Ledger.Burn(ctx, owner, d(30)))
	assert.Equal(t, "70", s.Balance(owner))
	assert.Equal(t, "99999999970", s.Ledger.TotalSupply(ctx).String())

	assert.ErrorIs(t, s.Ledger.BurnFrom(ctx, spender, owner, d(10)), pkgerrors.ErrInsufficientAllowance)
	require.NoError(t, s.Ledger.Approve(ctx, owner, spender, d(10)))
	require.NoError(t, s.Ledger.BurnFrom(ctx, spender, owner, d(10)))
	assert.Equal(t, "60", s.Balance(owner))
	assert.Equal(t, "99999999960", s.Ledger.TotalSupply(ctx).String())

	assert.ErrorIs(t, s.Ledger.Burn(ctx, owner, d(61)), pkgerrors.ErrInsufficientBalance)
}

func TestMint(t *testing.T) {
	s := testkit.NewWithOptions(t, testkit.Options{MaxTransfer: 1000, DailyLimit: 1000, GlobalCap: 110_000_000_000})
	ctx := context.Background()
	to, stranger := domain.NewAddress(), domain.NewAddress()

	assert.ErrorIs(t, s.Ledger.Mint(ctx, stranger, to, d(1)), pkgerrors.ErrUnauthorized)
	assert.ErrorIs(t, s.Ledger.Mint(ctx, s.Admin, domain.ZeroAddress, d(1)), pkgerrors.ErrZeroAddress)
	assert.ErrorIs(t, s.Ledger.Mint(ctx, s.Admin, to, d(0)), pkgerrors.ErrZeroAmount)
	assert.ErrorIs(t, s.Ledger.Mint(ctx, s.Admin, to, d(10_000_000_001)), pkgerrors.ErrGlobalCapExceeded)

	require.NoError(t, s.Ledger.Mint(ctx, s.Admin, to, d(6_000_000_000)))
	assert.Equal(t, "6000000000", s.Balance(to))
	assert.Equal(t, "106000000000", s.Ledger.TotalSupply(ctx).String())
	assert.ErrorIs(t, s.Ledger.Mint(ctx, s.Admin, to, d(1)), pkgerrors.ErrInflationLimitReached)
}

func TestMint_RolloverCompoundsOnCurrentSupply(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	to := domain.NewAddress()

	require.NoError(t, s.Ledger.Mint(ctx, s.Admin, to, d(6_000_000_000)))
	s.Clock.Advance(366 * 24 * time.Hour)

	// 6% of 106,000,000,000
	require.NoError(t, s.Ledger.Mint(ctx, s.Admin, to, d(6_360_000_000)))
	assert.ErrorIs(t, s.Ledger.Mint(ctx, s.Admin, to, d(1)), pkgerrors.ErrInflationLimitReached)
	assert.Equal(t, "6360000000", s.Mint.Budget().PeriodLimit.String())
}

func TestPause(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	u, stranger := domain.NewAddress(), domain.NewAddress()
	s.Fund(t, u, 100)

	assert.ErrorIs(t, s.Ledger.Pause(ctx, stranger), pkgerrors.ErrUnauthorized)
	require.NoError(t, s.Ledger.Pause(ctx, s.Admin))
	assert.True(t, s.Ledger.Paused(ctx))

	assert.ErrorIs(t, s.Ledger.Transfer(ctx, u, s.Admin, d(1)), pkgerrors.ErrTokenPaused)
	assert.ErrorIs(t, s.Ledger.Burn(ctx, u, d(1)), pkgerrors.ErrTokenPaused)
	assert.ErrorIs(t, s.Ledger.Mint(ctx, s.Admin, u, d(1)), pkgerrors.ErrTokenPaused)
	require.NoError(t, s.Ledger.Approve(ctx, u, s.Admin, d(1)))
	assert.ErrorIs(t, s.Ledger.TransferFrom(ctx, s.Admin, u, s.Admin, d(1)), pkgerrors.ErrTokenPaused)

	require.NoError(t, s.Ledger.Unpause(ctx, s.Admin))
	require.NoError(t, s.Ledger.Transfer(ctx, u, s.Admin, d(1)))
}

func TestReceiverHook(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	u, forward := domain.NewAddress(), domain.NewAddress()

	var seen []string
	s.Ledger.SetReceiverHook(u, func(ctx context.Context, from domain.Address, amt decimal.Decimal) error {
		seen = append(seen, amt.String())
		if amt.GreaterThan(d(50)) {
			return errors.New("refused")
		}
		// Forward half of every receipt inside the same operation.
		return s.Ledger.Transfer(ctx, u, forward, amt.Div(d(2)).Floor())
	})

	s.Fund(t, u, 40)
	assert.Equal(t, "20", s.Balance(u))
	assert.Equal(t, "20", s.Balance(forward))

	err := s.Ledger.Transfer(ctx, s.Admin, u, d(51))
	assert.EqualError(t, err, "refused")
	assert.Equal(t, "20", s.Balance(u))

	s.Ledger.SetReceiverHook(u, nil)
	s.Fund(t, u, 51)
	assert.Equal(t, "71", s.Balance(u))
	assert.Equal(t, []string{"40", "51"}, seen)
}

func TestMigrateV2(t *testing.T) {
	s := testkit.New(t)
	ctx := context.Background()
	meta := token.Metadata{Name: "Governance Token v2", Symbol: "GOV2", Decimals: 18}

	assert.ErrorIs(t, s.Ledger.MigrateV2(ctx, domain.NewAddress(), meta), pkgerrors.ErrUnauthorized)
	require.NoError(t, s.Ledger.MigrateV2(ctx, s.Admin, meta))
	assert.Equal(t, 2, s.Ledger.SchemaVersion())
	assert.Equal(t, "GOV2", s.Ledger.Metadata(ctx).Symbol)

	assert.ErrorIs(t, s.Ledger.MigrateV2(ctx, s.Admin, token.Metadata{Symbol: "X"}), pkgerrors.ErrAlreadyMigrated)
	assert.Equal(t, "GOV2", s.Ledger.Metadata(ctx).Symbol)
}

func TestConservation(t *testing.T) {
	s := testkit.NewWithOptions(t, testkit.Options{MaxTransfer: 500, DailyLimit: 2000, GlobalCap: 200_000_000_000})
	ctx := context.Background()
	treasury := domain.NewAddress()
	s.EnableTax(t, 300, treasury)

	accounts := []domain.Address{s.Admin, treasury}
	for i := 0; i < 5; i++ {
		a := domain.NewAddress()
		s.Fund(t, a, 1000)
		accounts = append(accounts, a)
	}

	minted, burned := d(testkit.InitialSupply), decimal.Zero
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		from := accounts[rng.Intn(len(accounts))]
		to := accounts[rng.Intn(len(accounts))]
		amt := d(rng.Int63n(600))
		switch rng.Intn(4) {
		case 0:
			if s.Ledger.Mint(ctx, s.Admin, to, amt) == nil {
				minted = minted.Add(amt)
			}
		case 1:
			if s.Ledger.Burn(ctx, from, amt) == nil {
				burned = burned.Add(amt)
			}
		default:
			_ = s.Ledger.Transfer(ctx, from, to, amt)
		}
		if i%50 == 0 {
			s.Clock.Advance(13 * time.Hour)
		}

		sum := decimal.Zero
		for _, a := range accounts {
			sum = sum.Add(s.Ledger.BalanceOf(ctx, a))
		}
		require.True(t, sum.Equal(s.Ledger.TotalSupply(ctx)), "step %d", i)
		require.True(t, sum.Equal(minted.Sub(burned)), "step %d", i)
	}
}
