// Package staking locks tokens for a fixed tier and pays an APR reward.
//
// Withdrawing at or after maturity returns principal plus the full-term
// reward. Withdrawing early burns the principal and pays only the reward
// accrued so far. Payouts are capped at what the engine holds.
package staking

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"govtoken/internal/amount"
	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/reentrancy"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

const (
	component = "staking"
	day       = 24 * time.Hour
	// Year is the accrual base for APR rates.
	Year = 365 * day
)

var secondsPerYear = decimal.NewFromInt(int64(Year / time.Second))

// Token is the ledger the engine pulls stakes from and pays out of.
type Token interface {
	BalanceOf(ctx context.Context, owner domain.Address) decimal.Decimal
	TransferFrom(ctx context.Context, spender, owner, to domain.Address, amt decimal.Decimal) error
	Transfer(ctx context.Context, from, to domain.Address, amt decimal.Decimal) error
	Burn(ctx context.Context, caller domain.Address, amt decimal.Decimal) error
}

// Tier is a lock duration and its yearly reward rate.
type Tier struct {
	Duration time.Duration `json:"duration"`
	AprBps   int64         `json:"apr_bps"`
}

// DefaultTiers are the 3, 6, 9 and 12 month locks.
func DefaultTiers() []Tier {
	return []Tier{
		{Duration: 90 * day, AprBps: 400},
		{Duration: 180 * day, AprBps: 700},
		{Duration: 270 * day, AprBps: 1000},
		{Duration: 365 * day, AprBps: 1500},
	}
}

// Position is one stake. Positions are never removed; withdrawal clears Active.
type Position struct {
	Amount       decimal.Decimal `json:"amount"`
	StartTime    time.Time       `json:"start_time"`
	LockDuration time.Duration   `json:"lock_duration"`
	Tier         int             `json:"tier"`
	AprBps       int64           `json:"apr_bps"`
	Active       bool            `json:"active"`
}

// Matured reports whether the lock has elapsed at now.
func (p Position) Matured(now time.Time) bool {
	return now.Sub(p.StartTime) >= p.LockDuration
}

// Reward is floor(amount * apr * min(elapsed, lock) / (10000 * year)).
func (p Position) Reward(now time.Time) decimal.Decimal {
	elapsed := now.Sub(p.StartTime)
	if elapsed <= 0 {
		return decimal.Zero
	}
	if elapsed > p.LockDuration {
		elapsed = p.LockDuration
	}
	return amount.MulDiv(
		p.Amount.Mul(decimal.NewFromInt(p.AprBps)),
		decimal.NewFromInt(int64(elapsed/time.Second)),
		amount.BasisPoints.Mul(secondsPerYear),
	)
}

// Payout describes a settled withdrawal.
type Payout struct {
	Principal decimal.Decimal `json:"principal"`
	Reward    decimal.Decimal `json:"reward"`
	Burned    decimal.Decimal `json:"burned"`
	Paid      decimal.Decimal `json:"paid"`
	Matured   bool            `json:"matured"`
}

type positionKey struct {
	Owner domain.Address
	Index int
}

var positionKeys = state.KeyCodec[positionKey]{
	Encode: func(k positionKey) string { return k.Owner.Hex() + "/" + strconv.Itoa(k.Index) },
	Decode: func(s string) (positionKey, error) {
		owner, idx, ok := strings.Cut(s, "/")
		if !ok {
			return positionKey{}, fmt.Errorf("malformed position key %q", s)
		}
		addr, err := domain.ParseAddress(owner)
		if err != nil {
			return positionKey{}, err
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			return positionKey{}, err
		}
		return positionKey{Owner: addr, Index: i}, nil
	},
}

type Engine struct {
	db        *state.DB
	address   domain.Address
	token     Token
	tiers     []Tier
	positions *state.Map[positionKey, Position]
	counts    *state.Map[domain.Address, int]
	total     *state.Value[decimal.Decimal]
	guard     reentrancy.Guard
	clock     clock.Clock
	logger    logger.Logger
}

// NewEngine builds an engine holding stakes at address. The address should
// be exempt from velocity limits so payouts are never throttled.
func NewEngine(db *state.DB, address domain.Address, token Token, tiers []Tier, clk clock.Clock, log logger.Logger) *Engine {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	return &Engine{
		db:        db,
		address:   address,
		token:     token,
		tiers:     tiers,
		positions: state.NewMap[positionKey, Position](db, "staking.positions", positionKeys),
		counts:    state.NewMap[domain.Address, int](db, "staking.counts", state.AddressKeys),
		total:     state.NewValue[decimal.Decimal](db, "staking.total"),
		clock:     clk,
		logger:    log,
	}
}

func (e *Engine) Address() domain.Address {
	return e.address
}

func (e *Engine) Tiers() []Tier {
	return append([]Tier(nil), e.tiers...)
}

// Stake pulls amt from caller into a new position of the given tier and
// returns its index. caller must have approved the engine. The position
// records what the engine actually received.
func (e *Engine) Stake(ctx context.Context, caller domain.Address, amt decimal.Decimal, tier int) (int, error) {
	var index int
	err := e.db.Atomic(ctx, func(ctx context.Context) error {
		return e.guard.Run(ctx, func(ctx context.Context) error {
			if tier < 0 || tier >= len(e.tiers) {
				return pkgerrors.Wrap(pkgerrors.ErrInvalidDuration, fmt.Sprintf("tier %d", tier))
			}
			if err := amount.ValidatePositive(amt); err != nil {
				return err
			}

			before := e.token.BalanceOf(ctx, e.address)
			if err := e.token.TransferFrom(ctx, e.address, caller, e.address, amt); err != nil {
				return err
			}
			received := e.token.BalanceOf(ctx, e.address).Sub(before)
			if !received.IsPositive() {
				return pkgerrors.ErrZeroAmount
			}

			t := e.tiers[tier]
			now := e.clock.Now()
			index = e.counts.Value(caller)
			e.positions.Set(ctx, positionKey{Owner: caller, Index: index}, Position{
				Amount:       received,
				StartTime:    now,
				LockDuration: t.Duration,
				Tier:         tier,
				AprBps:       t.AprBps,
				Active:       true,
			})
			e.counts.Set(ctx, caller, index+1)
			e.total.Set(ctx, e.total.Get().Add(received))

			e.db.Emit(ctx, domain.NewEvent(component, domain.EventStaked, now, map[string]interface{}{
				"owner":  caller.Hex(),
				"index":  index,
				"amount": received.String(),
				"tier":   tier,
			}))
			e.logger.Info("Stake opened", map[string]interface{}{
				"owner":  caller.Hex(),
				"index":  index,
				"amount": received.String(),
				"tier":   tier,
			})
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// Withdraw settles caller's position at index.
func (e *Engine) Withdraw(ctx context.Context, caller domain.Address, index int) (Payout, error) {
	var out Payout
	err := e.db.Atomic(ctx, func(ctx context.Context) error {
		return e.guard.Run(ctx, func(ctx context.Context) error {
			key := positionKey{Owner: caller, Index: index}
			pos, ok := e.positions.Get(key)
			if !ok {
				return pkgerrors.Wrap(pkgerrors.ErrStakeNotFound, fmt.Sprintf("index %d", index))
			}
			if !pos.Active {
				return pkgerrors.Wrap(pkgerrors.ErrAlreadyWithdrawn, fmt.Sprintf("index %d", index))
			}

			pos.Active = false
			e.positions.Set(ctx, key, pos)
			e.total.Set(ctx, e.total.Get().Sub(pos.Amount))

			now := e.clock.Now()
			out = Payout{
				Principal: pos.Amount,
				Reward:    pos.Reward(now),
				Burned:    decimal.Zero,
				Matured:   pos.Matured(now),
			}
			owed := out.Reward
			if out.Matured {
				owed = owed.Add(pos.Amount)
			} else {
				out.Burned = amount.Min(pos.Amount, e.token.BalanceOf(ctx, e.address))
				if out.Burned.IsPositive() {
					if err := e.token.Burn(ctx, e.address, out.Burned); err != nil {
						return err
					}
				}
			}

			out.Paid = amount.Min(owed, e.token.BalanceOf(ctx, e.address))
			if out.Paid.LessThan(owed) {
				e.logger.Warn("Staking payout capped at engine balance", map[string]interface{}{
					"owner": caller.Hex(),
					"index": index,
					"owed":  owed.String(),
					"paid":  out.Paid.String(),
				})
			}
			if out.Paid.IsPositive() {
				if err := e.token.Transfer(ctx, e.address, caller, out.Paid); err != nil {
					return err
				}
			}

			e.db.Emit(ctx, domain.NewEvent(component, domain.EventStakeWithdrawn, now, map[string]interface{}{
				"owner":   caller.Hex(),
				"index":   index,
				"matured": out.Matured,
				"reward":  out.Reward.String(),
				"burned":  out.Burned.String(),
				"paid":    out.Paid.String(),
			}))
			e.logger.Info("Stake withdrawn", map[string]interface{}{
				"owner":   caller.Hex(),
				"index":   index,
				"matured": out.Matured,
				"paid":    out.Paid.String(),
			})
			return nil
		})
	})
	if err != nil {
		return Payout{}, err
	}
	return out, nil
}

func (e *Engine) StakeCount(ctx context.Context, owner domain.Address) int {
	var n int
	_ = e.db.View(ctx, func(ctx context.Context) error {
		n = e.counts.Value(owner)
		return nil
	})
	return n
}

func (e *Engine) StakeDetails(ctx context.Context, owner domain.Address, index int) (Position, error) {
	var (
		pos Position
		ok  bool
	)
	_ = e.db.View(ctx, func(ctx context.Context) error {
		pos, ok = e.positions.Get(positionKey{Owner: owner, Index: index})
		return nil
	})
	if !ok {
		return Position{}, pkgerrors.Wrap(pkgerrors.ErrStakeNotFound, fmt.Sprintf("index %d", index))
	}
	return pos, nil
}

// PendingReward is the reward an active position has accrued by now.
func (e *Engine) PendingReward(ctx context.Context, owner domain.Address, index int) (decimal.Decimal, error) {
	pos, err := e.StakeDetails(ctx, owner, index)
	if err != nil {
		return decimal.Zero, err
	}
	if !pos.Active {
		return decimal.Zero, nil
	}
	return pos.Reward(e.clock.Now()), nil
}

// TotalStaked is the principal of all active positions.
func (e *Engine) TotalStaked(ctx context.Context) decimal.Decimal {
	var out decimal.Decimal
	_ = e.db.View(ctx, func(ctx context.Context) error {
		out = e.total.Get()
		return nil
	})
	return out
}
