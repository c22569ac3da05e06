// Package bridge locks tokens for outbound cross-chain transfers and
// releases them for relayed inbound messages.
package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"govtoken/internal/access"
	"govtoken/internal/amount"
	"govtoken/internal/clock"
	"govtoken/internal/domain"
	"govtoken/internal/reentrancy"
	"govtoken/internal/state"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
)

const component = "bridge"

// ResetInterval is how long both daily counters of a chain accumulate.
const ResetInterval = 24 * time.Hour

// Token is the ledger the gateway locks into and releases from.
type Token interface {
	TransferFrom(ctx context.Context, spender, owner, to domain.Address, amt decimal.Decimal) error
	Transfer(ctx context.Context, from, to domain.Address, amt decimal.Decimal) error
}

// ChainConfig is the gateway's record for one remote chain.
type ChainConfig struct {
	Supported     bool            `json:"supported"`
	DailyLimitOut decimal.Decimal `json:"daily_limit_out"`
	DailyLimitIn  decimal.Decimal `json:"daily_limit_in"`
	SpentOut      decimal.Decimal `json:"spent_out"`
	SpentIn       decimal.Decimal `json:"spent_in"`
	LastReset     time.Time       `json:"last_reset"`
}

// rolled returns c with both counters cleared if the interval has passed.
func (c ChainConfig) rolled(now time.Time) ChainConfig {
	if now.Before(c.LastReset.Add(ResetInterval)) {
		return c
	}
	c.SpentOut = decimal.Zero
	c.SpentIn = decimal.Zero
	c.LastReset = now
	return c
}

type Gateway struct {
	db        *state.DB
	address   domain.Address
	token     Token
	chains    *state.Map[domain.ChainID, ChainConfig]
	processed *state.Map[domain.MessageID, bool]
	nonce     *state.Value[uint64]
	guard     reentrancy.Guard
	access    *access.Registry
	clock     clock.Clock
	logger    logger.Logger
}

// NewGateway builds a gateway holding funds at address. The address must
// hold the bridge capability so locks and releases skip tax and velocity.
func NewGateway(db *state.DB, address domain.Address, token Token, acl *access.Registry, clk clock.Clock, log logger.Logger) *Gateway {
	return &Gateway{
		db:        db,
		address:   address,
		token:     token,
		chains:    state.NewMap[domain.ChainID, ChainConfig](db, "bridge.chains", state.ChainKeys),
		processed: state.NewMap[domain.MessageID, bool](db, "bridge.processed", state.MessageKeys),
		nonce:     state.NewValue[uint64](db, "bridge.nonce"),
		access:    acl,
		clock:     clk,
		logger:    log,
	}
}

func (g *Gateway) Address() domain.Address {
	return g.address
}

// ConfigureChain sets support and both daily limits for chain. Spent
// counters and the reset clock carry over. Requires bridge_admin.
func (g *Gateway) ConfigureChain(ctx context.Context, caller domain.Address, chain domain.ChainID, supported bool, limitOut, limitIn decimal.Decimal) error {
	return g.db.Atomic(ctx, func(ctx context.Context) error {
		if err := g.access.Require(domain.CapBridgeAdmin, caller); err != nil {
			return err
		}
		if err := amount.Validate(limitOut); err != nil {
			return pkgerrors.Wrap(pkgerrors.ErrInvalidLimit, "outbound limit")
		}
		if err := amount.Validate(limitIn); err != nil {
			return pkgerrors.Wrap(pkgerrors.ErrInvalidLimit, "inbound limit")
		}
		cfg, ok := g.chains.Get(chain)
		if !ok {
			cfg = ChainConfig{LastReset: g.clock.Now()}
		}
		cfg.Supported = supported
		cfg.DailyLimitOut = limitOut
		cfg.DailyLimitIn = limitIn
		g.chains.Set(ctx, chain, cfg)

		fields := map[string]interface{}{
			"chain":     uint64(chain),
			"supported": supported,
			"limit_out": limitOut.String(),
			"limit_in":  limitIn.String(),
		}
		g.db.Emit(ctx, domain.NewEvent(component, domain.EventChainConfigured, g.clock.Now(), fields))
		g.logger.Info("Bridge chain configured", fields)
		return nil
	})
}

// BridgeOut locks amt from caller for delivery to to on chain and returns
// the outbound message id. caller must have approved the gateway.
func (g *Gateway) BridgeOut(ctx context.Context, caller domain.Address, chain domain.ChainID, to domain.Address, amt decimal.Decimal) (domain.MessageID, error) {
	var id domain.MessageID
	err := g.db.Atomic(ctx, func(ctx context.Context) error {
		return g.guard.Run(ctx, func(ctx context.Context) error {
			cfg, err := g.supported(chain)
			if err != nil {
				return err
			}
			if err := amount.ValidatePositive(amt); err != nil {
				return err
			}
			if to.IsZero() {
				return pkgerrors.ErrZeroAddress
			}

			now := g.clock.Now()
			cfg = cfg.rolled(now)
			if cfg.SpentOut.Add(amt).GreaterThan(cfg.DailyLimitOut) {
				g.logger.Warn("Bridge outbound limit reached", map[string]interface{}{
					"chain":  uint64(chain),
					"amount": amt.String(),
				})
				return pkgerrors.Wrap(pkgerrors.ErrDailyLimitExceeded, "outbound")
			}
			cfg.SpentOut = cfg.SpentOut.Add(amt)
			g.chains.Set(ctx, chain, cfg)

			nonce := g.nonce.Get() + 1
			g.nonce.Set(ctx, nonce)
			id = OutboundID(chain, caller, to, amt, nonce)

			if err := g.token.TransferFrom(ctx, g.address, caller, g.address, amt); err != nil {
				return err
			}

			g.db.Emit(ctx, domain.NewEvent(component, domain.EventBridgeSent, now, map[string]interface{}{
				"message_id": id.Hex(),
				"chain":      uint64(chain),
				"from":       caller.Hex(),
				"to":         to.Hex(),
				"amount":     amt.String(),
				"nonce":      nonce,
			}))
			g.logger.Info("Bridge transfer sent", map[string]interface{}{
				"message_id": id.Hex(),
				"chain":      uint64(chain),
				"amount":     amt.String(),
			})
			return nil
		})
	})
	if err != nil {
		return domain.MessageID{}, err
	}
	return id, nil
}

// BridgeIn releases amt to to for an inbound message. Each message id is
// honored once. Requires relayer.
func (g *Gateway) BridgeIn(ctx context.Context, caller domain.Address, chain domain.ChainID, to domain.Address, amt decimal.Decimal, id domain.MessageID) error {
	return g.db.Atomic(ctx, func(ctx context.Context) error {
		return g.guard.Run(ctx, func(ctx context.Context) error {
			if err := g.access.Require(domain.CapRelayer, caller); err != nil {
				return err
			}
			cfg, err := g.supported(chain)
			if err != nil {
				return err
			}
			if g.processed.Value(id) {
				g.logger.Warn("Bridge replay rejected", map[string]interface{}{
					"message_id": id.Hex(),
					"chain":      uint64(chain),
				})
				return pkgerrors.Wrap(pkgerrors.ErrAlreadyProcessed, id.Hex())
			}
			if err := amount.ValidatePositive(amt); err != nil {
				return err
			}
			if to.IsZero() {
				return pkgerrors.ErrZeroAddress
			}

			now := g.clock.Now()
			cfg = cfg.rolled(now)
			if cfg.SpentIn.Add(amt).GreaterThan(cfg.DailyLimitIn) {
				g.logger.Warn("Bridge inbound limit reached", map[string]interface{}{
					"chain":  uint64(chain),
					"amount": amt.String(),
				})
				return pkgerrors.Wrap(pkgerrors.ErrDailyLimitExceeded, "inbound")
			}
			cfg.SpentIn = cfg.SpentIn.Add(amt)
			g.chains.Set(ctx, chain, cfg)
			g.processed.Set(ctx, id, true)

			if err := g.token.Transfer(ctx, g.address, to, amt); err != nil {
				return err
			}

			g.db.Emit(ctx, domain.NewEvent(component, domain.EventBridgeReceived, now, map[string]interface{}{
				"message_id": id.Hex(),
				"chain":      uint64(chain),
				"to":         to.Hex(),
				"amount":     amt.String(),
			}))
			g.logger.Info("Bridge transfer received", map[string]interface{}{
				"message_id": id.Hex(),
				"chain":      uint64(chain),
				"amount":     amt.String(),
				"relayer":    caller.Hex(),
			})
			return nil
		})
	})
}

func (g *Gateway) supported(chain domain.ChainID) (ChainConfig, error) {
	cfg, ok := g.chains.Get(chain)
	if !ok || !cfg.Supported {
		return ChainConfig{}, pkgerrors.Wrap(pkgerrors.ErrChainNotSupported, fmt.Sprintf("chain %d", chain))
	}
	return cfg, nil
}

// Chain returns the chain's record with counters as of now.
func (g *Gateway) Chain(ctx context.Context, chain domain.ChainID) (ChainConfig, bool) {
	var (
		cfg ChainConfig
		ok  bool
	)
	_ = g.db.View(ctx, func(ctx context.Context) error {
		cfg, ok = g.chains.Get(chain)
		return nil
	})
	if !ok {
		return ChainConfig{}, false
	}
	return cfg.rolled(g.clock.Now()), true
}

func (g *Gateway) IsProcessed(ctx context.Context, id domain.MessageID) bool {
	var out bool
	_ = g.db.View(ctx, func(ctx context.Context) error {
		out = g.processed.Value(id)
		return nil
	})
	return out
}

// OutboundID derives the message id of an outbound transfer as
// keccak256(chain || sender || to || amount || nonce), integers big-endian
// and amount as 32 bytes.
func OutboundID(chain domain.ChainID, sender, to domain.Address, amt decimal.Decimal, nonce uint64) domain.MessageID {
	h := sha3.NewLegacyKeccak256()
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], uint64(chain))
	h.Write(word[:])
	h.Write(sender[:])
	h.Write(to[:])
	h.Write(amt.BigInt().FillBytes(make([]byte, 32)))
	binary.BigEndian.PutUint64(word[:], nonce)
	h.Write(word[:])

	var id domain.MessageID
	copy(id[:], h.Sum(nil))
	return id
}
