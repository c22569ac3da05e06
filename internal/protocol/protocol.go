// Package protocol wires every engine against one state DB, access
// registry, clock and logger.
package protocol

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"govtoken/internal/access"
	"govtoken/internal/bridge"
	"govtoken/internal/clock"
	"govtoken/internal/compliance"
	"govtoken/internal/domain"
	"govtoken/internal/events"
	"govtoken/internal/mint"
	"govtoken/internal/native"
	"govtoken/internal/staking"
	"govtoken/internal/state"
	"govtoken/internal/tax"
	"govtoken/internal/token"
	"govtoken/internal/treasury"
	"govtoken/internal/velocity"
	"govtoken/pkg/config"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
)

// Settings are the deployment parameters.
type Settings struct {
	Admin         domain.Address
	Metadata      token.Metadata
	InitialSupply decimal.Decimal
	GlobalCap     decimal.Decimal
	Velocity      velocity.Limits
	TaxRateBps    int64
	TaxEnabled    bool
	// TaxTreasury defaults to the treasury vault.
	TaxTreasury domain.Address
	// InflationBps defaults to the mint package default when nil.
	InflationBps *int64
	Treasury     treasury.Config
	StakingTiers []staking.Tier
	Relayers     []domain.Address
}

// SettingsFromConfig converts validated service configuration.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	admin, err := domain.ParseAddress(cfg.Token.Admin)
	if err != nil {
		return Settings{}, fmt.Errorf("token admin: %w", err)
	}
	inflation := cfg.Mint.InflationBps
	s := Settings{
		Admin: admin,
		Metadata: token.Metadata{
			Name:     cfg.Token.Name,
			Symbol:   cfg.Token.Symbol,
			Decimals: cfg.Token.Decimals,
		},
		InitialSupply: cfg.Token.InitialSupply,
		GlobalCap:     cfg.Token.GlobalCap,
		Velocity: velocity.Limits{
			MaxTransfer: cfg.Velocity.MaxTransfer,
			DailyLimit:  cfg.Velocity.DailyLimit,
		},
		TaxRateBps:   cfg.Tax.RateBps,
		TaxEnabled:   cfg.Tax.Enabled,
		InflationBps: &inflation,
		Treasury: treasury.Config{
			LockDuration: cfg.Treasury.LockDuration,
			WindowLength: cfg.Treasury.WindowLength,
			LimitBps:     cfg.Treasury.LimitBps,
		},
	}
	if cfg.Tax.Treasury != "" {
		if s.TaxTreasury, err = domain.ParseAddress(cfg.Tax.Treasury); err != nil {
			return Settings{}, fmt.Errorf("tax treasury: %w", err)
		}
	}
	tiers := staking.DefaultTiers()
	if len(cfg.Staking.AprBps) != len(tiers) {
		return Settings{}, fmt.Errorf("staking: want %d tier rates, got %d", len(tiers), len(cfg.Staking.AprBps))
	}
	for i := range tiers {
		if cfg.Staking.AprBps[i] < 0 {
			return Settings{}, fmt.Errorf("staking: negative rate for tier %d", i)
		}
		tiers[i].AprBps = cfg.Staking.AprBps[i]
	}
	s.StakingTiers = tiers
	for _, r := range cfg.Bridge.Relayers {
		addr, err := domain.ParseAddress(r)
		if err != nil {
			return Settings{}, fmt.Errorf("bridge relayer: %w", err)
		}
		s.Relayers = append(s.Relayers, addr)
	}
	return s, nil
}

// Protocol is the assembled system.
type Protocol struct {
	DB         *state.DB
	Clock      clock.Clock
	Logger     logger.Logger
	Events     *events.Hub
	Access     *access.Registry
	Compliance *compliance.Registry
	Velocity   *velocity.Ledger
	Tax        *tax.Engine
	Mint       *mint.Controller
	Token      *token.Ledger
	Native     *native.Ledger
	Treasury   *treasury.Vault
	Bridge     *bridge.Gateway
	Staking    *staking.Engine

	settings Settings
}

// Module accounts.
var (
	TreasuryAddress = domain.DeriveAddress("treasury")
	BridgeAddress   = domain.DeriveAddress("bridge")
	StakingAddress  = domain.DeriveAddress("staking")
)

// New builds every component. Nothing is written until Bootstrap.
func New(s Settings, clk clock.Clock, log logger.Logger) *Protocol {
	db := state.NewDB()
	p := &Protocol{
		DB:       db,
		Clock:    clk,
		Logger:   log,
		Events:   events.NewHub(256, logger.Component(log, "events")),
		settings: s,
	}
	p.Access = access.NewRegistry(db, clk, logger.Component(log, "access"))
	p.Compliance = compliance.NewRegistry(db, p.Access, clk, logger.Component(log, "compliance"))
	p.Velocity = velocity.NewLedger(db, p.Access, clk, logger.Component(log, "velocity"), s.Velocity)
	p.Tax = tax.NewEngine(db, p.Access, clk, logger.Component(log, "tax"))
	p.Mint = mint.NewController(db, p.Access, clk, logger.Component(log, "mint"), mint.Config{
		GlobalCap:    s.GlobalCap,
		InflationBps: s.InflationBps,
	})
	p.Token = token.NewLedger(db, token.Deps{
		Access:     p.Access,
		Compliance: p.Compliance,
		Velocity:   p.Velocity,
		Tax:        p.Tax,
		Mint:       p.Mint,
		Clock:      clk,
		Logger:     logger.Component(log, "token"),
	})
	p.Native = native.NewLedger(db, p.Access, logger.Component(log, "native"))
	p.Treasury = treasury.NewVault(db, TreasuryAddress, s.Treasury, map[domain.AssetID]treasury.Asset{
		domain.AssetToken:  p.Token,
		domain.AssetNative: p.Native,
	}, p.Access, clk, logger.Component(log, "treasury"))
	p.Bridge = bridge.NewGateway(db, BridgeAddress, p.Token, p.Access, clk, logger.Component(log, "bridge"))
	p.Staking = staking.NewEngine(db, StakingAddress, p.Token, s.StakingTiers, clk, logger.Component(log, "staking"))

	db.OnCommit(func(ctx context.Context, c state.Commit) {
		if len(c.Events) > 0 {
			p.Events.Publish(c.Events)
		}
	})
	return p
}

// operatorCapabilities are granted to the admin at bootstrap so the
// deployment is operable before governance takes over.
var operatorCapabilities = []domain.Capability{
	domain.CapMinter,
	domain.CapCompliance,
	domain.CapGovernance,
	domain.CapPauser,
	domain.CapBridgeAdmin,
	domain.CapTreasuryManager,
	domain.CapTreasurySpender,
	domain.CapEmergency,
}

// Bootstrap performs the one-time deployment in a single operation. It
// returns nil without changes when the ledger is already initialized, for
// example after a restore.
func (p *Protocol) Bootstrap(ctx context.Context) error {
	if p.Token.SchemaVersion() > 0 {
		p.Logger.Info("Protocol already bootstrapped", map[string]interface{}{
			"schema_version": p.Token.SchemaVersion(),
		})
		return nil
	}
	s := p.settings
	return p.DB.Atomic(ctx, func(ctx context.Context) error {
		if err := p.Access.Bootstrap(ctx, s.Admin); err != nil {
			return err
		}
		for _, c := range operatorCapabilities {
			if err := p.Access.Grant(ctx, s.Admin, c, s.Admin); err != nil {
				return err
			}
		}
		if err := p.Access.Grant(ctx, s.Admin, domain.CapBridge, BridgeAddress); err != nil {
			return err
		}
		for _, r := range s.Relayers {
			if err := p.Access.Grant(ctx, s.Admin, domain.CapRelayer, r); err != nil {
				return err
			}
		}
		for _, module := range []domain.Address{TreasuryAddress, StakingAddress} {
			if err := p.Velocity.Exclude(ctx, module); err != nil {
				return err
			}
		}

		treasuryAddr := s.TaxTreasury
		if treasuryAddr.IsZero() {
			treasuryAddr = TreasuryAddress
		}
		if err := p.Tax.SetTreasury(ctx, s.Admin, treasuryAddr); err != nil {
			return err
		}
		if err := p.Tax.SetTaxRate(ctx, s.Admin, s.TaxRateBps); err != nil {
			return err
		}
		if err := p.Tax.SetTaxEnabled(ctx, s.Admin, s.TaxEnabled); err != nil {
			return err
		}

		if err := p.Treasury.Initialize(ctx, s.Admin); err != nil {
			return err
		}
		if err := p.Token.Bootstrap(ctx, s.Admin, s.Admin, s.InitialSupply, s.Metadata); err != nil {
			return err
		}
		p.Logger.Info("Protocol bootstrapped", map[string]interface{}{
			"admin":    s.Admin.Hex(),
			"supply":   s.InitialSupply.String(),
			"treasury": TreasuryAddress.Hex(),
			"bridge":   BridgeAddress.Hex(),
			"staking":  StakingAddress.Hex(),
		})
		return nil
	})
}

// Restore loads persisted state. It must run before Bootstrap.
func (p *Protocol) Restore(entries []state.Entry) error {
	if err := p.DB.Restore(entries); err != nil {
		return err
	}
	p.Logger.Info("State restored", map[string]interface{}{"entries": len(entries)})
	return nil
}

// OnCommit registers an additional commit listener, such as persistence.
func (p *Protocol) OnCommit(l state.CommitListener) {
	p.DB.OnCommit(l)
}

// Instrument feeds commit counts and the token supply into c.
func (p *Protocol) Instrument(c *metrics.Collector) {
	c.SetTotalSupply(p.Token.TotalSupply(context.Background()).InexactFloat64())
	p.DB.OnCommit(func(ctx context.Context, commit state.Commit) {
		labels := make([]metrics.EventLabel, 0, len(commit.Events))
		for _, ev := range commit.Events {
			labels = append(labels, metrics.EventLabel{Component: ev.Component, Type: string(ev.Type)})
		}
		c.RecordCommit(labels)
		c.SetTotalSupply(p.Token.TotalSupply(ctx).InexactFloat64())
	})
}

// View runs fn with a consistent read across every component.
func (p *Protocol) View(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.DB.View(ctx, fn)
}
