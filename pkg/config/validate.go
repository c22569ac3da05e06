// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"

	"govtoken/internal/domain"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// ValidateProtocol checks the token economics settings.
func (c *Config) ValidateProtocol() error {
	var problems []string

	if _, err := domain.ParseAddress(c.Token.Admin); err != nil {
		problems = append(problems, "TOKEN_ADMIN must be a 20-byte hex address")
	}
	if c.Tax.Treasury != "" {
		if _, err := domain.ParseAddress(c.Tax.Treasury); err != nil {
			problems = append(problems, "TAX_TREASURY must be a 20-byte hex address")
		}
	}
	for _, r := range c.Bridge.Relayers {
		if _, err := domain.ParseAddress(r); err != nil {
			problems = append(problems, fmt.Sprintf("BRIDGE_RELAYERS entry %q is not an address", r))
		}
	}
	if c.Token.InitialSupply.IsNegative() || c.Token.InitialSupply.GreaterThan(c.Token.GlobalCap) {
		problems = append(problems, "TOKEN_INITIAL_SUPPLY must be between 0 and TOKEN_GLOBAL_CAP")
	}
	if !c.Velocity.MaxTransfer.IsPositive() || !c.Velocity.DailyLimit.IsPositive() {
		problems = append(problems, "VELOCITY_MAX_TRANSFER and VELOCITY_DAILY_LIMIT must be positive")
	}
	if c.Tax.RateBps < 0 || c.Tax.RateBps > 1000 {
		problems = append(problems, "TAX_RATE_BPS must be between 0 and 1000")
	}
	if c.Mint.InflationBps < 0 || c.Mint.InflationBps > 1000 {
		problems = append(problems, "MINT_INFLATION_BPS must be between 0 and 1000")
	}
	if c.Treasury.LimitBps <= 0 || c.Treasury.LimitBps > 10000 {
		problems = append(problems, "TREASURY_LIMIT_BPS must be between 1 and 10000")
	}
	if c.Treasury.WindowLength <= 0 {
		problems = append(problems, "TREASURY_WINDOW_LENGTH must be positive")
	}
	if len(c.Staking.AprBps) != 4 {
		problems = append(problems, "STAKING_APR_BPS needs one rate per tier (4)")
	}
	for _, bps := range c.Staking.AprBps {
		if bps < 0 {
			problems = append(problems, "STAKING_APR_BPS rates must not be negative")
			break
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid protocol configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
