package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ReadsProtocolEnvironment(t *testing.T) {
	t.Setenv("TOKEN_ADMIN", "0x00000000000000000000000000000000000000a1")
	t.Setenv("TOKEN_INITIAL_SUPPLY", "1_000_000")
	t.Setenv("TAX_ENABLED", "yes")
	t.Setenv("TAX_RATE_BPS", "250")
	t.Setenv("TREASURY_WINDOW_LENGTH", "168h")
	t.Setenv("BRIDGE_RELAYERS", " 0x00000000000000000000000000000000000000b2 , ")
	t.Setenv("STAKING_APR_BPS", "100,200,300,400")

	cfg := Load()

	assert.Equal(t, "1000000", cfg.Token.InitialSupply.String())
	assert.True(t, cfg.Tax.Enabled)
	assert.Equal(t, int64(250), cfg.Tax.RateBps)
	assert.Equal(t, 168*time.Hour, cfg.Treasury.WindowLength)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000b2"}, cfg.Bridge.Relayers)
	assert.Equal(t, []int64{100, 200, 300, 400}, cfg.Staking.AprBps)
	require.NoError(t, cfg.ValidateProtocol())
}

func TestLoad_FallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("STAKING_APR_BPS", "100,abc")
	t.Setenv("VELOCITY_DAILY_LIMIT", "lots")

	cfg := Load()

	assert.Equal(t, []int64{400, 700, 1000, 1500}, cfg.Staking.AprBps)
	assert.Equal(t, "5000000", cfg.Velocity.DailyLimit.String())
}

func TestValidateProtocol_ReportsEveryProblem(t *testing.T) {
	cfg := Load()
	cfg.Token.Admin = "nope"
	cfg.Tax.RateBps = 1500
	cfg.Staking.AprBps = []int64{1}

	err := cfg.ValidateProtocol()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_ADMIN")
	assert.Contains(t, err.Error(), "TAX_RATE_BPS")
	assert.Contains(t, err.Error(), "STAKING_APR_BPS")
}

func TestValidateCore_RejectsDefaultSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/govtoken")
	t.Setenv("JWT_SECRET", "")

	err := Load().ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.NotContains(t, err.Error(), "DATABASE_URL")
}

func TestValidateProtocol_RejectsNegativeStakingRate(t *testing.T) {
	t.Setenv("TOKEN_ADMIN", "0x00000000000000000000000000000000000000a1")
	t.Setenv("STAKING_APR_BPS", "100,-200,300,400")

	cfg := Load()
	require.Equal(t, []int64{100, -200, 300, 400}, cfg.Staking.AprBps)

	err := cfg.ValidateProtocol()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STAKING_APR_BPS rates must not be negative")
	assert.NotContains(t, err.Error(), "TOKEN_ADMIN")

	cfg.Staking.AprBps = []int64{0, 200, 300, 400}
	assert.NoError(t, cfg.ValidateProtocol())
}
