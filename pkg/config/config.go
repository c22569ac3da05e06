package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Log      LogConfig
	Token    TokenConfig
	Velocity VelocityConfig
	Tax      TaxConfig
	Mint     MintConfig
	Treasury TreasuryConfig
	Bridge   BridgeConfig
	Staking  StakingConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type LogConfig struct {
	Level string
}

// TokenConfig describes the ledger and its bootstrap.
type TokenConfig struct {
	Name          string
	Symbol        string
	Decimals      int
	Admin         string
	InitialSupply decimal.Decimal
	GlobalCap     decimal.Decimal
}

type VelocityConfig struct {
	MaxTransfer decimal.Decimal
	DailyLimit  decimal.Decimal
}

type TaxConfig struct {
	RateBps  int64
	Enabled  bool
	Treasury string
}

type MintConfig struct {
	InflationBps int64
}

type TreasuryConfig struct {
	LockDuration time.Duration
	WindowLength time.Duration
	LimitBps     int64
}

type BridgeConfig struct {
	Relayers []string
}

type StakingConfig struct {
	AprBps []int64
}

// Load reads configuration from the environment, after an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:    getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit:      getIntEnv("RATE_LIMIT", 120),
			RateWindow:     getDurationEnv("RATE_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  getEnv("MIGRATIONS_PATH", "file://migrations"),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "change-this-secret"),
			Expiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Token: TokenConfig{
			Name:          getEnv("TOKEN_NAME", "Governance Token"),
			Symbol:        getEnv("TOKEN_SYMBOL", "GOV"),
			Decimals:      getIntEnv("TOKEN_DECIMALS", 18),
			Admin:         getEnv("TOKEN_ADMIN", ""),
			InitialSupply: getDecimalEnv("TOKEN_INITIAL_SUPPLY", decimal.NewFromInt(100_000_000_000)),
			GlobalCap:     getDecimalEnv("TOKEN_GLOBAL_CAP", decimal.NewFromInt(1_000_000_000_000)),
		},
		Velocity: VelocityConfig{
			MaxTransfer: getDecimalEnv("VELOCITY_MAX_TRANSFER", decimal.NewFromInt(1_000_000)),
			DailyLimit:  getDecimalEnv("VELOCITY_DAILY_LIMIT", decimal.NewFromInt(5_000_000)),
		},
		Tax: TaxConfig{
			RateBps:  int64(getIntEnv("TAX_RATE_BPS", 0)),
			Enabled:  getBoolEnv("TAX_ENABLED", false),
			Treasury: getEnv("TAX_TREASURY", ""),
		},
		Mint: MintConfig{
			InflationBps: int64(getIntEnv("MINT_INFLATION_BPS", 600)),
		},
		Treasury: TreasuryConfig{
			LockDuration: getDurationEnv("TREASURY_LOCK_DURATION", 2*365*24*time.Hour),
			WindowLength: getDurationEnv("TREASURY_WINDOW_LENGTH", 30*24*time.Hour),
			LimitBps:     int64(getIntEnv("TREASURY_LIMIT_BPS", 1000)),
		},
		Bridge: BridgeConfig{
			Relayers: getListEnv("BRIDGE_RELAYERS", nil),
		},
		Staking: StakingConfig{
			AprBps: getInt64ListEnv("STAKING_APR_BPS", []int64{400, 700, 1000, 1500}),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.ReplaceAll(value, "_", "")); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getInt64ListEnv(key string, defaultValue []int64) []int64 {
	parts := getListEnv(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}
