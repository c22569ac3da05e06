package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"govtoken/internal/middleware"
	"govtoken/internal/protocol"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
	"govtoken/pkg/validator"
)

// RouterConfig is everything the HTTP surface is built from. DB, Redis,
// Events store and RateLimiter are optional.
type RouterConfig struct {
	Protocol       *protocol.Protocol
	Logger         logger.Logger
	Metrics        *metrics.Collector
	Auth           *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	Idempotency    *middleware.IdempotencyMiddleware
	Revoker        TokenRevoker
	EventStore     EventStore
	DB             *sqlx.DB
	Redis          *redis.Client
	AllowedOrigins []string
}

// NewRouter wires every route.
func NewRouter(cfg RouterConfig) *mux.Router {
	val := validator.New()
	p, log, m := cfg.Protocol, cfg.Logger, cfg.Metrics

	tokenH := NewTokenHandler(p, val, logger.Component(log, "http.token"), m)
	complianceH := NewComplianceHandler(p, val, logger.Component(log, "http.compliance"), m)
	govH := NewGovernanceHandler(p, val, logger.Component(log, "http.governance"), m)
	bridgeH := NewBridgeHandler(p, val, logger.Component(log, "http.bridge"), m)
	treasuryH := NewTreasuryHandler(p, val, logger.Component(log, "http.treasury"), m)
	stakingH := NewStakingHandler(p, val, logger.Component(log, "http.staking"), m)
	eventsH := NewEventsHandler(p.Events, cfg.EventStore, logger.Component(log, "http.events"), m, cfg.AllowedOrigins)
	systemH := NewSystemHandler(p, cfg.DB, cfg.Redis, cfg.Revoker, logger.Component(log, "http.system"))

	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log, m).Log)
	r.Use(middleware.BodyLimit(1 << 20))

	r.HandleFunc("/health", systemH.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", systemH.Ready).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	// Public reads.
	pub := r.PathPrefix("/api/v1").Subrouter()
	pub.HandleFunc("/token", tokenH.Info).Methods(http.MethodGet)
	pub.HandleFunc("/balances/{address}", tokenH.Balance).Methods(http.MethodGet)
	pub.HandleFunc("/allowances/{owner}/{spender}", tokenH.Allowance).Methods(http.MethodGet)
	pub.HandleFunc("/limits", govH.Limits).Methods(http.MethodGet)
	pub.HandleFunc("/limits/{address}", govH.AccountLimits).Methods(http.MethodGet)
	pub.HandleFunc("/tax", govH.Tax).Methods(http.MethodGet)
	pub.HandleFunc("/mint", govH.Mint).Methods(http.MethodGet)
	pub.HandleFunc("/access/{capability}", govH.Holders).Methods(http.MethodGet)
	pub.HandleFunc("/compliance/{address}", complianceH.Status).Methods(http.MethodGet)
	pub.HandleFunc("/bridge/chains/{chain:[0-9]+}", bridgeH.Chain).Methods(http.MethodGet)
	pub.HandleFunc("/bridge/messages/{id}", bridgeH.Message).Methods(http.MethodGet)
	pub.HandleFunc("/treasury", treasuryH.Status).Methods(http.MethodGet)
	pub.HandleFunc("/staking/tiers", stakingH.Tiers).Methods(http.MethodGet)
	pub.HandleFunc("/events", eventsH.Stream).Methods(http.MethodGet)
	pub.HandleFunc("/events/recent", eventsH.Recent).Methods(http.MethodGet)

	// Authenticated operations.
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(cfg.Auth.Authenticate)
	if cfg.RateLimiter != nil {
		api.Use(cfg.RateLimiter.Limit)
	}
	if cfg.Idempotency != nil {
		api.Use(cfg.Idempotency.Require)
	}

	api.HandleFunc("/auth/logout", systemH.Logout).Methods(http.MethodPost)

	api.HandleFunc("/transfers", tokenH.Transfer).Methods(http.MethodPost)
	api.HandleFunc("/transfers/from", tokenH.TransferFrom).Methods(http.MethodPost)
	api.HandleFunc("/approvals", tokenH.Approve).Methods(http.MethodPost)
	api.HandleFunc("/burns", tokenH.Burn).Methods(http.MethodPost)
	api.HandleFunc("/burns/from", tokenH.BurnFrom).Methods(http.MethodPost)
	api.HandleFunc("/mints", tokenH.Mint).Methods(http.MethodPost)
	api.HandleFunc("/token/pause", tokenH.Pause).Methods(http.MethodPost)
	api.HandleFunc("/token/unpause", tokenH.Unpause).Methods(http.MethodPost)

	api.HandleFunc("/access/grants", govH.Grant).Methods(http.MethodPost)
	api.HandleFunc("/access/revocations", govH.Revoke).Methods(http.MethodPost)
	api.HandleFunc("/limits", govH.SetLimits).Methods(http.MethodPut)
	api.HandleFunc("/tax", govH.UpdateTax).Methods(http.MethodPut)
	api.HandleFunc("/mint/inflation", govH.SetInflationRate).Methods(http.MethodPut)

	api.HandleFunc("/compliance/blacklist", complianceH.Blacklist).Methods(http.MethodPost)
	api.HandleFunc("/compliance/blacklist/{address}", complianceH.RemoveFromBlacklist).Methods(http.MethodDelete)
	api.HandleFunc("/compliance/locks", complianceH.LockFunds).Methods(http.MethodPost)
	api.HandleFunc("/compliance/locks/{address}", complianceH.UnlockFunds).Methods(http.MethodDelete)
	api.HandleFunc("/compliance/exclusions/{address}", complianceH.SetExclusion).Methods(http.MethodPut)

	api.HandleFunc("/bridge/chains/{chain:[0-9]+}", bridgeH.ConfigureChain).Methods(http.MethodPut)
	api.HandleFunc("/bridge/out", bridgeH.BridgeOut).Methods(http.MethodPost)
	api.HandleFunc("/bridge/in", bridgeH.BridgeIn).Methods(http.MethodPost)

	api.HandleFunc("/treasury/windows", treasuryH.OpenWindow).Methods(http.MethodPost)
	api.HandleFunc("/treasury/withdrawals", treasuryH.Withdraw).Methods(http.MethodPost)
	api.HandleFunc("/treasury/emergency", treasuryH.ToggleEmergency).Methods(http.MethodPost)
	api.HandleFunc("/native/deposits", treasuryH.DepositNative).Methods(http.MethodPost)

	api.HandleFunc("/staking/stakes", stakingH.List).Methods(http.MethodGet)
	api.HandleFunc("/staking/stakes", stakingH.Stake).Methods(http.MethodPost)
	api.HandleFunc("/staking/stakes/{index:[0-9]+}/withdraw", stakingH.Withdraw).Methods(http.MethodPost)

	return r
}
