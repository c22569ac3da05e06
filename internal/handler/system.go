package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"govtoken/internal/middleware"
	"govtoken/internal/protocol"
	"govtoken/pkg/logger"
)

// TokenRevoker revokes a token id until its expiry.
type TokenRevoker interface {
	Blacklist(ctx context.Context, tokenID string, expiration time.Duration) error
}

// SystemHandler serves liveness, readiness and session endpoints.
type SystemHandler struct {
	p           *protocol.Protocol
	db          *sqlx.DB
	redisClient *redis.Client
	revoker     TokenRevoker
	logger      logger.Logger
	startTime   time.Time
}

// NewSystemHandler creates a SystemHandler. db, redisClient and revoker may be nil.
func NewSystemHandler(p *protocol.Protocol, db *sqlx.DB, redisClient *redis.Client, revoker TokenRevoker, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		p:           p,
		db:          db,
		redisClient: redisClient,
		revoker:     revoker,
		logger:      log,
		startTime:   time.Now(),
	}
}

// Health reports that the process is serving.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

type dependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Ready reports whether the ledger is bootstrapped and dependencies answer.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]dependencyStatus{}
	var ready bool
	_ = h.p.View(ctx, func(ctx context.Context) error {
		ready = h.p.Token.SchemaVersion() > 0
		return nil
	})
	if ready {
		checks["ledger"] = dependencyStatus{Status: "operational"}
	} else {
		checks["ledger"] = dependencyStatus{Status: "outage", Error: "not bootstrapped"}
	}

	if h.db != nil {
		checks["database"] = checkDependency(func() error { return h.db.PingContext(ctx) })
	}
	if h.redisClient != nil {
		checks["redis"] = checkDependency(func() error { return h.redisClient.Ping(ctx).Err() })
	}
	for _, c := range checks {
		if c.Status != "operational" {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]interface{}{"ready": ready, "checks": checks})
}

func checkDependency(ping func() error) dependencyStatus {
	start := time.Now()
	err := ping()
	st := dependencyStatus{Status: "operational", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		st.Status = "outage"
		st.Error = err.Error()
	}
	return st
}

// Logout revokes the bearer token used for the request.
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.revoker == nil {
		respondError(w, http.StatusNotImplemented, "Token revocation not configured")
		return
	}
	id, exp, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "Token has no id")
		return
	}
	if err := h.revoker.Blacklist(r.Context(), id, time.Until(exp)); err != nil {
		h.logger.Error("Failed to revoke token", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Failed to revoke token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
