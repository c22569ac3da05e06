package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"govtoken/internal/domain"
	"govtoken/internal/protocol"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
	"govtoken/pkg/validator"
)

// GovernanceHandler serves capabilities, velocity limits, tax and mint policy.
type GovernanceHandler struct {
	base
	p *protocol.Protocol
}

func NewGovernanceHandler(p *protocol.Protocol, val *validator.Validator, log logger.Logger, m *metrics.Collector) *GovernanceHandler {
	return &GovernanceHandler{base: base{validator: val, logger: log, metrics: m}, p: p}
}

type grantRequest struct {
	Capability string `json:"capability" validate:"required"`
	Holder     string `json:"holder" validate:"required,address"`
}

// Grant gives a capability to a holder. Requires admin.
func (h *GovernanceHandler) Grant(w http.ResponseWriter, r *http.Request) {
	h.setCapability(w, r, true)
}

// Revoke takes a capability away. Requires admin.
func (h *GovernanceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.setCapability(w, r, false)
}

func (h *GovernanceHandler) setCapability(w http.ResponseWriter, r *http.Request, grant bool) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := domain.Capability(strings.ToLower(strings.TrimSpace(req.Capability)))
	holder := mustAddress(req.Holder)

	var err error
	if grant {
		err = h.p.Access.Grant(r.Context(), admin, c, holder)
	} else {
		err = h.p.Access.Revoke(r.Context(), admin, c, holder)
	}
	if err != nil {
		h.respondOperationError(w, r, "set_capability", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"capability": c,
		"holder":     holder.Hex(),
		"granted":    grant,
	})
}

// Holders lists the holders of a capability.
func (h *GovernanceHandler) Holders(w http.ResponseWriter, r *http.Request) {
	c := domain.Capability(mux.Vars(r)["capability"])
	if !c.Valid() {
		respondError(w, http.StatusNotFound, "Unknown capability")
		return
	}
	holders := h.p.Access.Holders(r.Context(), c)
	out := make([]string, 0, len(holders))
	for _, a := range holders {
		out = append(out, a.Hex())
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"capability": c, "holders": out})
}

type limitsResponse struct {
	MaxTransfer string `json:"max_transfer"`
	DailyLimit  string `json:"daily_limit"`
}

// Limits returns the global velocity caps.
func (h *GovernanceHandler) Limits(w http.ResponseWriter, r *http.Request) {
	var resp limitsResponse
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		l := h.p.Velocity.Limits()
		resp = limitsResponse{MaxTransfer: l.MaxTransfer.String(), DailyLimit: l.DailyLimit.String()}
		return nil
	})
	respondJSON(w, http.StatusOK, resp)
}

// AccountLimits returns an account's remaining daily allowance.
func (h *GovernanceHandler) AccountLimits(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	var resp map[string]interface{}
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		win := h.p.Velocity.Window(addr)
		resp = map[string]interface{}{
			"address":     addr.Hex(),
			"excluded":    h.p.Velocity.IsExcluded(addr),
			"spent_today": win.SpentToday.String(),
			"remaining":   h.p.Velocity.Remaining(addr).String(),
		}
		return nil
	})
	respondJSON(w, http.StatusOK, resp)
}

type setLimitsRequest struct {
	MaxTransfer string `json:"max_transfer" validate:"required,amount"`
	DailyLimit  string `json:"daily_limit" validate:"required,amount"`
}

// SetLimits replaces the velocity caps. Requires governance.
func (h *GovernanceHandler) SetLimits(w http.ResponseWriter, r *http.Request) {
	gov, ok := caller(w, r)
	if !ok {
		return
	}
	var req setLimitsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.p.Velocity.SetLimits(r.Context(), gov, mustAmount(req.MaxTransfer), mustAmount(req.DailyLimit)); err != nil {
		h.respondOperationError(w, r, "set_limits", err)
		return
	}
	respondJSON(w, http.StatusOK, limitsResponse{MaxTransfer: req.MaxTransfer, DailyLimit: req.DailyLimit})
}

type taxResponse struct {
	RateBps  int64  `json:"rate_bps"`
	Enabled  bool   `json:"enabled"`
	Treasury string `json:"treasury"`
	Active   bool   `json:"active"`
}

// Tax returns the tax configuration.
func (h *GovernanceHandler) Tax(w http.ResponseWriter, r *http.Request) {
	var resp taxResponse
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		resp = h.taxResponse()
		return nil
	})
	respondJSON(w, http.StatusOK, resp)
}

func (h *GovernanceHandler) taxResponse() taxResponse {
	cfg := h.p.Tax.Config()
	return taxResponse{
		RateBps:  cfg.RateBps,
		Enabled:  cfg.Enabled,
		Treasury: cfg.Treasury.Hex(),
		Active:   cfg.Active(),
	}
}

type updateTaxRequest struct {
	RateBps  *int64  `json:"rate_bps" validate:"omitempty,min=0"`
	Enabled  *bool   `json:"enabled"`
	Treasury *string `json:"treasury" validate:"omitempty,address"`
}

// UpdateTax applies any subset of rate, enabled flag and treasury as one
// operation. Requires governance.
func (h *GovernanceHandler) UpdateTax(w http.ResponseWriter, r *http.Request) {
	gov, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateTaxRequest
	if !h.decode(w, r, &req) {
		return
	}

	var resp taxResponse
	err := h.p.DB.Atomic(r.Context(), func(ctx context.Context) error {
		if req.Treasury != nil {
			if err := h.p.Tax.SetTreasury(ctx, gov, mustAddress(*req.Treasury)); err != nil {
				return err
			}
		}
		if req.Enabled != nil {
			if err := h.p.Tax.SetTaxEnabled(ctx, gov, *req.Enabled); err != nil {
				return err
			}
		}
		if req.RateBps != nil {
			if err := h.p.Tax.SetTaxRate(ctx, gov, *req.RateBps); err != nil {
				return err
			}
		}
		resp = h.taxResponse()
		return nil
	})
	if err != nil {
		h.respondOperationError(w, r, "update_tax", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Mint returns the inflation budget of the current period.
func (h *GovernanceHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var resp map[string]interface{}
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		b := h.p.Mint.Budget()
		resp = map[string]interface{}{
			"global_cap":         h.p.Mint.GlobalCap().String(),
			"inflation_bps":      h.p.Mint.InflationBps(),
			"period_start":       b.PeriodStart,
			"minted_this_period": b.MintedThisPeriod.String(),
			"period_limit":       b.PeriodLimit.String(),
			"remaining":          h.p.Mint.RemainingThisPeriod().String(),
		}
		return nil
	})
	respondJSON(w, http.StatusOK, resp)
}

type inflationRequest struct {
	RateBps int64 `json:"rate_bps" validate:"min=0"`
}

// SetInflationRate changes the rate applied from the next period. Requires governance.
func (h *GovernanceHandler) SetInflationRate(w http.ResponseWriter, r *http.Request) {
	gov, ok := caller(w, r)
	if !ok {
		return
	}
	var req inflationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.p.Mint.SetInflationRate(r.Context(), gov, req.RateBps); err != nil {
		h.respondOperationError(w, r, "set_inflation_rate", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"rate_bps": req.RateBps})
}
