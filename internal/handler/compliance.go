package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"govtoken/internal/compliance"
	"govtoken/internal/protocol"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
	"govtoken/pkg/validator"
)

// ComplianceHandler manages blacklists, time locks and limit exclusions.
type ComplianceHandler struct {
	base
	p *protocol.Protocol
}

func NewComplianceHandler(p *protocol.Protocol, val *validator.Validator, log logger.Logger, m *metrics.Collector) *ComplianceHandler {
	return &ComplianceHandler{base: base{validator: val, logger: log, metrics: m}, p: p}
}

type complianceStatus struct {
	Address           string           `json:"address"`
	Entry             compliance.Entry `json:"entry"`
	Locked            bool             `json:"locked"`
	ExcludedFromLimit bool             `json:"excluded_from_limits"`
}

// Status returns the compliance record of an address.
func (h *ComplianceHandler) Status(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	var resp complianceStatus
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		resp = complianceStatus{
			Address:           addr.Hex(),
			Entry:             h.p.Compliance.Entry(addr),
			Locked:            h.p.Compliance.IsLocked(addr),
			ExcludedFromLimit: h.p.Velocity.IsExcluded(addr),
		}
		return nil
	})
	respondJSON(w, http.StatusOK, resp)
}

type blacklistRequest struct {
	Address string `json:"address" validate:"required,address"`
	Reason  string `json:"reason" validate:"required,max=256"`
}

func (h *ComplianceHandler) Blacklist(w http.ResponseWriter, r *http.Request) {
	officer, ok := caller(w, r)
	if !ok {
		return
	}
	var req blacklistRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.p.Compliance.Blacklist(r.Context(), officer, mustAddress(req.Address), validator.Sanitize(req.Reason)); err != nil {
		h.respondOperationError(w, r, "blacklist", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "blacklisted"})
}

func (h *ComplianceHandler) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	officer, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	if err := h.p.Compliance.RemoveFromBlacklist(r.Context(), officer, addr); err != nil {
		h.respondOperationError(w, r, "remove_from_blacklist", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type lockRequest struct {
	Address  string `json:"address" validate:"required,address"`
	Duration string `json:"duration" validate:"required"`
}

// LockFunds time-locks an account for a Go duration such as "72h".
func (h *ComplianceHandler) LockFunds(w http.ResponseWriter, r *http.Request) {
	officer, ok := caller(w, r)
	if !ok {
		return
	}
	var req lockRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		respondValidationErrors(w, map[string]string{"Duration": "Must be a duration such as 72h"})
		return
	}
	if err := h.p.Compliance.LockFunds(r.Context(), officer, mustAddress(req.Address), d); err != nil {
		h.respondOperationError(w, r, "lock_funds", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (h *ComplianceHandler) UnlockFunds(w http.ResponseWriter, r *http.Request) {
	officer, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	if err := h.p.Compliance.UnlockFunds(r.Context(), officer, addr); err != nil {
		h.respondOperationError(w, r, "unlock_funds", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

type exclusionRequest struct {
	Excluded bool `json:"excluded"`
}

// SetExclusion exempts an address from velocity limits, or removes the exemption.
func (h *ComplianceHandler) SetExclusion(w http.ResponseWriter, r *http.Request) {
	officer, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	var req exclusionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.p.Velocity.SetExcluded(r.Context(), officer, addr, req.Excluded); err != nil {
		h.respondOperationError(w, r, "set_exclusion", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"excluded": req.Excluded})
}
