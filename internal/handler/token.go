package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"govtoken/internal/protocol"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
	"govtoken/pkg/validator"
)

// TokenHandler serves balances, transfers, approvals, mint and burn.
type TokenHandler struct {
	base
	p *protocol.Protocol
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(p *protocol.Protocol, val *validator.Validator, log logger.Logger, m *metrics.Collector) *TokenHandler {
	return &TokenHandler{base: base{validator: val, logger: log, metrics: m}, p: p}
}

type tokenInfoResponse struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Decimals      int    `json:"decimals"`
	TotalSupply   string `json:"total_supply"`
	Paused        bool   `json:"paused"`
	SchemaVersion int    `json:"schema_version"`
}

// Info returns metadata and supply.
func (h *TokenHandler) Info(w http.ResponseWriter, r *http.Request) {
	var resp tokenInfoResponse
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		meta := h.p.Token.Metadata(ctx)
		resp = tokenInfoResponse{
			Name:          meta.Name,
			Symbol:        meta.Symbol,
			Decimals:      meta.Decimals,
			TotalSupply:   h.p.Token.TotalSupply(ctx).String(),
			Paused:        h.p.Token.Paused(ctx),
			SchemaVersion: h.p.Token.SchemaVersion(),
		}
		return nil
	})
	respondJSON(w, http.StatusOK, resp)
}

// Balance returns an account's balance and compliance flags.
func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	var resp map[string]interface{}
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		resp = map[string]interface{}{
			"address":     addr.Hex(),
			"balance":     h.p.Token.BalanceOf(ctx, addr).String(),
			"blacklisted": h.p.Compliance.IsBlacklisted(addr),
			"locked":      h.p.Compliance.IsLocked(addr),
		}
		return nil
	})
	respondJSON(w, http.StatusOK, resp)
}

// Allowance returns what spender may still move for owner.
func (h *TokenHandler) Allowance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, ok := pathAddress(w, vars["owner"])
	if !ok {
		return
	}
	spender, ok := pathAddress(w, vars["spender"])
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": h.p.Token.Allowance(r.Context(), owner, spender).String(),
	})
}

type transferRequest struct {
	To     string `json:"to" validate:"required,address"`
	Amount string `json:"amount" validate:"required,amount"`
}

// Transfer moves tokens from the caller.
func (h *TokenHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	to, amt := mustAddress(req.To), mustAmount(req.Amount)

	if err := h.p.Token.Transfer(r.Context(), from, to, amt); err != nil {
		h.respondOperationError(w, r, "transfer", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "transferred",
		"balance": h.p.Token.BalanceOf(r.Context(), from).String(),
	})
}

type transferFromRequest struct {
	From   string `json:"from" validate:"required,address"`
	To     string `json:"to" validate:"required,address"`
	Amount string `json:"amount" validate:"required,amount"`
}

// TransferFrom spends the caller's allowance over from.
func (h *TokenHandler) TransferFrom(w http.ResponseWriter, r *http.Request) {
	spender, ok := caller(w, r)
	if !ok {
		return
	}
	var req transferFromRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.p.Token.TransferFrom(r.Context(), spender, mustAddress(req.From), mustAddress(req.To), mustAmount(req.Amount)); err != nil {
		h.respondOperationError(w, r, "transfer_from", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

type approveRequest struct {
	Spender string `json:"spender" validate:"required,address"`
	// Zero clears the allowance, so amount is not validated as positive.
	Amount string `json:"amount" validate:"required,numeric"`
}

// Approve sets the caller's allowance for spender.
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if !h.decode(w, r, &req) {
		return
	}
	amt, err := decimalOrBadRequest(w, req.Amount)
	if err != nil {
		return
	}
	if err := h.p.Token.Approve(r.Context(), owner, mustAddress(req.Spender), amt); err != nil {
		h.respondOperationError(w, r, "approve", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

type amountRequest struct {
	Amount string `json:"amount" validate:"required,amount"`
}

// Burn destroys tokens held by the caller.
func (h *TokenHandler) Burn(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.p.Token.Burn(r.Context(), owner, mustAmount(req.Amount)); err != nil {
		h.respondOperationError(w, r, "burn", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "burned"})
}

type burnFromRequest struct {
	From   string `json:"from" validate:"required,address"`
	Amount string `json:"amount" validate:"required,amount"`
}

// BurnFrom destroys tokens using the caller's allowance.
func (h *TokenHandler) BurnFrom(w http.ResponseWriter, r *http.Request) {
	spender, ok := caller(w, r)
	if !ok {
		return
	}
	var req burnFromRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.p.Token.BurnFrom(r.Context(), spender, mustAddress(req.From), mustAmount(req.Amount)); err != nil {
		h.respondOperationError(w, r, "burn_from", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "burned"})
}

// Mint creates tokens. Requires the minter capability.
func (h *TokenHandler) Mint(w http.ResponseWriter, r *http.Request) {
	minter, ok := caller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.p.Token.Mint(r.Context(), minter, mustAddress(req.To), mustAmount(req.Amount)); err != nil {
		h.respondOperationError(w, r, "mint", err)
		return
	}
	var resp map[string]string
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		resp = map[string]string{
			"status":             "minted",
			"total_supply":       h.p.Token.TotalSupply(ctx).String(),
			"minted_this_period": h.p.Mint.Budget().MintedThisPeriod.String(),
		}
		return nil
	})
	respondJSON(w, http.StatusCreated, resp)
}

// Pause halts transfers, mints and burns.
func (h *TokenHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *TokenHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *TokenHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var err error
	if paused {
		err = h.p.Token.Pause(r.Context(), who)
	} else {
		err = h.p.Token.Unpause(r.Context(), who)
	}
	if err != nil {
		h.respondOperationError(w, r, "pause", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}
