package handler

import (
	"context"
	"net/http"

	"govtoken/internal/domain"
	"govtoken/internal/protocol"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
	"govtoken/pkg/validator"
)

// TreasuryHandler serves the vault's schedule and withdrawals.
type TreasuryHandler struct {
	base
	p *protocol.Protocol
}

func NewTreasuryHandler(p *protocol.Protocol, val *validator.Validator, log logger.Logger, m *metrics.Collector) *TreasuryHandler {
	return &TreasuryHandler{base: base{validator: val, logger: log, metrics: m}, p: p}
}

// Status returns lifecycle, window, balances and remaining budgets.
func (h *TreasuryHandler) Status(w http.ResponseWriter, r *http.Request) {
	var resp map[string]interface{}
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		addr := h.p.Treasury.Address()
		remainingToken, _ := h.p.Treasury.Remaining(ctx, domain.AssetToken)
		remainingNative, _ := h.p.Treasury.Remaining(ctx, domain.AssetNative)
		resp = map[string]interface{}{
			"address":        addr.Hex(),
			"state":          h.p.Treasury.State(),
			"window":         h.p.Treasury.Window(),
			"emergency_mode": h.p.Treasury.EmergencyMode(),
			"balances": map[domain.AssetID]string{
				domain.AssetToken:  h.p.Token.BalanceOf(ctx, addr).String(),
				domain.AssetNative: h.p.Native.BalanceOf(ctx, addr).String(),
			},
			"remaining": map[domain.AssetID]string{
				domain.AssetToken:  remainingToken.String(),
				domain.AssetNative: remainingNative.String(),
			},
		}
		return nil
	})
	respondJSON(w, http.StatusOK, resp)
}

// OpenWindow starts a spending window. Requires treasury_manager.
func (h *TreasuryHandler) OpenWindow(w http.ResponseWriter, r *http.Request) {
	manager, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.p.Treasury.OpenSpendingWindow(r.Context(), manager); err != nil {
		h.respondOperationError(w, r, "open_spending_window", err)
		return
	}
	var window interface{}
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		window = h.p.Treasury.Window()
		return nil
	})
	respondJSON(w, http.StatusCreated, window)
}

type withdrawRequest struct {
	Asset  string `json:"asset" validate:"required,oneof=token native"`
	To     string `json:"to" validate:"required,address"`
	Amount string `json:"amount" validate:"required,amount"`
}

// Withdraw pays out of the vault. Requires treasury_spender.
func (h *TreasuryHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	spender, ok := caller(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	asset := domain.AssetID(req.Asset)
	if err := h.p.Treasury.Withdraw(r.Context(), spender, asset, mustAddress(req.To), mustAmount(req.Amount)); err != nil {
		h.respondOperationError(w, r, "treasury_withdraw", err)
		return
	}
	remaining, _ := h.p.Treasury.Remaining(r.Context(), asset)
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "withdrawn",
		"remaining": remaining.String(),
	})
}

// ToggleEmergency flips emergency mode. Requires emergency.
func (h *TreasuryHandler) ToggleEmergency(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.p.Treasury.ToggleEmergencyMode(r.Context(), who); err != nil {
		h.respondOperationError(w, r, "toggle_emergency", err)
		return
	}
	var on bool
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		on = h.p.Treasury.EmergencyMode()
		return nil
	})
	respondJSON(w, http.StatusOK, map[string]bool{"emergency_mode": on})
}

type depositRequest struct {
	To     string `json:"to" validate:"required,address"`
	Amount string `json:"amount" validate:"required,amount"`
}

// DepositNative credits native currency, standing in for value arriving
// from outside the ledger. Requires admin.
func (h *TreasuryHandler) DepositNative(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !h.decode(w, r, &req) {
		return
	}
	to := mustAddress(req.To)
	if err := h.p.Native.Deposit(r.Context(), admin, to, mustAmount(req.Amount)); err != nil {
		h.respondOperationError(w, r, "deposit_native", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "deposited",
		"balance": h.p.Native.BalanceOf(r.Context(), to).String(),
	})
}
