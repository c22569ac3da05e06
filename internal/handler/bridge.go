package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"govtoken/internal/domain"
	"govtoken/internal/protocol"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
	"govtoken/pkg/validator"
)

// BridgeHandler serves chain configuration and cross-chain transfers.
type BridgeHandler struct {
	base
	p *protocol.Protocol
}

func NewBridgeHandler(p *protocol.Protocol, val *validator.Validator, log logger.Logger, m *metrics.Collector) *BridgeHandler {
	return &BridgeHandler{base: base{validator: val, logger: log, metrics: m}, p: p}
}

func chainFromPath(w http.ResponseWriter, r *http.Request) (domain.ChainID, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["chain"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid chain id")
		return 0, false
	}
	return domain.ChainID(id), true
}

// Chain returns a chain's limits and current counters.
func (h *BridgeHandler) Chain(w http.ResponseWriter, r *http.Request) {
	chain, ok := chainFromPath(w, r)
	if !ok {
		return
	}
	cfg, found := h.p.Bridge.Chain(r.Context(), chain)
	if !found {
		respondError(w, http.StatusNotFound, "Chain not configured")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

type configureChainRequest struct {
	Supported bool   `json:"supported"`
	LimitOut  string `json:"daily_limit_out" validate:"required,numeric"`
	LimitIn   string `json:"daily_limit_in" validate:"required,numeric"`
}

// ConfigureChain sets support and daily limits. Requires bridge_admin.
func (h *BridgeHandler) ConfigureChain(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	chain, ok := chainFromPath(w, r)
	if !ok {
		return
	}
	var req configureChainRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := decimalOrBadRequest(w, req.LimitOut)
	if err != nil {
		return
	}
	in, err := decimalOrBadRequest(w, req.LimitIn)
	if err != nil {
		return
	}
	if err := h.p.Bridge.ConfigureChain(r.Context(), admin, chain, req.Supported, out, in); err != nil {
		h.respondOperationError(w, r, "configure_chain", err)
		return
	}
	cfg, _ := h.p.Bridge.Chain(r.Context(), chain)
	respondJSON(w, http.StatusOK, cfg)
}

type bridgeOutRequest struct {
	Chain  uint64 `json:"chain" validate:"required"`
	To     string `json:"to" validate:"required,address"`
	Amount string `json:"amount" validate:"required,amount"`
}

// BridgeOut locks the caller's tokens for release on another chain. The
// caller must have approved the gateway.
func (h *BridgeHandler) BridgeOut(w http.ResponseWriter, r *http.Request) {
	sender, ok := caller(w, r)
	if !ok {
		return
	}
	var req bridgeOutRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.p.Bridge.BridgeOut(r.Context(), sender, domain.ChainID(req.Chain), mustAddress(req.To), mustAmount(req.Amount))
	if err != nil {
		h.respondOperationError(w, r, "bridge_out", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"message_id": id.Hex()})
}

type bridgeInRequest struct {
	Chain     uint64 `json:"chain" validate:"required"`
	To        string `json:"to" validate:"required,address"`
	Amount    string `json:"amount" validate:"required,amount"`
	MessageID string `json:"message_id" validate:"required,hexadecimal"`
}

// BridgeIn releases tokens for a message observed on another chain.
// Requires relayer.
func (h *BridgeHandler) BridgeIn(w http.ResponseWriter, r *http.Request) {
	relayer, ok := caller(w, r)
	if !ok {
		return
	}
	var req bridgeInRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := domain.ParseMessageID(req.MessageID)
	if err != nil {
		respondValidationErrors(w, map[string]string{"MessageID": "Must be a 32-byte hex id"})
		return
	}
	if err := h.p.Bridge.BridgeIn(r.Context(), relayer, domain.ChainID(req.Chain), mustAddress(req.To), mustAmount(req.Amount), id); err != nil {
		h.respondOperationError(w, r, "bridge_in", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "released", "message_id": id.Hex()})
}

// Message reports whether an inbound message id was processed.
func (h *BridgeHandler) Message(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseMessageID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid message id")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message_id": id.Hex(),
		"processed":  h.p.Bridge.IsProcessed(r.Context(), id),
	})
}
