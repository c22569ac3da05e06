package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"govtoken/internal/protocol"
	"govtoken/internal/staking"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
	"govtoken/pkg/validator"
)

// StakingHandler serves stake positions.
type StakingHandler struct {
	base
	p *protocol.Protocol
}

func NewStakingHandler(p *protocol.Protocol, val *validator.Validator, log logger.Logger, m *metrics.Collector) *StakingHandler {
	return &StakingHandler{base: base{validator: val, logger: log, metrics: m}, p: p}
}

// Tiers lists lock durations and reward rates.
func (h *StakingHandler) Tiers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tiers":        h.p.Staking.Tiers(),
		"total_staked": h.p.Staking.TotalStaked(r.Context()).String(),
	})
}

type positionView struct {
	staking.Position
	Index         int    `json:"index"`
	PendingReward string `json:"pending_reward"`
	Matured       bool   `json:"matured"`
}

// List returns the caller's positions.
func (h *StakingHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var out []positionView
	_ = h.p.View(r.Context(), func(ctx context.Context) error {
		now := h.p.Clock.Now()
		n := h.p.Staking.StakeCount(ctx, owner)
		out = make([]positionView, 0, n)
		for i := 0; i < n; i++ {
			pos, err := h.p.Staking.StakeDetails(ctx, owner, i)
			if err != nil {
				return err
			}
			pending, _ := h.p.Staking.PendingReward(ctx, owner, i)
			out = append(out, positionView{
				Index:         i,
				Position:      pos,
				PendingReward: pending.String(),
				Matured:       pos.Matured(now),
			})
		}
		return nil
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{"positions": out})
}

type stakeRequest struct {
	Amount string `json:"amount" validate:"required,amount"`
	Tier   int    `json:"tier" validate:"min=0"`
}

// Stake opens a position. The caller must have approved the staking engine.
func (h *StakingHandler) Stake(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req stakeRequest
	if !h.decode(w, r, &req) {
		return
	}
	index, err := h.p.Staking.Stake(r.Context(), owner, mustAmount(req.Amount), req.Tier)
	if err != nil {
		h.respondOperationError(w, r, "stake", err)
		return
	}
	pos, _ := h.p.Staking.StakeDetails(r.Context(), owner, index)
	respondJSON(w, http.StatusCreated, positionView{Index: index, Position: pos, PendingReward: "0"})
}

// Withdraw settles one of the caller's positions.
func (h *StakingHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "Invalid stake index")
		return
	}
	payout, err := h.p.Staking.Withdraw(r.Context(), owner, index)
	if err != nil {
		h.respondOperationError(w, r, "unstake", err)
		return
	}
	respondJSON(w, http.StatusOK, payout)
}
