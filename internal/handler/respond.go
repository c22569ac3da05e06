// Package handler exposes the protocol over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"govtoken/internal/amount"
	"govtoken/internal/domain"
	"govtoken/internal/middleware"
	pkgerrors "govtoken/pkg/errors"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
	"govtoken/pkg/validator"
)

// base carries what every handler needs.
type base struct {
	validator *validator.Validator
	logger    logger.Logger
	metrics   *metrics.Collector
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errors map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errors,
	})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind pkgerrors.Kind) int {
	switch kind {
	case pkgerrors.KindAuthorization:
		return http.StatusForbidden
	case pkgerrors.KindCompliance:
		return http.StatusConflict
	case pkgerrors.KindBudget:
		return http.StatusTooManyRequests
	case pkgerrors.KindState:
		return http.StatusConflict
	case pkgerrors.KindInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondOperationError reports a rejected protocol operation.
func (b *base) respondOperationError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := pkgerrors.KindOf(err)
	status := statusFor(kind)
	if b.metrics != nil {
		b.metrics.RecordRejection(string(kind))
	}

	fields := map[string]interface{}{
		"operation":  op,
		"kind":       string(kind),
		"error":      err.Error(),
		"request_id": middleware.RequestIDFromContext(r.Context()),
	}
	if status == http.StatusInternalServerError {
		b.logger.Error("Operation failed", fields)
		respondError(w, status, "Internal server error")
		return
	}
	b.logger.Warn("Operation rejected", fields)

	body := map[string]interface{}{"error": err.Error(), "kind": kind}
	var unauthorized *pkgerrors.UnauthorizedError
	if errors.As(err, &unauthorized) {
		body["capability"] = unauthorized.Capability
	}
	respondJSON(w, status, body)
}

// decode reads a JSON body into req and validates it. It writes the error
// response itself and reports whether the caller may proceed.
func (b *base) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if errs := b.validator.ValidateStructured(req); errs != nil {
		respondValidationErrors(w, errs)
		return false
	}
	return true
}

// caller returns the authenticated address or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	addr, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthenticated")
		return domain.Address{}, false
	}
	return addr, true
}

// Inputs reaching these helpers already passed the address and amount
// validator tags.
func mustAddress(s string) domain.Address {
	return domain.MustParseAddress(s)
}

func mustAmount(s string) decimal.Decimal {
	return decimal.RequireFromString(strings.TrimSpace(s))
}

func pathAddress(w http.ResponseWriter, s string) (domain.Address, bool) {
	addr, err := domain.ParseAddress(s)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid address")
		return domain.Address{}, false
	}
	return addr, true
}

func decimalOrBadRequest(w http.ResponseWriter, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err == nil {
		err = amount.Validate(d)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount")
		return decimal.Zero, err
	}
	return d, nil
}
