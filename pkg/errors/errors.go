// Package errors defines the protocol's error values, their kinds, and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindCompliance    Kind = "compliance"
	KindBudget        Kind = "budget"
	KindState         Kind = "state"
	KindInput         Kind = "input"
	KindInternal      Kind = "internal"
)

// Authorization errors
var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Compliance errors
var (
	ErrAccountBlacklisted = errors.New("account blacklisted")
	ErrAccountLocked      = errors.New("account locked")
)

// Budget errors: transient, the same request may pass after a window rollover.
var (
	ErrMaxTransferExceeded   = errors.New("max transfer amount exceeded")
	ErrDailyLimitExceeded    = errors.New("daily limit exceeded")
	ErrInflationLimitReached = errors.New("inflation limit reached")
	ErrGlobalCapExceeded     = errors.New("global supply cap exceeded")
	ErrExceedsLimit          = errors.New("withdrawal exceeds window limit")
)

// State errors
var (
	ErrAlreadyProcessed      = errors.New("message already processed")
	ErrAlreadyWithdrawn      = errors.New("stake already withdrawn")
	ErrWindowClosed          = errors.New("spending window closed")
	ErrWindowAlreadyOpen     = errors.New("spending window already open")
	ErrVaultLocked           = errors.New("vault locked")
	ErrTokenPaused           = errors.New("token transfers paused")
	ErrReentrantCall         = errors.New("reentrant call")
	ErrAlreadyMigrated       = errors.New("schema already migrated")
	ErrAlreadyInitialized    = errors.New("already initialized")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Input errors
var (
	ErrZeroAddress       = errors.New("zero address")
	ErrZeroAmount        = errors.New("zero amount")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDuration   = errors.New("invalid lock duration")
	ErrChainNotSupported = errors.New("chain not supported")
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrTaxRateTooHigh    = errors.New("tax rate too high")
	ErrInvalidLimit      = errors.New("invalid limit")
	ErrStakeNotFound     = errors.New("stake not found")
	ErrUnknownCapability = errors.New("unknown capability")
)

var kinds = map[error]Kind{
	ErrUnauthorized: KindAuthorization,

	ErrAccountBlacklisted: KindCompliance,
	ErrAccountLocked:      KindCompliance,

	ErrMaxTransferExceeded:   KindBudget,
	ErrDailyLimitExceeded:    KindBudget,
	ErrInflationLimitReached: KindBudget,
	ErrGlobalCapExceeded:     KindBudget,
	ErrExceedsLimit:          KindBudget,

	ErrAlreadyProcessed:      KindState,
	ErrAlreadyWithdrawn:      KindState,
	ErrWindowClosed:          KindState,
	ErrWindowAlreadyOpen:     KindState,
	ErrVaultLocked:           KindState,
	ErrTokenPaused:           KindState,
	ErrReentrantCall:         KindState,
	ErrAlreadyMigrated:       KindState,
	ErrAlreadyInitialized:    KindState,
	ErrInsufficientBalance:   KindState,
	ErrInsufficientAllowance: KindState,

	ErrZeroAddress:       KindInput,
	ErrZeroAmount:        KindInput,
	ErrInvalidAmount:     KindInput,
	ErrInvalidDuration:   KindInput,
	ErrChainNotSupported: KindInput,
	ErrUnknownAsset:      KindInput,
	ErrTaxRateTooHigh:    KindInput,
	ErrInvalidLimit:      KindInput,
	ErrStakeNotFound:     KindInput,
	ErrUnknownCapability: KindInput,
}

// KindOf classifies err by the first known sentinel in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// UnauthorizedError reports a caller lacking a required capability.
type UnauthorizedError struct {
	Capability string
	Caller     string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s lacks capability %q", e.Caller, e.Capability)
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// Unauthorized builds an UnauthorizedError.
func Unauthorized(capability, caller string) error {
	return &UnauthorizedError{Capability: capability, Caller: caller}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
