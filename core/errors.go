/*
errors.go - Centralized error types for the cost-sharing ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Components wrap these with context; the API maps them to HTTP status
  codes through the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any write
  2. Invariant violations - SplitMismatch, InsufficientBalance,
     OverpaymentRejected, PaymentAmountExceeded
  3. Trust violations - InvalidSignature
  4. Not found - SplitNotFound, PaymentNotFound, NoCostsFound, ...
  5. Transient - ConcurrentModification, GatewayUnavailable

USAGE:
  if errors.Is(err, core.ErrInsufficientBalance) {
      var ib *core.InsufficientBalanceError
      if errors.As(err, &ib) { ... ib.Shortfall ... }
  }

SEE ALSO:
  - api/handlers.go: statusFor maps these to HTTP codes
  - payment/reconciler.go: IsRetryable drives callback retry
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidStrategy  = errors.New("invalid split strategy")
	ErrInvalidMethod    = errors.New("invalid payment method")
	ErrInvalidPeriod    = errors.New("invalid period: end before start")
	ErrInvalidOwners    = errors.New("invalid owner set")
	ErrNoOwners         = errors.New("group has no owners")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrValidation       = errors.New("validation failed")

	// Invariant violations
	ErrSplitMismatch         = errors.New("split amounts do not sum to cost total")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrOverpaymentRejected   = errors.New("payment would exceed split amount")
	ErrPaymentAmountExceeded = errors.New("payment amount exceeds remaining balance")
	ErrAmountMismatch        = errors.New("confirmed amount does not match payment")
	ErrNotSplitOwner         = errors.New("payer does not own the split")
	ErrCostInvoiced          = errors.New("cost is already invoiced")
	ErrPaymentTerminal       = errors.New("payment is already in a terminal state")
	ErrInvalidTransition     = errors.New("invalid status transition")

	// Trust violations
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrCallbackUnsupported = errors.New("gateway does not accept callbacks")
	ErrUnauthorized        = errors.New("unauthorized")

	// Not found
	ErrCostNotFound    = errors.New("cost not found")
	ErrSplitNotFound   = errors.New("split not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrNoCostsFound    = errors.New("no un-invoiced costs found")

	// Transient
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrDuplicate              = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SplitMismatchError reports a strategy result that does not add up.
type SplitMismatchError struct {
	Total decimal.Decimal
	Sum   decimal.Decimal
}

func (e *SplitMismatchError) Error() string {
	return fmt.Sprintf("split mismatch: total %s, sum of shares %s, difference %s",
		e.Total, e.Sum, e.Total.Sub(e.Sum))
}

func (e *SplitMismatchError) Unwrap() error {
	return ErrSplitMismatch
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	WalletID  WalletID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in wallet %s: available %s, requested %s, shortfall %s",
		e.WalletID, e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// OverpaymentError is returned when applying a payment would push
// paid_amount past split_amount.
type OverpaymentError struct {
	SplitID SplitID
	Amount  decimal.Decimal
	Paid    decimal.Decimal
	Payment decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("overpayment rejected on split %s: amount %s, already paid %s, payment %s",
		e.SplitID, e.Amount, e.Paid, e.Payment)
}

func (e *OverpaymentError) Unwrap() error {
	return ErrOverpaymentRejected
}

// PaymentAmountExceededError is returned by initiate before any Payment exists.
type PaymentAmountExceededError struct {
	SplitID   SplitID
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *PaymentAmountExceededError) Error() string {
	return fmt.Sprintf("payment of %s exceeds remaining %s on split %s",
		e.Requested, e.Remaining, e.SplitID)
}

func (e *PaymentAmountExceededError) Unwrap() error {
	return ErrPaymentAmountExceeded
}

// SignatureError identifies which provider callback failed verification.
type SignatureError struct {
	Provider string
	Reason   string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid signature from %s: %s", e.Provider, e.Reason)
}

func (e *SignatureError) Unwrap() error {
	return ErrInvalidSignature
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrGatewayUnavailable)
}

// IsClientError returns true if the error is due to invalid client input
// or a violated invariant the client can act on.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrInvalidStrategy, ErrInvalidMethod, ErrInvalidPeriod,
		ErrInvalidOwners, ErrNoOwners, ErrCurrencyMismatch, ErrValidation,
		ErrSplitMismatch, ErrInsufficientBalance, ErrOverpaymentRejected,
		ErrPaymentAmountExceeded, ErrAmountMismatch, ErrNotSplitOwner,
		ErrCostInvoiced, ErrPaymentTerminal, ErrInvalidTransition, ErrDuplicate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCostNotFound) ||
		errors.Is(err, ErrSplitNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrNoCostsFound)
}

// IsTrustViolation returns true if the caller could not be authenticated.
func IsTrustViolation(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrCallbackUnsupported) ||
		errors.Is(err, ErrUnauthorized)
}
