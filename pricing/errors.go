/*
errors.go - Centralized error types for the pricing engine

PURPOSE:
  All pricing error kinds in one place. The ledger and API layers map
  these onto rollbacks and HTTP statuses; callers branch with errors.Is.

ERROR CATEGORIES:
  1. Promo code errors - invalid, expired, or exhausted PUBLIC codes
  2. Voucher errors - redemption of used/expired/ineligible vouchers
  3. Reference data errors - missing routes
  4. Input errors - malformed operation requests

SEE ALSO:
  - engine.go: Where these are raised
  - ledger/errors.go: Commit-time error kinds (concurrency, invariants)
*/
package pricing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPromoCode is returned when no PUBLIC voucher matches the
	// supplied code. Codes are case-sensitive.
	ErrInvalidPromoCode = errors.New("invalid promo code")

	// ErrExpiredPromoCode is returned when the matching voucher is past expiry.
	ErrExpiredPromoCode = errors.New("promo code expired")

	// ErrPromoUsageExceeded is returned when usageCount >= maxUses.
	ErrPromoUsageExceeded = errors.New("promo code usage exceeded")

	// ErrRouteNotFound is returned when no transport route exists for the
	// requested (from, to) pair. The legacy behavior of silently pricing a
	// missing route at zero is not carried forward.
	ErrRouteNotFound = errors.New("transport route not found")

	// ErrVoucherAlreadyUsed is returned when redeeming a single-use voucher
	// whose used flag is already set.
	ErrVoucherAlreadyUsed = errors.New("voucher already used")

	// ErrVoucherExpired is returned when redeeming a voucher past its expiry.
	ErrVoucherExpired = errors.New("voucher expired")

	// ErrVoucherNotApplicable is returned when a voucher's category, kind or
	// scope does not fit the operation (e.g. a credit voucher offered where a
	// percent discount is required).
	ErrVoucherNotApplicable = errors.New("voucher not applicable to this operation")

	// ErrInvalidInput is returned for malformed operation requests
	// (unknown trip type, missing route selection, negative manual discount).
	ErrInvalidInput = errors.New("invalid pricing input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PromoCodeError wraps one of the promo sentinel errors with the code.
type PromoCodeError struct {
	Code string
	Err  error
}

func (e *PromoCodeError) Error() string {
	return fmt.Sprintf("promo code %q: %v", e.Code, e.Err)
}

func (e *PromoCodeError) Unwrap() error { return e.Err }

// RouteNotFoundError identifies the missing (from, to) pair.
type RouteNotFoundError struct {
	From string
	To   string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route from %q to %q", e.From, e.To)
}

func (e *RouteNotFoundError) Unwrap() error { return ErrRouteNotFound }

// VoucherError wraps a voucher sentinel error with the voucher identity.
type VoucherError struct {
	VoucherID string
	Err       error
}

func (e *VoucherError) Error() string {
	return fmt.Sprintf("voucher %s: %v", e.VoucherID, e.Err)
}

func (e *VoucherError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPromoCode) ||
		errors.Is(err, ErrExpiredPromoCode) ||
		errors.Is(err, ErrPromoUsageExceeded) ||
		errors.Is(err, ErrRouteNotFound) ||
		errors.Is(err, ErrVoucherAlreadyUsed) ||
		errors.Is(err, ErrVoucherExpired) ||
		errors.Is(err, ErrVoucherNotApplicable) ||
		errors.Is(err, ErrInvalidInput)
}
