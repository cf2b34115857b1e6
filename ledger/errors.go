/*
errors.go - Commit-time error kinds

PURPOSE:
  Errors raised while applying a quote to persistent state. Pricing-level
  validation errors live in pricing/errors.go; this file covers what can
  only go wrong at commit: concurrency conflicts, invariant violations,
  illegal lifecycle transitions, and missing records.

RETRY SEMANTICS:
  ErrConcurrentVoucherRedemption is the one retryable kind - the caller may
  re-quote and re-commit. The ledger itself never retries.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConcurrentVoucherRedemption is returned when the commit-time
	// re-validation of a voucher finds it consumed by a concurrent commit.
	// Retryable: the caller may re-quote.
	ErrConcurrentVoucherRedemption = errors.New("concurrent voucher redemption")

	// ErrBalanceInvariantViolation is returned when an applicant's stored
	// remaining balance drifts from totalAmount - amountPaid. Fatal to the
	// commit; never auto-corrected.
	ErrBalanceInvariantViolation = errors.New("balance invariant violation")

	// ErrInvalidStatusTransition is returned for a disallowed applicant
	// lifecycle move.
	ErrInvalidStatusTransition = errors.New("invalid applicant status transition")

	// ErrInvalidTicketTransition is returned for a disallowed ticket
	// lifecycle move.
	ErrInvalidTicketTransition = errors.New("invalid ticket status transition")

	// ErrRetakeNotAllowed is returned when quoting a retake for an applicant
	// whose status is not failed or absent.
	ErrRetakeNotAllowed = errors.New("retake only allowed for failed or absent applicants")

	ErrApplicantNotFound = errors.New("applicant not found")
	ErrVoucherNotFound   = errors.New("voucher not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrRouteNotFound     = errors.New("route not found")

	// ErrCodeCollision is returned when applicant code generation cannot
	// find a free code after the retry budget.
	ErrCodeCollision = errors.New("could not generate a unique applicant code")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// BalanceInvariantError reports the drifted balance.
type BalanceInvariantError struct {
	ApplicantID string
	Stored      pricing.Money
	Expected    pricing.Money
}

func (e *BalanceInvariantError) Error() string {
	return fmt.Sprintf("applicant %s: remaining balance %s, expected %s",
		e.ApplicantID, e.Stored, e.Expected)
}

func (e *BalanceInvariantError) Unwrap() error { return ErrBalanceInvariantViolation }

// TransitionError reports a rejected lifecycle move.
type TransitionError struct {
	Subject string // "applicant" or "ticket"
	ID      string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Subject, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e.Subject == "ticket" {
		return ErrInvalidTicketTransition
	}
	return ErrInvalidStatusTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentVoucherRedemption)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrApplicantNotFound) ||
		errors.Is(err, ErrVoucherNotFound) ||
		errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrRouteNotFound)
}

// IsClientError returns true for errors caused by the request rather than
// the system. Pricing validation errors count as client errors too.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrInvalidTicketTransition) ||
		errors.Is(err, ErrRetakeNotAllowed) ||
		pricing.IsClientError(err)
}
