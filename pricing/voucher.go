/*
voucher.go - Voucher variants and redemption validation

PURPOSE:
  Vouchers come in two semantically distinct shapes that the legacy system
  kept in one loosely-typed record and told apart by call site:

    Discount vouchers: a percentage off a computed gross
      (PUBLIC promo codes at registration, PERSONAL/COMPENSATION waivers
      at exam retake)

    Credit vouchers: a fixed balance netted against a fare
      (ticket issuance; COMPENSATION vouchers minted on cancellation)

  Here the shape is a first-class Kind tag so the two redemption
  algorithms cannot be mixed up. Voucher metadata lives in real fields -
  no structured data is ever encoded inside free-text notes.

LIFECYCLE:
  PUBLIC        created by admins, capped by MaxUses, consumed by
                incrementing UsageCount
  PERSONAL      granted to one applicant, single-use, consumed by
                setting IsUsed
  COMPENSATION  minted automatically on ticket cancellation with
                Balance = fare - cancellation fee, single-use

CONCURRENCY:
  Version supports compare-and-swap consumption at commit time. The
  pricing engine only validates against the snapshot it was given; the
  ledger re-validates before incrementing. See ledger/reconciler.go.
*/
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VOUCHER - Tagged variant record
// =============================================================================

type VoucherCategory string

const (
	VoucherPublic       VoucherCategory = "public"
	VoucherPersonal     VoucherCategory = "personal"
	VoucherCompensation VoucherCategory = "compensation"
)

type VoucherKind string

const (
	// KindDiscount: DiscountPercent applies to a gross amount.
	KindDiscount VoucherKind = "discount"
	// KindCredit: Balance is netted against a fare.
	KindCredit VoucherKind = "credit"
)

// ServiceScope restricts which operations a PERSONAL/COMPENSATION voucher
// can pay for.
type ServiceScope string

const (
	ScopeExam        ServiceScope = "exam"
	ScopeExamRetake  ServiceScope = "exam_retake"
	ScopeFullProgram ServiceScope = "full_program"
	ScopeTransport   ServiceScope = "transport"
)

type Voucher struct {
	ID       string
	Code     string // PUBLIC promo code; empty for other categories
	Category VoucherCategory
	Kind     VoucherKind

	// Kind == KindDiscount. Zero means "unset" and is treated as 100
	// (a full waiver) during retake redemption.
	DiscountPercent decimal.Decimal

	// Kind == KindCredit.
	Balance Money

	Scope ServiceScope

	MaxUses    int
	UsageCount int
	ExpiresAt  *time.Time
	IsUsed     bool

	// Optional links.
	ApplicantID string
	Location    string

	// Version guards concurrent consumption (optimistic check).
	Version   int
	CreatedAt time.Time
}

// =============================================================================
// REDEMPTION VALIDATION
// =============================================================================

func (v Voucher) IsExpired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}

func (v Voucher) IsExhausted() bool {
	return v.MaxUses > 0 && v.UsageCount >= v.MaxUses
}

// EffectivePercent returns the discount percentage, defaulting to 100 when
// the field was never set.
func (v Voucher) EffectivePercent() decimal.Decimal {
	if v.DiscountPercent.IsZero() {
		return decimal.NewFromInt(100)
	}
	return v.DiscountPercent
}

// ValidatePromo checks a PUBLIC promo voucher against a supplied code.
// The code comparison is case-sensitive.
func (v Voucher) ValidatePromo(code string, now time.Time) error {
	if v.Category != VoucherPublic || v.Kind != KindDiscount || v.Code != code {
		return &PromoCodeError{Code: code, Err: ErrInvalidPromoCode}
	}
	if v.IsExpired(now) {
		return &PromoCodeError{Code: code, Err: ErrExpiredPromoCode}
	}
	if v.IsExhausted() {
		return &PromoCodeError{Code: code, Err: ErrPromoUsageExceeded}
	}
	return nil
}

// ValidateForRetake checks that the voucher can waive an exam retake fee
// for the given applicant: an active, unused PERSONAL or COMPENSATION
// discount voucher scoped to exams or the full program. A voucher bound to
// an applicant is redeemable by that applicant only.
func (v Voucher) ValidateForRetake(applicantID string, now time.Time) error {
	if v.Category != VoucherPersonal && v.Category != VoucherCompensation {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherNotApplicable}
	}
	if v.ApplicantID != "" && v.ApplicantID != applicantID {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherNotApplicable}
	}
	if v.Kind != KindDiscount {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherNotApplicable}
	}
	switch v.Scope {
	case ScopeExam, ScopeExamRetake, ScopeFullProgram:
	default:
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherNotApplicable}
	}
	if v.IsUsed {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherAlreadyUsed}
	}
	if v.IsExpired(now) {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherExpired}
	}
	return nil
}

// EligibleForRetake reports whether the voucher would pass ValidateForRetake.
// Used to auto-select the first active voucher when the caller names none.
func (v Voucher) EligibleForRetake(applicantID string, now time.Time) bool {
	return v.ValidateForRetake(applicantID, now) == nil
}

// ValidateForTicket checks that the voucher can be netted against a fare:
// an unused, unexpired credit voucher held by (or open to) the given
// applicant. PUBLIC credit vouchers must also not be exhausted.
func (v Voucher) ValidateForTicket(applicantID string, now time.Time) error {
	if v.Kind != KindCredit {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherNotApplicable}
	}
	if v.ApplicantID != "" && v.ApplicantID != applicantID {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherNotApplicable}
	}
	if v.IsUsed {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherAlreadyUsed}
	}
	if v.IsExpired(now) {
		return &VoucherError{VoucherID: v.ID, Err: ErrVoucherExpired}
	}
	if v.Category == VoucherPublic && v.IsExhausted() {
		return &VoucherError{VoucherID: v.ID, Err: ErrPromoUsageExceeded}
	}
	return nil
}
