/*
Package ledger applies pricing quotes to persistent state.

PURPOSE:
  The ledger is the stateful half of the system. It owns the Applicant,
  Ticket and Transaction records, the two status machines, the storage
  ports, and the Reconciler that commits a pricing.Quote atomically:
  balance fields, voucher consumption, new ticket/voucher/transaction rows
  and an audit entry all land together or not at all.

KEY CONCEPTS IN THIS FILE (types.go):
  - Applicant: identity + financial snapshot with the balance invariant
    remainingBalance == totalAmount - amountPaid
  - ApplicantStatus / TicketStatus: one-directional lifecycle machines
  - Transaction: immutable financial ledger entry (append-only)
  - AuditEntry: who did what, per commit

DESIGN PRINCIPLES:
  1. Transactions are never mutated; corrections append new entries
  2. Status transitions go through CanTransitionTo, never raw assignment
  3. Balance fields are only rewritten inside a store transaction

SEE ALSO:
  - reconciler.go: Atomic quote commit
  - service.go: Quote orchestration and the admin operations
  - store.go: Storage ports
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// APPLICANT - Identity and financial snapshot
// =============================================================================

type ApplicantStatus string

const (
	StatusNewRegistration    ApplicantStatus = "new_registration"
	StatusServicesConfigured ApplicantStatus = "services_configured"
	StatusExamScheduled      ApplicantStatus = "exam_scheduled"
	StatusAttendedExam       ApplicantStatus = "attended_exam"
	StatusPassed             ApplicantStatus = "passed"
	StatusFailed             ApplicantStatus = "failed"
	StatusAbsent             ApplicantStatus = "absent"
)

// applicantTransitions encodes the lifecycle:
//
//	NEW_REGISTRATION → SERVICES_CONFIGURED → EXAM_SCHEDULED → ATTENDED_EXAM → {PASSED | FAILED}
//	EXAM_SCHEDULED → ABSENT (no-show)
//	FAILED | ABSENT → EXAM_SCHEDULED (retake, fee applies)
//	PASSED | FAILED → ATTENDED_EXAM (admin "undo result" override)
//
// PASSED is the only terminal state for the normal flow; FAILED and ABSENT
// always permit a retake.
var applicantTransitions = map[ApplicantStatus][]ApplicantStatus{
	StatusNewRegistration:    {StatusServicesConfigured},
	StatusServicesConfigured: {StatusExamScheduled},
	StatusExamScheduled:      {StatusAttendedExam, StatusAbsent},
	StatusAttendedExam:       {StatusPassed, StatusFailed},
	StatusPassed:             {StatusAttendedExam},
	StatusFailed:             {StatusExamScheduled, StatusAttendedExam},
	StatusAbsent:             {StatusExamScheduled},
}

func (s ApplicantStatus) CanTransitionTo(next ApplicantStatus) bool {
	for _, allowed := range applicantTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Applicant struct {
	ID   string
	Code string // 6-char alphanumeric, unique, collision-checked at creation

	FullName string
	Phone    string

	TotalAmount      pricing.Money
	AmountPaid       pricing.Money
	Discount         pricing.Money
	RemainingBalance pricing.Money

	TripType     pricing.TripType
	FromLocation string

	ExamDate     *time.Time
	ExamTime     string
	ExamLocation string

	Status ApplicantStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recalculate rewrites RemainingBalance from the other two fields. Every
// financial mutation must go through this before the invariant check.
func (a *Applicant) Recalculate() {
	a.RemainingBalance = a.TotalAmount.Sub(a.AmountPaid)
}

// CheckBalanceInvariant verifies remainingBalance == totalAmount - amountPaid.
// A violation is fatal to the enclosing commit.
func (a *Applicant) CheckBalanceInvariant() error {
	expected := a.TotalAmount.Sub(a.AmountPaid)
	if !a.RemainingBalance.Equal(expected) {
		return &BalanceInvariantError{
			ApplicantID: a.ID,
			Stored:      a.RemainingBalance,
			Expected:    expected,
		}
	}
	return nil
}

// =============================================================================
// TICKET - Single travel booking
// =============================================================================

type TicketStatus string

const (
	TicketIssued    TicketStatus = "issued"
	TicketUsed      TicketStatus = "used"
	TicketNoShow    TicketStatus = "no_show"
	TicketCancelled TicketStatus = "cancelled"
)

// ticketTransitions: ISSUED → {USED, NO_SHOW, CANCELLED}. USED and NO_SHOW
// are terminal. A cancelled ticket is never resurrected; a fresh ticket is
// issued instead.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketIssued: {TicketUsed, TicketNoShow, TicketCancelled},
}

func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Ticket struct {
	ID          string
	ApplicantID string

	From          string
	To            string
	TripType      pricing.TripType
	DepartureDate time.Time
	DepartureTime string

	// FareAtIssue records what the fare actually was when the ticket was
	// issued. Change/cancellation math still recomputes fares from the
	// current route table (source-faithful); this field makes price drift
	// visible to callers.
	FareAtIssue pricing.Money

	Status TicketStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TRANSACTION - Immutable financial ledger entry
// =============================================================================

type TransactionType string

const (
	TxPayment    TransactionType = "payment"
	TxExpense    TransactionType = "expense"
	TxWithdrawal TransactionType = "withdrawal"
)

// Transaction is append-only: created once, never mutated. It is the audit
// trail for all money movement.
type Transaction struct {
	ID          string
	ApplicantID string // optional
	Location    string // optional
	Type        TransactionType
	Amount      pricing.Money
	Note        string
	CreatedAt   time.Time
}

// =============================================================================
// AUDIT - Who did what, per commit
// =============================================================================

type AuditAction string

const (
	AuditRegistrationCommitted AuditAction = "registration_committed"
	AuditRetakeCommitted       AuditAction = "retake_committed"
	AuditTicketIssued          AuditAction = "ticket_issued"
	AuditTicketModified        AuditAction = "ticket_modified"
	AuditTicketCancelled       AuditAction = "ticket_cancelled"
	AuditTicketMarked          AuditAction = "ticket_marked"
	AuditPaymentRecorded       AuditAction = "payment_recorded"
	AuditExamScheduled         AuditAction = "exam_scheduled"
	AuditExamRescheduled       AuditAction = "exam_rescheduled"
	AuditExamResultRecorded    AuditAction = "exam_result_recorded"
	AuditExamResultUndone      AuditAction = "exam_result_undone"
	AuditVoucherGranted        AuditAction = "voucher_granted"
)

type AuditEntry struct {
	ID          string
	At          time.Time
	Actor       string
	Action      AuditAction
	ApplicantID string
	ReferenceID string // ticket, voucher or transaction involved
	Detail      string
}

func (e AuditEntry) String() string {
	return fmt.Sprintf("%s %s applicant=%s ref=%s", e.At.Format(time.RFC3339), e.Action, e.ApplicantID, e.ReferenceID)
}
