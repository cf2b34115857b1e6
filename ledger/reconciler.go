/*
reconciler.go - Atomic quote commit

PURPOSE:
  Applies a pricing.Quote to persistent state, all-or-nothing. One call to
  Commit produces at most one observable state change: applicant balance
  fields, voucher usage, new ticket/voucher/transaction rows and the audit
  entry either all land or none do.

COMMIT SEQUENCE (inside one store transaction):
  1. Load the applicant
  2. Re-validate and consume each voucher (version-checked CAS) - the
     quote-time snapshot is NOT trusted; a concurrent commit may have
     consumed the voucher since
  3. Apply the operation-specific effects (status moves, ticket writes,
     compensation voucher mint)
  4. Rewrite the applicant's balance fields and check the invariant
     remainingBalance == totalAmount - amountPaid
  5. Append the audit entry

CONCURRENCY:
  Voucher rows are the contended resource (think a popular PUBLIC promo
  code). ConsumeVoucher is a conditional update keyed on the version read
  inside this same transaction, so two concurrent redemptions of a
  capped/single-use voucher cannot both succeed; the loser gets
  ErrConcurrentVoucherRedemption, which is retryable.

SEE ALSO:
  - pricing/engine.go: Produces the quotes committed here
  - store.go: The transactional contract
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	store TxStore
	now   func() time.Time
}

func NewReconciler(store TxStore) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// CommitResult reports the records a commit produced.
type CommitResult struct {
	Applicant             *Applicant
	TicketID              string
	CompensationVoucherID string
	TransactionID         string
}

// Commit applies the quote atomically. Actor is recorded in the audit
// trail. On any error no state change is observable.
func (r *Reconciler) Commit(ctx context.Context, q *pricing.Quote, actor string) (*CommitResult, error) {
	result := &CommitResult{}

	err := r.store.WithTx(ctx, func(s Store) error {
		return r.apply(ctx, s, q, actor, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// apply runs the commit sequence against an already open transaction.
// Callers that need extra writes in the same transaction (Register creates
// the applicant row first) call this through WithTx themselves.
func (r *Reconciler) apply(ctx context.Context, s Store, q *pricing.Quote, actor string, result *CommitResult) error {
	applicant, err := s.GetApplicant(ctx, q.ApplicantID)
	if err != nil {
		return err
	}

	if err := r.consumeVouchers(ctx, s, q); err != nil {
		return err
	}

	refID := ""
	switch q.Kind {
	case pricing.OpRegistration:
		if err := transitionApplicant(applicant, StatusServicesConfigured); err != nil {
			return err
		}
		applicant.Discount = applicant.Discount.Add(q.Discount)
		if q.AmountPaid.IsPositive() {
			tx := Transaction{
				ID:          uuid.NewString(),
				ApplicantID: applicant.ID,
				Location:    applicant.FromLocation,
				Type:        TxPayment,
				Amount:      q.AmountPaid,
				Note:        "registration deposit",
				CreatedAt:   r.now(),
			}
			if err := s.AppendTransaction(ctx, tx); err != nil {
				return err
			}
			result.TransactionID = tx.ID
			applicant.AmountPaid = applicant.AmountPaid.Add(q.AmountPaid)
		}

	case pricing.OpRetake:
		if err := transitionApplicant(applicant, StatusExamScheduled); err != nil {
			return err
		}
		if q.ExamSlot != nil {
			setExamSlot(applicant, *q.ExamSlot)
		}
		applicant.Discount = applicant.Discount.Add(q.Discount)

	case pricing.OpExamChange:
		// No status move: the applicant stays scheduled, only the slot and
		// the change fee land.
		if applicant.Status != StatusExamScheduled {
			return &TransitionError{Subject: "applicant", ID: applicant.ID, From: string(applicant.Status), To: string(StatusExamScheduled)}
		}
		if q.ExamSlot != nil {
			setExamSlot(applicant, *q.ExamSlot)
		}

	case pricing.OpTicketIssuance:
		spec := q.IssueTicket
		if spec == nil {
			return fmt.Errorf("issuance quote without ticket spec")
		}
		ticket := &Ticket{
			ID:            uuid.NewString(),
			ApplicantID:   applicant.ID,
			From:          spec.From,
			To:            spec.To,
			TripType:      spec.TripType,
			DepartureDate: spec.DepartureDate,
			DepartureTime: spec.DepartureTime,
			FareAtIssue:   spec.FareAtIssue,
			Status:        TicketIssued,
			CreatedAt:     r.now(),
			UpdatedAt:     r.now(),
		}
		if err := s.CreateTicket(ctx, ticket); err != nil {
			return err
		}
		result.TicketID = ticket.ID
		refID = ticket.ID

	case pricing.OpTicketModification:
		upd := q.UpdateTicket
		if upd == nil {
			return fmt.Errorf("modification quote without ticket update")
		}
		ticket, err := s.GetTicket(ctx, upd.TicketID)
		if err != nil {
			return err
		}
		if ticket.Status != TicketIssued {
			return &TransitionError{Subject: "ticket", ID: ticket.ID, From: string(ticket.Status), To: string(TicketIssued)}
		}
		ticket.From = upd.From
		ticket.To = upd.To
		ticket.TripType = upd.TripType
		ticket.DepartureDate = upd.DepartureDate
		ticket.UpdatedAt = r.now()
		if err := s.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		result.TicketID = ticket.ID
		refID = ticket.ID

	case pricing.OpTicketCancellation:
		ticket, err := s.GetTicket(ctx, q.CancelTicketID)
		if err != nil {
			return err
		}
		if !ticket.Status.CanTransitionTo(TicketCancelled) {
			return &TransitionError{Subject: "ticket", ID: ticket.ID, From: string(ticket.Status), To: string(TicketCancelled)}
		}
		ticket.Status = TicketCancelled
		ticket.UpdatedAt = r.now()
		if err := s.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		result.TicketID = ticket.ID
		refID = ticket.ID

		if q.Compensation != nil {
			voucher := &pricing.Voucher{
				ID:          uuid.NewString(),
				Category:    pricing.VoucherCompensation,
				Kind:        pricing.KindCredit,
				Balance:     q.Compensation.Balance,
				Scope:       pricing.ScopeTransport,
				MaxUses:     1,
				ApplicantID: applicant.ID,
				CreatedAt:   r.now(),
			}
			if err := s.CreateVoucher(ctx, voucher); err != nil {
				return err
			}
			result.CompensationVoucherID = voucher.ID
			refID = voucher.ID
		}

	default:
		return fmt.Errorf("unknown operation kind %q", q.Kind)
	}

	// Balance math is identical for every kind: the quote's delta joins
	// the running totals and the invariant must hold afterwards.
	applicant.TotalAmount = applicant.TotalAmount.Add(q.BalanceDelta)
	applicant.Recalculate()
	if err := applicant.CheckBalanceInvariant(); err != nil {
		return err
	}
	applicant.UpdatedAt = r.now()
	if err := s.UpdateApplicant(ctx, applicant); err != nil {
		return err
	}
	result.Applicant = applicant

	return s.AppendAudit(ctx, AuditEntry{
		ID:          uuid.NewString(),
		At:          r.now(),
		Actor:       actor,
		Action:      auditActionFor(q.Kind),
		ApplicantID: applicant.ID,
		ReferenceID: refID,
		Detail:      fmt.Sprintf("total=%s delta=%s policy=%s", q.Total, q.BalanceDelta, q.PolicyName),
	})
}

// consumeVouchers re-validates each voucher against the row as it exists
// INSIDE this transaction and consumes it with a version check. The pricing
// engine already validated a snapshot; this is the concurrency guard.
func (r *Reconciler) consumeVouchers(ctx context.Context, s Store, q *pricing.Quote) error {
	for _, vc := range q.ConsumeVouchers {
		v, err := s.GetVoucher(ctx, vc.VoucherID)
		if err != nil {
			return err
		}
		if v.IsUsed && vc.Mode == pricing.ConsumeMarkUsed {
			return fmt.Errorf("%w: voucher %s", ErrConcurrentVoucherRedemption, v.ID)
		}
		if v.IsExhausted() {
			return fmt.Errorf("%w: voucher %s", ErrConcurrentVoucherRedemption, v.ID)
		}
		markUsed := vc.Mode == pricing.ConsumeMarkUsed
		if err := s.ConsumeVoucher(ctx, v.ID, v.Version, markUsed); err != nil {
			return err
		}
	}
	return nil
}

func transitionApplicant(a *Applicant, next ApplicantStatus) error {
	if !a.Status.CanTransitionTo(next) {
		return &TransitionError{Subject: "applicant", ID: a.ID, From: string(a.Status), To: string(next)}
	}
	a.Status = next
	return nil
}

func setExamSlot(a *Applicant, slot pricing.ExamSlot) {
	date := slot.Date
	a.ExamDate = &date
	a.ExamTime = slot.Time
	a.ExamLocation = slot.Location
}

func auditActionFor(kind pricing.OperationKind) AuditAction {
	switch kind {
	case pricing.OpRegistration:
		return AuditRegistrationCommitted
	case pricing.OpRetake:
		return AuditRetakeCommitted
	case pricing.OpExamChange:
		return AuditExamRescheduled
	case pricing.OpTicketIssuance:
		return AuditTicketIssued
	case pricing.OpTicketModification:
		return AuditTicketModified
	case pricing.OpTicketCancellation:
		return AuditTicketCancelled
	default:
		return AuditAction(kind)
	}
}
