/*
service.go - Quote orchestration and admin operations

PURPOSE:
  The Service is what the web handlers call. It gathers the state a pure
  pricing computation needs (applicant, route row, candidate vouchers, fee
  policies), invokes the pricing engine, and hands the resulting quote to
  the Reconciler. It also carries the operations that need no quote:
  payments, exam scheduling and results, ticket terminal marks, voucher
  grants and reference-data management.

QUOTE/COMMIT SPLIT:
  Every commercial operation is available as a Quote* method (no side
  effects, safe to present for confirmation) and a matching committing
  method. Committing methods re-gather and re-quote so a confirmed quote
  is never committed against stale reference data silently.

APPLICANT CODES:
  Six-character alphanumeric codes, generated from crypto/rand and
  collision-checked against the store with a bounded retry.
*/
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store TxStore
	rec   *Reconciler
	cfg   pricing.Config
	now   func() time.Time
}

func NewService(store TxStore, cfg pricing.Config) *Service {
	return &Service{
		store: store,
		rec:   NewReconciler(store),
		cfg:   cfg,
		now:   time.Now,
	}
}

// Config returns the pricing snapshot the service was built with.
func (s *Service) Config() pricing.Config { return s.cfg }

// Store exposes the underlying store for read-only listing endpoints.
func (s *Service) Store() TxStore { return s.store }

// =============================================================================
// REGISTRATION
// =============================================================================

type RegisterRequest struct {
	FullName     string
	Phone        string
	FromLocation string
	ExamLocation string

	TripType pricing.TripType

	PromoCode      string
	ManualDiscount *pricing.Money
	InitialDeposit pricing.Money
}

// QuoteRegistration prices a registration without side effects.
func (s *Service) QuoteRegistration(ctx context.Context, req RegisterRequest) (*pricing.Quote, error) {
	in, err := s.registrationInput(ctx, req, "")
	if err != nil {
		return nil, err
	}
	return pricing.QuoteRegistration(in)
}

// Register creates the applicant record and commits the registration
// quote. Both writes share one store transaction: a registration rejected
// by pricing or by the commit leaves no applicant row behind.
func (s *Service) Register(ctx context.Context, req RegisterRequest, actor string) (*CommitResult, error) {
	applicantID := uuid.NewString()

	in, err := s.registrationInput(ctx, req, applicantID)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.QuoteRegistration(in)
	if err != nil {
		return nil, err
	}

	result := &CommitResult{}
	err = s.store.WithTx(ctx, func(st Store) error {
		code, err := s.generateCode(ctx, st)
		if err != nil {
			return err
		}
		applicant := &Applicant{
			ID:           applicantID,
			Code:         code,
			FullName:     req.FullName,
			Phone:        req.Phone,
			TripType:     req.TripType,
			FromLocation: req.FromLocation,
			ExamLocation: req.ExamLocation,
			Status:       StatusNewRegistration,
			CreatedAt:    s.now(),
			UpdatedAt:    s.now(),
		}
		if err := st.CreateApplicant(ctx, applicant); err != nil {
			return err
		}
		return s.rec.apply(ctx, st, quote, actor, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) registrationInput(ctx context.Context, req RegisterRequest, applicantID string) (pricing.RegistrationInput, error) {
	in := pricing.RegistrationInput{
		Config:         s.cfg,
		ApplicantID:    applicantID,
		TripType:       req.TripType,
		From:           req.FromLocation,
		To:             req.ExamLocation,
		PromoCode:      req.PromoCode,
		ManualDiscount: req.ManualDiscount,
		AmountPaid:     req.InitialDeposit,
		Now:            s.now(),
	}
	if req.TripType != pricing.TripNone && req.TripType != "" {
		route, err := s.store.GetRoute(ctx, req.FromLocation, req.ExamLocation)
		if err != nil && !errors.Is(err, ErrRouteNotFound) {
			return in, err
		}
		in.Route = route
	}
	if req.PromoCode != "" {
		promo, err := s.store.FindPromoByCode(ctx, req.PromoCode)
		if err != nil && !errors.Is(err, ErrVoucherNotFound) {
			return in, err
		}
		in.Promo = promo
	}
	return in, nil
}

// =============================================================================
// EXAM RETAKE
// =============================================================================

// QuoteRetake prices a retake for a failed or absent applicant. When
// voucherID is empty the first eligible voucher held by the applicant is
// auto-selected; pass a specific ID to choose another, or no voucher is
// used if the applicant holds none.
func (s *Service) QuoteRetake(ctx context.Context, applicantID, voucherID string, slot pricing.ExamSlot) (*pricing.Quote, error) {
	applicant, err := s.store.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	if applicant.Status != StatusFailed && applicant.Status != StatusAbsent {
		return nil, ErrRetakeNotAllowed
	}

	voucher, err := s.selectRetakeVoucher(ctx, applicantID, voucherID)
	if err != nil {
		return nil, err
	}

	return pricing.QuoteRetake(pricing.RetakeInput{
		Config:      s.cfg,
		ApplicantID: applicantID,
		Voucher:     voucher,
		Slot:        slot,
		Now:         s.now(),
	})
}

// ScheduleRetake quotes and commits in one step.
func (s *Service) ScheduleRetake(ctx context.Context, applicantID, voucherID string, slot pricing.ExamSlot, actor string) (*CommitResult, error) {
	quote, err := s.QuoteRetake(ctx, applicantID, voucherID, slot)
	if err != nil {
		return nil, err
	}
	return s.rec.Commit(ctx, quote, actor)
}

func (s *Service) selectRetakeVoucher(ctx context.Context, applicantID, voucherID string) (*pricing.Voucher, error) {
	if voucherID != "" {
		return s.store.GetVoucher(ctx, voucherID)
	}
	held, err := s.store.ListVouchersByApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	for i := range held {
		if held[i].EligibleForRetake(applicantID, s.now()) {
			return &held[i], nil
		}
	}
	return nil, nil
}

// =============================================================================
// TICKETS
// =============================================================================

type RouteSelection struct {
	From          string
	To            string
	TripType      pricing.TripType
	DepartureDate time.Time
	DepartureTime string
}

func (s *Service) QuoteTicketIssuance(ctx context.Context, applicantID string, sel RouteSelection, voucherIDs []string) (*pricing.Quote, error) {
	if _, err := s.store.GetApplicant(ctx, applicantID); err != nil {
		return nil, err
	}
	route, err := s.store.GetRoute(ctx, sel.From, sel.To)
	if err != nil && !errors.Is(err, ErrRouteNotFound) {
		return nil, err
	}

	vouchers := make([]pricing.Voucher, 0, len(voucherIDs))
	for _, id := range voucherIDs {
		v, err := s.store.GetVoucher(ctx, id)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, *v)
	}

	return pricing.QuoteTicketIssuance(pricing.TicketIssuanceInput{
		ApplicantID:   applicantID,
		TripType:      sel.TripType,
		Route:         route,
		From:          sel.From,
		To:            sel.To,
		DepartureDate: sel.DepartureDate,
		DepartureTime: sel.DepartureTime,
		Vouchers:      vouchers,
		Now:           s.now(),
	})
}

func (s *Service) IssueTicket(ctx context.Context, applicantID string, sel RouteSelection, voucherIDs []string, actor string) (*CommitResult, error) {
	quote, err := s.QuoteTicketIssuance(ctx, applicantID, sel, voucherIDs)
	if err != nil {
		return nil, err
	}
	return s.rec.Commit(ctx, quote, actor)
}

// QuoteTicketChange prices a modification, or a cancellation when newSel is
// nil (a change to a terminal "none" route).
func (s *Service) QuoteTicketChange(ctx context.Context, ticketID string, newSel *RouteSelection) (*pricing.Quote, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	// Fares are recomputed from the current route table, for the original
	// leg as well. See Ticket.FareAtIssue for the issued price.
	originalRoute, err := s.store.GetRoute(ctx, ticket.From, ticket.To)
	if err != nil && !errors.Is(err, ErrRouteNotFound) {
		return nil, err
	}

	departureAt := departureInstant(ticket)

	if newSel == nil {
		policies, err := s.store.ListFeePoliciesByCategory(ctx, pricing.FeeCancellation)
		if err != nil {
			return nil, err
		}
		return pricing.QuoteTicketCancellation(pricing.TicketCancellationInput{
			ApplicantID: ticket.ApplicantID,
			TicketID:    ticket.ID,
			Route:       originalRoute,
			TripType:    ticket.TripType,
			DepartureAt: departureAt,
			Policies:    policies,
			Now:         s.now(),
		})
	}

	newRoute, err := s.store.GetRoute(ctx, newSel.From, newSel.To)
	if err != nil && !errors.Is(err, ErrRouteNotFound) {
		return nil, err
	}
	policies, err := s.store.ListFeePoliciesByCategory(ctx, pricing.FeeModification)
	if err != nil {
		return nil, err
	}
	return pricing.QuoteTicketChange(pricing.TicketChangeInput{
		ApplicantID:      ticket.ApplicantID,
		TicketID:         ticket.ID,
		OriginalRoute:    originalRoute,
		OriginalTripType: ticket.TripType,
		DepartureAt:      departureAt,
		NewRoute:         newRoute,
		NewFrom:          newSel.From,
		NewTo:            newSel.To,
		NewTripType:      newSel.TripType,
		NewDepartureAt:   newSel.DepartureDate,
		Policies:         policies,
		Now:              s.now(),
	})
}

func (s *Service) ChangeTicket(ctx context.Context, ticketID string, newSel *RouteSelection, actor string) (*CommitResult, error) {
	quote, err := s.QuoteTicketChange(ctx, ticketID, newSel)
	if err != nil {
		return nil, err
	}
	return s.rec.Commit(ctx, quote, actor)
}

// MarkTicket moves a ticket to a terminal status (used or no_show).
func (s *Service) MarkTicket(ctx context.Context, ticketID string, status TicketStatus, actor string) (*Ticket, error) {
	var marked *Ticket
	err := s.store.WithTx(ctx, func(st Store) error {
		ticket, err := st.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if !ticket.Status.CanTransitionTo(status) {
			return &TransitionError{Subject: "ticket", ID: ticket.ID, From: string(ticket.Status), To: string(status)}
		}
		ticket.Status = status
		ticket.UpdatedAt = s.now()
		if err := st.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		marked = ticket
		return st.AppendAudit(ctx, AuditEntry{
			ID:          uuid.NewString(),
			At:          s.now(),
			Actor:       actor,
			Action:      AuditTicketMarked,
			ApplicantID: ticket.ApplicantID,
			ReferenceID: ticket.ID,
			Detail:      string(status),
		})
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment appends an immutable payment transaction and moves the
// applicant's paid total. Serialized against other mutations of the same
// applicant by the store transaction.
func (s *Service) RecordPayment(ctx context.Context, applicantID string, amount pricing.Money, note, actor string) (*CommitResult, error) {
	if !amount.IsPositive() {
		return nil, errors.New("payment amount must be positive")
	}
	result := &CommitResult{}
	err := s.store.WithTx(ctx, func(st Store) error {
		applicant, err := st.GetApplicant(ctx, applicantID)
		if err != nil {
			return err
		}
		tx := Transaction{
			ID:          uuid.NewString(),
			ApplicantID: applicantID,
			Location:    applicant.FromLocation,
			Type:        TxPayment,
			Amount:      amount,
			Note:        note,
			CreatedAt:   s.now(),
		}
		if err := st.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		applicant.AmountPaid = applicant.AmountPaid.Add(amount)
		applicant.Recalculate()
		if err := applicant.CheckBalanceInvariant(); err != nil {
			return err
		}
		applicant.UpdatedAt = s.now()
		if err := st.UpdateApplicant(ctx, applicant); err != nil {
			return err
		}
		result.Applicant = applicant
		result.TransactionID = tx.ID
		return st.AppendAudit(ctx, AuditEntry{
			ID:          uuid.NewString(),
			At:          s.now(),
			Actor:       actor,
			Action:      AuditPaymentRecorded,
			ApplicantID: applicantID,
			ReferenceID: tx.ID,
			Detail:      amount.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// EXAM LIFECYCLE
// =============================================================================

// ScheduleExam books the first exam slot once services are configured and
// moves the applicant to exam_scheduled. It charges nothing: the exam is
// covered by the registration. Failed or absent applicants book again
// through ScheduleRetake, which applies the retake fee.
func (s *Service) ScheduleExam(ctx context.Context, applicantID string, slot pricing.ExamSlot, actor string) (*Applicant, error) {
	if slot.Date.IsZero() {
		return nil, fmt.Errorf("%w: exam date required", pricing.ErrInvalidInput)
	}
	var updated *Applicant
	err := s.store.WithTx(ctx, func(st Store) error {
		applicant, err := st.GetApplicant(ctx, applicantID)
		if err != nil {
			return err
		}
		if applicant.Status != StatusServicesConfigured {
			return &TransitionError{Subject: "applicant", ID: applicant.ID, From: string(applicant.Status), To: string(StatusExamScheduled)}
		}
		applicant.Status = StatusExamScheduled
		setExamSlot(applicant, slot)
		applicant.UpdatedAt = s.now()
		if err := st.UpdateApplicant(ctx, applicant); err != nil {
			return err
		}
		updated = applicant
		return st.AppendAudit(ctx, AuditEntry{
			ID:          uuid.NewString(),
			At:          s.now(),
			Actor:       actor,
			Action:      AuditExamScheduled,
			ApplicantID: applicantID,
			Detail:      slot.Date.Format("2006-01-02"),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// QuoteExamChange prices moving a scheduled exam to a new slot.
func (s *Service) QuoteExamChange(ctx context.Context, applicantID string, slot pricing.ExamSlot) (*pricing.Quote, error) {
	applicant, err := s.store.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	if applicant.Status != StatusExamScheduled {
		return nil, &TransitionError{Subject: "applicant", ID: applicant.ID, From: string(applicant.Status), To: string(StatusExamScheduled)}
	}
	return pricing.QuoteExamChange(pricing.ExamChangeInput{
		Config:      s.cfg,
		ApplicantID: applicantID,
		Slot:        slot,
		Now:         s.now(),
	})
}

// RescheduleExam commits the slot change with the configured change fee.
func (s *Service) RescheduleExam(ctx context.Context, applicantID string, slot pricing.ExamSlot, actor string) (*CommitResult, error) {
	quote, err := s.QuoteExamChange(ctx, applicantID, slot)
	if err != nil {
		return nil, err
	}
	return s.rec.Commit(ctx, quote, actor)
}

// RecordExamResult moves the applicant along the exam lifecycle:
// attended_exam, passed, failed or absent.
func (s *Service) RecordExamResult(ctx context.Context, applicantID string, result ApplicantStatus, actor string) (*Applicant, error) {
	switch result {
	case StatusAttendedExam, StatusPassed, StatusFailed, StatusAbsent:
	default:
		return nil, ErrInvalidStatusTransition
	}
	return s.transition(ctx, applicantID, result, AuditExamResultRecorded, actor)
}

// UndoExamResult is the admin override PASSED|FAILED → ATTENDED_EXAM.
func (s *Service) UndoExamResult(ctx context.Context, applicantID, actor string) (*Applicant, error) {
	return s.transition(ctx, applicantID, StatusAttendedExam, AuditExamResultUndone, actor)
}

func (s *Service) transition(ctx context.Context, applicantID string, next ApplicantStatus, action AuditAction, actor string) (*Applicant, error) {
	var updated *Applicant
	err := s.store.WithTx(ctx, func(st Store) error {
		applicant, err := st.GetApplicant(ctx, applicantID)
		if err != nil {
			return err
		}
		if err := transitionApplicant(applicant, next); err != nil {
			return err
		}
		applicant.UpdatedAt = s.now()
		if err := st.UpdateApplicant(ctx, applicant); err != nil {
			return err
		}
		updated = applicant
		return st.AppendAudit(ctx, AuditEntry{
			ID:          uuid.NewString(),
			At:          s.now(),
			Actor:       actor,
			Action:      action,
			ApplicantID: applicantID,
			Detail:      string(next),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// VOUCHER GRANTS
// =============================================================================

// GrantVoucher creates a PUBLIC code or PERSONAL voucher with an audit
// entry. COMPENSATION vouchers are minted only by ticket cancellation.
func (s *Service) GrantVoucher(ctx context.Context, v *pricing.Voucher, actor string) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	return s.store.WithTx(ctx, func(st Store) error {
		if err := st.CreateVoucher(ctx, v); err != nil {
			return err
		}
		return st.AppendAudit(ctx, AuditEntry{
			ID:          uuid.NewString(),
			At:          s.now(),
			Actor:       actor,
			Action:      AuditVoucherGranted,
			ApplicantID: v.ApplicantID,
			ReferenceID: v.ID,
			Detail:      string(v.Category),
		})
	})
}

// =============================================================================
// APPLICANT CODE GENERATION
// =============================================================================

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
	codeAttempts = 10
)

// generateCode runs against the store view the caller is writing through,
// so the collision check and the applicant insert see the same state.
func (s *Service) generateCode(ctx context.Context, st Store) (string, error) {
	buf := make([]byte, codeLength)
	for attempt := 0; attempt < codeAttempts; attempt++ {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for i := range buf {
			buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		code := string(buf)
		exists, err := st.ApplicantCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeCollision
}

// departureInstant combines the ticket's departure date and optional
// "15:04" time into one instant for hours-until-departure math.
func departureInstant(t *Ticket) time.Time {
	at := t.DepartureDate
	if t.DepartureTime != "" {
		if parsed, err := time.Parse("15:04", t.DepartureTime); err == nil {
			at = time.Date(at.Year(), at.Month(), at.Day(),
				parsed.Hour(), parsed.Minute(), 0, 0, at.Location())
		}
	}
	return at
}
