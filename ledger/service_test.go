package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karvan/pricing-engine/ledger"
	memstore "github.com/karvan/pricing-engine/ledger/store"
	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*ledger.Service, *memstore.Memory) {
	t.Helper()
	st := memstore.NewMemory()
	svc := ledger.NewService(st, pricing.Config{
		RegistrationPrice: pricing.NewMoneyFromInt(16000),
		ExamChangeFee:     pricing.NewMoneyFromInt(1000),
	})
	return svc, st
}

func seedRoute(t *testing.T, st *memstore.Memory) {
	t.Helper()
	require.NoError(t, st.CreateRoute(context.Background(), &pricing.Route{
		ID:             "r1",
		From:           "Herat",
		To:             "Kabul",
		OneWayPrice:    pricing.NewMoneyFromInt(30000),
		RoundTripPrice: pricing.NewMoneyFromInt(55000),
	}))
}

func seedCancellationPolicy(t *testing.T, st *memstore.Memory, fee int64) {
	t.Helper()
	h6 := 6.0
	require.NoError(t, st.CreateFeePolicy(context.Background(), &pricing.FeePolicy{
		ID: "c1", Name: "late-cancel", Category: pricing.FeeCancellation,
		HoursTrigger: &h6, Condition: pricing.CondLessThan,
		Fee: pricing.NewMoneyFromInt(fee),
	}))
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestService_Register_EndToEnd(t *testing.T) {
	// GIVEN: A route table and a fresh registration with round-trip transport
	// WHEN: Registering
	// THEN: The applicant exists with a unique code, configured services and
	//       the correct running balance

	svc, st := newTestService(t)
	ctx := context.Background()
	seedRoute(t, st)

	result, err := svc.Register(ctx, ledger.RegisterRequest{
		FullName:     "Ahmad Rahimi",
		Phone:        "0700000000",
		FromLocation: "Herat",
		ExamLocation: "Kabul",
		TripType:     pricing.TripRoundTrip,
	}, "clerk")
	require.NoError(t, err)

	a := result.Applicant
	assert.Len(t, a.Code, 6)
	assert.Equal(t, ledger.StatusServicesConfigured, a.Status)
	assert.True(t, a.TotalAmount.Equal(pricing.NewMoneyFromInt(71000)))
	assert.True(t, a.RemainingBalance.Equal(pricing.NewMoneyFromInt(71000)))
}

func TestService_Register_UniqueCodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	r1, err := svc.Register(ctx, ledger.RegisterRequest{FullName: "One", TripType: pricing.TripNone}, "clerk")
	require.NoError(t, err)
	r2, err := svc.Register(ctx, ledger.RegisterRequest{FullName: "Two", TripType: pricing.TripNone}, "clerk")
	require.NoError(t, err)

	assert.NotEqual(t, r1.Applicant.Code, r2.Applicant.Code)
}

func TestService_Register_WithPromoFromStore(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	require.NoError(t, st.CreateVoucher(ctx, &pricing.Voucher{
		ID:              "promo",
		Code:            "WELCOME",
		Category:        pricing.VoucherPublic,
		Kind:            pricing.KindDiscount,
		DiscountPercent: decimal.NewFromInt(25),
		MaxUses:         10,
	}))

	result, err := svc.Register(ctx, ledger.RegisterRequest{
		FullName:  "Promo User",
		TripType:  pricing.TripNone,
		PromoCode: "WELCOME",
	}, "clerk")
	require.NoError(t, err)

	// 25% off 16000.
	assert.True(t, result.Applicant.TotalAmount.Equal(pricing.NewMoneyFromInt(12000)))

	v, err := st.GetVoucher(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, 1, v.UsageCount)
}

func TestService_Register_UnknownPromoFailsBeforeCommit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.QuoteRegistration(ctx, ledger.RegisterRequest{
		FullName:  "Promo User",
		TripType:  pricing.TripNone,
		PromoCode: "NOPE",
	})

	assert.ErrorIs(t, err, pricing.ErrInvalidPromoCode)

	applicants, err := st.ListApplicants(ctx)
	require.NoError(t, err)
	assert.Empty(t, applicants)
}

func TestService_Register_FailureLeavesNoApplicant(t *testing.T) {
	// GIVEN: An empty promo table and an empty route table
	// WHEN: Registrations fail at pricing
	// THEN: No applicant row survives either failure

	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, ledger.RegisterRequest{
		FullName:  "Hopeful",
		TripType:  pricing.TripNone,
		PromoCode: "NOPE",
	}, "clerk")
	assert.ErrorIs(t, err, pricing.ErrInvalidPromoCode)

	_, err = svc.Register(ctx, ledger.RegisterRequest{
		FullName:     "Stranded",
		TripType:     pricing.TripOneWay,
		FromLocation: "Herat",
		ExamLocation: "Nowhere",
	}, "clerk")
	assert.ErrorIs(t, err, pricing.ErrRouteNotFound)

	applicants, err := st.ListApplicants(ctx)
	require.NoError(t, err)
	assert.Empty(t, applicants, "a failed registration must not retain partial state")
}

func TestService_Register_TransportWithoutRouteRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.QuoteRegistration(context.Background(), ledger.RegisterRequest{
		FullName:     "No Route",
		TripType:     pricing.TripOneWay,
		FromLocation: "Herat",
		ExamLocation: "Nowhere",
	})

	var rnf *pricing.RouteNotFoundError
	assert.ErrorAs(t, err, &rnf)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestService_RecordPayment(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, ledger.RegisterRequest{FullName: "Payer", TripType: pricing.TripNone}, "clerk")
	require.NoError(t, err)
	id := reg.Applicant.ID

	result, err := svc.RecordPayment(ctx, id, pricing.NewMoneyFromInt(6000), "first installment", "clerk")
	require.NoError(t, err)

	assert.True(t, result.Applicant.AmountPaid.Equal(pricing.NewMoneyFromInt(6000)))
	assert.True(t, result.Applicant.RemainingBalance.Equal(pricing.NewMoneyFromInt(10000)))

	txs, err := st.ListTransactionsByApplicant(ctx, id)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "first installment", txs[0].Note)
}

func TestService_RecordPayment_RejectsNonPositive(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecordPayment(context.Background(), "whoever", pricing.ZeroMoney(), "", "clerk")
	assert.Error(t, err)

	_, err = svc.RecordPayment(context.Background(), "whoever", pricing.NewMoneyFromInt(-5), "", "clerk")
	assert.Error(t, err)
}

// =============================================================================
// EXAM LIFECYCLE AND RETAKE
// =============================================================================

// walk moves an applicant through the given statuses via the service.
func walk(t *testing.T, svc *ledger.Service, id string, statuses ...ledger.ApplicantStatus) {
	t.Helper()
	ctx := context.Background()
	for _, s := range statuses {
		_, err := svc.RecordExamResult(ctx, id, s, "clerk")
		require.NoError(t, err)
	}
}

func registerAndSchedule(t *testing.T, svc *ledger.Service) string {
	t.Helper()
	ctx := context.Background()
	reg, err := svc.Register(ctx, ledger.RegisterRequest{FullName: "Candidate", TripType: pricing.TripNone}, "clerk")
	require.NoError(t, err)

	_, err = svc.ScheduleExam(ctx, reg.Applicant.ID,
		pricing.ExamSlot{Date: time.Now().AddDate(0, 1, 0), Time: "09:00", Location: "Kabul"}, "clerk")
	require.NoError(t, err)
	return reg.Applicant.ID
}

func TestService_ScheduleExam(t *testing.T) {
	// GIVEN: A freshly registered applicant
	// WHEN: Booking the first exam slot
	// THEN: Status and slot fields move, the balance does not

	svc, st := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, ledger.RegisterRequest{FullName: "Candidate", TripType: pricing.TripNone}, "clerk")
	require.NoError(t, err)

	examDate := time.Now().AddDate(0, 1, 0)
	a, err := svc.ScheduleExam(ctx, reg.Applicant.ID, pricing.ExamSlot{Date: examDate, Time: "09:00", Location: "Kabul"}, "clerk")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusExamScheduled, a.Status)
	require.NotNil(t, a.ExamDate)
	assert.Equal(t, "Kabul", a.ExamLocation)
	assert.True(t, a.TotalAmount.Equal(pricing.NewMoneyFromInt(16000)))

	entries, err := st.ListAuditByApplicant(ctx, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, ledger.AuditExamScheduled, entries[len(entries)-1].Action)
}

func TestService_ScheduleExam_FailedApplicantMustRetake(t *testing.T) {
	// A failed applicant books again through ScheduleRetake, which charges
	// the fee; the free first-time scheduling is rejected.
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := registerAndSchedule(t, svc)
	walk(t, svc, id, ledger.StatusAttendedExam, ledger.StatusFailed)

	_, err := svc.ScheduleExam(ctx, id, pricing.ExamSlot{Date: time.Now().AddDate(0, 1, 0)}, "clerk")
	assert.ErrorIs(t, err, ledger.ErrInvalidStatusTransition)
}

func TestService_RescheduleExam_ChargesChangeFee(t *testing.T) {
	// GIVEN: A scheduled applicant and a 1000 exam change fee
	// WHEN: Moving the slot
	// THEN: The slot is rewritten and the fee joins the running balance

	svc, st := newTestService(t)
	ctx := context.Background()
	id := registerAndSchedule(t, svc)

	newDate := time.Now().AddDate(0, 2, 0)
	result, err := svc.RescheduleExam(ctx, id, pricing.ExamSlot{Date: newDate, Time: "14:00", Location: "Mazar"}, "clerk")
	require.NoError(t, err)

	a := result.Applicant
	assert.Equal(t, ledger.StatusExamScheduled, a.Status)
	assert.Equal(t, "Mazar", a.ExamLocation)
	// 16000 registration + 1000 change fee.
	assert.True(t, a.TotalAmount.Equal(pricing.NewMoneyFromInt(17000)))
	assert.True(t, a.RemainingBalance.Equal(pricing.NewMoneyFromInt(17000)))

	stored, err := st.GetApplicant(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.ExamDate)
	assert.Equal(t, newDate.Format("2006-01-02"), stored.ExamDate.Format("2006-01-02"))
}

func TestService_RescheduleExam_RequiresScheduledStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, ledger.RegisterRequest{FullName: "Early Bird", TripType: pricing.TripNone}, "clerk")
	require.NoError(t, err)

	_, err = svc.RescheduleExam(ctx, reg.Applicant.ID, pricing.ExamSlot{Date: time.Now().AddDate(0, 1, 0)}, "clerk")
	assert.ErrorIs(t, err, ledger.ErrInvalidStatusTransition)
}

func TestService_ExamLifecycle(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	id := registerAndSchedule(t, svc)

	walk(t, svc, id, ledger.StatusAttendedExam, ledger.StatusPassed)

	a, err := st.GetApplicant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPassed, a.Status)

	// Admin override back to attended, then record failed.
	_, err = svc.UndoExamResult(ctx, id, "admin")
	require.NoError(t, err)
	walk(t, svc, id, ledger.StatusFailed)
}

func TestService_ExamResult_IllegalMoveRejected(t *testing.T) {
	svc, _ := newTestService(t)
	id := registerAndSchedule(t, svc)

	// exam_scheduled -> passed skips attendance.
	_, err := svc.RecordExamResult(context.Background(), id, ledger.StatusPassed, "clerk")
	assert.ErrorIs(t, err, ledger.ErrInvalidStatusTransition)
}

func TestService_Retake_RequiresFailedOrAbsent(t *testing.T) {
	svc, _ := newTestService(t)
	id := registerAndSchedule(t, svc)

	_, err := svc.QuoteRetake(context.Background(), id, "", pricing.ExamSlot{Date: time.Now().AddDate(0, 1, 0)})
	assert.ErrorIs(t, err, ledger.ErrRetakeNotAllowed)
}

func TestService_Retake_AutoSelectsEligibleVoucher(t *testing.T) {
	// GIVEN: A failed applicant holding one used and one active waiver
	// WHEN: Scheduling a retake without naming a voucher
	// THEN: The active waiver is consumed and the fee fully waived

	svc, st := newTestService(t)
	ctx := context.Background()
	id := registerAndSchedule(t, svc)
	walk(t, svc, id, ledger.StatusAttendedExam, ledger.StatusFailed)

	require.NoError(t, st.CreateVoucher(ctx, &pricing.Voucher{
		ID: "used", Category: pricing.VoucherPersonal, Kind: pricing.KindDiscount,
		Scope: pricing.ScopeExam, ApplicantID: id, IsUsed: true,
		CreatedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, st.CreateVoucher(ctx, &pricing.Voucher{
		ID: "active", Category: pricing.VoucherPersonal, Kind: pricing.KindDiscount,
		Scope: pricing.ScopeExam, ApplicantID: id,
		CreatedAt: time.Now(),
	}))

	examDate := time.Now().AddDate(0, 1, 0)
	result, err := svc.ScheduleRetake(ctx, id, "", pricing.ExamSlot{Date: examDate, Time: "09:00", Location: "Kabul"}, "clerk")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusExamScheduled, result.Applicant.Status)
	assert.Equal(t, "Kabul", result.Applicant.ExamLocation)
	// Fully waived: the balance did not grow.
	assert.True(t, result.Applicant.TotalAmount.Equal(pricing.NewMoneyFromInt(16000)))

	v, err := st.GetVoucher(ctx, "active")
	require.NoError(t, err)
	assert.True(t, v.IsUsed)
}

func TestService_Retake_OtherApplicantsVoucherRejected(t *testing.T) {
	// GIVEN: A failed applicant and a waiver granted to someone else
	// WHEN: Scheduling a retake naming that voucher by ID
	// THEN: The retake is rejected and the voucher stays unused

	svc, st := newTestService(t)
	ctx := context.Background()
	id := registerAndSchedule(t, svc)
	walk(t, svc, id, ledger.StatusAttendedExam, ledger.StatusFailed)

	require.NoError(t, st.CreateVoucher(ctx, &pricing.Voucher{
		ID: "foreign", Category: pricing.VoucherPersonal, Kind: pricing.KindDiscount,
		Scope: pricing.ScopeExam, ApplicantID: "someone-else",
		CreatedAt: time.Now(),
	}))

	_, err := svc.ScheduleRetake(ctx, id, "foreign", pricing.ExamSlot{Date: time.Now().AddDate(0, 1, 0)}, "clerk")
	assert.ErrorIs(t, err, pricing.ErrVoucherNotApplicable)

	v, err := st.GetVoucher(ctx, "foreign")
	require.NoError(t, err)
	assert.False(t, v.IsUsed)

	a, err := st.GetApplicant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, a.Status)
}

func TestService_Retake_WithoutVoucherChargesFullFee(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := registerAndSchedule(t, svc)
	walk(t, svc, id, ledger.StatusAttendedExam, ledger.StatusFailed)

	result, err := svc.ScheduleRetake(ctx, id, "", pricing.ExamSlot{Date: time.Now().AddDate(0, 1, 0)}, "clerk")
	require.NoError(t, err)

	// 16000 registration + 16000 retake fee.
	assert.True(t, result.Applicant.TotalAmount.Equal(pricing.NewMoneyFromInt(32000)))
}

// =============================================================================
// TICKETS
// =============================================================================

func TestService_IssueChangeCancelTicket(t *testing.T) {
	// Full ticket journey: issue, modify to round trip, cancel, and spend
	// the compensation voucher on the next ticket.

	svc, st := newTestService(t)
	ctx := context.Background()
	seedRoute(t, st)
	seedCancellationPolicy(t, st, 5000)

	reg, err := svc.Register(ctx, ledger.RegisterRequest{FullName: "Traveler", TripType: pricing.TripNone}, "clerk")
	require.NoError(t, err)
	id := reg.Applicant.ID

	sel := ledger.RouteSelection{
		From: "Herat", To: "Kabul",
		TripType:      pricing.TripOneWay,
		DepartureDate: time.Now().Add(2 * time.Hour).Truncate(time.Hour),
	}
	issued, err := svc.IssueTicket(ctx, id, sel, nil, "clerk")
	require.NoError(t, err)
	require.NotEmpty(t, issued.TicketID)
	// 16000 registration + 30000 fare.
	assert.True(t, issued.Applicant.TotalAmount.Equal(pricing.NewMoneyFromInt(46000)))

	// Upgrade to round trip: +25000 plus no modification policy fee.
	newSel := sel
	newSel.TripType = pricing.TripRoundTrip
	changed, err := svc.ChangeTicket(ctx, issued.TicketID, &newSel, "clerk")
	require.NoError(t, err)
	assert.True(t, changed.Applicant.TotalAmount.Equal(pricing.NewMoneyFromInt(71000)))

	// Cancel inside the late window: 55000 fare - 5000 fee compensation.
	cancelled, err := svc.ChangeTicket(ctx, issued.TicketID, nil, "clerk")
	require.NoError(t, err)
	require.NotEmpty(t, cancelled.CompensationVoucherID)

	comp, err := st.GetVoucher(ctx, cancelled.CompensationVoucherID)
	require.NoError(t, err)
	assert.True(t, comp.Balance.Equal(pricing.NewMoneyFromInt(50000)))

	// Balance untouched by cancellation.
	assert.True(t, cancelled.Applicant.TotalAmount.Equal(pricing.NewMoneyFromInt(71000)))

	// Spend the compensation on a fresh one-way ticket: fare fully covered.
	reissued, err := svc.IssueTicket(ctx, id, sel, []string{comp.ID}, "clerk")
	require.NoError(t, err)
	assert.True(t, reissued.Applicant.TotalAmount.Equal(pricing.NewMoneyFromInt(71000)),
		"50000 credit against a 30000 fare covers it fully, excess forfeited")

	spent, err := st.GetVoucher(ctx, comp.ID)
	require.NoError(t, err)
	assert.True(t, spent.IsUsed)
}

func TestService_MarkTicket(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedRoute(t, st)

	reg, err := svc.Register(ctx, ledger.RegisterRequest{FullName: "Rider", TripType: pricing.TripNone}, "clerk")
	require.NoError(t, err)

	sel := ledger.RouteSelection{
		From: "Herat", To: "Kabul",
		TripType:      pricing.TripOneWay,
		DepartureDate: time.Now().AddDate(0, 0, 3),
	}
	issued, err := svc.IssueTicket(ctx, reg.Applicant.ID, sel, nil, "clerk")
	require.NoError(t, err)

	ticket, err := svc.MarkTicket(ctx, issued.TicketID, ledger.TicketUsed, "clerk")
	require.NoError(t, err)
	assert.Equal(t, ledger.TicketUsed, ticket.Status)

	// Terminal: no further moves.
	_, err = svc.MarkTicket(ctx, issued.TicketID, ledger.TicketNoShow, "clerk")
	assert.ErrorIs(t, err, ledger.ErrInvalidTicketTransition)

	_, err = svc.ChangeTicket(ctx, issued.TicketID, nil, "clerk")
	assert.ErrorIs(t, err, ledger.ErrInvalidTicketTransition)
}

// =============================================================================
// VOUCHER GRANTS
// =============================================================================

func TestService_GrantVoucher_AssignsIDAndAudits(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	v := &pricing.Voucher{
		Code:     "SUMMER",
		Category: pricing.VoucherPublic,
		Kind:     pricing.KindDiscount,
		MaxUses:  50,
	}
	require.NoError(t, svc.GrantVoucher(ctx, v, "admin"))
	assert.NotEmpty(t, v.ID)

	found, err := st.FindPromoByCode(ctx, "SUMMER")
	require.NoError(t, err)
	assert.Equal(t, v.ID, found.ID)
}
