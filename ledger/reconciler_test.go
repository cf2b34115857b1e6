package ledger_test

import (
	"context"
	"sync"
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

var commitNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func seedApplicant(t *testing.T, st *memstore.Memory, status ledger.ApplicantStatus) *ledger.Applicant {
	t.Helper()
	a := &ledger.Applicant{
		ID:           "app-1",
		Code:         "AB2345",
		FullName:     "Test Applicant",
		FromLocation: "Herat",
		TripType:     pricing.TripNone,
		Status:       status,
		CreatedAt:    commitNow,
		UpdatedAt:    commitNow,
	}
	require.NoError(t, st.CreateApplicant(context.Background(), a))
	return a
}

func seedVoucher(t *testing.T, st *memstore.Memory, v *pricing.Voucher) {
	t.Helper()
	require.NoError(t, st.CreateVoucher(context.Background(), v))
}

// =============================================================================
// REGISTRATION COMMIT
// =============================================================================

func TestCommit_Registration_BalanceAndStatus(t *testing.T) {
	// GIVEN: A fresh applicant and a registration quote with a deposit
	// WHEN: Committing
	// THEN: Status moves, totals and invariant hold, a payment transaction
	//       and an audit entry are written

	st := memstore.NewMemory()
	rec := ledger.NewReconciler(st)
	ctx := context.Background()
	seedApplicant(t, st, ledger.StatusNewRegistration)

	quote := &pricing.Quote{
		Kind:         pricing.OpRegistration,
		ApplicantID:  "app-1",
		Total:        pricing.NewMoneyFromInt(16000),
		AmountPaid:   pricing.NewMoneyFromInt(5000),
		BalanceDelta: pricing.NewMoneyFromInt(16000),
	}

	result, err := rec.Commit(ctx, quote, "clerk")
	require.NoError(t, err)

	a := result.Applicant
	assert.Equal(t, ledger.StatusServicesConfigured, a.Status)
	assert.True(t, a.TotalAmount.Equal(pricing.NewMoneyFromInt(16000)))
	assert.True(t, a.AmountPaid.Equal(pricing.NewMoneyFromInt(5000)))
	assert.True(t, a.RemainingBalance.Equal(pricing.NewMoneyFromInt(11000)))
	assert.NoError(t, a.CheckBalanceInvariant())
	assert.NotEmpty(t, result.TransactionID)

	txs, err := st.ListTransactionsByApplicant(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxPayment, txs[0].Type)

	audit, err := st.ListAuditByApplicant(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, ledger.AuditRegistrationCommitted, audit[0].Action)
	assert.Equal(t, "clerk", audit[0].Actor)
}

func TestCommit_Registration_IllegalStatusRollsBack(t *testing.T) {
	// An applicant already past registration cannot be registered again;
	// nothing may change.
	st := memstore.NewMemory()
	rec := ledger.NewReconciler(st)
	ctx := context.Background()
	seedApplicant(t, st, ledger.StatusExamScheduled)

	quote := &pricing.Quote{
		Kind:         pricing.OpRegistration,
		ApplicantID:  "app-1",
		Total:        pricing.NewMoneyFromInt(16000),
		BalanceDelta: pricing.NewMoneyFromInt(16000),
	}

	_, err := rec.Commit(ctx, quote, "clerk")
	assert.ErrorIs(t, err, ledger.ErrInvalidStatusTransition)

	a, err := st.GetApplicant(ctx, "app-1")
	require.NoError(t, err)
	assert.True(t, a.TotalAmount.IsZero(), "failed commit must not touch the balance")
	assert.Equal(t, ledger.StatusExamScheduled, a.Status)
}

// =============================================================================
// VOUCHER CONSUMPTION GUARDS
// =============================================================================

func TestCommit_SingleUseVoucher_SecondCommitFails(t *testing.T) {
	// GIVEN: Two retake quotes built from the same voucher snapshot
	// WHEN: Committing both
	// THEN: The first wins; the second gets the retryable conflict error
	//       and leaves all state from the first commit intact

	st := memstore.NewMemory()
	rec := ledger.NewReconciler(st)
	ctx := context.Background()
	seedApplicant(t, st, ledger.StatusFailed)
	seedVoucher(t, st, &pricing.Voucher{
		ID:          "v1",
		Category:    pricing.VoucherPersonal,
		Kind:        pricing.KindDiscount,
		Scope:       pricing.ScopeExam,
		ApplicantID: "app-1",
	})

	quote := &pricing.Quote{
		Kind:        pricing.OpRetake,
		ApplicantID: "app-1",
		ConsumeVouchers: []pricing.VoucherConsumption{
			{VoucherID: "v1", Mode: pricing.ConsumeMarkUsed},
		},
		ExamSlot: &pricing.ExamSlot{Date: commitNow.AddDate(0, 1, 0), Location: "Kabul"},
	}

	_, err := rec.Commit(ctx, quote, "clerk")
	require.NoError(t, err)

	_, err = rec.Commit(ctx, quote, "clerk")
	assert.ErrorIs(t, err, ledger.ErrConcurrentVoucherRedemption)
	assert.True(t, ledger.IsRetryable(err))

	// First commit's effects survive the failed second commit.
	v, err := st.GetVoucher(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, v.IsUsed)
	assert.Equal(t, 1, v.UsageCount)

	a, err := st.GetApplicant(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExamScheduled, a.Status)
	require.NotNil(t, a.ExamDate)
}

func TestCommit_StaleVersion_ConflictDetected(t *testing.T) {
	st := memstore.NewMemory()
	ctx := context.Background()
	seedVoucher(t, st, &pricing.Voucher{
		ID:       "v1",
		Category: pricing.VoucherPublic,
		Kind:     pricing.KindDiscount,
		Code:     "SPRING",
		MaxUses:  10,
		Version:  3,
	})

	err := st.ConsumeVoucher(ctx, "v1", 2, false)
	assert.ErrorIs(t, err, ledger.ErrConcurrentVoucherRedemption)

	// Correct version goes through.
	require.NoError(t, st.ConsumeVoucher(ctx, "v1", 3, false))
	v, err := st.GetVoucher(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.UsageCount)
	assert.Equal(t, 4, v.Version)
}

func TestCommit_CappedPromo_NeverOverRedeemed(t *testing.T) {
	// GIVEN: A PUBLIC promo capped at 3 uses and 8 goroutines racing
	//        registrations built from the same initial snapshot
	// WHEN: All commits run concurrently
	// THEN: Exactly 3 succeed and the usage count equals the cap

	st := memstore.NewMemory()
	rec := ledger.NewReconciler(st)
	ctx := context.Background()
	seedVoucher(t, st, &pricing.Voucher{
		ID:              "promo",
		Category:        pricing.VoucherPublic,
		Kind:            pricing.KindDiscount,
		Code:            "CAP3",
		DiscountPercent: decimal.NewFromInt(10),
		MaxUses:         3,
	})

	const racers = 8
	for i := 0; i < racers; i++ {
		a := &ledger.Applicant{
			ID:     string(rune('a'+i)) + "-app",
			Code:   "CODE" + string(rune('A'+i)) + "1",
			Status: ledger.StatusNewRegistration,
		}
		require.NoError(t, st.CreateApplicant(ctx, a))
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			quote := &pricing.Quote{
				Kind:         pricing.OpRegistration,
				ApplicantID:  string(rune('a'+i)) + "-app",
				Total:        pricing.NewMoneyFromInt(14400),
				BalanceDelta: pricing.NewMoneyFromInt(14400),
				ConsumeVouchers: []pricing.VoucherConsumption{
					{VoucherID: "promo", Mode: pricing.ConsumeIncrementUsage},
				},
			}
			_, errs[i] = rec.Commit(ctx, quote, "clerk")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrConcurrentVoucherRedemption)
		}
	}
	assert.Equal(t, 3, succeeded)

	v, err := st.GetVoucher(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, 3, v.UsageCount)
	assert.False(t, v.IsUsed, "increment-usage consumption never sets the used flag")
}

// =============================================================================
// TICKET COMMITS
// =============================================================================

func TestCommit_TicketIssuance(t *testing.T) {
	st := memstore.NewMemory()
	rec := ledger.NewReconciler(st)
	ctx := context.Background()
	seedApplicant(t, st, ledger.StatusExamScheduled)

	departure := commitNow.AddDate(0, 0, 7)
	quote := &pricing.Quote{
		Kind:         pricing.OpTicketIssuance,
		ApplicantID:  "app-1",
		Fare:         pricing.NewMoneyFromInt(30000),
		Total:        pricing.NewMoneyFromInt(30000),
		BalanceDelta: pricing.NewMoneyFromInt(30000),
		IssueTicket: &pricing.TicketSpec{
			From:          "Herat",
			To:            "Kabul",
			TripType:      pricing.TripOneWay,
			DepartureDate: departure,
			FareAtIssue:   pricing.NewMoneyFromInt(30000),
		},
	}

	result, err := rec.Commit(ctx, quote, "clerk")
	require.NoError(t, err)
	require.NotEmpty(t, result.TicketID)

	ticket, err := st.GetTicket(ctx, result.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TicketIssued, ticket.Status)
	assert.True(t, ticket.FareAtIssue.Equal(pricing.NewMoneyFromInt(30000)))

	a, err := st.GetApplicant(ctx, "app-1")
	require.NoError(t, err)
	assert.True(t, a.TotalAmount.Equal(pricing.NewMoneyFromInt(30000)))
	// Ticket issuance does not move the applicant's exam lifecycle.
	assert.Equal(t, ledger.StatusExamScheduled, a.Status)
}

func TestCommit_TicketCancellation_MintsCompensation(t *testing.T) {
	// GIVEN: An issued ticket and a cancellation quote with compensation
	// WHEN: Committing
	// THEN: The ticket is cancelled and a single-use COMPENSATION credit
	//       voucher appears with the quoted balance

	st := memstore.NewMemory()
	rec := ledger.NewReconciler(st)
	ctx := context.Background()
	seedApplicant(t, st, ledger.StatusExamScheduled)
	require.NoError(t, st.CreateTicket(ctx, &ledger.Ticket{
		ID:          "t1",
		ApplicantID: "app-1",
		From:        "Herat",
		To:          "Kabul",
		TripType:    pricing.TripOneWay,
		Status:      ledger.TicketIssued,
	}))

	quote := &pricing.Quote{
		Kind:           pricing.OpTicketCancellation,
		ApplicantID:    "app-1",
		Fare:           pricing.NewMoneyFromInt(30000),
		Fee:            pricing.NewMoneyFromInt(5000),
		CancelTicketID: "t1",
		Compensation: &pricing.CompensationSpec{
			Balance: pricing.NewMoneyFromInt(25000),
		},
	}

	result, err := rec.Commit(ctx, quote, "clerk")
	require.NoError(t, err)
	require.NotEmpty(t, result.CompensationVoucherID)

	ticket, err := st.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TicketCancelled, ticket.Status)

	v, err := st.GetVoucher(ctx, result.CompensationVoucherID)
	require.NoError(t, err)
	assert.Equal(t, pricing.VoucherCompensation, v.Category)
	assert.Equal(t, pricing.KindCredit, v.Kind)
	assert.True(t, v.Balance.Equal(pricing.NewMoneyFromInt(25000)))
	assert.Equal(t, 1, v.MaxUses)
	assert.Equal(t, "app-1", v.ApplicantID)

	// Cancellation never changes the money owed.
	a, err := st.GetApplicant(ctx, "app-1")
	require.NoError(t, err)
	assert.True(t, a.TotalAmount.IsZero())
}

func TestCommit_CancellingTerminalTicketRejected(t *testing.T) {
	st := memstore.NewMemory()
	rec := ledger.NewReconciler(st)
	ctx := context.Background()
	seedApplicant(t, st, ledger.StatusExamScheduled)
	require.NoError(t, st.CreateTicket(ctx, &ledger.Ticket{
		ID:          "t1",
		ApplicantID: "app-1",
		Status:      ledger.TicketUsed,
	}))

	quote := &pricing.Quote{
		Kind:           pricing.OpTicketCancellation,
		ApplicantID:    "app-1",
		CancelTicketID: "t1",
	}

	_, err := rec.Commit(ctx, quote, "clerk")
	assert.ErrorIs(t, err, ledger.ErrInvalidTicketTransition)
}

func TestCommit_ModificationRewritesRoute(t *testing.T) {
	st := memstore.NewMemory()
	rec := ledger.NewReconciler(st)
	ctx := context.Background()
	seedApplicant(t, st, ledger.StatusExamScheduled)
	require.NoError(t, st.CreateTicket(ctx, &ledger.Ticket{
		ID:          "t1",
		ApplicantID: "app-1",
		From:        "Herat",
		To:          "Kabul",
		TripType:    pricing.TripOneWay,
		Status:      ledger.TicketIssued,
	}))

	newDeparture := commitNow.AddDate(0, 0, 14)
	quote := &pricing.Quote{
		Kind:         pricing.OpTicketModification,
		ApplicantID:  "app-1",
		Fee:          pricing.NewMoneyFromInt(1000),
		PriceDiff:    pricing.NewMoneyFromInt(25000),
		Total:        pricing.NewMoneyFromInt(26000),
		BalanceDelta: pricing.NewMoneyFromInt(26000),
		UpdateTicket: &pricing.TicketUpdate{
			TicketID:      "t1",
			From:          "Herat",
			To:            "Kabul",
			TripType:      pricing.TripRoundTrip,
			DepartureDate: newDeparture,
		},
	}

	_, err := rec.Commit(ctx, quote, "clerk")
	require.NoError(t, err)

	ticket, err := st.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, pricing.TripRoundTrip, ticket.TripType)
	assert.True(t, ticket.DepartureDate.Equal(newDeparture))
	assert.Equal(t, ledger.TicketIssued, ticket.Status)

	a, err := st.GetApplicant(ctx, "app-1")
	require.NoError(t, err)
	assert.True(t, a.TotalAmount.Equal(pricing.NewMoneyFromInt(26000)))
}
