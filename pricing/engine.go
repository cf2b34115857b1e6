/*
engine.go - The pure quote operations

PURPOSE:
  Computes a Quote for each commercial operation. The caller (the ledger
  service or an admin workflow) gathers applicant state, the route row,
  candidate vouchers and fee policies, then calls the matching function
  here. Nothing in this file reads or writes storage.

OPERATIONS:
  QuoteRegistration        base price + optional transport, one discount
                           source (promo code or manual), total clamped >= 0
  QuoteRetake              unified registration price, optionally waived by
                           a percent voucher (default 100)
  QuoteExamChange          flat exam change fee for moving a scheduled slot
  QuoteTicketIssuance      route fare minus stacked credit vouchers,
                           payable floored at 0
  QuoteTicketChange        fee (policy resolver) + fare difference against
                           the recomputed original fare
  QuoteTicketCancellation  fee (policy resolver); compensation voucher spec
                           worth max(0, fare - fee)

SEE ALSO:
  - ledger/service.go: Gathers the inputs for these functions
  - ledger/reconciler.go: Applies the resulting Quote atomically
*/
package pricing

import (
	"fmt"
	"time"
)

// =============================================================================
// NEW REGISTRATION
// =============================================================================

type RegistrationInput struct {
	Config      Config
	ApplicantID string

	TripType TripType
	// Route is the (fromLocation, examLocation) row. Required when TripType
	// is not TripNone; From/To carry the requested pair for error reporting.
	Route *Route
	From  string
	To    string

	// At most one discount source is authoritative: a promo code takes
	// precedence over a manual discount when both are supplied.
	PromoCode string
	// Promo is the PUBLIC voucher the caller found for PromoCode, nil when
	// the lookup missed.
	Promo          *Voucher
	ManualDiscount *Money

	// AmountPaid is an optional initial deposit, zero for plain registrations.
	AmountPaid Money

	Now time.Time
}

func QuoteRegistration(in RegistrationInput) (*Quote, error) {
	if !in.TripType.Valid() {
		return nil, fmt.Errorf("%w: trip type %q", ErrInvalidInput, in.TripType)
	}

	transport := ZeroMoney()
	if in.TripType != TripNone {
		if in.Route == nil {
			return nil, &RouteNotFoundError{From: in.From, To: in.To}
		}
		transport = in.Route.Price(in.TripType)
	}
	gross := in.Config.RegistrationPrice.Add(transport)

	discount := ZeroMoney()
	var consume []VoucherConsumption

	switch {
	case in.PromoCode != "":
		if in.Promo == nil {
			return nil, &PromoCodeError{Code: in.PromoCode, Err: ErrInvalidPromoCode}
		}
		if err := in.Promo.ValidatePromo(in.PromoCode, in.Now); err != nil {
			return nil, err
		}
		discount = gross.Percent(in.Promo.DiscountPercent)
		consume = append(consume, VoucherConsumption{
			VoucherID: in.Promo.ID,
			Mode:      ConsumeIncrementUsage,
		})
	case in.ManualDiscount != nil:
		if in.ManualDiscount.IsNegative() {
			return nil, fmt.Errorf("%w: negative manual discount", ErrInvalidInput)
		}
		// Manual discounts are taken verbatim, no cap validation.
		discount = *in.ManualDiscount
	}

	// Never let a discount push the total below zero.
	if discount.GreaterThan(gross) {
		discount = gross
	}

	total := gross.Sub(discount)
	return &Quote{
		Kind:            OpRegistration,
		ApplicantID:     in.ApplicantID,
		BasePrice:       in.Config.RegistrationPrice,
		TransportPrice:  transport,
		Discount:        discount,
		Total:           total,
		AmountPaid:      in.AmountPaid,
		Remaining:       total.Sub(in.AmountPaid),
		BalanceDelta:    total,
		ConsumeVouchers: consume,
	}, nil
}

// =============================================================================
// EXAM RETAKE
// =============================================================================

type RetakeInput struct {
	Config      Config
	ApplicantID string

	// Voucher is the waiver chosen by the caller (or auto-selected as the
	// first eligible one). Nil means the full fee is owed.
	Voucher *Voucher

	Slot ExamSlot
	Now  time.Time
}

// QuoteRetake prices a retake. The fee is the unified registration price;
// the fee is added to the applicant's running balance, not collected here.
// The caller is responsible for checking the applicant is in a retakeable
// state (failed or absent).
func QuoteRetake(in RetakeInput) (*Quote, error) {
	fee := in.Config.RegistrationPrice
	discount := ZeroMoney()
	var consume []VoucherConsumption

	if in.Voucher != nil {
		if err := in.Voucher.ValidateForRetake(in.ApplicantID, in.Now); err != nil {
			return nil, err
		}
		discount = fee.Percent(in.Voucher.EffectivePercent())
		if discount.GreaterThan(fee) {
			discount = fee
		}
		consume = append(consume, VoucherConsumption{
			VoucherID: in.Voucher.ID,
			Mode:      ConsumeMarkUsed,
		})
	}

	total := fee.Sub(discount).FloorZero()
	slot := in.Slot
	return &Quote{
		Kind:            OpRetake,
		ApplicantID:     in.ApplicantID,
		BasePrice:       fee,
		Discount:        discount,
		Total:           total,
		Remaining:       total,
		BalanceDelta:    total,
		ConsumeVouchers: consume,
		ExamSlot:        &slot,
	}, nil
}

// =============================================================================
// EXAM SLOT CHANGE
// =============================================================================

type ExamChangeInput struct {
	Config      Config
	ApplicantID string

	Slot ExamSlot
	Now  time.Time
}

// QuoteExamChange prices moving an already scheduled exam to a new slot.
// The configured change fee joins the running balance; a zero fee makes the
// reschedule free. The caller is responsible for checking the applicant is
// currently scheduled.
func QuoteExamChange(in ExamChangeInput) (*Quote, error) {
	if in.Slot.Date.IsZero() {
		return nil, fmt.Errorf("%w: exam date required", ErrInvalidInput)
	}
	fee := in.Config.ExamChangeFee
	if fee.IsNegative() {
		return nil, fmt.Errorf("%w: negative exam change fee", ErrInvalidInput)
	}

	slot := in.Slot
	return &Quote{
		Kind:         OpExamChange,
		ApplicantID:  in.ApplicantID,
		Fee:          fee,
		Total:        fee,
		Remaining:    fee,
		BalanceDelta: fee,
		ExamSlot:     &slot,
	}, nil
}

// =============================================================================
// TICKET ISSUANCE
// =============================================================================

type TicketIssuanceInput struct {
	ApplicantID string

	TripType      TripType
	Route         *Route
	From          string
	To            string
	DepartureDate time.Time
	DepartureTime string

	// Vouchers are the credit vouchers to stack against the fare. Each is
	// fully consumed on commit regardless of how much of its balance the
	// fare actually needed.
	Vouchers []Voucher

	Now time.Time
}

func QuoteTicketIssuance(in TicketIssuanceInput) (*Quote, error) {
	if in.TripType != TripOneWay && in.TripType != TripRoundTrip {
		return nil, fmt.Errorf("%w: trip type %q", ErrInvalidInput, in.TripType)
	}
	if in.Route == nil {
		return nil, &RouteNotFoundError{From: in.From, To: in.To}
	}
	fare := in.Route.Price(in.TripType)

	credit := ZeroMoney()
	consume := make([]VoucherConsumption, 0, len(in.Vouchers))
	for _, v := range in.Vouchers {
		if err := v.ValidateForTicket(in.ApplicantID, in.Now); err != nil {
			return nil, err
		}
		credit = credit.Add(v.Balance)
		consume = append(consume, VoucherConsumption{
			VoucherID: v.ID,
			Mode:      ConsumeMarkUsed,
		})
	}

	payable := fare.Sub(credit).FloorZero()
	return &Quote{
		Kind:            OpTicketIssuance,
		ApplicantID:     in.ApplicantID,
		Fare:            fare,
		Credit:          credit,
		Total:           payable,
		Remaining:       payable,
		BalanceDelta:    payable,
		ConsumeVouchers: consume,
		IssueTicket: &TicketSpec{
			From:          in.Route.From,
			To:            in.Route.To,
			TripType:      in.TripType,
			DepartureDate: in.DepartureDate,
			DepartureTime: in.DepartureTime,
			FareAtIssue:   fare,
		},
	}, nil
}

// =============================================================================
// TICKET MODIFICATION
// =============================================================================

type TicketChangeInput struct {
	ApplicantID string
	TicketID    string

	// Original booking. OriginalRoute is looked up fresh from the route
	// table, so the "original" fare can drift if prices changed since
	// issuance. That matches the system being replaced; FareAtIssue on the
	// ticket record exists so callers can detect the drift.
	OriginalRoute    *Route
	OriginalTripType TripType
	DepartureAt      time.Time

	// New selection.
	NewRoute       *Route
	NewFrom        string
	NewTo          string
	NewTripType    TripType
	NewDepartureAt time.Time

	Policies []FeePolicy
	Now      time.Time
}

// QuoteTicketChange prices a route/date change. The result's total
// (fee + fare difference) adjusts the running balance; a cheaper new route
// yields a negative difference that reduces the balance, it is never paid
// out.
func QuoteTicketChange(in TicketChangeInput) (*Quote, error) {
	if in.OriginalRoute == nil {
		return nil, &RouteNotFoundError{}
	}
	if in.NewRoute == nil {
		return nil, &RouteNotFoundError{From: in.NewFrom, To: in.NewTo}
	}
	if in.NewTripType != TripOneWay && in.NewTripType != TripRoundTrip {
		return nil, fmt.Errorf("%w: trip type %q", ErrInvalidInput, in.NewTripType)
	}

	originalFare := in.OriginalRoute.Price(in.OriginalTripType)
	newFare := in.NewRoute.Price(in.NewTripType)
	priceDiff := newFare.Sub(originalFare)

	// Hours are measured against the ORIGINAL departure at the moment of
	// the request.
	res := ResolveFee(in.Policies, FeeModification, HoursUntil(in.DepartureAt, in.Now))

	total := res.Fee.Add(priceDiff)
	return &Quote{
		Kind:         OpTicketModification,
		ApplicantID:  in.ApplicantID,
		Fare:         newFare,
		Fee:          res.Fee,
		PriceDiff:    priceDiff,
		Total:        total,
		Remaining:    total,
		BalanceDelta: total,
		PolicyName:   res.PolicyName,
		UpdateTicket: &TicketUpdate{
			TicketID:      in.TicketID,
			From:          in.NewRoute.From,
			To:            in.NewRoute.To,
			TripType:      in.NewTripType,
			DepartureDate: in.NewDepartureAt,
		},
	}, nil
}

// =============================================================================
// TICKET CANCELLATION
// =============================================================================

type TicketCancellationInput struct {
	ApplicantID string
	TicketID    string

	Route       *Route
	TripType    TripType
	DepartureAt time.Time

	Policies []FeePolicy
	Now      time.Time
}

// QuoteTicketCancellation prices a cancellation. The fare minus the
// resolved fee funds a COMPENSATION credit voucher; the balance is never
// refunded in cash.
func QuoteTicketCancellation(in TicketCancellationInput) (*Quote, error) {
	if in.Route == nil {
		return nil, &RouteNotFoundError{}
	}
	fare := in.Route.Price(in.TripType)

	res := ResolveFee(in.Policies, FeeCancellation, HoursUntil(in.DepartureAt, in.Now))
	comp := fare.Sub(res.Fee).FloorZero()

	return &Quote{
		Kind:           OpTicketCancellation,
		ApplicantID:    in.ApplicantID,
		Fare:           fare,
		Fee:            res.Fee,
		Total:          ZeroMoney(),
		BalanceDelta:   ZeroMoney(),
		PolicyName:     res.PolicyName,
		CancelTicketID: in.TicketID,
		Compensation: &CompensationSpec{
			Balance: comp,
			Reason:  "ticket cancellation compensation",
		},
	}, nil
}
