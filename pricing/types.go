/*
Package pricing provides the pure quote computation engine.

PURPOSE:
  This package contains side-effect-free types and algorithms for pricing
  the four commercial operations of the agency: applicant registration,
  exam retake scheduling, ticket issuance, and ticket modification or
  cancellation. Given a service request and the reference data gathered by
  the caller (route prices, candidate vouchers, fee policies), it produces
  a Quote describing every amount and every state change the commit must
  apply. It never touches storage.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount backed by decimal.Decimal
  - TripType: none / one-way / round-trip transport selection
  - Route: A priced edge between two locations (read-only reference data)
  - Config: The pricing configuration snapshot passed per request
  - Quote: The full output of a pricing computation, including the
    commit effects (vouchers to consume, tickets to create or update)

DESIGN PRINCIPLES:
  1. Purity: every function here is deterministic in its inputs
  2. Precision: decimal.Decimal for all money, no floats in amounts
  3. Explicit config: no ambient globals - Config travels with the request
  4. Effects as data: a Quote carries instructions, the ledger applies them

SEE ALSO:
  - engine.go: The four quote operations
  - policy.go: Cancellation/modification fee resolution
  - voucher.go: Voucher variants and redemption validation
  - errors.go: Error taxonomy
*/
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount with decimal precision
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func ZeroMoney() Money {
	return Money{Value: decimal.Zero}
}

// MustParseMoney parses a decimal string, returning zero on failure.
// Intended for configuration defaults and storage round-trips where the
// value was written by this code.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney()
	}
	return Money{Value: d}
}

func (m Money) Add(o Money) Money          { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money          { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool         { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool   { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool      { return m.Value.LessThan(o.Value) }
func (m Money) String() string             { return m.Value.String() }

// FloorZero clamps negative amounts to zero. Used wherever an operation
// forbids a negative total (discount exceeding gross, voucher credit
// exceeding fare).
func (m Money) FloorZero() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

// Percent applies p% to the amount: m * p / 100.
func (m Money) Percent(p decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(p).Div(decimal.NewFromInt(100))}
}

// =============================================================================
// TRIP TYPE - Transport selection
// =============================================================================

type TripType string

const (
	TripNone      TripType = "none"
	TripOneWay    TripType = "one_way"
	TripRoundTrip TripType = "round_trip"
)

func (t TripType) Valid() bool {
	switch t {
	case TripNone, TripOneWay, TripRoundTrip:
		return true
	}
	return false
}

// =============================================================================
// ROUTE - Priced edge between two locations (reference data, never mutated)
// =============================================================================

type Route struct {
	ID             string
	From           string
	To             string
	OneWayPrice    Money
	RoundTripPrice Money

	// Optional scheduled times in "15:04" form. Informational only.
	DepartureTime string
	ArrivalTime   string
}

// Price returns the fare for the given trip type. TripNone is free.
func (r Route) Price(t TripType) Money {
	switch t {
	case TripOneWay:
		return r.OneWayPrice
	case TripRoundTrip:
		return r.RoundTripPrice
	default:
		return ZeroMoney()
	}
}

// =============================================================================
// CONFIG - Per-request pricing configuration snapshot
// =============================================================================

// Config is passed explicitly with every quote request. The unified
// registration price doubles as the exam retake fee; there is no separate
// retake fee field.
type Config struct {
	RegistrationPrice Money
	ExamChangeFee     Money
}

// =============================================================================
// OPERATION KINDS
// =============================================================================

type OperationKind string

const (
	OpRegistration       OperationKind = "registration"
	OpRetake             OperationKind = "exam_retake"
	OpExamChange         OperationKind = "exam_change"
	OpTicketIssuance     OperationKind = "ticket_issuance"
	OpTicketModification OperationKind = "ticket_modification"
	OpTicketCancellation OperationKind = "ticket_cancellation"
)

// =============================================================================
// QUOTE - Output of a pricing computation, input to the ledger commit
// =============================================================================

// ConsumeMode says how a voucher is consumed at commit time.
type ConsumeMode string

const (
	// ConsumeIncrementUsage bumps usageCount (PUBLIC promo codes with caps).
	ConsumeIncrementUsage ConsumeMode = "increment_usage"
	// ConsumeMarkUsed flags the voucher used (single-use PERSONAL and
	// COMPENSATION vouchers). Full consumption: no partial balance survives.
	ConsumeMarkUsed ConsumeMode = "mark_used"
)

type VoucherConsumption struct {
	VoucherID string
	Mode      ConsumeMode
}

// TicketSpec describes a ticket the commit must create.
type TicketSpec struct {
	From          string
	To            string
	TripType      TripType
	DepartureDate time.Time
	DepartureTime string
	FareAtIssue   Money
}

// TicketUpdate describes the route/date rewrite of a modified ticket.
type TicketUpdate struct {
	TicketID      string
	From          string
	To            string
	TripType      TripType
	DepartureDate time.Time
}

// CompensationSpec describes the credit voucher issued on cancellation.
type CompensationSpec struct {
	Balance Money
	Reason  string
}

// ExamSlot is the schedule written on retake commit.
type ExamSlot struct {
	Date     time.Time
	Time     string
	Location string
}

// Quote is the complete result of one pricing operation. Amount fields not
// relevant to the operation kind are zero. The ledger applies BalanceDelta
// to the applicant's totals and executes the attached effects atomically.
type Quote struct {
	Kind        OperationKind
	ApplicantID string

	BasePrice      Money
	TransportPrice Money
	Fare           Money
	Discount       Money
	Credit         Money
	Fee            Money
	PriceDiff      Money

	// Total is the amount this operation charges (never negative except for
	// ticket modifications, where a cheaper route yields a negative total
	// that reduces the running balance).
	Total      Money
	AmountPaid Money
	Remaining  Money

	// BalanceDelta is added to the applicant's totalAmount on commit.
	BalanceDelta Money

	// PolicyName identifies the fee policy that matched, or "default".
	PolicyName string

	ConsumeVouchers []VoucherConsumption
	IssueTicket     *TicketSpec
	UpdateTicket    *TicketUpdate
	CancelTicketID  string
	Compensation    *CompensationSpec
	ExamSlot        *ExamSlot
}
