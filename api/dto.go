/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary amounts travel as decimal strings ("150000.50"), never floats.
  Parsing goes through pricing.Money so precision survives the round trip.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through the shared validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - pricing/types.go: The Quote these DTOs project
*/
package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/karvan/pricing-engine/ledger"
	"github.com/karvan/pricing-engine/pricing"
)

var validate = validator.New()

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RegisterRequest creates an applicant and commits their registration.
type RegisterRequest struct {
	FullName     string `json:"full_name" validate:"required,min=2,max=200"`
	Phone        string `json:"phone" validate:"max=32"`
	FromLocation string `json:"from_location" validate:"max=100"`
	ExamLocation string `json:"exam_location" validate:"max=100"`

	TripType string `json:"trip_type" validate:"omitempty,oneof=none one_way round_trip"`

	PromoCode      string  `json:"promo_code,omitempty"`
	ManualDiscount *string `json:"manual_discount,omitempty"`
	InitialDeposit string  `json:"initial_deposit,omitempty"`
}

func (r RegisterRequest) domain() (ledger.RegisterRequest, error) {
	req := ledger.RegisterRequest{
		FullName:     r.FullName,
		Phone:        r.Phone,
		FromLocation: r.FromLocation,
		ExamLocation: r.ExamLocation,
		TripType:     pricing.TripType(r.TripType),
		PromoCode:    r.PromoCode,
	}
	if r.TripType == "" {
		req.TripType = pricing.TripNone
	}
	if r.ManualDiscount != nil {
		m, err := parseMoney(*r.ManualDiscount)
		if err != nil {
			return req, err
		}
		req.ManualDiscount = &m
	}
	if r.InitialDeposit != "" {
		m, err := parseMoney(r.InitialDeposit)
		if err != nil {
			return req, err
		}
		req.InitialDeposit = m
	}
	return req, nil
}

// PaymentRequest records a payment against an applicant's balance.
type PaymentRequest struct {
	Amount string `json:"amount" validate:"required"`
	Note   string `json:"note" validate:"max=500"`
}

// RetakeRequest schedules (or quotes) an exam retake.
type RetakeRequest struct {
	VoucherID    string `json:"voucher_id,omitempty"`
	ExamDate     string `json:"exam_date" validate:"required"`
	ExamTime     string `json:"exam_time" validate:"max=10"`
	ExamLocation string `json:"exam_location" validate:"max=100"`
}

func (r RetakeRequest) slot() (pricing.ExamSlot, error) {
	date, err := time.Parse("2006-01-02", r.ExamDate)
	if err != nil {
		return pricing.ExamSlot{}, err
	}
	return pricing.ExamSlot{Date: date, Time: r.ExamTime, Location: r.ExamLocation}, nil
}

// ExamScheduleRequest books or moves an exam slot.
type ExamScheduleRequest struct {
	ExamDate     string `json:"exam_date" validate:"required"`
	ExamTime     string `json:"exam_time" validate:"max=10"`
	ExamLocation string `json:"exam_location" validate:"max=100"`
}

func (r ExamScheduleRequest) slot() (pricing.ExamSlot, error) {
	date, err := time.Parse("2006-01-02", r.ExamDate)
	if err != nil {
		return pricing.ExamSlot{}, err
	}
	return pricing.ExamSlot{Date: date, Time: r.ExamTime, Location: r.ExamLocation}, nil
}

// ExamResultRequest records an exam lifecycle move.
type ExamResultRequest struct {
	Result string `json:"result" validate:"required,oneof=attended_exam passed failed absent"`
}

// TicketRequest issues (or quotes) a ticket.
type TicketRequest struct {
	From          string   `json:"from" validate:"required,max=100"`
	To            string   `json:"to" validate:"required,max=100"`
	TripType      string   `json:"trip_type" validate:"required,oneof=one_way round_trip"`
	DepartureDate string   `json:"departure_date" validate:"required"`
	DepartureTime string   `json:"departure_time" validate:"max=10"`
	VoucherIDs    []string `json:"voucher_ids,omitempty"`
}

func (r TicketRequest) selection() (ledger.RouteSelection, error) {
	date, err := time.Parse("2006-01-02", r.DepartureDate)
	if err != nil {
		return ledger.RouteSelection{}, err
	}
	return ledger.RouteSelection{
		From:          r.From,
		To:            r.To,
		TripType:      pricing.TripType(r.TripType),
		DepartureDate: date,
		DepartureTime: r.DepartureTime,
	}, nil
}

// TicketChangeRequest rewrites a ticket's route, or cancels it when
// new_selection is absent.
type TicketChangeRequest struct {
	NewSelection *TicketRequest `json:"new_selection,omitempty"`
}

// MarkTicketRequest moves a ticket to a terminal status.
type MarkTicketRequest struct {
	Status string `json:"status" validate:"required,oneof=used no_show"`
}

// RouteRequest creates a priced route.
type RouteRequest struct {
	From           string `json:"from" validate:"required,max=100"`
	To             string `json:"to" validate:"required,max=100"`
	OneWayPrice    string `json:"one_way_price" validate:"required"`
	RoundTripPrice string `json:"round_trip_price" validate:"required"`
	DepartureTime  string `json:"departure_time,omitempty" validate:"max=10"`
	ArrivalTime    string `json:"arrival_time,omitempty" validate:"max=10"`
}

// PolicyRequest creates a fee policy.
type PolicyRequest struct {
	Name         string   `json:"name" validate:"required,max=200"`
	Category     string   `json:"category" validate:"required,oneof=cancellation modification no_show route_change"`
	HoursTrigger *float64 `json:"hours_trigger,omitempty"`
	Condition    string   `json:"condition" validate:"omitempty,oneof=less_than greater_than"`
	Fee          string   `json:"fee" validate:"required"`
}

// VoucherRequest grants a PUBLIC or PERSONAL voucher.
type VoucherRequest struct {
	Code            string `json:"code,omitempty" validate:"max=64"`
	Category        string `json:"category" validate:"required,oneof=public personal"`
	Kind            string `json:"kind" validate:"required,oneof=discount credit"`
	DiscountPercent string `json:"discount_percent,omitempty"`
	Balance         string `json:"balance,omitempty"`
	Scope           string `json:"scope,omitempty" validate:"omitempty,oneof=exam exam_retake full_program transport"`
	MaxUses         int    `json:"max_uses,omitempty" validate:"min=0"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	ApplicantID     string `json:"applicant_id,omitempty"`
	Location        string `json:"location,omitempty" validate:"max=100"`
}

func (r VoucherRequest) domain() (*pricing.Voucher, error) {
	v := &pricing.Voucher{
		Code:        r.Code,
		Category:    pricing.VoucherCategory(r.Category),
		Kind:        pricing.VoucherKind(r.Kind),
		Scope:       pricing.ServiceScope(r.Scope),
		MaxUses:     r.MaxUses,
		ApplicantID: r.ApplicantID,
		Location:    r.Location,
	}
	if r.DiscountPercent != "" {
		d, err := decimal.NewFromString(r.DiscountPercent)
		if err != nil {
			return nil, err
		}
		v.DiscountPercent = d
	}
	if r.Balance != "" {
		m, err := parseMoney(r.Balance)
		if err != nil {
			return nil, err
		}
		v.Balance = m
	}
	if r.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, r.ExpiresAt)
		if err != nil {
			return nil, err
		}
		v.ExpiresAt = &t
	}
	return v, nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ApplicantDTO projects an applicant with its balance snapshot.
type ApplicantDTO struct {
	ID               string `json:"id"`
	Code             string `json:"code"`
	FullName         string `json:"full_name"`
	Phone            string `json:"phone,omitempty"`
	TotalAmount      string `json:"total_amount"`
	AmountPaid       string `json:"amount_paid"`
	Discount         string `json:"discount"`
	RemainingBalance string `json:"remaining_balance"`
	TripType         string `json:"trip_type"`
	FromLocation     string `json:"from_location,omitempty"`
	ExamDate         string `json:"exam_date,omitempty"`
	ExamTime         string `json:"exam_time,omitempty"`
	ExamLocation     string `json:"exam_location,omitempty"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func applicantDTO(a *ledger.Applicant) ApplicantDTO {
	dto := ApplicantDTO{
		ID:               a.ID,
		Code:             a.Code,
		FullName:         a.FullName,
		Phone:            a.Phone,
		TotalAmount:      a.TotalAmount.String(),
		AmountPaid:       a.AmountPaid.String(),
		Discount:         a.Discount.String(),
		RemainingBalance: a.RemainingBalance.String(),
		TripType:         string(a.TripType),
		FromLocation:     a.FromLocation,
		ExamTime:         a.ExamTime,
		ExamLocation:     a.ExamLocation,
		Status:           string(a.Status),
		CreatedAt:        a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        a.UpdatedAt.Format(time.RFC3339),
	}
	if a.ExamDate != nil {
		dto.ExamDate = a.ExamDate.Format("2006-01-02")
	}
	return dto
}

// QuoteDTO projects a pricing.Quote for confirmation screens.
type QuoteDTO struct {
	Kind           string `json:"kind"`
	ApplicantID    string `json:"applicant_id"`
	BasePrice      string `json:"base_price"`
	TransportPrice string `json:"transport_price"`
	Fare           string `json:"fare"`
	Discount       string `json:"discount"`
	Credit         string `json:"credit"`
	Fee            string `json:"fee"`
	PriceDiff      string `json:"price_diff"`
	Total          string `json:"total"`
	AmountPaid     string `json:"amount_paid"`
	Remaining      string `json:"remaining"`
	BalanceDelta   string `json:"balance_delta"`
	PolicyName     string `json:"policy_name,omitempty"`
	VouchersUsed   int    `json:"vouchers_used"`
}

func quoteDTO(q *pricing.Quote) QuoteDTO {
	return QuoteDTO{
		Kind:           string(q.Kind),
		ApplicantID:    q.ApplicantID,
		BasePrice:      q.BasePrice.String(),
		TransportPrice: q.TransportPrice.String(),
		Fare:           q.Fare.String(),
		Discount:       q.Discount.String(),
		Credit:         q.Credit.String(),
		Fee:            q.Fee.String(),
		PriceDiff:      q.PriceDiff.String(),
		Total:          q.Total.String(),
		AmountPaid:     q.AmountPaid.String(),
		Remaining:      q.Remaining.String(),
		BalanceDelta:   q.BalanceDelta.String(),
		PolicyName:     q.PolicyName,
		VouchersUsed:   len(q.ConsumeVouchers),
	}
}

// CommitDTO reports what a committed operation produced.
type CommitDTO struct {
	Applicant             ApplicantDTO `json:"applicant"`
	TicketID              string       `json:"ticket_id,omitempty"`
	CompensationVoucherID string       `json:"compensation_voucher_id,omitempty"`
	TransactionID         string       `json:"transaction_id,omitempty"`
}

func commitDTO(res *ledger.CommitResult) CommitDTO {
	return CommitDTO{
		Applicant:             applicantDTO(res.Applicant),
		TicketID:              res.TicketID,
		CompensationVoucherID: res.CompensationVoucherID,
		TransactionID:         res.TransactionID,
	}
}

// TicketDTO projects a ticket.
type TicketDTO struct {
	ID            string `json:"id"`
	ApplicantID   string `json:"applicant_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	TripType      string `json:"trip_type"`
	DepartureDate string `json:"departure_date"`
	DepartureTime string `json:"departure_time,omitempty"`
	FareAtIssue   string `json:"fare_at_issue"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func ticketDTO(t *ledger.Ticket) TicketDTO {
	return TicketDTO{
		ID:            t.ID,
		ApplicantID:   t.ApplicantID,
		From:          t.From,
		To:            t.To,
		TripType:      string(t.TripType),
		DepartureDate: t.DepartureDate.Format("2006-01-02"),
		DepartureTime: t.DepartureTime,
		FareAtIssue:   t.FareAtIssue.String(),
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     t.UpdatedAt.Format(time.RFC3339),
	}
}

// VoucherDTO projects a voucher.
type VoucherDTO struct {
	ID              string `json:"id"`
	Code            string `json:"code,omitempty"`
	Category        string `json:"category"`
	Kind            string `json:"kind"`
	DiscountPercent string `json:"discount_percent"`
	Balance         string `json:"balance"`
	Scope           string `json:"scope,omitempty"`
	MaxUses         int    `json:"max_uses"`
	UsageCount      int    `json:"usage_count"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	IsUsed          bool   `json:"is_used"`
	ApplicantID     string `json:"applicant_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func voucherDTO(v *pricing.Voucher) VoucherDTO {
	dto := VoucherDTO{
		ID:              v.ID,
		Code:            v.Code,
		Category:        string(v.Category),
		Kind:            string(v.Kind),
		DiscountPercent: v.DiscountPercent.String(),
		Balance:         v.Balance.String(),
		Scope:           string(v.Scope),
		MaxUses:         v.MaxUses,
		UsageCount:      v.UsageCount,
		IsUsed:          v.IsUsed,
		ApplicantID:     v.ApplicantID,
		CreatedAt:       v.CreatedAt.Format(time.RFC3339),
	}
	if v.ExpiresAt != nil {
		dto.ExpiresAt = v.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}

// TransactionDTO projects an immutable money movement.
type TransactionDTO struct {
	ID          string `json:"id"`
	ApplicantID string `json:"applicant_id,omitempty"`
	Location    string `json:"location,omitempty"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func transactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          tx.ID,
		ApplicantID: tx.ApplicantID,
		Location:    tx.Location,
		Type:        string(tx.Type),
		Amount:      tx.Amount.String(),
		Note:        tx.Note,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

// RouteDTO projects a priced route.
type RouteDTO struct {
	ID             string `json:"id"`
	From           string `json:"from"`
	To             string `json:"to"`
	OneWayPrice    string `json:"one_way_price"`
	RoundTripPrice string `json:"round_trip_price"`
	DepartureTime  string `json:"departure_time,omitempty"`
	ArrivalTime    string `json:"arrival_time,omitempty"`
}

func routeDTO(r pricing.Route) RouteDTO {
	return RouteDTO{
		ID:             r.ID,
		From:           r.From,
		To:             r.To,
		OneWayPrice:    r.OneWayPrice.String(),
		RoundTripPrice: r.RoundTripPrice.String(),
		DepartureTime:  r.DepartureTime,
		ArrivalTime:    r.ArrivalTime,
	}
}

// PolicyDTO projects a fee policy.
type PolicyDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	HoursTrigger *float64 `json:"hours_trigger,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	Fee          string   `json:"fee"`
}

func policyDTO(p pricing.FeePolicy) PolicyDTO {
	return PolicyDTO{
		ID:           p.ID,
		Name:         p.Name,
		Category:     string(p.Category),
		HoursTrigger: p.HoursTrigger,
		Condition:    string(p.Condition),
		Fee:          p.Fee.String(),
	}
}

// AuditDTO projects an audit entry.
type AuditDTO struct {
	ID          string `json:"id"`
	At          string `json:"at"`
	Actor       string `json:"actor,omitempty"`
	Action      string `json:"action"`
	ApplicantID string `json:"applicant_id,omitempty"`
	ReferenceID string `json:"reference_id,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

func auditDTO(e ledger.AuditEntry) AuditDTO {
	return AuditDTO{
		ID:          e.ID,
		At:          e.At.Format(time.RFC3339),
		Actor:       e.Actor,
		Action:      string(e.Action),
		ApplicantID: e.ApplicantID,
		ReferenceID: e.ReferenceID,
		Detail:      e.Detail,
	}
}

func parseMoney(s string) (pricing.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return pricing.ZeroMoney(), err
	}
	return pricing.Money{Value: d}, nil
}
