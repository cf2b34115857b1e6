/*
handlers.go - HTTP API handlers for the agency administration system

PURPOSE:
  Exposes the pricing engine and ledger via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Applicants:
    GET    /api/applicants                    List applicants
    POST   /api/applicants                    Register (create + commit)
    POST   /api/applicants/quote              Quote a registration
    GET    /api/applicants/{id}               Applicant details
    GET    /api/applicants/{id}/vouchers      Vouchers held
    GET    /api/applicants/{id}/tickets       Tickets held
    GET    /api/applicants/{id}/transactions  Payment history
    GET    /api/applicants/{id}/audit         Audit trail
    POST   /api/applicants/{id}/payments      Record a payment
    POST   /api/applicants/{id}/exam          Schedule the first exam slot
    POST   /api/applicants/{id}/exam/change/quote  Quote an exam reschedule
    POST   /api/applicants/{id}/exam/change   Reschedule (change fee applies)
    POST   /api/applicants/{id}/retake/quote  Quote an exam retake
    POST   /api/applicants/{id}/retake        Schedule an exam retake
    POST   /api/applicants/{id}/exam-result   Record exam outcome
    POST   /api/applicants/{id}/exam-result/undo  Revert to attended_exam
    POST   /api/applicants/{id}/tickets/quote Quote ticket issuance
    POST   /api/applicants/{id}/tickets       Issue a ticket

  Tickets:
    POST   /api/tickets/{id}/change/quote     Quote modification/cancellation
    POST   /api/tickets/{id}/change           Commit modification/cancellation
    POST   /api/tickets/{id}/mark             Mark used or no_show

  Reference data:
    GET/POST /api/routes                      Route table
    GET/POST /api/policies                    Fee policies
    GET/POST /api/vouchers                    Voucher grants
    GET      /api/transactions                Transactions in a date range

REQUEST FLOW:
  1. Decode and validate JSON body
  2. Call domain logic (service, reconciler)
  3. Serialize response
  4. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Concurrency conflict (retryable, re-quote and retry)
  - 422: Rejected lifecycle transition or pricing rule
  - 500: Internal errors

ACTOR:
  Mutating endpoints read the X-Actor header for the audit trail and
  fall back to "admin". There is no authentication layer; the app runs
  behind the agency's private network.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/service.go: The domain operations these handlers call
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/karvan/pricing-engine/ledger"
	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
}

func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{Service: svc}
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "admin"
}

// =============================================================================
// APPLICANT HANDLERS
// =============================================================================

func (h *Handler) ListApplicants(w http.ResponseWriter, r *http.Request) {
	applicants, err := h.Service.Store().ListApplicants(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]ApplicantDTO, len(applicants))
	for i := range applicants {
		dtos[i] = applicantDTO(&applicants[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetApplicant(w http.ResponseWriter, r *http.Request) {
	applicant, err := h.Service.Store().GetApplicant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applicantDTO(applicant))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRegister(w, r)
	if !ok {
		return
	}
	result, err := h.Service.Register(r.Context(), req, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitDTO(result))
}

func (h *Handler) QuoteRegistration(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRegister(w, r)
	if !ok {
		return
	}
	quote, err := h.Service.QuoteRegistration(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteDTO(quote))
}

func decodeRegister(w http.ResponseWriter, r *http.Request) (ledger.RegisterRequest, bool) {
	var body RegisterRequest
	if !decode(w, r, &body) {
		return ledger.RegisterRequest{}, false
	}
	req, err := body.domain()
	if err != nil {
		writeBadRequest(w, "invalid amount", err)
		return req, false
	}
	return req, true
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var body PaymentRequest
	if !decode(w, r, &body) {
		return
	}
	amount, err := parseMoney(body.Amount)
	if err != nil {
		writeBadRequest(w, "invalid amount", err)
		return
	}
	result, err := h.Service.RecordPayment(r.Context(), chi.URLParam(r, "id"), amount, body.Note, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitDTO(result))
}

// =============================================================================
// EXAM RETAKE
// =============================================================================

func (h *Handler) QuoteRetake(w http.ResponseWriter, r *http.Request) {
	body, slot, ok := decodeRetake(w, r)
	if !ok {
		return
	}
	quote, err := h.Service.QuoteRetake(r.Context(), chi.URLParam(r, "id"), body.VoucherID, slot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteDTO(quote))
}

func (h *Handler) ScheduleRetake(w http.ResponseWriter, r *http.Request) {
	body, slot, ok := decodeRetake(w, r)
	if !ok {
		return
	}
	result, err := h.Service.ScheduleRetake(r.Context(), chi.URLParam(r, "id"), body.VoucherID, slot, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitDTO(result))
}

func decodeRetake(w http.ResponseWriter, r *http.Request) (RetakeRequest, pricing.ExamSlot, bool) {
	var body RetakeRequest
	if !decode(w, r, &body) {
		return body, pricing.ExamSlot{}, false
	}
	slot, err := body.slot()
	if err != nil {
		writeBadRequest(w, "invalid exam date, want YYYY-MM-DD", err)
		return body, slot, false
	}
	return body, slot, true
}

// =============================================================================
// EXAM SCHEDULING AND RESULTS
// =============================================================================

func (h *Handler) ScheduleExam(w http.ResponseWriter, r *http.Request) {
	slot, ok := decodeExamSlot(w, r)
	if !ok {
		return
	}
	applicant, err := h.Service.ScheduleExam(r.Context(), chi.URLParam(r, "id"), slot, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applicantDTO(applicant))
}

func (h *Handler) QuoteExamChange(w http.ResponseWriter, r *http.Request) {
	slot, ok := decodeExamSlot(w, r)
	if !ok {
		return
	}
	quote, err := h.Service.QuoteExamChange(r.Context(), chi.URLParam(r, "id"), slot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteDTO(quote))
}

func (h *Handler) RescheduleExam(w http.ResponseWriter, r *http.Request) {
	slot, ok := decodeExamSlot(w, r)
	if !ok {
		return
	}
	result, err := h.Service.RescheduleExam(r.Context(), chi.URLParam(r, "id"), slot, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitDTO(result))
}

func decodeExamSlot(w http.ResponseWriter, r *http.Request) (pricing.ExamSlot, bool) {
	var body ExamScheduleRequest
	if !decode(w, r, &body) {
		return pricing.ExamSlot{}, false
	}
	slot, err := body.slot()
	if err != nil {
		writeBadRequest(w, "invalid exam date, want YYYY-MM-DD", err)
		return slot, false
	}
	return slot, true
}

func (h *Handler) RecordExamResult(w http.ResponseWriter, r *http.Request) {
	var body ExamResultRequest
	if !decode(w, r, &body) {
		return
	}
	applicant, err := h.Service.RecordExamResult(r.Context(), chi.URLParam(r, "id"),
		ledger.ApplicantStatus(body.Result), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applicantDTO(applicant))
}

func (h *Handler) UndoExamResult(w http.ResponseWriter, r *http.Request) {
	applicant, err := h.Service.UndoExamResult(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applicantDTO(applicant))
}

// =============================================================================
// TICKET HANDLERS
// =============================================================================

func (h *Handler) QuoteTicketIssuance(w http.ResponseWriter, r *http.Request) {
	body, sel, ok := decodeTicket(w, r)
	if !ok {
		return
	}
	quote, err := h.Service.QuoteTicketIssuance(r.Context(), chi.URLParam(r, "id"), sel, body.VoucherIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteDTO(quote))
}

func (h *Handler) IssueTicket(w http.ResponseWriter, r *http.Request) {
	body, sel, ok := decodeTicket(w, r)
	if !ok {
		return
	}
	result, err := h.Service.IssueTicket(r.Context(), chi.URLParam(r, "id"), sel, body.VoucherIDs, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitDTO(result))
}

func decodeTicket(w http.ResponseWriter, r *http.Request) (TicketRequest, ledger.RouteSelection, bool) {
	var body TicketRequest
	if !decode(w, r, &body) {
		return body, ledger.RouteSelection{}, false
	}
	sel, err := body.selection()
	if err != nil {
		writeBadRequest(w, "invalid departure date, want YYYY-MM-DD", err)
		return body, sel, false
	}
	return body, sel, true
}

func (h *Handler) ListApplicantTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Service.Store().ListTicketsByApplicant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]TicketDTO, len(tickets))
	for i := range tickets {
		dtos[i] = ticketDTO(&tickets[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// QuoteTicketChange prices a route rewrite, or a cancellation when the
// body carries no new selection.
func (h *Handler) QuoteTicketChange(w http.ResponseWriter, r *http.Request) {
	sel, ok := decodeTicketChange(w, r)
	if !ok {
		return
	}
	quote, err := h.Service.QuoteTicketChange(r.Context(), chi.URLParam(r, "id"), sel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteDTO(quote))
}

func (h *Handler) ChangeTicket(w http.ResponseWriter, r *http.Request) {
	sel, ok := decodeTicketChange(w, r)
	if !ok {
		return
	}
	result, err := h.Service.ChangeTicket(r.Context(), chi.URLParam(r, "id"), sel, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitDTO(result))
}

func decodeTicketChange(w http.ResponseWriter, r *http.Request) (*ledger.RouteSelection, bool) {
	var body TicketChangeRequest
	if !decode(w, r, &body) {
		return nil, false
	}
	if body.NewSelection == nil {
		return nil, true
	}
	if err := validate.Struct(body.NewSelection); err != nil {
		writeValidation(w, err)
		return nil, false
	}
	sel, err := body.NewSelection.selection()
	if err != nil {
		writeBadRequest(w, "invalid departure date, want YYYY-MM-DD", err)
		return nil, false
	}
	return &sel, true
}

func (h *Handler) MarkTicket(w http.ResponseWriter, r *http.Request) {
	var body MarkTicketRequest
	if !decode(w, r, &body) {
		return
	}
	ticket, err := h.Service.MarkTicket(r.Context(), chi.URLParam(r, "id"),
		ledger.TicketStatus(body.Status), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketDTO(ticket))
}

// =============================================================================
// VOUCHER HANDLERS
// =============================================================================

func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Service.Store().ListVouchers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voucherDTOs(vouchers))
}

func (h *Handler) ListApplicantVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Service.Store().ListVouchersByApplicant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voucherDTOs(vouchers))
}

func voucherDTOs(vouchers []pricing.Voucher) []VoucherDTO {
	dtos := make([]VoucherDTO, len(vouchers))
	for i := range vouchers {
		dtos[i] = voucherDTO(&vouchers[i])
	}
	return dtos
}

func (h *Handler) GrantVoucher(w http.ResponseWriter, r *http.Request) {
	var body VoucherRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Category == string(pricing.VoucherPublic) && body.Code == "" {
		writeBadRequest(w, "public vouchers require a code", nil)
		return
	}
	voucher, err := body.domain()
	if err != nil {
		writeBadRequest(w, "invalid voucher fields", err)
		return
	}
	if err := h.Service.GrantVoucher(r.Context(), voucher, actor(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, voucherDTO(voucher))
}

// =============================================================================
// TRANSACTIONS AND AUDIT
// =============================================================================

func (h *Handler) ListApplicantTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Service.Store().ListTransactionsByApplicant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionDTOs(txs))
}

// ListTransactions returns money movements in a date range. Defaults to
// the last 30 days.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeBadRequest(w, "invalid from date, want YYYY-MM-DD", err)
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeBadRequest(w, "invalid to date, want YYYY-MM-DD", err)
			return
		}
		// Inclusive end of day.
		to = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	txs, err := h.Service.Store().ListTransactions(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionDTOs(txs))
}

func transactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = transactionDTO(tx)
	}
	return dtos
}

func (h *Handler) ListApplicantAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.Store().ListAuditByApplicant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]AuditDTO, len(entries))
	for i, e := range entries {
		dtos[i] = auditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.Service.Store().ListRoutes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]RouteDTO, len(routes))
	for i, rt := range routes {
		dtos[i] = routeDTO(rt)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var body RouteRequest
	if !decode(w, r, &body) {
		return
	}
	oneWay, err := parseMoney(body.OneWayPrice)
	if err != nil {
		writeBadRequest(w, "invalid one_way_price", err)
		return
	}
	roundTrip, err := parseMoney(body.RoundTripPrice)
	if err != nil {
		writeBadRequest(w, "invalid round_trip_price", err)
		return
	}
	route := &pricing.Route{
		ID:             uuid.NewString(),
		From:           body.From,
		To:             body.To,
		OneWayPrice:    oneWay,
		RoundTripPrice: roundTrip,
		DepartureTime:  body.DepartureTime,
		ArrivalTime:    body.ArrivalTime,
	}
	if err := h.Service.Store().CreateRoute(r.Context(), route); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, routeDTO(*route))
}

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Service.Store().ListFeePolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = policyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var body PolicyRequest
	if !decode(w, r, &body) {
		return
	}
	fee, err := parseMoney(body.Fee)
	if err != nil {
		writeBadRequest(w, "invalid fee", err)
		return
	}
	policy := &pricing.FeePolicy{
		ID:           uuid.NewString(),
		Name:         body.Name,
		Category:     pricing.PolicyCategory(body.Category),
		HoursTrigger: body.HoursTrigger,
		Condition:    pricing.FeeCondition(body.Condition),
		Fee:          fee,
	}
	if err := h.Service.Store().CreateFeePolicy(r.Context(), policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policyDTO(*policy))
}

// =============================================================================
// REQUEST/RESPONSE PLUMBING
// =============================================================================

// decode parses the JSON body into dst and validates it. Writes the error
// response itself and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeValidation(w http.ResponseWriter, err error) {
	if errs, ok := err.(validator.ValidationErrors); ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Detail: errs.Error(),
		})
		return
	}
	writeBadRequest(w, "validation failed", err)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case ledger.IsRetryable(err):
		// A concurrent commit consumed a voucher; the client should
		// re-quote and retry.
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case ledger.IsClientError(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:  "internal error",
			Detail: err.Error(),
		})
	}
}
