package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karvan/pricing-engine/api"
	"github.com/karvan/pricing-engine/ledger"
	memstore "github.com/karvan/pricing-engine/ledger/store"
	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Memory) {
	t.Helper()
	st := memstore.NewMemory()
	svc := ledger.NewService(st, pricing.Config{
		RegistrationPrice: pricing.NewMoneyFromInt(16000),
		ExamChangeFee:     pricing.NewMoneyFromInt(1000),
	})
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(svc)))
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func seedTestRoute(t *testing.T, st *memstore.Memory) {
	t.Helper()
	require.NoError(t, st.CreateRoute(context.Background(), &pricing.Route{
		ID:             "r1",
		From:           "Herat",
		To:             "Kabul",
		OneWayPrice:    pricing.NewMoneyFromInt(30000),
		RoundTripPrice: pricing.NewMoneyFromInt(55000),
	}))
}

// =============================================================================
// REGISTRATION ENDPOINTS
// =============================================================================

func TestAPI_Register(t *testing.T) {
	srv, st := newTestServer(t)
	seedTestRoute(t, st)

	resp := postJSON(t, srv.URL+"/api/applicants", map[string]any{
		"full_name":     "Ahmad Rahimi",
		"phone":         "0700000000",
		"from_location": "Herat",
		"exam_location": "Kabul",
		"trip_type":     "one_way",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Applicant struct {
			ID          string `json:"id"`
			Code        string `json:"code"`
			Status      string `json:"status"`
			TotalAmount string `json:"total_amount"`
		} `json:"applicant"`
	}
	decodeBody(t, resp, &body)

	assert.Len(t, body.Applicant.Code, 6)
	assert.Equal(t, "services_configured", body.Applicant.Status)
	assert.Equal(t, "46000", body.Applicant.TotalAmount)
}

func TestAPI_Register_ValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	// Missing full_name.
	resp := postJSON(t, srv.URL+"/api/applicants", map[string]any{
		"trip_type": "none",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Register_BadTripType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/applicants", map[string]any{
		"full_name": "Someone",
		"trip_type": "teleport",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_QuoteRegistration_NoSideEffects(t *testing.T) {
	srv, st := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/applicants/quote", map[string]any{
		"full_name": "Just Asking",
		"trip_type": "none",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var quote struct {
		Total string `json:"total"`
		Kind  string `json:"kind"`
	}
	decodeBody(t, resp, &quote)
	assert.Equal(t, "registration", quote.Kind)
	assert.Equal(t, "16000", quote.Total)

	applicants, err := st.ListApplicants(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applicants, "quoting must not create records")
}

func TestAPI_Register_UnknownPromo_Unprocessable(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/applicants", map[string]any{
		"full_name":  "Promo Hunter",
		"trip_type":  "none",
		"promo_code": "NOPE",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

// =============================================================================
// PAYMENTS AND NOT-FOUND MAPPING
// =============================================================================

func TestAPI_RecordPayment(t *testing.T) {
	srv, _ := newTestServer(t)
	id := registerApplicant(t, srv)

	resp := postJSON(t, fmt.Sprintf("%s/api/applicants/%s/payments", srv.URL, id), map[string]any{
		"amount": "6000",
		"note":   "installment",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Applicant struct {
			RemainingBalance string `json:"remaining_balance"`
		} `json:"applicant"`
		TransactionID string `json:"transaction_id"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "10000", body.Applicant.RemainingBalance)
	assert.NotEmpty(t, body.TransactionID)
}

func TestAPI_Payment_UnknownApplicant_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/applicants/missing/payments", map[string]any{
		"amount": "6000",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func registerApplicant(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/applicants", map[string]any{
		"full_name": "Fixture",
		"trip_type": "none",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		Applicant struct {
			ID string `json:"id"`
		} `json:"applicant"`
	}
	decodeBody(t, resp, &body)
	return body.Applicant.ID
}

// =============================================================================
// EXAM ENDPOINTS
// =============================================================================

func TestAPI_ScheduleAndRescheduleExam(t *testing.T) {
	srv, _ := newTestServer(t)
	id := registerApplicant(t, srv)

	examDate := time.Now().AddDate(0, 1, 0).Format("2006-01-02")
	resp := postJSON(t, fmt.Sprintf("%s/api/applicants/%s/exam", srv.URL, id), map[string]any{
		"exam_date":     examDate,
		"exam_time":     "09:00",
		"exam_location": "Kabul",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var scheduled struct {
		Status      string `json:"status"`
		TotalAmount string `json:"total_amount"`
	}
	decodeBody(t, resp, &scheduled)
	assert.Equal(t, "exam_scheduled", scheduled.Status)
	assert.Equal(t, "16000", scheduled.TotalAmount)

	// Moving the slot costs the configured change fee.
	newDate := time.Now().AddDate(0, 2, 0).Format("2006-01-02")
	resp = postJSON(t, fmt.Sprintf("%s/api/applicants/%s/exam/change", srv.URL, id), map[string]any{
		"exam_date":     newDate,
		"exam_location": "Mazar",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var changed struct {
		Applicant struct {
			TotalAmount  string `json:"total_amount"`
			ExamLocation string `json:"exam_location"`
		} `json:"applicant"`
	}
	decodeBody(t, resp, &changed)
	assert.Equal(t, "17000", changed.Applicant.TotalAmount)
	assert.Equal(t, "Mazar", changed.Applicant.ExamLocation)
}

func TestAPI_ScheduleExam_UnknownApplicant_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/applicants/missing/exam", map[string]any{
		"exam_date": "2026-10-01",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// TICKET ENDPOINTS
// =============================================================================

func TestAPI_TicketJourney(t *testing.T) {
	srv, st := newTestServer(t)
	seedTestRoute(t, st)
	id := registerApplicant(t, srv)

	departure := time.Now().AddDate(0, 0, 7).Format("2006-01-02")

	// Quote first.
	resp := postJSON(t, fmt.Sprintf("%s/api/applicants/%s/tickets/quote", srv.URL, id), map[string]any{
		"from": "Herat", "to": "Kabul",
		"trip_type":      "one_way",
		"departure_date": departure,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quote struct {
		Total string `json:"total"`
	}
	decodeBody(t, resp, &quote)
	assert.Equal(t, "30000", quote.Total)

	// Issue.
	resp = postJSON(t, fmt.Sprintf("%s/api/applicants/%s/tickets", srv.URL, id), map[string]any{
		"from": "Herat", "to": "Kabul",
		"trip_type":      "one_way",
		"departure_date": departure,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var issued struct {
		TicketID string `json:"ticket_id"`
	}
	decodeBody(t, resp, &issued)
	require.NotEmpty(t, issued.TicketID)

	// Cancel via change with no new selection.
	resp = postJSON(t, fmt.Sprintf("%s/api/tickets/%s/change", srv.URL, issued.TicketID), map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancelled struct {
		CompensationVoucherID string `json:"compensation_voucher_id"`
	}
	decodeBody(t, resp, &cancelled)
	assert.NotEmpty(t, cancelled.CompensationVoucherID)

	// Marking a cancelled ticket is rejected.
	resp = postJSON(t, fmt.Sprintf("%s/api/tickets/%s/mark", srv.URL, issued.TicketID), map[string]any{
		"status": "used",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPI_IssueTicket_UnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	id := registerApplicant(t, srv)

	resp := postJSON(t, fmt.Sprintf("%s/api/applicants/%s/tickets", srv.URL, id), map[string]any{
		"from": "Herat", "to": "Atlantis",
		"trip_type":      "one_way",
		"departure_date": "2025-07-01",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

// =============================================================================
// REFERENCE DATA ENDPOINTS
// =============================================================================

func TestAPI_RoutesRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/routes", map[string]any{
		"from": "Herat", "to": "Mazar",
		"one_way_price":    "20000",
		"round_trip_price": "38000",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + "/api/routes")
	require.NoError(t, err)
	var routes []struct {
		From        string `json:"from"`
		OneWayPrice string `json:"one_way_price"`
	}
	decodeBody(t, listResp, &routes)
	require.Len(t, routes, 1)
	assert.Equal(t, "20000", routes[0].OneWayPrice)
}

func TestAPI_GrantPublicVoucher_RequiresCode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/vouchers", map[string]any{
		"category": "public",
		"kind":     "discount",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GrantAndListVouchers(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/vouchers", map[string]any{
		"category":         "public",
		"kind":             "discount",
		"code":             "SPRING",
		"discount_percent": "10",
		"max_uses":         100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + "/api/vouchers")
	require.NoError(t, err)
	var vouchers []struct {
		Code    string `json:"code"`
		MaxUses int    `json:"max_uses"`
	}
	decodeBody(t, listResp, &vouchers)
	require.Len(t, vouchers, 1)
	assert.Equal(t, "SPRING", vouchers[0].Code)
	assert.Equal(t, 100, vouchers[0].MaxUses)
}
