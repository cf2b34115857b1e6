// Package store provides an in-memory ledger.TxStore for tests and
// development. The production implementation lives in store/sqlite.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/karvan/pricing-engine/ledger"
	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements ledger.TxStore. All public methods take the lock and
// delegate to an unlocked state; WithTx snapshots the state up front and
// restores it when the function errors, giving the same all-or-nothing
// behavior as a database transaction.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type routeKey struct{ From, To string }

type state struct {
	applicants   map[string]*ledger.Applicant
	byCode       map[string]string // code -> applicant ID
	vouchers     map[string]*pricing.Voucher
	tickets      map[string]*ledger.Ticket
	transactions []ledger.Transaction
	routes       map[routeKey]*pricing.Route
	policies     []pricing.FeePolicy
	audit        []ledger.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func newState() *state {
	return &state{
		applicants: make(map[string]*ledger.Applicant),
		byCode:     make(map[string]string),
		vouchers:   make(map[string]*pricing.Voucher),
		tickets:    make(map[string]*ledger.Ticket),
		routes:     make(map[routeKey]*pricing.Route),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.applicants {
		cp := *v
		c.applicants[k] = &cp
	}
	for k, v := range st.byCode {
		c.byCode[k] = v
	}
	for k, v := range st.vouchers {
		cp := *v
		c.vouchers[k] = &cp
	}
	for k, v := range st.tickets {
		cp := *v
		c.tickets[k] = &cp
	}
	c.transactions = append([]ledger.Transaction(nil), st.transactions...)
	for k, v := range st.routes {
		cp := *v
		c.routes[k] = &cp
	}
	c.policies = append([]pricing.FeePolicy(nil), st.policies...)
	c.audit = append([]ledger.AuditEntry(nil), st.audit...)
	return c
}

// WithTx runs fn against a transactional view. The whole store is locked
// for the duration, which serializes concurrent commits the way a
// row-scoped database transaction would for this workload.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView exposes the unlocked state as a ledger.Store inside WithTx.
type txView struct{ st *state }

// =============================================================================
// APPLICANTS
// =============================================================================

func (st *state) createApplicant(a *ledger.Applicant) error {
	cp := *a
	st.applicants[a.ID] = &cp
	st.byCode[a.Code] = a.ID
	return nil
}

func (st *state) getApplicant(id string) (*ledger.Applicant, error) {
	a, ok := st.applicants[id]
	if !ok {
		return nil, ledger.ErrApplicantNotFound
	}
	cp := *a
	return &cp, nil
}

func (st *state) getApplicantByCode(code string) (*ledger.Applicant, error) {
	id, ok := st.byCode[code]
	if !ok {
		return nil, ledger.ErrApplicantNotFound
	}
	return st.getApplicant(id)
}

func (st *state) updateApplicant(a *ledger.Applicant) error {
	if _, ok := st.applicants[a.ID]; !ok {
		return ledger.ErrApplicantNotFound
	}
	cp := *a
	st.applicants[a.ID] = &cp
	return nil
}

func (st *state) listApplicants() ([]ledger.Applicant, error) {
	out := make([]ledger.Applicant, 0, len(st.applicants))
	for _, a := range st.applicants {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) CreateApplicant(_ context.Context, a *ledger.Applicant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createApplicant(a)
}

func (m *Memory) GetApplicant(_ context.Context, id string) (*ledger.Applicant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getApplicant(id)
}

func (m *Memory) GetApplicantByCode(_ context.Context, code string) (*ledger.Applicant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getApplicantByCode(code)
}

func (m *Memory) UpdateApplicant(_ context.Context, a *ledger.Applicant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateApplicant(a)
}

func (m *Memory) ListApplicants(_ context.Context) ([]ledger.Applicant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listApplicants()
}

func (m *Memory) ApplicantCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.st.byCode[code]
	return ok, nil
}

func (v *txView) CreateApplicant(_ context.Context, a *ledger.Applicant) error {
	return v.st.createApplicant(a)
}
func (v *txView) GetApplicant(_ context.Context, id string) (*ledger.Applicant, error) {
	return v.st.getApplicant(id)
}
func (v *txView) GetApplicantByCode(_ context.Context, code string) (*ledger.Applicant, error) {
	return v.st.getApplicantByCode(code)
}
func (v *txView) UpdateApplicant(_ context.Context, a *ledger.Applicant) error {
	return v.st.updateApplicant(a)
}
func (v *txView) ListApplicants(_ context.Context) ([]ledger.Applicant, error) {
	return v.st.listApplicants()
}
func (v *txView) ApplicantCodeExists(_ context.Context, code string) (bool, error) {
	_, ok := v.st.byCode[code]
	return ok, nil
}

// =============================================================================
// VOUCHERS
// =============================================================================

func (st *state) createVoucher(vo *pricing.Voucher) error {
	cp := *vo
	st.vouchers[vo.ID] = &cp
	return nil
}

func (st *state) getVoucher(id string) (*pricing.Voucher, error) {
	vo, ok := st.vouchers[id]
	if !ok {
		return nil, ledger.ErrVoucherNotFound
	}
	cp := *vo
	return &cp, nil
}

func (st *state) findPromoByCode(code string) (*pricing.Voucher, error) {
	// Case-sensitive match, PUBLIC only.
	for _, vo := range st.vouchers {
		if vo.Category == pricing.VoucherPublic && vo.Code == code {
			cp := *vo
			return &cp, nil
		}
	}
	return nil, ledger.ErrVoucherNotFound
}

func (st *state) listVouchersByApplicant(applicantID string) ([]pricing.Voucher, error) {
	var out []pricing.Voucher
	for _, vo := range st.vouchers {
		if vo.ApplicantID == applicantID {
			out = append(out, *vo)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (st *state) listVouchers() ([]pricing.Voucher, error) {
	out := make([]pricing.Voucher, 0, len(st.vouchers))
	for _, vo := range st.vouchers {
		out = append(out, *vo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) consumeVoucher(id string, expectedVersion int, markUsed bool) error {
	vo, ok := st.vouchers[id]
	if !ok {
		return ledger.ErrVoucherNotFound
	}
	// Compare-and-swap: version must match and the cap must not be hit.
	if vo.Version != expectedVersion || vo.IsExhausted() || (markUsed && vo.IsUsed) {
		return ledger.ErrConcurrentVoucherRedemption
	}
	vo.UsageCount++
	if markUsed {
		vo.IsUsed = true
	}
	vo.Version++
	return nil
}

func (m *Memory) CreateVoucher(_ context.Context, vo *pricing.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createVoucher(vo)
}

func (m *Memory) GetVoucher(_ context.Context, id string) (*pricing.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getVoucher(id)
}

func (m *Memory) FindPromoByCode(_ context.Context, code string) (*pricing.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findPromoByCode(code)
}

func (m *Memory) ListVouchersByApplicant(_ context.Context, applicantID string) ([]pricing.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listVouchersByApplicant(applicantID)
}

func (m *Memory) ListVouchers(_ context.Context) ([]pricing.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listVouchers()
}

func (m *Memory) ConsumeVoucher(_ context.Context, id string, expectedVersion int, markUsed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.consumeVoucher(id, expectedVersion, markUsed)
}

func (v *txView) CreateVoucher(_ context.Context, vo *pricing.Voucher) error {
	return v.st.createVoucher(vo)
}
func (v *txView) GetVoucher(_ context.Context, id string) (*pricing.Voucher, error) {
	return v.st.getVoucher(id)
}
func (v *txView) FindPromoByCode(_ context.Context, code string) (*pricing.Voucher, error) {
	return v.st.findPromoByCode(code)
}
func (v *txView) ListVouchersByApplicant(_ context.Context, applicantID string) ([]pricing.Voucher, error) {
	return v.st.listVouchersByApplicant(applicantID)
}
func (v *txView) ListVouchers(_ context.Context) ([]pricing.Voucher, error) {
	return v.st.listVouchers()
}
func (v *txView) ConsumeVoucher(_ context.Context, id string, expectedVersion int, markUsed bool) error {
	return v.st.consumeVoucher(id, expectedVersion, markUsed)
}

// =============================================================================
// TICKETS
// =============================================================================

func (st *state) createTicket(t *ledger.Ticket) error {
	cp := *t
	st.tickets[t.ID] = &cp
	return nil
}

func (st *state) getTicket(id string) (*ledger.Ticket, error) {
	t, ok := st.tickets[id]
	if !ok {
		return nil, ledger.ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (st *state) updateTicket(t *ledger.Ticket) error {
	if _, ok := st.tickets[t.ID]; !ok {
		return ledger.ErrTicketNotFound
	}
	cp := *t
	st.tickets[t.ID] = &cp
	return nil
}

func (st *state) listTicketsByApplicant(applicantID string) ([]ledger.Ticket, error) {
	var out []ledger.Ticket
	for _, t := range st.tickets {
		if t.ApplicantID == applicantID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateTicket(_ context.Context, t *ledger.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createTicket(t)
}

func (m *Memory) GetTicket(_ context.Context, id string) (*ledger.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getTicket(id)
}

func (m *Memory) UpdateTicket(_ context.Context, t *ledger.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateTicket(t)
}

func (m *Memory) ListTicketsByApplicant(_ context.Context, applicantID string) ([]ledger.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listTicketsByApplicant(applicantID)
}

func (v *txView) CreateTicket(_ context.Context, t *ledger.Ticket) error { return v.st.createTicket(t) }
func (v *txView) GetTicket(_ context.Context, id string) (*ledger.Ticket, error) {
	return v.st.getTicket(id)
}
func (v *txView) UpdateTicket(_ context.Context, t *ledger.Ticket) error { return v.st.updateTicket(t) }
func (v *txView) ListTicketsByApplicant(_ context.Context, applicantID string) ([]ledger.Ticket, error) {
	return v.st.listTicketsByApplicant(applicantID)
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

func (st *state) appendTransaction(tx ledger.Transaction) error {
	st.transactions = append(st.transactions, tx)
	return nil
}

func (st *state) listTransactionsByApplicant(applicantID string) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range st.transactions {
		if tx.ApplicantID == applicantID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (st *state) listTransactions(from, to time.Time) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range st.transactions {
		if !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendTransaction(tx)
}

func (m *Memory) ListTransactionsByApplicant(_ context.Context, applicantID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listTransactionsByApplicant(applicantID)
}

func (m *Memory) ListTransactions(_ context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listTransactions(from, to)
}

func (v *txView) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.st.appendTransaction(tx)
}
func (v *txView) ListTransactionsByApplicant(_ context.Context, applicantID string) ([]ledger.Transaction, error) {
	return v.st.listTransactionsByApplicant(applicantID)
}
func (v *txView) ListTransactions(_ context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	return v.st.listTransactions(from, to)
}

// =============================================================================
// ROUTES
// =============================================================================

func (st *state) createRoute(r *pricing.Route) error {
	cp := *r
	st.routes[routeKey{From: strings.TrimSpace(r.From), To: strings.TrimSpace(r.To)}] = &cp
	return nil
}

func (st *state) getRoute(from, to string) (*pricing.Route, error) {
	r, ok := st.routes[routeKey{From: strings.TrimSpace(from), To: strings.TrimSpace(to)}]
	if !ok {
		return nil, ledger.ErrRouteNotFound
	}
	cp := *r
	return &cp, nil
}

func (st *state) listRoutes() ([]pricing.Route, error) {
	out := make([]pricing.Route, 0, len(st.routes))
	for _, r := range st.routes {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From == out[j].From {
			return out[i].To < out[j].To
		}
		return out[i].From < out[j].From
	})
	return out, nil
}

func (m *Memory) CreateRoute(_ context.Context, r *pricing.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createRoute(r)
}

func (m *Memory) GetRoute(_ context.Context, from, to string) (*pricing.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getRoute(from, to)
}

func (m *Memory) ListRoutes(_ context.Context) ([]pricing.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listRoutes()
}

func (v *txView) CreateRoute(_ context.Context, r *pricing.Route) error { return v.st.createRoute(r) }
func (v *txView) GetRoute(_ context.Context, from, to string) (*pricing.Route, error) {
	return v.st.getRoute(from, to)
}
func (v *txView) ListRoutes(_ context.Context) ([]pricing.Route, error) { return v.st.listRoutes() }

// =============================================================================
// FEE POLICIES
// =============================================================================

func (st *state) createFeePolicy(p *pricing.FeePolicy) error {
	st.policies = append(st.policies, *p)
	return nil
}

func (st *state) listFeePolicies() ([]pricing.FeePolicy, error) {
	return append([]pricing.FeePolicy(nil), st.policies...), nil
}

func (st *state) listFeePoliciesByCategory(category pricing.PolicyCategory) ([]pricing.FeePolicy, error) {
	var out []pricing.FeePolicy
	for _, p := range st.policies {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) CreateFeePolicy(_ context.Context, p *pricing.FeePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createFeePolicy(p)
}

func (m *Memory) ListFeePolicies(_ context.Context) ([]pricing.FeePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listFeePolicies()
}

func (m *Memory) ListFeePoliciesByCategory(_ context.Context, category pricing.PolicyCategory) ([]pricing.FeePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listFeePoliciesByCategory(category)
}

func (v *txView) CreateFeePolicy(_ context.Context, p *pricing.FeePolicy) error {
	return v.st.createFeePolicy(p)
}
func (v *txView) ListFeePolicies(_ context.Context) ([]pricing.FeePolicy, error) {
	return v.st.listFeePolicies()
}
func (v *txView) ListFeePoliciesByCategory(_ context.Context, category pricing.PolicyCategory) ([]pricing.FeePolicy, error) {
	return v.st.listFeePoliciesByCategory(category)
}

// =============================================================================
// AUDIT (append-only)
// =============================================================================

func (st *state) appendAudit(e ledger.AuditEntry) error {
	st.audit = append(st.audit, e)
	return nil
}

func (st *state) listAuditByApplicant(applicantID string) ([]ledger.AuditEntry, error) {
	var out []ledger.AuditEntry
	for _, e := range st.audit {
		if e.ApplicantID == applicantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendAudit(e)
}

func (m *Memory) ListAuditByApplicant(_ context.Context, applicantID string) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listAuditByApplicant(applicantID)
}

func (v *txView) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	return v.st.appendAudit(e)
}
func (v *txView) ListAuditByApplicant(_ context.Context, applicantID string) ([]ledger.AuditEntry, error) {
	return v.st.listAuditByApplicant(applicantID)
}

// Compile-time interface checks.
var (
	_ ledger.TxStore = (*Memory)(nil)
	_ ledger.Store   = (*txView)(nil)
)
