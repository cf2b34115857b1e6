/*
store.go - Storage ports

PURPOSE:
  Defines the interfaces between the ledger and the database. Two
  implementations exist: store/sqlite (production) and ledger/store
  (in-memory, for tests and development).

TRANSACTIONAL CONTRACT:
  TxStore.WithTx runs a function against a transactional view of the
  store. If the function errors, every write made through the view is
  rolled back. The Reconciler performs ALL commit writes inside WithTx.

VOUCHER CONSUMPTION:
  ConsumeVoucher is the concurrency-sensitive operation. It must perform
  a conditional, version-checked update: the increment only lands if the
  voucher's version still matches and the usage cap is not exhausted.
  On conflict it returns ErrConcurrentVoucherRedemption.

APPEND-ONLY TABLES:
  Transactions and audit entries are append-only. No update or delete
  methods exist for them.
*/
package ledger

import (
	"context"
	"time"

	"github.com/karvan/pricing-engine/pricing"
)

// =============================================================================
// PER-ENTITY PORTS
// =============================================================================

type ApplicantStore interface {
	CreateApplicant(ctx context.Context, a *Applicant) error
	GetApplicant(ctx context.Context, id string) (*Applicant, error)
	GetApplicantByCode(ctx context.Context, code string) (*Applicant, error)
	UpdateApplicant(ctx context.Context, a *Applicant) error
	ListApplicants(ctx context.Context) ([]Applicant, error)
	ApplicantCodeExists(ctx context.Context, code string) (bool, error)
}

type VoucherStore interface {
	CreateVoucher(ctx context.Context, v *pricing.Voucher) error
	GetVoucher(ctx context.Context, id string) (*pricing.Voucher, error)
	// FindPromoByCode returns the PUBLIC voucher with the exact
	// (case-sensitive) code, or ErrVoucherNotFound.
	FindPromoByCode(ctx context.Context, code string) (*pricing.Voucher, error)
	ListVouchersByApplicant(ctx context.Context, applicantID string) ([]pricing.Voucher, error)
	ListVouchers(ctx context.Context) ([]pricing.Voucher, error)

	// ConsumeVoucher increments usageCount (and optionally sets the used
	// flag) if and only if the stored version matches expectedVersion and
	// the usage cap is not exhausted. Returns
	// ErrConcurrentVoucherRedemption when the conditional update misses.
	ConsumeVoucher(ctx context.Context, id string, expectedVersion int, markUsed bool) error
}

type TicketStore interface {
	CreateTicket(ctx context.Context, t *Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	UpdateTicket(ctx context.Context, t *Ticket) error
	ListTicketsByApplicant(ctx context.Context, applicantID string) ([]Ticket, error)
}

type TransactionStore interface {
	// AppendTransaction is the only write: transactions are immutable.
	AppendTransaction(ctx context.Context, tx Transaction) error
	ListTransactionsByApplicant(ctx context.Context, applicantID string) ([]Transaction, error)
	ListTransactions(ctx context.Context, from, to time.Time) ([]Transaction, error)
}

type RouteStore interface {
	CreateRoute(ctx context.Context, r *pricing.Route) error
	// GetRoute looks up by (from, to) pair. Returns ErrRouteNotFound.
	GetRoute(ctx context.Context, from, to string) (*pricing.Route, error)
	ListRoutes(ctx context.Context) ([]pricing.Route, error)
}

type PolicyStore interface {
	CreateFeePolicy(ctx context.Context, p *pricing.FeePolicy) error
	ListFeePolicies(ctx context.Context) ([]pricing.FeePolicy, error)
	ListFeePoliciesByCategory(ctx context.Context, category pricing.PolicyCategory) ([]pricing.FeePolicy, error)
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAuditByApplicant(ctx context.Context, applicantID string) ([]AuditEntry, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store bundles every port. The Reconciler and Service operate on this.
type Store interface {
	ApplicantStore
	VoucherStore
	TicketStore
	TransactionStore
	RouteStore
	PolicyStore
	AuditLog
}

// TxStore adds transactional execution. If fn returns an error, all writes
// made through its Store argument are rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
