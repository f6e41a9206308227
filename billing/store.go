/*
store.go - Abstract capabilities of the two remote stores

PURPOSE:
  Defines the interfaces the engine consumes. Concrete transport is out of
  scope for the core: implementations may be SQLite-backed (store/sqlite),
  HTTP clients against the real services (store/remote), or in-memory fakes
  (billing/store).

NOT-FOUND CONTRACT:
  Every lookup must return an error satisfying errors.Is(err, ErrNotFound)
  when the entity is absent, distinguishable from transport failures. The
  reconciler's fallback branch depends on this distinction.

UNIQUENESS CONTRACT:
  CreateBillingRecord should enforce at-most-one record per RequestID as a
  second line of defense and return ErrDuplicateRecord on conflict. The
  reconciler treats that conflict as success-with-lookup.

SEE ALSO:
  - store/sqlite: production implementation
  - store/remote: HTTP client implementation with finite timeouts
  - billing/store: in-memory implementation for tests
*/
package billing

import "context"

// =============================================================================
// REQUEST STORE - The request-intake service (read-only from here)
// =============================================================================

type RequestStore interface {
	// GetRequest returns the authoritative Request.
	// Returns ErrNotFound when no such request exists.
	GetRequest(ctx context.Context, id RequestID) (*Request, error)
}

// RequestWriteStore extends RequestStore with the intake service's own
// mutations. The core engine never writes requests; only the full-stack
// server's approval endpoints use this.
type RequestWriteStore interface {
	RequestStore

	// CreateRequest persists a new request, PENDING/PENDING.
	CreateRequest(ctx context.Context, req Request) (*Request, error)

	// SetAccountantStage records the accountant's decision with a comment.
	SetAccountantStage(ctx context.Context, id RequestID, stage AccountantStage, comment string) error

	// SetDirectorStage records the director's decision. Returns ErrStageOrder
	// unless the accountant stage is VALIDATED.
	SetDirectorStage(ctx context.Context, id RequestID, stage DirectorStage, comment string) error
}

// =============================================================================
// BILLING STORE - The billing service
// =============================================================================

type BillingStore interface {
	// GetBillingRecord returns the record by billing id.
	// Returns ErrNotFound when absent.
	GetBillingRecord(ctx context.Context, id BillingID) (*BillingRecord, error)

	// CreateBillingRecord persists a new record. The store assigns the ID
	// when rec.ID is empty. Returns ErrDuplicateRecord when a record for the
	// same RequestID already exists.
	CreateBillingRecord(ctx context.Context, rec BillingRecord) (*BillingRecord, error)

	// FindBillingRecordByRequest returns the record linked to a request id,
	// ErrNotFound when no linked record exists. Records created out-of-band
	// carry no link; only the heuristic search can reach those.
	FindBillingRecordByRequest(ctx context.Context, requestID RequestID) (*BillingRecord, error)

	// ListBillingRecords returns all records for a project.
	ListBillingRecords(ctx context.Context, projectID ProjectID) ([]BillingRecord, error)

	// SetBillingStatus transitions a record's status. Setting the same
	// terminal value twice is a no-op, so retrying is always safe.
	SetBillingStatus(ctx context.Context, id BillingID, status BillingStatus) error

	// CreateAllocation appends a signed allocation. Implementations should
	// enforce the non-negative-balance invariant server-side as a second
	// line of defense and return ErrInsufficientFunds on violation.
	CreateAllocation(ctx context.Context, alloc Allocation) (*Allocation, error)

	// CreatePayment appends a payment. Append-only: payments are never
	// mutated afterwards.
	CreatePayment(ctx context.Context, p Payment) (*Payment, error)

	// ListPayments returns payments matching the filter.
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)

	// RegisterInvoice records the single invoice for a billing record.
	// Returns ErrDuplicateInvoice if one is already registered.
	RegisterInvoice(ctx context.Context, inv Invoice) (*Invoice, error)

	// SetInvoiceValidity flips the only mutable invoice field.
	SetInvoiceValidity(ctx context.Context, id InvoiceID, valid bool) error

	// CreateReceipt records an acknowledgement for a payment.
	CreateReceipt(ctx context.Context, r Receipt) (*Receipt, error)

	// ListLedgerRawEvents returns every raw financial record for a project,
	// the input of the ledger projection.
	ListLedgerRawEvents(ctx context.Context, projectID ProjectID) (*RawLedgerEvents, error)
}

// PaymentFilter narrows ListPayments. Nil fields match everything.
type PaymentFilter struct {
	BillingID *BillingID
	ProjectID *ProjectID
}

// RawLedgerEvents bundles the heterogeneous inputs of a project ledger.
type RawLedgerEvents struct {
	Allocations []Allocation
	Invoices    []Invoice
	Payments    []Payment
	Receipts    []Receipt
}
