/*
Package billing provides the cross-system approval and reconciliation engine.

PURPOSE:
  This package contains the domain types and algorithms that keep two
  independently-owned services coherent: the request-intake service (which
  owns approval sub-states) and the billing service (which owns money).
  There is no shared transaction between them, so coherence is achieved by
  derivation and reconciliation, never by trusting stored flags.

KEY CONCEPTS IN THIS FILE (types.go):
  - Request: an expense/purchase item with two independent approval stages
  - BillingRecord: the financial twin of a Request, keyed in a DIFFERENT
    identifier space (the two ids are not guaranteed to match)
  - Allocation: a signed ledger entry granting or reserving project funds
  - Invoice / Payment / Receipt: the money-moving records
  - LedgerEvent: a computed, never-persisted projection of all of the above

DESIGN PRINCIPLES:
  1. Derived status: display status is recomputed on every read (status.go)
  2. Precision: decimal.Decimal for all amounts, no floats near money
  3. Append-only money: Allocations and Payments are created, never mutated
  4. Separate id spaces: RequestID and BillingID are distinct types so the
     compiler catches accidental mixing

SEE ALSO:
  - status.go: status derivation rules
  - reconcile.go: guarantees a BillingRecord exists per Request
  - ledger.go: signed-event projection and balance invariant
  - payment.go: the non-transactional payment protocol
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS - Distinct types per id space
// =============================================================================

// RequestID is owned by the request-intake service.
type RequestID string

// BillingID is owned by the billing service. NOT guaranteed equal to the
// RequestID of the request it tracks.
type BillingID string

type ProjectID string
type PaymentID string
type InvoiceID string
type AllocationID string
type ReceiptID string

// =============================================================================
// APPROVAL STAGES - The two independent sub-states of a Request
// =============================================================================

// AccountantStage is the first review stage.
type AccountantStage string

const (
	AccountantPending   AccountantStage = "PENDING"
	AccountantValidated AccountantStage = "VALIDATED"
	AccountantReturned  AccountantStage = "RETURNED"
)

// DirectorStage is the second review stage. It may only leave PENDING once
// the accountant stage is VALIDATED (enforced at the store boundary).
type DirectorStage string

const (
	DirectorPending  DirectorStage = "PENDING"
	DirectorApproved DirectorStage = "APPROVED"
	DirectorRejected DirectorStage = "REJECTED"
)

// BillingStatus is the billing service's own lifecycle for a record.
// Treated as a cache on reads: PAID is preferably derived from the presence
// of payments (see ResolveStatusFromPayments).
type BillingStatus string

const (
	BillingPending   BillingStatus = "PENDING"
	BillingValidated BillingStatus = "VALIDATED"
	BillingApproved  BillingStatus = "APPROVED"
	BillingRejected  BillingStatus = "REJECTED"
	BillingPaid      BillingStatus = "PAID"
)

// DisplayStatus is the single authoritative status shown to users,
// derived from the stages and billing status. Never stored.
type DisplayStatus string

const (
	StatusPending   DisplayStatus = "PENDING"
	StatusValidated DisplayStatus = "VALIDATED"
	StatusReturned  DisplayStatus = "RETURNED"
	StatusApproved  DisplayStatus = "APPROVED"
	StatusRejected  DisplayStatus = "REJECTED"
	StatusPaid      DisplayStatus = "PAID"
)

// =============================================================================
// REQUEST - Owned by the request-intake service; read-only here
// =============================================================================

type Request struct {
	ID          RequestID
	Title       string
	Description string

	AccountantStage   AccountantStage
	DirectorStage     DirectorStage
	AccountantComment string
	DirectorComment   string

	// Amount is optional: not every request carries one. When absent the
	// reconciler falls back to the caller-supplied amount.
	Amount *decimal.Decimal

	CreatedAt time.Time
}

// =============================================================================
// BILLING RECORD - The financial twin, owned by the billing service
// =============================================================================

type BillingRecord struct {
	ID BillingID

	// RequestID is a soft reference. It may be empty or stale for records
	// created out-of-band; the reconciler's heuristic match covers those.
	RequestID RequestID

	ProjectID ProjectID
	Amount    decimal.Decimal
	Concept   string
	Status    BillingStatus
	CreatedAt time.Time
}

// =============================================================================
// MONEY-MOVING RECORDS - Append-only
// =============================================================================

// Invoice is 1:1 with a BillingRecord. Immutable after creation except for
// the validity flag.
type Invoice struct {
	ID        InvoiceID
	BillingID BillingID
	Number    string
	Date      time.Time
	Total     decimal.Decimal
	Currency  string
	Valid     bool
}

// Allocation grants (positive) or commits (negative) project funds.
type Allocation struct {
	ID        AllocationID
	ProjectID ProjectID
	Concept   string
	Amount    decimal.Decimal // signed: positive = granted, negative = committed
	Date      time.Time

	// Budget marks allocations created as budget grants, which the ledger
	// projects as BUDGET events rather than generic ALLOCATION events.
	Budget bool
}

// Payment belongs to a BillingRecord and a project. Its ProjectID must equal
// the BillingRecord's ProjectID (checked at write time by the recorder).
type Payment struct {
	ID        PaymentID
	BillingID BillingID
	ProjectID ProjectID
	Amount    decimal.Decimal
	Currency  string
	Date      time.Time
	Reference string
}

// Receipt acknowledges a payment. Informational only: zero ledger weight.
type Receipt struct {
	ID        ReceiptID
	PaymentID PaymentID
	ProjectID ProjectID
	Number    string
	Date      time.Time
}

// =============================================================================
// LEDGER EVENT - Computed projection, never persisted
// =============================================================================

type EventKind string

const (
	EventBudget     EventKind = "BUDGET"
	EventAllocation EventKind = "ALLOCATION"
	EventInvoice    EventKind = "INVOICE"
	EventPayment    EventKind = "PAYMENT"
	EventReceipt    EventKind = "RECEIPT"
)

// LedgerEvent is one row of the project ledger. Amount is signed so the
// running balance is always a plain fold, independent of kind.
type LedgerEvent struct {
	Kind     EventKind
	Date     time.Time
	Amount   decimal.Decimal // signed; zero for receipts
	Concept  string
	SourceID string // id of the underlying allocation/invoice/payment/receipt
}

// Ledger is the assembled view for one project.
type Ledger struct {
	ProjectID ProjectID

	// Events sorted by date descending (display order). The running balance
	// is computed from the same events in ascending order.
	Events []LedgerEvent

	// Balance is the sum of all signed amounts.
	Balance decimal.Decimal

	// Totals breaks the balance down by event kind.
	Totals map[EventKind]decimal.Decimal
}
