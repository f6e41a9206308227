// Package store provides in-memory implementations of the billing and
// request store interfaces for testing and development.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian/approval-engine/billing"
)

// =============================================================================
// MEMORY REQUEST STORE
// =============================================================================

type MemoryRequests struct {
	mu       sync.RWMutex
	requests map[billing.RequestID]billing.Request
}

func NewMemoryRequests() *MemoryRequests {
	return &MemoryRequests{requests: make(map[billing.RequestID]billing.Request)}
}

func (m *MemoryRequests) GetRequest(_ context.Context, id billing.RequestID) (*billing.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return &req, nil
}

func (m *MemoryRequests) CreateRequest(_ context.Context, req billing.Request) (*billing.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.ID == "" {
		req.ID = billing.RequestID(uuid.New().String())
	}
	if req.AccountantStage == "" {
		req.AccountantStage = billing.AccountantPending
	}
	if req.DirectorStage == "" {
		req.DirectorStage = billing.DirectorPending
	}
	m.requests[req.ID] = req
	return &req, nil
}

func (m *MemoryRequests) SetAccountantStage(_ context.Context, id billing.RequestID, stage billing.AccountantStage, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return billing.ErrNotFound
	}
	req.AccountantStage = stage
	req.AccountantComment = comment
	m.requests[id] = req
	return nil
}

func (m *MemoryRequests) SetDirectorStage(_ context.Context, id billing.RequestID, stage billing.DirectorStage, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return billing.ErrNotFound
	}
	// The director may only act once the accountant validated.
	if stage != billing.DirectorPending && req.AccountantStage != billing.AccountantValidated {
		return billing.ErrStageOrder
	}
	req.DirectorStage = stage
	req.DirectorComment = comment
	m.requests[id] = req
	return nil
}

// =============================================================================
// MEMORY BILLING STORE
// =============================================================================

type MemoryBilling struct {
	mu          sync.RWMutex
	records     map[billing.BillingID]billing.BillingRecord
	byRequest   map[billing.RequestID]billing.BillingID
	allocations []billing.Allocation
	payments    []billing.Payment
	invoices    map[billing.InvoiceID]billing.Invoice
	byBilling   map[billing.BillingID]billing.InvoiceID
	receipts    []billing.Receipt

	// createCalls counts CreateBillingRecord attempts that actually wrote a
	// record. Exposed for idempotency tests.
	createCalls int
}

func NewMemoryBilling() *MemoryBilling {
	return &MemoryBilling{
		records:   make(map[billing.BillingID]billing.BillingRecord),
		byRequest: make(map[billing.RequestID]billing.BillingID),
		invoices:  make(map[billing.InvoiceID]billing.Invoice),
		byBilling: make(map[billing.BillingID]billing.InvoiceID),
	}
}

// CreateCalls reports how many billing records were actually created.
func (m *MemoryBilling) CreateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createCalls
}

func (m *MemoryBilling) GetBillingRecord(_ context.Context, id billing.BillingID) (*billing.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryBilling) CreateBillingRecord(_ context.Context, rec billing.BillingRecord) (*billing.BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Uniqueness per request id: the second line of defense the reconciler
	// relies on under concurrent creates.
	if rec.RequestID != "" {
		if _, exists := m.byRequest[rec.RequestID]; exists {
			return nil, billing.ErrDuplicateRecord
		}
	}
	if rec.ID == "" {
		rec.ID = billing.BillingID(uuid.New().String())
	}
	if _, exists := m.records[rec.ID]; exists {
		return nil, billing.ErrDuplicateRecord
	}
	if rec.Status == "" {
		rec.Status = billing.BillingPending
	}

	m.records[rec.ID] = rec
	if rec.RequestID != "" {
		m.byRequest[rec.RequestID] = rec.ID
	}
	m.createCalls++
	return &rec, nil
}

func (m *MemoryBilling) FindBillingRecordByRequest(_ context.Context, requestID billing.RequestID) (*billing.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRequest[requestID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	rec := m.records[id]
	return &rec, nil
}

func (m *MemoryBilling) ListBillingRecords(_ context.Context, projectID billing.ProjectID) ([]billing.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.BillingRecord
	for _, rec := range m.records {
		if rec.ProjectID == projectID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryBilling) SetBillingStatus(_ context.Context, id billing.BillingID, status billing.BillingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return billing.ErrNotFound
	}
	rec.Status = status
	m.records[id] = rec
	return nil
}

func (m *MemoryBilling) CreateAllocation(_ context.Context, alloc billing.Allocation) (*billing.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Server-side balance guard: second line of defense behind the ledger
	// builder's own check.
	if alloc.Amount.IsNegative() {
		balance := m.balanceLocked(alloc.ProjectID)
		if balance.Add(alloc.Amount).IsNegative() {
			return nil, &billing.InsufficientFundsError{
				ProjectID: alloc.ProjectID,
				Available: balance,
				Requested: alloc.Amount.Neg(),
			}
		}
	}

	if alloc.ID == "" {
		alloc.ID = billing.AllocationID(uuid.New().String())
	}
	m.allocations = append(m.allocations, alloc)
	return &alloc, nil
}

func (m *MemoryBilling) CreatePayment(_ context.Context, p billing.Payment) (*billing.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = billing.PaymentID(uuid.New().String())
	}
	m.payments = append(m.payments, p)
	return &p, nil
}

func (m *MemoryBilling) ListPayments(_ context.Context, filter billing.PaymentFilter) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Payment
	for _, p := range m.payments {
		if filter.BillingID != nil && p.BillingID != *filter.BillingID {
			continue
		}
		if filter.ProjectID != nil && p.ProjectID != *filter.ProjectID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryBilling) RegisterInvoice(_ context.Context, inv billing.Invoice) (*billing.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[inv.BillingID]; !ok {
		return nil, billing.ErrNotFound
	}
	if _, exists := m.byBilling[inv.BillingID]; exists {
		return nil, billing.ErrDuplicateInvoice
	}
	if inv.ID == "" {
		inv.ID = billing.InvoiceID(uuid.New().String())
	}

	m.invoices[inv.ID] = inv
	m.byBilling[inv.BillingID] = inv.ID
	return &inv, nil
}

func (m *MemoryBilling) SetInvoiceValidity(_ context.Context, id billing.InvoiceID, valid bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok {
		return billing.ErrNotFound
	}
	inv.Valid = valid
	m.invoices[id] = inv
	return nil
}

func (m *MemoryBilling) CreateReceipt(_ context.Context, r billing.Receipt) (*billing.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = billing.ReceiptID(uuid.New().String())
	}
	m.receipts = append(m.receipts, r)
	return &r, nil
}

func (m *MemoryBilling) ListLedgerRawEvents(_ context.Context, projectID billing.ProjectID) (*billing.RawLedgerEvents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw := &billing.RawLedgerEvents{}
	for _, a := range m.allocations {
		if a.ProjectID == projectID {
			raw.Allocations = append(raw.Allocations, a)
		}
	}
	for _, inv := range m.invoices {
		if rec, ok := m.records[inv.BillingID]; ok && rec.ProjectID == projectID {
			raw.Invoices = append(raw.Invoices, inv)
		}
	}
	for _, p := range m.payments {
		if p.ProjectID == projectID {
			raw.Payments = append(raw.Payments, p)
		}
	}
	for _, r := range m.receipts {
		if r.ProjectID == projectID {
			raw.Receipts = append(raw.Receipts, r)
		}
	}
	return raw, nil
}

// balanceLocked sums signed ledger amounts for a project. Caller holds mu.
func (m *MemoryBilling) balanceLocked(projectID billing.ProjectID) (balance decimal.Decimal) {
	for _, a := range m.allocations {
		if a.ProjectID == projectID {
			balance = balance.Add(a.Amount)
		}
	}
	for _, inv := range m.invoices {
		if !inv.Valid {
			continue
		}
		if rec, ok := m.records[inv.BillingID]; ok && rec.ProjectID == projectID {
			balance = balance.Sub(inv.Total)
		}
	}
	for _, p := range m.payments {
		if p.ProjectID == projectID {
			balance = balance.Sub(p.Amount)
		}
	}
	return balance
}
