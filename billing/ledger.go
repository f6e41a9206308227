/*
ledger.go - Project ledger projection and the balance invariant

PURPOSE:
  Merges heterogeneous financial records (allocations, invoices, payments,
  receipts) into one time-ordered ledger per project with a running balance.
  The ledger is a computed projection: nothing here is persisted, so it can
  never diverge from the raw records.

SIGN CONVENTION:
  BUDGET and grant allocations   positive (funds in)
  commitment allocations          negative (funds reserved)
  INVOICE, PAYMENT                negative (funds out)
  RECEIPT                         zero (informational)

  Amounts are stored signed, so the balance is always a plain fold
  (balance += event.amount) in chronological order. The total is a sum of
  signed amounts and therefore independent of sort order - a testable
  commutativity property.

BALANCE INVARIANT:
  runningBalance(project) + proposedCommitment >= 0. Violations fail with
  InsufficientFundsError carrying the available balance; the entry is never
  clamped or partially applied. Stores may enforce the same rule server-side
  as a second line of defense.

SEE ALSO:
  - types.go: LedgerEvent and the sign convention
  - store.go: ListLedgerRawEvents, the projection's single input
*/
package billing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER BUILDER
// =============================================================================

type LedgerBuilder struct {
	Billing BillingStore
}

func NewLedgerBuilder(billing BillingStore) *LedgerBuilder {
	return &LedgerBuilder{Billing: billing}
}

// BuildLedger assembles the full ledger view for a project: events in date
// descending order for display, balance computed ascending.
func (b *LedgerBuilder) BuildLedger(ctx context.Context, projectID ProjectID) (*Ledger, error) {
	events, err := b.rawEvents(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// Ascending for the balance fold.
	sortEventsAscending(events)

	balance := decimal.Zero
	totals := make(map[EventKind]decimal.Decimal)
	for _, ev := range events {
		balance = balance.Add(ev.Amount)
		totals[ev.Kind] = totals[ev.Kind].Add(ev.Amount)
	}

	// Descending for display.
	reverse(events)

	return &Ledger{
		ProjectID: projectID,
		Events:    events,
		Balance:   balance,
		Totals:    totals,
	}, nil
}

// RunningBalance returns the sum of all signed amounts for a project.
func (b *LedgerBuilder) RunningBalance(ctx context.Context, projectID ProjectID) (decimal.Decimal, error) {
	events, err := b.rawEvents(ctx, projectID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := decimal.Zero
	for _, ev := range events {
		balance = balance.Add(ev.Amount)
	}
	return balance, nil
}

// =============================================================================
// FUNDS MOVEMENT - Budget grants and guarded commitments
// =============================================================================

// GrantBudget appends a positive budget allocation. No guard applies:
// granting funds can never violate the balance invariant.
func (b *LedgerBuilder) GrantBudget(ctx context.Context, projectID ProjectID, concept string, amount decimal.Decimal, date time.Time) (*Allocation, error) {
	if projectID == "" || !amount.IsPositive() {
		return nil, ErrInvalidInput
	}
	alloc, err := b.Billing.CreateAllocation(ctx, Allocation{
		ID:        AllocationID(uuid.New().String()),
		ProjectID: projectID,
		Concept:   concept,
		Amount:    amount,
		Date:      date,
		Budget:    true,
	})
	if err != nil {
		return nil, &UpstreamError{Store: "billing", Op: "CreateAllocation", Retryable: false, Err: err}
	}
	return alloc, nil
}

// CreateCommitment reserves funds: amount is the positive magnitude to
// commit, stored as a negative allocation. Fails with InsufficientFundsError
// when the project balance cannot cover it; nothing is written in that case.
func (b *LedgerBuilder) CreateCommitment(ctx context.Context, projectID ProjectID, concept string, amount decimal.Decimal, date time.Time) (*Allocation, error) {
	if projectID == "" || !amount.IsPositive() {
		return nil, ErrInvalidInput
	}

	available, err := b.RunningBalance(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if available.Sub(amount).IsNegative() {
		return nil, &InsufficientFundsError{
			ProjectID: projectID,
			Available: available,
			Requested: amount,
		}
	}

	alloc, err := b.Billing.CreateAllocation(ctx, Allocation{
		ID:        AllocationID(uuid.New().String()),
		ProjectID: projectID,
		Concept:   concept,
		Amount:    amount.Neg(),
		Date:      date,
	})
	if err != nil {
		// The store re-checks the invariant server-side; surface its verdict
		// unchanged so callers see the same error kind either way.
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, err
		}
		return nil, &UpstreamError{Store: "billing", Op: "CreateAllocation", Retryable: false, Err: err}
	}
	return alloc, nil
}

// =============================================================================
// NORMALIZATION - Raw records to signed events
// =============================================================================

func (b *LedgerBuilder) rawEvents(ctx context.Context, projectID ProjectID) ([]LedgerEvent, error) {
	raw, err := b.Billing.ListLedgerRawEvents(ctx, projectID)
	if err != nil {
		return nil, &UpstreamError{Store: "billing", Op: "ListLedgerRawEvents", Retryable: true, Err: err}
	}
	return NormalizeEvents(raw), nil
}

// NormalizeEvents converts raw records into signed LedgerEvents. Pure.
func NormalizeEvents(raw *RawLedgerEvents) []LedgerEvent {
	if raw == nil {
		return nil
	}

	events := make([]LedgerEvent, 0,
		len(raw.Allocations)+len(raw.Invoices)+len(raw.Payments)+len(raw.Receipts))

	for _, a := range raw.Allocations {
		kind := EventAllocation
		if a.Budget {
			kind = EventBudget
		}
		events = append(events, LedgerEvent{
			Kind:     kind,
			Date:     a.Date,
			Amount:   a.Amount, // already signed
			Concept:  a.Concept,
			SourceID: string(a.ID),
		})
	}

	for _, inv := range raw.Invoices {
		if !inv.Valid {
			continue // invalidated invoices carry no ledger weight
		}
		events = append(events, LedgerEvent{
			Kind:     EventInvoice,
			Date:     inv.Date,
			Amount:   inv.Total.Neg(),
			Concept:  inv.Number,
			SourceID: string(inv.ID),
		})
	}

	for _, p := range raw.Payments {
		events = append(events, LedgerEvent{
			Kind:     EventPayment,
			Date:     p.Date,
			Amount:   p.Amount.Neg(),
			Concept:  p.Reference,
			SourceID: string(p.ID),
		})
	}

	for _, r := range raw.Receipts {
		events = append(events, LedgerEvent{
			Kind:     EventReceipt,
			Date:     r.Date,
			Amount:   decimal.Zero,
			Concept:  r.Number,
			SourceID: string(r.ID),
		})
	}

	return events
}

func sortEventsAscending(events []LedgerEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].SourceID < events[j].SourceID
	})
}

func reverse(events []LedgerEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
