package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/approval-engine/billing"
	memstore "github.com/meridian/approval-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*billing.LedgerBuilder, *memstore.MemoryBilling) {
	t.Helper()
	bills := memstore.NewMemoryBilling()
	return billing.NewLedgerBuilder(bills), bills
}

func day(d int) time.Time {
	return time.Date(2025, time.June, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// SIGN CONVENTION
// =============================================================================

func TestNormalizeEvents_Signs(t *testing.T) {
	// GIVEN: One raw record of each kind
	// WHEN: Normalizing to signed events
	// THEN: Budget/grant positive, invoice/payment negative, receipt zero

	raw := &billing.RawLedgerEvents{
		Allocations: []billing.Allocation{
			{ID: "a1", Amount: dec("1000"), Date: day(1), Budget: true},
			{ID: "a2", Amount: dec("-200"), Date: day(2)},
		},
		Invoices: []billing.Invoice{
			{ID: "i1", Total: dec("150"), Date: day(3), Valid: true},
		},
		Payments: []billing.Payment{
			{ID: "p1", Amount: dec("150"), Date: day(4)},
		},
		Receipts: []billing.Receipt{
			{ID: "r1", Date: day(5)},
		},
	}

	events := billing.NormalizeEvents(raw)
	require.Len(t, events, 5)

	byID := make(map[string]billing.LedgerEvent)
	for _, ev := range events {
		byID[ev.SourceID] = ev
	}

	assert.Equal(t, billing.EventBudget, byID["a1"].Kind)
	assert.True(t, byID["a1"].Amount.Equal(dec("1000")))

	assert.Equal(t, billing.EventAllocation, byID["a2"].Kind)
	assert.True(t, byID["a2"].Amount.Equal(dec("-200")))

	assert.Equal(t, billing.EventInvoice, byID["i1"].Kind)
	assert.True(t, byID["i1"].Amount.Equal(dec("-150")))

	assert.Equal(t, billing.EventPayment, byID["p1"].Kind)
	assert.True(t, byID["p1"].Amount.Equal(dec("-150")))

	assert.Equal(t, billing.EventReceipt, byID["r1"].Kind)
	assert.True(t, byID["r1"].Amount.IsZero())
}

func TestNormalizeEvents_InvalidInvoiceExcluded(t *testing.T) {
	// An invalidated invoice carries no ledger weight at all.
	raw := &billing.RawLedgerEvents{
		Invoices: []billing.Invoice{
			{ID: "i1", Total: dec("500"), Date: day(1), Valid: false},
		},
	}
	assert.Empty(t, billing.NormalizeEvents(raw))
}

// =============================================================================
// BALANCE PROPERTIES
// =============================================================================

func TestBuildLedger_BalanceAndOrdering(t *testing.T) {
	// GIVEN: Grants and spends across several days, inserted out of order
	// WHEN: Building the ledger
	// THEN: Events come back date-descending; balance is the signed sum

	b, bills := newTestLedger(t)
	ctx := context.Background()

	_, err := b.GrantBudget(ctx, "proj-a", "annual budget", dec("1000"), day(1))
	require.NoError(t, err)

	_, err = bills.CreateBillingRecord(ctx, billing.BillingRecord{ID: "bill-1", ProjectID: "proj-a", Amount: dec("150"), Concept: "chairs"})
	require.NoError(t, err)
	_, err = bills.RegisterInvoice(ctx, billing.Invoice{BillingID: "bill-1", Number: "INV-9", Date: day(5), Total: dec("150"), Valid: true})
	require.NoError(t, err)

	_, err = bills.CreatePayment(ctx, billing.Payment{BillingID: "bill-1", ProjectID: "proj-a", Amount: dec("150"), Date: day(3)})
	require.NoError(t, err)

	ledger, err := b.BuildLedger(ctx, "proj-a")
	require.NoError(t, err)

	require.Len(t, ledger.Events, 3)
	assert.True(t, ledger.Balance.Equal(dec("700")), "1000 - 150 - 150, got %s", ledger.Balance)

	// Descending display order.
	for i := 1; i < len(ledger.Events); i++ {
		assert.False(t, ledger.Events[i-1].Date.Before(ledger.Events[i].Date),
			"events must be date-descending")
	}

	// Totals break the balance down by kind.
	assert.True(t, ledger.Totals[billing.EventBudget].Equal(dec("1000")))
	assert.True(t, ledger.Totals[billing.EventInvoice].Equal(dec("-150")))
	assert.True(t, ledger.Totals[billing.EventPayment].Equal(dec("-150")))
}

func TestRunningBalance_OrderIndependent(t *testing.T) {
	// The balance is a sum of signed amounts, so event order is irrelevant.
	ctx := context.Background()

	entries := []billing.Allocation{
		{ID: "a1", ProjectID: "proj-a", Amount: dec("500"), Date: day(3), Budget: true},
		{ID: "a2", ProjectID: "proj-a", Amount: dec("250.25"), Date: day(1), Budget: true},
		{ID: "a3", ProjectID: "proj-a", Amount: dec("-100.25"), Date: day(2)},
	}
	reversed := []billing.Allocation{entries[2], entries[1], entries[0]}

	// Pure level: normalizing the same raw events in either order sums to
	// the same balance.
	sum := func(allocs []billing.Allocation) decimal.Decimal {
		total := decimal.Zero
		for _, ev := range billing.NormalizeEvents(&billing.RawLedgerEvents{Allocations: allocs}) {
			total = total.Add(ev.Amount)
		}
		return total
	}
	assert.True(t, sum(entries).Equal(sum(reversed)))
	assert.True(t, sum(entries).Equal(dec("650")))

	// Store level: two stores fed the grants in different orders agree. The
	// commitment goes last in both so the balance guard holds at every step.
	forward, fStore := newTestLedger(t)
	for _, a := range []billing.Allocation{entries[0], entries[1], entries[2]} {
		_, err := fStore.CreateAllocation(ctx, a)
		require.NoError(t, err)
	}

	backward, bStore := newTestLedger(t)
	for _, a := range []billing.Allocation{entries[1], entries[0], entries[2]} {
		_, err := bStore.CreateAllocation(ctx, a)
		require.NoError(t, err)
	}

	fBal, err := forward.RunningBalance(ctx, "proj-a")
	require.NoError(t, err)
	bBal, err := backward.RunningBalance(ctx, "proj-a")
	require.NoError(t, err)

	assert.True(t, fBal.Equal(bBal))
	assert.True(t, fBal.Equal(dec("650")))
}

// =============================================================================
// BALANCE INVARIANT
// =============================================================================

func TestCreateCommitment_GuardRejectsOverdraw(t *testing.T) {
	// GIVEN: A project holding 100
	// WHEN: Committing 150
	// THEN: InsufficientFundsError carrying the available balance; nothing written

	b, bills := newTestLedger(t)
	ctx := context.Background()

	_, err := b.GrantBudget(ctx, "proj-a", "seed", dec("100"), day(1))
	require.NoError(t, err)

	_, err = b.CreateCommitment(ctx, "proj-a", "too much", dec("150"), day(2))

	var funds *billing.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.True(t, funds.Available.Equal(dec("100")))
	assert.True(t, funds.Requested.Equal(dec("150")))

	raw, err := bills.ListLedgerRawEvents(ctx, "proj-a")
	require.NoError(t, err)
	assert.Len(t, raw.Allocations, 1, "the rejected commitment was never written")
}

func TestCreateCommitment_ExactBalanceAllowed(t *testing.T) {
	// Committing exactly the available balance drives it to zero, which the
	// invariant permits.
	b, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := b.GrantBudget(ctx, "proj-a", "seed", dec("100"), day(1))
	require.NoError(t, err)

	alloc, err := b.CreateCommitment(ctx, "proj-a", "all of it", dec("100"), day(2))
	require.NoError(t, err)
	assert.True(t, alloc.Amount.Equal(dec("-100")), "stored negative")

	balance, err := b.RunningBalance(ctx, "proj-a")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestGrantBudget_RejectsNonPositive(t *testing.T) {
	b, _ := newTestLedger(t)

	_, err := b.GrantBudget(context.Background(), "proj-a", "zero", decimal.Zero, day(1))
	assert.ErrorIs(t, err, billing.ErrInvalidInput)

	_, err = b.GrantBudget(context.Background(), "proj-a", "negative", dec("-5"), day(1))
	assert.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestMemoryStore_ServerSideGuard(t *testing.T) {
	// The store re-checks the invariant independently of the builder.
	bills := memstore.NewMemoryBilling()
	ctx := context.Background()

	_, err := bills.CreateAllocation(ctx, billing.Allocation{
		ID: "a1", ProjectID: "proj-a", Amount: dec("50"), Date: day(1), Budget: true,
	})
	require.NoError(t, err)

	_, err = bills.CreateAllocation(ctx, billing.Allocation{
		ID: "a2", ProjectID: "proj-a", Amount: dec("-60"), Date: day(2),
	})
	assert.ErrorIs(t, err, billing.ErrInsufficientFunds)
}
