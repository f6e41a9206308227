package billing_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/approval-engine/billing"
	memstore "github.com/meridian/approval-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestReconciler(t *testing.T) (*billing.Reconciler, *memstore.MemoryRequests, *memstore.MemoryBilling) {
	t.Helper()
	requests := memstore.NewMemoryRequests()
	bills := memstore.NewMemoryBilling()
	return billing.NewReconciler(requests, bills), requests, bills
}

func seedRequest(t *testing.T, requests *memstore.MemoryRequests, id, title string, amount *decimal.Decimal) {
	t.Helper()
	_, err := requests.CreateRequest(context.Background(), billing.Request{
		ID:     billing.RequestID(id),
		Title:  title,
		Amount: amount,
	})
	require.NoError(t, err)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// =============================================================================
// DIRECT LOOKUP FAST PATH
// =============================================================================

func TestEnsureBillingRecord_DirectHit(t *testing.T) {
	// GIVEN: A billing record whose id equals the request id
	// WHEN: Ensuring the record
	// THEN: It is returned directly; nothing is created

	r, _, bills := newTestReconciler(t)
	ctx := context.Background()

	existing, err := bills.CreateBillingRecord(ctx, billing.BillingRecord{
		ID:        "req-1",
		ProjectID: "proj-a",
		Amount:    dec("100"),
		Concept:   "laptops",
	})
	require.NoError(t, err)

	got, err := r.EnsureBillingRecord(ctx, "req-1", "proj-a", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Equal(t, 1, bills.CreateCalls(), "no second create")
}

// =============================================================================
// FALLBACK CREATE
// =============================================================================

func TestEnsureBillingRecord_CreatesWhenAbsent(t *testing.T) {
	// GIVEN: A request with an amount and no billing record anywhere
	// WHEN: Ensuring the record
	// THEN: A PENDING record is created carrying the derived concept

	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	seedRequest(t, requests, "req-2", "Office chairs", decPtr("450.00"))

	got, err := r.EnsureBillingRecord(ctx, "req-2", "proj-a", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, billing.RequestID("req-2"), got.RequestID)
	assert.Equal(t, billing.BillingPending, got.Status)
	assert.Equal(t, "Office chairs", got.Concept)
	assert.True(t, got.Amount.Equal(dec("450.00")))
	assert.Equal(t, 1, bills.CreateCalls())
}

func TestEnsureBillingRecord_FallbackAmountUsedWhenRequestHasNone(t *testing.T) {
	r, requests, _ := newTestReconciler(t)
	ctx := context.Background()

	seedRequest(t, requests, "req-3", "Travel", nil)

	got, err := r.EnsureBillingRecord(ctx, "req-3", "proj-a", dec("320.10"))
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("320.10")))
}

func TestEnsureBillingRecord_PlaceholderConcept(t *testing.T) {
	// A request with neither title nor description still yields a usable,
	// bounded concept.
	r, requests, _ := newTestReconciler(t)
	ctx := context.Background()

	seedRequest(t, requests, "req-4", "", nil)

	got, err := r.EnsureBillingRecord(ctx, "req-4", "proj-a", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "request req-4", got.Concept)
}

func TestEnsureBillingRecord_ConceptBounded(t *testing.T) {
	r, requests, _ := newTestReconciler(t)
	r.ConceptMaxLen = 16
	ctx := context.Background()

	seedRequest(t, requests, "req-5", strings.Repeat("long title ", 20), nil)

	got, err := r.EnsureBillingRecord(ctx, "req-5", "proj-a", decimal.Zero)
	require.NoError(t, err)
	assert.Len(t, []rune(got.Concept), 16)
}

func TestEnsureBillingRecord_MissingRequestIsNotFound(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	_, err := r.EnsureBillingRecord(context.Background(), "ghost", "proj-a", decimal.Zero)
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// IDEMPOTENCE
// =============================================================================

func TestEnsureBillingRecord_Idempotent(t *testing.T) {
	// GIVEN: A request already reconciled once
	// WHEN: Ensuring it five more times
	// THEN: Every call resolves to the same record; exactly one create happened

	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	seedRequest(t, requests, "req-6", "Monitors", decPtr("900"))

	first, err := r.EnsureBillingRecord(ctx, "req-6", "proj-a", decimal.Zero)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		got, err := r.EnsureBillingRecord(ctx, "req-6", "proj-a", decimal.Zero)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	}
	assert.Equal(t, 1, bills.CreateCalls(), "exactly one create across six calls")
}

func TestEnsureBillingRecord_ConcurrentCallsConverge(t *testing.T) {
	// GIVEN: Ten goroutines ensuring the same request at once
	// WHEN: They all finish
	// THEN: All resolve to one record identity and at most one create happened

	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	seedRequest(t, requests, "req-7", "Servers", decPtr("5000"))

	var wg sync.WaitGroup
	results := make([]billing.BillingID, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := r.EnsureBillingRecord(ctx, "req-7", "proj-a", decimal.Zero)
			errs[i] = err
			if rec != nil {
				results[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i], "all callers see the same record")
	}
	assert.Equal(t, 1, bills.CreateCalls(), "duplicates never created under contention")
}

// =============================================================================
// HEURISTIC MATCHING - Conservative by construction
// =============================================================================

func TestEnsureBillingRecord_HeuristicLinksSingleMatch(t *testing.T) {
	// GIVEN: An out-of-band record whose concept contains the request title
	//        and whose amount matches exactly
	// WHEN: Ensuring the request
	// THEN: The existing record is linked; nothing is created

	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	existing, err := bills.CreateBillingRecord(ctx, billing.BillingRecord{
		ID:        "bill-77", // id space differs from the request id
		ProjectID: "proj-a",
		Amount:    dec("250"),
		Concept:   "Q3 office chairs order",
	})
	require.NoError(t, err)

	seedRequest(t, requests, "req-8", "office chairs", decPtr("250"))

	got, err := r.EnsureBillingRecord(ctx, "req-8", "proj-a", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Equal(t, 1, bills.CreateCalls())
}

func TestEnsureBillingRecord_AmbiguousMatchRejected(t *testing.T) {
	// GIVEN: Two records both matching the derived signature
	// WHEN: Ensuring the request
	// THEN: AmbiguousMatchError with both candidate ids; nothing created

	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	_, err := bills.CreateBillingRecord(ctx, billing.BillingRecord{
		ID: "bill-1", ProjectID: "proj-a", Amount: dec("250"), Concept: "office chairs batch 1",
	})
	require.NoError(t, err)
	_, err = bills.CreateBillingRecord(ctx, billing.BillingRecord{
		ID: "bill-2", ProjectID: "proj-a", Amount: dec("250"), Concept: "office chairs batch 2",
	})
	require.NoError(t, err)

	seedRequest(t, requests, "req-9", "office chairs", decPtr("250"))

	_, err = r.EnsureBillingRecord(ctx, "req-9", "proj-a", decimal.Zero)

	var amb *billing.AmbiguousMatchError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.CandidateIDs, 2)
	assert.Equal(t, 2, bills.CreateCalls(), "only the two seeded creates")
}

func TestEnsureBillingRecord_AmountMismatchSkipsHeuristic(t *testing.T) {
	// GIVEN: A concept match whose amount differs from the request amount
	// WHEN: Ensuring the request
	// THEN: No link; a fresh record is created instead

	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	_, err := bills.CreateBillingRecord(ctx, billing.BillingRecord{
		ID: "bill-3", ProjectID: "proj-a", Amount: dec("999"), Concept: "office chairs",
	})
	require.NoError(t, err)

	seedRequest(t, requests, "req-10", "office chairs", decPtr("250"))

	got, err := r.EnsureBillingRecord(ctx, "req-10", "proj-a", decimal.Zero)
	require.NoError(t, err)
	assert.NotEqual(t, billing.BillingID("bill-3"), got.ID)
	assert.Equal(t, billing.RequestID("req-10"), got.RequestID)
}

func TestMatchCandidates_Pure(t *testing.T) {
	records := []billing.BillingRecord{
		{ID: "a", Concept: "Office Chairs Order", Amount: dec("250")},
		{ID: "b", Concept: "chairs", Amount: dec("250")},
		{ID: "c", Concept: "desks", Amount: dec("250")},
		{ID: "d", Concept: "", Amount: dec("250")},
		{ID: "e", RequestID: "req-other", Concept: "office chairs", Amount: dec("250")},
	}

	tests := []struct {
		name      string
		requestID billing.RequestID
		concept   string
		amount    *decimal.Decimal
		wantIDs   []billing.BillingID
	}{
		{"substring either direction", "req-x", "office chairs", decPtr("250"), []billing.BillingID{"a", "b"}},
		{"amount filters", "req-x", "office chairs", decPtr("999"), nil},
		{"nil amount matches on concept only", "req-x", "office chairs", nil, []billing.BillingID{"a", "b"}},
		{"empty concept matches nothing", "req-x", "", decPtr("250"), nil},
		{"own link stays eligible", "req-other", "office chairs", decPtr("250"), []billing.BillingID{"a", "b", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := billing.MatchCandidates(records, tt.requestID, tt.concept, tt.amount)
			var ids []billing.BillingID
			for _, rec := range got {
				ids = append(ids, rec.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestEnsureBillingRecord_LinkedRecordNeverPoached(t *testing.T) {
	// GIVEN: Two requests sharing title, amount, and project
	// WHEN: Reconciling both
	// THEN: Each resolves to its own record; the second never links the first's

	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	seedRequest(t, requests, "req-12", "office chairs", decPtr("250"))
	seedRequest(t, requests, "req-13", "office chairs", decPtr("250"))

	first, err := r.EnsureBillingRecord(ctx, "req-12", "proj-a", decimal.Zero)
	require.NoError(t, err)

	second, err := r.EnsureBillingRecord(ctx, "req-13", "proj-a", decimal.Zero)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "one record must never serve two requests")
	assert.Equal(t, billing.RequestID("req-13"), second.RequestID)
	assert.Equal(t, 2, bills.CreateCalls())
}

func TestEnsureBillingRecord_DirectHitLinkedElsewhereIgnored(t *testing.T) {
	// A record that happens to carry the request's id but is linked to a
	// different request is an id-space collision, not a match.
	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	_, err := bills.CreateBillingRecord(ctx, billing.BillingRecord{
		ID: "req-14", RequestID: "req-99", ProjectID: "proj-a", Amount: dec("10"), Concept: "stamps",
	})
	require.NoError(t, err)

	seedRequest(t, requests, "req-14", "binders", decPtr("75"))

	got, err := r.EnsureBillingRecord(ctx, "req-14", "proj-a", decimal.Zero)
	require.NoError(t, err)
	assert.NotEqual(t, billing.BillingID("req-14"), got.ID)
	assert.Equal(t, billing.RequestID("req-14"), got.RequestID)
}

func TestEnsureBillingRecord_DirectHitProjectMismatch(t *testing.T) {
	// GIVEN: An id-space collision with a record living in another project
	// WHEN: Ensuring from the caller's project
	// THEN: ProjectMismatchError at reconcile time, before any money moves

	r, requests, bills := newTestReconciler(t)
	ctx := context.Background()

	_, err := bills.CreateBillingRecord(ctx, billing.BillingRecord{
		ID: "req-15", ProjectID: "proj-b", Amount: dec("40"), Concept: "couriers",
	})
	require.NoError(t, err)

	seedRequest(t, requests, "req-15", "couriers", decPtr("40"))

	_, err = r.EnsureBillingRecord(ctx, "req-15", "proj-a", decimal.Zero)

	var mismatch *billing.ProjectMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, billing.ProjectID("proj-b"), mismatch.Want)
	assert.Equal(t, billing.ProjectID("proj-a"), mismatch.Got)
	assert.Equal(t, 1, bills.CreateCalls(), "nothing created behind the mismatch")
}

// =============================================================================
// UPSTREAM FAILURE SEMANTICS
// =============================================================================

// failingRequests simulates an unreachable request store.
type failingRequests struct{}

func (failingRequests) GetRequest(context.Context, billing.RequestID) (*billing.Request, error) {
	return nil, errors.New("connection refused")
}

func TestEnsureBillingRecord_UpstreamFailureIsRetryable(t *testing.T) {
	// GIVEN: The request store is unreachable and no record exists yet
	// WHEN: Ensuring the record
	// THEN: UpstreamError marked retryable; no mutation was issued

	bills := memstore.NewMemoryBilling()
	r := billing.NewReconciler(failingRequests{}, bills)

	_, err := r.EnsureBillingRecord(context.Background(), "req-11", "proj-a", decimal.Zero)

	require.Error(t, err)
	assert.True(t, billing.IsRetryable(err), "pre-mutation failure must be retryable")
	assert.ErrorIs(t, err, billing.ErrUpstreamUnavailable)
	assert.Equal(t, 0, bills.CreateCalls())
}
