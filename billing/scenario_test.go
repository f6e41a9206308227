package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/approval-engine/billing"
	memstore "github.com/meridian/approval-engine/billing/store"
)

// TestFullApprovalToPaymentScenario walks one request through the whole
// system: budget grant, approval stages, reconciliation, invoice, payment,
// receipt, and the final ledger and status views.
func TestFullApprovalToPaymentScenario(t *testing.T) {
	ctx := context.Background()

	requests := memstore.NewMemoryRequests()
	bills := memstore.NewMemoryBilling()
	reconciler := billing.NewReconciler(requests, bills)
	ledger := billing.NewLedgerBuilder(bills)
	recorder := billing.NewPaymentRecorder(reconciler, bills)

	// The project receives its budget.
	_, err := ledger.GrantBudget(ctx, "proj-lab", "FY25 lab budget", dec("10000"),
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// An employee submits a purchase request.
	req, err := requests.CreateRequest(ctx, billing.Request{
		Title:  "Oscilloscope",
		Amount: decPtr("2400"),
	})
	require.NoError(t, err)

	status, _, err := recorder.ResolveRequestStatus(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, status)

	// The director cannot act before the accountant.
	err = requests.SetDirectorStage(ctx, req.ID, billing.DirectorApproved, "premature")
	assert.ErrorIs(t, err, billing.ErrStageOrder)

	// Accountant validates, then the director approves.
	require.NoError(t, requests.SetAccountantStage(ctx, req.ID, billing.AccountantValidated, "docs complete"))
	require.NoError(t, requests.SetDirectorStage(ctx, req.ID, billing.DirectorApproved, "within budget"))

	req, err = requests.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	status, _, err = recorder.ResolveRequestStatus(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusApproved, status)

	// Reconciliation creates the billing record.
	rec, err := reconciler.EnsureBillingRecord(ctx, req.ID, "proj-lab", dec("0"))
	require.NoError(t, err)
	assert.Equal(t, billing.BillingPending, rec.Status)

	// A second reconcile is a no-op.
	again, err := reconciler.EnsureBillingRecord(ctx, req.ID, "proj-lab", dec("0"))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, 1, bills.CreateCalls())

	// The supplier invoice arrives.
	_, err = bills.RegisterInvoice(ctx, billing.Invoice{
		BillingID: rec.ID,
		Number:    "INV-2025-117",
		Date:      time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC),
		Total:     dec("2400"),
		Currency:  "EUR",
		Valid:     true,
	})
	require.NoError(t, err)

	// A duplicate invoice is rejected.
	_, err = bills.RegisterInvoice(ctx, billing.Invoice{BillingID: rec.ID, Number: "INV-dup", Total: dec("1")})
	assert.ErrorIs(t, err, billing.ErrDuplicateInvoice)

	// Payment runs the full protocol.
	payment, err := recorder.RecordPayment(ctx, billing.RecordPaymentInput{
		RequestID: req.ID,
		ProjectID: "proj-lab",
		Amount:    dec("2400"),
		Currency:  "EUR",
		Date:      time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC),
		Reference: "SEPA-0042",
	})
	require.NoError(t, err)

	// The receipt closes the loop.
	_, err = bills.CreateReceipt(ctx, billing.Receipt{
		PaymentID: payment.ID,
		ProjectID: "proj-lab",
		Number:    "RCPT-88",
		Date:      time.Date(2025, time.February, 21, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// Status now resolves to PAID.
	req, err = requests.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	status, _, err = recorder.ResolveRequestStatus(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, status)

	// Stored status and payments agree.
	report, err := recorder.CheckConsistency(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	// The ledger reflects every movement: 10000 - 2400 - 2400, receipt zero.
	view, err := ledger.BuildLedger(ctx, "proj-lab")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(dec("5200")), "balance %s", view.Balance)
	assert.Len(t, view.Events, 4)
	assert.Equal(t, billing.EventReceipt, view.Events[0].Kind, "newest event first")
	assert.True(t, view.Events[0].Amount.IsZero())
}
