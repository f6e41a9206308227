/*
payment.go - The non-transactional payment protocol

PURPOSE:
  Orchestrates "ensure linkage -> validate project -> record payment ->
  transition to PAID" as one logical operation. No shared rollback exists
  across the two stores, so this is a saga with one compensating READ:
  a payment that landed without the PAID transition is detectable, and the
  status read path derives PAID from payment existence.

FAILURE SEMANTICS:
  Every failure reports exactly how far the operation got (PaymentStage).
  - Before any mutating call: fail-fast, retryable with backoff.
  - Payment created but PAID transition failed: the payment is returned
    ALONGSIDE the staged error. The caller retries only the transition
    (RetryMarkPaid), which is idempotent - setting the same terminal value
    twice is a no-op.
  Nothing is swallowed and nothing is silently repaired.

SEE ALSO:
  - reconcile.go: step 1 of the protocol
  - status.go: the derive-PAID-from-payments repair path
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT STAGES - How far a failed operation got
// =============================================================================

type PaymentStage string

const (
	StageReconcile     PaymentStage = "reconcile"      // ensuring the billing record
	StageValidate      PaymentStage = "validate"       // cross-entity checks
	StageCreatePayment PaymentStage = "create_payment" // the money-moving write
	StageMarkPaid      PaymentStage = "mark_paid"      // the status transition
)

// PaymentError wraps a failure with the stage it occurred in. Stages before
// create_payment imply no mutation happened; a mark_paid failure implies the
// payment exists and only the transition is outstanding.
type PaymentError struct {
	Stage PaymentStage
	Err   error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment failed at stage %s: %v", e.Stage, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// =============================================================================
// PAYMENT RECORDER
// =============================================================================

type PaymentRecorder struct {
	Reconciler *Reconciler
	Billing    BillingStore
}

func NewPaymentRecorder(reconciler *Reconciler, billing BillingStore) *PaymentRecorder {
	return &PaymentRecorder{Reconciler: reconciler, Billing: billing}
}

// RecordPaymentInput carries everything needed to record one payment.
type RecordPaymentInput struct {
	RequestID RequestID
	ProjectID ProjectID
	Amount    decimal.Decimal
	Currency  string
	Date      time.Time
	Reference string
}

// RecordPayment runs the four-step protocol. On a mark_paid failure the
// created payment is returned together with the staged error so the caller
// can retry just the transition.
func (pr *PaymentRecorder) RecordPayment(ctx context.Context, in RecordPaymentInput) (*Payment, error) {
	if in.RequestID == "" || in.ProjectID == "" || !in.Amount.IsPositive() {
		return nil, &PaymentError{Stage: StageValidate, Err: ErrInvalidInput}
	}

	// 1. Ensure linkage. Fail-fast: nothing has happened yet.
	rec, err := pr.Reconciler.EnsureBillingRecord(ctx, in.RequestID, in.ProjectID, in.Amount)
	if err != nil {
		return nil, &PaymentError{Stage: StageReconcile, Err: err}
	}

	// 2. Cross-entity consistency: the payment's project must equal the
	// billing record's project. Never silently reassign.
	if rec.ProjectID != in.ProjectID {
		return nil, &PaymentError{Stage: StageValidate, Err: &ProjectMismatchError{
			RequestID: in.RequestID,
			BillingID: rec.ID,
			Want:      rec.ProjectID,
			Got:       in.ProjectID,
		}}
	}

	// 3. The money-moving write.
	payment, err := pr.Billing.CreatePayment(ctx, Payment{
		ID:        PaymentID(uuid.New().String()),
		BillingID: rec.ID,
		ProjectID: in.ProjectID,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Date:      in.Date,
		Reference: in.Reference,
	})
	if err != nil {
		// The write may or may not have landed upstream. Not blindly
		// retryable: the caller must check for the payment first.
		return nil, &PaymentError{Stage: StageCreatePayment,
			Err: &UpstreamError{Store: "billing", Op: "CreatePayment", Retryable: false, Err: err}}
	}

	// 4. Transition to PAID. A failure here leaves a detectable state: a
	// non-PAID record with a payment against it. Return the payment anyway.
	if err := pr.Billing.SetBillingStatus(ctx, rec.ID, BillingPaid); err != nil {
		return payment, &PaymentError{Stage: StageMarkPaid,
			Err: &UpstreamError{Store: "billing", Op: "SetBillingStatus", Retryable: false, Err: err}}
	}

	return payment, nil
}

// RetryMarkPaid re-attempts the final transition. Always safe: transitioning
// to the same terminal value is idempotent.
func (pr *PaymentRecorder) RetryMarkPaid(ctx context.Context, billingID BillingID) error {
	if err := pr.Billing.SetBillingStatus(ctx, billingID, BillingPaid); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &UpstreamError{Store: "billing", Op: "SetBillingStatus", Retryable: false, Err: err}
	}
	return nil
}

// =============================================================================
// CONSISTENCY DETECTION
// =============================================================================

// ConsistencyReport describes whether a billing record's stored status
// agrees with its recorded payments.
type ConsistencyReport struct {
	BillingID    BillingID
	StoredStatus BillingStatus
	PaymentCount int
	Consistent   bool
}

// Err returns the InconsistentStateError for an inconsistent report, nil
// otherwise.
func (r *ConsistencyReport) Err() error {
	if r.Consistent {
		return nil
	}
	return &InconsistentStateError{
		BillingID:    r.BillingID,
		StoredStatus: r.StoredStatus,
		PaymentCount: r.PaymentCount,
	}
}

// CheckConsistency compares the stored status with the payment list. The
// divergence is reported, never auto-repaired: the read path already derives
// PAID from payment existence, and RetryMarkPaid is the explicit fix.
func (pr *PaymentRecorder) CheckConsistency(ctx context.Context, billingID BillingID) (*ConsistencyReport, error) {
	rec, err := pr.Billing.GetBillingRecord(ctx, billingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, &UpstreamError{Store: "billing", Op: "GetBillingRecord", Retryable: true, Err: err}
	}

	payments, err := pr.Billing.ListPayments(ctx, PaymentFilter{BillingID: &billingID})
	if err != nil {
		return nil, &UpstreamError{Store: "billing", Op: "ListPayments", Retryable: true, Err: err}
	}

	return &ConsistencyReport{
		BillingID:    billingID,
		StoredStatus: rec.Status,
		PaymentCount: len(payments),
		Consistent:   len(payments) == 0 || rec.Status == BillingPaid,
	}, nil
}

// ResolveRequestStatus is the read-side entry point: it derives the display
// status for a request, preferring payment presence over the stored billing
// status whenever a billing record is linked.
func (pr *PaymentRecorder) ResolveRequestStatus(ctx context.Context, req *Request) (DisplayStatus, bool, error) {
	rec, err := pr.Reconciler.linkedRecord(ctx, req.ID)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return ResolveStatus(req.AccountantStage, req.DirectorStage, nil), false, nil
	}

	payments, err := pr.Billing.ListPayments(ctx, PaymentFilter{BillingID: &rec.ID})
	if err != nil {
		// Payments not queryable right now: fall back to the stored status.
		status := rec.Status
		return ResolveStatus(req.AccountantStage, req.DirectorStage, &status), false, nil
	}

	status := rec.Status
	display, derived := ResolveStatusFromPayments(req.AccountantStage, req.DirectorStage, &status, payments)
	return display, derived, nil
}
