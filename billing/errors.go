/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error kinds in one place. Callers branch with errors.Is/errors.As;
  the API layer maps these onto HTTP statuses.

ERROR CATEGORIES:
  1. Outcome signals  - ErrNotFound drives the reconciler's fallback branch
  2. Validation       - AmbiguousMatch, InsufficientFunds, ProjectMismatch:
                        returned to the immediate caller, never auto-resolved
  3. Transport        - UpstreamError: retryable only when no mutating call
                        had been issued yet for the operation
  4. Divergence       - InconsistentState: detected post-hoc, reported, never
                        silently repaired

USAGE:
  if errors.Is(err, billing.ErrNotFound) { ... fallback ... }

  var amb *billing.AmbiguousMatchError
  if errors.As(err, &amb) { ... show amb.CandidateIDs ... }

SEE ALSO:
  - reconcile.go: raises AmbiguousMatch and ProjectMismatch, consumes NotFound
  - ledger.go: raises InsufficientFunds
  - payment.go: raises ProjectMismatch, stages partial progress
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound signals a remote entity is absent. For the reconciler this
	// is an expected outcome, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousMatch is returned when the heuristic search finds more than
	// one candidate billing record. Matching is intentionally conservative:
	// the engine never guesses between candidates that both involve money.
	ErrAmbiguousMatch = errors.New("ambiguous billing record match")

	// ErrInsufficientFunds is returned when a commitment would drive the
	// project balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrProjectMismatch is returned when a payment's project disagrees with
	// the billing record's project.
	ErrProjectMismatch = errors.New("project mismatch")

	// ErrUpstreamUnavailable is returned when either remote store is
	// unreachable or timed out. A timeout is treated identically to a
	// network error: retryable, never "assume failure and create a duplicate".
	ErrUpstreamUnavailable = errors.New("upstream store unavailable")

	// ErrInconsistentState is returned when a post-hoc divergence is detected,
	// e.g. payments exist but the stored status is not PAID.
	ErrInconsistentState = errors.New("inconsistent billing state")

	// ErrDuplicateRecord is returned by stores when a uniqueness constraint
	// rejects a create. The reconciler treats it as success-with-lookup.
	ErrDuplicateRecord = errors.New("billing record already exists")

	// ErrDuplicateInvoice is returned when a billing record already has an
	// invoice registered against it.
	ErrDuplicateInvoice = errors.New("invoice already registered")

	// ErrInvalidInput is returned for malformed operation inputs
	// (non-positive amounts, empty ids).
	ErrInvalidInput = errors.New("invalid input")

	// ErrStageOrder is returned when a director decision is attempted before
	// the accountant stage reached VALIDATED.
	ErrStageOrder = errors.New("director stage requires accountant validation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AmbiguousMatchError reports multiple billing records matching a derived
// concept. The caller must resolve manually; the engine never picks one.
type AmbiguousMatchError struct {
	RequestID    RequestID
	ProjectID    ProjectID
	Concept      string
	CandidateIDs []BillingID
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for request %s: %d billing records match concept %q in project %s",
		e.RequestID, len(e.CandidateIDs), e.Concept, e.ProjectID)
}

func (e *AmbiguousMatchError) Unwrap() error { return ErrAmbiguousMatch }

// InsufficientFundsError carries the available balance so callers can show
// exactly how short the project is. The offending entry is never written,
// neither clamped nor partially applied.
type InsufficientFundsError struct {
	ProjectID ProjectID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in project %s: available %s, requested %s",
		e.ProjectID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ProjectMismatchError reports a payment aimed at a different project than
// the billing record belongs to. Never silently reassigned.
type ProjectMismatchError struct {
	RequestID RequestID
	BillingID BillingID
	Want      ProjectID // the billing record's project
	Got       ProjectID // the caller-supplied project
}

func (e *ProjectMismatchError) Error() string {
	return fmt.Sprintf("project mismatch for billing record %s: record belongs to %s, payment targets %s",
		e.BillingID, e.Want, e.Got)
}

func (e *ProjectMismatchError) Unwrap() error { return ErrProjectMismatch }

// UpstreamError wraps a transport failure against one of the two stores.
// Retryable is true only when the failing operation had issued no mutating
// call yet, so the caller may retry with backoff without risking duplicates.
type UpstreamError struct {
	Store     string // "request" or "billing"
	Op        string // e.g. "GetBillingRecord"
	Retryable bool
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s store unavailable during %s: %v", e.Store, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause, so
// errors.Is(err, ErrUpstreamUnavailable) and checks against the wrapped
// store error (e.g. ErrNotFound) both work.
func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstreamUnavailable, e.Err} }

// InconsistentStateError reports a detected divergence between the stored
// billing status and the recorded payments.
type InconsistentStateError struct {
	BillingID    BillingID
	StoredStatus BillingStatus
	PaymentCount int
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("billing record %s has %d payment(s) but status %s",
		e.BillingID, e.PaymentCount, e.StoredStatus)
}

func (e *InconsistentStateError) Unwrap() error { return ErrInconsistentState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the caller may safely retry the whole
// operation. True only for upstream failures that happened before any
// mutating call was issued.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}

// IsClientError reports whether the error is a validation-shaped failure
// meant for user-facing display rather than retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAmbiguousMatch) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrProjectMismatch) ||
		errors.Is(err, ErrDuplicateInvoice) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrStageOrder)
}

// IsNotFound reports whether the error indicates a missing remote entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
