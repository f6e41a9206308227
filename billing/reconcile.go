/*
reconcile.go - The reconciliation boundary between the two stores

PURPOSE:
  Guarantees a BillingRecord exists for a given Request even though the two
  services have disjoint identifier spaces and no shared transaction. This
  is the ONLY module that performs cross-store lookups; nothing UI-adjacent
  should ever call both stores ad hoc.

ALGORITHM (EnsureBillingRecord):
  1. Deterministic lookups: try the request id as a candidate billing id
     (covers aligned or pre-linked id spaces), then the RequestID link a
     previous reconciliation left behind.
  2. Fetch the authoritative Request and derive concept + amount.
  3. Heuristic search among the project's existing records: case-insensitive
     substring concept overlap, plus exact amount equality whenever the
     request exposes an amount. Records already linked to a different request
     are never candidates. Exactly one candidate links; more than one is an
     AmbiguousMatchError - the engine never guesses with money.
  4. Create a PENDING record. Immediately before the create the lookups are
     re-run, and a store-side uniqueness conflict is treated as
     success-with-lookup, so concurrent calls for the same request converge
     on one record.

IDEMPOTENCY:
  Calling EnsureBillingRecord N times (sequentially or concurrently) for the
  same request resolves to the same record identity with at most one create
  side effect.

SEE ALSO:
  - payment.go: calls this before any money-moving write
  - store.go: the NotFound and uniqueness contracts this relies on
*/
package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultConceptMaxLen bounds derived concepts (and the synthesized
// placeholder) to a displayable length.
const DefaultConceptMaxLen = 120

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler ensures the 1:1 Request-to-BillingRecord invariant
// cooperatively, since no shared constraint spans the two stores.
type Reconciler struct {
	Requests RequestStore
	Billing  BillingStore

	// ConceptMaxLen bounds derived concepts. Zero means DefaultConceptMaxLen.
	ConceptMaxLen int
}

func NewReconciler(requests RequestStore, billing BillingStore) *Reconciler {
	return &Reconciler{Requests: requests, Billing: billing}
}

// EnsureBillingRecord resolves or creates the billing record for a request.
// Idempotent and safe to call concurrently and repeatedly for the same
// request id. fallbackAmount is used when the request carries no amount.
func (r *Reconciler) EnsureBillingRecord(ctx context.Context, requestID RequestID, projectID ProjectID, fallbackAmount decimal.Decimal) (*BillingRecord, error) {
	if requestID == "" {
		return nil, ErrInvalidInput
	}

	// 1. Deterministic lookups: direct id hit, then RequestID link.
	rec, err := r.linkedRecord(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return checkProject(rec, requestID, projectID)
	}

	// 2. Not found: fetch the canonical source and derive the signature.
	req, err := r.Requests.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		// No mutating call issued yet: safe to retry.
		return nil, &UpstreamError{Store: "request", Op: "GetRequest", Retryable: true, Err: err}
	}

	concept := r.deriveConcept(req)
	amount := deriveAmount(req, fallbackAmount)

	// 3. Heuristic search among the project's existing records.
	found, err := r.heuristicLookup(ctx, req, projectID, concept)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	// 4. Create, guarded against races: re-check both lookups immediately
	// before the create call, and treat a store-side uniqueness conflict as
	// success-with-lookup.
	rec, err = r.linkedRecord(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return checkProject(rec, requestID, projectID)
	}
	found, err = r.heuristicLookup(ctx, req, projectID, concept)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	created, err := r.Billing.CreateBillingRecord(ctx, BillingRecord{
		RequestID: requestID,
		ProjectID: projectID,
		Amount:    amount,
		Concept:   concept,
		Status:    BillingPending,
	})
	if err == nil {
		return created, nil
	}
	if errors.Is(err, ErrDuplicateRecord) {
		// Lost the race: another caller created the record first. Converge
		// on whatever exists now.
		return r.lookupAfterConflict(ctx, req, requestID, projectID, concept)
	}
	// The create may or may not have landed upstream; NOT safe to blindly
	// retry without re-running the lookups.
	return nil, &UpstreamError{Store: "billing", Op: "CreateBillingRecord", Retryable: false, Err: err}
}

// directLookup treats the request id as a candidate billing id.
// Returns (nil, nil) when absent, or when the record at that id is already
// linked to a different request (an id-space collision, not a match).
func (r *Reconciler) directLookup(ctx context.Context, requestID RequestID) (*BillingRecord, error) {
	rec, err := r.Billing.GetBillingRecord(ctx, BillingID(requestID))
	if err == nil {
		if rec.RequestID != "" && rec.RequestID != requestID {
			return nil, nil
		}
		return rec, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, &UpstreamError{Store: "billing", Op: "GetBillingRecord", Retryable: true, Err: err}
}

// heuristicLookup scans existing project records for a unique signature
// match. Returns (nil, nil) when nothing matches, AmbiguousMatchError when
// more than one record does.
func (r *Reconciler) heuristicLookup(ctx context.Context, req *Request, projectID ProjectID, concept string) (*BillingRecord, error) {
	records, err := r.Billing.ListBillingRecords(ctx, projectID)
	if err != nil {
		return nil, &UpstreamError{Store: "billing", Op: "ListBillingRecords", Retryable: true, Err: err}
	}

	candidates := MatchCandidates(records, req.ID, concept, req.Amount)
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		c := candidates[0]
		return &c, nil
	default:
		ids := make([]BillingID, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		return nil, &AmbiguousMatchError{
			RequestID:    req.ID,
			ProjectID:    projectID,
			Concept:      concept,
			CandidateIDs: ids,
		}
	}
}

// lookupAfterConflict re-resolves after the store rejected our create as a
// duplicate. Something matching must exist now; a direct hit wins, then a
// RequestID link, then the heuristic signature.
func (r *Reconciler) lookupAfterConflict(ctx context.Context, req *Request, requestID RequestID, projectID ProjectID, concept string) (*BillingRecord, error) {
	rec, err := r.linkedRecord(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return checkProject(rec, requestID, projectID)
	}

	return r.heuristicLookup(ctx, req, projectID, concept)
}

// checkProject rejects a deterministic lookup hit that lives in a different
// project than the caller targets. Money never crosses projects silently.
func checkProject(rec *BillingRecord, requestID RequestID, projectID ProjectID) (*BillingRecord, error) {
	if projectID == "" || rec.ProjectID == projectID {
		return rec, nil
	}
	return nil, &ProjectMismatchError{
		RequestID: requestID,
		BillingID: rec.ID,
		Want:      rec.ProjectID,
		Got:       projectID,
	}
}

// linkedRecord resolves a record by direct id hit or RequestID link, the two
// deterministic lookups. Returns (nil, nil) when neither exists.
func (r *Reconciler) linkedRecord(ctx context.Context, requestID RequestID) (*BillingRecord, error) {
	rec, err := r.directLookup(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	rec, err = r.Billing.FindBillingRecordByRequest(ctx, requestID)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, &UpstreamError{Store: "billing", Op: "FindBillingRecordByRequest", Retryable: true, Err: err}
}

// =============================================================================
// SIGNATURE DERIVATION + MATCHING - Pure functions
// =============================================================================

// deriveConcept picks the request's title, else its description, else a
// synthesized placeholder, bounded to ConceptMaxLen.
func (r *Reconciler) deriveConcept(req *Request) string {
	maxLen := r.ConceptMaxLen
	if maxLen <= 0 {
		maxLen = DefaultConceptMaxLen
	}

	concept := strings.TrimSpace(req.Title)
	if concept == "" {
		concept = strings.TrimSpace(req.Description)
	}
	if concept == "" {
		concept = "request " + string(req.ID)
	}
	return truncateRunes(concept, maxLen)
}

func deriveAmount(req *Request, fallback decimal.Decimal) decimal.Decimal {
	if req.Amount != nil {
		return *req.Amount
	}
	return fallback // zero-valued decimal when the caller had nothing either
}

// MatchCandidates returns every record whose concept text overlaps the
// derived concept (case-insensitive substring, either direction) and whose
// amount equals the request's amount when the request exposes one. Records
// already linked to a different request are excluded: a record serves one
// request, however similar another request's signature looks.
//
// Exact amount + substring match is the only automatic link accepted;
// anything looser requires human confirmation, not a guess.
func MatchCandidates(records []BillingRecord, requestID RequestID, concept string, amount *decimal.Decimal) []BillingRecord {
	needle := strings.ToLower(strings.TrimSpace(concept))
	if needle == "" {
		return nil
	}

	var out []BillingRecord
	for _, rec := range records {
		if rec.RequestID != "" && rec.RequestID != requestID {
			continue
		}
		hay := strings.ToLower(strings.TrimSpace(rec.Concept))
		if hay == "" {
			continue
		}
		if !strings.Contains(hay, needle) && !strings.Contains(needle, hay) {
			continue
		}
		if amount != nil && !rec.Amount.Equal(*amount) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
