/*
handlers.go - HTTP API handlers for the approval and reconciliation engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Requests:
    POST   /api/requests                     Submit a request
    GET    /api/requests/{id}                Get request details
    GET    /api/requests/{id}/status         Resolved display status
    POST   /api/requests/{id}/accountant     Accountant validate/return
    POST   /api/requests/{id}/director       Director approve/reject
    POST   /api/requests/{id}/reconcile      Ensure billing record
    POST   /api/requests/{id}/payments       Record payment (full protocol)

  Billing:
    GET    /api/billing/{id}                 Get billing record
    POST   /api/billing/{id}/invoice         Register invoice
    POST   /api/billing/{id}/mark-paid       Retry the PAID transition
    GET    /api/billing/{id}/consistency     Consistency report
    PUT    /api/invoices/{id}/validity       Flip invoice validity
    POST   /api/payments/{id}/receipts       Record receipt

  Projects:
    GET    /api/projects/{id}/ledger         Full ledger view
    GET    /api/projects/{id}/balance        Running balance
    POST   /api/projects/{id}/budget         Grant budget
    POST   /api/projects/{id}/commitments    Reserve funds (guarded)

ERROR HANDLING:
  Domain errors map onto HTTP statuses in writeDomainError:
  - 400: invalid input
  - 404: not found
  - 409: ambiguous match, duplicate invoice, inconsistent state, stage order
  - 422: insufficient funds, project mismatch
  - 502: upstream store unavailable (body carries the retryable flag)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian/approval-engine/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Requests billing.RequestWriteStore
	Billing  billing.BillingStore

	Reconciler *billing.Reconciler
	Ledger     *billing.LedgerBuilder
	Recorder   *billing.PaymentRecorder
}

// NewHandler wires the engine components over the given stores.
func NewHandler(requests billing.RequestWriteStore, billingStore billing.BillingStore) *Handler {
	reconciler := billing.NewReconciler(requests, billingStore)
	return &Handler{
		Requests:   requests,
		Billing:    billingStore,
		Reconciler: reconciler,
		Ledger:     billing.NewLedgerBuilder(billingStore),
		Recorder:   billing.NewPaymentRecorder(reconciler, billingStore),
	}
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest submits a new approval request.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(body.Title) == "" && strings.TrimSpace(body.Description) == "" {
		writeError(w, http.StatusBadRequest, "Title or description is required", nil)
		return
	}

	req := billing.Request{
		Title:       body.Title,
		Description: body.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if body.Amount != "" {
		amount, err := decimal.NewFromString(body.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		req.Amount = &amount
	}

	created, err := h.Requests.CreateRequest(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(created))
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := billing.RequestID(chi.URLParam(r, "id"))

	req, err := h.Requests.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// GetRequestStatus returns the resolved display status for a request.
func (h *Handler) GetRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := billing.RequestID(chi.URLParam(r, "id"))

	req, err := h.Requests.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status, derived, err := h.Recorder.ResolveRequestStatus(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusDTO{
		RequestID:           string(id),
		Status:              string(status),
		DerivedFromPayments: derived,
	})
}

// AccountantAction records the accountant's decision.
func (h *Handler) AccountantAction(w http.ResponseWriter, r *http.Request) {
	id := billing.RequestID(chi.URLParam(r, "id"))

	var body StageActionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	stage := billing.AccountantStage(strings.ToUpper(body.Stage))
	switch stage {
	case billing.AccountantPending, billing.AccountantValidated, billing.AccountantReturned:
	default:
		writeError(w, http.StatusBadRequest, "Invalid accountant stage", nil)
		return
	}

	if err := h.Requests.SetAccountantStage(r.Context(), id, stage, body.Comment); err != nil {
		writeDomainError(w, err)
		return
	}

	req, err := h.Requests.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// DirectorAction records the director's decision. The store rejects it
// unless the accountant already validated.
func (h *Handler) DirectorAction(w http.ResponseWriter, r *http.Request) {
	id := billing.RequestID(chi.URLParam(r, "id"))

	var body StageActionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	stage := billing.DirectorStage(strings.ToUpper(body.Stage))
	switch stage {
	case billing.DirectorPending, billing.DirectorApproved, billing.DirectorRejected:
	default:
		writeError(w, http.StatusBadRequest, "Invalid director stage", nil)
		return
	}

	if err := h.Requests.SetDirectorStage(r.Context(), id, stage, body.Comment); err != nil {
		writeDomainError(w, err)
		return
	}

	req, err := h.Requests.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ReconcileRequest ensures a billing record exists for the request.
func (h *Handler) ReconcileRequest(w http.ResponseWriter, r *http.Request) {
	id := billing.RequestID(chi.URLParam(r, "id"))

	var body ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}

	fallback := decimal.Zero
	if body.FallbackAmount != "" {
		parsed, err := decimal.NewFromString(body.FallbackAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid fallback_amount", err)
			return
		}
		fallback = parsed
	}

	rec, err := h.Reconciler.EnsureBillingRecord(r.Context(), id, billing.ProjectID(body.ProjectID), fallback)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingRecordDTO(rec))
}

// RecordPayment runs the full payment protocol for a request.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := billing.RequestID(chi.URLParam(r, "id"))

	var body RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date, err := parseDateOrNow(body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	payment, err := h.Recorder.RecordPayment(r.Context(), billing.RecordPaymentInput{
		RequestID: id,
		ProjectID: billing.ProjectID(body.ProjectID),
		Amount:    amount,
		Currency:  body.Currency,
		Date:      date,
		Reference: body.Reference,
	})
	if err != nil {
		// A mark-paid failure still created the payment. Surface both: the
		// payment landed, only the status transition is outstanding.
		if payment != nil {
			writeJSON(w, http.StatusAccepted, struct {
				Payment PaymentDTO    `json:"payment"`
				Warning ErrorResponse `json:"warning"`
			}{
				Payment: toPaymentDTO(payment),
				Warning: domainErrorBody(err),
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// GetBillingRecord returns a billing record by id.
func (h *Handler) GetBillingRecord(w http.ResponseWriter, r *http.Request) {
	id := billing.BillingID(chi.URLParam(r, "id"))

	rec, err := h.Billing.GetBillingRecord(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingRecordDTO(rec))
}

// RegisterInvoice records the single invoice for a billing record.
func (h *Handler) RegisterInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.BillingID(chi.URLParam(r, "id"))

	var body RegisterInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(body.Number) == "" {
		writeError(w, http.StatusBadRequest, "number is required", nil)
		return
	}

	total, err := decimal.NewFromString(body.Total)
	if err != nil || !total.IsPositive() {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}
	date, err := parseDateOrNow(body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	inv, err := h.Billing.RegisterInvoice(r.Context(), billing.Invoice{
		BillingID: id,
		Number:    body.Number,
		Date:      date,
		Total:     total,
		Currency:  body.Currency,
		Valid:     true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// MarkPaid retries the PAID transition for a billing record.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id := billing.BillingID(chi.URLParam(r, "id"))

	if err := h.Recorder.RetryMarkPaid(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetConsistency reports whether the stored billing status agrees with the
// recorded payments.
func (h *Handler) GetConsistency(w http.ResponseWriter, r *http.Request) {
	id := billing.BillingID(chi.URLParam(r, "id"))

	report, err := h.Recorder.CheckConsistency(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConsistencyDTO{
		BillingID:    string(report.BillingID),
		StoredStatus: string(report.StoredStatus),
		PaymentCount: report.PaymentCount,
		Consistent:   report.Consistent,
	})
}

// SetInvoiceValidity flips an invoice's validity flag.
func (h *Handler) SetInvoiceValidity(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var body SetInvoiceValidityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Billing.SetInvoiceValidity(r.Context(), id, body.Valid); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateReceipt records an acknowledgement for a payment.
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	paymentID := billing.PaymentID(chi.URLParam(r, "id"))

	var body CreateReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}
	date, err := parseDateOrNow(body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	receipt, err := h.Billing.CreateReceipt(r.Context(), billing.Receipt{
		PaymentID: paymentID,
		ProjectID: billing.ProjectID(body.ProjectID),
		Number:    body.Number,
		Date:      date,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// =============================================================================
// PROJECT / LEDGER HANDLERS
// =============================================================================

// GetLedger returns the full ledger view for a project.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	projectID := billing.ProjectID(chi.URLParam(r, "id"))

	ledger, err := h.Ledger.BuildLedger(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(ledger))
}

// GetBalance returns the running balance for a project.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	projectID := billing.ProjectID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.RunningBalance(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		ProjectID: string(projectID),
		Balance:   balance.String(),
	})
}

// GrantBudget grants funds to a project.
func (h *Handler) GrantBudget(w http.ResponseWriter, r *http.Request) {
	projectID := billing.ProjectID(chi.URLParam(r, "id"))

	amount, date, concept, ok := h.parseAllocation(w, r)
	if !ok {
		return
	}

	alloc, err := h.Ledger.GrantBudget(r.Context(), projectID, concept, amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(alloc))
}

// CreateCommitment reserves funds against the project balance.
func (h *Handler) CreateCommitment(w http.ResponseWriter, r *http.Request) {
	projectID := billing.ProjectID(chi.URLParam(r, "id"))

	amount, date, concept, ok := h.parseAllocation(w, r)
	if !ok {
		return
	}

	alloc, err := h.Ledger.CreateCommitment(r.Context(), projectID, concept, amount, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(alloc))
}

func (h *Handler) parseAllocation(w http.ResponseWriter, r *http.Request) (decimal.Decimal, time.Time, string, bool) {
	var body AllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return decimal.Zero, time.Time{}, "", false
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return decimal.Zero, time.Time{}, "", false
	}
	date, err := parseDateOrNow(body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return decimal.Zero, time.Time{}, "", false
	}
	return amount, date, body.Concept, true
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func parseDateOrNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// domainErrorBody builds the error response for a domain error, attaching
// the structured context each error kind carries.
func domainErrorBody(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Retryable: billing.IsRetryable(err)}

	var amb *billing.AmbiguousMatchError
	if errors.As(err, &amb) {
		resp.CandidateIDs = make([]string, len(amb.CandidateIDs))
		for i, id := range amb.CandidateIDs {
			resp.CandidateIDs[i] = string(id)
		}
	}

	var funds *billing.InsufficientFundsError
	if errors.As(err, &funds) {
		resp.Available = funds.Available.String()
		resp.Requested = funds.Requested.String()
	}

	return resp
}

// writeDomainError maps domain error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, billing.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, billing.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, billing.ErrAmbiguousMatch),
		errors.Is(err, billing.ErrDuplicateInvoice),
		errors.Is(err, billing.ErrDuplicateRecord),
		errors.Is(err, billing.ErrInconsistentState),
		errors.Is(err, billing.ErrStageOrder):
		status = http.StatusConflict
	case errors.Is(err, billing.ErrInsufficientFunds),
		errors.Is(err, billing.ErrProjectMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, billing.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	}

	writeJSON(w, status, domainErrorBody(err))
}
