/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNT ENCODING:
  Amounts travel as decimal strings ("125.50"), never floats. Parsing
  happens in the handlers; DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: The domain model behind them
*/
package api

import (
	"time"

	"github.com/meridian/approval-engine/billing"
)

// =============================================================================
// REQUEST / APPROVAL TYPES
// =============================================================================

// RequestDTO represents an approval request in API responses.
type RequestDTO struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	AccountantStage   string `json:"accountant_stage"`
	DirectorStage     string `json:"director_stage"`
	AccountantComment string `json:"accountant_comment,omitempty"`
	DirectorComment   string `json:"director_comment,omitempty"`
	Amount            string `json:"amount,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
}

// CreateRequestRequest is the request body for submitting a new request.
type CreateRequestRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

// StageActionRequest records an accountant or director decision.
type StageActionRequest struct {
	Stage   string `json:"stage"`
	Comment string `json:"comment,omitempty"`
}

// StatusDTO is the resolved display status for a request.
type StatusDTO struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`

	// DerivedFromPayments is true when PAID was derived from payment
	// presence while the stored billing status disagreed.
	DerivedFromPayments bool `json:"derived_from_payments"`
}

// =============================================================================
// BILLING / RECONCILIATION TYPES
// =============================================================================

// BillingRecordDTO represents a billing record in API responses.
type BillingRecordDTO struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id,omitempty"`
	ProjectID string `json:"project_id"`
	Amount    string `json:"amount"`
	Concept   string `json:"concept"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ReconcileRequest asks the engine to ensure a billing record exists.
type ReconcileRequest struct {
	ProjectID string `json:"project_id"`

	// FallbackAmount is used when the request carries no amount of its own.
	FallbackAmount string `json:"fallback_amount,omitempty"`
}

// RecordPaymentRequest is the request body for recording a payment.
type RecordPaymentRequest struct {
	ProjectID string `json:"project_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Date      string `json:"date,omitempty"` // RFC 3339; defaults to now
	Reference string `json:"reference,omitempty"`
}

// PaymentDTO represents a recorded payment.
type PaymentDTO struct {
	ID        string `json:"id"`
	BillingID string `json:"billing_id"`
	ProjectID string `json:"project_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Date      string `json:"date"`
	Reference string `json:"reference,omitempty"`
}

// ConsistencyDTO reports whether a billing record's stored status agrees
// with its recorded payments.
type ConsistencyDTO struct {
	BillingID    string `json:"billing_id"`
	StoredStatus string `json:"stored_status"`
	PaymentCount int    `json:"payment_count"`
	Consistent   bool   `json:"consistent"`
}

// RegisterInvoiceRequest registers the single invoice for a billing record.
type RegisterInvoiceRequest struct {
	Number   string `json:"number"`
	Date     string `json:"date,omitempty"`
	Total    string `json:"total"`
	Currency string `json:"currency,omitempty"`
}

// InvoiceDTO represents a registered invoice.
type InvoiceDTO struct {
	ID        string `json:"id"`
	BillingID string `json:"billing_id"`
	Number    string `json:"number"`
	Date      string `json:"date"`
	Total     string `json:"total"`
	Currency  string `json:"currency,omitempty"`
	Valid     bool   `json:"valid"`
}

// SetInvoiceValidityRequest flips the only mutable invoice field.
type SetInvoiceValidityRequest struct {
	Valid bool `json:"valid"`
}

// CreateReceiptRequest acknowledges a payment.
type CreateReceiptRequest struct {
	ProjectID string `json:"project_id"`
	Number    string `json:"number,omitempty"`
	Date      string `json:"date,omitempty"`
}

// ReceiptDTO represents a recorded receipt.
type ReceiptDTO struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	ProjectID string `json:"project_id"`
	Number    string `json:"number,omitempty"`
	Date      string `json:"date"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// AllocationRequest grants budget or creates a commitment. Amount is the
// positive magnitude; the endpoint determines the sign.
type AllocationRequest struct {
	Concept string `json:"concept"`
	Amount  string `json:"amount"`
	Date    string `json:"date,omitempty"`
}

// AllocationDTO represents a stored allocation.
type AllocationDTO struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Concept   string `json:"concept"`
	Amount    string `json:"amount"`
	Date      string `json:"date"`
	Budget    bool   `json:"budget"`
}

// LedgerEventDTO is one row of the project ledger.
type LedgerEventDTO struct {
	Kind     string `json:"kind"`
	Date     string `json:"date"`
	Amount   string `json:"amount"`
	Concept  string `json:"concept,omitempty"`
	SourceID string `json:"source_id"`
}

// LedgerDTO is the assembled ledger view for one project.
type LedgerDTO struct {
	ProjectID string            `json:"project_id"`
	Events    []LedgerEventDTO  `json:"events"`
	Balance   string            `json:"balance"`
	Totals    map[string]string `json:"totals"`
}

// BalanceDTO is the running balance for a project.
type BalanceDTO struct {
	ProjectID string `json:"project_id"`
	Balance   string `json:"balance"`
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	// Retryable marks upstream failures the caller may safely retry.
	Retryable bool `json:"retryable,omitempty"`

	// CandidateIDs is populated for ambiguous-match conflicts.
	CandidateIDs []string `json:"candidate_ids,omitempty"`

	// Available is populated for insufficient-funds rejections.
	Available string `json:"available,omitempty"`
	Requested string `json:"requested,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO CONVERSIONS
// =============================================================================

func toRequestDTO(req *billing.Request) RequestDTO {
	dto := RequestDTO{
		ID:                string(req.ID),
		Title:             req.Title,
		Description:       req.Description,
		AccountantStage:   string(req.AccountantStage),
		DirectorStage:     string(req.DirectorStage),
		AccountantComment: req.AccountantComment,
		DirectorComment:   req.DirectorComment,
	}
	if req.Amount != nil {
		dto.Amount = req.Amount.String()
	}
	if !req.CreatedAt.IsZero() {
		dto.CreatedAt = req.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toBillingRecordDTO(rec *billing.BillingRecord) BillingRecordDTO {
	dto := BillingRecordDTO{
		ID:        string(rec.ID),
		RequestID: string(rec.RequestID),
		ProjectID: string(rec.ProjectID),
		Amount:    rec.Amount.String(),
		Concept:   rec.Concept,
		Status:    string(rec.Status),
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toPaymentDTO(p *billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:        string(p.ID),
		BillingID: string(p.BillingID),
		ProjectID: string(p.ProjectID),
		Amount:    p.Amount.String(),
		Currency:  p.Currency,
		Date:      p.Date.Format(time.RFC3339),
		Reference: p.Reference,
	}
}

func toAllocationDTO(a *billing.Allocation) AllocationDTO {
	return AllocationDTO{
		ID:        string(a.ID),
		ProjectID: string(a.ProjectID),
		Concept:   a.Concept,
		Amount:    a.Amount.String(),
		Date:      a.Date.Format(time.RFC3339),
		Budget:    a.Budget,
	}
}

func toInvoiceDTO(inv *billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:        string(inv.ID),
		BillingID: string(inv.BillingID),
		Number:    inv.Number,
		Date:      inv.Date.Format(time.RFC3339),
		Total:     inv.Total.String(),
		Currency:  inv.Currency,
		Valid:     inv.Valid,
	}
}

func toReceiptDTO(r *billing.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:        string(r.ID),
		PaymentID: string(r.PaymentID),
		ProjectID: string(r.ProjectID),
		Number:    r.Number,
		Date:      r.Date.Format(time.RFC3339),
	}
}

func toLedgerDTO(l *billing.Ledger) LedgerDTO {
	events := make([]LedgerEventDTO, len(l.Events))
	for i, ev := range l.Events {
		events[i] = LedgerEventDTO{
			Kind:     string(ev.Kind),
			Date:     ev.Date.Format(time.RFC3339),
			Amount:   ev.Amount.String(),
			Concept:  ev.Concept,
			SourceID: ev.SourceID,
		}
	}
	totals := make(map[string]string, len(l.Totals))
	for kind, total := range l.Totals {
		totals[string(kind)] = total.String()
	}
	return LedgerDTO{
		ProjectID: string(l.ProjectID),
		Events:    events,
		Balance:   l.Balance.String(),
		Totals:    totals,
	}
}
