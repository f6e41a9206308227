/*
Package remote provides HTTP client implementations of the store interfaces.

PURPOSE:
  In production the request-intake service and the billing service are
  separate deployments; this package speaks JSON over HTTP to each and
  adapts their responses onto billing.RequestStore and billing.BillingStore.

ERROR MAPPING:
  404                     -> billing.ErrNotFound (the distinguishable
                             "absent" outcome the reconciler depends on)
  409 on record create    -> billing.ErrDuplicateRecord
  409 on invoice create   -> billing.ErrDuplicateInvoice
  422 insufficient funds  -> billing.InsufficientFundsError (server-side
                             guard verdict, carried through unchanged)
  transport error/timeout -> returned as-is; the engine wraps it as
                             UpstreamError. A timeout is never interpreted
                             as "the entity does not exist".

TIMEOUTS:
  Every call runs under the client's finite timeout. There is no silent
  retry here: retrying money-moving calls is the caller's decision, made
  only when the engine marked the failure retryable.

SEE ALSO:
  - billing/store.go: the contracts implemented here
  - store/sqlite: the in-process implementation with identical semantics
*/
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/approval-engine/billing"
)

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 10 * time.Second

// =============================================================================
// REQUEST STORE CLIENT
// =============================================================================

type RequestClient struct {
	baseURL string
	http    *http.Client
}

func NewRequestClient(baseURL string, timeout time.Duration) *RequestClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RequestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type requestDTO struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	AccountantStage   string           `json:"accountant_stage"`
	DirectorStage     string           `json:"director_stage"`
	AccountantComment string           `json:"accountant_comment,omitempty"`
	DirectorComment   string           `json:"director_comment,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

func (c *RequestClient) GetRequest(ctx context.Context, id billing.RequestID) (*billing.Request, error) {
	var dto requestDTO
	err := getJSON(ctx, c.http, c.baseURL+"/requests/"+url.PathEscape(string(id)), &dto)
	if err != nil {
		return nil, err
	}
	return &billing.Request{
		ID:                billing.RequestID(dto.ID),
		Title:             dto.Title,
		Description:       dto.Description,
		AccountantStage:   billing.AccountantStage(dto.AccountantStage),
		DirectorStage:     billing.DirectorStage(dto.DirectorStage),
		AccountantComment: dto.AccountantComment,
		DirectorComment:   dto.DirectorComment,
		Amount:            dto.Amount,
		CreatedAt:         dto.CreatedAt,
	}, nil
}

// =============================================================================
// BILLING STORE CLIENT
// =============================================================================

type BillingClient struct {
	baseURL string
	http    *http.Client
}

func NewBillingClient(baseURL string, timeout time.Duration) *BillingClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &BillingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type billingRecordDTO struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id,omitempty"`
	ProjectID string          `json:"project_id"`
	Amount    decimal.Decimal `json:"amount"`
	Concept   string          `json:"concept"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

func (d billingRecordDTO) toDomain() *billing.BillingRecord {
	return &billing.BillingRecord{
		ID:        billing.BillingID(d.ID),
		RequestID: billing.RequestID(d.RequestID),
		ProjectID: billing.ProjectID(d.ProjectID),
		Amount:    d.Amount,
		Concept:   d.Concept,
		Status:    billing.BillingStatus(d.Status),
		CreatedAt: d.CreatedAt,
	}
}

func fromDomainRecord(rec billing.BillingRecord) billingRecordDTO {
	return billingRecordDTO{
		ID:        string(rec.ID),
		RequestID: string(rec.RequestID),
		ProjectID: string(rec.ProjectID),
		Amount:    rec.Amount,
		Concept:   rec.Concept,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
	}
}

func (c *BillingClient) GetBillingRecord(ctx context.Context, id billing.BillingID) (*billing.BillingRecord, error) {
	var dto billingRecordDTO
	err := getJSON(ctx, c.http, c.baseURL+"/billing-records/"+url.PathEscape(string(id)), &dto)
	if err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *BillingClient) CreateBillingRecord(ctx context.Context, rec billing.BillingRecord) (*billing.BillingRecord, error) {
	var dto billingRecordDTO
	err := postJSON(ctx, c.http, c.baseURL+"/billing-records", fromDomainRecord(rec), &dto, billing.ErrDuplicateRecord)
	if err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *BillingClient) FindBillingRecordByRequest(ctx context.Context, requestID billing.RequestID) (*billing.BillingRecord, error) {
	var dto billingRecordDTO
	err := getJSON(ctx, c.http, c.baseURL+"/billing-records/by-request/"+url.PathEscape(string(requestID)), &dto)
	if err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *BillingClient) ListBillingRecords(ctx context.Context, projectID billing.ProjectID) ([]billing.BillingRecord, error) {
	var dtos []billingRecordDTO
	err := getJSON(ctx, c.http, c.baseURL+"/projects/"+url.PathEscape(string(projectID))+"/billing-records", &dtos)
	if err != nil {
		return nil, err
	}
	out := make([]billing.BillingRecord, len(dtos))
	for i, d := range dtos {
		out[i] = *d.toDomain()
	}
	return out, nil
}

func (c *BillingClient) SetBillingStatus(ctx context.Context, id billing.BillingID, status billing.BillingStatus) error {
	body := map[string]string{"status": string(status)}
	return putJSON(ctx, c.http, c.baseURL+"/billing-records/"+url.PathEscape(string(id))+"/status", body)
}

type allocationDTO struct {
	ID        string          `json:"id,omitempty"`
	ProjectID string          `json:"project_id"`
	Concept   string          `json:"concept"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	Budget    bool            `json:"budget,omitempty"`
}

func (c *BillingClient) CreateAllocation(ctx context.Context, alloc billing.Allocation) (*billing.Allocation, error) {
	in := allocationDTO{
		ID:        string(alloc.ID),
		ProjectID: string(alloc.ProjectID),
		Concept:   alloc.Concept,
		Amount:    alloc.Amount,
		Date:      alloc.Date,
		Budget:    alloc.Budget,
	}
	var out allocationDTO
	err := postJSON(ctx, c.http, c.baseURL+"/allocations", in, &out, nil)
	if err != nil {
		return nil, err
	}
	return &billing.Allocation{
		ID:        billing.AllocationID(out.ID),
		ProjectID: billing.ProjectID(out.ProjectID),
		Concept:   out.Concept,
		Amount:    out.Amount,
		Date:      out.Date,
		Budget:    out.Budget,
	}, nil
}

type paymentDTO struct {
	ID        string          `json:"id,omitempty"`
	BillingID string          `json:"billing_id"`
	ProjectID string          `json:"project_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Date      time.Time       `json:"date"`
	Reference string          `json:"reference,omitempty"`
}

func (d paymentDTO) toDomain() billing.Payment {
	return billing.Payment{
		ID:        billing.PaymentID(d.ID),
		BillingID: billing.BillingID(d.BillingID),
		ProjectID: billing.ProjectID(d.ProjectID),
		Amount:    d.Amount,
		Currency:  d.Currency,
		Date:      d.Date,
		Reference: d.Reference,
	}
}

func (c *BillingClient) CreatePayment(ctx context.Context, p billing.Payment) (*billing.Payment, error) {
	in := paymentDTO{
		ID:        string(p.ID),
		BillingID: string(p.BillingID),
		ProjectID: string(p.ProjectID),
		Amount:    p.Amount,
		Currency:  p.Currency,
		Date:      p.Date,
		Reference: p.Reference,
	}
	var out paymentDTO
	err := postJSON(ctx, c.http, c.baseURL+"/payments", in, &out, nil)
	if err != nil {
		return nil, err
	}
	payment := out.toDomain()
	return &payment, nil
}

func (c *BillingClient) ListPayments(ctx context.Context, filter billing.PaymentFilter) ([]billing.Payment, error) {
	q := url.Values{}
	if filter.BillingID != nil {
		q.Set("billing_id", string(*filter.BillingID))
	}
	if filter.ProjectID != nil {
		q.Set("project_id", string(*filter.ProjectID))
	}
	endpoint := c.baseURL + "/payments"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var dtos []paymentDTO
	if err := getJSON(ctx, c.http, endpoint, &dtos); err != nil {
		return nil, err
	}
	out := make([]billing.Payment, len(dtos))
	for i, d := range dtos {
		out[i] = d.toDomain()
	}
	return out, nil
}

type invoiceDTO struct {
	ID        string          `json:"id,omitempty"`
	BillingID string          `json:"billing_id"`
	Number    string          `json:"number"`
	Date      time.Time       `json:"date"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency,omitempty"`
	Valid     bool            `json:"valid"`
}

func (c *BillingClient) RegisterInvoice(ctx context.Context, inv billing.Invoice) (*billing.Invoice, error) {
	in := invoiceDTO{
		ID:        string(inv.ID),
		BillingID: string(inv.BillingID),
		Number:    inv.Number,
		Date:      inv.Date,
		Total:     inv.Total,
		Currency:  inv.Currency,
		Valid:     inv.Valid,
	}
	var out invoiceDTO
	err := postJSON(ctx, c.http, c.baseURL+"/invoices", in, &out, billing.ErrDuplicateInvoice)
	if err != nil {
		return nil, err
	}
	return &billing.Invoice{
		ID:        billing.InvoiceID(out.ID),
		BillingID: billing.BillingID(out.BillingID),
		Number:    out.Number,
		Date:      out.Date,
		Total:     out.Total,
		Currency:  out.Currency,
		Valid:     out.Valid,
	}, nil
}

func (c *BillingClient) SetInvoiceValidity(ctx context.Context, id billing.InvoiceID, valid bool) error {
	body := map[string]bool{"valid": valid}
	return putJSON(ctx, c.http, c.baseURL+"/invoices/"+url.PathEscape(string(id))+"/validity", body)
}

type receiptDTO struct {
	ID        string    `json:"id,omitempty"`
	PaymentID string    `json:"payment_id"`
	ProjectID string    `json:"project_id"`
	Number    string    `json:"number,omitempty"`
	Date      time.Time `json:"date"`
}

func (c *BillingClient) CreateReceipt(ctx context.Context, r billing.Receipt) (*billing.Receipt, error) {
	in := receiptDTO{
		ID:        string(r.ID),
		PaymentID: string(r.PaymentID),
		ProjectID: string(r.ProjectID),
		Number:    r.Number,
		Date:      r.Date,
	}
	var out receiptDTO
	err := postJSON(ctx, c.http, c.baseURL+"/receipts", in, &out, nil)
	if err != nil {
		return nil, err
	}
	return &billing.Receipt{
		ID:        billing.ReceiptID(out.ID),
		PaymentID: billing.PaymentID(out.PaymentID),
		ProjectID: billing.ProjectID(out.ProjectID),
		Number:    out.Number,
		Date:      out.Date,
	}, nil
}

type rawEventsDTO struct {
	Allocations []allocationDTO `json:"allocations"`
	Invoices    []invoiceDTO    `json:"invoices"`
	Payments    []paymentDTO    `json:"payments"`
	Receipts    []receiptDTO    `json:"receipts"`
}

func (c *BillingClient) ListLedgerRawEvents(ctx context.Context, projectID billing.ProjectID) (*billing.RawLedgerEvents, error) {
	var dto rawEventsDTO
	err := getJSON(ctx, c.http, c.baseURL+"/projects/"+url.PathEscape(string(projectID))+"/ledger-raw", &dto)
	if err != nil {
		return nil, err
	}

	raw := &billing.RawLedgerEvents{}
	for _, a := range dto.Allocations {
		raw.Allocations = append(raw.Allocations, billing.Allocation{
			ID:        billing.AllocationID(a.ID),
			ProjectID: billing.ProjectID(a.ProjectID),
			Concept:   a.Concept,
			Amount:    a.Amount,
			Date:      a.Date,
			Budget:    a.Budget,
		})
	}
	for _, i := range dto.Invoices {
		raw.Invoices = append(raw.Invoices, billing.Invoice{
			ID:        billing.InvoiceID(i.ID),
			BillingID: billing.BillingID(i.BillingID),
			Number:    i.Number,
			Date:      i.Date,
			Total:     i.Total,
			Currency:  i.Currency,
			Valid:     i.Valid,
		})
	}
	for _, p := range dto.Payments {
		raw.Payments = append(raw.Payments, p.toDomain())
	}
	for _, r := range dto.Receipts {
		raw.Receipts = append(raw.Receipts, billing.Receipt{
			ID:        billing.ReceiptID(r.ID),
			PaymentID: billing.PaymentID(r.PaymentID),
			ProjectID: billing.ProjectID(r.ProjectID),
			Number:    r.Number,
			Date:      r.Date,
		})
	}
	return raw, nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

type remoteErrorDTO struct {
	Error     string           `json:"error"`
	Code      string           `json:"code,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
	Requested *decimal.Decimal `json:"requested,omitempty"`
	ProjectID string           `json:"project_id,omitempty"`
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return do(client, req, out, nil)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, in, out any, onConflict error) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, req, out, onConflict)
}

func putJSON(ctx context.Context, client *http.Client, endpoint string, in any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, req, nil, nil)
}

func do(client *http.Client, req *http.Request, out any, onConflict error) error {
	resp, err := client.Do(req)
	if err != nil {
		// Timeouts and network failures land here. Returned as-is: the
		// engine decides retryability, never this layer.
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)

	case resp.StatusCode == http.StatusNotFound:
		return billing.ErrNotFound

	case resp.StatusCode == http.StatusConflict && onConflict != nil:
		return onConflict

	case resp.StatusCode == http.StatusUnprocessableEntity:
		var dto remoteErrorDTO
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &dto) == nil && dto.Available != nil && dto.Requested != nil {
			return &billing.InsufficientFundsError{
				ProjectID: billing.ProjectID(dto.ProjectID),
				Available: *dto.Available,
				Requested: *dto.Requested,
			}
		}
		return fmt.Errorf("remote rejected request: %s", strings.TrimSpace(string(body)))

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
