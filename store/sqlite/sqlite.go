/*
Package sqlite provides a SQLite-backed implementation of the store interfaces.

PURPOSE:
  Implements both remote-store capabilities (billing.RequestWriteStore and
  billing.BillingStore) on SQLite, backing the full-stack server. In
  production the two stores live in separate services; this package stands
  in for both with the same contracts. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

SECOND LINE OF DEFENSE:
  Two invariants the engine enforces cooperatively are re-checked here:
  - At most one billing record per request id: a partial unique index on
    billing_records(request_id) rejects duplicates with ErrDuplicateRecord,
    which the reconciler treats as success-with-lookup.
  - Non-negative project balance: CreateAllocation re-computes the balance
    inside a database transaction before inserting a commitment, returning
    InsufficientFundsError on violation.

APPEND-ONLY TABLES:
  allocations, payments, receipts: no UPDATE, no DELETE. Invoices allow a
  single UPDATE on the validity flag, nothing else.

AMOUNTS:
  Stored as TEXT and parsed through decimal to keep money exact. Never REAL.

WAL MODE:
  Opened with WAL for better concurrency: multiple readers don't block,
  single writer at a time.

USAGE:
  store, err := sqlite.New("./data/approvals.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: interface contracts
  - billing/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/approval-engine/billing"
)

// Store implements billing.RequestWriteStore and billing.BillingStore.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Requests (the intake service's entity)
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		accountant_stage TEXT NOT NULL DEFAULT 'PENDING',
		director_stage TEXT NOT NULL DEFAULT 'PENDING',
		accountant_comment TEXT NOT NULL DEFAULT '',
		director_comment TEXT NOT NULL DEFAULT '',
		amount TEXT,
		created_at TEXT NOT NULL
	);

	-- Billing records (the billing service's twin entity)
	CREATE TABLE IF NOT EXISTS billing_records (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		concept TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one billing record per request. The reconciler's
	-- create path relies on this rejecting duplicate creates under races.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_records_request
		ON billing_records(request_id) WHERE request_id != '';
	CREATE INDEX IF NOT EXISTS idx_billing_records_project
		ON billing_records(project_id);

	-- Allocations (append-only, signed amounts)
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		concept TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		budget BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_project
		ON allocations(project_id, date);

	-- Invoices (one per billing record; only validity is mutable)
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		billing_id TEXT NOT NULL UNIQUE,
		number TEXT NOT NULL,
		date TEXT NOT NULL,
		total TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		valid BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Payments (append-only)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		billing_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_billing
		ON payments(billing_id);
	CREATE INDEX IF NOT EXISTS idx_payments_project
		ON payments(project_id, date);

	-- Receipts (append-only, informational)
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		number TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_project
		ON receipts(project_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REQUEST STORE (billing.RequestWriteStore interface)
// =============================================================================

func (s *Store) GetRequest(ctx context.Context, id billing.RequestID) (*billing.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, accountant_stage, director_stage,
		       accountant_comment, director_comment, amount, created_at
		FROM requests WHERE id = ?`, id)

	var req billing.Request
	var amount sql.NullString
	var createdAt string
	err := row.Scan(&req.ID, &req.Title, &req.Description,
		&req.AccountantStage, &req.DirectorStage,
		&req.AccountantComment, &req.DirectorComment, &amount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	if amount.Valid {
		a := parseDecimal(amount.String)
		req.Amount = &a
	}
	req.CreatedAt = parseTime(createdAt)
	return &req, nil
}

func (s *Store) CreateRequest(ctx context.Context, req billing.Request) (*billing.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = billing.RequestID(uuid.New().String())
	}
	if req.AccountantStage == "" {
		req.AccountantStage = billing.AccountantPending
	}
	if req.DirectorStage == "" {
		req.DirectorStage = billing.DirectorPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	var amount sql.NullString
	if req.Amount != nil {
		amount = sql.NullString{String: req.Amount.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests
		(id, title, description, accountant_stage, director_stage,
		 accountant_comment, director_comment, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Title, req.Description,
		req.AccountantStage, req.DirectorStage,
		req.AccountantComment, req.DirectorComment,
		amount, req.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return &req, nil
}

func (s *Store) SetAccountantStage(ctx context.Context, id billing.RequestID, stage billing.AccountantStage, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET accountant_stage = ?, accountant_comment = ?
		WHERE id = ?`, stage, comment, id)
	if err != nil {
		return fmt.Errorf("failed to set accountant stage: %w", err)
	}
	return requireRow(res)
}

func (s *Store) SetDirectorStage(ctx context.Context, id billing.RequestID, stage billing.DirectorStage, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The director may only act once the accountant validated; the WHERE
	// clause makes the check and the write one atomic statement.
	if stage != billing.DirectorPending {
		res, err := s.db.ExecContext(ctx, `
			UPDATE requests SET director_stage = ?, director_comment = ?
			WHERE id = ? AND accountant_stage = ?`,
			stage, comment, id, billing.AccountantValidated)
		if err != nil {
			return fmt.Errorf("failed to set director stage: %w", err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			return nil
		}
		// Distinguish missing request from stage-order violation.
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM requests WHERE id = ?", id).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return billing.ErrNotFound
		}
		return billing.ErrStageOrder
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET director_stage = ?, director_comment = ?
		WHERE id = ?`, stage, comment, id)
	if err != nil {
		return fmt.Errorf("failed to set director stage: %w", err)
	}
	return requireRow(res)
}

// =============================================================================
// BILLING STORE (billing.BillingStore interface)
// =============================================================================

func (s *Store) GetBillingRecord(ctx context.Context, id billing.BillingID) (*billing.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, project_id, amount, concept, status, created_at
		FROM billing_records WHERE id = ?`, id)
	return scanBillingRecord(row)
}

func (s *Store) CreateBillingRecord(ctx context.Context, rec billing.BillingRecord) (*billing.BillingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = billing.BillingID(uuid.New().String())
	}
	if rec.Status == "" {
		rec.Status = billing.BillingPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_records
		(id, request_id, project_id, amount, concept, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.ProjectID,
		rec.Amount.String(), rec.Concept, rec.Status,
		rec.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, billing.ErrDuplicateRecord
		}
		return nil, fmt.Errorf("failed to create billing record: %w", err)
	}
	return &rec, nil
}

func (s *Store) FindBillingRecordByRequest(ctx context.Context, requestID billing.RequestID) (*billing.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if requestID == "" {
		return nil, billing.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, project_id, amount, concept, status, created_at
		FROM billing_records WHERE request_id = ?`, requestID)
	return scanBillingRecord(row)
}

func (s *Store) ListBillingRecords(ctx context.Context, projectID billing.ProjectID) ([]billing.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, project_id, amount, concept, status, created_at
		FROM billing_records WHERE project_id = ?
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing records: %w", err)
	}
	defer rows.Close()

	var out []billing.BillingRecord
	for rows.Next() {
		rec, err := scanBillingRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) SetBillingStatus(ctx context.Context, id billing.BillingID, status billing.BillingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE billing_records SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to set billing status: %w", err)
	}
	return requireRow(res)
}

func (s *Store) CreateAllocation(ctx context.Context, alloc billing.Allocation) (*billing.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alloc.ID == "" {
		alloc.ID = billing.AllocationID(uuid.New().String())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Server-side balance guard for commitments.
	if alloc.Amount.IsNegative() {
		balance, err := projectBalanceTx(ctx, tx, alloc.ProjectID)
		if err != nil {
			return nil, err
		}
		if balance.Add(alloc.Amount).IsNegative() {
			return nil, &billing.InsufficientFundsError{
				ProjectID: alloc.ProjectID,
				Available: balance,
				Requested: alloc.Amount.Neg(),
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO allocations (id, project_id, concept, amount, date, budget, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alloc.ID, alloc.ProjectID, alloc.Concept,
		alloc.Amount.String(), alloc.Date.Format(time.RFC3339), alloc.Budget,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to create allocation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit allocation: %w", err)
	}
	return &alloc, nil
}

func (s *Store) CreatePayment(ctx context.Context, p billing.Payment) (*billing.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = billing.PaymentID(uuid.New().String())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, billing_id, project_id, amount, currency, date, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BillingID, p.ProjectID,
		p.Amount.String(), p.Currency, p.Date.Format(time.RFC3339), p.Reference,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return &p, nil
}

func (s *Store) ListPayments(ctx context.Context, filter billing.PaymentFilter) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, billing_id, project_id, amount, currency, date, reference
		FROM payments WHERE 1=1`
	var args []any
	if filter.BillingID != nil {
		query += " AND billing_id = ?"
		args = append(args, *filter.BillingID)
	}
	if filter.ProjectID != nil {
		query += " AND project_id = ?"
		args = append(args, *filter.ProjectID)
	}
	query += " ORDER BY date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

func (s *Store) RegisterInvoice(ctx context.Context, inv billing.Invoice) (*billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM billing_records WHERE id = ?", inv.BillingID).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, billing.ErrNotFound
	}

	if inv.ID == "" {
		inv.ID = billing.InvoiceID(uuid.New().String())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, billing_id, number, date, total, currency, valid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.BillingID, inv.Number,
		inv.Date.Format(time.RFC3339), inv.Total.String(), inv.Currency, inv.Valid,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, billing.ErrDuplicateInvoice
		}
		return nil, fmt.Errorf("failed to register invoice: %w", err)
	}
	return &inv, nil
}

func (s *Store) SetInvoiceValidity(ctx context.Context, id billing.InvoiceID, valid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE invoices SET valid = ? WHERE id = ?", valid, id)
	if err != nil {
		return fmt.Errorf("failed to set invoice validity: %w", err)
	}
	return requireRow(res)
}

func (s *Store) CreateReceipt(ctx context.Context, r billing.Receipt) (*billing.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = billing.ReceiptID(uuid.New().String())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, payment_id, project_id, number, date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.PaymentID, r.ProjectID, r.Number,
		r.Date.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt: %w", err)
	}
	return &r, nil
}

func (s *Store) ListLedgerRawEvents(ctx context.Context, projectID billing.ProjectID) (*billing.RawLedgerEvents, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw := &billing.RawLedgerEvents{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, concept, amount, date, budget
		FROM allocations WHERE project_id = ? ORDER BY date ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	for rows.Next() {
		var a billing.Allocation
		var amount, date string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Concept, &amount, &date, &a.Budget); err != nil {
			rows.Close()
			return nil, err
		}
		a.Amount = parseDecimal(amount)
		a.Date = parseTime(date)
		raw.Allocations = append(raw.Allocations, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT i.id, i.billing_id, i.number, i.date, i.total, i.currency, i.valid
		FROM invoices i
		JOIN billing_records b ON b.id = i.billing_id
		WHERE b.project_id = ? ORDER BY i.date ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	for rows.Next() {
		var inv billing.Invoice
		var total, date string
		if err := rows.Scan(&inv.ID, &inv.BillingID, &inv.Number, &date, &total, &inv.Currency, &inv.Valid); err != nil {
			rows.Close()
			return nil, err
		}
		inv.Total = parseDecimal(total)
		inv.Date = parseTime(date)
		raw.Invoices = append(raw.Invoices, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT id, billing_id, project_id, amount, currency, date, reference
		FROM payments WHERE project_id = ? ORDER BY date ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	payments, err := scanPayments(paymentRows)
	paymentRows.Close()
	if err != nil {
		return nil, err
	}
	raw.Payments = payments

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, payment_id, project_id, number, date
		FROM receipts WHERE project_id = ? ORDER BY date ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	for rows.Next() {
		var r billing.Receipt
		var date string
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.ProjectID, &r.Number, &date); err != nil {
			rows.Close()
			return nil, err
		}
		r.Date = parseTime(date)
		raw.Receipts = append(raw.Receipts, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return raw, nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func scanPayments(rows *sql.Rows) ([]billing.Payment, error) {
	var out []billing.Payment
	for rows.Next() {
		var p billing.Payment
		var amount, date string
		if err := rows.Scan(&p.ID, &p.BillingID, &p.ProjectID, &amount, &p.Currency, &date, &p.Reference); err != nil {
			return nil, err
		}
		p.Amount = parseDecimal(amount)
		p.Date = parseTime(date)
		out = append(out, p)
	}
	return out, rows.Err()
}

// projectBalanceTx computes the signed balance inside the given transaction:
// allocations, minus valid invoice totals, minus payments.
func projectBalanceTx(ctx context.Context, tx *sql.Tx, projectID billing.ProjectID) (decimal.Decimal, error) {
	balance := decimal.Zero

	sum := func(query string, negate bool) error {
		rows, err := tx.QueryContext(ctx, query, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var amount string
			if err := rows.Scan(&amount); err != nil {
				return err
			}
			d := parseDecimal(amount)
			if negate {
				balance = balance.Sub(d)
			} else {
				balance = balance.Add(d)
			}
		}
		return rows.Err()
	}

	if err := sum("SELECT amount FROM allocations WHERE project_id = ?", false); err != nil {
		return balance, err
	}
	if err := sum(`
		SELECT i.total FROM invoices i
		JOIN billing_records b ON b.id = i.billing_id
		WHERE b.project_id = ? AND i.valid`, true); err != nil {
		return balance, err
	}
	if err := sum("SELECT amount FROM payments WHERE project_id = ?", true); err != nil {
		return balance, err
	}
	return balance, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBillingRecord(row scannable) (*billing.BillingRecord, error) {
	var rec billing.BillingRecord
	var amount, createdAt string
	err := row.Scan(&rec.ID, &rec.RequestID, &rec.ProjectID, &amount, &rec.Concept, &rec.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan billing record: %w", err)
	}
	rec.Amount = parseDecimal(amount)
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
