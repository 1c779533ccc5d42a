package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ledgerlens/invoice-service/internal/models"
)

const invoiceColumns = `id, filename, vendor, invoice_date, line_items, category_code, category_name,
	total, confidence_score, missing_fields, corrections, storage_key, created_at, updated_at`

const uniqueViolationCode = "23505"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
	id UUID PRIMARY KEY,
	filename TEXT NOT NULL,
	vendor TEXT NOT NULL,
	invoice_date TIMESTAMPTZ NOT NULL,
	line_items JSONB NOT NULL DEFAULT '[]'::jsonb,
	category_code INTEGER NOT NULL DEFAULT 0,
	category_name TEXT NOT NULL,
	total DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	missing_fields JSONB NOT NULL DEFAULT '[]'::jsonb,
	corrections JSONB NOT NULL DEFAULT '[]'::jsonb,
	storage_key TEXT NOT NULL DEFAULT '',
	dedup_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_duplicate_lookup ON invoices (vendor, invoice_date, total)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_dedup_key ON invoices (dedup_key)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices (created_at, id)`,
}

// PostgresStore persists invoices in PostgreSQL through database/sql over a pgx pool
type PostgresStore struct {
	db   *sql.DB
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore wraps an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// NewPostgresStoreFromPool exposes a pgx pool as a database/sql handle
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	store := NewPostgresStore(stdlib.OpenDBFromPool(pool))
	store.pool = pool
	return store
}

// EnsureSchema creates the invoices table and its indexes if missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2024011501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.InvoiceRecord) (*models.InvoiceRecord, error) {
	stored := rec.Clone()
	if err := prepareRecord(&stored); err != nil {
		return nil, fmt.Errorf("invalid invoice record: %w", err)
	}
	now := s.now()
	stored.ID = uuid.NewString()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.SourceURL = ""

	lineItems, missingFields, corrections, err := encodeJSONColumns(&stored)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, filename, vendor, invoice_date, line_items, category_code, category_name,
			total, confidence_score, missing_fields, corrections, storage_key, dedup_key,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		stored.ID, stored.Filename, stored.Vendor, stored.Date, lineItems,
		stored.Category.Code, stored.Category.Name, stored.Total, stored.ConfidenceScore,
		missingFields, corrections, stored.StorageKey, stored.DuplicateKey().Hash(),
		stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrDuplicateInvoice
		}
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}
	return &stored, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.InvoiceRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrInvoiceNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	rec, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) FindPage(ctx context.Context, page, pageSize int) ([]models.InvoiceRecord, int, error) {
	offset, limit := pageOffset(page, pageSize)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count invoices: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+invoiceColumns+`
		FROM invoices
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := []models.InvoiceRecord{}
	for rows.Next() {
		rec, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	return invoices, total, nil
}

// UpdateByID applies the patch inside a transaction holding the row lock, so
// concurrent edits each append their own corrections.
func (s *PostgresStore) UpdateByID(ctx context.Context, id string, patch models.InvoicePatch) (*models.InvoiceRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrInvoiceNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	current, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}

	now := s.now()
	updated, err := patch.Apply(*current, now)
	if err != nil {
		return nil, err
	}
	if err := prepareRecord(&updated); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	updated.UpdatedAt = now

	lineItems, _, corrections, err := encodeJSONColumns(&updated)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET filename = $2, vendor = $3, invoice_date = $4, line_items = $5,
			category_code = $6, category_name = $7, total = $8, confidence_score = $9,
			corrections = $10, dedup_key = $11, updated_at = $12
		WHERE id = $1`,
		id, updated.Filename, updated.Vendor, updated.Date, lineItems,
		updated.Category.Code, updated.Category.Name, updated.Total, updated.ConfidenceScore,
		corrections, updated.DuplicateKey().Hash(), updated.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrDuplicateInvoice
		}
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update tx: %w", err)
	}
	return &updated, nil
}

func (s *PostgresStore) DeleteByID(ctx context.Context, id string) (*models.InvoiceRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrInvoiceNotFound
	}
	row := s.db.QueryRowContext(ctx, `DELETE FROM invoices WHERE id = $1 RETURNING `+invoiceColumns, id)
	rec, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to delete invoice: %w", err)
	}
	return rec, nil
}

// FindDuplicate matches vendor, date and total exactly and requires the
// stored line items to contain every candidate item name.
func (s *PostgresStore) FindDuplicate(ctx context.Context, key models.DuplicateKey) (*models.InvoiceRecord, error) {
	type nameOnly struct {
		Name string `json:"name"`
	}
	names := key.DistinctNames()
	contained := make([]nameOnly, len(names))
	for i, name := range names {
		contained[i] = nameOnly{Name: name}
	}
	containedJSON, err := json.Marshal(contained)
	if err != nil {
		return nil, fmt.Errorf("encode item names: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+`
		FROM invoices
		WHERE vendor = $1 AND invoice_date = $2 AND total = $3 AND line_items @> $4::jsonb
		ORDER BY created_at
		LIMIT 1`, key.Vendor, key.Date, key.Total, containedJSON)
	rec, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up duplicate: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) SummarizeByCategory(ctx context.Context) ([]models.CategorySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category_name, COALESCE(SUM(total), 0), COUNT(*)
		FROM invoices
		GROUP BY category_name
		ORDER BY category_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize invoices: %w", err)
	}
	defer rows.Close()

	summaries := []models.CategorySummary{}
	for rows.Next() {
		var summary models.CategorySummary
		if err := rows.Scan(&summary.ID, &summary.TotalAmount, &summary.Count); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return summaries, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle and the underlying pool, if any
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.InvoiceRecord, error) {
	var (
		rec           models.InvoiceRecord
		lineItems     []byte
		missingFields []byte
		corrections   []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Filename, &rec.Vendor, &rec.Date, &lineItems,
		&rec.Category.Code, &rec.Category.Name, &rec.Total, &rec.ConfidenceScore,
		&missingFields, &corrections, &rec.StorageKey, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(lineItems, &rec.LineItems); err != nil {
		return nil, fmt.Errorf("decode line_items: %w", err)
	}
	if err := decodeJSONColumn(missingFields, &rec.MissingFields); err != nil {
		return nil, fmt.Errorf("decode missing_fields: %w", err)
	}
	if err := decodeJSONColumn(corrections, &rec.Corrections); err != nil {
		return nil, fmt.Errorf("decode corrections: %w", err)
	}
	rec.Date = rec.Date.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	out := rec.Clone()
	return &out, nil
}

func decodeJSONColumn(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func encodeJSONColumns(rec *models.InvoiceRecord) (lineItems, missingFields, corrections []byte, err error) {
	if lineItems, err = json.Marshal(rec.LineItems); err != nil {
		return nil, nil, nil, fmt.Errorf("encode line_items: %w", err)
	}
	if missingFields, err = json.Marshal(rec.MissingFields); err != nil {
		return nil, nil, nil, fmt.Errorf("encode missing_fields: %w", err)
	}
	if corrections, err = json.Marshal(rec.Corrections); err != nil {
		return nil, nil, nil, fmt.Errorf("encode corrections: %w", err)
	}
	return lineItems, missingFields, corrections, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
