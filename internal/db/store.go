package db

import (
	"context"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/ledgerlens/invoice-service/internal/models"
)

// DefaultPageSize is the number of invoices per listing page
const DefaultPageSize = 5

// Store persists invoice records
type Store interface {
	// Create assigns id and timestamps and inserts the record. Returns
	// models.ErrDuplicateInvoice when the duplicate key is already taken.
	Create(ctx context.Context, rec *models.InvoiceRecord) (*models.InvoiceRecord, error)
	FindByID(ctx context.Context, id string) (*models.InvoiceRecord, error)
	// FindPage returns one page ordered by creation time, plus the total count
	FindPage(ctx context.Context, page, pageSize int) ([]models.InvoiceRecord, int, error)
	UpdateByID(ctx context.Context, id string, patch models.InvoicePatch) (*models.InvoiceRecord, error)
	DeleteByID(ctx context.Context, id string) (*models.InvoiceRecord, error)
	// FindDuplicate returns nil, nil when nothing matches
	FindDuplicate(ctx context.Context, key models.DuplicateKey) (*models.InvoiceRecord, error)
	SummarizeByCategory(ctx context.Context) ([]models.CategorySummary, error)
	Ping(ctx context.Context) error
	Close() error
}

var recordValidator = validator.New()

// prepareRecord applies write-time invariants shared by every store
func prepareRecord(rec *models.InvoiceRecord) error {
	rec.ConfidenceScore = models.ClampConfidence(rec.ConfidenceScore)
	if rec.LineItems == nil {
		rec.LineItems = []models.LineItem{}
	}
	if rec.MissingFields == nil {
		rec.MissingFields = []string{}
	}
	if rec.Corrections == nil {
		rec.Corrections = []models.Correction{}
	}
	if err := recordValidator.Struct(rec); err != nil {
		return err
	}
	return nil
}

// pageOffset returns the row offset and limit for a page. Offsets that would
// overflow saturate at math.MaxInt, which lies past the end of any store.
func pageOffset(page, pageSize int) (int, int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt, pageSize
	}
	return (page - 1) * pageSize, pageSize
}
