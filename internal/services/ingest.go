package services

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerlens/invoice-service/internal/ai"
	"github.com/ledgerlens/invoice-service/internal/db"
	"github.com/ledgerlens/invoice-service/internal/logging"
	"github.com/ledgerlens/invoice-service/internal/metrics"
	"github.com/ledgerlens/invoice-service/internal/models"
)

// Failure messages reported per file
const (
	ErrMsgReadUpload   = "Error reading uploaded file"
	ErrMsgExtraction   = "Error extracting data with AI provider"
	ErrMsgDuplicateChk = "Error checking for duplicates"
	ErrMsgSave         = "Error saving invoice"
)

// Extractor produces a candidate record from document bytes
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*models.Candidate, error)
}

// Archiver keeps the original document in object storage
type Archiver interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Upload is one staged file of a batch
type Upload struct {
	Filename string
	MimeType string
	TempPath string
}

// FileResult is the outcome for one uploaded file. ParsedData holds the
// saved record or a DuplicateResult; Error and Details are set on failure.
type FileResult struct {
	Filename    string      `json:"filename"`
	ParsedData  interface{} `json:"parsedData,omitempty"`
	Error       string      `json:"error,omitempty"`
	Details     string      `json:"details,omitempty"`
	RawResponse string      `json:"rawResponse,omitempty"`
	Outcome     string      `json:"-"`
}

// Failed reports whether the file could not be processed
func (r FileResult) Failed() bool {
	return r.Outcome == metrics.OutcomeFailed
}

// DuplicateResult echoes the candidate and points at the record it duplicates
type DuplicateResult struct {
	*models.Candidate
	IsDuplicate       bool   `json:"isDuplicate"`
	ExistingInvoiceID string `json:"existingInvoiceId"`
}

// Ingestor runs the per-file pipeline: extract, score, validate, check for
// duplicates and persist.
type Ingestor struct {
	extractor   Extractor
	store       db.Store
	archive     Archiver
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithArchive stores a copy of every new invoice's original document
func WithArchive(archive Archiver) Option {
	return func(ing *Ingestor) { ing.archive = archive }
}

// WithMetrics records outcomes and extraction latency
func WithMetrics(m *metrics.Metrics) Option {
	return func(ing *Ingestor) { ing.metrics = m }
}

// WithConcurrency sets how many files of a batch are processed at once
func WithConcurrency(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.concurrency = n
		}
	}
}

func NewIngestor(extractor Extractor, store db.Store, opts ...Option) *Ingestor {
	ing := &Ingestor{
		extractor:   extractor,
		store:       store,
		concurrency: 1,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// ProcessBatch processes every upload independently and returns one result
// per upload in upload order. Staged files are removed whatever the outcome.
func (ing *Ingestor) ProcessBatch(ctx context.Context, uploads []Upload) []FileResult {
	results := make([]FileResult, len(uploads))

	var g errgroup.Group
	g.SetLimit(ing.concurrency)
	for i, upload := range uploads {
		g.Go(func() error {
			results[i] = ing.processFile(ctx, upload)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (ing *Ingestor) processFile(ctx context.Context, upload Upload) (result FileResult) {
	log := logging.GetLogger().WithField("filename", upload.Filename)
	defer removeStaged(log, upload.TempPath)
	defer func() {
		ing.metrics.RecordIngestOutcome(result.Outcome)
	}()

	data, err := os.ReadFile(upload.TempPath)
	if err != nil {
		log.WithError(err).Error("failed to read staged upload")
		return failure(upload.Filename, ErrMsgReadUpload, err)
	}

	start := time.Now()
	candidate, err := ing.extractor.Extract(ctx, data, upload.MimeType)
	ing.metrics.ObserveExtraction(time.Since(start), err)
	if err != nil {
		log.WithError(err).Error("extraction failed")
		result = failure(upload.Filename, ErrMsgExtraction, err)
		var extractionErr *ai.ExtractionError
		if errors.As(err, &extractionErr) {
			result.RawResponse = extractionErr.Raw
		}
		return result
	}

	score := ResolveConfidence(candidate)
	candidate.ConfidenceScore = &score
	missing := MissingFields(candidate)

	if !IsValidInvoice(candidate) {
		ing.metrics.RecordValidationWarning()
		log.WithFields(logrus.Fields{
			"vendor":   candidate.VendorOrUnknown(),
			"problems": ValidationProblems(candidate),
		}).Warn("Invalid invoice data")
	}

	now := ing.now()
	record := buildRecord(upload.Filename, candidate, missing, now)
	key := record.DuplicateKey()

	existing, err := ing.store.FindDuplicate(ctx, key)
	if err != nil {
		log.WithError(err).Error("duplicate lookup failed")
		return failure(upload.Filename, ErrMsgDuplicateChk, err)
	}
	if existing != nil {
		return duplicate(upload.Filename, candidate, existing.ID)
	}

	if ing.archive != nil {
		storageKey, err := ing.archive.Upload(ctx, data, upload.MimeType)
		if err != nil {
			log.WithError(err).Warn("failed to archive original document")
		} else {
			record.StorageKey = storageKey
		}
	}

	saved, err := ing.store.Create(ctx, record)
	if err != nil {
		ing.discardArchived(ctx, log, record.StorageKey)
		if errors.Is(err, models.ErrDuplicateInvoice) {
			// Another request stored the same invoice between lookup and insert
			existing, lookupErr := ing.store.FindDuplicate(ctx, key)
			if lookupErr == nil && existing != nil {
				return duplicate(upload.Filename, candidate, existing.ID)
			}
		}
		log.WithError(err).Error("failed to save invoice")
		return failure(upload.Filename, ErrMsgSave, err)
	}

	log.WithFields(logrus.Fields{
		"invoiceId":       saved.ID,
		"vendor":          saved.Vendor,
		"confidenceScore": saved.ConfidenceScore,
		"missingFields":   saved.MissingFields,
	}).Info("invoice saved")

	return FileResult{
		Filename:   upload.Filename,
		ParsedData: saved,
		Outcome:    metrics.OutcomeSuccess,
	}
}

// buildRecord applies defaults for everything the model did not return
func buildRecord(filename string, c *models.Candidate, missing []string, now time.Time) *models.InvoiceRecord {
	date := now
	if parsed, ok := models.ParseDate(c.Date); ok {
		date = parsed
	}

	lineItems := make([]models.LineItem, 0, len(c.LineItems))
	for _, item := range c.LineItems {
		lineItems = append(lineItems, models.LineItem{
			Name:  item.Name,
			Price: models.AmountOrZero(item.Price),
		})
	}

	category := models.UnknownCategory()
	if c.Category != nil {
		category = *c.Category
	}

	score := 1.0
	if c.ConfidenceScore != nil {
		score = *c.ConfidenceScore
	}

	return &models.InvoiceRecord{
		Filename:        filename,
		Vendor:          c.VendorOrUnknown(),
		Date:            date,
		LineItems:       lineItems,
		Category:        category,
		Total:           models.AmountOrZero(c.Total),
		ConfidenceScore: score,
		MissingFields:   missing,
		Corrections:     []models.Correction{},
	}
}

func (ing *Ingestor) discardArchived(ctx context.Context, log *logrus.Entry, storageKey string) {
	if ing.archive == nil || storageKey == "" {
		return
	}
	if err := ing.archive.Delete(ctx, storageKey); err != nil {
		log.WithError(err).WithField("storageKey", storageKey).Warn("failed to remove archived document")
	}
}

func removeStaged(log *logrus.Entry, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", path).Warn("failed to remove staged upload")
	}
}

func failure(filename, message string, err error) FileResult {
	return FileResult{
		Filename: filename,
		Error:    message,
		Details:  err.Error(),
		Outcome:  metrics.OutcomeFailed,
	}
}

func duplicate(filename string, c *models.Candidate, existingID string) FileResult {
	return FileResult{
		Filename: filename,
		ParsedData: DuplicateResult{
			Candidate:         c,
			IsDuplicate:       true,
			ExistingInvoiceID: existingID,
		},
		Outcome: metrics.OutcomeDuplicate,
	}
}
