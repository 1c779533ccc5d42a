package models

import (
	"time"
)

// Required top-level fields checked at ingestion time
const (
	FieldVendor    = "vendor"
	FieldDate      = "date"
	FieldLineItems = "lineItems"
	FieldCategory  = "category"
)

// UnknownValue is stored when extraction did not produce a vendor or category name
const UnknownValue = "UNKNOWN"

// InvoiceRecord is a persisted invoice
type InvoiceRecord struct {
	ID              string       `json:"_id"`
	Filename        string       `json:"filename" validate:"required"`
	Vendor          string       `json:"vendor" validate:"required"`
	Date            time.Time    `json:"date" validate:"required"`
	LineItems       []LineItem   `json:"lineItems" validate:"dive"`
	Category        Category     `json:"category"`
	Total           float64      `json:"total"`
	ConfidenceScore float64      `json:"confidenceScore" validate:"gte=0.1,lte=1"`
	MissingFields   []string     `json:"missingFields"`
	Corrections     []Correction `json:"corrections"`
	StorageKey      string       `json:"storageKey,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`

	// SourceURL is a presigned link to the archived upload, filled per request
	SourceURL string `json:"sourceUrl,omitempty"`
}

// LineItem is a single priced line on an invoice
type LineItem struct {
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price"`
}

// Category is an entry of the chart of accounts
type Category struct {
	Code int    `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Correction is one audit entry written when an edit changes a stored value
type Correction struct {
	Field    string    `json:"field"`
	OldValue string    `json:"oldValue"`
	NewValue string    `json:"newValue"`
	Date     time.Time `json:"date"`
}

// CategorySummary aggregates invoice totals for one category name
type CategorySummary struct {
	ID          string  `json:"_id"`
	TotalAmount float64 `json:"totalAmount"`
	Count       int     `json:"count"`
}

// UnknownCategory is assigned when extraction returned no category
func UnknownCategory() Category {
	return Category{Code: 0, Name: UnknownValue}
}

// Clone returns a deep copy of the record
func (r InvoiceRecord) Clone() InvoiceRecord {
	out := r
	out.LineItems = append([]LineItem(nil), r.LineItems...)
	out.MissingFields = append([]string(nil), r.MissingFields...)
	out.Corrections = append([]Correction(nil), r.Corrections...)
	if out.LineItems == nil {
		out.LineItems = []LineItem{}
	}
	if out.MissingFields == nil {
		out.MissingFields = []string{}
	}
	if out.Corrections == nil {
		out.Corrections = []Correction{}
	}
	return out
}

// ItemNames returns line item names in order
func (r InvoiceRecord) ItemNames() []string {
	names := make([]string, len(r.LineItems))
	for i, item := range r.LineItems {
		names[i] = item.Name
	}
	return names
}

// DuplicateKey returns the key used to detect re-ingestion of this invoice
func (r InvoiceRecord) DuplicateKey() DuplicateKey {
	return DuplicateKey{
		Vendor:    r.Vendor,
		Date:      r.Date,
		Total:     r.Total,
		ItemNames: r.ItemNames(),
	}
}

// ClampConfidence keeps a score inside [0.1, 1.0]
func ClampConfidence(score float64) float64 {
	if score < 0.1 {
		return 0.1
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
