package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InvoicePatch is a partial update decoded from a JSON object. Only the
// fields in updatableFields are applied; every other key is ignored.
type InvoicePatch map[string]json.RawMessage

// updatableField reads and writes one editable record field
type updatableField struct {
	name   string
	format func(r *InvoiceRecord) string
	assign func(r *InvoiceRecord, raw json.RawMessage) error
}

var updatableFields = []updatableField{
	{name: "filename", format: func(r *InvoiceRecord) string { return r.Filename }, assign: assignFilename},
	{name: "vendor", format: func(r *InvoiceRecord) string { return r.Vendor }, assign: assignVendor},
	{name: "date", format: func(r *InvoiceRecord) string { return formatDate(r.Date) }, assign: assignDate},
	{name: "lineItems", format: func(r *InvoiceRecord) string { return formatJSON(r.LineItems) }, assign: assignLineItems},
	{name: "category", format: func(r *InvoiceRecord) string { return formatJSON(r.Category) }, assign: assignCategory},
	{name: "total", format: func(r *InvoiceRecord) string { return formatNumber(r.Total) }, assign: assignTotal},
	{name: "confidenceScore", format: func(r *InvoiceRecord) string { return formatNumber(r.ConfidenceScore) }, assign: assignConfidence},
}

// DecodePatch parses a request body into a patch
func DecodePatch(body []byte) (InvoicePatch, error) {
	var patch InvoicePatch
	if err := json.Unmarshal(body, &patch); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", ErrInvalidInput, err)
	}
	if patch == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidInput)
	}
	return patch, nil
}

// Fields returns the recognized field names present in the patch
func (p InvoicePatch) Fields() []string {
	var names []string
	for _, f := range updatableFields {
		if _, ok := p[f.name]; ok {
			names = append(names, f.name)
		}
	}
	return names
}

// Apply returns a copy of rec with the patch applied. For every field whose
// value changes, a correction holding the old and new string forms is
// appended. rec itself is not modified.
func (p InvoicePatch) Apply(rec InvoiceRecord, now time.Time) (InvoiceRecord, error) {
	out := rec.Clone()
	for _, f := range updatableFields {
		raw, ok := p[f.name]
		if !ok {
			continue
		}
		before := f.format(&out)
		if err := f.assign(&out, raw); err != nil {
			return rec, fmt.Errorf("%w: %s: %v", ErrInvalidInput, f.name, err)
		}
		after := f.format(&out)
		if before != after {
			out.Corrections = append(out.Corrections, Correction{
				Field:    f.name,
				OldValue: before,
				NewValue: after,
				Date:     now,
			})
		}
	}
	return out, nil
}

func assignFilename(r *InvoiceRecord, raw json.RawMessage) error {
	s, err := decodeRequiredString(raw)
	if err != nil {
		return err
	}
	r.Filename = s
	return nil
}

func assignVendor(r *InvoiceRecord, raw json.RawMessage) error {
	s, err := decodeRequiredString(raw)
	if err != nil {
		return err
	}
	r.Vendor = s
	return nil
}

func assignDate(r *InvoiceRecord, raw json.RawMessage) error {
	s, err := decodeRequiredString(raw)
	if err != nil {
		return err
	}
	t, ok := ParseDate(s)
	if !ok {
		return fmt.Errorf("unrecognized date %q", s)
	}
	r.Date = t
	return nil
}

func assignLineItems(r *InvoiceRecord, raw json.RawMessage) error {
	var items []struct {
		Name  json.RawMessage `json:"name"`
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("must be an array of {name, price}")
	}
	if items == nil {
		return fmt.Errorf("must be an array")
	}
	lineItems := make([]LineItem, 0, len(items))
	for i, item := range items {
		name, err := decodeRequiredString(item.Name)
		if err != nil {
			return fmt.Errorf("item %d name: %v", i, err)
		}
		price, err := decodeNumber(item.Price)
		if err != nil {
			return fmt.Errorf("item %d price: %v", i, err)
		}
		lineItems = append(lineItems, LineItem{Name: name, Price: price})
	}
	r.LineItems = lineItems
	return nil
}

func assignCategory(r *InvoiceRecord, raw json.RawMessage) error {
	var c struct {
		Code json.RawMessage `json:"code"`
		Name json.RawMessage `json:"name"`
	}
	if err := json.Unmarshal(raw, &c); err != nil || isNull(raw) {
		return fmt.Errorf("must be an object {code, name}")
	}
	code, err := decodeNumber(c.Code)
	if err != nil {
		return fmt.Errorf("code: %v", err)
	}
	name, err := decodeRequiredString(c.Name)
	if err != nil {
		return fmt.Errorf("name: %v", err)
	}
	r.Category = Category{Code: int(code), Name: name}
	return nil
}

func assignTotal(r *InvoiceRecord, raw json.RawMessage) error {
	total, err := decodeNumber(raw)
	if err != nil {
		return err
	}
	r.Total = total
	return nil
}

func assignConfidence(r *InvoiceRecord, raw json.RawMessage) error {
	score, err := decodeNumber(raw)
	if err != nil {
		return err
	}
	if score < 0.1 || score > 1.0 {
		return fmt.Errorf("must be between 0.1 and 1.0")
	}
	r.ConfidenceScore = score
	return nil
}

func decodeRequiredString(raw json.RawMessage) (string, error) {
	var s string
	if isNull(raw) {
		return "", fmt.Errorf("must not be null")
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("must not be empty")
	}
	return s, nil
}

// decodeNumber accepts a JSON number or a numeric string, since edit forms
// send input values back as strings.
func decodeNumber(raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, fmt.Errorf("must not be null")
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("must be a number")
	}
	d, ok := ParseAmount(v)
	if !ok {
		return 0, fmt.Errorf("must be a number")
	}
	f, _ := d.Float64()
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
