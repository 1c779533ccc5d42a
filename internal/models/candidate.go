package models

import (
	"encoding/json"
	"strconv"
)

// Candidate is the record shape produced by extraction, before defaults are applied.
// Fields the model did not return are left at their zero values.
type Candidate struct {
	Vendor          string              `json:"vendor,omitempty"`
	Date            string              `json:"date,omitempty"`
	LineItems       []CandidateLineItem `json:"lineItems,omitempty"`
	Category        *Category           `json:"category,omitempty"`
	Total           interface{}         `json:"total,omitempty"`
	ConfidenceScore *float64            `json:"confidenceScore,omitempty"`
}

// CandidateLineItem keeps the price exactly as the model returned it
type CandidateLineItem struct {
	Name  string      `json:"name"`
	Price interface{} `json:"price"`
}

// UnmarshalJSON decodes loosely typed model output. Values of an unexpected
// type are treated as absent instead of failing the whole document.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Vendor          interface{}     `json:"vendor"`
		Date            interface{}     `json:"date"`
		LineItems       json.RawMessage `json:"lineItems"`
		Category        json.RawMessage `json:"category"`
		Total           interface{}     `json:"total"`
		ConfidenceScore interface{}     `json:"confidenceScore"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = Candidate{
		Vendor:    scalarString(raw.Vendor),
		Date:      scalarString(raw.Date),
		LineItems: decodeCandidateItems(raw.LineItems),
		Category:  decodeCandidateCategory(raw.Category),
		Total:     raw.Total,
	}
	if score, ok := raw.ConfidenceScore.(float64); ok {
		c.ConfidenceScore = &score
	}
	return nil
}

func decodeCandidateItems(data json.RawMessage) []CandidateLineItem {
	if len(data) == 0 {
		return nil
	}
	var rawItems []json.RawMessage
	if err := json.Unmarshal(data, &rawItems); err != nil {
		return nil
	}
	items := make([]CandidateLineItem, 0, len(rawItems))
	for _, rawItem := range rawItems {
		var fields map[string]interface{}
		if err := json.Unmarshal(rawItem, &fields); err != nil {
			items = append(items, CandidateLineItem{})
			continue
		}
		items = append(items, CandidateLineItem{
			Name:  scalarString(fields["name"]),
			Price: fields["price"],
		})
	}
	return items
}

func decodeCandidateCategory(data json.RawMessage) *Category {
	if len(data) == 0 {
		return nil
	}
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil
	}
	switch v := value.(type) {
	case map[string]interface{}:
		return &Category{
			Code: int(AmountOrZero(v["code"])),
			Name: scalarString(v["name"]),
		}
	case string:
		if v == "" {
			return nil
		}
		return &Category{Name: v}
	case float64:
		return &Category{Code: int(v)}
	default:
		return nil
	}
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// HasVendor reports whether a vendor was extracted
func (c *Candidate) HasVendor() bool { return c.Vendor != "" }

// HasDate reports whether a date was extracted
func (c *Candidate) HasDate() bool { return c.Date != "" }

// HasLineItems reports whether at least one line item was extracted
func (c *Candidate) HasLineItems() bool { return len(c.LineItems) > 0 }

// HasCategory reports whether a category was extracted
func (c *Candidate) HasCategory() bool { return c.Category != nil }

// VendorOrUnknown returns the vendor or the UNKNOWN sentinel
func (c *Candidate) VendorOrUnknown() string {
	if c.HasVendor() {
		return c.Vendor
	}
	return UnknownValue
}

// ItemNames returns the extracted line item names in order
func (c *Candidate) ItemNames() []string {
	names := make([]string, len(c.LineItems))
	for i, item := range c.LineItems {
		names[i] = item.Name
	}
	return names
}
