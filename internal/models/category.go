package models

import "strings"

// DefaultChartOfAccounts is the category taxonomy offered to the model when
// the configuration does not override it.
var DefaultChartOfAccounts = []Category{
	{Code: 5000, Name: "Cost of Goods Sold"},
	{Code: 6000, Name: "Advertising and Marketing"},
	{Code: 6100, Name: "Bank Fees and Charges"},
	{Code: 6200, Name: "Computer and Software"},
	{Code: 6300, Name: "Insurance"},
	{Code: 6400, Name: "Meals and Entertainment"},
	{Code: 6500, Name: "Office Supplies"},
	{Code: 6600, Name: "Professional Services"},
	{Code: 6700, Name: "Rent or Lease"},
	{Code: 6800, Name: "Repairs and Maintenance"},
	{Code: 6900, Name: "Telephone and Internet"},
	{Code: 7000, Name: "Travel"},
	{Code: 7100, Name: "Utilities"},
	{Code: 7200, Name: "Vehicle and Fuel"},
	{Code: 7300, Name: "Shipping and Postage"},
	{Code: 7400, Name: "Training and Education"},
	{Code: 7500, Name: "Taxes and Licenses"},
	{Code: 7900, Name: "Miscellaneous Expense"},
}

// Taxonomy resolves partially extracted categories against a chart of accounts
type Taxonomy struct {
	entries []Category
	byCode  map[int]Category
	byName  map[string]Category
}

// NewTaxonomy indexes entries; an empty list falls back to DefaultChartOfAccounts
func NewTaxonomy(entries []Category) *Taxonomy {
	if len(entries) == 0 {
		entries = DefaultChartOfAccounts
	}
	t := &Taxonomy{
		entries: append([]Category(nil), entries...),
		byCode:  make(map[int]Category, len(entries)),
		byName:  make(map[string]Category, len(entries)),
	}
	for _, c := range entries {
		t.byCode[c.Code] = c
		t.byName[normalizeCategoryName(c.Name)] = c
	}
	return t
}

// Entries returns the chart of accounts in declaration order
func (t *Taxonomy) Entries() []Category {
	return append([]Category(nil), t.entries...)
}

// Resolve completes a category that carries only a code or only a name.
// Categories that already have both, or that match nothing, are returned as is.
func (t *Taxonomy) Resolve(c Category) Category {
	switch {
	case c.Name != "" && c.Code != 0:
		return c
	case c.Name != "":
		if known, ok := t.byName[normalizeCategoryName(c.Name)]; ok {
			return known
		}
	case c.Code != 0:
		if known, ok := t.byCode[c.Code]; ok {
			return known
		}
		c.Name = UnknownValue
	default:
		c.Name = UnknownValue
	}
	return c
}

func normalizeCategoryName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
