package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DuplicateKey identifies an invoice for duplicate detection. A stored record
// matches when vendor, date and total are equal and its line item names
// include every name in ItemNames.
type DuplicateKey struct {
	Vendor    string
	Date      time.Time
	Total     float64
	ItemNames []string
}

// DistinctNames returns the sorted set of item names
func (k DuplicateKey) DistinctNames() []string {
	seen := make(map[string]struct{}, len(k.ItemNames))
	names := make([]string, 0, len(k.ItemNames))
	for _, name := range k.ItemNames {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Matches reports whether record r is a duplicate under this key
func (k DuplicateKey) Matches(r *InvoiceRecord) bool {
	if r.Vendor != k.Vendor || !r.Date.Equal(k.Date) || r.Total != k.Total {
		return false
	}
	have := make(map[string]struct{}, len(r.LineItems))
	for _, item := range r.LineItems {
		have[item.Name] = struct{}{}
	}
	for _, name := range k.ItemNames {
		if _, ok := have[name]; !ok {
			return false
		}
	}
	return true
}

// Hash is a stable digest of the key, stored with the unique constraint that
// backs duplicate detection under concurrent ingestion.
func (k DuplicateKey) Hash() string {
	parts := []string{
		k.Vendor,
		k.Date.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(k.Total, 'f', -1, 64),
		strings.Join(k.DistinctNames(), "\x1f"),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1e")))
	return hex.EncodeToString(sum[:])
}
