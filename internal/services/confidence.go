package services

import (
	"github.com/ledgerlens/invoice-service/internal/models"
)

const (
	fullConfidence    = 1.0
	fieldPenalty      = 0.25
	minimumConfidence = 0.1
)

// EstimateConfidence scores a candidate by the required fields it carries:
// 1.0 minus 0.25 per missing field, floored at 0.1.
func EstimateConfidence(c *models.Candidate) float64 {
	score := fullConfidence
	if !c.HasVendor() {
		score -= fieldPenalty
	}
	if !c.HasDate() {
		score -= fieldPenalty
	}
	if !c.HasLineItems() {
		score -= fieldPenalty
	}
	if !c.HasCategory() {
		score -= fieldPenalty
	}
	if score < minimumConfidence {
		return minimumConfidence
	}
	return score
}

// ResolveConfidence keeps a model-supplied score when it is a number in [0, 1]
// and falls back to EstimateConfidence otherwise.
func ResolveConfidence(c *models.Candidate) float64 {
	if c.ConfidenceScore != nil {
		score := *c.ConfidenceScore
		if score >= 0 && score <= 1 {
			return score
		}
	}
	return EstimateConfidence(c)
}

// MissingFields lists the required fields absent from a candidate, in the
// fixed order vendor, date, lineItems, category.
func MissingFields(c *models.Candidate) []string {
	missing := []string{}
	if !c.HasVendor() {
		missing = append(missing, models.FieldVendor)
	}
	if !c.HasDate() {
		missing = append(missing, models.FieldDate)
	}
	if !c.HasLineItems() {
		missing = append(missing, models.FieldLineItems)
	}
	if !c.HasCategory() {
		missing = append(missing, models.FieldCategory)
	}
	return missing
}
