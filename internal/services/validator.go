package services

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ledgerlens/invoice-service/internal/models"
)

const candidateSchemaJSON = `{
  "type": "object",
  "required": ["vendor", "date", "lineItems", "category"],
  "properties": {
    "vendor": {"type": "string", "minLength": 1},
    "date": {"type": "string", "minLength": 1},
    "lineItems": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["price"],
        "properties": {
          "price": {"type": "number"}
        }
      }
    },
    "category": {"type": "object"}
  }
}`

var candidateSchema = jsonschema.MustCompileString("candidate.json", candidateSchemaJSON)

// IsValidInvoice reports whether a candidate has every required field, a
// parseable date and numeric line item prices. The verdict is advisory;
// invalid candidates are still stored.
func IsValidInvoice(c *models.Candidate) bool {
	if c == nil {
		return false
	}
	doc, err := toDocument(c)
	if err != nil {
		return false
	}
	if err := candidateSchema.Validate(doc); err != nil {
		return false
	}
	_, ok := models.ParseDate(c.Date)
	return ok
}

// ValidationProblems returns the schema errors for a candidate, for logging
func ValidationProblems(c *models.Candidate) string {
	doc, err := toDocument(c)
	if err != nil {
		return err.Error()
	}
	if err := candidateSchema.Validate(doc); err != nil {
		return err.Error()
	}
	if _, ok := models.ParseDate(c.Date); !ok {
		return "date is not a calendar date"
	}
	return ""
}

func toDocument(c *models.Candidate) (interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
