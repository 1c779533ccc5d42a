package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/invoice-service/internal/logging"
	"github.com/ledgerlens/invoice-service/internal/models"
	"github.com/ledgerlens/invoice-service/internal/ocr"
)

// Extractor turns an uploaded document into a candidate invoice record
type Extractor struct {
	provider     Provider
	taxonomy     *models.Taxonomy
	preprocessor *ocr.Preprocessor
	timeout      time.Duration
	prompt       string
}

// NewExtractor creates a new AI extractor. preprocessor may be nil; a zero
// timeout leaves the deadline to the caller's context.
func NewExtractor(provider Provider, taxonomy *models.Taxonomy, preprocessor *ocr.Preprocessor, timeout time.Duration) *Extractor {
	if taxonomy == nil {
		taxonomy = models.NewTaxonomy(nil)
	}
	return &Extractor{
		provider:     provider,
		taxonomy:     taxonomy,
		preprocessor: preprocessor,
		timeout:      timeout,
		prompt:       buildPrompt(taxonomy.Entries()),
	}
}

// ProviderName returns the name of the configured provider
func (e *Extractor) ProviderName() string {
	return e.provider.Name()
}

// Extract sends the document to the provider and parses the answer.
// Provider failures wrap ErrProviderFailed; unreadable answers are returned
// as *ExtractionError wrapping ErrUnparseable.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (*models.Candidate, error) {
	if e.preprocessor != nil {
		prepared, preparedType, err := e.preprocessor.Prepare(data, mimeType)
		if err != nil {
			logging.LogWarning("ai", "Extract", "image preprocessing failed, sending original", err.Error())
		} else {
			data, mimeType = prepared, preparedType
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	response, err := e.provider.ExtractData(ctx, e.prompt, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"provider":       e.provider.Name(),
		"mimeType":       mimeType,
		"responseLength": len(response),
	}).Debug("AI response received")

	candidate, err := ParseCandidate(response)
	if err != nil {
		return nil, err
	}
	if candidate.Category != nil {
		resolved := e.taxonomy.Resolve(*candidate.Category)
		candidate.Category = &resolved
	}
	return candidate, nil
}

// buildPrompt creates the extraction instructions with the chart of accounts
func buildPrompt(categories []models.Category) string {
	chart, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		chart = []byte("[]")
	}

	return fmt.Sprintf(`You are an intelligent Invoice Parser.

Read the attached invoice document carefully and extract its data.

Here is the available chart of accounts (JSON array), with code and name:
%s

Assign the best category from the chart of accounts for this transaction.
Respond EXACTLY in this JSON format, with no markdown and no comments:
{
  "vendor": "string",
  "date": "YYYY-MM-DD",
  "lineItems": [{"name":"string","price":number}],
  "category": {"code": number, "name": "string"},
  "total": number
}
`, chart)
}

// ParseCandidate recovers a candidate from free model text: first the whole
// response with code fences removed, then each embedded top-level object.
func ParseCandidate(response string) (*models.Candidate, error) {
	cleaned := stripCodeFences(response)
	if candidate, err := decodeCandidate(cleaned); err == nil {
		return candidate, nil
	}
	for _, span := range jsonObjectSpans(cleaned, maxObjectSpans) {
		if candidate, err := decodeCandidate(span); err == nil {
			return candidate, nil
		}
	}
	return nil, &ExtractionError{Raw: response, Err: ErrUnparseable}
}

func decodeCandidate(text string) (*models.Candidate, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil, fmt.Errorf("not a JSON object")
	}
	var candidate models.Candidate
	if err := json.Unmarshal([]byte(text), &candidate); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// stripCodeFences removes a leading markdown fence, with its optional
// language tag, and a trailing fence. Backticks elsewhere are kept.
func stripCodeFences(response string) string {
	cleaned := strings.TrimSpace(response)
	fence := strings.Repeat("`", 3)
	if rest, ok := strings.CutPrefix(cleaned, fence); ok {
		if tag, body, found := strings.Cut(rest, "\n"); found && !strings.ContainsAny(tag, "{[") {
			rest = body
		} else {
			rest = strings.TrimLeftFunc(rest, unicode.IsLetter)
		}
		cleaned = strings.TrimSpace(rest)
	}
	cleaned = strings.TrimSuffix(cleaned, fence)
	return strings.TrimSpace(cleaned)
}
