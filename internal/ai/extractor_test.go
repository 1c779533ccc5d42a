package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ledgerlens/invoice-service/internal/models"
)

type stubProvider struct {
	response   string
	err        error
	prompt     string
	mimeType   string
	sawTimeout bool
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) ExtractData(ctx context.Context, prompt string, data []byte, mimeType string) (string, error) {
	p.prompt = prompt
	p.mimeType = mimeType
	_, p.sawTimeout = ctx.Deadline()
	return p.response, p.err
}

func (p *stubProvider) Close() error { return nil }

func TestParseCandidatePlainJSON(t *testing.T) {
	c, err := ParseCandidate(`{"vendor":"Acme","date":"2024-01-05","lineItems":[{"name":"Widget","price":10}],"category":{"code":6500,"name":"Office Supplies"},"total":10}`)
	if err != nil {
		t.Fatalf("ParseCandidate() error = %v", err)
	}
	if c.Vendor != "Acme" || len(c.LineItems) != 1 || c.Category.Code != 6500 {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestParseCandidateStripsCodeFences(t *testing.T) {
	fence := strings.Repeat("`", 3)
	c, err := ParseCandidate(fence + "json\n{\"vendor\":\"Acme\"}\n" + fence)
	if err != nil {
		t.Fatalf("ParseCandidate() error = %v", err)
	}
	if c.Vendor != "Acme" {
		t.Fatalf("expected vendor Acme, got %q", c.Vendor)
	}
}

func TestParseCandidateKeepsBackticksInsideValues(t *testing.T) {
	fence := strings.Repeat("`", 3)
	tests := []struct {
		name     string
		response string
	}{
		{"tagged fence", fence + "json\n{\"vendor\":\"Acme " + fence + " Corp\"}\n" + fence},
		{"bare fence", fence + "\n{\"vendor\":\"Acme " + fence + " Corp\"}\n" + fence},
		{"single line", fence + "JSON{\"vendor\":\"Acme " + fence + " Corp\"}" + fence},
		{"object on fence line", fence + "{\"vendor\":\n\"Acme " + fence + " Corp\"}" + fence},
		{"no fence", "{\"vendor\":\"Acme " + fence + " Corp\"}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCandidate(tt.response)
			if err != nil {
				t.Fatalf("ParseCandidate() error = %v", err)
			}
			if want := "Acme " + fence + " Corp"; c.Vendor != want {
				t.Fatalf("expected vendor %q, got %q", want, c.Vendor)
			}
		})
	}
}

func TestParseCandidateFindsEmbeddedObject(t *testing.T) {
	c, err := ParseCandidate(`note: {"vendor":"X","date":"2024-01-05","lineItems":[],"category":{"code":1,"name":"A"},"total":5} end`)
	if err != nil {
		t.Fatalf("ParseCandidate() error = %v", err)
	}
	if c.Vendor != "X" || c.Total != 5.0 {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestParseCandidateBracesInsideStrings(t *testing.T) {
	c, err := ParseCandidate(`Here you go {"vendor":"Brace } Co \"quoted {\"","total":1} and {"vendor":"second"}`)
	if err != nil {
		t.Fatalf("ParseCandidate() error = %v", err)
	}
	if c.Vendor != `Brace } Co "quoted {"` {
		t.Fatalf("expected first object, got vendor %q", c.Vendor)
	}
}

func TestParseCandidateTriesLaterSpans(t *testing.T) {
	c, err := ParseCandidate(`{not json} then {"vendor":"Later"}`)
	if err != nil {
		t.Fatalf("ParseCandidate() error = %v", err)
	}
	if c.Vendor != "Later" {
		t.Fatalf("expected second span, got %q", c.Vendor)
	}
}

func TestParseCandidateUnparseableKeepsRawText(t *testing.T) {
	raw := "I could not read this invoice, sorry."
	_, err := ParseCandidate(raw)
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) || extractionErr.Raw != raw {
		t.Fatalf("expected raw text preserved, got %+v", err)
	}
}

func TestJSONObjectSpansDropsUnterminated(t *testing.T) {
	spans := jsonObjectSpans(`{"a":{"b":1}} x {"c":2`, maxObjectSpans)
	if len(spans) != 1 || spans[0] != `{"a":{"b":1}}` {
		t.Fatalf("unexpected spans: %q", spans)
	}
}

func TestExtractorResolvesCategoryAndSendsTaxonomy(t *testing.T) {
	provider := &stubProvider{response: `{"vendor":"Acme","category":"Travel"}`}
	extractor := NewExtractor(provider, models.NewTaxonomy(nil), nil, time.Minute)

	c, err := extractor.Extract(context.Background(), []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if c.Category == nil || c.Category.Code != 7000 {
		t.Fatalf("expected Travel resolved to 7000, got %+v", c.Category)
	}
	if !strings.Contains(provider.prompt, "Office Supplies") || !strings.Contains(provider.prompt, `"lineItems"`) {
		t.Fatalf("prompt missing taxonomy or response shape: %s", provider.prompt)
	}
	if !provider.sawTimeout {
		t.Fatalf("expected a deadline on the provider call")
	}
	if provider.mimeType != "image/png" {
		t.Fatalf("expected mime type forwarded, got %s", provider.mimeType)
	}
}

func TestExtractorWrapsProviderErrors(t *testing.T) {
	provider := &stubProvider{err: errors.New("quota exceeded")}
	extractor := NewExtractor(provider, nil, nil, 0)

	_, err := extractor.Extract(context.Background(), []byte("img"), "image/png")
	if !errors.Is(err, ErrProviderFailed) {
		t.Fatalf("expected ErrProviderFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestUnavailableProviderFails(t *testing.T) {
	p := Unavailable("gemini", errors.New("missing key"))
	if _, err := p.ExtractData(context.Background(), "", nil, "image/png"); err == nil {
		t.Fatalf("expected error")
	}
}
