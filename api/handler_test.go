package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ledgerlens/invoice-service/internal/ai"
	"github.com/ledgerlens/invoice-service/internal/auth"
	"github.com/ledgerlens/invoice-service/internal/db"
	"github.com/ledgerlens/invoice-service/internal/metrics"
	"github.com/ledgerlens/invoice-service/internal/models"
	"github.com/ledgerlens/invoice-service/internal/services"
	"github.com/ledgerlens/invoice-service/internal/storage"
)

type stubExtractor struct {
	responses map[string]string
}

func (s *stubExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*models.Candidate, error) {
	raw, ok := s.responses[string(data)]
	if !ok {
		return nil, errors.New("provider unavailable")
	}
	return ai.ParseCandidate(raw)
}

type stubArchive struct {
	deleted []string
}

func (a *stubArchive) PresignedURL(ctx context.Context, key string) (string, error) {
	return "https://files.example/" + key + "?sig=1", nil
}

func (a *stubArchive) Delete(ctx context.Context, key string) error {
	a.deleted = append(a.deleted, key)
	return nil
}

func (a *stubArchive) Ping(ctx context.Context) error { return nil }

type testServer struct {
	handler http.Handler
	store   *db.MemoryStore
	archive *stubArchive
	uploads *storage.TempUploads
}

func newTestServer(t *testing.T, responses map[string]string, authenticator *auth.Authenticator) *testServer {
	t.Helper()
	uploads, err := storage.NewTempUploads(t.TempDir())
	if err != nil {
		t.Fatalf("NewTempUploads() error = %v", err)
	}
	store := db.NewMemoryStore()
	archive := &stubArchive{}
	m := metrics.New()
	ingestor := services.NewIngestor(&stubExtractor{responses: responses}, store, services.WithMetrics(m))

	cfg := &models.Config{
		CORSOrigin: "http://localhost:3000",
		Upload:     models.UploadConfig{Dir: uploads.Dir(), MaxBytes: 1 << 20},
		AI:         models.AIConfig{DefaultProvider: "gemini"},
	}
	h := NewHandler(cfg, Dependencies{
		Store:    store,
		Ingestor: ingestor,
		Uploads:  uploads,
		Archive:  archive,
		Auth:     authenticator,
		Metrics:  m,
		Provider: "stub",
	})
	return &testServer{handler: h.Routes(), store: store, archive: archive, uploads: uploads}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return body
}

func multipartRequest(t *testing.T, files map[string]string, order []string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, name := range order {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		_, _ = io.WriteString(part, files[name])
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/process-invoices", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

const acmeInvoice = `{"vendor":"Acme","date":"2024-01-05","lineItems":[{"name":"Widget","price":10}],"category":{"code":6500,"name":"Office Supplies"},"total":10}`

func seedInvoice(t *testing.T, store *db.MemoryStore, vendor string, total float64, category string) *models.InvoiceRecord {
	t.Helper()
	rec, err := store.Create(context.Background(), &models.InvoiceRecord{
		Filename:        vendor + ".png",
		Vendor:          vendor,
		Date:            time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		LineItems:       []models.LineItem{{Name: "Item", Price: total}},
		Category:        models.Category{Code: 1, Name: category},
		Total:           total,
		ConfidenceScore: 1,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return rec
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["message"] != "ok" {
		t.Fatalf("unexpected root response %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	body := decodeBody(t, rec)
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestProcessInvoicesNoFiles(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := s.do(t, multipartRequest(t, nil, nil))
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["error"] != "No files uploaded" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestProcessInvoicesMixedBatch(t *testing.T) {
	s := newTestServer(t, map[string]string{"good": acmeInvoice}, nil)

	rec := s.do(t, multipartRequest(t, map[string]string{"a.png": "good", "b.png": "bad"}, []string{"a.png", "b.png"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	results := decodeBody(t, rec)["results"].([]interface{})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first := results[0].(map[string]interface{})
	second := results[1].(map[string]interface{})
	if first["filename"] != "a.png" || first["parsedData"].(map[string]interface{})["vendor"] != "Acme" {
		t.Fatalf("unexpected first result %v", first)
	}
	if second["filename"] != "b.png" || second["error"] != services.ErrMsgExtraction {
		t.Fatalf("unexpected second result %v", second)
	}

	entries, err := os.ReadDir(s.uploads.Dir())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected staging dir empty, found %d files", len(entries))
	}
}

func TestProcessInvoicesAllFailed(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := s.do(t, multipartRequest(t, map[string]string{"a.png": "x"}, []string{"a.png"}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == nil || body["details"] == nil || len(body["results"].([]interface{})) != 1 {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestProcessInvoicesDuplicate(t *testing.T) {
	s := newTestServer(t, map[string]string{"one": acmeInvoice, "two": acmeInvoice}, nil)
	s.do(t, multipartRequest(t, map[string]string{"a.png": "one"}, []string{"a.png"}))

	rec := s.do(t, multipartRequest(t, map[string]string{"b.png": "two"}, []string{"b.png"}))
	results := decodeBody(t, rec)["results"].([]interface{})
	parsed := results[0].(map[string]interface{})["parsedData"].(map[string]interface{})
	if parsed["isDuplicate"] != true || parsed["existingInvoiceId"] == "" {
		t.Fatalf("expected duplicate result, got %v", parsed)
	}
}

func TestGetInvoicesPagination(t *testing.T) {
	s := newTestServer(t, nil, nil)
	for i := 0; i < 7; i++ {
		seedInvoice(t, s.store, "Vendor", float64(i+1), "Travel")
	}

	tests := []struct {
		query     string
		wantPage  float64
		wantCount int
	}{
		{"", 1, 5},
		{"?page=2", 2, 2},
		{"?page=abc", 1, 5},
		{"?page=-3", 1, 5},
		{"?page=9", 9, 0},
	}
	for _, tt := range tests {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoices"+tt.query, nil))
		body := decodeBody(t, rec)
		if body["currentPage"] != tt.wantPage || body["totalPages"] != float64(2) || body["totalInvoices"] != float64(7) {
			t.Fatalf("%s: unexpected page metadata %v", tt.query, body)
		}
		if got := len(body["invoices"].([]interface{})); got != tt.wantCount {
			t.Fatalf("%s: expected %d invoices, got %d", tt.query, tt.wantCount, got)
		}
	}

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoices?page=1844674407370955163", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("huge page: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if got := len(body["invoices"].([]interface{})); got != 0 || body["totalInvoices"] != float64(7) {
		t.Fatalf("huge page: expected empty listing of 7, got %v", body)
	}
}

func TestGetInvoicesTwelveRecords(t *testing.T) {
	s := newTestServer(t, nil, nil)
	for i := 0; i < 12; i++ {
		seedInvoice(t, s.store, fmt.Sprintf("Vendor %d", i), 10, "Travel")
	}

	for page, want := range []int{5, 5, 2} {
		query := fmt.Sprintf("/api/invoices?page=%d", page+1)
		body := decodeBody(t, s.do(t, httptest.NewRequest(http.MethodGet, query, nil)))
		if got := len(body["invoices"].([]interface{})); got != want {
			t.Fatalf("%s: expected %d invoices, got %d", query, want, got)
		}
		if body["totalPages"] != float64(3) || body["totalInvoices"] != float64(12) {
			t.Fatalf("%s: unexpected page metadata %v", query, body)
		}
	}
}

func TestGetInvoiceWithSourceURL(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := seedInvoice(t, s.store, "Acme", 10, "Travel")

	resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoice/"+rec.ID, nil))
	body := decodeBody(t, resp)
	if resp.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected response %d %v", resp.Code, body)
	}
	if _, ok := body["invoice"].(map[string]interface{})["sourceUrl"]; ok {
		t.Fatalf("sourceUrl must be absent without an archived original")
	}

	resp = s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoice/not-a-uuid", nil))
	if resp.Code != http.StatusNotFound || decodeBody(t, resp)["error"] != "Invoice not found" {
		t.Fatalf("expected 404, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestUpdateInvoice(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := seedInvoice(t, s.store, "Acme", 10, "Travel")

	req := httptest.NewRequest(http.MethodPut, "/api/invoice/"+rec.ID, strings.NewReader(`{"vendor":"Acme Corp","total":"12.5","_id":"x","missingFields":["vendor"]}`))
	resp := s.do(t, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", resp.Code, resp.Body.String())
	}
	invoice := decodeBody(t, resp)["invoice"].(map[string]interface{})
	if invoice["vendor"] != "Acme Corp" || invoice["total"] != 12.5 || invoice["_id"] != rec.ID {
		t.Fatalf("unexpected invoice %v", invoice)
	}
	if got := len(invoice["corrections"].([]interface{})); got != 2 {
		t.Fatalf("expected 2 corrections, got %d", got)
	}
	if got := len(invoice["missingFields"].([]interface{})); got != 0 {
		t.Fatalf("missingFields must not be editable, got %v", invoice["missingFields"])
	}
}

func TestUpdateInvoiceErrors(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := seedInvoice(t, s.store, "Acme", 10, "Travel")
	seedInvoice(t, s.store, "Other", 10, "Travel")

	tests := []struct {
		name   string
		id     string
		body   string
		status int
	}{
		{"not json", rec.ID, `{`, http.StatusBadRequest},
		{"array body", rec.ID, `[1,2]`, http.StatusBadRequest},
		{"bad total", rec.ID, `{"total":"lots"}`, http.StatusBadRequest},
		{"unknown id", "1b4e28ba-2fa1-11d2-883f-0016d3cca427", `{"vendor":"X"}`, http.StatusNotFound},
		{"same key as another invoice", rec.ID, `{"vendor":"Other"}`, http.StatusConflict},
		{"too large", rec.ID, `{"vendor":"` + strings.Repeat("a", MaxEditBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, httptest.NewRequest(http.MethodPut, "/api/invoice/"+tt.id, strings.NewReader(tt.body)))
			if resp.Code != tt.status {
				t.Fatalf("expected %d, got %d %s", tt.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestDeleteInvoiceRemovesArchivedOriginal(t *testing.T) {
	s := newTestServer(t, nil, nil)
	ctx := context.Background()
	rec, err := s.store.Create(ctx, &models.InvoiceRecord{
		Filename:        "a.png",
		Vendor:          "Acme",
		Date:            time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Category:        models.UnknownCategory(),
		ConfidenceScore: 1,
		StorageKey:      "invoices/2024/01/a.png",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoice/"+rec.ID, nil))
	invoice := decodeBody(t, resp)["invoice"].(map[string]interface{})
	if !strings.HasPrefix(invoice["sourceUrl"].(string), "https://files.example/") {
		t.Fatalf("expected presigned source url, got %v", invoice["sourceUrl"])
	}

	resp = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/invoice/"+rec.ID, nil))
	body := decodeBody(t, resp)
	if resp.Code != http.StatusOK || body["deletedInvoice"].(map[string]interface{})["_id"] != rec.ID {
		t.Fatalf("unexpected delete response %d %v", resp.Code, body)
	}
	if len(s.archive.deleted) != 1 || s.archive.deleted[0] != rec.StorageKey {
		t.Fatalf("expected archived original removed, got %v", s.archive.deleted)
	}

	resp = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/invoice/"+rec.ID, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestGetSummaries(t *testing.T) {
	s := newTestServer(t, nil, nil)
	seedInvoice(t, s.store, "A", 10, "Travel")
	seedInvoice(t, s.store, "B", 5.5, "Travel")
	seedInvoice(t, s.store, "C", 3, "Utilities")

	resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoice/summaries", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	totals := decodeBody(t, resp)["totalsByCategory"].([]interface{})
	if len(totals) != 2 {
		t.Fatalf("expected 2 groups, got %v", totals)
	}
	travel := totals[0].(map[string]interface{})
	if travel["_id"] != "Travel" || travel["totalAmount"] != 15.5 || travel["count"] != float64(2) {
		t.Fatalf("unexpected travel summary %v", travel)
	}
}

func TestGetSummariesGroupsByCategoryName(t *testing.T) {
	s := newTestServer(t, nil, nil)
	seedInvoice(t, s.store, "First", 10, "A")
	seedInvoice(t, s.store, "Second", 20, "A")
	seedInvoice(t, s.store, "Third", 5, "B")

	resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoice/summaries", nil))
	totals := decodeBody(t, resp)["totalsByCategory"].([]interface{})
	want := []map[string]interface{}{
		{"_id": "A", "totalAmount": float64(30), "count": float64(2)},
		{"_id": "B", "totalAmount": float64(5), "count": float64(1)},
	}
	if len(totals) != len(want) {
		t.Fatalf("expected %v, got %v", want, totals)
	}
	for i, w := range want {
		got := totals[i].(map[string]interface{})
		for key, value := range w {
			if got[key] != value {
				t.Fatalf("group %d: expected %s=%v, got %v", i, key, value, got)
			}
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, auth.NewAuthenticator("secret", time.Hour))
	req := httptest.NewRequest(http.MethodOptions, "/api/invoice/abc", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PUT")

	resp := s.do(t, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" ||
		resp.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("missing CORS headers: %v", resp.Header())
	}
}

func TestAuthGuardsAPIRoutes(t *testing.T) {
	authenticator := auth.NewAuthenticator("secret", time.Hour)
	s := newTestServer(t, nil, authenticator)

	resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	token, err := authenticator.GenerateToken("ops")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := s.do(t, req); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.Code)
	}

	if resp := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil)); resp.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.do(t, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))

	resp := s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `path="/api/invoices"`) {
		t.Fatalf("expected route template label in metrics output")
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil, nil)
	resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if resp.Code != http.StatusNotFound || decodeBody(t, resp)["error"] == nil {
		t.Fatalf("expected JSON 404, got %d %s", resp.Code, resp.Body.String())
	}
}
