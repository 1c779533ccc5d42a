package api

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/invoice-service/internal/db"
	"github.com/ledgerlens/invoice-service/internal/logging"
	"github.com/ledgerlens/invoice-service/internal/models"
)

// InvoicePage is one page of the invoice listing
type InvoicePage struct {
	Invoices      []models.InvoiceRecord `json:"invoices"`
	CurrentPage   int                    `json:"currentPage"`
	TotalPages    int                    `json:"totalPages"`
	TotalInvoices int                    `json:"totalInvoices"`
}

// GetInvoices returns a page of invoices; page defaults to 1
func (h *Handler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r.URL.Query().Get("page"))

	invoices, total, err := h.deps.Store.FindPage(r.Context(), page, db.DefaultPageSize)
	if err != nil {
		h.sendStoreError(w, "GetInvoices", "Error fetching invoices", err)
		return
	}

	h.sendJSON(w, http.StatusOK, InvoicePage{
		Invoices:      invoices,
		CurrentPage:   page,
		TotalPages:    int(math.Ceil(float64(total) / float64(db.DefaultPageSize))),
		TotalInvoices: total,
	})
}

// parsePage reads a positive page number; anything else means page 1
func parsePage(raw string) int {
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// GetSummaries returns invoice totals grouped by category name
func (h *Handler) GetSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.deps.Store.SummarizeByCategory(r.Context())
	if err != nil {
		h.sendStoreError(w, "GetSummaries", "Error summarizing invoices", err)
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"totalsByCategory": summaries,
	})
}

// GetInvoice returns a single invoice
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	invoice, err := h.deps.Store.FindByID(ctx, invoiceID)
	if err != nil {
		h.sendStoreError(w, "GetInvoice", "Error fetching invoice", err)
		return
	}

	// Generate presigned URL for the archived original
	if invoice.StorageKey != "" && h.deps.Archive != nil {
		if presignedURL, err := h.deps.Archive.PresignedURL(ctx, invoice.StorageKey); err == nil {
			invoice.SourceURL = presignedURL
		} else {
			logging.GetLogger().WithError(err).WithField("invoiceId", invoice.ID).Warn("failed to presign source document")
		}
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"invoice": invoice,
	})
}

// UpdateInvoice applies a partial edit and records a correction for every
// changed field. Responds 404 for an unknown id, 400 for a malformed patch
// and 409 when the edit gives the invoice the same vendor, date, total and
// item names as another stored invoice.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := mux.Vars(r)["id"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEditBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch, err := models.DecodePatch(body)
	if err != nil {
		h.sendJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	invoice, err := h.deps.Store.UpdateByID(r.Context(), invoiceID, patch)
	if err != nil {
		h.sendStoreError(w, "UpdateInvoice", "Error updating invoice", err)
		return
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"invoiceId":   invoice.ID,
		"fields":      patch.Fields(),
		"corrections": len(invoice.Corrections),
	}).Info("invoice updated")

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"invoice": invoice,
	})
}

// DeleteInvoice removes an invoice and, best effort, its archived original
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	deleted, err := h.deps.Store.DeleteByID(ctx, invoiceID)
	if err != nil {
		h.sendStoreError(w, "DeleteInvoice", "Error deleting invoice", err)
		return
	}

	if deleted.StorageKey != "" && h.deps.Archive != nil {
		if err := h.deps.Archive.Delete(ctx, deleted.StorageKey); err != nil {
			logging.LogWarning("api", "DeleteInvoice", "failed to remove archived document", map[string]string{
				"invoiceId":  deleted.ID,
				"storageKey": deleted.StorageKey,
				"error":      err.Error(),
			})
		}
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"deletedInvoice": deleted,
	})
}
