package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/invoice-service/internal/logging"
	"github.com/ledgerlens/invoice-service/internal/services"
)

const (
	uploadField     = "files"
	multipartMemory = 32 << 20
)

// ProcessInvoices stages every uploaded file and runs it through the
// ingestion pipeline. Per-file failures are reported in the results; the
// request only fails as a whole when no file could be processed.
func (h *Handler) ProcessInvoices(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logging.GetLogger().WithField("requestId", requestIDFromContext(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Upload.MaxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.sendJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Error uploading files",
			"details": err.Error(),
		})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		h.sendError(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	uploads := make([]services.Upload, 0, len(headers))
	for _, fh := range headers {
		staged, err := h.deps.Uploads.Save(fh)
		if err != nil {
			for _, u := range uploads {
				_ = h.deps.Uploads.Remove(u.TempPath)
			}
			log.WithError(err).WithField("filename", fh.Filename).Error("failed to stage upload")
			h.sendJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "Error uploading files",
				"details": err.Error(),
			})
			return
		}
		uploads = append(uploads, services.Upload{
			Filename: staged.Filename,
			MimeType: staged.MimeType,
			TempPath: staged.Path,
		})
	}

	results := h.deps.Ingestor.ProcessBatch(r.Context(), uploads)

	failed := 0
	for _, result := range results {
		if result.Failed() {
			failed++
		}
	}

	log.WithFields(logrus.Fields{
		"files":    len(results),
		"failed":   failed,
		"duration": time.Since(start).String(),
	}).Info("batch processed")

	if failed == len(results) {
		h.sendJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   results[0].Error,
			"details": fmt.Sprintf("all %d files failed to process", failed),
			"results": results,
		})
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}
