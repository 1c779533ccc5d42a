package ocr

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFText returns the plain text layer of a PDF document. Scanned PDFs
// without a text layer yield an error.
func PDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("pdf has no text layer")
	}
	return text, nil
}
