package ocr

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 10 {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestPrepareDownscalesLargeImages(t *testing.T) {
	p := NewPreprocessor(200)
	out, mimeType, err := p.Prepare(encodePNG(t, 600, 300), "image/png")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if mimeType != "image/png" {
		t.Fatalf("expected image/png, got %s", mimeType)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if cfg.Width != 200 || cfg.Height != 100 {
		t.Fatalf("expected 200x100, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestPrepareKeepsSmallImages(t *testing.T) {
	in := encodePNG(t, 100, 50)
	out, _, err := NewPreprocessor(200).Prepare(in, "image/png")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("expected original bytes for small image")
	}
}

func TestPrepareNegativeDimensionKeepsImage(t *testing.T) {
	in := encodePNG(t, 600, 300)
	out, mimeType, err := NewPreprocessor(-1).Prepare(in, "image/png")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !bytes.Equal(in, out) || mimeType != "image/png" {
		t.Fatalf("expected image untouched with resizing disabled")
	}
}

func TestPreparePassesThroughPDF(t *testing.T) {
	in := []byte("%PDF-1.4 not really")
	out, mimeType, err := NewPreprocessor(200).Prepare(in, "application/pdf")
	if err != nil || mimeType != "application/pdf" || !bytes.Equal(in, out) {
		t.Fatalf("expected pdf untouched, got %s, %v", mimeType, err)
	}
}

func TestPrepareReportsUndecodableImage(t *testing.T) {
	in := []byte("not an image")
	out, _, err := NewPreprocessor(200).Prepare(in, "image/jpeg")
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("expected original bytes on failure")
	}
}

func TestPDFTextRejectsGarbage(t *testing.T) {
	if _, err := PDFText([]byte("garbage")); err == nil {
		t.Fatalf("expected error for non-pdf input")
	}
}
