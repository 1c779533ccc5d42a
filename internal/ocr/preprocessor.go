package ocr

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// DefaultMaxDimension matches the largest side most vision models read without tiling
const DefaultMaxDimension = 2000

// Preprocessor prepares invoice images before they are sent to a model
type Preprocessor struct {
	maxDimension int
}

// NewPreprocessor creates a new image preprocessor. A negative maxDimension
// disables resizing.
func NewPreprocessor(maxDimension int) *Preprocessor {
	return &Preprocessor{
		maxDimension: maxDimension,
	}
}

// Prepare downscales JPEG and PNG images whose width or height exceeds the
// limit, keeping the aspect ratio. Other documents are returned unchanged.
func (p *Preprocessor) Prepare(data []byte, mimeType string) ([]byte, string, error) {
	format, ok := encodableFormat(mimeType)
	if !ok || p.maxDimension <= 0 {
		return data, mimeType, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, mimeType, fmt.Errorf("failed to decode image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= p.maxDimension && bounds.Dy() <= p.maxDimension {
		return data, mimeType, nil
	}

	resized := imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(95)); err != nil {
		return data, mimeType, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), mimeType, nil
}

func encodableFormat(mimeType string) (imaging.Format, bool) {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return imaging.JPEG, true
	case "image/png":
		return imaging.PNG, true
	default:
		return 0, false
	}
}
