package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StagedFile is an upload written to the staging directory
type StagedFile struct {
	Filename string
	MimeType string
	Path     string
}

// TempUploads stages multipart uploads on local disk until they are processed
type TempUploads struct {
	dir string
}

// NewTempUploads creates the staging directory if needed
func NewTempUploads(dir string) (*TempUploads, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}
	return &TempUploads{dir: dir}, nil
}

// Dir returns the staging directory
func (u *TempUploads) Dir() string {
	return u.dir
}

// Save copies one multipart file into the staging directory under a unique
// name that keeps the original extension.
func (u *TempUploads) Save(fh *multipart.FileHeader) (StagedFile, error) {
	src, err := fh.Open()
	if err != nil {
		return StagedFile{}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	name := fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.NewString()[:8], ext)
	path := filepath.Join(u.dir, name)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return StagedFile{}, fmt.Errorf("failed to create staged file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return StagedFile{}, fmt.Errorf("failed to write staged file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return StagedFile{}, fmt.Errorf("failed to close staged file: %w", err)
	}

	return StagedFile{
		Filename: fh.Filename,
		MimeType: detectMimeType(fh),
		Path:     path,
	}, nil
}

// Remove deletes a staged file; a file that is already gone is not an error
func (u *TempUploads) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func detectMimeType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
