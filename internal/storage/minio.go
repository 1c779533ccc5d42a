package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignedURLExpiry = 24 * time.Hour

// ArchiveConfig holds MinIO connection settings
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ArchiveConfigFromEnv reads MINIO_* variables. ok is false when no endpoint
// is configured, which disables archiving.
func ArchiveConfigFromEnv() (ArchiveConfig, bool) {
	cfg := ArchiveConfig{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    os.Getenv("MINIO_BUCKET"),
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "invoices"
	}
	return cfg, cfg.Endpoint != ""
}

// Archive keeps a copy of every ingested document in object storage
type Archive struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewArchive connects to MinIO and makes sure the bucket exists
func NewArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Archive{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// Upload stores an original document and returns its storage key.
// Key format: {bucket}/YYYY/MM/{uuid}{ext}
func (a *Archive) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	objectName := buildObjectName(a.now(), uuid.NewString(), contentType)

	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}

	// Return the full path for storage in DB
	return a.bucket + "/" + objectName, nil
}

// PresignedURL generates a presigned URL for viewing an archived document
func (a *Archive) PresignedURL(ctx context.Context, key string) (string, error) {
	url, err := a.client.PresignedGetObject(ctx, a.bucket, a.objectName(key), presignedURLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Delete removes an archived document
func (a *Archive) Delete(ctx context.Context, key string) error {
	return a.client.RemoveObject(ctx, a.bucket, a.objectName(key), minio.RemoveObjectOptions{})
}

// Ping checks that the bucket is reachable
func (a *Archive) Ping(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", a.bucket)
	}
	return nil
}

// objectName removes the bucket prefix if present
func (a *Archive) objectName(key string) string {
	return strings.TrimPrefix(key, a.bucket+"/")
}

func buildObjectName(now time.Time, id, contentType string) string {
	return fmt.Sprintf("%d/%02d/%s%s", now.Year(), now.Month(), id, GetFileExtension(contentType))
}

// GetFileExtension extracts file extension from content type
func GetFileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
