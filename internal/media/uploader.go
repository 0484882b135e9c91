package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Uploader moves one staged local file to shared storage and returns the
// URL other clients can fetch it from.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

const uploadTimeout = 2 * time.Minute

// GCSUploader uploads staged media to a Cloud Storage bucket under fresh
// object names. A retried upload of the same local file lands under a new
// key; nothing is ever overwritten in the bucket.
type GCSUploader struct {
	client    *gstorage.Client
	bucket    string
	cdnDomain string
	logger    *zap.Logger
}

// NewGCSUploader builds an uploader for the given bucket. cdnDomain is
// optional; when set, returned URLs point at it instead of the storage host.
func NewGCSUploader(ctx context.Context, bucket, cdnDomain string, logger *zap.Logger) (*GCSUploader, error) {
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, cdnDomain: cdnDomain, logger: logger}, nil
}

// Upload streams localPath into the bucket and returns its public URL.
func (u *GCSUploader) Upload(ctx context.Context, localPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := "media/" + uuid.NewString() + filepath.Ext(localPath)
	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeFor(localPath)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", key, err)
	}

	url := u.publicURL(key)
	u.logger.Debug("uploaded media",
		zap.String("local", localPath),
		zap.String("key", key),
		zap.String("url", url))
	return url, nil
}

func (u *GCSUploader) publicURL(key string) string {
	if u.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", u.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, key)
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// DisabledUploader rejects every upload. Used when no media bucket is
// configured; text-only and remote-URL sends still work.
type DisabledUploader struct{}

func (DisabledUploader) Upload(context.Context, string) (string, error) {
	return "", errors.New("media uploads disabled: no bucket configured")
}

func contentTypeFor(path string) string {
	if mt, err := mimetype.DetectFile(path); err == nil {
		return mt.String()
	}
	return "application/octet-stream"
}
