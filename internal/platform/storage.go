package platform

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AbuAli85/smartprohub-sub000/internal/config"
)

// Storage uploads message attachments to the platform's object store and
// returns their public URLs.
type Storage struct {
	client *minio.Client
	bucket string
	base   string
}

// NewStorage connects to the configured object-storage endpoint.
func NewStorage(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		base:   fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket),
	}, nil
}

// Upload stores an attachment under <namespace>/<uuid><ext> and returns its
// public URL. The namespace is the uploading user's id; the original
// filename only contributes its extension so object names never collide.
func (s *Storage) Upload(ctx context.Context, namespace, filename, contentType string, r io.Reader, size int64) (string, error) {
	object := namespace + "/" + uuid.NewString() + path.Ext(filename)

	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	_, err := s.client.PutObject(uploadCtx, s.bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	return s.base + "/" + object, nil
}
