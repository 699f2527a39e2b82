// Package gcs archives snapshots in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the target bucket and an optional object prefix.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// BlobStore uploads snapshots to the configured bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed archive. The client is owned by the caller.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName joins the configured prefix and path.
func (s *BlobStore) ObjectName(path string) string {
	path = strings.TrimLeft(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// PutObject streams r into the bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	name := s.ObjectName(path)
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("upload %s: %w (close: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
