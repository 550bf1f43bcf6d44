// Package minio implements the object store on any S3-compatible endpoint via
// the MinIO client.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

type (
	// Client captures the subset of the MinIO client used by the store. It
	// is satisfied by *minio.Client so tests can substitute a mock.
	Client interface {
		PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
		GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	}

	// Options configures the store.
	Options struct {
		// Client is the MinIO client. Required.
		Client Client
		// PublicBaseURL is the externally reachable endpoint used to build
		// object URLs, e.g. "https://media.example.com". Required.
		PublicBaseURL string
	}

	// Store implements objstore.Store on S3-compatible storage.
	Store struct {
		client  Client
		baseURL string
	}
)

// New builds a Store from the provided options.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("minio: client is required")
	}
	if opts.PublicBaseURL == "" {
		return nil, errors.New("minio: public base URL is required")
	}
	return &Store{client: opts.Client, baseURL: opts.PublicBaseURL}, nil
}

// Upload stores the object and returns its public URL.
func (s *Store) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if bucket == "" || path == "" {
		return "", errors.New("minio: bucket and path are required")
	}
	if len(data) == 0 {
		return "", errors.New("minio: object data is empty")
	}
	_, err := s.client.PutObject(ctx, bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("minio: upload %s/%s: %w", bucket, path, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, path), nil
}

// Download returns the object's bytes.
func (s *Store) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	if bucket == "" || path == "" {
		return nil, errors.New("minio: bucket and path are required")
	}
	obj, err := s.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio: get %s/%s: %w", bucket, path, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("minio: read %s/%s: %w", bucket, path, err)
	}
	return data, nil
}
