// Package objstore abstracts the object store used for quick-entry images.
package objstore

import "context"

// Store uploads binary objects and returns publicly resolvable URLs.
type Store interface {
	// Upload stores data under bucket/path with the given content type and
	// returns the object's URL.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)

	// Download returns the object's bytes. Background vectorization uses it
	// to re-read images the request path uploaded.
	Download(ctx context.Context, bucket, path string) ([]byte, error)
}
