package r2mig

import (
	"context"
	"time"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the narrow view of the receipt bucket the migration needs.
// Implementations must be safe for concurrent use and return an error
// wrapping ErrObjectNotFound for missing keys.
type ObjectStore interface {
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Get returns the full contents of key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Copy duplicates src to dst inside the bucket.
	Copy(ctx context.Context, src, dst string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Stat returns metadata for key.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// ValidateSetup verifies the bucket is reachable with the configured
	// credentials.
	ValidateSetup(ctx context.Context) error
}
