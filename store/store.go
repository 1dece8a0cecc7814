// Package store defines the object store port and the canonical layout
// of the pipeline's storage areas. Backends live in the gcs and s3
// subpackages; Memory backs tests.
package store

import (
	"context"
	"errors"

	"github.com/pithecene-io/smelter/types"
)

// ErrNotFound indicates the object does not exist. Implementations wrap
// it so errors.Is(err, ErrNotFound) holds across backends.
var ErrNotFound = errors.New("object not found")

// Store is the object store port. Implementations classify failures as
// transient or permanent via the fault package; Get on a missing object
// is permanent and matches ErrNotFound.
type Store interface {
	// Get returns the full object content.
	Get(ctx context.Context, bucket, name string) ([]byte, error)
	// Put writes the object, overwriting any previous content, and
	// returns the backend URI. Overwrite-on-replay keeps puts idempotent.
	Put(ctx context.Context, bucket, name string, data []byte, contentType string) (string, error)
	// Copy duplicates an object without reading it through the client
	// and returns the destination URI.
	Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) (string, error)
	// List returns refs for every object under prefix, sorted by name.
	List(ctx context.Context, bucket, prefix string) ([]types.ObjectRef, error)
}
