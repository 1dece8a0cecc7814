// Package gcs implements the object store port on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
)

// Store talks to Google Cloud Storage. Credentials come from the
// application default chain.
type Store struct {
	client *storage.Client
}

// New builds a Store with application default credentials.
func New(ctx context.Context) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("building storage client: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. Emulator and test hook.
func NewWithClient(client *storage.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, bucket, name string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, classify("store.get", bucket, name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify("store.get", bucket, name, err)
	}
	return data, nil
}

// Put implements store.Store. Writes overwrite; replays converge on the
// same content under the same key.
func (s *Store) Put(ctx context.Context, bucket, name string, data []byte, contentType string) (string, error) {
	w := s.client.Bucket(bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", classify("store.put", bucket, name, err)
	}
	// Close commits the upload; errors surface here.
	if err := w.Close(); err != nil {
		return "", classify("store.put", bucket, name, err)
	}
	return uri(bucket, name), nil
}

// Copy implements store.Store using a server-side copy.
func (s *Store) Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) (string, error) {
	src := s.client.Bucket(srcBucket).Object(srcName)
	dst := s.client.Bucket(dstBucket).Object(dstName)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return "", classify("store.copy", srcBucket, srcName, err)
	}
	return uri(dstBucket, dstName), nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]types.ObjectRef, error) {
	var refs []types.ObjectRef
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify("store.list", bucket, prefix, err)
		}
		refs = append(refs, types.ObjectRef{Bucket: bucket, Name: attrs.Name})
	}
	return refs, nil
}

func uri(bucket, name string) string {
	return "gs://" + bucket + "/" + name
}

// classify maps storage SDK failures onto the fault taxonomy. Missing
// objects chain store.ErrNotFound; 5xx and 429 redeliver; other API
// rejections are permanent.
func classify(op, bucket, name string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fault.Permanent(op, fmt.Errorf("%w: %s/%s", store.ErrNotFound, bucket, name))
	}
	var apierr *googleapi.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.Code == 404:
			return fault.Permanent(op, fmt.Errorf("%w: %s/%s", store.ErrNotFound, bucket, name))
		case apierr.Code == 429 || apierr.Code >= 500:
			return fault.Transient(op, err)
		default:
			return fault.Permanent(op, err)
		}
	}
	return fault.Classify(op, err)
}

var _ store.Store = (*Store)(nil)
