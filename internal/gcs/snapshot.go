// Package gcs keeps the cache snapshot in a Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const writeTimeout = 2 * time.Minute

// SnapshotStore reads and writes a single object. It satisfies
// cache.SnapshotStore.
type SnapshotStore struct {
	client *storage.Client
	bucket string
	object string
}

// NewSnapshotStore creates a storage client. It assumes Application Default
// Credentials unless opts say otherwise.
func NewSnapshotStore(ctx context.Context, bucket, object string, opts ...option.ClientOption) (*SnapshotStore, error) {
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("NewSnapshotStore: bucket and object are required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewSnapshotStore: create storage client: %w", err)
	}
	return &SnapshotStore{client: client, bucket: bucket, object: object}, nil
}

// URI is the gs:// location of the snapshot.
func (s *SnapshotStore) URI() string {
	return URI(s.bucket, s.object)
}

// Close closes the storage client.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}

// Put replaces the object with data.
func (s *SnapshotStore) Put(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Put: write %s: %w", s.URI(), err)
	}
	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("Put: finalize %s: %w", s.URI(), err)
	}
	return nil
}

// Get returns the object's bytes, or nil when it does not exist yet.
func (s *SnapshotStore) Get(ctx context.Context) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: open %s: %w", s.URI(), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Get: read %s: %w", s.URI(), err)
	}
	return data, nil
}
