// Package gcs keeps the proxy list snapshot as an object in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/proxyfetch/internal/snapshot"
)

// DefaultObject is used when Config.Object is empty.
const DefaultObject = "proxyfetch/proxies.txt"

// Config captures the parameters required to locate the snapshot object.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// Store reads and rewrites one GCS object.
type Store struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	object := strings.TrimSpace(cfg.Object)
	if object == "" {
		object = DefaultObject
	}
	return &Store{client: client, bucket: cfg.Bucket, object: object}, nil
}

// URI returns the gs:// location of the snapshot.
func (s *Store) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

func (s *Store) handle() *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.object)
}

// Exists reports whether the snapshot object is present.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, err := s.handle().Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", s.URI(), err)
	}
	return true, nil
}

// Load downloads and decodes the snapshot.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	r, err := s.handle().NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.URI(), err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URI(), err)
	}
	return snapshot.Decode(data), nil
}

// Save uploads the snapshot, replacing the previous object.
func (s *Store) Save(ctx context.Context, addrs []string) error {
	writer := s.handle().NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"
	if _, err := writer.Write(snapshot.Encode(addrs)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Remove deletes the snapshot object. A missing object is not an error.
func (s *Store) Remove(ctx context.Context) error {
	err := s.handle().Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", s.URI(), err)
	}
	return nil
}
