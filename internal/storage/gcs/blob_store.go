// Package gcs stores downloaded assets in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// ErrEmptyName is returned for blank object names.
var ErrEmptyName = errors.New("object name is required")

// Config names the bucket and an optional key prefix such as "thumbs".
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore implements storage.BlobStore on one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New binds client to cfg.Bucket. The client stays owned by the caller.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	switch {
	case client == nil:
		return nil, errors.New("gcs: storage client is required")
	case cfg.Bucket == "":
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Exists stats the object; a missing object is not an error.
func (s *BlobStore) Exists(ctx context.Context, name string) (bool, error) {
	obj, key, err := s.object(name)
	if err != nil {
		return false, err
	}
	switch _, err := obj.Attrs(ctx); {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", s.uri(key), err)
	}
}

// PutObject streams r into the bucket and returns the gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	obj, key, err := s.object(name)
	if err != nil {
		return "", err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	_, copyErr := io.Copy(w, r)
	closeErr := w.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", fmt.Errorf("upload %s: %w", s.uri(key), err)
	}
	return s.uri(key), nil
}

func (s *BlobStore) object(name string) (*storage.ObjectHandle, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", ErrEmptyName
	}
	key := name
	if s.prefix != "" {
		key = path.Join(s.prefix, name)
	}
	return s.bucket.Object(key), key, nil
}

func (s *BlobStore) uri(key string) string {
	return "gs://" + s.name + "/" + key
}
