// Package storage defines the blob store contract for downloaded assets and
// resolves an asset target string to a concrete store.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// BlobStore persists named objects.
type BlobStore interface {
	// Exists reports whether an object is already stored at path.
	Exists(ctx context.Context, path string) (bool, error)
	// PutObject writes r to path and returns the object URI.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Target is a parsed asset destination.
type Target struct {
	// Dir is set for local destinations.
	Dir string
	// Bucket and Prefix are set for gs:// destinations.
	Bucket string
	Prefix string
}

// IsGCS reports whether the target names a Cloud Storage bucket.
func (t Target) IsGCS() bool { return t.Bucket != "" }

// ParseTarget interprets "gs://bucket/prefix" or a local directory path.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("asset target is empty")
	}
	rest, ok := strings.CutPrefix(raw, "gs://")
	if !ok {
		return Target{Dir: raw}, nil
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Target{}, fmt.Errorf("asset target %q has no bucket", raw)
	}
	return Target{Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}
