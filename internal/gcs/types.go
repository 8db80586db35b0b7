// Package gcs reads and writes whole objects in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"
)

const scheme = "gs://"

// ObjectStore provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// ReadObject returns the full contents of bucket/object.
	ReadObject(ctx context.Context, bucket, object string) ([]byte, error)

	// WriteObject replaces bucket/object with data.
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// IsURI reports whether s is a gs:// URI.
func IsURI(s string) bool {
	return strings.HasPrefix(s, scheme)
}

// ParseURI splits gs://bucket/path/to/object into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, scheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
