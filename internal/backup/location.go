package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/dvloznov/finance-assistant/internal/gcs"
)

const contentType = "application/json"

// Files reads and writes backups by location: a local path or a
// gs://bucket/object URI.
type Files struct {
	// Objects serves gs:// locations. When nil, one is created on first use.
	Objects gcs.ObjectStore
}

func (f *Files) objects(ctx context.Context) (gcs.ObjectStore, error) {
	if f.Objects != nil {
		return f.Objects, nil
	}
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	f.Objects = c
	return c, nil
}

// Read returns the raw bytes at location.
func (f *Files) Read(ctx context.Context, location string) ([]byte, error) {
	if !gcs.IsURI(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("Read: %w", err)
		}
		return data, nil
	}

	bucket, object, err := gcs.ParseURI(location)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	store, err := f.objects(ctx)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	data, err := store.ReadObject(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	return data, nil
}

// Write stores data at location, replacing what was there.
func (f *Files) Write(ctx context.Context, location string, data []byte) error {
	if !gcs.IsURI(location) {
		if err := os.WriteFile(location, data, 0o644); err != nil {
			return fmt.Errorf("Write: %w", err)
		}
		return nil
	}

	bucket, object, err := gcs.ParseURI(location)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	store, err := f.objects(ctx)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	if err := store.WriteObject(ctx, bucket, object, contentType, data); err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	return nil
}
