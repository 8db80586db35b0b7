package gcs

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// Client is the ObjectStore backed by a storage client. It assumes
// Application Default Credentials are configured.
type Client struct {
	client  *storage.Client
	timeout time.Duration
}

var _ ObjectStore = (*Client)(nil)

// NewClient creates a storage client.
func NewClient(ctx context.Context) (*Client, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{client: c, timeout: 2 * time.Minute}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadObject: opening %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("ReadObject: reading bytes: %w", err)
	}
	return data, nil
}

func (c *Client) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("WriteObject: writing %s/%s: %w", bucket, object, err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("WriteObject: finalize upload: %w", err)
	}
	return nil
}
