// Package gcs archives exported workbooks and source documents in Google
// Cloud Storage and reads documents referenced by gs:// URIs.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
)

// uploadTimeout bounds a single object upload.
const uploadTimeout = 2 * time.Minute

// Storage provides the cloud storage operations used by the export and
// analysis paths.
// This interface enables mocking and testing of storage functionality.
type Storage interface {
	// Upload copies a local file to objectName and returns its gs:// URI.
	Upload(ctx context.Context, objectName, filePath string) (string, error)
	// Fetch downloads the bytes behind a gs:// URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Client implements Storage against one bucket.
// It assumes Application Default Credentials are configured.
type Client struct {
	bucket string
	client *storage.Client
}

// NewClient creates a storage client bound to bucket.
func NewClient(ctx context.Context, bucket string) (*Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewClient: bucket name is empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create storage client: %w", err)
	}
	return &Client{bucket: bucket, client: client}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Bucket returns the bucket uploads go to.
func (c *Client) Bucket() string {
	return c.bucket
}

// Upload copies filePath into the bucket under objectName.
func (c *Client) Upload(ctx context.Context, objectName, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("Upload: open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := c.client.Bucket(c.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy file to writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize upload: %w", err)
	}
	return URI(c.bucket, objectName), nil
}

// Fetch downloads the object behind uri. The URI may name any bucket.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}
