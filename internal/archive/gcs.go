package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// GCSSink stores snapshots as objects in a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
}

var _ Sink = (*GCSSink)(nil)

// NewGCSSink connects to bucket. When credentialsFile is empty Application
// Default Credentials are used (gcloud auth application-default login).
func NewGCSSink(ctx context.Context, bucket, credentialsFile string) (*GCSSink, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGCSSink: create storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket}, nil
}

// Put uploads data under name.
func (s *GCSSink) Put(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Put: write %s: %w", s.URI(name), err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("Put: finalize %s: %w", s.URI(name), err)
	}
	return nil
}

// Get downloads the object stored under name.
func (s *GCSSink) Get(ctx context.Context, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Get: open %s: %w", s.URI(name), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Get: read %s: %w", s.URI(name), err)
	}
	return data, nil
}

// URI returns the gs:// address of name in this sink's bucket.
func (s *GCSSink) URI(name string) string {
	return "gs://" + s.bucket + "/" + name
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

// ParseURI splits gs://bucket/path/to/object into bucket and object name.
func ParseURI(uri string) (bucket, name string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
