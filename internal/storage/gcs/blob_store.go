// Package gcs provides an artifact store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed artifact store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put uploads data and returns an artifact addressed by a gs:// URI. Uploads
// carry a does-not-exist precondition, so a taken name moves on to the next
// suffixed candidate instead of replacing the object.
func (s *BlobStore) Put(ctx context.Context, name string, contentType string, r io.Reader) (crawler.Artifact, error) {
	if strings.TrimSpace(name) == "" {
		return crawler.Artifact{}, fmt.Errorf("name is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("read data: %w", err)
	}
	for attempt := 0; attempt < crawler.MaxNameAttempts; attempt++ {
		object := crawler.CandidateName(name, attempt)
		if s.prefix != "" {
			object = path.Join(s.prefix, object)
		}
		artifact, err := s.create(ctx, object, contentType, data)
		if isPreconditionFailed(err) {
			continue
		}
		return artifact, err
	}
	return crawler.Artifact{}, fmt.Errorf("put %s: no free name after %d attempts", name, crawler.MaxNameAttempts)
}

func (s *BlobStore) create(ctx context.Context, object, contentType string, data []byte) (crawler.Artifact, error) {
	handle := s.client.Bucket(s.bucket).Object(object).
		If(storage.Conditions{DoesNotExist: true}).
		Retryer(storage.WithPolicy(storage.RetryNever))
	writer := handle.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	n, err := writer.Write(data)
	if err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return crawler.Artifact{}, fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return crawler.Artifact{}, fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("close writer: %w", err)
	}

	created := time.Now().UTC()
	if attrs := writer.Attrs(); attrs != nil && !attrs.Created.IsZero() {
		created = attrs.Created.UTC()
	}
	return crawler.Artifact{
		Path:      s.uri(object),
		Name:      path.Base(object),
		Size:      int64(n),
		CreatedAt: created,
	}, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

// Open streams the object addressed by uri.
func (s *BlobStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	object, err := s.objectName(uri)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.Bucket(s.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, translate(uri, err)
	}
	return rc, nil
}

// Stat reads the object's attributes.
func (s *BlobStore) Stat(ctx context.Context, uri string) (crawler.Artifact, error) {
	object, err := s.objectName(uri)
	if err != nil {
		return crawler.Artifact{}, err
	}
	attrs, err := s.client.Bucket(s.bucket).Object(object).Attrs(ctx)
	if err != nil {
		return crawler.Artifact{}, translate(uri, err)
	}
	return crawler.Artifact{
		Path:      s.uri(object),
		Name:      path.Base(object),
		Size:      attrs.Size,
		CreatedAt: attrs.Created.UTC(),
	}, nil
}

// Delete removes the object.
func (s *BlobStore) Delete(ctx context.Context, uri string) error {
	object, err := s.objectName(uri)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(s.bucket).Object(object).Delete(ctx); err != nil {
		return translate(uri, err)
	}
	return nil
}

func (s *BlobStore) uri(object string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, object)
}

func (s *BlobStore) objectName(uri string) (string, error) {
	prefix := fmt.Sprintf("gs://%s/", s.bucket)
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("artifact %s is not in bucket %s", uri, s.bucket)
	}
	object := strings.TrimPrefix(uri, prefix)
	if object == "" {
		return "", fmt.Errorf("artifact %s has no object name", uri)
	}
	return object, nil
}

func translate(uri string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("artifact %s: %w", uri, crawler.ErrNotFound)
	}
	return fmt.Errorf("artifact %s: %w", uri, err)
}
