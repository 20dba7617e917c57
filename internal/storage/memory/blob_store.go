package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// BlobStore keeps artifacts in memory, addressed by memory:// URIs. It backs
// the CLI and tests where nothing needs to outlive the process.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string]blob
}

type blob struct {
	content []byte
	created time.Time
}

// NewBlobStore creates an empty in-memory store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[string]blob),
	}
}

// Put copies the content and returns its artifact. A taken name gets a
// numeric suffix.
func (s *BlobStore) Put(_ context.Context, name string, _ string, data io.Reader) (crawler.Artifact, error) {
	if strings.TrimSpace(name) == "" {
		return crawler.Artifact{}, fmt.Errorf("name is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("failed to read data from reader: %w", err)
	}
	b := blob{content: append([]byte(nil), byteData...), created: time.Now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 0; attempt < crawler.MaxNameAttempts; attempt++ {
		candidate := crawler.CandidateName(name, attempt)
		uri := "memory://" + candidate
		if _, taken := s.data[uri]; taken {
			continue
		}
		s.data[uri] = b
		return artifactOf(uri, candidate, b), nil
	}
	return crawler.Artifact{}, fmt.Errorf("put %s: no free name after %d attempts", name, crawler.MaxNameAttempts)
}

// Open returns a reader over a copy of the content.
func (s *BlobStore) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	s.mu.RLock()
	b, ok := s.data[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", uri, crawler.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b.content)), nil
}

// Stat describes the artifact at uri.
func (s *BlobStore) Stat(_ context.Context, uri string) (crawler.Artifact, error) {
	s.mu.RLock()
	b, ok := s.data[uri]
	s.mu.RUnlock()
	if !ok {
		return crawler.Artifact{}, fmt.Errorf("artifact %s: %w", uri, crawler.ErrNotFound)
	}
	return artifactOf(uri, strings.TrimPrefix(uri, "memory://"), b), nil
}

// Delete drops the artifact at uri.
func (s *BlobStore) Delete(_ context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[uri]; !ok {
		return fmt.Errorf("artifact %s: %w", uri, crawler.ErrNotFound)
	}
	delete(s.data, uri)
	return nil
}

func artifactOf(uri, name string, b blob) crawler.Artifact {
	return crawler.Artifact{
		Path:      uri,
		Name:      name,
		Size:      int64(len(b.content)),
		CreatedAt: b.created,
	}
}
