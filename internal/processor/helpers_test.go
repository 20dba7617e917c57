package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	putErr  error
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, name, _ string, data io.Reader) (crawler.Artifact, error) {
	if m.putErr != nil {
		return crawler.Artifact{}, m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return crawler.Artifact{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	path := "out/" + name
	m.files[path] = b
	return crawler.Artifact{Path: path, Name: name, Size: int64(len(b)), CreatedAt: testTime}, nil
}

func (m *memStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, crawler.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Stat(_ context.Context, path string) (crawler.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	if !ok {
		return crawler.Artifact{}, crawler.ErrNotFound
	}
	return crawler.Artifact{Path: path, Size: int64(len(b))}, nil
}

func (m *memStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return crawler.ErrNotFound
	}
	delete(m.files, path)
	m.deleted = append(m.deleted, path)
	return nil
}

var errStoreDown = errors.New("store down")

// cleaned builds a page whose word set is exactly words.
func cleaned(url, title string, words ...string) CleanedPage {
	return CleanedPage{
		URL:       url,
		Title:     title,
		Content:   strings.Join(words, " "),
		WordCount: len(words),
		words:     wordSet(words),
	}
}

func numberedWords(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func htmlPage(url, title, body string) crawler.PageRecord {
	content := "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
	return crawler.PageRecord{
		URL:           url,
		Title:         title,
		Content:       content,
		ContentLength: len(content),
		ContentType:   "text/html; charset=utf-8",
		StatusCode:    200,
	}
}
