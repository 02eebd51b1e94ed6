package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cespare/xxhash/v2"
)

// DiskStore implements Store with one file per entry under
// <base>/<generation-name>/. Bodies are optionally brotli-compressed; writes
// are atomic via temp file + rename so a crash never leaves a torn entry.
type DiskStore struct {
	cfg      Config
	basePath string
	compress bool
}

// diskEntry is the on-disk representation of a cached response.
type diskEntry struct {
	Key        string              `json:"key"`
	Status     int                 `json:"status"`
	Header     map[string][]string `json:"header"`
	Body       []byte              `json:"body"`
	Compressed bool                `json:"compressed"`
	StoredAt   time.Time           `json:"stored_at"`
}

// NewDiskStore creates a disk-backed store rooted at basePath.
func NewDiskStore(cfg Config, basePath string, compress bool) (*DiskStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &DiskStore{cfg: cfg, basePath: abs, compress: compress}, nil
}

// Put stores a successful response in the current generation's partition.
func (s *DiskStore) Put(ctx context.Context, partition Partition, key string, resp *CachedResponse) error {
	if !resp.OK() {
		return nil
	}

	body := resp.Body
	if s.compress {
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("failed to compress body: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to compress body: %w", err)
		}
		body = buf.Bytes()
	}

	entry := diskEntry{
		Key:        key,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
		Compressed: s.compress,
		StoredAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	filePath := s.entryPath(s.cfg.Generation(partition).Name(), key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create generation directory: %w", err)
	}

	// Write atomically using temp file + rename
	tmpFile := filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmpFile, filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache entry: %w", err)
	}
	return nil
}

// Match searches core then runtime of the current generation pair.
func (s *DiskStore) Match(ctx context.Context, key string) (*CachedResponse, error) {
	for _, p := range []Partition{PartitionCore, PartitionRuntime} {
		resp, err := s.MatchPartition(ctx, p, key)
		if err == nil {
			return resp, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// MatchPartition searches one partition of the current generation.
func (s *DiskStore) MatchPartition(ctx context.Context, partition Partition, key string) (*CachedResponse, error) {
	filePath := s.entryPath(s.cfg.Generation(partition).Name(), key)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry diskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Torn or foreign file: treat as a miss rather than failing the request.
		return nil, ErrNotFound
	}

	body := entry.Body
	if entry.Compressed {
		r := brotli.NewReader(bytes.NewReader(body))
		body, err = io.ReadAll(r)
		if err != nil {
			return nil, ErrNotFound
		}
	}

	return &CachedResponse{
		Status: entry.Status,
		Header: entry.Header,
		Body:   body,
	}, nil
}

// DeleteAll removes the current generation's partition directory.
func (s *DiskStore) DeleteAll(ctx context.Context, partition Partition) error {
	return s.DeleteGeneration(ctx, s.cfg.Generation(partition).Name())
}

// ListGenerations returns the generation directories present under the base path.
func (s *DiskStore) ListGenerations(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// DeleteGeneration removes a whole generation directory.
func (s *DiskStore) DeleteGeneration(ctx context.Context, name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("invalid generation name %q", name)
	}
	if err := os.RemoveAll(filepath.Join(s.basePath, name)); err != nil {
		return fmt.Errorf("failed to delete generation %s: %w", name, err)
	}
	return nil
}

// Close is a no-op for the disk store.
func (s *DiskStore) Close() error {
	return nil
}

func (s *DiskStore) entryPath(generation, key string) string {
	return filepath.Join(s.basePath, generation, fmt.Sprintf("%016x.json", xxhash.Sum64String(key)))
}
