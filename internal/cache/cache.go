// Package cache provides the generation-tagged response store backing the
// request strategies. Entries live in one of two partitions: "core" holds the
// precached, versioned app shell; "runtime" is populated dynamically during
// use. Supports memory, disk, and Redis backends.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Partition is a named subdivision of the store.
type Partition string

const (
	// PartitionCore holds precached, versioned essentials.
	PartitionCore Partition = "core"
	// PartitionRuntime holds entries populated dynamically during use.
	PartitionRuntime Partition = "runtime"
)

// ErrNotFound indicates a lookup with no stored entry.
var ErrNotFound = errors.New("cache entry not found")

// Generation identifies one cache partition of one release.
type Generation struct {
	Prefix    string
	Version   string
	Partition Partition
}

// Name renders the storage-facing generation identifier, e.g. "evknews-core-v6".
func (g Generation) Name() string {
	return fmt.Sprintf("%s-%s-%s", g.Prefix, g.Partition, g.Version)
}

// ParseGeneration reverses Name for identifiers sharing the given prefix.
// Returns false for names under a different prefix or with an unknown partition.
func ParseGeneration(name, prefix string) (Generation, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"-")
	if !ok {
		return Generation{}, false
	}
	for _, p := range []Partition{PartitionCore, PartitionRuntime} {
		if version, ok := strings.CutPrefix(rest, string(p)+"-"); ok && version != "" {
			return Generation{Prefix: prefix, Version: version, Partition: p}, true
		}
	}
	return Generation{}, false
}

// CachedResponse is the stored form of an upstream HTTP response.
type CachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// OK reports whether the response has a success (2xx) status.
func (r *CachedResponse) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy so callers can mutate headers or body freely.
func (r *CachedResponse) Clone() *CachedResponse {
	if r == nil {
		return nil
	}
	cp := &CachedResponse{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
	return cp
}

// Key builds the normalized request identity for a cacheable request.
// Only GET requests are cacheable; everything else returns ok=false.
func Key(method, rawURL string) (string, bool) {
	if method != http.MethodGet {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return "", false
	}
	u.Fragment = ""
	return http.MethodGet + " " + u.String(), true
}

// Store is the partitioned response store. Implementations must be safe for
// concurrent use; all mutations are independent per-key overwrites.
type Store interface {
	// Put stores a response under the given partition of the current generation.
	// Silently no-ops when resp is nil or not a success status: error bodies must
	// never poison the cache.
	Put(ctx context.Context, partition Partition, key string, resp *CachedResponse) error

	// Match searches the current generation pair for key, core partition first.
	// Returns ErrNotFound when neither partition has the entry.
	Match(ctx context.Context, key string) (*CachedResponse, error)

	// MatchPartition searches only the given partition of the current generation.
	MatchPartition(ctx context.Context, partition Partition, key string) (*CachedResponse, error)

	// DeleteAll removes every entry in the given partition of the current generation.
	DeleteAll(ctx context.Context, partition Partition) error

	// ListGenerations returns the identifiers of every generation present in the
	// underlying storage, current or stale.
	ListGenerations(ctx context.Context) ([]string, error)

	// DeleteGeneration removes a whole generation by identifier.
	DeleteGeneration(ctx context.Context, name string) error

	// Close releases any resources held by the store.
	Close() error
}

// Config names the current generation pair a store serves.
type Config struct {
	Prefix  string
	Version string
}

// Generation returns the current generation for the given partition.
func (c Config) Generation(p Partition) Generation {
	return Generation{Prefix: c.Prefix, Version: c.Version, Partition: p}
}
