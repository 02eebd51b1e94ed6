package cache

import (
	"context"
	"net/http"
	"testing"
)

func TestKey(t *testing.T) {
	t.Run("NormalizesGETRequests", func(t *testing.T) {
		key, ok := Key(http.MethodGet, "https://news.example.com/index.html#section")
		if !ok {
			t.Fatal("expected GET request to be cacheable")
		}
		if key != "GET https://news.example.com/index.html" {
			t.Errorf("unexpected key %q", key)
		}
	})

	t.Run("RejectsNonGET", func(t *testing.T) {
		if _, ok := Key(http.MethodPost, "https://news.example.com/"); ok {
			t.Error("expected POST to be uncacheable")
		}
	})

	t.Run("RejectsRelativeURL", func(t *testing.T) {
		if _, ok := Key(http.MethodGet, "/news.json"); ok {
			t.Error("expected relative URL to be uncacheable")
		}
	})
}

func TestGenerationName(t *testing.T) {
	g := Generation{Prefix: "evknews", Version: "v6", Partition: PartitionCore}
	if g.Name() != "evknews-core-v6" {
		t.Errorf("unexpected generation name %q", g.Name())
	}

	parsed, ok := ParseGeneration("evknews-runtime-v6", "evknews")
	if !ok {
		t.Fatal("expected runtime generation to parse")
	}
	if parsed.Partition != PartitionRuntime || parsed.Version != "v6" {
		t.Errorf("unexpected parse result %+v", parsed)
	}

	if _, ok := ParseGeneration("othersite-core-v2", "evknews"); ok {
		t.Error("expected foreign prefix to be rejected")
	}
	if _, ok := ParseGeneration("evknews-core-", "evknews"); ok {
		t.Error("expected empty version to be rejected")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Prefix: "evknews", Version: "v6"}

	okResp := func(body string) *CachedResponse {
		return &CachedResponse{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"text/plain"}},
			Body:   []byte(body),
		}
	}

	t.Run("PutMatchRoundTrip", func(t *testing.T) {
		store := NewMemoryStore(cfg)
		key, _ := Key(http.MethodGet, "https://news.example.com/styles.css")

		if _, err := store.Match(ctx, key); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound before put, got %v", err)
		}

		if err := store.Put(ctx, PartitionRuntime, key, okResp("body { }")); err != nil {
			t.Fatalf("unexpected error on put: %v", err)
		}

		resp, err := store.Match(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error on match: %v", err)
		}
		if string(resp.Body) != "body { }" {
			t.Errorf("unexpected body %q", resp.Body)
		}
	})

	t.Run("RejectsErrorResponses", func(t *testing.T) {
		store := NewMemoryStore(cfg)
		key, _ := Key(http.MethodGet, "https://news.example.com/missing.css")

		err := store.Put(ctx, PartitionRuntime, key, &CachedResponse{Status: http.StatusNotFound})
		if err != nil {
			t.Fatalf("put of error response must no-op, got error: %v", err)
		}
		if _, err := store.Match(ctx, key); err != ErrNotFound {
			t.Error("error response must not be cached")
		}

		if err := store.Put(ctx, PartitionRuntime, key, nil); err != nil {
			t.Fatalf("put of nil response must no-op, got error: %v", err)
		}
	})

	t.Run("CorePartitionWinsOnMatch", func(t *testing.T) {
		store := NewMemoryStore(cfg)
		key, _ := Key(http.MethodGet, "https://news.example.com/index.html")

		if err := store.Put(ctx, PartitionRuntime, key, okResp("runtime copy")); err != nil {
			t.Fatal(err)
		}
		if err := store.Put(ctx, PartitionCore, key, okResp("core copy")); err != nil {
			t.Fatal(err)
		}

		resp, err := store.Match(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if string(resp.Body) != "core copy" {
			t.Errorf("expected core partition to shadow runtime, got %q", resp.Body)
		}
	})

	t.Run("DeleteAllRuntimeLeavesCore", func(t *testing.T) {
		store := NewMemoryStore(cfg)
		coreKey, _ := Key(http.MethodGet, "https://news.example.com/app.js")
		runtimeKey, _ := Key(http.MethodGet, "https://news.example.com/photo.png")

		if err := store.Put(ctx, PartitionCore, coreKey, okResp("core")); err != nil {
			t.Fatal(err)
		}
		if err := store.Put(ctx, PartitionRuntime, runtimeKey, okResp("runtime")); err != nil {
			t.Fatal(err)
		}

		if err := store.DeleteAll(ctx, PartitionRuntime); err != nil {
			t.Fatal(err)
		}

		if _, err := store.Match(ctx, coreKey); err != nil {
			t.Errorf("core entry must survive a runtime clear: %v", err)
		}
		if _, err := store.Match(ctx, runtimeKey); err != ErrNotFound {
			t.Error("runtime entry must be gone after runtime clear")
		}
	})

	t.Run("StaleGenerationIsNeverRead", func(t *testing.T) {
		store := NewMemoryStore(cfg)
		key, _ := Key(http.MethodGet, "https://news.example.com/app.js")

		store.seed("evknews-core-v5", key, okResp("old release"))

		if _, err := store.Match(ctx, key); err != ErrNotFound {
			t.Error("entries under a stale generation must be unreachable")
		}

		names, err := store.ListGenerations(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 1 || names[0] != "evknews-core-v5" {
			t.Errorf("unexpected generation list %v", names)
		}

		if err := store.DeleteGeneration(ctx, "evknews-core-v5"); err != nil {
			t.Fatal(err)
		}
		names, _ = store.ListGenerations(ctx)
		if len(names) != 0 {
			t.Errorf("expected empty generation list after delete, got %v", names)
		}
	})
}
