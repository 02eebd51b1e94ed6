package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chicotreta/evknews/internal/cache"
)

type fixture struct {
	dispatcher *Dispatcher
	store      *cache.MemoryStore
	origin     *httptest.Server
	hits       *atomic.Int64
}

// newFixture wires a dispatcher against a live origin, with background
// revalidation running synchronously so tests can observe its effect.
func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()

	hits := &atomic.Int64{}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(origin.Close)

	store := cache.NewMemoryStore(cache.Config{Prefix: "evknews", Version: "v1"})
	d := New(store, origin.URL, http.DefaultClient, nil)
	d.async = func(fn func()) { fn() }

	return &fixture{dispatcher: d, store: store, origin: origin, hits: hits}
}

func (f *fixture) offline() {
	f.origin.Close()
}

func (f *fixture) get(t *testing.T, path, accept string) *Result {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	res, err := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (f *fixture) key(t *testing.T, path string) string {
	t.Helper()
	key, ok := cache.Key(http.MethodGet, f.origin.URL+path)
	require.True(t, ok)
	return key
}

func TestNavigationNetworkFirst(t *testing.T) {
	t.Run("online serves fresh and caches into core", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>fresh</html>"))
		})

		res := f.get(t, "/", "text/html")
		assert.Equal(t, StrategyNetworkFirst, res.Strategy)
		assert.Equal(t, SourceNetwork, res.Source)
		assert.Equal(t, "<html>fresh</html>", string(res.Response.Body))

		cached, err := f.store.MatchPartition(context.Background(), cache.PartitionCore, f.key(t, "/"))
		require.NoError(t, err)
		assert.Equal(t, "<html>fresh</html>", string(cached.Body))
	})

	t.Run("offline falls back to the cached document", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>cached</html>"))
		})
		f.get(t, "/", "text/html")
		f.offline()

		res := f.get(t, "/", "text/html")
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, "<html>cached</html>", string(res.Response.Body))
	})

	t.Run("offline deep link serves the cached shell", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>shell</html>"))
		})
		f.get(t, "/", "text/html")
		f.offline()

		res := f.get(t, "/article/42", "text/html")
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, "<html>shell</html>", string(res.Response.Body))
	})

	t.Run("offline with nothing cached surfaces the transport error", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		f.offline()

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept", "text/html")
		_, err := f.dispatcher.Dispatch(context.Background(), req)
		assert.Error(t, err)
	})
}

func TestFeedDocumentStaleWhileRevalidate(t *testing.T) {
	t.Run("cold miss fetches and caches into runtime", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"id":"a"}]`))
		})

		res := f.get(t, "/news.json", "application/json")
		assert.Equal(t, StrategyStaleWhileRevalidate, res.Strategy)
		assert.Equal(t, SourceNetwork, res.Source)

		_, err := f.store.MatchPartition(context.Background(), cache.PartitionRuntime, f.key(t, "/news.json"))
		assert.NoError(t, err)
	})

	t.Run("hit serves stale and refreshes in the background", func(t *testing.T) {
		var generation atomic.Int64
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			if generation.Load() == 0 {
				_, _ = w.Write([]byte(`["old"]`))
			} else {
				_, _ = w.Write([]byte(`["new"]`))
			}
		})

		f.get(t, "/news.json", "")
		generation.Store(1)

		res := f.get(t, "/news.json", "")
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, `["old"]`, string(res.Response.Body))

		// The synchronous revalidation already refreshed the runtime entry.
		cached, err := f.store.MatchPartition(context.Background(), cache.PartitionRuntime, f.key(t, "/news.json"))
		require.NoError(t, err)
		assert.Equal(t, `["new"]`, string(cached.Body))
	})

	t.Run("precached core feed is served offline", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		key := f.key(t, "/news.json")
		require.NoError(t, f.store.Put(context.Background(), cache.PartitionCore, key, &cache.CachedResponse{
			Status: 200,
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   []byte(`[{"id":"precached"}]`),
		}))
		f.offline()

		res := f.get(t, "/news.json", "")
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, `[{"id":"precached"}]`, string(res.Response.Body))
	})

	t.Run("offline with nothing cached synthesizes an empty feed", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		f.offline()

		res := f.get(t, "/news.json", "")
		assert.Equal(t, SourceSynthetic, res.Source)
		assert.Equal(t, http.StatusOK, res.Response.Status)
		assert.Equal(t, "[]", string(res.Response.Body))
		assert.Equal(t, "application/json; charset=utf-8", res.Response.Header.Get("Content-Type"))
	})
}

func TestAssetCacheFirst(t *testing.T) {
	t.Run("hit answers from cache with one background fetch", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("body"))
		})

		f.get(t, "/styles.css", "")
		require.EqualValues(t, 1, f.hits.Load())

		res := f.get(t, "/styles.css", "")
		assert.Equal(t, StrategyCacheFirst, res.Strategy)
		assert.Equal(t, SourceCache, res.Source)
		// One revalidation fetch, no foreground fetch.
		assert.EqualValues(t, 2, f.hits.Load())
	})

	t.Run("precached core entry wins over the network", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("network"))
		})
		key := f.key(t, "/icon-192.png")
		require.NoError(t, f.store.Put(context.Background(), cache.PartitionCore, key, &cache.CachedResponse{
			Status: 200,
			Body:   []byte("precached"),
		}))

		res := f.get(t, "/icon-192.png", "")
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, "precached", string(res.Response.Body))
	})

	t.Run("miss while offline synthesizes 504", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		f.offline()

		res := f.get(t, "/styles.css", "")
		assert.Equal(t, SourceSynthetic, res.Source)
		assert.Equal(t, http.StatusGatewayTimeout, res.Response.Status)
	})
}

func TestNonGETPassesThrough(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	res, err := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StrategyPassThrough, res.Strategy)
	assert.Equal(t, http.StatusAccepted, res.Response.Status)

	// Nothing may have been cached.
	names, err := f.store.ListGenerations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}
