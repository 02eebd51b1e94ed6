// Package dispatch routes intercepted requests through the caching
// strategies: network-first for navigations, stale-while-revalidate for feed
// documents, cache-first with background revalidation for everything else.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chicotreta/evknews/internal/cache"
	"github.com/chicotreta/evknews/internal/observability"
)

// Strategy names the caching strategy a request was routed through.
type Strategy string

const (
	StrategyNetworkFirst         Strategy = "network_first"
	StrategyStaleWhileRevalidate Strategy = "stale_while_revalidate"
	StrategyCacheFirst           Strategy = "cache_first"
	// StrategyPassThrough marks requests the cache never touches.
	StrategyPassThrough Strategy = "pass_through"
)

// Source names where the response bytes came from.
type Source string

const (
	SourceNetwork   Source = "network"
	SourceCache     Source = "cache"
	SourceSynthetic Source = "synthetic"
)

// maxBodyBytes bounds an upstream response body.
const maxBodyBytes = 32 * 1024 * 1024 // 32 MB

// Result is a dispatched response plus how it was produced.
type Result struct {
	Response *cache.CachedResponse
	Strategy Strategy
	Source   Source
}

// Dispatcher intercepts requests bound for the origin and serves them
// through the configured strategies over the cache store.
type Dispatcher struct {
	store   cache.Store
	origin  string
	http    *http.Client
	metrics *observability.Metrics

	// async runs background revalidations. Tests replace it to run
	// synchronously.
	async func(fn func())
}

// New builds a dispatcher. origin is the absolute upstream base URL.
func New(store cache.Store, origin string, httpClient *http.Client, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:   store,
		origin:  strings.TrimRight(origin, "/"),
		http:    httpClient,
		metrics: metrics,
		async:   func(fn func()) { go fn() },
	}
}

// Dispatch classifies the request and serves it through the matching
// strategy. Non-GET requests pass straight through to the origin without
// touching the cache.
func (d *Dispatcher) Dispatch(ctx context.Context, r *http.Request) (*Result, error) {
	rawURL := d.origin + r.URL.RequestURI()

	key, cacheable := cache.Key(r.Method, rawURL)
	if !cacheable {
		resp, err := d.fetch(ctx, r.Method, rawURL, r)
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp, Strategy: StrategyPassThrough, Source: SourceNetwork}, nil
	}

	switch {
	case isNavigation(r):
		return d.networkFirst(ctx, rawURL, key, r)
	case strings.HasSuffix(r.URL.Path, ".json"):
		return d.staleWhileRevalidate(ctx, rawURL, key, r)
	default:
		return d.cacheFirst(ctx, rawURL, key, r)
	}
}

// isNavigation reports whether the request asks for an HTML document.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// networkFirst serves navigations: fresh documents when the origin answers,
// the cached copy when it does not, the cached root document as a last
// resort for uncached paths.
func (d *Dispatcher) networkFirst(ctx context.Context, rawURL, key string, r *http.Request) (*Result, error) {
	resp, err := d.fetch(ctx, http.MethodGet, rawURL, r)
	if err == nil {
		d.put(ctx, cache.PartitionCore, key, resp)
		d.metrics.CacheLookup(string(StrategyNetworkFirst), false)
		return &Result{Response: resp, Strategy: StrategyNetworkFirst, Source: SourceNetwork}, nil
	}
	slog.Debug("navigation fetch failed, falling back to cache", "url", rawURL, "error", err)

	cached, cerr := d.store.Match(ctx, key)
	if cerr == nil {
		d.metrics.CacheLookup(string(StrategyNetworkFirst), true)
		return &Result{Response: cached, Strategy: StrategyNetworkFirst, Source: SourceCache}, nil
	}

	// Uncached deep link while offline: hand out the cached app shell so the
	// client can still boot.
	if rootKey, ok := cache.Key(http.MethodGet, d.origin+"/"); ok {
		if shell, serr := d.store.Match(ctx, rootKey); serr == nil {
			d.metrics.CacheLookup(string(StrategyNetworkFirst), true)
			return &Result{Response: shell, Strategy: StrategyNetworkFirst, Source: SourceCache}, nil
		}
	}

	// Nothing cached at all: the transport failure surfaces to the caller.
	d.metrics.CacheLookup(string(StrategyNetworkFirst), false)
	return nil, err
}

// staleWhileRevalidate serves feed documents: the cached copy immediately
// with a detached refresh, the network on a cold miss, and an empty feed
// when both fail. The lookup spans both partitions so a precached feed
// document answers before the first sync ever ran; refreshes still land in
// runtime.
func (d *Dispatcher) staleWhileRevalidate(ctx context.Context, rawURL, key string, r *http.Request) (*Result, error) {
	cached, err := d.store.Match(ctx, key)
	if err == nil {
		d.metrics.CacheLookup(string(StrategyStaleWhileRevalidate), true)
		d.revalidate(ctx, rawURL, key, r)
		return &Result{Response: cached, Strategy: StrategyStaleWhileRevalidate, Source: SourceCache}, nil
	}

	d.metrics.CacheLookup(string(StrategyStaleWhileRevalidate), false)
	resp, err := d.fetch(ctx, http.MethodGet, rawURL, r)
	if err != nil {
		slog.Debug("feed document fetch failed with no cached copy", "url", rawURL, "error", err)
		return &Result{Response: emptyFeedResponse(), Strategy: StrategyStaleWhileRevalidate, Source: SourceSynthetic}, nil
	}

	d.put(ctx, cache.PartitionRuntime, key, resp)
	return &Result{Response: resp, Strategy: StrategyStaleWhileRevalidate, Source: SourceNetwork}, nil
}

// cacheFirst serves static assets: the cached copy when present (with a
// detached refresh), the network on a miss, a synthetic 504 when both fail.
func (d *Dispatcher) cacheFirst(ctx context.Context, rawURL, key string, r *http.Request) (*Result, error) {
	cached, err := d.store.Match(ctx, key)
	if err == nil {
		d.metrics.CacheLookup(string(StrategyCacheFirst), true)
		d.revalidate(ctx, rawURL, key, r)
		return &Result{Response: cached, Strategy: StrategyCacheFirst, Source: SourceCache}, nil
	}

	d.metrics.CacheLookup(string(StrategyCacheFirst), false)
	resp, err := d.fetch(ctx, http.MethodGet, rawURL, r)
	if err != nil {
		slog.Debug("asset fetch failed with no cached copy", "url", rawURL, "error", err)
		return &Result{Response: offlineResponse(), Strategy: StrategyCacheFirst, Source: SourceSynthetic}, nil
	}

	d.put(ctx, cache.PartitionRuntime, key, resp)
	return &Result{Response: resp, Strategy: StrategyCacheFirst, Source: SourceNetwork}, nil
}

// revalidate refreshes one cached entry in the background. The refresh is
// detached from the request context so client disconnects do not cancel it;
// failures are logged and otherwise invisible.
func (d *Dispatcher) revalidate(ctx context.Context, rawURL, key string, r *http.Request) {
	bg := context.WithoutCancel(ctx)
	accept := r.Header.Get("Accept")
	d.async(func() {
		req, err := http.NewRequestWithContext(bg, http.MethodGet, rawURL, nil)
		if err != nil {
			return
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		resp, err := d.doFetch(req)
		if err != nil {
			slog.Debug("background revalidation failed", "url", rawURL, "error", err)
			return
		}
		d.put(bg, cache.PartitionRuntime, key, resp)
	})
}

// fetch issues one upstream request mirroring the inbound content
// negotiation headers.
func (d *Dispatcher) fetch(ctx context.Context, method, rawURL string, r *http.Request) (*cache.CachedResponse, error) {
	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	for _, h := range []string{"Accept", "Accept-Language", "Content-Type", "If-None-Match", "If-Modified-Since"} {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	return d.doFetch(req)
}

func (d *Dispatcher) doFetch(req *http.Request) (*cache.CachedResponse, error) {
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading upstream body: %w", err)
	}

	return &cache.CachedResponse{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// put stores a response, ignoring storage failures: a broken cache write
// must never fail the request being served.
func (d *Dispatcher) put(ctx context.Context, partition cache.Partition, key string, resp *cache.CachedResponse) {
	if err := d.store.Put(ctx, partition, key, resp); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}

// offlineResponse is the synthetic reply when neither network nor cache can
// serve a request.
func offlineResponse() *cache.CachedResponse {
	return &cache.CachedResponse{
		Status: http.StatusGatewayTimeout,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:   []byte("Offline"),
	}
}

// emptyFeedResponse is the synthetic empty feed document handed out when a
// feed request cannot be served at all. Clients render an empty list instead
// of an error page.
func emptyFeedResponse() *cache.CachedResponse {
	return &cache.CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:   []byte("[]"),
	}
}
