package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chicotreta/evknews/internal/core"
	"github.com/chicotreta/evknews/internal/state"
)

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) sink(ev Event) {
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func newTestEngine(t *testing.T, feedURL string, store state.Store, prober Prober) (*Engine, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	snapshots := NewSnapshotStore(store, 2_000_000, nil)
	client := NewClient(http.DefaultClient, feedURL)
	return NewEngine(client, snapshots, prober, nil, rec.sink), rec
}

func feedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncColdStart(t *testing.T) {
	payload := `[{"id":"a","title":"Sommerfest","tags":["Kultur"]}]`
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(payload))
	})

	store := state.NewMemory()
	eng, rec := newTestEngine(t, srv.URL, store, StaticProber(true))

	outcome := eng.Sync(context.Background())
	require.Equal(t, OutcomeUpdated, outcome.Kind)
	require.Len(t, outcome.Items, 1)
	assert.Equal(t, "Sommerfest", outcome.Items[0].Title)
	assert.Equal(t, []EventKind{EventUpdated}, rec.kinds())
	assert.False(t, eng.FallbackActive())

	// The snapshot and its validation metadata must have been persisted.
	raw, err := store.Get(context.Background(), state.KeySnapshot)
	require.NoError(t, err)
	var persisted []Item
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Len(t, persisted, 1)

	validator, err := store.Get(context.Background(), state.KeyValidator)
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, string(validator))
}

func TestSyncNotModifiedOn304(t *testing.T) {
	var sawValidator string
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		sawValidator = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	})

	store := state.NewMemory()
	require.NoError(t, store.Set(context.Background(), state.KeySnapshot, []byte(`[{"id":"a","title":"Alt"}]`)))
	require.NoError(t, store.Set(context.Background(), state.KeyValidator, []byte(`"v1"`)))

	eng, rec := newTestEngine(t, srv.URL, store, StaticProber(true))
	outcome := eng.Sync(context.Background())

	assert.Equal(t, OutcomeNotModified, outcome.Kind)
	assert.Equal(t, `"v1"`, sawValidator)
	assert.Equal(t, []EventKind{EventRenderedLocal, EventNotModified}, rec.kinds())

	items := eng.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Alt", items[0].Title)
}

func TestSyncIdenticalBytesNewValidator(t *testing.T) {
	payload := `[{"id":"a","title":"Alt"}]`
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte(payload))
	})

	store := state.NewMemory()
	require.NoError(t, store.Set(context.Background(), state.KeySnapshot, []byte(payload)))
	require.NoError(t, store.Set(context.Background(), state.KeyValidator, []byte(`"v1"`)))
	require.NoError(t, store.Set(context.Background(), state.KeyHash, []byte(ContentHash([]byte(payload)))))

	eng, rec := newTestEngine(t, srv.URL, store, StaticProber(true))
	outcome := eng.Sync(context.Background())

	assert.Equal(t, OutcomeNotModified, outcome.Kind)
	assert.Equal(t, []EventKind{EventRenderedLocal, EventNotModified}, rec.kinds())

	// The rotated validator must be persisted for the next conditional fetch.
	validator, err := store.Get(context.Background(), state.KeyValidator)
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, string(validator))
}

func TestSyncStaleButAvailable(t *testing.T) {
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := state.NewMemory()
	require.NoError(t, store.Set(context.Background(), state.KeySnapshot, []byte(`[{"id":"a","title":"Alt"}]`)))

	eng, rec := newTestEngine(t, srv.URL, store, StaticProber(true))
	outcome := eng.Sync(context.Background())

	assert.Equal(t, OutcomeFailed, outcome.Kind)
	require.Error(t, outcome.Err)
	assert.Equal(t, []EventKind{EventRenderedLocal, EventFailed}, rec.kinds())

	// The stale snapshot keeps serving, never the fallback.
	items := eng.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Alt", items[0].Title)
	assert.False(t, eng.FallbackActive())
}

func TestSyncFallbackOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	eng, rec := newTestEngine(t, srv.URL, state.NewMemory(), StaticProber(false))
	outcome := eng.Sync(context.Background())

	assert.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, ReasonOffline, outcome.Reason)
	assert.Equal(t, []EventKind{EventFallback}, rec.kinds())

	items := eng.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "fallback-offline", items[0].ID)
	assert.True(t, eng.FallbackActive())
}

func TestSyncFallbackError(t *testing.T) {
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	eng, rec := newTestEngine(t, srv.URL, state.NewMemory(), StaticProber(true))
	outcome := eng.Sync(context.Background())

	assert.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, ReasonError, outcome.Reason)
	assert.Equal(t, []EventKind{EventFallback}, rec.kinds())

	items := eng.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "fallback-error", items[0].ID)
}

func TestSyncMalformedFeed(t *testing.T) {
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	})

	eng, _ := newTestEngine(t, srv.URL, state.NewMemory(), StaticProber(true))
	outcome := eng.Sync(context.Background())

	require.Equal(t, OutcomeFailed, outcome.Kind)
	var fe *core.FeedError
	require.True(t, errors.As(outcome.Err, &fe))
	assert.Equal(t, core.KindMalformedFeed, fe.Kind)
}

func TestSyncOversizedSnapshotStaysInMemory(t *testing.T) {
	payload := `[{"id":"a","title":"Sommerfest"}]`
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	})

	store := state.NewMemory()
	rec := &eventRecorder{}
	snapshots := NewSnapshotStore(store, 8, nil) // below any serialized size
	eng := NewEngine(NewClient(http.DefaultClient, srv.URL), snapshots, StaticProber(true), nil, rec.sink)

	outcome := eng.Sync(context.Background())
	require.Equal(t, OutcomeUpdated, outcome.Kind)

	// The feed updated in memory even though persistence was skipped.
	assert.Len(t, eng.Items(), 1)
	_, err := store.Get(context.Background(), state.KeySnapshot)
	assert.ErrorIs(t, err, state.ErrNotFound)

	// The content hash still landed so the next fetch can dedupe.
	_, err = store.Get(context.Background(), state.KeyHash)
	assert.NoError(t, err)
}

func TestRunControllerChangedResyncsFromScratch(t *testing.T) {
	payload := `[{"id":"a","title":"Neu"}]`
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	})

	eng, _ := newTestEngine(t, srv.URL, state.NewMemory(), StaticProber(true))
	require.Equal(t, OutcomeUpdated, eng.Sync(context.Background()).Kind)
	require.Len(t, eng.Items(), 1)

	triggers := make(chan Trigger, 1)
	triggers <- TriggerControllerChanged
	close(triggers)
	eng.Run(context.Background(), triggers)

	// Run drained the trigger and rebuilt the feed.
	items := eng.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Neu", items[0].Title)
	assert.Equal(t, StateIdle, eng.State())
}
