package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chicotreta/evknews/internal/cache"
	"github.com/chicotreta/evknews/internal/core"
	"github.com/chicotreta/evknews/internal/observability"
)

// State tracks a release generation through its lifecycle.
type State string

const (
	StateInstalling State = "installing"
	// StateWaiting means the generation is fully precached but activation is
	// deferred until requested.
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	// StateSuperseded is terminal: a newer generation took over.
	StateSuperseded State = "superseded"
)

// Control message types accepted by HandleMessage.
const (
	MsgSkipWaiting    = "SKIP_WAITING"
	MsgClearAllCaches = "CLEAR_ALL_CACHES"
	MsgClearRuntime   = "CLEAR_RUNTIME"
)

// maxAssetBytes bounds a single precached asset.
const maxAssetBytes = 32 * 1024 * 1024 // 32 MB

// Manager installs and activates one release generation over a cache store.
type Manager struct {
	id       string
	store    cache.Store
	cfg      cache.Config
	origin   string
	http     *http.Client
	manifest Manifest
	metrics  *observability.Metrics

	// onControllerChange fires after a successful activation, once per
	// subscriber. The feed engine uses it to resync from scratch.
	onControllerChange []func()

	state State
}

// NewManager builds a lifecycle manager for the current release. origin is
// the absolute base URL assets are fetched from.
func NewManager(store cache.Store, cfg cache.Config, origin string, httpClient *http.Client, manifest Manifest, metrics *observability.Metrics) *Manager {
	return &Manager{
		id:       uuid.NewString(),
		store:    store,
		cfg:      cfg,
		origin:   strings.TrimRight(origin, "/"),
		http:     httpClient,
		manifest: manifest,
		metrics:  metrics,
		state:    StateInstalling,
	}
}

// ID returns the unique identifier of this manager instance.
func (m *Manager) ID() string {
	return m.id
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.state
}

// Version returns the cache version this manager installs.
func (m *Manager) Version() string {
	return m.cfg.Version
}

// OnControllerChange registers a callback fired after each successful
// activation. Must be called before Activate.
func (m *Manager) OnControllerChange(fn func()) {
	m.onControllerChange = append(m.onControllerChange, fn)
}

// Install precaches every manifest asset into the core partition.
// All-or-nothing: every asset is fetched before anything is stored, and any
// fetch failure aborts the install with nothing written. A failed install
// leaves any previously active generation untouched.
func (m *Manager) Install(ctx context.Context) error {
	slog.Info("installing cache generation",
		"generation", m.cfg.Generation(cache.PartitionCore).Name(),
		"assets", len(m.manifest.Assets))

	type fetched struct {
		key  string
		resp *cache.CachedResponse
	}

	var (
		staged []fetched
		failed []string
		first  error
	)
	for _, asset := range m.manifest.Assets {
		key, resp, err := m.fetchAsset(ctx, asset)
		if err != nil {
			failed = append(failed, asset)
			if first == nil {
				first = err
			}
			continue
		}
		staged = append(staged, fetched{key: key, resp: resp})
	}
	if len(failed) > 0 {
		return core.NewPrecacheIncompleteError(failed, first)
	}

	for _, f := range staged {
		if err := m.store.Put(ctx, cache.PartitionCore, f.key, f.resp); err != nil {
			return fmt.Errorf("storing precached asset: %w", err)
		}
	}

	m.state = StateWaiting
	return nil
}

// fetchAsset fetches one manifest path from the origin.
func (m *Manager) fetchAsset(ctx context.Context, asset string) (string, *cache.CachedResponse, error) {
	rawURL := m.origin + asset
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, err
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return "", nil, core.NewTransportError(fmt.Sprintf("fetching %s", asset), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, core.NewTransportError(fmt.Sprintf("fetching %s returned status %d", asset, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return "", nil, core.NewTransportError(fmt.Sprintf("reading %s", asset), err)
	}

	key, ok := cache.Key(http.MethodGet, rawURL)
	if !ok {
		return "", nil, fmt.Errorf("asset path %q does not form a cacheable URL", asset)
	}

	return key, &cache.CachedResponse{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// Activate promotes this generation to active and sweeps every stale
// generation sharing the cache prefix. Generations under a foreign prefix
// are left alone. Fires the controller-change callbacks on success.
func (m *Manager) Activate(ctx context.Context) error {
	if m.state == StateSuperseded {
		return fmt.Errorf("superseded generation %s cannot activate", m.cfg.Version)
	}
	m.state = StateActivating

	names, err := m.store.ListGenerations(ctx)
	if err != nil {
		return fmt.Errorf("listing cache generations: %w", err)
	}

	current := map[string]bool{
		m.cfg.Generation(cache.PartitionCore).Name():    true,
		m.cfg.Generation(cache.PartitionRuntime).Name(): true,
	}

	swept := 0
	for _, name := range names {
		if current[name] {
			continue
		}
		if _, ok := cache.ParseGeneration(name, m.cfg.Prefix); !ok {
			continue
		}
		if err := m.store.DeleteGeneration(ctx, name); err != nil {
			slog.Warn("failed to sweep stale generation", "generation", name, "error", err)
			continue
		}
		slog.Info("swept stale generation", "generation", name)
		swept++
	}
	m.metrics.GenerationsSwept(swept)

	m.state = StateActive
	for _, fn := range m.onControllerChange {
		fn()
	}
	return nil
}

// controlMessage is the wire form of a client control message.
type controlMessage struct {
	Type string `json:"type"`
}

// HandleMessage processes one client control message. Unknown message types
// are ignored without error so older clients stay compatible.
func (m *Manager) HandleMessage(ctx context.Context, raw []byte) error {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return core.NewMalformedFeedError("control message is not valid JSON", err)
	}

	switch msg.Type {
	case MsgSkipWaiting:
		if m.state != StateWaiting {
			slog.Debug("skip-waiting ignored", "state", m.state)
			return nil
		}
		return m.Activate(ctx)
	case MsgClearAllCaches:
		if err := m.store.DeleteAll(ctx, cache.PartitionCore); err != nil {
			return fmt.Errorf("clearing core partition: %w", err)
		}
		if err := m.store.DeleteAll(ctx, cache.PartitionRuntime); err != nil {
			return fmt.Errorf("clearing runtime partition: %w", err)
		}
		slog.Info("cleared all cache partitions")
		return nil
	case MsgClearRuntime:
		if err := m.store.DeleteAll(ctx, cache.PartitionRuntime); err != nil {
			return fmt.Errorf("clearing runtime partition: %w", err)
		}
		slog.Info("cleared runtime cache partition")
		return nil
	default:
		slog.Debug("ignoring unknown control message", "type", msg.Type)
		return nil
	}
}

// Supersede marks the manager terminally replaced by a newer generation.
// A superseded manager can no longer activate; control messages that would
// activate it are ignored.
func (m *Manager) Supersede() {
	m.state = StateSuperseded
}
