package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/chicotreta/evknews/internal/core"
	"github.com/chicotreta/evknews/internal/observability"
)

// SyncState tracks where the engine is in its two-phase cycle.
type SyncState int

const (
	StateIdle SyncState = iota
	StateLoadingLocal
	StateRenderedLocal
	StateValidating
)

// OutcomeKind tags the terminal result of one sync attempt.
type OutcomeKind string

const (
	OutcomeUpdated     OutcomeKind = "updated"
	OutcomeNotModified OutcomeKind = "not_modified"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome is the tagged result of Engine.Sync.
type Outcome struct {
	Kind OutcomeKind
	// Items is set for Updated.
	Items []Item
	// Reason is set for Failed when the fallback feed took over.
	Reason FallbackReason
	// Err is set for Failed.
	Err error
}

// EventKind tags engine events delivered to the sink.
type EventKind string

const (
	// EventRenderedLocal fires when the persisted snapshot rendered before
	// any network wait.
	EventRenderedLocal EventKind = "rendered_local"
	// EventUpdated fires when a change-detected fetch replaced the feed.
	EventUpdated EventKind = "updated"
	// EventNotModified fires when validation found no content change.
	EventNotModified EventKind = "not_modified"
	// EventFailed fires when validation failed but a local snapshot keeps
	// serving (stale-but-available).
	EventFailed EventKind = "failed"
	// EventFallback fires when the synthetic fallback feed took over.
	EventFallback EventKind = "fallback"
)

// Event is the engine's notification to its consumer. Consumers should
// switch exhaustively on Kind.
type Event struct {
	Kind   EventKind
	Items  []Item
	Reason FallbackReason
	Err    error
}

// Trigger names what prompted a sync attempt.
type Trigger string

const (
	TriggerStart             Trigger = "start"
	TriggerOnline            Trigger = "online"
	TriggerRefresh           Trigger = "refresh"
	TriggerControllerChanged Trigger = "controller_changed"
)

// Engine reconciles the locally persisted snapshot with the network feed.
// The visible feed is read by the serving layer and written only here.
type Engine struct {
	client    *Client
	snapshots *SnapshotStore
	prober    Prober
	metrics   *observability.Metrics
	sink      func(Event)

	// syncMu serializes sync attempts; triggers arriving mid-sync wait.
	syncMu sync.Mutex

	mu       sync.RWMutex
	st       SyncState
	current  []Item
	fallback bool
}

// NewEngine builds a sync engine. sink may be nil when no consumer wants
// events.
func NewEngine(client *Client, snapshots *SnapshotStore, prober Prober, metrics *observability.Metrics, sink func(Event)) *Engine {
	return &Engine{
		client:    client,
		snapshots: snapshots,
		prober:    prober,
		metrics:   metrics,
		sink:      sink,
	}
}

// Items returns a copy of the currently visible feed.
func (e *Engine) Items() []Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Item(nil), e.current...)
}

// FallbackActive reports whether the visible feed is the synthetic fallback.
func (e *Engine) FallbackActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fallback
}

// State returns the engine's current position in the sync cycle.
func (e *Engine) State() SyncState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st
}

// Run drains triggers until ctx is done, syncing once per trigger.
// A controller change means a new asset generation took over serving: the
// in-memory feed is dropped and rebuilt from scratch.
func (e *Engine) Run(ctx context.Context, triggers <-chan Trigger) {
	for {
		select {
		case <-ctx.Done():
			return
		case trig, ok := <-triggers:
			if !ok {
				return
			}
			if trig == TriggerControllerChanged {
				e.reset()
			}
			outcome := e.Sync(ctx)
			slog.Debug("sync finished", "trigger", trig, "outcome", outcome.Kind)
		}
	}
}

// Sync runs one local-then-network reconciliation cycle.
//
// The local phase renders the persisted snapshot immediately when present.
// The validation phase issues a conditional fetch; NotModified leaves
// everything untouched, Updated replaces the feed wholesale and persists the
// new snapshot, and a failure either keeps serving the stale snapshot or
// hands off to the fallback provider when there is nothing to serve.
func (e *Engine) Sync(ctx context.Context) Outcome {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.setState(StateLoadingLocal)
	defer e.setState(StateIdle)

	local := e.snapshots.Load(ctx)
	if len(local) > 0 {
		e.setFeed(local, false)
		e.setState(StateRenderedLocal)
		e.emit(Event{Kind: EventRenderedLocal, Items: local})
	}

	e.setState(StateValidating)
	validator, lastHash := e.snapshots.Validation(ctx)

	result, err := e.client.Fetch(ctx, validator, lastHash)
	if err != nil {
		return e.failed(ctx, err, len(local) > 0)
	}

	if result.NotModified {
		// Refresh the validation metadata when the server rotated the
		// validator over identical bytes; no snapshot rewrite, no re-render.
		if result.Validator != validator || result.Hash != "" {
			e.snapshots.SaveValidation(ctx, result.Validator, result.Hash)
		}
		e.metrics.SyncOutcome(string(OutcomeNotModified))
		e.emit(Event{Kind: EventNotModified})
		return Outcome{Kind: OutcomeNotModified}
	}

	e.setFeed(result.Items, false)
	e.snapshots.Save(ctx, result.Items, result.Validator, result.Hash)
	e.metrics.SyncOutcome(string(OutcomeUpdated))
	e.emit(Event{Kind: EventUpdated, Items: result.Items})
	return Outcome{Kind: OutcomeUpdated, Items: result.Items}
}

// failed resolves a validation failure. With a rendered local snapshot the
// stale feed keeps serving; otherwise the fallback provider takes over, with
// the reason chosen by a connectivity probe.
func (e *Engine) failed(ctx context.Context, err error, hadLocal bool) Outcome {
	e.metrics.SyncOutcome(string(OutcomeFailed))

	var fe *core.FeedError
	kind := core.KindTransport
	if errors.As(err, &fe) {
		kind = fe.Kind
	}
	slog.Warn("feed validation failed", "kind", kind, "error", err)

	if hadLocal {
		e.emit(Event{Kind: EventFailed, Err: err})
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	reason := ReasonError
	if !e.prober.Online(ctx) {
		reason = ReasonOffline
	}

	items := Fallback(reason)
	e.setFeed(items, true)
	e.emit(Event{Kind: EventFallback, Items: items, Reason: reason})
	return Outcome{Kind: OutcomeFailed, Reason: reason, Err: err}
}

func (e *Engine) setFeed(items []Item, fallback bool) {
	e.mu.Lock()
	e.current = items
	e.fallback = fallback
	e.mu.Unlock()
}

func (e *Engine) setState(st SyncState) {
	e.mu.Lock()
	e.st = st
	e.mu.Unlock()
}

func (e *Engine) reset() {
	e.mu.Lock()
	e.current = nil
	e.fallback = false
	e.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	if e.sink != nil {
		e.sink(ev)
	}
}
