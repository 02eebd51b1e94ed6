package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/chicotreta/evknews/internal/observability"
	"github.com/chicotreta/evknews/internal/state"
)

// SnapshotStore persists and restores the feed snapshot plus its
// conditional-request metadata on top of the durable state store.
type SnapshotStore struct {
	store    state.Store
	maxBytes int
	metrics  *observability.Metrics
}

// NewSnapshotStore wraps a state store. maxBytes is the serialized-snapshot
// byte ceiling; writes beyond it are skipped silently.
func NewSnapshotStore(store state.Store, maxBytes int, metrics *observability.Metrics) *SnapshotStore {
	return &SnapshotStore{store: store, maxBytes: maxBytes, metrics: metrics}
}

// Load reads the persisted snapshot. A missing, empty, or undecodable
// snapshot returns nil items with no error: any of those simply means there
// is nothing to render locally.
func (s *SnapshotStore) Load(ctx context.Context) []Item {
	raw, err := s.store.Get(ctx, state.KeySnapshot)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			slog.Warn("failed to read local snapshot", "error", err)
		}
		return nil
	}

	var decoded []Item
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return NormalizeAll(decoded)
}

// Save persists the snapshot and its sync metadata. An oversized snapshot or
// a storage write failure skips the snapshot silently (recorded only as a
// metric); the validator/hash metadata is still written so conditional
// fetches keep working.
func (s *SnapshotStore) Save(ctx context.Context, items []Item, validator, hash string) {
	raw, err := json.Marshal(items)
	if err == nil && len(raw) <= s.maxBytes {
		if werr := s.store.Set(ctx, state.KeySnapshot, raw); werr != nil {
			slog.Debug("snapshot write failed", "error", werr)
			s.metrics.SnapshotPersistSkipped()
		} else {
			now := time.Now().UTC().Format(time.RFC3339)
			if werr := s.store.Set(ctx, state.KeyLastSync, []byte(now)); werr != nil {
				slog.Debug("last-sync write failed", "error", werr)
			}
		}
	} else {
		slog.Debug("snapshot persistence skipped", "bytes", len(raw), "ceiling", s.maxBytes)
		s.metrics.SnapshotPersistSkipped()
	}

	s.SaveValidation(ctx, validator, hash)
}

// SaveValidation persists only the validator token and content hash.
// Used when a payload turned out byte-identical but carried a new validator.
func (s *SnapshotStore) SaveValidation(ctx context.Context, validator, hash string) {
	if validator != "" {
		if err := s.store.Set(ctx, state.KeyValidator, []byte(validator)); err != nil {
			slog.Debug("validator write failed", "error", err)
		}
	}
	if hash != "" {
		if err := s.store.Set(ctx, state.KeyHash, []byte(hash)); err != nil {
			slog.Debug("hash write failed", "error", err)
		}
	}
}

// Validation returns the stored validator token and content hash, empty when
// never written.
func (s *SnapshotStore) Validation(ctx context.Context) (validator, hash string) {
	if raw, err := s.store.Get(ctx, state.KeyValidator); err == nil {
		validator = string(raw)
	}
	if raw, err := s.store.Get(ctx, state.KeyHash); err == nil {
		hash = string(raw)
	}
	return validator, hash
}

// LastSync returns the recorded time of the last successful sync, zero when
// never synced.
func (s *SnapshotStore) LastSync(ctx context.Context) time.Time {
	raw, err := s.store.Get(ctx, state.KeyLastSync)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}
	}
	return t
}

// HintSeen reports whether the introductory hint was already shown.
func (s *SnapshotStore) HintSeen(ctx context.Context) bool {
	raw, err := s.store.Get(ctx, state.KeyHintSeen)
	return err == nil && string(raw) == "1"
}

// MarkHintSeen records that the introductory hint was shown.
func (s *SnapshotStore) MarkHintSeen(ctx context.Context) {
	if err := s.store.Set(ctx, state.KeyHintSeen, []byte("1")); err != nil {
		slog.Debug("hint flag write failed", "error", err)
	}
}
