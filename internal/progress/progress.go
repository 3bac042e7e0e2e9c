// Package progress persists resumable per-variant game state in the local
// store: the pipeline stage and the last mission, keyed by session and
// variant.
//
// Nothing is migrated. A value that no longer decodes into the current shape
// is treated as absent.
package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/toecm/pureconvo/internal/localstore"
	"github.com/toecm/pureconvo/internal/mission"
	"github.com/toecm/pureconvo/internal/pipeline"
)

// ErrConfirmationRequired is returned by Clear without confirmation.
var ErrConfirmationRequired = errors.New("progress: reset requires confirmation")

// Snapshot is the saved state of one variant.
type Snapshot struct {
	Stage       pipeline.Stage  `json:"stage"`
	LastMission mission.Mission `json:"last_mission"`
}

// Store saves the snapshot of one (session, variant) pair.
type Store struct {
	kv      localstore.Store
	variant string
	stage   string
	mission *Blob[mission.Mission]
}

// New returns the store of variant for session sid.
func New(kv localstore.Store, sid, variant string) *Store {
	return &Store{
		kv:      kv,
		variant: variant,
		stage:   localstore.StageKey(sid, variant),
		mission: NewBlob[mission.Mission](kv, localstore.MissionKey(sid, variant)),
	}
}

// Save writes snap through to the local store.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if err := s.kv.Set(ctx, s.stage, string(snap.Stage)); err != nil {
		return fmt.Errorf("progress: save stage: %w", err)
	}
	if snap.LastMission.IsZero() {
		if err := s.mission.Clear(ctx); err != nil {
			return fmt.Errorf("progress: save mission: %w", err)
		}
		return nil
	}
	if err := s.mission.Save(ctx, snap.LastMission); err != nil {
		return fmt.Errorf("progress: save mission: %w", err)
	}
	return nil
}

// Load returns the saved snapshot. ok is false when nothing usable was
// saved; only storage failures are returned as errors.
func (s *Store) Load(ctx context.Context) (snap Snapshot, ok bool, err error) {
	raw, found, err := s.kv.Get(ctx, s.stage)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("progress: load stage: %w", err)
	}
	if !found {
		return Snapshot{}, false, nil
	}
	stage, valid := pipeline.ParseStage(raw)
	if !valid {
		slog.Warn("progress: discarding unreadable stage", "variant", s.variant, "value", raw)
		return Snapshot{}, false, nil
	}
	m, _, err := s.mission.Load(ctx)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("progress: load mission: %w", err)
	}
	return Snapshot{Stage: stage, LastMission: m}, true, nil
}

// Clear deletes the saved snapshot. It refuses unless confirm is true.
func (s *Store) Clear(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	return errors.Join(
		s.kv.Delete(ctx, s.stage),
		s.mission.Clear(ctx),
	)
}

// Blob stores one JSON-encoded value under a fixed key.
type Blob[T any] struct {
	kv  localstore.Store
	key string
}

// NewBlob returns a blob stored under key.
func NewBlob[T any](kv localstore.Store, key string) *Blob[T] {
	return &Blob[T]{kv: kv, key: key}
}

// Save encodes v and writes it.
func (b *Blob[T]) Save(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("progress: encode %s: %w", b.key, err)
	}
	return b.kv.Set(ctx, b.key, string(data))
}

// Load reads and decodes the value. A missing key or a value of a different
// shape yields the zero value with ok false.
func (b *Blob[T]) Load(ctx context.Context) (v T, ok bool, err error) {
	raw, found, err := b.kv.Get(ctx, b.key)
	if err != nil || !found {
		return v, false, err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		slog.Warn("progress: discarding unreadable value", "key", b.key, "err", err)
		var zero T
		return zero, false, nil
	}
	return v, true, nil
}

// Clear deletes the value.
func (b *Blob[T]) Clear(ctx context.Context) error {
	return b.kv.Delete(ctx, b.key)
}
