// Package ledger persists approved contributions for the self-hosted
// inference backend. A contribution is a row in a [Store] plus its recording
// in an [Archive]; [Archived] composes the two.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEntry is returned for entries missing a transcript, meaning or
// dialect.
var ErrInvalidEntry = errors.New("ledger: invalid entry")

// Entry is one approved contribution.
type Entry struct {
	ID         uuid.UUID
	Transcript string
	Dialect    string
	Meaning    string
	Tone       string
	Context    string
	Pragmatics string
	SourceTag  string
	EditSource string
	Operator   string
	Admin      bool

	// AudioKey is the archive object name of the recording, or "" when no
	// archive is configured.
	AudioKey  string
	CreatedAt time.Time
}

// Validate reports whether e carries the fields every row needs.
func (e Entry) Validate() error {
	var errs []error
	if e.Transcript == "" {
		errs = append(errs, errors.New("transcript is empty"))
	}
	if e.Meaning == "" {
		errs = append(errs, errors.New("meaning is empty"))
	}
	if e.Dialect == "" {
		errs = append(errs, errors.New("dialect is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, errors.Join(errs...))
	}
	return nil
}

// Store holds contribution rows and the dialect catalog.
type Store interface {
	// Append inserts e and registers its dialect.
	Append(ctx context.Context, e Entry) error

	// Dialects returns every registered dialect in registration order.
	Dialects(ctx context.Context) ([]string, error)

	// Count returns the number of stored contributions.
	Count(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
}

// Archive stores recordings.
type Archive interface {
	// Put stores wav and returns its object name.
	Put(ctx context.Context, wav []byte) (string, error)

	Ping(ctx context.Context) error
}

// Ledger is the contribution sink used by the self-hosted backend.
type Ledger interface {
	// Append archives wav (when non-empty) and stores e. It returns the
	// stored entry with ID, AudioKey and CreatedAt filled in.
	Append(ctx context.Context, e Entry, wav []byte) (Entry, error)

	Dialects(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

var _ Ledger = (*Archived)(nil)

// Archived is a [Ledger] over a row store and an optional audio archive.
type Archived struct {
	store   Store
	archive Archive
	now     func() time.Time
}

// New returns a Ledger. archive may be nil, in which case recordings are
// dropped and entries carry no AudioKey.
func New(store Store, archive Archive) *Archived {
	return &Archived{store: store, archive: archive, now: time.Now}
}

// Append implements [Ledger].
func (a *Archived) Append(ctx context.Context, e Entry, wav []byte) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.now().UTC()
	}
	if a.archive != nil && len(wav) > 0 {
		key, err := a.archive.Put(ctx, wav)
		if err != nil {
			return Entry{}, fmt.Errorf("ledger: archive audio: %w", err)
		}
		e.AudioKey = key
	}
	if err := a.store.Append(ctx, e); err != nil {
		if e.AudioKey != "" {
			slog.Warn("ledger: row insert failed after audio upload; recording is orphaned",
				"audio_key", e.AudioKey, "err", err)
		}
		return Entry{}, fmt.Errorf("ledger: append: %w", err)
	}
	return e, nil
}

// Dialects implements [Ledger].
func (a *Archived) Dialects(ctx context.Context) ([]string, error) {
	return a.store.Dialects(ctx)
}

// Count implements [Ledger].
func (a *Archived) Count(ctx context.Context) (int64, error) {
	return a.store.Count(ctx)
}

// Ping checks both the row store and the archive.
func (a *Archived) Ping(ctx context.Context) error {
	var errs []error
	if err := a.store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if a.archive != nil {
		if err := a.archive.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("ledger: ping: %w", errors.Join(errs...))
	}
	return nil
}
