// Package localstore is the device-local key/value persistence used for the
// session identity, consent, reward total, per-variant progress and the
// conversational memory blob.
//
// [SQLiteStore] is the durable implementation; [MemStore] serves tests and
// ephemeral runs.
package localstore

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("localstore: store is closed")

// Well-known keys.
const (
	KeySession  = "pureconvo_session_key"
	KeyOperator = "pureconvo_operator"
	KeyConsent  = "pureconvo_consent"
	KeyReward   = "pureconvo_xp"
	KeyNickname = "pureconvo_nickname"
)

// Store is a string key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent; that is not an error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error

	Close() error
}

// StageKey is the key holding the saved stage of variant for session sid.
func StageKey(sid, variant string) string {
	return "pureconvo_stage:" + sid + ":" + variant
}

// MissionKey is the key holding the last mission of variant for session sid.
func MissionKey(sid, variant string) string {
	return "pureconvo_mission:" + sid + ":" + variant
}

// MemoryKey is the key holding the conversational variant's memory blob.
func MemoryKey(sid string) string {
	return "pureconvo_listener_memory:" + sid
}
