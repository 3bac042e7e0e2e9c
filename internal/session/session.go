// Package session holds the application state shared by every game variant
// on this device: the anonymous identity, the reward total, the consent
// flag, the nickname and the dialect catalog.
//
// Only the verification pipeline grants reward, through [State.AddReward].
// Only the catalog loader and a successful custom-dialect submission change
// the catalog.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/toecm/pureconvo/internal/catalog"
	"github.com/toecm/pureconvo/internal/identity"
	"github.com/toecm/pureconvo/internal/localstore"
)

// ErrInvalidReward is returned by AddReward for non-positive amounts.
var ErrInvalidReward = errors.New("session: reward must be positive")

// PointsPerLevel is the reward needed to advance one level.
const PointsPerLevel = 100

// Level returns the level reached with reward points. Level 1 starts at 0.
func Level(reward int) int {
	return reward/PointsPerLevel + 1
}

// Snapshot is a read-only view of the state for the UI.
type Snapshot struct {
	OperatorID string `json:"operator_id"`
	Operator   string `json:"operator_short"`
	Reward     int    `json:"xp"`
	Level      int    `json:"level"`
	Consent    bool   `json:"consent"`
	Nickname   string `json:"nickname,omitempty"`
}

// State is the per-device application state. It is safe for concurrent use.
type State struct {
	store   localstore.Store
	id      identity.Identity
	catalog *catalog.Catalog

	mu       sync.RWMutex
	reward   int
	consent  bool
	nickname string
}

// Open loads the state from store, creating the identity on first use.
func Open(ctx context.Context, store localstore.Store, cat *catalog.Catalog, opts ...identity.Option) (*State, error) {
	id, err := identity.LoadOrCreate(ctx, store, opts...)
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}
	s := &State{store: store, id: id, catalog: cat}

	raw, ok, err := store.Get(ctx, localstore.KeyReward)
	if err != nil {
		return nil, fmt.Errorf("session: load reward: %w", err)
	}
	if ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			slog.Warn("session: ignoring unreadable reward total", "value", raw)
		} else {
			s.reward = n
		}
	}

	raw, _, err = store.Get(ctx, localstore.KeyConsent)
	if err != nil {
		return nil, fmt.Errorf("session: load consent: %w", err)
	}
	s.consent = raw == "true" || raw == "yes"

	s.nickname, _, err = store.Get(ctx, localstore.KeyNickname)
	if err != nil {
		return nil, fmt.Errorf("session: load nickname: %w", err)
	}

	slog.Info("session: opened", "operator", id.Short(), "xp", s.reward, "consent", s.consent)
	return s, nil
}

// Identity returns the device identity.
func (s *State) Identity() identity.Identity { return s.id }

// Catalog returns the dialect catalog.
func (s *State) Catalog() *catalog.Catalog { return s.catalog }

// Reward returns the reward total.
func (s *State) Reward() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reward
}

// AddReward adds n to the reward total and persists it. The in-memory total
// is updated even when persisting fails; the error reports the failure.
func (s *State) AddReward(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return s.Reward(), ErrInvalidReward
	}
	// Persist under the lock so concurrent grants reach the store in order.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reward += n
	total := s.reward
	if err := s.store.Set(ctx, localstore.KeyReward, strconv.Itoa(total)); err != nil {
		return total, fmt.Errorf("session: persist reward: %w", err)
	}
	return total, nil
}

// Consent reports whether the contributor accepted the data terms.
func (s *State) Consent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consent
}

// SetConsent records the contributor's answer.
func (s *State) SetConsent(ctx context.Context, ok bool) error {
	if err := s.store.Set(ctx, localstore.KeyConsent, strconv.FormatBool(ok)); err != nil {
		return fmt.Errorf("session: persist consent: %w", err)
	}
	s.mu.Lock()
	s.consent = ok
	s.mu.Unlock()
	return nil
}

// Nickname returns the display name, or "".
func (s *State) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// SetNickname stores the display name. A blank name clears it.
func (s *State) SetNickname(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	var err error
	if name == "" {
		err = s.store.Delete(ctx, localstore.KeyNickname)
	} else {
		err = s.store.Set(ctx, localstore.KeyNickname, name)
	}
	if err != nil {
		return fmt.Errorf("session: persist nickname: %w", err)
	}
	s.mu.Lock()
	s.nickname = name
	s.mu.Unlock()
	return nil
}

// RefreshDialects reloads the catalog from src. Concurrent calls share one
// fetch.
func (s *State) RefreshDialects(ctx context.Context, src catalog.Source) ([]string, error) {
	return s.catalog.Refresh(ctx, src)
}

// Snapshot returns the current view.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		OperatorID: s.id.OperatorID,
		Operator:   s.id.Short(),
		Reward:     s.reward,
		Level:      Level(s.reward),
		Consent:    s.consent,
		Nickname:   s.nickname,
	}
}
