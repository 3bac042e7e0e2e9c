// Package catalog holds the ordered list of dialects a contributor can pick
// from. The list always ends with [Sentinel], the entry that lets the
// contributor name a dialect the catalog does not know yet.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Sentinel is the pseudo-dialect that asks for a custom dialect name.
const Sentinel = "+ Add New Dialect"

// ErrEmpty is returned by Refresh when the source answered with no names.
var ErrEmpty = errors.New("catalog: source returned no dialects")

// Source fetches the authoritative dialect list.
type Source interface {
	Dialects(ctx context.Context) ([]string, error)
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	names   []string
	builtin []string
	loaded  bool
	subs    map[int]func([]string)
	nextSub int

	group singleflight.Group
}

// New returns a catalog holding builtin until the first successful Refresh.
func New(builtin []string) *Catalog {
	b := clean(builtin)
	return &Catalog{names: slices.Clone(b), builtin: b, subs: map[int]func([]string){}}
}

// Names returns the dialects followed by [Sentinel].
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return withSentinel(c.names)
}

// Loaded reports whether a Refresh has ever succeeded.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Refresh fetches the list from src and replaces the catalog wholesale.
// Concurrent calls share one fetch. On failure the catalog is left as is:
// the built-in list if nothing was ever fetched, the last fetched list
// otherwise.
func (c *Catalog) Refresh(ctx context.Context, src Source) ([]string, error) {
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		names, err := src.Dialects(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog: refresh: %w", err)
		}
		names = clean(names)
		if len(names) == 0 {
			return nil, ErrEmpty
		}
		c.replace(names, true)
		return c.Names(), nil
	})
	if err != nil {
		slog.Warn("catalog: refresh failed, keeping current list", "err", err, "loaded", c.Loaded())
		return c.Names(), err
	}
	if shared {
		slog.Debug("catalog: refresh shared with concurrent caller")
	}
	return v.([]string), nil
}

// SetBuiltin replaces the fallback list. The visible list changes only when
// nothing has been fetched yet.
func (c *Catalog) SetBuiltin(names []string) {
	b := clean(names)
	c.mu.Lock()
	c.builtin = b
	loaded := c.loaded
	c.mu.Unlock()
	if !loaded {
		c.replace(slices.Clone(b), false)
	}
}

// AddCustom appends name after a successful submission that used it. It
// reports whether the catalog changed.
func (c *Catalog) AddCustom(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || name == Sentinel {
		return false
	}
	c.mu.Lock()
	if slices.Contains(c.names, name) {
		c.mu.Unlock()
		return false
	}
	c.names = append(c.names, name)
	snapshot, subs := withSentinel(c.names), c.subscribers()
	c.mu.Unlock()
	notify(subs, snapshot)
	return true
}

// Contains reports whether name is selectable, including [Sentinel].
func (c *Catalog) Contains(name string) bool {
	if name == Sentinel {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.names, name)
}

// Rehome returns selection if it is still selectable and the first entry
// otherwise. The result is never empty.
func (c *Catalog) Rehome(selection string) string {
	if selection != "" && c.Contains(selection) {
		return selection
	}
	return c.Names()[0]
}

// Subscribe registers fn to receive the new list after every change. The
// returned function removes the subscription.
func (c *Catalog) Subscribe(fn func(names []string)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Catalog) replace(names []string, loaded bool) {
	c.mu.Lock()
	changed := !slices.Equal(c.names, names)
	c.names = names
	if loaded {
		c.loaded = true
	}
	snapshot, subs := withSentinel(c.names), c.subscribers()
	c.mu.Unlock()
	if changed {
		notify(subs, snapshot)
	}
}

// subscribers must be called with c.mu held.
func (c *Catalog) subscribers() []func([]string) {
	out := make([]func([]string), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func([]string), names []string) {
	for _, fn := range subs {
		fn(slices.Clone(names))
	}
}

func withSentinel(names []string) []string {
	out := make([]string, 0, len(names)+1)
	out = append(out, names...)
	return append(out, Sentinel)
}

// clean trims names and drops blanks, duplicates and the sentinel.
func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" || n == Sentinel || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}
