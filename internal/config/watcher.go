package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// ChangeFunc receives a newly loaded config together with what changed.
type ChangeFunc func(old, new *Config, d ConfigDiff)

type digest = [32]byte

// Watcher polls a config file and reports valid changes. An invalid edit is
// logged once and the previous config stays current until the file is
// fixed; [Watcher.Err] reports it in the meantime.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     digest // content of current
	badSum  digest // content that last failed to load
	err     error
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. Polling starts with [Watcher.Run].
// A missing file yields an error matching [os.ErrNotExist].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	data, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.mtime, w.sum = cfg, mtime, sha3.Sum256(data)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Err returns why the file on disk is not the current config, or nil when
// it is.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Run polls until ctx is done. It always returns nil so it can run inside an
// errgroup without tearing the group down on shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.fail(digest{}, err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	data, mtime, err := w.read()
	if err != nil {
		w.fail(digest{}, err)
		return
	}
	sum := sha3.Sum256(data)

	w.mu.Lock()
	w.mtime = mtime
	if sum == w.sum {
		// Touched, or reverted to the running config.
		w.err = nil
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.fail(sum, err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current, w.sum, w.err = cfg, sum, nil
	w.badSum = digest{}
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"dialects_changed", d.DialectsChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: some changes need a restart", "sections", d.RestartRequired)
	}

	// Outside the lock so the callback may call Current.
	if w.onChange != nil && !d.IsEmpty() {
		w.onChange(old, cfg, d)
	}
}

// fail records err for content sum and warns unless that content already
// failed. A zero sum (unreadable file) always warns.
func (w *Watcher) fail(sum digest, err error) {
	w.mu.Lock()
	repeated := sum != (digest{}) && sum == w.badSum
	w.badSum, w.err = sum, err
	w.mu.Unlock()
	if !repeated {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}
