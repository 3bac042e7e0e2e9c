package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/toecm/pureconvo/internal/capture"
	"github.com/toecm/pureconvo/internal/inference"
	"github.com/toecm/pureconvo/internal/localstore"
	"github.com/toecm/pureconvo/internal/observe"
	"github.com/toecm/pureconvo/internal/pipeline"
	"github.com/toecm/pureconvo/internal/server"
	"github.com/toecm/pureconvo/internal/session"
	"github.com/toecm/pureconvo/internal/speech"
	"github.com/toecm/pureconvo/internal/variant"
	"github.com/toecm/pureconvo/pkg/audio"
)

// DriverManagerConfig holds the dependencies shared by every driver.
type DriverManagerConfig struct {
	Gateway inference.Gateway
	Session *session.State
	Store   localstore.Store
	Speaker *speech.Speaker
	Metrics *observe.Metrics

	// Enabled lists the served variant names. Empty serves every variant.
	Enabled []string

	Admin     bool
	DoneDelay time.Duration

	// PipelineOptions are passed to every driver.
	PipelineOptions []pipeline.Option
}

// DriverManager owns one [variant.Driver] per served variant. Drivers are
// created and mounted on first use, each with its own push device.
// All exported methods are safe for concurrent use.
type DriverManager struct {
	cfg      DriverManagerConfig
	variants []variant.Config

	mu      sync.Mutex
	drivers map[string]*variant.Driver
	closed  bool
}

var _ server.Drivers = (*DriverManager)(nil)

// NewDriverManager creates a manager. Unknown names in cfg.Enabled are
// rejected.
func NewDriverManager(cfg DriverManagerConfig) (*DriverManager, error) {
	m := &DriverManager{cfg: cfg, drivers: make(map[string]*variant.Driver)}
	for _, v := range variant.All() {
		if len(cfg.Enabled) == 0 || slices.Contains(cfg.Enabled, v.Name) {
			m.variants = append(m.variants, v)
		}
	}
	for _, name := range cfg.Enabled {
		if _, ok := variant.Lookup(name); !ok {
			return nil, fmt.Errorf("app: variant %q: %w", name, variant.ErrUnknownVariant)
		}
	}
	return m, nil
}

// Variants implements [server.Drivers].
func (m *DriverManager) Variants() []variant.Config {
	return slices.Clone(m.variants)
}

// Driver implements [server.Drivers]. The first call for a variant mounts
// its saved progress.
func (m *DriverManager) Driver(ctx context.Context, name string) (*variant.Driver, error) {
	idx := slices.IndexFunc(m.variants, func(c variant.Config) bool { return c.Name == name })
	if idx < 0 {
		return nil, fmt.Errorf("app: variant %q: %w", name, variant.ErrUnknownVariant)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("app: variant %q: %w", name, capture.ErrDeviceClosed)
	}
	if d, ok := m.drivers[name]; ok {
		return d, nil
	}

	d := variant.NewDriver(m.variants[idx], variant.Deps{
		Gateway:         m.cfg.Gateway,
		Session:         m.cfg.Session,
		Store:           m.cfg.Store,
		Device:          capture.NewPushDevice(audio.CaptureFormat),
		Speaker:         m.cfg.Speaker,
		Metrics:         m.cfg.Metrics,
		Admin:           m.cfg.Admin,
		DoneDelay:       m.cfg.DoneDelay,
		PipelineOptions: m.cfg.PipelineOptions,
	})
	if _, err := d.Mount(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	m.drivers[name] = d
	slog.Info("app: variant mounted", "variant", name)
	return d, nil
}

// Active returns the names of the drivers created so far.
func (m *DriverManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.drivers))
	for _, v := range m.variants {
		if _, ok := m.drivers[v.Name]; ok {
			names = append(names, v.Name)
		}
	}
	return names
}

// Close closes every driver. Later calls to Driver fail.
func (m *DriverManager) Close() error {
	m.mu.Lock()
	drivers := m.drivers
	m.drivers = make(map[string]*variant.Driver)
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for name, d := range drivers {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
