// Package app wires all PureConvo subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithGateway, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toecm/pureconvo/internal/catalog"
	"github.com/toecm/pureconvo/internal/config"
	"github.com/toecm/pureconvo/internal/health"
	"github.com/toecm/pureconvo/internal/inference"
	"github.com/toecm/pureconvo/internal/inference/direct"
	"github.com/toecm/pureconvo/internal/inference/remote"
	"github.com/toecm/pureconvo/internal/ledger"
	"github.com/toecm/pureconvo/internal/ledger/archive"
	"github.com/toecm/pureconvo/internal/ledger/postgres"
	"github.com/toecm/pureconvo/internal/localstore"
	"github.com/toecm/pureconvo/internal/observe"
	"github.com/toecm/pureconvo/internal/pipeline"
	"github.com/toecm/pureconvo/internal/resilience"
	"github.com/toecm/pureconvo/internal/server"
	"github.com/toecm/pureconvo/internal/session"
	"github.com/toecm/pureconvo/internal/speech"
	"github.com/toecm/pureconvo/pkg/provider/llm"
	"github.com/toecm/pureconvo/pkg/provider/stt"
	"github.com/toecm/pureconvo/pkg/provider/tts"
)

// Breaker settings for the remote gateway in failover mode.
const (
	breakerMaxFailures  = 3
	breakerResetTimeout = 30 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store    localstore.Store
	metrics  *observe.Metrics
	ledger   ledger.Ledger
	gateway  inference.Gateway
	backend  string
	catalog  *catalog.Catalog
	session  *session.State
	speaker  *speech.Speaker
	drivers  *DriverManager
	health   *health.Handler
	server   *server.Server
	watcher  *config.Watcher
	logLevel *slog.LevelVar

	pipelineOpts []pipeline.Option

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects the device store instead of opening one from config.
func WithStore(s localstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithGateway injects the inference gateway instead of building one from
// config. The ledger is not created when a gateway is injected.
func WithGateway(gw inference.Gateway) Option {
	return func(a *App) { a.gateway = gw }
}

// WithLedger injects the ledger used by the self-hosted backend.
func WithLedger(l ledger.Ledger) Option {
	return func(a *App) { a.ledger = l }
}

// WithMetrics injects the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithWatcher makes Run poll the config file.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLogLevel lets ApplyConfig change the level of the running logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithPipelineOptions passes extra options to every variant pipeline.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(a *App) { a.pipelineOpts = append(a.pipelineOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New does not contact the remote gateway; the dialect catalog is fetched in
// the background once Run starts.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Device store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Gateway ───────────────────────────────────────────────────────
	if err := a.initGateway(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 3. Session ───────────────────────────────────────────────────────
	a.catalog = catalog.New(cfg.BuiltinDialects())
	sess, err := session.Open(ctx, a.store, a.catalog)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: open session: %w", err)
	}
	a.session = sess
	slog.Info("session opened", "session_id", sess.Identity().SessionID, "operator", sess.Identity().OperatorID)

	// ── 4. Speech ────────────────────────────────────────────────────────
	if providers.TTS != nil {
		a.speaker = speech.NewSpeaker(providers.TTS, nil)
	}

	// ── 5. Variant drivers ───────────────────────────────────────────────
	drivers, err := NewDriverManager(DriverManagerConfig{
		Gateway:         a.gateway,
		Session:         a.session,
		Store:           a.store,
		Speaker:         a.speaker,
		Metrics:         a.metrics,
		Enabled:         cfg.Session.Variants,
		Admin:           cfg.Session.Admin,
		DoneDelay:       cfg.Session.DoneDelay,
		PipelineOptions: a.pipelineOpts,
	})
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.drivers = drivers
	// Drivers release their devices before the stores close.
	a.closers = append([]func() error{drivers.Close}, a.closers...)

	// ── 6. Health + server ───────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	srvOpts := []server.Option{server.WithHealth(a.health), server.WithMetrics(a.metrics)}
	if a.speaker != nil {
		srvOpts = append(srvOpts, server.WithSpeaker(a.speaker))
	}
	a.server = server.New(a.drivers, a.session, a.gateway, srvOpts...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the SQLite device store, or an in-memory one when no
// path is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.Storage.Path == "" {
		a.store = localstore.NewMemStore()
		return nil
	}
	s, err := localstore.OpenSQLite(ctx, a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	slog.Info("device store opened", "path", a.cfg.Storage.Path)
	return nil
}

// initGateway builds the gateway for the configured mode and wraps it with
// metrics.
func (a *App) initGateway(ctx context.Context) error {
	if a.gateway != nil {
		a.backend = "injected"
		return nil
	}

	mode := a.cfg.Mode()
	var remoteGW, directGW inference.Gateway

	if mode.NeedsRemote() {
		c, err := a.newRemote()
		if err != nil {
			return err
		}
		a.closers = append(a.closers, c.Close)
		remoteGW = c
	}
	if mode.NeedsDirect() {
		b, err := a.newDirect(ctx)
		if err != nil {
			return err
		}
		directGW = b
	}

	var gw inference.Gateway
	switch mode {
	case config.GatewayRemote:
		gw = remoteGW
	case config.GatewayDirect:
		gw = directGW
	case config.GatewayFailover:
		fb := resilience.NewGatewayFallback(remoteGW, "remote", resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  breakerMaxFailures,
				ResetTimeout: breakerResetTimeout,
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("gateway breaker state changed", "gateway", name, "from", from, "to", to)
					a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
		})
		fb.AddFallback("direct", directGW)
		gw = fb
	default:
		return fmt.Errorf("unsupported gateway mode %q", mode)
	}

	a.backend = string(mode)
	a.gateway = inference.Instrument(gw, a.backend, a.metrics)
	slog.Info("gateway ready", "mode", mode, "url", a.cfg.Gateway.URL)
	return nil
}

func (a *App) newRemote() (*remote.Client, error) {
	var opts []remote.Option
	if a.cfg.Gateway.Timeout > 0 {
		opts = append(opts, remote.WithTimeout(a.cfg.Gateway.Timeout))
	}
	for k, v := range a.cfg.Gateway.Headers {
		opts = append(opts, remote.WithHeader(k, v))
	}
	return remote.New(a.cfg.Gateway.URL, opts...)
}

// newDirect builds the self-hosted backend over the configured providers
// and the contribution ledger.
func (a *App) newDirect(ctx context.Context) (*direct.Backend, error) {
	if a.providers.STT == nil || a.providers.LLM == nil {
		return nil, errors.New("direct gateway needs stt and llm providers")
	}
	if err := a.initLedger(ctx); err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	var opts []direct.Option
	opts = append(opts, direct.WithBuiltinDialects(a.cfg.BuiltinDialects()))
	if a.cfg.Gateway.Temperature > 0 {
		opts = append(opts, direct.WithTemperature(a.cfg.Gateway.Temperature))
	}
	return direct.New(a.providers.STT, a.providers.LLM, a.ledger, opts...)
}

// initLedger connects the contribution store and the recording archive.
func (a *App) initLedger(ctx context.Context) error {
	if a.ledger != nil {
		return nil
	}
	lc := a.cfg.Ledger

	var store ledger.Store
	if lc.PostgresDSN == "" {
		slog.Warn("ledger.postgres_dsn not set, contributions are kept in memory")
		store = ledger.NewMemStore(a.cfg.BuiltinDialects()...)
	} else {
		pg, err := postgres.NewStore(ctx, lc.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		if err := pg.Seed(ctx, a.cfg.BuiltinDialects()); err != nil {
			return err
		}
		store = pg
	}

	var arch ledger.Archive
	if ac := lc.Archive; ac != nil {
		ma, err := archive.New(ctx, archive.Config{
			Endpoint:  ac.Endpoint,
			AccessKey: ac.AccessKey,
			SecretKey: ac.SecretKey,
			Bucket:    ac.Bucket,
			UseSSL:    ac.UseSSL,
			Prefix:    ac.Prefix,
		})
		if err != nil {
			return err
		}
		arch = ma
		slog.Info("recording archive ready", "endpoint", ac.Endpoint, "bucket", ac.Bucket)
	}

	a.ledger = ledger.New(store, arch)
	return nil
}

// checkers returns the readiness probes. The device store is required; the
// gateway is optional because recording and review keep working offline.
func (a *App) checkers() []health.Checker {
	cs := []health.Checker{
		{Name: "localstore", Check: a.store.Ping},
		{
			Name:     "gateway",
			Optional: true,
			Check: func(ctx context.Context) error {
				st, err := a.gateway.CloudSync(ctx)
				if err != nil {
					return err
				}
				if !st.OK {
					return fmt.Errorf("cloud sync: %s", st.Detail)
				}
				return nil
			},
		},
	}
	if a.ledger != nil {
		cs = append(cs, health.Checker{Name: "ledger", Check: a.ledger.Ping})
	}
	if a.watcher != nil {
		cs = append(cs, health.Checker{
			Name:     "config",
			Optional: true,
			Check:    func(context.Context) error { return a.watcher.Err() },
		})
	}
	return cs
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Session returns the device session.
func (a *App) Session() *session.State { return a.session }

// Drivers returns the variant drivers.
func (a *App) Drivers() *DriverManager { return a.drivers }

// Catalog returns the dialect catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the API until ctx is cancelled. The dialect catalog is fetched
// in the background; while the gateway is unreachable the built-in list
// stays in use.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.loadDialects(ctx)
		return nil
	})

	g.Go(func() error {
		var cert, key string
		if tls := a.cfg.Server.TLS; tls != nil {
			cert, key = tls.CertFile, tls.KeyFile
		}
		return server.ListenAndServe(ctx, a.cfg.Server.ListenAddr, a.Handler(), cert, key)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}

	return g.Wait()
}

// loadDialects refreshes the catalog with backoff. An empty answer is not
// retried.
func (a *App) loadDialects(ctx context.Context) {
	err := resilience.Retry(ctx, resilience.RetryConfig{
		Name:       "dialects",
		MaxRetries: 5,
		Retryable:  func(err error) bool { return !errors.Is(err, catalog.ErrEmpty) },
	}, func(ctx context.Context) error {
		_, err := a.session.RefreshDialects(ctx, a.gateway)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("dialect catalog unavailable, using built-in list", "err", err)
		}
		return
	}
	slog.Info("dialect catalog loaded", "count", len(a.catalog.Names()))
}

// ApplyConfig applies the hot-reloadable part of a config change. It has
// the shape of [config.ChangeFunc].
func (a *App) ApplyConfig(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DialectsChanged {
		a.catalog.SetBuiltin(d.NewDialects)
		slog.Info("built-in dialects changed", "dialects", d.NewDialects)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before it failed.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
