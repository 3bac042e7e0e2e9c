package variant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toecm/pureconvo/internal/capture"
	"github.com/toecm/pureconvo/internal/inference"
	"github.com/toecm/pureconvo/internal/localstore"
	"github.com/toecm/pureconvo/internal/mission"
	"github.com/toecm/pureconvo/internal/observe"
	"github.com/toecm/pureconvo/internal/pipeline"
	"github.com/toecm/pureconvo/internal/progress"
	"github.com/toecm/pureconvo/internal/session"
	"github.com/toecm/pureconvo/internal/speech"
)

// ErrConsentRequired is returned by BeginCapture before the contributor
// accepted the data terms.
var ErrConsentRequired = errors.New("variant: consent required before recording")

// Deps are the collaborators shared by every driver.
type Deps struct {
	Gateway inference.Gateway
	Session *session.State
	Store   localstore.Store

	// Device is the input device owned by this driver.
	Device capture.Device

	// Speaker is used by conversational variants. May be nil.
	Speaker *speech.Speaker

	Metrics *observe.Metrics

	// Admin is passed through with every submission.
	Admin bool

	// DoneDelay overrides [pipeline.DefaultDoneDelay] when positive.
	DoneDelay time.Duration

	// PipelineOptions are appended to the driver's own machine options.
	PipelineOptions []pipeline.Option
}

// CaptureView is the recording control state.
type CaptureView struct {
	Status   capture.Status `json:"status"`
	Disabled bool           `json:"disabled"`
	Message  string         `json:"message,omitempty"`
	Budget   float64        `json:"budget_seconds,omitempty"`
}

// View is everything the UI needs to render a variant.
type View struct {
	Name     string            `json:"name"`
	Title    string            `json:"title"`
	Pipeline pipeline.Snapshot `json:"pipeline"`
	Capture  CaptureView       `json:"capture"`
	Session  session.Snapshot  `json:"session"`
	Listener *ListenerView     `json:"listener,omitempty"`
}

// Driver runs one variant for the device session.
type Driver struct {
	cfg      Config
	sess     *session.State
	machine  *pipeline.Machine
	capture  *capture.Controller
	device   capture.Device
	progress *progress.Store
	deck     mission.Source
	listener *Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  func()

	mu      sync.Mutex
	mounted bool
	saved   progress.Snapshot
}

// NewDriver wires cfg to its collaborators. Call Mount before use.
func NewDriver(cfg Config, deps Deps) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		cfg:      cfg,
		sess:     deps.Session,
		device:   deps.Device,
		progress: progress.New(deps.Store, deps.Session.Identity().SessionID, cfg.Name),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.Deck != nil {
		d.deck = cfg.Deck(deps.Gateway)
	}

	var capOpts []capture.Option
	if deps.Metrics != nil {
		capOpts = append(capOpts, capture.WithMetrics(deps.Metrics))
	}
	d.capture = capture.New(deps.Device, capOpts...)

	pcfg := pipeline.Config{
		Variant:    cfg.Name,
		Reward:     cfg.Reward,
		SourceTag:  cfg.SourceTag,
		Continuous: cfg.Continuous,
		DoneDelay:  deps.DoneDelay,
		Admin:      deps.Admin,
		PreStages:  cfg.PreStages,
		Missions:   d.deck,
		OnExit:     d.onExit,
	}
	if cfg.Conversational {
		pcfg.OnSubmitted = d.onSubmitted
	}
	opts := []pipeline.Option{pipeline.WithRecorder(d.capture)}
	if deps.Metrics != nil {
		opts = append(opts, pipeline.WithMetrics(deps.Metrics))
	}
	d.machine = pipeline.New(pcfg, deps.Gateway, deps.Session, append(opts, deps.PipelineOptions...)...)

	if cfg.Conversational {
		d.listener = newListener(d.machine, deps.Gateway, deps.Session, deps.Store, deps.Speaker)
	}

	d.capture.OnFinalize(d.analyze)
	d.unsub = d.machine.Subscribe(d.persist)
	return d
}

// Config returns the variant's configuration.
func (d *Driver) Config() Config { return d.cfg }

// Machine returns the driver's pipeline.
func (d *Driver) Machine() *pipeline.Machine { return d.machine }

// Capture returns the driver's capture controller.
func (d *Driver) Capture() *capture.Controller { return d.capture }

// Device returns the input device.
func (d *Driver) Device() capture.Device { return d.device }

// Listener returns the conversational extension, or nil.
func (d *Driver) Listener() *Listener { return d.listener }

// Mount loads saved progress and resumes it. Without saved progress the
// variant starts at its first stage with a fresh mission.
func (d *Driver) Mount(ctx context.Context) (View, error) {
	d.mu.Lock()
	d.mounted = false
	d.mu.Unlock()

	saved, ok, err := d.progress.Load(ctx)
	if err != nil {
		return View{}, fmt.Errorf("variant: mount %s: %w", d.cfg.Name, err)
	}
	if d.listener != nil {
		if err := d.listener.restore(ctx); err != nil {
			return View{}, fmt.Errorf("variant: mount %s: %w", d.cfg.Name, err)
		}
	}
	if ok {
		stage := d.machine.Restore(saved.Stage, saved.LastMission)
		slog.Info("variant: resumed", "variant", d.cfg.Name, "saved_stage", saved.Stage, "stage", stage)
	}

	d.mu.Lock()
	d.mounted = true
	d.mu.Unlock()

	if (!ok || saved.LastMission.IsZero()) && d.deck != nil {
		d.machine.NextMission(ctx)
	} else {
		d.persist(d.machine.Snapshot())
	}
	return d.View(), nil
}

// View returns the current view.
func (d *Driver) View() View {
	v := View{
		Name:     d.cfg.Name,
		Title:    d.cfg.Title,
		Pipeline: d.machine.Snapshot(),
		Capture: CaptureView{
			Status:   d.capture.Status(),
			Disabled: d.capture.Disabled(),
			Message:  d.capture.Message(),
			Budget:   d.cfg.TimeBudget.Seconds(),
		},
		Session: d.sess.Snapshot(),
	}
	if d.listener != nil {
		lv := d.listener.View()
		v.Listener = &lv
	}
	return v
}

// BeginCapture starts a recording. Timed variants end it automatically.
func (d *Driver) BeginCapture(ctx context.Context) error {
	if !d.sess.Consent() {
		return ErrConsentRequired
	}
	if s := d.machine.Stage(); s != pipeline.StageRecord {
		return fmt.Errorf("variant: record in %s: %w", s, pipeline.ErrWrongStage)
	}
	if d.cfg.TimeBudget > 0 {
		return d.capture.BeginTimed(ctx, d.cfg.TimeBudget)
	}
	return d.capture.Begin(ctx)
}

// EndCapture stops the recording. Analysis starts in the background.
func (d *Driver) EndCapture() (*capture.Artifact, error) {
	return d.capture.End()
}

// Analyze re-delivers the last recording to the pipeline. A recording that
// was already analyzed is ignored.
func (d *Driver) Analyze(ctx context.Context) (bool, error) {
	return d.machine.Analyze(ctx, d.capture.Last())
}

// Reset erases the variant's saved progress and, for the conversational
// variant, its memory. It refuses without confirmation.
func (d *Driver) Reset(ctx context.Context, confirm bool) error {
	if err := d.progress.Clear(ctx, confirm); err != nil {
		return fmt.Errorf("variant: reset %s: %w", d.cfg.Name, err)
	}
	if d.listener != nil {
		if err := d.listener.reset(ctx); err != nil {
			return fmt.Errorf("variant: reset %s: %w", d.cfg.Name, err)
		}
	}
	d.mu.Lock()
	d.saved = progress.Snapshot{}
	d.mu.Unlock()

	d.machine.Reset()
	if d.deck != nil {
		d.machine.NextMission(ctx)
	}
	slog.Info("variant: progress reset", "variant", d.cfg.Name)
	return nil
}

// Wait blocks until background analyses and replies have finished.
func (d *Driver) Wait() { d.wg.Wait() }

// Close stops background work and releases the device.
func (d *Driver) Close() error {
	d.cancel()
	d.unsub()
	err := d.capture.Close()
	d.wg.Wait()
	d.machine.Close()
	return err
}

func (d *Driver) analyze(a *capture.Artifact) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.machine.Analyze(d.ctx, a); err != nil {
			slog.Warn("variant: analysis not started", "variant", d.cfg.Name, "err", err)
		}
	}()
}

// onSubmitted records the contributor's turn and answers it in the
// background so the submission is not held up by generation or synthesis.
func (d *Driver) onSubmitted(r pipeline.Receipt) {
	turn := d.listener.heard(d.ctx, r)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.listener.followUp(d.ctx, turn, r)
	}()
}

func (d *Driver) onExit() {
	slog.Info("variant: session finished", "variant", d.cfg.Name)
	if d.deck == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.machine.NextMission(d.ctx)
	}()
}

// persist writes the stage and mission through on every change. The
// loading placeholder is never saved.
func (d *Driver) persist(s pipeline.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.mounted {
		return
	}
	next := progress.Snapshot{Stage: s.Stage, LastMission: s.Mission}
	if s.Mission.Text == mission.Placeholder {
		next.LastMission = d.saved.LastMission
	}
	if next == d.saved {
		return
	}
	if err := d.progress.Save(d.ctx, next); err != nil {
		slog.Warn("variant: progress not saved", "variant", d.cfg.Name, "err", err)
		return
	}
	d.saved = next
}
