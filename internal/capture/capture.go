// Package capture turns a press-and-hold gesture into a WAV recording.
//
// A [Controller] owns one input [Device]. Begin opens the device and starts
// collecting frames; End closes it and finalizes the collected audio into an
// [Artifact] normalised to 16 kHz mono. The controller's status moves
// idle → recording → stopped, and Clear returns it to idle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toecm/pureconvo/internal/observe"
	"github.com/toecm/pureconvo/pkg/audio"
)

// PermissionMessage is shown while the input device cannot be opened.
const PermissionMessage = "Microphone permission needed"

var (
	// ErrCapture means the input device could not be opened.
	ErrCapture = errors.New("capture: input device unavailable")

	// ErrNoAudio is returned by End when the device delivered no samples.
	ErrNoAudio = errors.New("capture: recording is empty")
)

// Status is the controller's recording state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusStopped   Status = "stopped"
)

// Device is an audio input. Open starts delivering frames on the returned
// channel; Close stops the device, after which the channel must be closed.
type Device interface {
	Open(ctx context.Context) (<-chan audio.Frame, error)
	Close() error
}

// Artifact is a finalized recording.
type Artifact struct {
	ID        uuid.UUID
	WAV       []byte
	Duration  time.Duration
	CreatedAt time.Time
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics records recording lengths and open devices into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller coordinates one input device. It is safe for concurrent use.
type Controller struct {
	dev     Device
	metrics *observe.Metrics
	now     func() time.Time

	mu       sync.Mutex
	status   Status
	disabled bool
	rec      *recording
	timer    *time.Timer
	last     *Artifact
	onFinal  []func(*Artifact)
	onStatus []func(Status)
}

// recording is the state of one Begin/End cycle.
type recording struct {
	cancel context.CancelFunc
	done   chan struct{}
	conv   audio.Converter

	mu  sync.Mutex
	pcm []byte
}

// New returns an idle controller over dev.
func New(dev Device, opts ...Option) *Controller {
	c := &Controller{dev: dev, status: StatusIdle, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Disabled reports whether the last Begin failed to open the device.
func (c *Controller) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// Message returns [PermissionMessage] while disabled and "" otherwise.
func (c *Controller) Message() string {
	if c.Disabled() {
		return PermissionMessage
	}
	return ""
}

// Last returns the most recent artifact, or nil.
func (c *Controller) Last() *Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// OnFinalize registers fn to receive every artifact produced by End,
// including timer-driven ends. Listeners run on the ending goroutine.
func (c *Controller) OnFinalize(fn func(*Artifact)) {
	c.mu.Lock()
	c.onFinal = append(c.onFinal, fn)
	c.mu.Unlock()
}

// OnStatus registers fn to receive every status change.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	c.onStatus = append(c.onStatus, fn)
	c.mu.Unlock()
}

// Begin starts recording. It is a no-op while already recording. A device
// that cannot be opened disables the controller and returns an error
// wrapping [ErrCapture]; a later successful Begin re-enables it.
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusRecording {
		c.mu.Unlock()
		return nil
	}

	devCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	frames, err := c.dev.Open(devCtx)
	if err != nil {
		cancel()
		c.disabled = true
		c.mu.Unlock()
		slog.Warn("capture: cannot open input device", "err", err)
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}

	r := &recording{
		cancel: cancel,
		done:   make(chan struct{}),
		conv:   audio.Converter{Target: audio.CaptureFormat},
	}
	go r.collect(frames)

	c.disabled = false
	c.rec = r
	c.setStatusLocked(StatusRecording)
	fns := c.statusListenersLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveRecordings.Add(ctx, 1)
	}
	notifyStatus(fns, StatusRecording)
	return nil
}

// BeginTimed starts recording and ends it automatically after budget. The
// resulting artifact is delivered to OnFinalize listeners. A manual End
// before the budget elapses cancels the timer.
func (c *Controller) BeginTimed(ctx context.Context, budget time.Duration) error {
	if err := c.Begin(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRecording || c.timer != nil {
		return nil
	}
	c.timer = time.AfterFunc(budget, func() {
		slog.Debug("capture: time budget elapsed", "budget", budget)
		if _, err := c.End(); err != nil {
			slog.Warn("capture: timed end failed", "err", err)
		}
	})
	return nil
}

// End stops recording and returns the finalized artifact. Calling End while
// not recording returns (nil, nil).
func (c *Controller) End() (*Artifact, error) {
	c.mu.Lock()
	r := c.detachLocked()
	if r == nil {
		c.mu.Unlock()
		return nil, nil
	}
	c.setStatusLocked(StatusStopped)
	c.mu.Unlock()

	pcm := c.drain(r)
	if len(pcm) == 0 {
		c.mu.Lock()
		c.setStatusLocked(StatusIdle)
		fns := c.statusListenersLocked()
		c.mu.Unlock()
		notifyStatus(fns, StatusIdle)
		return nil, ErrNoAudio
	}

	a := &Artifact{
		ID:        uuid.New(),
		WAV:       audio.EncodeWAV(pcm, audio.CaptureFormat),
		Duration:  audio.CaptureFormat.Duration(len(pcm)),
		CreatedAt: c.now().UTC(),
	}
	if c.metrics != nil {
		c.metrics.RecordRecording(context.Background(), a.Duration)
	}

	c.mu.Lock()
	c.last = a
	final := slices.Clone(c.onFinal)
	fns := c.statusListenersLocked()
	c.mu.Unlock()

	slog.Debug("capture: recording finalized", "id", a.ID, "duration", a.Duration)
	notifyStatus(fns, StatusStopped)
	for _, fn := range final {
		fn(a)
	}
	return a, nil
}

// Clear discards the last artifact, aborting any recording in progress, and
// returns to idle.
func (c *Controller) Clear() {
	c.mu.Lock()
	r := c.detachLocked()
	c.last = nil
	changed := c.setStatusLocked(StatusIdle)
	fns := c.statusListenersLocked()
	c.mu.Unlock()

	if r != nil {
		c.drain(r)
	}
	if changed {
		notifyStatus(fns, StatusIdle)
	}
}

// Close aborts any recording in progress and keeps the last artifact.
func (c *Controller) Close() error {
	c.mu.Lock()
	r := c.detachLocked()
	if r != nil {
		c.setStatusLocked(StatusIdle)
	}
	c.mu.Unlock()
	if r != nil {
		c.drain(r)
	}
	return nil
}

// detachLocked stops the device and the timer and takes the active
// recording, or returns nil when not recording. It must be called with c.mu
// held; closing the device under the lock keeps a concurrent Begin from
// reopening it first.
func (c *Controller) detachLocked() *recording {
	if c.status != StatusRecording || c.rec == nil {
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if err := c.dev.Close(); err != nil {
		slog.Warn("capture: closing input device", "err", err)
	}
	r := c.rec
	c.rec = nil
	return r
}

// drain waits for the collector of a detached recording and returns its PCM.
func (c *Controller) drain(r *recording) []byte {
	r.cancel()
	<-r.done
	if c.metrics != nil {
		c.metrics.ActiveRecordings.Add(context.Background(), -1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pcm
}

func (r *recording) collect(frames <-chan audio.Frame) {
	defer close(r.done)
	for f := range frames {
		out := r.conv.Convert(f)
		r.mu.Lock()
		r.pcm = append(r.pcm, out.Data...)
		r.mu.Unlock()
	}
}

// setStatusLocked must be called with c.mu held.
func (c *Controller) setStatusLocked(s Status) bool {
	if c.status == s {
		return false
	}
	c.status = s
	return true
}

func (c *Controller) statusListenersLocked() []func(Status) {
	return slices.Clone(c.onStatus)
}

func notifyStatus(fns []func(Status), s Status) {
	for _, fn := range fns {
		fn(s)
	}
}
