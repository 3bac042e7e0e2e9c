package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/toecm/pureconvo/pkg/audio"
)

var (
	// ErrDeviceBusy is returned by PushDevice.Open while already open.
	ErrDeviceBusy = errors.New("capture: device already open")

	// ErrDeviceClosed is returned by PushDevice.Push while not recording.
	ErrDeviceClosed = errors.New("capture: device not open")

	// ErrPermissionDenied is returned by PushDevice.Open after the UI
	// reported that the browser refused microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
)

var _ Device = (*PushDevice)(nil)

// PushDevice is a [Device] fed over the companion API: the UI records in the
// browser and posts PCM chunks, which are forwarded as frames while the
// device is open.
type PushDevice struct {
	format audio.Format

	mu     sync.Mutex
	ch     chan audio.Frame
	denied bool
	sent   int
}

// NewPushDevice returns a device whose chunks are PCM in format f.
func NewPushDevice(f audio.Format) *PushDevice {
	return &PushDevice{format: f}
}

// Format returns the PCM format chunks are expected in.
func (d *PushDevice) Format() audio.Format { return d.format }

// SetPermission records whether the UI was granted microphone access.
func (d *PushDevice) SetPermission(granted bool) {
	d.mu.Lock()
	d.denied = !granted
	d.mu.Unlock()
}

// Open implements [Device].
func (d *PushDevice) Open(context.Context) (<-chan audio.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied {
		return nil, ErrPermissionDenied
	}
	if d.ch != nil {
		return nil, ErrDeviceBusy
	}
	d.ch = make(chan audio.Frame, 64)
	d.sent = 0
	return d.ch, nil
}

// Push forwards one chunk of PCM. It blocks while the frame buffer is full.
func (d *PushDevice) Push(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch == nil {
		return ErrDeviceClosed
	}
	d.ch <- audio.Frame{
		Data:       append([]byte(nil), pcm...),
		SampleRate: d.format.SampleRate,
		Channels:   d.format.Channels,
		Offset:     d.format.Duration(d.sent),
	}
	d.sent += len(pcm)
	return nil
}

// Close implements [Device]. Closing a closed device is a no-op.
func (d *PushDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch != nil {
		close(d.ch)
		d.ch = nil
	}
	return nil
}
