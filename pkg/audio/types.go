// Package audio holds the PCM primitives shared by the capture controller and
// the speech providers: frames, formats, sample-rate and channel conversion,
// and the RIFF/WAV container handed to transcription backends.
//
// All PCM is 16-bit signed little-endian.
package audio

import (
	"fmt"
	"time"
)

// Frame is a chunk of interleaved PCM captured from an input device.
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int

	// Offset is the capture time of the first sample relative to the start
	// of the recording.
	Offset time.Duration
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// CaptureFormat is the format every finalized recording is normalised to
// before it is wrapped as WAV: 16 kHz mono, the rate speech models expect.
var CaptureFormat = Format{SampleRate: 16000, Channels: 1}

// String renders f as e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// BytesPerSecond returns the PCM data rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of PCM in format f play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}
