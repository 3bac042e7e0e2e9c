package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Converter normalises frames to a target format. It warns once on the first
// format mismatch and once on the first misaligned frame. Create one per
// recording; it is not meant to be shared across goroutines.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as-is. Frames whose byte count is not a whole number of
// samples are dropped and an empty frame is returned.
func (c *Converter) Convert(frame Frame) Frame {
	if len(frame.Data)%2 != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio: dropping frame with odd byte count",
				"bytes", len(frame.Data),
				"format", Format{frame.SampleRate, frame.Channels}.String(),
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Offset: frame.Offset}
	}

	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if src == c.Target {
		return frame
	}
	c.warnMismatch.Do(func() {
		slog.Debug("audio: converting capture format", "from", src.String(), "to", c.Target.String())
	})

	samples := Samples(frame.Data)
	channels := frame.Channels
	if channels > 1 && c.Target.Channels == 1 {
		samples = Downmix(samples, channels)
		channels = 1
	}
	if frame.SampleRate != c.Target.SampleRate {
		samples = Resample(samples, channels, frame.SampleRate, c.Target.SampleRate)
	}
	if channels == 1 && c.Target.Channels == 2 {
		samples = Upmix(samples)
		channels = 2
	}

	return Frame{
		Data:       PCM(samples),
		SampleRate: c.Target.SampleRate,
		Channels:   channels,
		Offset:     frame.Offset,
	}
}

// Samples decodes little-endian PCM bytes into int16 samples. A trailing odd
// byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM encodes samples as little-endian PCM bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Downmix averages interleaved multi-channel samples into mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = clamp16(sum / int32(channels))
	}
	return out
}

// Upmix duplicates each mono sample into an L+R pair.
func Upmix(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation. Invalid rates return the input unchanged.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for ch := range channels {
			a := float64(samples[idx*channels+ch])
			b := float64(samples[next*channels+ch])
			out[i*channels+ch] = int16(a*(1-frac) + b*frac)
		}
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
