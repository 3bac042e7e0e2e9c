package audio_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/toecm/pureconvo/pkg/audio"
)

func TestDownmix(t *testing.T) {
	got := audio.Downmix([]int16{100, 200, -100, -200}, 2)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_NoOverflow(t *testing.T) {
	got := audio.Downmix([]int16{32767, 32767}, 2)
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestUpmix(t *testing.T) {
	got := audio.Upmix([]int16{1, 2})
	want := []int16{1, 1, 2, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		src, dst int
		wantLen  int
	}{
		{"same rate", []int16{1, 2, 3}, 16000, 16000, 3},
		{"downsample 3x", make([]int16, 480), 48000, 16000, 160},
		{"upsample 2x", make([]int16, 100), 8000, 16000, 200},
		{"invalid rate", []int16{1, 2}, 0, 16000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.Resample(tt.in, 1, tt.src, tt.dst)
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestConverter_Convert(t *testing.T) {
	c := audio.Converter{Target: audio.CaptureFormat}

	// 10 ms of 48 kHz stereo.
	in := audio.Frame{Data: make([]byte, 480*2*2), SampleRate: 48000, Channels: 2}
	out := c.Convert(in)
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("format = %dHz/%d, want 16000Hz/1", out.SampleRate, out.Channels)
	}
	if len(out.Data) != 160*2 {
		t.Errorf("len = %d, want %d", len(out.Data), 160*2)
	}

	same := audio.Frame{Data: []byte{1, 0, 2, 0}, SampleRate: 16000, Channels: 1}
	if got := c.Convert(same); !bytes.Equal(got.Data, same.Data) {
		t.Errorf("matching format was modified: %v", got.Data)
	}

	odd := audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}
	if got := c.Convert(odd); len(got.Data) != 0 {
		t.Errorf("odd frame not dropped: %v", got.Data)
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	pcm := audio.PCM([]int16{0, 1000, -1000, 32767})
	wav := audio.EncodeWAV(pcm, audio.CaptureFormat)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad header %q", wav[:12])
	}

	f, data, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f != audio.CaptureFormat {
		t.Errorf("format = %v, want %v", f, audio.CaptureFormat)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("data = %v, want %v", data, pcm)
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	for _, in := range [][]byte{nil, []byte("not a wav file at all, just text padding to 44 bytes")} {
		if _, _, err := audio.DecodeWAV(in); !errors.Is(err, audio.ErrNotWAV) {
			t.Errorf("DecodeWAV(%q) err = %v, want ErrNotWAV", in, err)
		}
	}
}

func TestFormat_Duration(t *testing.T) {
	if got := audio.CaptureFormat.Duration(32000); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(audio.PCM([]int16{300, -300})); got != 300 {
		t.Errorf("RMS = %v, want 300", got)
	}
}
