package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// wavHeaderSize is the size of the canonical 44-byte PCM RIFF header.
const wavHeaderSize = 44

// ErrNotWAV is returned by [DecodeWAV] for data that is not a PCM RIFF/WAVE
// container.
var ErrNotWAV = errors.New("audio: not a PCM wav container")

// EncodeWAV wraps pcm in a canonical RIFF/WAVE container described by f.
func EncodeWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * 2
	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// DecodeWAV parses a canonical 16-bit PCM WAV container and returns its
// format and sample data. Extra chunks between "fmt " and "data" are skipped.
func DecodeWAV(wav []byte) (Format, []byte, error) {
	if len(wav) < wavHeaderSize || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var (
		f      Format
		gotFmt bool
	)
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}
		switch id {
		case "fmt ":
			if size < 16 || binary.LittleEndian.Uint16(wav[body:body+2]) != 1 {
				return Format{}, nil, ErrNotWAV
			}
			if bits := binary.LittleEndian.Uint16(wav[body+14 : body+16]); bits != 16 {
				return Format{}, nil, fmt.Errorf("%w: %d bits per sample", ErrNotWAV, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return Format{}, nil, ErrNotWAV
			}
			return f, wav[body : body+size], nil
		}
		off = body + size + size%2
	}
	return Format{}, nil, ErrNotWAV
}

// RMS returns the root-mean-square energy of pcm in sample units (0..32767).
func RMS(pcm []byte) float64 {
	samples := Samples(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
