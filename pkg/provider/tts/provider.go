// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui server) and presents a uniform streaming interface. SynthesizeStream
// accepts a channel of text fragments and returns a channel of raw PCM audio
// as it becomes available. [Synthesize] is the blocking convenience form used
// for short spoken prompts.
//
// All providers emit 16-bit little-endian mono PCM at 16 kHz.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"bytes"
	"context"
	"errors"
)

// ErrNoVoice is returned when a synthesis request names no voice and the
// provider has no default.
var ErrNoVoice = errors.New("tts: voice id must not be empty")

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider"`

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits PCM audio as it is synthesised. The audio
	// channel is closed when all text has been synthesised or ctx is
	// cancelled; the caller must drain it.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis close the audio channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// Synthesize speaks text with voice and returns the complete PCM output.
func Synthesize(ctx context.Context, p Provider, text string, voice VoiceProfile) ([]byte, error) {
	in := make(chan string, 1)
	in <- text
	close(in)

	out, err := p.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for chunk := range out {
		buf.Write(chunk)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
