// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider wraps a batch transcription service (a local whisper.cpp server
// or the OpenAI audio API) and turns one finished recording into text. The
// recording is always a complete WAV container; providers that need raw PCM
// unwrap it themselves.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyAudio is returned when the recording carries no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is a single transcription job.
type Request struct {
	// WAV is the recording as a RIFF/WAVE container.
	WAV []byte

	// Language is a hint for the recogniser. It may be a BCP-47 tag ("en") or
	// a free-form dialect name ("Singlish"); providers map it to whatever the
	// backend understands and ignore values they cannot use. Empty lets the
	// backend auto-detect.
	Language string

	// Prompt is optional text that biases recognition towards expected
	// vocabulary.
	Prompt string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe returns the recognised text for req. An empty string with a
	// nil error means the backend heard nothing.
	Transcribe(ctx context.Context, req Request) (string, error)
}

// englishHints are dialect-name fragments that identify a variety of English.
var englishHints = []string{"english", "singlish", "manglish", "pidgin", "patois", "creole"}

// LanguageCode maps a dialect name or language tag to a two-letter ISO-639-1
// code for backends that only accept those. Dialects of English map to "en".
// Unknown values return "".
func LanguageCode(lang string) string {
	switch {
	case lang == "":
		return ""
	case len(lang) == 2:
		return lang
	case len(lang) > 2 && lang[2] == '-':
		return lang[:2]
	}
	lower := strings.ToLower(lang)
	for _, hint := range englishHints {
		if strings.Contains(lower, hint) {
			return "en"
		}
	}
	return ""
}
