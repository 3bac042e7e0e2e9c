package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/toecm/pureconvo/pkg/audio"
	"github.com/toecm/pureconvo/pkg/provider/tts"
)

// ErrSpeech wraps synthesis failures.
var ErrSpeech = errors.New("speech: synthesis failed")

// Pronunciation tells the speaker how to say the contributor's name.
type Pronunciation struct {
	// Name is the display name as it is written.
	Name string `json:"name"`

	// Say is the spelling the voice should read instead. Empty disables
	// substitution.
	Say string `json:"say,omitempty"`
}

// Utterance is a reply ready for playback.
type Utterance struct {
	// Text is the reply as written, for the conversation transcript.
	Text string `json:"text"`

	// Spoken is the text actually sent to the voice.
	Spoken string `json:"spoken"`

	// WAV holds the synthesized audio.
	WAV []byte `json:"-"`
}

// Speaker synthesizes replies with a TTS provider.
type Speaker struct {
	provider tts.Provider
	matcher  *Matcher
}

// NewSpeaker returns a speaker over p. A nil matcher uses the defaults.
func NewSpeaker(p tts.Provider, m *Matcher) *Speaker {
	if m == nil {
		m = NewMatcher()
	}
	return &Speaker{provider: p, matcher: m}
}

// Speak renders text with voiceID after applying pr.
func (s *Speaker) Speak(ctx context.Context, text, voiceID string, pr Pronunciation) (Utterance, error) {
	u := Utterance{Text: text, Spoken: text}
	if strings.TrimSpace(pr.Name) != "" {
		u.Spoken = s.matcher.Substitute(text, pr.Name, pr.Say)
	}
	if strings.TrimSpace(voiceID) == "" {
		return u, fmt.Errorf("%w: %w", ErrSpeech, tts.ErrNoVoice)
	}

	pcm, err := tts.Synthesize(ctx, s.provider, u.Spoken, tts.VoiceProfile{ID: voiceID})
	if err != nil {
		return u, fmt.Errorf("%w: %w", ErrSpeech, err)
	}
	u.WAV = audio.EncodeWAV(pcm, audio.CaptureFormat)
	slog.Debug("speech: reply synthesized", "voice", voiceID, "bytes", len(pcm))
	return u, nil
}

// Voices lists the provider's voices.
func (s *Speaker) Voices(ctx context.Context) ([]tts.VoiceProfile, error) {
	v, err := s.provider.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech: list voices: %w", err)
	}
	return v, nil
}
