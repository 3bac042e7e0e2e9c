// Package coqui provides a TTS provider for a locally running Coqui TTS
// server (ghcr.io/coqui-ai/tts-cpu). Synthesis is one GET /api/tts request
// per sentence; the voice catalogue comes from GET /details.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	audio, err := p.SynthesizeStream(ctx, textCh, voiceProfile)
package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/toecm/pureconvo/pkg/audio"
	"github.com/toecm/pureconvo/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout  = 30 * time.Second
	apiTTSEndpoint  = "/api/tts"
	detailsEndpoint = "/details"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language id sent to multilingual models. Empty by
// default, which suits single-language models.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL (e.g.,
// "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SynthesizeStream accumulates text fragments into sentences and synthesises
// each one in order. voice.ID selects the speaker of multi-speaker models and
// may be empty for single-speaker models.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		var pending strings.Builder
		emit := func(sentence string) bool {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				return true
			}
			pcm, err := p.synthesize(ctx, sentence, voice)
			if err != nil {
				slog.Warn("coqui: synthesis failed", "err", err)
				return false
			}
			select {
			case out <- pcm:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					emit(pending.String())
					return
				}
				pending.WriteString(fragment)
				for {
					s := pending.String()
					i := sentenceEnd(s)
					if i < 0 {
						break
					}
					pending.Reset()
					pending.WriteString(s[i:])
					if !emit(s[:i]) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// sentenceEnd returns the index just past the first sentence terminator that
// is followed by whitespace, or -1.
func sentenceEnd(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return -1
}

// synthesize performs one GET /api/tts request and returns 16 kHz mono PCM.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	format, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	conv := audio.Converter{Target: audio.CaptureFormat}
	frame := conv.Convert(audio.Frame{Data: pcm, SampleRate: format.SampleRate, Channels: format.Channels})
	return frame.Data, nil
}

// detailsResponse is the JSON body returned by GET /details. Speakers is
// nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Speakers  []string `json:"speakers"`
}

// ListVoices returns one profile per speaker of a multi-speaker model, or a
// single profile named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+detailsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", detailsEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", detailsEndpoint, resp.StatusCode)
	}

	var details detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("coqui: decode details response: %w", err)
	}

	if len(details.Speakers) == 0 {
		name := details.ModelName
		if name == "" {
			name = "default"
		}
		return []tts.VoiceProfile{{ID: "", Name: name, Provider: "coqui", Metadata: map[string]string{"model_name": name}}}, nil
	}
	speakers := slices.Clone(details.Speakers)
	slices.Sort(speakers)
	profiles := make([]tts.VoiceProfile, 0, len(speakers))
	for _, spk := range speakers {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       spk,
			Name:     spk,
			Provider: "coqui",
			Metadata: map[string]string{"model_name": details.ModelName},
		})
	}
	return profiles, nil
}
