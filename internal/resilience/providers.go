package resilience

import (
	"context"
	"errors"

	"github.com/toecm/pureconvo/pkg/provider/llm"
	"github.com/toecm/pureconvo/pkg/provider/stt"
	"github.com/toecm/pureconvo/pkg/provider/tts"
)

// Provider chains used by the self-hosted backend. Each provider slot in the
// config may list fallbacks; the chain tries them in order and skips any
// whose breaker is open.

// stopOn returns a Stop func that ends the walk on ctx cancellation or any
// of errs.
func stopOn(errs ...error) func(error) bool {
	return func(err error) bool {
		if errors.Is(err, context.Canceled) {
			return true
		}
		for _, target := range errs {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// STTFallback is an [stt.Provider] over several transcription backends. A
// recording without samples is rejected by the first backend only.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Stop == nil {
		cfg.Stop = stopOn(stt.ErrEmptyAudio)
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another transcription backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// States reports each backend's breaker state.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Transcribe sends req to the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, req)
	})
}

// LLMFallback is an [llm.Provider] over several model backends. It serves
// clarification and mission prompts.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Stop == nil {
		cfg.Stop = stopOn()
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another model backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// States reports each backend's breaker state.
func (f *LLMFallback) States() map[string]State { return f.group.States() }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// TTSFallback is a [tts.Provider] over several speech backends used for the
// conversational replies.
//
// Only stream setup fails over. The text channel can be read once, so a
// backend must fail before it starts reading for the next one to get the
// text.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Stop == nil {
		cfg.Stop = stopOn()
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another speech backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// States reports each backend's breaker state.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// SynthesizeStream opens a stream on the first healthy backend.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
