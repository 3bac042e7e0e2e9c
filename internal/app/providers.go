package app

import (
	"fmt"
	"log/slog"

	"github.com/toecm/pureconvo/internal/config"
	"github.com/toecm/pureconvo/internal/resilience"
	"github.com/toecm/pureconvo/pkg/provider/llm"
	"github.com/toecm/pureconvo/pkg/provider/stt"
	"github.com/toecm/pureconvo/pkg/provider/tts"
)

// BuildProviders creates the providers named in cfg using reg. A slot with
// fallbacks is wrapped in a failover chain; an empty slot stays nil.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	var err error

	ps.STT, err = buildSlot(cfg.Providers.STT, "stt", reg.CreateSTT,
		func(p stt.Provider, name string, fc resilience.FallbackConfig) chain[stt.Provider] {
			return resilience.NewSTTFallback(p, name, fc)
		})
	if err != nil {
		return nil, err
	}
	ps.LLM, err = buildSlot(cfg.Providers.LLM, "llm", reg.CreateLLM,
		func(p llm.Provider, name string, fc resilience.FallbackConfig) chain[llm.Provider] {
			return resilience.NewLLMFallback(p, name, fc)
		})
	if err != nil {
		return nil, err
	}
	ps.TTS, err = buildSlot(cfg.Providers.TTS, "tts", reg.CreateTTS,
		func(p tts.Provider, name string, fc resilience.FallbackConfig) chain[tts.Provider] {
			return resilience.NewTTSFallback(p, name, fc)
		})
	if err != nil {
		return nil, err
	}
	return ps, nil
}

// chain is the shape shared by the resilience provider wrappers.
type chain[T any] interface {
	AddFallback(name string, p T)
}

func buildSlot[T any](
	entry config.ProviderEntry,
	kind string,
	create func(config.ProviderEntry) (T, error),
	wrap func(T, string, resilience.FallbackConfig) chain[T],
) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}

	c := wrap(primary, entry.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  breakerMaxFailures,
			ResetTimeout: breakerResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider breaker state changed", "kind", kind, "name", name, "from", from, "to", to)
			},
		},
	})
	for i, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			return zero, fmt.Errorf("app: create %s fallback %d %q: %w", kind, i, fb.Name, err)
		}
		c.AddFallback(fb.Name, p)
		slog.Info("provider fallback created", "kind", kind, "name", fb.Name, "position", i+1)
	}
	wrapped, ok := any(c).(T)
	if !ok {
		return zero, fmt.Errorf("app: %s chain does not implement the provider interface", kind)
	}
	return wrapped, nil
}
