package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/toecm/pureconvo/pkg/provider/llm"
	"github.com/toecm/pureconvo/pkg/provider/stt"
	"github.com/toecm/pureconvo/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when no factory is registered under
// the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to factories for the three provider slots
// the self-hosted backend and the spoken replies draw on. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]Factory[stt.Provider]
	llm map[string]Factory[llm.Provider]
	tts map[string]Factory[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]Factory[stt.Provider]),
		llm: make(map[string]Factory[llm.Provider]),
		tts: make(map[string]Factory[tts.Provider]),
	}
}

// RegisterSTT registers a transcription factory. A later registration under
// the same name replaces the earlier one.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	register(r, r.stt, name, f)
}

// RegisterLLM registers a model factory used for clarification and missions.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	register(r, r.llm, name, f)
}

// RegisterTTS registers a speech factory used for spoken replies.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	register(r, r.tts, name, f)
}

// CreateSTT builds the transcription provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateLLM builds the model provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateTTS builds the speech provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// Registered returns the sorted factory names for kind ("stt", "llm" or
// "tts"), or nil for an unknown kind.
func (r *Registry) Registered(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts))
	}
	return nil
}

func register[T any](r *Registry, factories map[string]Factory[T], name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	factories[name] = f
}

func create[T any](r *Registry, factories map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
