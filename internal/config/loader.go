package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/toecm/pureconvo/internal/variant"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "openai"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", *r))
	}

	// Gateway
	mode := cfg.Gateway.Mode
	if mode != "" && !mode.IsValid() {
		errs = append(errs, fmt.Errorf("gateway.mode %q is invalid; valid values: remote, direct, failover", mode))
	}
	mode = cfg.Mode()
	if mode.NeedsRemote() {
		if cfg.Gateway.URL == "" {
			errs = append(errs, fmt.Errorf("gateway.url is required when gateway.mode is %s", mode))
		} else if u, err := url.Parse(cfg.Gateway.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("gateway.url %q must be a ws:// or wss:// address", cfg.Gateway.URL))
		}
	}
	if cfg.Gateway.Timeout < 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout %s must not be negative", cfg.Gateway.Timeout))
	}
	if t := cfg.Gateway.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("gateway.temperature %.2f is out of range [0, 2]", t))
	}

	// Provider name validation: warn for unknown provider names.
	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
	} {
		kind, entry := p.kind, p.entry
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			if entry.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks needs a primary providers.%s.name", kind, kind))
				break
			}
			validateProviderName(kind, fb.Name)
		}
	}

	// Direct backend building blocks
	if mode.NeedsDirect() {
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, fmt.Errorf("gateway.mode %s requires providers.stt", mode))
		}
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, fmt.Errorf("gateway.mode %s requires providers.llm", mode))
		}
		if cfg.Ledger.PostgresDSN == "" {
			slog.Warn("ledger.postgres_dsn is empty; contributions to the direct backend are kept in memory only")
		}
	}
	if a := cfg.Ledger.Archive; a != nil {
		if a.Endpoint == "" {
			errs = append(errs, errors.New("ledger.archive.endpoint is required"))
		}
		if a.Bucket == "" {
			errs = append(errs, errors.New("ledger.archive.bucket is required"))
		}
	}

	// Voice output
	if cfg.Providers.TTS.Name == "" && servesVariant(cfg, variant.NameActiveListener) {
		slog.Warn("providers.tts is not configured; the active listener can only reply in text")
	}

	// Storage
	if cfg.Storage.Path == "" {
		slog.Warn("storage.path is empty; session state will not survive a restart")
	}

	// Dialects
	seen := make(map[string]int, len(cfg.Dialects.Builtin))
	for i, name := range cfg.Dialects.Builtin {
		prefix := fmt.Sprintf("dialects.builtin[%d]", i)
		name = strings.TrimSpace(name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", prefix))
			continue
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of dialects.builtin[%d]", prefix, name, prev))
		}
		seen[name] = i
	}

	// Session
	if cfg.Session.DoneDelay < 0 {
		errs = append(errs, fmt.Errorf("session.done_delay %s must not be negative", cfg.Session.DoneDelay))
	}
	for i, name := range cfg.Session.Variants {
		if _, ok := variant.Lookup(name); !ok {
			errs = append(errs, fmt.Errorf("session.variants[%d] %q is not a known variant", i, name))
		}
	}

	return errors.Join(errs...)
}

// servesVariant reports whether the variant named name is enabled.
func servesVariant(cfg *Config, name string) bool {
	return len(cfg.Session.Variants) == 0 || slices.Contains(cfg.Session.Variants, name)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
