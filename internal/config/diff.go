package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DialectsChanged bool
	NewDialects     []string

	// RestartRequired lists sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// IsEmpty reports whether nothing relevant changed.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.DialectsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.BuiltinDialects(), new.BuiltinDialects()) {
		d.DialectsChanged = true
		d.NewDialects = slices.Clone(new.BuiltinDialects())
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalPtr(old.Server.TLS, new.Server.TLS) ||
		!equalPtr(old.Server.TraceSampleRatio, new.Server.TraceSampleRatio) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalGateway(old.Gateway, new.Gateway) {
		d.RestartRequired = append(d.RestartRequired, "gateway")
	}
	if !equalEntry(old.Providers.STT, new.Providers.STT) ||
		!equalEntry(old.Providers.LLM, new.Providers.LLM) ||
		!equalEntry(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Ledger.PostgresDSN != new.Ledger.PostgresDSN || !equalPtr(old.Ledger.Archive, new.Ledger.Archive) {
		d.RestartRequired = append(d.RestartRequired, "ledger")
	}
	if old.Session.Admin != new.Session.Admin || old.Session.DoneDelay != new.Session.DoneDelay ||
		!slices.Equal(old.Session.Variants, new.Session.Variants) {
		d.RestartRequired = append(d.RestartRequired, "session")
	}

	return d
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalGateway(a, b GatewayConfig) bool {
	return a.Mode == b.Mode && a.URL == b.URL && a.Timeout == b.Timeout &&
		a.Temperature == b.Temperature && maps.Equal(a.Headers, b.Headers)
}

// equalEntry ignores Options, which are provider-specific and compared by
// the provider itself if at all.
func equalEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model &&
		slices.EqualFunc(a.Fallbacks, b.Fallbacks, equalEntry)
}
