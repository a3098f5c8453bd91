package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the log level
// takes effect immediately, while tool and session-default changes apply to
// sessions created after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ToolsChanged is true when the enabled tool list changed.
	ToolsChanged    bool
	NewEnabledTools []string

	// DefaultsChanged is true when any per-session default changed.
	DefaultsChanged bool
}

// HasChanges reports whether the diff carries anything to apply.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.ToolsChanged || d.DefaultsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; server
// address, TLS, and model service settings require one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Tools.Enabled, new.Tools.Enabled) {
		d.ToolsChanged = true
		d.NewEnabledTools = slices.Clone(new.Tools.Enabled)
	}

	if old.Defaults != new.Defaults {
		d.DefaultsChanged = true
	}

	return d
}
