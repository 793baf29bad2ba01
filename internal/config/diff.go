package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; transport,
// provider, and store changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GenerationChanged is true when the system prompt, temperature, token
	// cap, or voice changed.
	GenerationChanged bool

	// FusionChanged is true when the turn-fusion strategy or debounce
	// windows changed.
	FusionChanged bool

	// VADChanged is true when either detection profile changed.
	VADChanged bool

	// PlaybackChanged is true when the scheduling safety margin changed.
	PlaybackChanged bool
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.GenerationChanged || d.FusionChanged ||
		d.VADChanged || d.PlaybackChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Generation != new.Generation {
		d.GenerationChanged = true
	}
	if old.Fusion != new.Fusion {
		d.FusionChanged = true
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
	}
	if old.Playback != new.Playback {
		d.PlaybackChanged = true
	}

	return d
}
