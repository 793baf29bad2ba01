package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "mistral", "groq"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs", "coqui"},
	"vad": {"energy", "silero"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
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
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for _, entry := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", entry.Name)
	}
	for _, entry := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", entry.Name)
	}
	for _, entry := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", entry.Name)
	}

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; the engine cannot generate responses")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; turn detection will rely on VAD alone")
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; conversation turns will only be kept in memory")
	}

	// VAD profiles
	errs = append(errs, validateVADProfile("vad.normal", cfg.VAD.Normal)...)
	errs = append(errs, validateVADProfile("vad.barge_in", cfg.VAD.BargeIn)...)

	// Fusion
	if cfg.Fusion.Strategy != "" && !cfg.Fusion.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("fusion.strategy %q is invalid; valid values: hybrid, transcript-primary", cfg.Fusion.Strategy))
	}
	if cfg.Fusion.StartDelayMs > cfg.Fusion.EndDelayMs {
		errs = append(errs, fmt.Errorf("fusion.start_delay_ms %d exceeds fusion.end_delay_ms %d", cfg.Fusion.StartDelayMs, cfg.Fusion.EndDelayMs))
	}

	// Generation
	if t := cfg.Generation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", t))
	}
	if sf := cfg.Generation.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("generation.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	// Transcription
	if cfg.Transcription.EndpointingMs < 0 {
		errs = append(errs, fmt.Errorf("transcription.endpointing_ms %d is negative", cfg.Transcription.EndpointingMs))
	}

	return errors.Join(errs...)
}

// validateVADProfile checks one hysteresis profile for coherent thresholds.
func validateVADProfile(prefix string, p VADProfile) []error {
	var errs []error
	if p.PositiveThreshold < 0 || p.PositiveThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s.positive_threshold %.2f is out of range [0, 1]", prefix, p.PositiveThreshold))
	}
	if p.NegativeThreshold < 0 || p.NegativeThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s.negative_threshold %.2f is out of range [0, 1]", prefix, p.NegativeThreshold))
	}
	if p.NegativeThreshold > p.PositiveThreshold {
		errs = append(errs, fmt.Errorf("%s.negative_threshold %.2f exceeds positive_threshold %.2f", prefix, p.NegativeThreshold, p.PositiveThreshold))
	}
	return errs
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
