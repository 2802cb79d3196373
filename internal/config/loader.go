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

// EnvOpenAIKey supplies the API key of every "openai" provider entry that
// does not set one.
const EnvOpenAIKey = "OPENAI_API_KEY"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"openai", "whisper"},
	"dialogue": {"openai", "anyllm"},
	"tts":      {"openai", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and the
// environment overrides, and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.FrameDuration == 0 {
		cfg.Audio.FrameDuration = DefaultFrameDuration
	}
	if cfg.Segmenter.Threshold == 0 {
		cfg.Segmenter.Threshold = DefaultThreshold
	}
	if cfg.Segmenter.SilenceTimeout == 0 {
		cfg.Segmenter.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.Segmenter.MinUtterance == 0 {
		cfg.Segmenter.MinUtterance = DefaultMinUtterance
	}
	if cfg.Turn.PollInterval == 0 {
		cfg.Turn.PollInterval = DefaultPollInterval
	}
	if cfg.Turn.PollTimeout == 0 {
		cfg.Turn.PollTimeout = DefaultPollTimeout
	}
	if cfg.Turn.TeardownTimeout == 0 {
		cfg.Turn.TeardownTimeout = DefaultTeardownTimeout
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

// ApplyEnv copies [EnvOpenAIKey] into every "openai" provider entry without
// an API key. getenv is usually [os.Getenv].
func ApplyEnv(cfg *Config, getenv func(string) string) {
	key := getenv(EnvOpenAIKey)
	if key == "" {
		return
	}
	for _, e := range cfg.Providers.entries() {
		if e.entry.Name == "openai" && e.entry.APIKey == "" {
			e.entry.APIKey = key
		}
	}
}

type namedEntry struct {
	kind  string
	field string
	entry *ProviderEntry
}

func (p *ProvidersConfig) entries() []namedEntry {
	return []namedEntry{
		{"stt", "stt", &p.STT},
		{"stt", "stt_fallback", &p.STTFallback},
		{"dialogue", "dialogue", &p.Dialogue},
		{"tts", "tts", &p.TTS},
		{"tts", "tts_fallback", &p.TTSFallback},
	}
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

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration %v must be positive", cfg.Audio.FrameDuration))
	}

	// Segmenter
	seg := cfg.Segmenter
	if seg.Threshold < 0 {
		errs = append(errs, fmt.Errorf("segmenter.threshold %.1f must not be negative", seg.Threshold))
	}
	if seg.Metric != "" && seg.Metric != "mean_abs" && seg.Metric != "rms" {
		errs = append(errs, fmt.Errorf("segmenter.metric %q is invalid; valid values: mean_abs, rms", seg.Metric))
	}
	if seg.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("segmenter.silence_timeout %v must be positive", seg.SilenceTimeout))
	}
	if seg.MinUtterance < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_utterance %v must not be negative", seg.MinUtterance))
	}
	if seg.MaxUtterance != 0 && seg.MaxUtterance < seg.MinUtterance {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance %v is below min_utterance %v", seg.MaxUtterance, seg.MinUtterance))
	}

	// Turn
	if cfg.Turn.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("turn.poll_interval %v must be positive", cfg.Turn.PollInterval))
	}
	if cfg.Turn.PollTimeout < cfg.Turn.PollInterval {
		errs = append(errs, fmt.Errorf("turn.poll_timeout %v is below poll_interval %v", cfg.Turn.PollTimeout, cfg.Turn.PollInterval))
	}
	if cfg.Turn.TeardownTimeout < 0 {
		errs = append(errs, fmt.Errorf("turn.teardown_timeout %v must not be negative", cfg.Turn.TeardownTimeout))
	}

	// Providers
	for _, e := range cfg.Providers.entries() {
		validateProviderName(e.kind, e.entry.Name)
	}
	if !cfg.Providers.STT.Configured() && cfg.Providers.STTFallback.Configured() {
		errs = append(errs, errors.New("providers.stt_fallback requires providers.stt"))
	}
	if !cfg.Providers.TTS.Configured() && cfg.Providers.TTSFallback.Configured() {
		errs = append(errs, errors.New("providers.tts_fallback requires providers.tts"))
	}
	if d := cfg.Providers.Dialogue; d.Name == "openai" && optString(d.Options, "assistant_id") == "" {
		errs = append(errs, errors.New("providers.dialogue: openai requires options.assistant_id"))
	}
	if d := cfg.Providers.Dialogue; d.Name == "anyllm" && (optString(d.Options, "backend") == "" || d.Model == "") {
		errs = append(errs, errors.New("providers.dialogue: anyllm requires options.backend and model"))
	}
	for _, e := range cfg.Providers.entries() {
		if (e.entry.Name == "whisper" || e.entry.Name == "coqui") && e.entry.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.%s: %s requires base_url", e.field, e.entry.Name))
		}
	}

	// Provider availability warnings
	if !cfg.Providers.STT.Configured() || !cfg.Providers.Dialogue.Configured() || !cfg.Providers.TTS.Configured() {
		slog.Warn("providers.stt, providers.dialogue and providers.tts are all required to take calls")
	}
	if cfg.CallLog.PostgresDSN == "" {
		slog.Debug("calllog.postgres_dsn is empty; call logs are kept in memory")
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptString returns the string option key of e, or "".
func (e ProviderEntry) OptString(key string) string { return optString(e.Options, key) }

// OptFloat returns the numeric option key of e. YAML integers are accepted.
func (e ProviderEntry) OptFloat(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
