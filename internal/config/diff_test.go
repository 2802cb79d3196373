package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Providers.TTS = config.ProviderEntry{Name: "openai", Options: map[string]any{"voice": "shimmer"}}
	return cfg
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("diff of equal configs = %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Server.LogLevel = config.LogDebug
	cur.Segmenter.SilenceTimeout = 2 * time.Second
	cur.Turn.Greeting = "Emergency services."

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.SegmenterChanged || !d.TurnChanged {
		t.Errorf("segmenter/turn diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Server.ListenAddr = ":9999"
	cur.Providers.TTS.Options["voice"] = "nova"
	cur.CallLog.PostgresDSN = "postgres://db"
	cur.Audio.CaptureCommand = []string{"parec"}

	d := config.Diff(old, cur)
	want := []string{"server", "audio", "providers", "calllog"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged || d.SegmenterChanged || d.TurnChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}
