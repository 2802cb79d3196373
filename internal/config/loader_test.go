package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  origin_patterns: ["dispatch.example.com"]
audio:
  sample_rate: 16000
  channels: 1
  frame_duration: 20ms
  capture_command: ["parec", "--raw"]
segmenter:
  threshold: 900
  metric: rms
  silence_timeout: 1s
  min_utterance: 100ms
  max_utterance: 30s
turn:
  poll_interval: 250ms
  poll_timeout: 20s
  greeting: "Emergency services."
providers:
  stt:
    name: openai
  stt_fallback:
    name: whisper
    base_url: http://localhost:9000
  dialogue:
    name: openai
    options:
      assistant_id: asst_123
  tts:
    name: openai
    options:
      voice: nova
      speed: 1.25
calllog:
  postgres_dsn: postgres://localhost/dispatch
mcp:
  enabled: true
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio.FrameDuration != 20*time.Millisecond || len(cfg.Audio.CaptureCommand) != 2 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Segmenter.SilenceTimeout != time.Second || cfg.Segmenter.Metric != "rms" || cfg.Segmenter.MaxUtterance != 30*time.Second {
		t.Errorf("segmenter = %+v", cfg.Segmenter)
	}
	if cfg.Turn.PollInterval != 250*time.Millisecond || cfg.Turn.Greeting != "Emergency services." {
		t.Errorf("turn = %+v", cfg.Turn)
	}
	if got := cfg.Providers.Dialogue.OptString("assistant_id"); got != "asst_123" {
		t.Errorf("assistant_id = %q", got)
	}
	if v, ok := cfg.Providers.TTS.OptFloat("speed"); !ok || v != 1.25 {
		t.Errorf("speed = %v, %v", v, ok)
	}
	if !cfg.MCP.Enabled || cfg.MCP.Path != config.DefaultMCPPath {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
	// Defaults survive for fields the file leaves out.
	if cfg.Turn.TeardownTimeout != config.DefaultTeardownTimeout {
		t.Errorf("teardown timeout = %v", cfg.Turn.TeardownTimeout)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	want := config.Config{}
	config.ApplyDefaults(&want)
	if cfg.Server.ListenAddr != want.Server.ListenAddr || cfg.Segmenter != want.Segmenter || cfg.Turn != want.Turn {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Turn.PollInterval != 500*time.Millisecond || cfg.Turn.PollTimeout != 30*time.Second {
		t.Errorf("poll = %v / %v", cfg.Turn.PollInterval, cfg.Turn.PollTimeout)
	}
	if cfg.Segmenter.SilenceTimeout != 1500*time.Millisecond || cfg.Audio.SampleRate != 16000 {
		t.Errorf("segmenter = %+v, audio = %+v", cfg.Segmenter, cfg.Audio)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("turn:\n  poll_intervall: 1s\n"))
	if err == nil || !strings.Contains(err.Error(), "poll_intervall") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "log level",
			yaml: "server:\n  log_level: bananas\n",
			want: []string{"server.log_level"},
		},
		{
			name: "poll bounds",
			yaml: "turn:\n  poll_interval: 2s\n  poll_timeout: 1s\n",
			want: []string{"turn.poll_timeout"},
		},
		{
			name: "segmenter",
			yaml: "segmenter:\n  metric: peak\n  min_utterance: 2s\n  max_utterance: 1s\n",
			want: []string{"segmenter.metric", "segmenter.max_utterance"},
		},
		{
			name: "assistant id",
			yaml: "providers:\n  dialogue:\n    name: openai\n",
			want: []string{"assistant_id"},
		},
		{
			name: "anyllm",
			yaml: "providers:\n  dialogue:\n    name: anyllm\n",
			want: []string{"options.backend"},
		},
		{
			name: "fallback without primary",
			yaml: "providers:\n  tts_fallback:\n    name: coqui\n    base_url: http://coqui\n",
			want: []string{"tts_fallback requires providers.tts"},
		},
		{
			name: "base url",
			yaml: "providers:\n  stt:\n    name: whisper\n",
			want: []string{"providers.stt: whisper requires base_url"},
		},
		{
			name: "tls",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: []string{"server.tls"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestApplyEnv_OpenAIKey(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Providers.STT = config.ProviderEntry{Name: "openai"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "openai", APIKey: "explicit"}
	cfg.Providers.STTFallback = config.ProviderEntry{Name: "whisper"}

	config.ApplyEnv(cfg, func(k string) string {
		if k == config.EnvOpenAIKey {
			return "sk-env"
		}
		return ""
	})
	if cfg.Providers.STT.APIKey != "sk-env" {
		t.Errorf("stt key = %q, want from env", cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.TTS.APIKey != "explicit" {
		t.Errorf("tts key = %q, explicit key must win", cfg.Providers.TTS.APIKey)
	}
	if cfg.Providers.STTFallback.APIKey != "" {
		t.Error("non-openai entry received the key")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}
