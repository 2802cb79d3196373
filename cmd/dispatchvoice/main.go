// Command dispatchvoice is the entry point for the emergency dispatch voice
// agent. It answers one call at a time on the local microphone and speaker
// and serves the control API, the live event socket and the MCP tools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/dispatchvoice/internal/app"
	"github.com/MrWong99/dispatchvoice/internal/config"
	"github.com/MrWong99/dispatchvoice/internal/observe"
	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue/anyllm"
	oadialogue "github.com/MrWong99/dispatchvoice/pkg/provider/dialogue/openai"
	"github.com/MrWong99/dispatchvoice/pkg/provider/stt"
	oastt "github.com/MrWong99/dispatchvoice/pkg/provider/stt/openai"
	"github.com/MrWong99/dispatchvoice/pkg/provider/stt/whisper"
	"github.com/MrWong99/dispatchvoice/pkg/provider/tts"
	"github.com/MrWong99/dispatchvoice/pkg/provider/tts/coqui"
	oatts "github.com/MrWong99/dispatchvoice/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "", "replay a WAV or raw PCM file as one call, then exit")
	realtime := flag.Bool("realtime", false, "with -input, pace the replay at capture speed")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("dispatchvoice", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dispatchvoice: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dispatchvoice: %v\n", err)
		}
		return 1
	}
	if *inputPath != "" {
		cfg.Audio.InputFile = *inputPath
		cfg.Audio.Realtime = *realtime
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("dispatchvoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(&level),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if *inputPath != "" {
		go replay(runCtx, application, cancelRun)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// replay runs one call over the input file and stops the server when the
// recording has been consumed.
func replay(ctx context.Context, a *app.App, done context.CancelFunc) {
	defer done()
	info, err := a.Calls().Start(ctx)
	if err != nil {
		slog.Error("replay: start call", "err", err)
		return
	}
	slog.Info("replay: call started", "call_id", info.CallID)
	if err := a.Calls().Wait(); err != nil {
		slog.Error("replay: call ended with error", "call_id", info.CallID, "err", err)
	}
	final := a.Calls().Info()
	slog.Info("replay: final summary",
		"call_id", final.CallID,
		"category", final.Summary.Category,
		"problem", final.Summary.Problem,
		"address", final.Summary.DisplayAddress,
		"victim_status", final.Summary.VictimStatus,
		"key_details", final.Summary.KeyDetails,
		"units", final.Summary.Units,
	)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.OptString("prompt"); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		if d := optDuration(entry, "timeout"); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	// whisper is a self-hosted whisper.cpp server; it uses BaseURL for the
	// address, not an API key.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── Dialogue ──────────────────────────────────────────────────────────────

	reg.RegisterDialogue("openai", func(entry config.ProviderEntry) (dialogue.Client, error) {
		var opts []oadialogue.Option
		if entry.BaseURL != "" {
			opts = append(opts, oadialogue.WithBaseURL(entry.BaseURL))
		}
		if s := entry.OptString("instructions"); s != "" {
			opts = append(opts, oadialogue.WithInstructions(s))
		}
		if d := optDuration(entry, "timeout"); d > 0 {
			opts = append(opts, oadialogue.WithTimeout(d))
		}
		return oadialogue.New(entry.APIKey, entry.OptString("assistant_id"), opts...)
	})

	// anyllm runs the dialogue on any chat-completions backend supported by
	// any-llm-go, keeping the thread history locally.
	reg.RegisterDialogue("anyllm", func(entry config.ProviderEntry) (dialogue.Client, error) {
		var llmOpts []anyllmlib.Option
		if entry.APIKey != "" {
			llmOpts = append(llmOpts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			llmOpts = append(llmOpts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		opts := []anyllm.Option{anyllm.WithLLMOptions(llmOpts...)}
		if s := entry.OptString("system_prompt"); s != "" {
			opts = append(opts, anyllm.WithSystemPrompt(s))
		}
		if t, ok := entry.OptFloat("temperature"); ok {
			opts = append(opts, anyllm.WithTemperature(t))
		}
		if n, ok := entry.OptFloat("max_tokens"); ok {
			opts = append(opts, anyllm.WithMaxTokens(int(n)))
		}
		if d := optDuration(entry, "run_timeout"); d > 0 {
			opts = append(opts, anyllm.WithRunTimeout(d))
		}
		return anyllm.New(entry.OptString("backend"), entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, oatts.WithVoice(v))
		}
		if s, ok := entry.OptFloat("speed"); ok {
			opts = append(opts, oatts.WithSpeed(s))
		}
		if d := optDuration(entry, "timeout"); d > 0 {
			opts = append(opts, oatts.WithTimeout(d))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if sp := entry.OptString("speaker"); sp != "" {
			opts = append(opts, coqui.WithSpeaker(sp))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"stt", "dialogue", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error
	if ps.STT, err = create(reg.CreateSTT, "stt", cfg.Providers.STT); err != nil {
		return nil, err
	}
	if ps.STTFallback, err = create(reg.CreateSTT, "stt_fallback", cfg.Providers.STTFallback); err != nil {
		return nil, err
	}
	if ps.Dialogue, err = create(reg.CreateDialogue, "dialogue", cfg.Providers.Dialogue); err != nil {
		return nil, err
	}
	if ps.TTS, err = create(reg.CreateTTS, "tts", cfg.Providers.TTS); err != nil {
		return nil, err
	}
	if ps.TTSFallback, err = create(reg.CreateTTS, "tts_fallback", cfg.Providers.TTSFallback); err != nil {
		return nil, err
	}
	return ps, nil
}

// create builds one provider slot. An empty entry leaves the slot nil.
func create[T any](factory func(config.ProviderEntry) (T, error), slot string, entry config.ProviderEntry) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := factory(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", slot, entry.Name, err)
	}
	slog.Info("provider created", "slot", slot, "name", entry.Name)
	return p, nil
}

// optDuration parses a duration option such as "30s". Invalid values are
// logged and ignored.
func optDuration(entry config.ProviderEntry, key string) time.Duration {
	s := entry.OptString(key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "provider", entry.Name, "key", key, "value", s)
		return 0
	}
	return d
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      dispatchvoice startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("STT fallback", cfg.Providers.STTFallback.Name, cfg.Providers.STTFallback.Model)
	printProvider("Dialogue", cfg.Providers.Dialogue.Name, cfg.Providers.Dialogue.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("TTS fallback", cfg.Providers.TTSFallback.Name, cfg.Providers.TTSFallback.Model)
	if cfg.Audio.InputFile != "" {
		printRow("Capture", "file replay")
	} else {
		printRow("Capture", "microphone")
	}
	if cfg.CallLog.PostgresDSN != "" {
		printRow("Call log", "postgres")
	} else {
		printRow("Call log", "in memory")
	}
	if cfg.MCP.Enabled {
		printRow("MCP tools", cfg.MCP.Path)
	} else {
		printRow("MCP tools", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}
