// Package app wires all dispatchvoice subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface, and Shutdown tears everything down
// in order.
//
// For testing, inject fakes via functional options (WithSource, WithPlayer,
// WithCallLog, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/dispatchvoice/internal/call"
	"github.com/MrWong99/dispatchvoice/internal/config"
	"github.com/MrWong99/dispatchvoice/internal/events"
	"github.com/MrWong99/dispatchvoice/internal/extract"
	"github.com/MrWong99/dispatchvoice/internal/health"
	mcpserver "github.com/MrWong99/dispatchvoice/internal/mcp"
	"github.com/MrWong99/dispatchvoice/internal/observe"
	"github.com/MrWong99/dispatchvoice/internal/resilience"
	"github.com/MrWong99/dispatchvoice/pkg/audio"
	"github.com/MrWong99/dispatchvoice/pkg/audio/capture"
	"github.com/MrWong99/dispatchvoice/pkg/audio/playback"
	"github.com/MrWong99/dispatchvoice/pkg/calllog"
	"github.com/MrWong99/dispatchvoice/pkg/calllog/memory"
	"github.com/MrWong99/dispatchvoice/pkg/calllog/postgres"
	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
	"github.com/MrWong99/dispatchvoice/pkg/provider/stt"
	"github.com/MrWong99/dispatchvoice/pkg/provider/tts"
	"github.com/MrWong99/dispatchvoice/pkg/provider/vad"
	"github.com/MrWong99/dispatchvoice/pkg/provider/vad/energy"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per remote stage. The fallbacks are
// optional; the rest are required. Populated by main.go via the config
// registry.
type Providers struct {
	STT         stt.Transcriber
	STTFallback stt.Transcriber
	Dialogue    dialogue.Client
	TTS         tts.Synthesizer
	TTSFallback tts.Synthesizer
}

// App is the top-level application. It owns all subsystems and their
// lifecycle.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injectable collaborators; defaults are built from cfg in New.
	source   audio.FrameSource
	player   audio.Player
	callLog  calllog.Store
	metrics  *observe.Metrics
	engine   *extract.Engine
	logLevel *slog.LevelVar
	version  string

	// Subsystems, initialised in New and torn down in Shutdown.
	detector  *swapDetector
	latest    *events.Latest
	recorder  *callRecorder
	hub       *events.Hub
	calls     *CallManager
	health    *health.Handler
	mcpServer *mcpsdk.Server
	server    *http.Server

	// Resilience wrappers, kept for readiness reporting.
	sttGroup   *resilience.STTFallback
	ttsGroup   *resilience.TTSFallback
	dlgBreaker *resilience.DialogueBreaker

	// closers release external resources after everything else stopped.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the capture source instead of the configured recorder
// or input file.
func WithSource(s audio.FrameSource) Option {
	return func(a *App) { a.source = s }
}

// WithPlayer injects the speech player instead of the configured sink
// command.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithCallLog injects the call log instead of creating one from config.
func WithCallLog(s calllog.Store) Option {
	return func(a *App) { a.callLog = s }
}

// WithMetrics injects the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithEngine injects the extraction engine. Defaults to [extract.Default].
func WithEngine(e *extract.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithLogLevel lets ApplyConfig adjust the log level at runtime.
func WithLogLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = l }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: call log connection, audio
// device selection, resilience wrapping of the providers, controller
// construction and HTTP routing. No call is started.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		latest:    &events.Latest{},
		health:    health.New(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.engine == nil {
		a.engine = extract.Default()
	}

	// ── 1. Call log ──────────────────────────────────────────────────────
	if err := a.initCallLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init call log: %w", err)
	}

	// ── 2. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.abort()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 3. Call controller ───────────────────────────────────────────────
	if err := a.initCalls(); err != nil {
		a.abort()
		return nil, fmt.Errorf("app: init calls: %w", err)
	}

	// ── 4. MCP tools ─────────────────────────────────────────────────────
	if err := a.initMCP(); err != nil {
		a.abort()
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	// ── 5. Readiness + HTTP ──────────────────────────────────────────────
	a.initHealth()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.routes()),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCallLog connects the PostgreSQL call log, or keeps calls in memory
// when no DSN is configured.
func (a *App) initCallLog(ctx context.Context) error {
	switch {
	case a.callLog != nil:
	case a.cfg.CallLog.PostgresDSN != "":
		store, err := postgres.NewStore(ctx, a.cfg.CallLog.PostgresDSN)
		if err != nil {
			return err
		}
		a.callLog = store
		a.health.Add(health.Checker{Name: "calllog", Check: store.Ping})
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("call log connected", "backend", "postgres")
	default:
		a.callLog = &memory.Store{}
		slog.Info("call log kept in memory; set calllog.postgres_dsn to persist calls")
	}
	a.recorder = newCallRecorder(a.callLog, 0)
	return nil
}

// initAudio selects the capture source, the player and the voice activity
// detector.
func (a *App) initAudio() error {
	ac := a.cfg.Audio
	if a.source == nil {
		if ac.InputFile != "" {
			a.source = &capture.File{Path: ac.InputFile, Realtime: ac.Realtime}
			slog.Info("capture replays a recording", "path", ac.InputFile, "realtime", ac.Realtime)
		} else {
			a.source = capture.NewCommand(ac.CaptureCommand)
		}
	}
	if a.player == nil {
		a.player = playback.New(playback.WithCommand(ac.PlaybackCommand))
	}
	d, err := newDetector(a.cfg.Segmenter)
	if err != nil {
		return err
	}
	a.detector = newSwapDetector(d)
	return nil
}

// initCalls builds the remote backend and the call controller, and the
// event hub that controls it.
func (a *App) initCalls() error {
	remote, err := a.buildRemote()
	if err != nil {
		return err
	}
	ctrl, err := call.New(CallConfig(a.cfg), call.Deps{
		Source:   a.source,
		Detector: a.detector,
		Remote:   remote,
		Player:   a.player,
		Engine:   a.engine,
		Sink:     events.Multi(a.latest, a.recorder, events.SinkFunc(a.broadcast)),
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}
	a.calls = NewCallManager(ctrl, a.cfg.Turn.TeardownTimeout+DefaultEndTimeout)
	a.hub = events.NewHub(
		events.WithController(a.calls),
		events.WithOriginPatterns(a.cfg.Server.OriginPatterns...),
	)
	return nil
}

// broadcast forwards events to socket clients. The hub is created right
// after the controller and before any call can start.
func (a *App) broadcast(e events.Event) { a.hub.Publish(e) }

// buildRemote wraps the providers in circuit breakers and fallback groups.
func (a *App) buildRemote() (*call.Remote, error) {
	p, pc := a.providers, a.cfg.Providers
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("no transcriber configured"))
	}
	if p.Dialogue == nil {
		errs = append(errs, errors.New("no dialogue backend configured"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("no speech synthesizer configured"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	fb := resilience.FallbackConfig{CircuitBreaker: a.breakerConfig("")}
	r := &call.Remote{
		STT:          p.STT,
		Dialogue:     p.Dialogue,
		TTS:          p.TTS,
		STTName:      pc.STT.Name,
		DialogueName: pc.Dialogue.Name,
		TTSName:      pc.TTS.Name,
		Language:     pc.STT.OptString("language"),
		Prompt:       pc.STT.OptString("prompt"),
		Metrics:      a.metrics,
	}
	if p.STTFallback != nil {
		a.sttGroup = resilience.NewSTTFallback(p.STT, "stt/"+label(pc.STT.Name), fb)
		a.sttGroup.AddFallback("stt/"+label(pc.STTFallback.Name), p.STTFallback)
		r.STT = a.sttGroup
		r.STTName = label(pc.STT.Name) + "+" + label(pc.STTFallback.Name)
	}
	if p.TTSFallback != nil {
		a.ttsGroup = resilience.NewTTSFallback(p.TTS, "tts/"+label(pc.TTS.Name), fb)
		a.ttsGroup.AddFallback("tts/"+label(pc.TTSFallback.Name), p.TTSFallback)
		r.TTS = a.ttsGroup
		r.TTSName = label(pc.TTS.Name) + "+" + label(pc.TTSFallback.Name)
	}
	a.dlgBreaker = resilience.NewDialogueBreaker(p.Dialogue, a.breakerConfig("dialogue/"+label(pc.Dialogue.Name)))
	r.Dialogue = a.dlgBreaker
	return r, nil
}

func (a *App) breakerConfig(name string) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name: name,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
}

// initMCP builds the MCP tool server when enabled.
func (a *App) initMCP() error {
	if !a.cfg.MCP.Enabled {
		return nil
	}
	srv, err := mcpserver.NewServer(mcpserver.Deps{
		Engine:    a.engine,
		Summaries: a.latest,
		Log:       a.callLog,
		Metrics:   a.metrics,
		Version:   a.version,
	})
	if err != nil {
		return err
	}
	a.mcpServer = srv
	slog.Info("mcp tools enabled", "path", a.cfg.MCP.Path)
	return nil
}

// initHealth registers the readiness checks that do not belong to a single
// init step.
func (a *App) initHealth() {
	a.health.Add(health.Checker{Name: "providers", Check: a.checkProviders})
}

// checkProviders fails while the dialogue breaker is open or every entry of
// a fallback group is open.
func (a *App) checkProviders(context.Context) error {
	var errs []error
	if a.dlgBreaker != nil && a.dlgBreaker.State() == resilience.StateOpen {
		errs = append(errs, errors.New("dialogue circuit open"))
	}
	if a.sttGroup != nil && allOpen(a.sttGroup.States()) {
		errs = append(errs, errors.New("all transcribers unavailable"))
	}
	if a.ttsGroup != nil && allOpen(a.ttsGroup.States()) {
		errs = append(errs, errors.New("all synthesizers unavailable"))
	}
	return errors.Join(errs...)
}

func allOpen(states map[string]resilience.State) bool {
	for _, s := range states {
		if s != resilience.StateOpen {
			return false
		}
	}
	return len(states) > 0
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Calls returns the call manager.
func (a *App) Calls() *CallManager { return a.calls }

// Handler returns the instrumented HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves HTTP until ctx is
// cancelled. When ctx is done, Run returns context.Canceled (or the
// underlying cause).
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. The listener is closed by Shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if t := a.cfg.Server.TLS; t != nil {
			errCh <- a.server.ServeTLS(ln, t.CertFile, t.KeyFile)
			return
		}
		errCh <- a.server.Serve(ln)
	}()

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
		"mcp", a.mcpServer != nil,
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig adopts a reloaded config. The log level and the detector
// threshold change immediately, segmenter timing and turn settings apply to
// the next call, and anything else is reported as needing a restart.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SegmenterChanged {
		det, err := newDetector(cfg.Segmenter)
		if err != nil {
			slog.Warn("reload: keeping previous detector", "err", err)
		} else {
			a.detector.Swap(det)
		}
	}
	if d.SegmenterChanged || d.TurnChanged {
		if err := a.calls.SetConfig(CallConfig(cfg)); err != nil {
			slog.Warn("reload: keeping previous call settings", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("reload: restart required for changed sections", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: the live call first so its
// final events still reach the call log, then the HTTP server and socket
// clients, then the call log. It respects the context deadline: if ctx
// expires before all steps finish, remaining steps are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		steps := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"call", a.calls.Stop},
			{"http", a.server.Shutdown},
			{"events", func(context.Context) error { return a.hub.Close() }},
			{"calllog", a.recorder.Close},
		}
		slog.Info("shutting down", "steps", len(steps)+len(a.closers))

		for i, s := range steps {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(steps)-i)
				shutdownErr = ctx.Err()
				a.closeResources()
				return
			default:
			}
			if err := s.fn(ctx); err != nil {
				slog.Warn("shutdown step failed", "step", s.name, "err", err)
			}
		}
		a.closeResources()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// abort releases what New acquired before a later step failed.
func (a *App) abort() {
	if a.recorder != nil {
		_ = a.recorder.Close(context.Background())
	}
	a.closeResources()
}

func (a *App) closeResources() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// CallConfig maps the file configuration onto the per-call settings. Empty
// messages keep the built-in text.
func CallConfig(cfg *config.Config) call.Config {
	c := call.DefaultConfig()
	c.Segment.Format = audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	c.Segment.FrameDuration = cfg.Audio.FrameDuration
	c.Segment.SilenceTimeout = cfg.Segmenter.SilenceTimeout
	c.Segment.MinUtterance = cfg.Segmenter.MinUtterance
	c.Segment.MaxUtterance = cfg.Segmenter.MaxUtterance
	c.PollInterval = cfg.Turn.PollInterval
	c.PollTimeout = cfg.Turn.PollTimeout
	if cfg.Turn.Greeting != "" {
		c.Greeting = cfg.Turn.Greeting
	}
	if cfg.Turn.Fallback != "" {
		c.Fallback = cfg.Turn.Fallback
	}
	if cfg.Turn.ShutdownNotice != "" {
		c.ShutdownNotice = cfg.Turn.ShutdownNotice
	}
	c.TempParent = cfg.Turn.TempDir
	if cfg.Turn.TeardownTimeout > 0 {
		c.TeardownTimeout = cfg.Turn.TeardownTimeout
	}
	return c
}

// SlogLevel converts a config log level to a [slog.Level].
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newDetector(sc config.SegmenterConfig) (*energy.Detector, error) {
	m, ok := vad.ParseMetric(sc.Metric)
	if !ok {
		return nil, fmt.Errorf("unknown energy metric %q", sc.Metric)
	}
	return energy.New(sc.Threshold, energy.WithMetric(m)), nil
}

func label(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
