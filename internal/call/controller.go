// Package call runs a single dispatch call: it captures microphone frames,
// cuts them into utterances, and answers each utterance through the remote
// transcription, dialogue and speech services while keeping an emergency
// summary of what the caller said.
//
// A call runs two goroutines under an errgroup:
//
//   - capture reads frames, feeds the segmenter and queues finished
//     utterances. It never performs remote I/O and never waits on a turn.
//   - turns plays the greeting, then answers queued utterances one at a
//     time in arrival order.
//
// Any turn failure except a capture device failure is answered with the
// fallback message and the call keeps listening. A device failure ends the
// call after a best-effort shutdown notice.
package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dispatchvoice/internal/events"
	"github.com/MrWong99/dispatchvoice/internal/extract"
	"github.com/MrWong99/dispatchvoice/internal/observe"
	"github.com/MrWong99/dispatchvoice/internal/segment"
	"github.com/MrWong99/dispatchvoice/pkg/audio"
	"github.com/MrWong99/dispatchvoice/pkg/provider/vad"
)

// Deps are the collaborators of a [Controller].
type Deps struct {
	Source   audio.FrameSource
	Detector vad.Detector
	Remote   *Remote
	Player   audio.Player

	// Engine defaults to [extract.Default].
	Engine *extract.Engine

	// Sink defaults to [events.Discard].
	Sink events.Sink

	// Metrics may be nil.
	Metrics *observe.Metrics
}

func (d Deps) validate() error {
	var errs []error
	if d.Source == nil {
		errs = append(errs, errors.New("call: frame source is required"))
	}
	if d.Detector == nil {
		errs = append(errs, errors.New("call: detector is required"))
	}
	if d.Player == nil {
		errs = append(errs, errors.New("call: player is required"))
	}
	if d.Remote == nil {
		errs = append(errs, errors.New("call: remote is required"))
	} else if err := d.Remote.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Controller owns at most one live call. All exported methods are safe for
// concurrent use.
type Controller struct {
	deps Deps

	mu   sync.Mutex
	cfg  Config
	sess *Session
}

// New validates cfg and deps and returns an idle Controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := errors.Join(cfg.Validate(), deps.validate()); err != nil {
		return nil, err
	}
	if deps.Engine == nil {
		deps.Engine = extract.Default()
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard
	}
	return &Controller{deps: deps, cfg: cfg}, nil
}

// Config returns the configuration the next call will use.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig replaces the configuration for subsequent calls.
func (c *Controller) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// Current returns the live or most recent session, or nil before the first
// call.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Active reports whether a call is in progress.
func (c *Controller) Active() bool {
	s := c.Current()
	return s != nil && s.Active()
}

// StartCall opens the capture stream and the dialogue thread and starts the
// call in the background. ctx bounds the setup only; the call runs until
// [Controller.EndCall] or a device failure.
func (c *Controller) StartCall(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		select {
		case <-c.sess.done:
		default:
			return nil, ErrCallActive
		}
	}
	cfg := c.cfg

	segCfg := cfg.Segment
	if m := c.deps.Metrics; m != nil {
		prev := segCfg.OnDiscard
		segCfg.OnDiscard = func(d time.Duration) {
			m.RecordUtterance(context.Background(), false)
			if prev != nil {
				prev(d)
			}
		}
	}
	seg, err := segment.New(segCfg, c.deps.Detector)
	if err != nil {
		return nil, err
	}

	dir, err := NewTempDir(cfg.TempParent, "dispatchvoice-")
	if err != nil {
		return nil, err
	}
	thread, err := c.deps.Remote.OpenThread(ctx)
	if err != nil {
		_ = dir.Remove()
		return nil, err
	}
	stream, err := c.deps.Source.Open(ctx, segCfg.Format, cfg.FrameSamples())
	if err != nil {
		_ = dir.Remove()
		c.closeThread(ctx, cfg, thread)
		return nil, &DeviceError{Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		cfg:       cfg,
		thread:    thread,
		dir:       dir,
		stream:    stream,
		seg:       seg,
		queue:     newUtteranceQueue(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.inProgress.Store(true)
	c.sess = s

	if m := c.deps.Metrics; m != nil {
		m.ActiveCalls.Add(ctx, 1)
	}
	slog.Info("call: started", "call_id", s.id, "thread", thread, "temp_dir", dir.Path())
	c.deps.Sink.Publish(events.Lifecycle(events.TypeCallStarted, s.id, ""))

	go c.run(runCtx, s)
	return s, nil
}

// EndCall ends the live call and waits for it to be torn down. It flips the
// in-progress flag and closes the capture stream; an in-flight remote request
// is allowed to finish unless ctx expires first, in which case it is
// cancelled. The returned error reports teardown failures only.
//
// EndCall must not be called from an [events.Sink] of the same controller.
func (c *Controller) EndCall(ctx context.Context) error {
	s := c.Current()
	if s == nil || !s.inProgress.CompareAndSwap(true, false) {
		return ErrNoCall
	}
	slog.Info("call: ending", "call_id", s.id)
	if err := s.stream.Close(); err != nil {
		slog.Debug("call: close capture stream", "call_id", s.id, "err", err)
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		slog.Warn("call: end timed out, cancelling in-flight requests", "call_id", s.id)
		s.cancel()
		<-s.done
	}
	return s.cleanupErr
}

// Wait blocks until the current call has been torn down and returns the
// error that ended it, if any.
func (c *Controller) Wait() error {
	s := c.Current()
	if s == nil {
		return nil
	}
	<-s.done
	return s.err
}

func (c *Controller) run(ctx context.Context, s *Session) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.capture(gctx, s) })
	g.Go(func() error { return c.turns(gctx, s) })
	err := g.Wait()
	c.teardown(ctx, s, err)
}

// capture pumps frames into the segmenter until the call ends, the stream
// ends or the device fails.
func (c *Controller) capture(ctx context.Context, s *Session) error {
	defer s.queue.Close()
	for s.inProgress.Load() {
		frame, err := s.stream.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				if u, ok := s.seg.Flush(); ok {
					c.enqueue(ctx, s, u)
				}
				slog.Info("call: capture stream ended", "call_id", s.id)
				return nil
			case !s.inProgress.Load() || errors.Is(err, audio.ErrStreamClosed) || ctx.Err() != nil:
				return nil
			default:
				s.seg.Reset()
				return &DeviceError{Err: err}
			}
		}
		if u, ok := s.seg.Feed(frame); ok {
			c.enqueue(ctx, s, u)
		}
	}
	return nil
}

func (c *Controller) enqueue(ctx context.Context, s *Session, u audio.Utterance) {
	if m := c.deps.Metrics; m != nil {
		m.RecordUtterance(ctx, true)
	}
	slog.Debug("call: utterance queued", "call_id", s.id, "duration", u.Duration(), "queued", s.queue.Len()+1)
	s.queue.Push(u)
}

// turns greets the caller, then answers queued utterances in order.
func (c *Controller) turns(ctx context.Context, s *Session) error {
	if err := c.speak(ctx, s, s.cfg.Greeting); err != nil && ctx.Err() == nil {
		slog.Warn("call: greeting failed", "call_id", s.id, "err", err)
	}
	for {
		u, ok := s.queue.Pop(ctx)
		if !ok || !s.inProgress.Load() {
			return nil
		}
		c.turn(ctx, s, u)
	}
}

func (c *Controller) turn(ctx context.Context, s *Session, u audio.Utterance) {
	start := time.Now()
	ctx, span := observe.StartTurnSpan(ctx, s.id)
	log := observe.Logger(ctx).With("call_id", s.id)
	err := c.handle(ctx, s, u)
	m := c.deps.Metrics

	switch {
	case err == nil:
		observe.EndSpan(span, nil)
		if m != nil {
			m.TurnDuration.Record(ctx, time.Since(start).Seconds())
		}
	case errors.Is(err, ErrEmptyTranscript):
		observe.EndSpan(span, nil)
		log.Debug("call: dropped empty transcript", "duration", u.Duration())
	case errors.Is(err, ErrCallEnded) || ctx.Err() != nil:
		observe.EndSpan(span, nil)
		log.Debug("call: turn abandoned", "err", err)
	default:
		observe.EndSpan(span, err)
		log.Warn("call: turn failed, playing fallback", "err", err)
		if m != nil {
			m.RecordFallback(ctx, fallbackReason(err))
		}
		if ferr := c.speak(ctx, s, s.cfg.Fallback); ferr != nil {
			log.Error("call: fallback message failed", "err", ferr)
		}
	}
}

// handle runs one utterance through transcription, extraction, the dialogue
// thread and playback.
func (c *Controller) handle(ctx context.Context, s *Session, u audio.Utterance) error {
	s.seq++
	text, err := c.deps.Remote.Transcribe(ctx, s.dir, u, s.seq)
	if err != nil {
		return err
	}
	slog.Info("call: caller", "call_id", s.id, "text", text)
	s.record(events.RoleCaller, text)
	c.deps.Sink.Publish(events.Transcript(s.id, events.RoleCaller, text))
	if snap, changed := s.apply(c.deps.Engine, text); changed {
		c.deps.Sink.Publish(events.SummaryUpdate(s.id, snap))
	}

	reply, polls, err := c.deps.Remote.Respond(ctx, s.thread, text, PollSettings{
		Interval: s.cfg.PollInterval,
		Timeout:  s.cfg.PollTimeout,
		Active:   s.inProgress.Load,
	})
	if m := c.deps.Metrics; m != nil && polls > 0 {
		m.PollAttempts.Add(ctx, int64(polls))
	}
	if err != nil {
		return err
	}
	slog.Info("call: responder", "call_id", s.id, "text", reply)
	s.record(events.RoleResponder, reply)
	c.deps.Sink.Publish(events.Transcript(s.id, events.RoleResponder, reply))
	return c.speak(ctx, s, reply)
}

// speak synthesizes text and plays it. The clip is kept as a temp artifact
// while it plays. Playback failures are logged, not returned.
func (c *Controller) speak(ctx context.Context, s *Session, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sp, err := c.deps.Remote.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	s.seq++
	return s.dir.Scoped(speechFile(s.seq, sp), sp.Audio, func(string) error {
		if err := c.deps.Player.Play(ctx, sp.Audio); err != nil {
			slog.Warn("call: playback failed", "call_id", s.id, "err", err)
		}
		return nil
	})
}

func (c *Controller) teardown(ctx context.Context, s *Session, runErr error) {
	s.inProgress.Store(false)
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("call: close capture stream: %w", err))
	}

	reason := ""
	if runErr != nil {
		reason = "device failure"
		if !errors.Is(runErr, ErrDevice) {
			reason = runErr.Error()
		}
		slog.Error("call: disconnecting", "call_id", s.id, "err", runErr)
		nctx, cancel := c.teardownContext(ctx, s.cfg)
		if err := c.speak(nctx, s, s.cfg.ShutdownNotice); err != nil {
			slog.Warn("call: shutdown notice failed", "call_id", s.id, "err", err)
		}
		cancel()
	}

	c.closeThread(ctx, s.cfg, s.thread)
	if err := s.dir.Remove(); err != nil {
		errs = append(errs, err)
	}
	s.cancel()

	if m := c.deps.Metrics; m != nil {
		m.ActiveCalls.Add(ctx, -1)
	}
	slog.Info("call: ended", "call_id", s.id, "duration", time.Since(s.startedAt), "reason", reason)
	c.deps.Sink.Publish(events.Lifecycle(events.TypeCallEnded, s.id, reason))
	s.finish(runErr, errors.Join(errs...), reason)
}

func (c *Controller) teardownContext(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.TeardownTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.TeardownTimeout)
}

func (c *Controller) closeThread(ctx context.Context, cfg Config, thread string) {
	ctx, cancel := c.teardownContext(context.WithoutCancel(ctx), cfg)
	defer cancel()
	if err := c.deps.Remote.CloseThread(ctx, thread); err != nil {
		slog.Debug("call: delete thread", "thread", thread, "err", err)
	}
}
