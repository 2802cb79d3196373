package call

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/observe"
	"github.com/MrWong99/dispatchvoice/pkg/audio"
	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
	"github.com/MrWong99/dispatchvoice/pkg/provider/stt"
	"github.com/MrWong99/dispatchvoice/pkg/provider/tts"
)

// Remote is the conversational backend of a call: transcription, the
// dialogue thread and speech synthesis, with provider metrics around each
// request.
type Remote struct {
	STT      stt.Transcriber
	Dialogue dialogue.Client
	TTS      tts.Synthesizer

	// Names label provider metrics. Empty names are reported as "default".
	STTName      string
	DialogueName string
	TTSName      string

	// Language and Prompt are passed to the transcriber.
	Language string
	Prompt   string

	// Metrics may be nil.
	Metrics *observe.Metrics
}

func (r *Remote) validate() error {
	var errs []error
	if r.STT == nil {
		errs = append(errs, errors.New("call: transcriber is required"))
	}
	if r.Dialogue == nil {
		errs = append(errs, errors.New("call: dialogue client is required"))
	}
	if r.TTS == nil {
		errs = append(errs, errors.New("call: synthesizer is required"))
	}
	return errors.Join(errs...)
}

func (r *Remote) record(ctx context.Context, name, kind string, start time.Time, err error) {
	if r.Metrics == nil {
		return
	}
	if name == "" {
		name = "default"
	}
	r.Metrics.RecordProviderCall(ctx, name, kind, time.Since(start), err)
}

// Transcribe writes u as a WAV artifact in dir, sends it to the transcriber
// and returns the trimmed text. A blank result is [ErrEmptyTranscript].
func (r *Remote) Transcribe(ctx context.Context, dir *TempDir, u audio.Utterance, seq int) (string, error) {
	if u.Empty() {
		return "", ErrEmptyTranscript
	}
	name := fmt.Sprintf("utterance-%d.wav", seq)
	var text string
	err := dir.Scoped(name, audio.EncodeWAV(u.Samples, u.Format), func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: open %s: %w", ErrStorage, name, err)
		}
		defer f.Close()

		start := time.Now()
		tr, err := r.STT.Transcribe(ctx, stt.Request{Audio: f, Name: name, Language: r.Language, Prompt: r.Prompt})
		r.record(ctx, r.STTName, observe.KindSTT, start, err)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTranscription, err)
		}
		text = strings.TrimSpace(tr.Text)
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// OpenThread creates the dialogue thread that lives for the whole call.
func (r *Remote) OpenThread(ctx context.Context) (string, error) {
	start := time.Now()
	id, err := r.Dialogue.CreateThread(ctx)
	r.record(ctx, r.DialogueName, observe.KindDialogue, start, err)
	if err != nil {
		return "", fmt.Errorf("%w: create thread: %w", ErrRemote, err)
	}
	return id, nil
}

// CloseThread releases the thread. Failures are returned for logging only.
func (r *Remote) CloseThread(ctx context.Context, threadID string) error {
	if err := r.Dialogue.DeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("%w: delete thread: %w", ErrRemote, err)
	}
	return nil
}

// PollSettings bound the wait for a dialogue run.
type PollSettings struct {
	Interval time.Duration
	Timeout  time.Duration

	// Active, if set, is consulted before every poll; false abandons the wait
	// with [ErrCallEnded].
	Active func() bool
}

// Respond posts text as the caller's message, requests a reply and polls
// the run until it completes. It returns the number of status polls made.
func (r *Remote) Respond(ctx context.Context, threadID, text string, ps PollSettings) (string, int, error) {
	start := time.Now()
	reply, polls, err := r.respond(ctx, threadID, text, ps)
	if !errors.Is(err, ErrCallEnded) && !errors.Is(err, context.Canceled) {
		r.record(ctx, r.DialogueName, observe.KindDialogue, start, err)
	}
	return reply, polls, err
}

func (r *Remote) respond(ctx context.Context, threadID, text string, ps PollSettings) (string, int, error) {
	if err := r.Dialogue.PostMessage(ctx, threadID, dialogue.RoleUser, text); err != nil {
		return "", 0, fmt.Errorf("%w: post message: %w", ErrRemote, err)
	}
	runID, err := r.Dialogue.RequestResponse(ctx, threadID)
	if err != nil {
		return "", 0, fmt.Errorf("%w: request response: %w", ErrRemote, err)
	}

	polls, err := Poll(ctx, ps.Interval, ps.Timeout, ps.Active, func(ctx context.Context) (bool, error) {
		st, err := r.Dialogue.PollStatus(ctx, threadID, runID)
		if err != nil {
			return false, fmt.Errorf("%w: poll run: %w", ErrRemote, err)
		}
		switch st {
		case dialogue.StatusCompleted:
			return true, nil
		case dialogue.StatusFailed:
			return false, fmt.Errorf("%w: run %s ended %s", ErrRemote, runID, st)
		default:
			return false, nil
		}
	})
	if err != nil {
		if errors.Is(err, ErrRemoteTimeout) || errors.Is(err, ErrCallEnded) || ctx.Err() != nil {
			r.cancelRun(ctx, threadID, runID)
		}
		return "", polls, err
	}

	reply, err := r.Dialogue.FetchResponse(ctx, threadID, runID)
	if err != nil {
		return "", polls, fmt.Errorf("%w: fetch response: %w", ErrRemote, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", polls, fmt.Errorf("%w: %w", ErrRemote, dialogue.ErrNoResponse)
	}
	return reply, polls, nil
}

// runCancelTimeout bounds the best-effort cancel of an abandoned run.
const runCancelTimeout = 5 * time.Second

// cancelRun stops an abandoned run so the next caller message can be posted
// to the thread. It runs even when ctx is already done.
func (r *Remote) cancelRun(ctx context.Context, threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runCancelTimeout)
	defer cancel()
	if err := r.Dialogue.CancelRun(ctx, threadID, runID); err != nil {
		observe.Logger(ctx).Warn("call: cancel abandoned run", "thread", threadID, "run", runID, "err", err)
	}
}

// Synthesize renders text as speech.
func (r *Remote) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	start := time.Now()
	sp, err := r.TTS.Synthesize(ctx, text)
	r.record(ctx, r.TTSName, observe.KindTTS, start, err)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if len(sp.Audio) == 0 {
		return tts.Speech{}, fmt.Errorf("%w: empty audio", ErrSynthesis)
	}
	return sp, nil
}

// speechFile names the playback artifact for clip number seq.
func speechFile(seq int, sp tts.Speech) string {
	return fmt.Sprintf("speech-%d%s", seq, sp.Encoding.Ext())
}
