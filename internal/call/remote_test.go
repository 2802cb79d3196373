package call_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/dispatchvoice/internal/call"
	"github.com/MrWong99/dispatchvoice/internal/observe"
	"github.com/MrWong99/dispatchvoice/pkg/audio"
	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
	dialoguemock "github.com/MrWong99/dispatchvoice/pkg/provider/dialogue/mock"
	sttmock "github.com/MrWong99/dispatchvoice/pkg/provider/stt/mock"
	"github.com/MrWong99/dispatchvoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/dispatchvoice/pkg/provider/tts/mock"
)

var fastPoll = call.PollSettings{Interval: time.Millisecond, Timeout: time.Second}

func newRemote(dlg *dialoguemock.Client) *call.Remote {
	return &call.Remote{
		STT:      &sttmock.Transcriber{Results: []sttmock.Result{{Text: " help me "}}},
		Dialogue: dlg,
		TTS:      &ttsmock.Synthesizer{},
	}
}

func TestRemote_RespondPollsUntilComplete(t *testing.T) {
	t.Parallel()
	dlg := &dialoguemock.Client{Replies: []string{"  Stay on the line.  "}, PendingPolls: 3}
	r := newRemote(dlg)

	reply, polls, err := r.Respond(context.Background(), "thread-1", "help", fastPoll)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "Stay on the line." {
		t.Errorf("reply = %q", reply)
	}
	if polls != 4 || dlg.Polls() != 4 {
		t.Errorf("polls = %d (client saw %d), want 4", polls, dlg.Polls())
	}
	msgs := dlg.Messages()
	if len(msgs) != 1 || msgs[0].Role != dialogue.RoleUser || msgs[0].ThreadID != "thread-1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestRemote_RespondErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		dlg  *dialoguemock.Client
		ps   call.PollSettings
		want error
	}{
		{"stuck", &dialoguemock.Client{Stuck: true}, call.PollSettings{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}, call.ErrRemoteTimeout},
		{"failed run", &dialoguemock.Client{FailRun: true}, fastPoll, call.ErrRemote},
		{"no reply", &dialoguemock.Client{}, fastPoll, dialogue.ErrNoResponse},
		{"blank reply", &dialoguemock.Client{Replies: []string{"\n"}}, fastPoll, dialogue.ErrNoResponse},
		{"request", &dialoguemock.Client{RequestErr: errors.New("busy")}, fastPoll, call.ErrRemote},
		{"ended", &dialoguemock.Client{Stuck: true}, call.PollSettings{Interval: time.Millisecond, Timeout: time.Second, Active: func() bool { return false }}, call.ErrCallEnded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := newRemote(tc.dlg).Respond(context.Background(), "thread-1", "help", tc.ps)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRemote_AbandonedRunIsCancelled(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		dlg       *dialoguemock.Client
		ps        call.PollSettings
		want      error
		cancelled []string
	}{
		{"timeout", &dialoguemock.Client{Stuck: true}, call.PollSettings{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}, call.ErrRemoteTimeout, []string{"run-1"}},
		{"call ended", &dialoguemock.Client{Stuck: true}, call.PollSettings{Interval: time.Millisecond, Timeout: time.Second, Active: func() bool { return false }}, call.ErrCallEnded, []string{"run-1"}},
		{"cancel fails", &dialoguemock.Client{Stuck: true, CancelErr: errors.New("503")}, call.PollSettings{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}, call.ErrRemoteTimeout, []string{"run-1"}},
		{"failed run", &dialoguemock.Client{FailRun: true}, fastPoll, call.ErrRemote, nil},
		{"completed", &dialoguemock.Client{Replies: []string{"Where are you?"}}, fastPoll, nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := newRemote(tc.dlg).Respond(context.Background(), "thread-1", "help", tc.ps)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if got := tc.dlg.Cancelled(); !slices.Equal(got, tc.cancelled) {
				t.Errorf("cancelled runs = %v, want %v", got, tc.cancelled)
			}
		})
	}
}

func TestRemote_CancelledContextStillCancelsRun(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	dlg := &dialoguemock.Client{Stuck: true, OnPoll: func(string, string) { cancel() }}

	_, _, err := newRemote(dlg).Respond(ctx, "thread-1", "help", fastPoll)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := dlg.Cancelled(); len(got) != 1 {
		t.Errorf("cancelled runs = %v, want the abandoned run", got)
	}
}

func TestRemote_TranscribeUsesScopedArtifact(t *testing.T) {
	t.Parallel()
	dir, err := call.NewTempDir(t.TempDir(), "remote-")
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Remove()

	tr := &sttmock.Transcriber{Results: []sttmock.Result{{Text: " help me "}}}
	r := &call.Remote{STT: tr, Dialogue: &dialoguemock.Client{}, TTS: &ttsmock.Synthesizer{}, Language: "en"}
	u := audio.Utterance{Samples: make([]int16, 1600), Format: call.CaptureFormat}

	text, err := r.Transcribe(context.Background(), dir, u, 7)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "help me" {
		t.Errorf("text = %q", text)
	}
	c := tr.Calls()[0]
	if c.Name != "utterance-7.wav" || len(c.Audio) != 44+1600*2 {
		t.Errorf("call = name %q, %d bytes", c.Name, len(c.Audio))
	}
	if entries, _ := os.ReadDir(dir.Path()); len(entries) != 0 {
		t.Errorf("artifact not removed: %v", entries)
	}

	if _, err := r.Transcribe(context.Background(), dir, audio.Utterance{}, 8); !errors.Is(err, call.ErrEmptyTranscript) {
		t.Errorf("empty utterance err = %v", err)
	}
	tr.Results = []sttmock.Result{{Err: errors.New("boom")}}
	if _, err := r.Transcribe(context.Background(), dir, u, 9); !errors.Is(err, call.ErrTranscription) {
		t.Errorf("err = %v, want ErrTranscription", err)
	}
}

func TestRemote_Synthesize(t *testing.T) {
	t.Parallel()
	r := newRemote(&dialoguemock.Client{})
	r.TTS = &ttsmock.Synthesizer{Audio: []byte{}, Encoding: tts.EncodingWAV}
	if _, err := r.Synthesize(context.Background(), "hello"); !errors.Is(err, call.ErrSynthesis) {
		t.Errorf("empty audio err = %v, want ErrSynthesis", err)
	}
	r.TTS = &ttsmock.Synthesizer{Err: errors.New("quota")}
	if _, err := r.Synthesize(context.Background(), "hello"); !errors.Is(err, call.ErrSynthesis) {
		t.Errorf("err = %v, want ErrSynthesis", err)
	}
}

func TestRemote_RecordsProviderMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	r := newRemote(&dialoguemock.Client{Replies: []string{"ok"}})
	r.Metrics = m
	r.DialogueName = "assistants"
	if _, err := r.OpenThread(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Respond(context.Background(), "thread-1", "help", fastPoll); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Synthesize(context.Background(), "ok"); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "dispatchvoice.provider.requests" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value("provider")
				counts[p.AsString()] += dp.Value
			}
		}
	}
	if counts["assistants"] != 2 || counts["default"] != 1 {
		t.Errorf("provider requests = %v, want assistants:2 default:1", counts)
	}
}
