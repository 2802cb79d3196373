package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
	"github.com/MrWong99/dispatchvoice/pkg/provider/stt"
	"github.com/MrWong99/dispatchvoice/pkg/provider/stt/whisper"
)

// newMockServer answers POST /inference with responseText and records the
// language field and uploaded file.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, lang, file *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if lang != nil {
			*lang = r.FormValue("language")
		}
		if file != nil {
			f, _, err := r.FormFile("file")
			if err == nil {
				b, _ := io.ReadAll(f)
				*file = string(b)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_PostsWAV(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var lang, file string
	srv := newMockServer(t, "  my house is on fire \n", &calls, &lang, &file)

	tr, err := whisper.New(srv.URL+"/", whisper.WithLanguage("de"))
	if err != nil {
		t.Fatal(err)
	}
	wav := audio.EncodeWAV(make([]int16, 1600), audio.Format{SampleRate: 16000, Channels: 1})
	got, err := tr.Transcribe(context.Background(), stt.Request{Audio: strings.NewReader(string(wav))})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "my house is on fire" {
		t.Errorf("text = %q", got.Text)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if lang != "de" {
		t.Errorf("language = %q, want de", lang)
	}
	if file != string(wav) {
		t.Errorf("uploaded %d bytes, want %d", len(file), len(wav))
	}
}

func TestTranscribe_RequestLanguageWins(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var lang string
	srv := newMockServer(t, "hola", &calls, &lang, nil)

	tr, _ := whisper.New(srv.URL)
	got, err := tr.Transcribe(context.Background(), stt.Request{Audio: strings.NewReader("x"), Language: "es"})
	if err != nil {
		t.Fatal(err)
	}
	if lang != "es" || got.Language != "es" {
		t.Errorf("language sent %q, reported %q", lang, got.Language)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr, _ := whisper.New(srv.URL)
	if _, err := tr.Transcribe(context.Background(), stt.Request{Audio: strings.NewReader("x")}); err == nil {
		t.Fatal("expected error for HTTP 503")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil, nil)
	tr, _ := whisper.New(srv.URL)

	for _, r := range []io.Reader{nil, strings.NewReader("")} {
		if _, err := tr.Transcribe(context.Background(), stt.Request{Audio: r}); !errors.Is(err, stt.ErrEmptyAudio) {
			t.Errorf("err = %v, want ErrEmptyAudio", err)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for empty audio", calls.Load())
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil, nil)
	tr, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Transcribe(ctx, stt.Request{Audio: strings.NewReader("x")}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
