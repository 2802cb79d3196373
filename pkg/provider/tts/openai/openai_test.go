package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/dispatchvoice/pkg/provider/tts"
	"github.com/MrWong99/dispatchvoice/pkg/provider/tts/openai"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := openai.New("sk-test", openai.WithSpeed(9)); err == nil {
		t.Error("expected error for out-of-range speed")
	}
}

func TestSynthesize_RequestsMP3(t *testing.T) {
	t.Parallel()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake-mp3"))
	}))
	defer srv.Close()

	s, err := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1"), openai.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Synthesize(context.Background(), "911, what's your emergency?")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got.Audio) != "ID3fake-mp3" || got.Encoding != tts.EncodingMP3 {
		t.Errorf("got %q (%s)", got.Audio, got.Encoding)
	}
	want := map[string]string{"model": "tts-1", "voice": "shimmer", "response_format": "mp3", "input": "911, what's your emergency?"}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("request %s = %v, want %q", k, body[k], v)
		}
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	s, _ := openai.New("sk-test")
	if _, err := s.Synthesize(context.Background(), "   "); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1"), openai.WithMaxRetries(0))
	if _, err := s.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
}
