package capture_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
	"github.com/MrWong99/dispatchvoice/pkg/audio/capture"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i)
	}
	return out
}

func TestReaderStream_RawFrames(t *testing.T) {
	t.Parallel()
	pcm := audio.SamplesToBytes(ramp(250))
	s, err := capture.NewReaderStream(bytes.NewReader(pcm), nil, audio.Format{}, mono16k, 100)
	if err != nil {
		t.Fatalf("NewReaderStream: %v", err)
	}
	ctx := context.Background()

	for i := range 2 {
		f, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if len(f.Samples) != 100 {
			t.Fatalf("frame %d has %d samples, want 100", i, len(f.Samples))
		}
		if f.Samples[0] != int16(i*100) {
			t.Errorf("frame %d starts at %d, want %d", i, f.Samples[0], i*100)
		}
		if want := time.Duration(i) * 100 * time.Second / 16000; f.Offset != want {
			t.Errorf("frame %d offset = %v, want %v", i, f.Offset, want)
		}
	}
	// 50 trailing samples do not make a frame.
	if _, err := s.Read(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("third Read err = %v, want io.EOF", err)
	}
}

func TestReaderStream_WAVIsConverted(t *testing.T) {
	t.Parallel()
	// 100 ms of 32 kHz stereo.
	src := audio.Format{SampleRate: 32000, Channels: 2}
	wav := audio.EncodeWAV(make([]int16, 3200*2), src)

	s, err := capture.NewReaderStream(bytes.NewReader(wav), nil, audio.Format{}, mono16k, 800)
	if err != nil {
		t.Fatalf("NewReaderStream: %v", err)
	}
	got := 0
	for {
		f, err := s.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(f.Samples) != 800 {
			t.Fatalf("frame has %d samples, want 800", len(f.Samples))
		}
		got++
	}
	if got != 2 {
		t.Errorf("got %d frames, want 2", got)
	}
}

func TestReaderStream_ReadAfterClose(t *testing.T) {
	t.Parallel()
	closed := 0
	s, err := capture.NewReaderStream(bytes.NewReader(make([]byte, 4000)), func() error {
		closed++
		return nil
	}, mono16k, mono16k, 100)
	if err != nil {
		t.Fatalf("NewReaderStream: %v", err)
	}
	_ = s.Close()
	_ = s.Close()
	if closed != 1 {
		t.Errorf("closer called %d times, want 1", closed)
	}
	if _, err := s.Read(context.Background()); !errors.Is(err, audio.ErrStreamClosed) {
		t.Errorf("Read after Close err = %v, want ErrStreamClosed", err)
	}
}

func TestFile_MissingPath(t *testing.T) {
	t.Parallel()
	f := &capture.File{Path: filepath.Join(t.TempDir(), "nope.wav")}
	if _, err := f.Open(context.Background(), mono16k, 800); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFile_ReplaysWAV(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(ramp(1600), mono16k), 0o600); err != nil {
		t.Fatal(err)
	}
	src := &capture.File{Path: path}
	s, err := src.Open(context.Background(), mono16k, 800)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	f, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Samples[799] != 799 {
		t.Errorf("last sample = %d, want 799", f.Samples[799])
	}
}

func TestCommand_ExitIsDeviceError(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	path := filepath.Join(t.TempDir(), "pcm.raw")
	if err := os.WriteFile(path, audio.SamplesToBytes(ramp(800)), 0o600); err != nil {
		t.Fatal(err)
	}

	src := capture.NewCommand([]string{"cat", path})
	s, err := src.Open(context.Background(), mono16k, 800)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Read(context.Background()); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	_, err = s.Read(context.Background())
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, audio.ErrStreamClosed) {
		t.Errorf("err = %v, want device error", err)
	}
}

func TestCommand_InvalidFormat(t *testing.T) {
	t.Parallel()
	if _, err := capture.NewCommand(nil).Open(context.Background(), audio.Format{}, 800); err == nil {
		t.Fatal("expected error for invalid format")
	}
}
