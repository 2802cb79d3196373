package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

var _ audio.FrameSource = (*File)(nil)

// File is an [audio.FrameSource] that replays a recording. WAV files are
// converted to the requested format; any other file is read as raw PCM in
// RawFormat (or the requested format when RawFormat is zero).
//
// With Realtime set, frames are released at the pace they would arrive from a
// microphone. The stream ends with io.EOF.
type File struct {
	Path      string
	RawFormat audio.Format
	Realtime  bool
}

// Open implements [audio.FrameSource].
func (f *File) Open(_ context.Context, dst audio.Format, frameSamples int) (audio.FrameStream, error) {
	if !dst.Valid() || frameSamples <= 0 {
		return nil, fmt.Errorf("capture: invalid format %+v with %d samples per frame", dst, frameSamples)
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", f.Path, err)
	}
	s, err := openReader(fh, fh.Close, f.RawFormat, dst, frameSamples, f.Realtime)
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("capture: %s: %w", f.Path, err)
	}
	return s, nil
}

// NewReaderStream wraps r as a frame stream, detecting a WAV header the same
// way [File] does. closer may be nil.
func NewReaderStream(r io.Reader, closer func() error, raw, dst audio.Format, frameSamples int) (audio.FrameStream, error) {
	return openReader(r, closer, raw, dst, frameSamples, false)
}

func openReader(r io.Reader, closer func() error, raw, dst audio.Format, frameSamples int, realtime bool) (*readerStream, error) {
	br := bufio.NewReader(r)
	src := raw
	if !src.Valid() {
		src = dst
	}
	head, err := br.Peek(4)
	if err == nil && string(head) == "RIFF" {
		src, _, err = audio.DecodeWAVHeader(br)
		if err != nil {
			return nil, err
		}
	} else if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peek header: %w", err)
	}
	return newReaderStream(br, closer, src, dst, frameSamples, realtime), nil
}
