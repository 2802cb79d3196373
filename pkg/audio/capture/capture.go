// Package capture provides [audio.FrameSource] implementations that read raw
// 16-bit PCM from an external recorder process or from a replay file.
//
// Usage:
//
//	src := capture.NewCommand([]string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"})
//	stream, err := src.Open(ctx, audio.Format{SampleRate: 16000, Channels: 1}, 800)
//	frame, err := stream.Read(ctx)
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

// readerStream slices a PCM byte stream into fixed-size frames. The source may
// be in a different format than the frames it produces; a FormatConverter
// bridges the two.
type readerStream struct {
	r            io.Reader
	closer       func() error
	src          audio.Format
	dst          audio.Format
	frameSamples int
	realtime     bool

	conv    audio.FormatConverter
	pending []int16
	chunk   []byte
	offset  time.Duration
	started time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newReaderStream(r io.Reader, closer func() error, src, dst audio.Format, frameSamples int, realtime bool) *readerStream {
	// Read roughly one destination frame's worth of source audio at a time.
	srcSamples := frameSamples
	if src != dst {
		dur := dst.Duration(frameSamples)
		srcSamples = max(src.Samples(dur), src.Channels)
		srcSamples -= srcSamples % src.Channels
	}
	return &readerStream{
		r:            r,
		closer:       closer,
		src:          src,
		dst:          dst,
		frameSamples: frameSamples,
		realtime:     realtime,
		conv:         audio.FormatConverter{Target: dst},
		chunk:        make([]byte, srcSamples*2),
	}
}

// Read implements [audio.FrameStream]. A trailing partial frame at end of
// input is dropped and io.EOF returned.
func (s *readerStream) Read(ctx context.Context) (audio.Frame, error) {
	for len(s.pending) < s.frameSamples {
		if s.closed.Load() {
			return audio.Frame{}, audio.ErrStreamClosed
		}
		if err := ctx.Err(); err != nil {
			return audio.Frame{}, err
		}
		n, err := io.ReadFull(s.r, s.chunk)
		if n > 0 {
			s.pending = append(s.pending, s.conv.Convert(audio.BytesToSamples(s.chunk[:n-n%(2*s.src.Channels)]), s.src)...)
		}
		if err != nil {
			if s.closed.Load() {
				return audio.Frame{}, audio.ErrStreamClosed
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if len(s.pending) >= s.frameSamples {
					break
				}
				return audio.Frame{}, io.EOF
			}
			return audio.Frame{}, fmt.Errorf("capture: read: %w", err)
		}
	}

	samples := make([]int16, s.frameSamples)
	copy(samples, s.pending)
	s.pending = s.pending[s.frameSamples:]

	frame := audio.Frame{Samples: samples, Offset: s.offset}
	s.offset += s.dst.Duration(s.frameSamples)

	if s.realtime {
		if s.started.IsZero() {
			s.started = time.Now()
		}
		if wait := time.Until(s.started.Add(frame.Offset)); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return audio.Frame{}, ctx.Err()
			}
		}
	}
	return frame, nil
}

// Close implements [audio.FrameStream].
func (s *readerStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}
