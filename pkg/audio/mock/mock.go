// Package mock provides in-memory mock implementations of the [audio.FrameSource],
// [audio.FrameStream], and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(16)
//	src := &mock.Source{Stream: stream}
//	stream.Push(audio.Frame{Samples: loud})
//	stream.Fail(errors.New("device unplugged"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

var (
	_ audio.FrameStream = (*Stream)(nil)
	_ audio.FrameSource = (*Source)(nil)
	_ audio.Player      = (*Player)(nil)
)

// ─── Stream ───────────────────────────────────────────────────────────────────

type item struct {
	frame audio.Frame
	err   error
}

// Stream is a mock [audio.FrameStream] fed by the test through [Stream.Push]
// and [Stream.Fail]. Read blocks until an item is available, the stream is
// closed, or ctx is done.
type Stream struct {
	items  chan item
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	reads    int
	closeCnt int
}

// NewStream returns a Stream that buffers up to capacity pushed items.
func NewStream(capacity int) *Stream {
	return &Stream{
		items:  make(chan item, capacity),
		closed: make(chan struct{}),
	}
}

// Push queues a frame for a later Read. It blocks when the buffer is full.
func (s *Stream) Push(f audio.Frame) {
	select {
	case s.items <- item{frame: f}:
	case <-s.closed:
	}
}

// Fail queues an error that the next Read returns after all earlier frames.
func (s *Stream) Fail(err error) {
	select {
	case s.items <- item{err: err}:
	case <-s.closed:
	}
}

// Read implements [audio.FrameStream].
func (s *Stream) Read(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()

	select {
	case <-s.closed:
		return audio.Frame{}, audio.ErrStreamClosed
	default:
	}
	select {
	case it := <-s.items:
		return it.frame, it.err
	case <-s.closed:
		return audio.Frame{}, audio.ErrStreamClosed
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Close implements [audio.FrameStream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closeCnt++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCnt > 0
}

// Reads returns the number of Read calls so far.
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// ─── Source ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Source.Open] invocation.
type OpenCall struct {
	Format       audio.Format
	FrameSamples int
}

// Source is a mock implementation of [audio.FrameSource].
type Source struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a new empty Stream.
	Stream audio.FrameStream

	// OpenErr is returned as the error from Open.
	OpenErr error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.FrameSource].
func (s *Source) Open(_ context.Context, f audio.Format, frameSamples int) (audio.FrameStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Format: f, FrameSamples: frameSamples})
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Stream == nil {
		s.Stream = NewStream(16)
	}
	return s.Stream, nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by every Play call.
	PlayErr error

	// OnPlay, if set, is called synchronously from Play before it returns.
	OnPlay func(clip []byte)

	// Clips records the clip passed to each Play call, in order.
	Clips [][]byte
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, clip []byte) error {
	p.mu.Lock()
	p.Clips = append(p.Clips, clip)
	fn := p.OnPlay
	err := p.PlayErr
	p.mu.Unlock()
	if fn != nil {
		fn(clip)
	}
	return err
}

// Played returns a copy of the recorded clips.
func (p *Player) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.Clips))
	copy(out, p.Clips)
	return out
}
