// Package playback provides an [audio.Player] that decodes synthesized speech
// (MP3 via github.com/hajimehoshi/go-mp3, or WAV) and streams the PCM into an
// external sink process such as aplay or pacat.
//
// Usage:
//
//	p := playback.New(playback.WithCommand([]string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}))
//	err := p.Play(ctx, mp3Bytes)
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

// DefaultCommand plays raw PCM on the default ALSA device.
var DefaultCommand = []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}

// decodedChannels is fixed by go-mp3, which always emits 16-bit stereo.
const decodedChannels = 2

var _ audio.Player = (*Player)(nil)

// Option configures a Player.
type Option func(*Player)

// WithCommand sets the sink argv. {rate} and {channels} are replaced with the
// output format.
func WithCommand(argv []string) Option {
	return func(p *Player) {
		if len(argv) > 0 {
			p.args = append([]string(nil), argv...)
		}
	}
}

// WithFormat forces the sink format. A zero value (the default) keeps the
// decoded MP3 rate in stereo.
func WithFormat(f audio.Format) Option {
	return func(p *Player) { p.format = f }
}

// WithSink replaces the external process with a writer, which is useful for
// tests and for piping speech into another transport.
func WithSink(fn func(ctx context.Context, f audio.Format, pcm io.Reader) error) Option {
	return func(p *Player) { p.sink = fn }
}

// Player decodes speech clips and writes the PCM to a sink.
type Player struct {
	args   []string
	format audio.Format
	sink   func(ctx context.Context, f audio.Format, pcm io.Reader) error
}

// New returns a Player writing to [DefaultCommand] unless overridden.
func New(opts ...Option) *Player {
	p := &Player{args: DefaultCommand}
	for _, o := range opts {
		o(p)
	}
	if p.sink == nil {
		p.sink = p.runCommand
	}
	return p
}

// Play implements [audio.Player]. It blocks until the sink has consumed the
// whole clip.
func (p *Player) Play(ctx context.Context, clip []byte) error {
	if len(clip) == 0 {
		return errors.New("playback: empty clip")
	}
	pcm, f, err := Decode(clip)
	if err != nil {
		return err
	}
	if p.format.Valid() && p.format != f {
		conv := audio.FormatConverter{Target: p.format}
		pcm = audio.SamplesToBytes(conv.Convert(audio.BytesToSamples(pcm), f))
		f = p.format
	}
	slog.Debug("playback: playing clip", "duration", f.Duration(len(pcm)/2), "rate", f.SampleRate)
	if err := p.sink(ctx, f, bytes.NewReader(pcm)); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// Decode converts a clip to interleaved 16-bit PCM. WAV clips are detected
// by their RIFF header and passed through; anything else is decoded as MP3,
// which always yields stereo.
func Decode(clip []byte) ([]byte, audio.Format, error) {
	if len(clip) >= 4 && string(clip[:4]) == "RIFF" {
		r := bytes.NewReader(clip)
		f, _, err := audio.DecodeWAVHeader(r)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("playback: decode wav: %w", err)
		}
		pcm, err := io.ReadAll(r)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("playback: read wav data: %w", err)
		}
		return pcm, f, nil
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(clip))
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: read decoded pcm: %w", err)
	}
	return pcm, audio.Format{SampleRate: dec.SampleRate(), Channels: decodedChannels}, nil
}

func (p *Player) runCommand(ctx context.Context, f audio.Format, pcm io.Reader) error {
	r := strings.NewReplacer("{rate}", strconv.Itoa(f.SampleRate), "{channels}", strconv.Itoa(f.Channels))
	argv := make([]string, len(p.args))
	for i, a := range p.args {
		argv[i] = r.Replace(a)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = pcm
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %q: %w (stderr: %q)", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
