package capture

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
	"sync"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

// DefaultCommand records raw mono PCM with ALSA's arecord.
var DefaultCommand = []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}

var _ audio.FrameSource = (*Command)(nil)

// Command is an [audio.FrameSource] that spawns a recorder process writing
// raw little-endian 16-bit PCM to stdout. The placeholders {rate} and
// {channels} in the argument list are replaced with the requested format.
type Command struct {
	args []string
}

// NewCommand returns a Command source for the given argv. An empty argv
// selects [DefaultCommand].
func NewCommand(argv []string) *Command {
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	return &Command{args: append([]string(nil), argv...)}
}

// Open starts the recorder. The process is killed when the stream is closed.
// A process that exits on its own surfaces as a device error on the next Read.
func (c *Command) Open(_ context.Context, f audio.Format, frameSamples int) (audio.FrameStream, error) {
	if !f.Valid() || frameSamples <= 0 {
		return nil, fmt.Errorf("capture: invalid format %+v with %d samples per frame", f, frameSamples)
	}
	argv := expandArgs(c.args, f)

	cmd := exec.Command(argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start %q: %w", argv[0], err)
	}
	slog.Debug("capture: recorder started", "cmd", argv[0], "pid", cmd.Process.Pid)

	var waitOnce sync.Once
	var waitErr error
	wait := func() error {
		waitOnce.Do(func() { waitErr = cmd.Wait() })
		return waitErr
	}

	closer := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		err := wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed on purpose.
			return nil
		}
		return err
	}

	s := newReaderStream(&exitReader{r: stdout, wait: wait, stderr: &stderr}, closer, f, f, frameSamples, false)
	return s, nil
}

// exitReader turns an unexpected recorder exit into a descriptive error
// instead of a silent EOF, since a live microphone never ends on its own.
type exitReader struct {
	r      io.Reader
	wait   func() error
	stderr *bytes.Buffer
}

func (e *exitReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == nil {
		return n, nil
	}
	werr := e.wait()
	msg := strings.TrimSpace(e.stderr.String())
	if werr != nil {
		return n, fmt.Errorf("recorder exited: %w (stderr: %q)", werr, msg)
	}
	return n, fmt.Errorf("recorder exited unexpectedly (stderr: %q)", msg)
}

func expandArgs(args []string, f audio.Format) []string {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(f.SampleRate),
		"{channels}", strconv.Itoa(f.Channels),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
