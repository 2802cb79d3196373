package call

import (
	"errors"
	"fmt"
)

// Sentinel errors. Turn errors are matched with [errors.Is]; everything but
// a [DeviceError] is recoverable and answered with the fallback message.
var (
	// ErrDevice marks a capture failure. It ends the call.
	ErrDevice = errors.New("call: audio device failure")

	// ErrTranscription marks a failed speech-to-text request.
	ErrTranscription = errors.New("call: transcription failed")

	// ErrRemoteTimeout is returned when a dialogue run does not complete
	// within the poll timeout.
	ErrRemoteTimeout = errors.New("call: timed out waiting for response")

	// ErrSynthesis marks a failed text-to-speech request.
	ErrSynthesis = errors.New("call: speech synthesis failed")

	// ErrRemote marks any other dialogue backend failure, including runs that
	// ended failed or cancelled.
	ErrRemote = errors.New("call: dialogue backend failed")

	// ErrEmptyTranscript is returned for an utterance that transcribed to
	// nothing. It is dropped silently.
	ErrEmptyTranscript = errors.New("call: empty transcript")

	// ErrStorage marks a temp file or directory failure.
	ErrStorage = errors.New("call: temporary storage failure")

	// ErrCallActive is returned by StartCall while another call is live.
	ErrCallActive = errors.New("call: a call is already in progress")

	// ErrNoCall is returned by EndCall when no call is live.
	ErrNoCall = errors.New("call: no call in progress")

	// ErrCallEnded is returned by operations interrupted because the call
	// was ended.
	ErrCallEnded = errors.New("call: call ended")
)

// DeviceError wraps a capture failure. It matches [ErrDevice].
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("call: audio device failure: %v", e.Err)
}

// Unwrap returns the underlying device error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrDevice].
func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

// fallbackReason maps a recoverable turn error to a short metric label.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrRemoteTimeout):
		return "timeout"
	case errors.Is(err, ErrSynthesis):
		return "synthesis"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrRemote):
		return "remote"
	default:
		return "other"
	}
}
