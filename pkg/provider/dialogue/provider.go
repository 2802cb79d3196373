// Package dialogue defines the Client interface for conversational backends
// that generate the dispatcher's replies.
//
// The contract is asynchronous and thread based: a call owns one thread for
// its whole lifetime, caller transcripts are posted to it, and each reply is
// requested as a run whose status the caller polls until it completes. This
// lets the turn controller bound the wait and give up without leaving a
// blocked request behind.
//
// Implementations must be safe for concurrent use.
package dialogue

import (
	"context"
	"errors"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the state of a response run.
type Status string

// Run states. Pending covers queued and in-progress runs.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s will not change anymore.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

var (
	// ErrUnknownThread is returned for a thread ID the backend does not know.
	ErrUnknownThread = errors.New("dialogue: unknown thread")

	// ErrUnknownRun is returned for a run ID the backend does not know.
	ErrUnknownRun = errors.New("dialogue: unknown run")

	// ErrNoResponse is returned by FetchResponse when a completed run left no
	// assistant message.
	ErrNoResponse = errors.New("dialogue: no response")

	// ErrRunCancelled is reported for a run stopped by CancelRun.
	ErrRunCancelled = errors.New("dialogue: run cancelled")
)

// Client is the abstraction over any dialogue backend.
type Client interface {
	// CreateThread opens a new conversation and returns its ID.
	CreateThread(ctx context.Context) (string, error)

	// PostMessage appends a message to the thread.
	PostMessage(ctx context.Context, threadID string, role Role, text string) error

	// RequestResponse starts generating a reply to the thread and returns the
	// run ID. It does not wait for the reply.
	RequestResponse(ctx context.Context, threadID string) (string, error)

	// PollStatus reports the current state of a run.
	PollStatus(ctx context.Context, threadID, runID string) (Status, error)

	// FetchResponse returns the reply produced by a completed run.
	FetchResponse(ctx context.Context, threadID, runID string) (string, error)

	// CancelRun stops a run that is still pending and returns once the thread
	// accepts new messages again. Its reply, if it arrives later, is never
	// added to the thread. Cancelling a finished run is not an error.
	CancelRun(ctx context.Context, threadID, runID string) error

	// DeleteThread releases the thread. Deleting an unknown thread is not an
	// error.
	DeleteThread(ctx context.Context, threadID string) error
}
