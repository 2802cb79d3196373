// Package calllog defines the persistent record of dispatch calls: the
// ordered transcript of each call and the final emergency summary.
//
// The call controller never writes here directly. The application forwards
// call events into a [Store] off the hot path, so a slow or unreachable
// database never delays a turn.
package calllog

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/extract"
)

// ErrNotFound is returned when a call ID is unknown to the store.
var ErrNotFound = errors.New("calllog: call not found")

// Entry is one transcript line.
type Entry struct {
	CallID    string
	Role      string
	Text      string
	Timestamp time.Time
}

// Record is the persisted state of one call.
type Record struct {
	CallID    string
	StartedAt time.Time

	// EndedAt is zero while the call is live.
	EndedAt time.Time

	// EndReason is empty for a normal hang-up.
	EndReason string

	Summary extract.Summary
}

// Live reports whether the call has not ended yet.
func (r Record) Live() bool { return r.EndedAt.IsZero() }

// Store persists call records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// StartCall creates the record for callID.
	StartCall(ctx context.Context, callID string, at time.Time) error

	// AppendEntry adds a transcript line to its call.
	AppendEntry(ctx context.Context, e Entry) error

	// SaveSummary replaces the stored summary of callID.
	SaveSummary(ctx context.Context, callID string, s extract.Summary) error

	// EndCall marks callID as ended.
	EndCall(ctx context.Context, callID string, at time.Time, reason string) error

	// Call returns the record for callID or [ErrNotFound].
	Call(ctx context.Context, callID string) (Record, error)

	// Transcript returns the entries of callID, oldest first.
	Transcript(ctx context.Context, callID string) ([]Entry, error)

	// Recent returns up to limit calls, most recently started first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}
