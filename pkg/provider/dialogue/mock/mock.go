// Package mock provides a test double for the dialogue.Client interface.
//
// By default every run completes on its first poll and answers with the next
// entry of Replies. Set PendingPolls to keep runs pending for a number of
// polls, or Stuck to keep them pending forever. Set RejectWhileRunning to
// refuse messages while a run is unfinished, as the Assistants API does.
//
// Example:
//
//	c := &mock.Client{Replies: []string{"Where are you?"}, PendingPolls: 2}
package mock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
)

// Message records one PostMessage call.
type Message struct {
	ThreadID string
	Role     dialogue.Role
	Text     string
}

// Client is a mock implementation of dialogue.Client.
type Client struct {
	mu sync.Mutex

	// Replies are returned by FetchResponse in run order; the last repeats.
	Replies []string

	// PendingPolls is how many polls report pending before completion.
	PendingPolls int

	// Stuck keeps every run pending forever.
	Stuck bool

	// FailRun makes every run end in StatusFailed.
	FailRun bool

	// StuckRuns keeps only the runs with these 1-based numbers pending
	// forever; the rest follow PendingPolls.
	StuckRuns []int

	// RejectWhileRunning makes PostMessage fail while a run has neither
	// finished nor been cancelled.
	RejectWhileRunning bool

	// Errors returned by the corresponding methods when non-nil.
	CreateErr  error
	PostErr    error
	RequestErr error
	PollErr    error
	FetchErr   error
	CancelErr  error

	// OnPoll, if set, is called on every PollStatus before answering.
	OnPoll func(threadID, runID string)

	threads  int
	runs     int
	polls     map[string]int
	running   map[string]bool
	messages  []Message
	deleted   []string
	cancelled []string
}

// ErrRunActive is returned by PostMessage under RejectWhileRunning.
var ErrRunActive = errors.New("mock dialogue: thread has an active run")

func (c *Client) stuck(runID string) bool {
	if c.Stuck {
		return true
	}
	var n int
	_, _ = fmt.Sscanf(runID, "run-%d", &n)
	return slices.Contains(c.StuckRuns, n)
}

// CreateThread implements dialogue.Client.
func (c *Client) CreateThread(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateErr != nil {
		return "", c.CreateErr
	}
	c.threads++
	return fmt.Sprintf("thread-%d", c.threads), nil
}

// PostMessage implements dialogue.Client.
func (c *Client) PostMessage(_ context.Context, threadID string, role dialogue.Role, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PostErr != nil {
		return c.PostErr
	}
	if c.RejectWhileRunning {
		for id, live := range c.running {
			if live {
				return fmt.Errorf("%w: %s", ErrRunActive, id)
			}
		}
	}
	c.messages = append(c.messages, Message{ThreadID: threadID, Role: role, Text: text})
	return nil
}

// RequestResponse implements dialogue.Client.
func (c *Client) RequestResponse(context.Context, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RequestErr != nil {
		return "", c.RequestErr
	}
	c.runs++
	id := fmt.Sprintf("run-%d", c.runs)
	if c.running == nil {
		c.running = make(map[string]bool)
	}
	c.running[id] = true
	return id, nil
}

// PollStatus implements dialogue.Client.
func (c *Client) PollStatus(_ context.Context, threadID, runID string) (dialogue.Status, error) {
	if c.OnPoll != nil {
		c.OnPoll(threadID, runID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PollErr != nil {
		return dialogue.StatusFailed, c.PollErr
	}
	if c.polls == nil {
		c.polls = make(map[string]int)
	}
	c.polls[runID]++
	if c.running != nil && !c.running[runID] && slices.Contains(c.cancelled, runID) {
		return dialogue.StatusFailed, dialogue.ErrRunCancelled
	}
	switch {
	case c.stuck(runID) || c.polls[runID] <= c.PendingPolls:
		return dialogue.StatusPending, nil
	case c.FailRun:
		delete(c.running, runID)
		return dialogue.StatusFailed, nil
	default:
		delete(c.running, runID)
		return dialogue.StatusCompleted, nil
	}
}

// FetchResponse implements dialogue.Client.
func (c *Client) FetchResponse(_ context.Context, _, runID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FetchErr != nil {
		return "", c.FetchErr
	}
	if len(c.Replies) == 0 {
		return "", dialogue.ErrNoResponse
	}
	var n int
	_, _ = fmt.Sscanf(runID, "run-%d", &n)
	return c.Replies[min(max(n-1, 0), len(c.Replies)-1)], nil
}

// CancelRun implements dialogue.Client.
func (c *Client) CancelRun(_ context.Context, _, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, runID)
	if c.CancelErr != nil {
		return c.CancelErr
	}
	delete(c.running, runID)
	return nil
}

// DeleteThread implements dialogue.Client.
func (c *Client) DeleteThread(_ context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, threadID)
	return nil
}

// Messages returns every posted message in order. Thread-safe.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Polls returns the total number of PollStatus calls. Thread-safe.
func (c *Client) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.polls {
		n += p
	}
	return n
}

// Runs returns the number of runs requested. Thread-safe.
func (c *Client) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Deleted returns the IDs passed to DeleteThread. Thread-safe.
func (c *Client) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// Cancelled returns the run IDs passed to CancelRun. Thread-safe.
func (c *Client) Cancelled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cancelled...)
}

// Ensure Client implements dialogue.Client at compile time.
var _ dialogue.Client = (*Client)(nil)
