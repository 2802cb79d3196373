package resilience

import (
	"context"

	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
)

// DialogueBreaker guards a [dialogue.Client] with a single circuit breaker.
//
// Dialogue threads live on one backend for the whole call, so there is no
// failover between backends. The breaker makes turns fail fast while the
// backend is down, which plays the hold message without waiting for the poll
// timeout. A run that ends in [dialogue.StatusFailed] counts as a failure.
type DialogueBreaker struct {
	client  dialogue.Client
	breaker *CircuitBreaker
}

var _ dialogue.Client = (*DialogueBreaker)(nil)

// NewDialogueBreaker wraps client.
func NewDialogueBreaker(client dialogue.Client, cfg CircuitBreakerConfig) *DialogueBreaker {
	return &DialogueBreaker{client: client, breaker: NewCircuitBreaker(cfg)}
}

// State reports the breaker state.
func (d *DialogueBreaker) State() State { return d.breaker.State() }

// CreateThread implements [dialogue.Client].
func (d *DialogueBreaker) CreateThread(ctx context.Context) (string, error) {
	var id string
	err := d.breaker.Execute(func() (err error) {
		id, err = d.client.CreateThread(ctx)
		return err
	})
	return id, err
}

// PostMessage implements [dialogue.Client].
func (d *DialogueBreaker) PostMessage(ctx context.Context, threadID string, role dialogue.Role, text string) error {
	return d.breaker.Execute(func() error {
		return d.client.PostMessage(ctx, threadID, role, text)
	})
}

// RequestResponse implements [dialogue.Client].
func (d *DialogueBreaker) RequestResponse(ctx context.Context, threadID string) (string, error) {
	var id string
	err := d.breaker.Execute(func() (err error) {
		id, err = d.client.RequestResponse(ctx, threadID)
		return err
	})
	return id, err
}

// PollStatus implements [dialogue.Client].
func (d *DialogueBreaker) PollStatus(ctx context.Context, threadID, runID string) (dialogue.Status, error) {
	var st dialogue.Status
	err := d.breaker.Execute(func() (err error) {
		st, err = d.client.PollStatus(ctx, threadID, runID)
		if err == nil && st == dialogue.StatusFailed {
			return errRunFailed
		}
		return err
	})
	if err == errRunFailed {
		return st, nil
	}
	if err != nil {
		return dialogue.StatusFailed, err
	}
	return st, nil
}

// FetchResponse implements [dialogue.Client].
func (d *DialogueBreaker) FetchResponse(ctx context.Context, threadID, runID string) (string, error) {
	var text string
	err := d.breaker.Execute(func() (err error) {
		text, err = d.client.FetchResponse(ctx, threadID, runID)
		return err
	})
	return text, err
}

// CancelRun implements [dialogue.Client]. Like DeleteThread it bypasses the
// breaker: it runs after a failed turn, when the breaker may already be open.
func (d *DialogueBreaker) CancelRun(ctx context.Context, threadID, runID string) error {
	return d.client.CancelRun(ctx, threadID, runID)
}

// DeleteThread implements [dialogue.Client]. Cleanup bypasses the breaker so
// threads are released even while it is open.
func (d *DialogueBreaker) DeleteThread(ctx context.Context, threadID string) error {
	return d.client.DeleteThread(ctx, threadID)
}
