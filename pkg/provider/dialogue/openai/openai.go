// Package openai provides a dialogue client backed by the OpenAI Assistants
// API. The assistant (model, instructions) is configured on the OpenAI side
// and referenced by its ID.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
)

var _ dialogue.Client = (*Client)(nil)

// Client implements dialogue.Client with OpenAI threads and runs.
type Client struct {
	client       oai.Client
	assistantID  string
	instructions string
}

type config struct {
	baseURL      string
	instructions string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithInstructions appends run-level instructions to the assistant's own.
func WithInstructions(s string) Option {
	return func(c *config) { c.instructions = s }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a Client for the given assistant.
func New(apiKey, assistantID string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai dialogue: apiKey must not be empty")
	}
	if assistantID == "" {
		return nil, errors.New("openai dialogue: assistantID must not be empty")
	}
	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	return &Client{
		client:       oai.NewClient(reqOpts...),
		assistantID:  assistantID,
		instructions: cfg.instructions,
	}, nil
}

// CreateThread implements dialogue.Client.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	th, err := c.client.Beta.Threads.New(ctx, oai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("openai dialogue: create thread: %w", err)
	}
	return th.ID, nil
}

// PostMessage implements dialogue.Client.
func (c *Client) PostMessage(ctx context.Context, threadID string, role dialogue.Role, text string) error {
	r := oai.BetaThreadMessageNewParamsRoleUser
	if role == dialogue.RoleAssistant {
		r = oai.BetaThreadMessageNewParamsRoleAssistant
	}
	_, err := c.client.Beta.Threads.Messages.New(ctx, threadID, oai.BetaThreadMessageNewParams{
		Content: oai.BetaThreadMessageNewParamsContentUnion{OfString: oai.String(text)},
		Role:    r,
	})
	if err != nil {
		return fmt.Errorf("openai dialogue: post message: %w", err)
	}
	return nil
}

// RequestResponse implements dialogue.Client.
func (c *Client) RequestResponse(ctx context.Context, threadID string) (string, error) {
	params := oai.BetaThreadRunNewParams{AssistantID: c.assistantID}
	if c.instructions != "" {
		params.AdditionalInstructions = oai.String(c.instructions)
	}
	run, err := c.client.Beta.Threads.Runs.New(ctx, threadID, params)
	if err != nil {
		return "", fmt.Errorf("openai dialogue: create run: %w", err)
	}
	return run.ID, nil
}

// PollStatus implements dialogue.Client.
func (c *Client) PollStatus(ctx context.Context, threadID, runID string) (dialogue.Status, error) {
	run, err := c.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return dialogue.StatusFailed, fmt.Errorf("openai dialogue: get run: %w", err)
	}
	st := mapStatus(run.Status)
	if st == dialogue.StatusFailed && run.LastError.Message != "" {
		return st, fmt.Errorf("openai dialogue: run %s: %s", run.Status, run.LastError.Message)
	}
	return st, nil
}

// mapStatus folds the Assistants run lifecycle into the three dialogue states.
// A run that requires tool output can never finish here, so it counts as
// failed.
func mapStatus(s oai.RunStatus) dialogue.Status {
	switch s {
	case oai.RunStatusCompleted:
		return dialogue.StatusCompleted
	case oai.RunStatusQueued, oai.RunStatusInProgress, oai.RunStatusCancelling:
		return dialogue.StatusPending
	default:
		return dialogue.StatusFailed
	}
}

// FetchResponse implements dialogue.Client. It returns the newest assistant
// message of the run.
func (c *Client) FetchResponse(ctx context.Context, threadID, runID string) (string, error) {
	params := oai.BetaThreadMessageListParams{
		Order: oai.BetaThreadMessageListParamsOrderDesc,
		Limit: oai.Int(10),
	}
	if runID != "" {
		params.RunID = oai.String(runID)
	}
	page, err := c.client.Beta.Threads.Messages.List(ctx, threadID, params)
	if err != nil {
		return "", fmt.Errorf("openai dialogue: list messages: %w", err)
	}
	for _, m := range page.Data {
		if m.Role != oai.MessageRoleAssistant {
			continue
		}
		var b strings.Builder
		for _, part := range m.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			return text, nil
		}
	}
	return "", dialogue.ErrNoResponse
}

// cancelPollInterval paces the wait for a cancelled run to settle.
const cancelPollInterval = 250 * time.Millisecond

// CancelRun implements dialogue.Client. The Assistants API rejects messages
// on a thread while a run is cancelling, so it waits for the run to settle.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	run, err := c.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusNotFound) {
			// The run already finished.
			return nil
		}
		return fmt.Errorf("openai dialogue: cancel run: %w", err)
	}
	t := time.NewTicker(cancelPollInterval)
	defer t.Stop()
	for mapStatus(run.Status) == dialogue.StatusPending {
		select {
		case <-ctx.Done():
			return fmt.Errorf("openai dialogue: cancel run: %w", ctx.Err())
		case <-t.C:
		}
		if run, err = c.client.Beta.Threads.Runs.Get(ctx, threadID, runID); err != nil {
			return fmt.Errorf("openai dialogue: get run: %w", err)
		}
	}
	return nil
}

// DeleteThread implements dialogue.Client.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := c.client.Beta.Threads.Delete(ctx, threadID); err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("openai dialogue: delete thread: %w", err)
	}
	return nil
}
