// Package anyllm provides a dialogue client on top of any chat-completion
// backend supported by github.com/mozilla-ai/any-llm-go (OpenAI, Anthropic,
// Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp, llamafile).
//
// Chat-completion APIs are synchronous and stateless, so this package keeps
// the threads in memory and runs each completion in the background. Runs are
// polled exactly like hosted assistant runs, which keeps the turn controller's
// bounded wait independent of the backend.
//
// Usage:
//
//	c, err := anyllm.New("ollama", "llama3.1",
//	    anyllm.WithSystemPrompt(prompt),
//	    anyllm.WithLLMOptions(anyllmlib.WithBaseURL("http://localhost:11434")),
//	)
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
)

const defaultRunTimeout = 60 * time.Second

var _ dialogue.Client = (*Client)(nil)

// completeFunc produces the assistant reply for a message history.
type completeFunc func(ctx context.Context, msgs []anyllmlib.Message) (string, error)

// Option is a functional option for Client.
type Option func(*Client)

// WithSystemPrompt sets the instructions sent before every history.
func WithSystemPrompt(s string) Option {
	return func(c *Client) { c.system = s }
}

// WithRunTimeout bounds a single background completion. Defaults to 60 s.
func WithRunTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.runTimeout = d
		}
	}
}

// WithTemperature sets the sampling temperature. Zero keeps the backend default.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens caps the reply length. Zero keeps the backend default.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithLLMOptions passes options (API key, base URL) to the any-llm-go backend.
// Without an API key option the backend reads its usual environment variable.
func WithLLMOptions(opts ...anyllmlib.Option) Option {
	return func(c *Client) { c.llmOpts = append(c.llmOpts, opts...) }
}

// Client implements dialogue.Client with in-memory threads.
type Client struct {
	model       string
	system      string
	runTimeout  time.Duration
	temperature float64
	maxTokens   int
	llmOpts     []anyllmlib.Option
	complete    completeFunc

	mu      sync.Mutex
	threads map[string]*thread
	wg      sync.WaitGroup
}

type thread struct {
	messages []anyllmlib.Message
	runs     map[string]*run
}

type run struct {
	status dialogue.Status
	reply  string
	err    error
	cancel context.CancelFunc
}

// New creates a Client backed by the named provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
func New(providerName, model string, opts ...Option) (*Client, error) {
	if providerName == "" {
		return nil, errors.New("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	c := newClient(model, opts...)
	backend, err := createBackend(providerName, c.llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	c.complete = c.backendComplete(backend)
	return c, nil
}

func newClient(model string, opts ...Option) *Client {
	c := &Client{
		model:      model,
		runTimeout: defaultRunTimeout,
		threads:    make(map[string]*thread),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

func (c *Client) backendComplete(backend anyllmlib.Provider) completeFunc {
	return func(ctx context.Context, msgs []anyllmlib.Message) (string, error) {
		params := anyllmlib.CompletionParams{Model: c.model, Messages: msgs}
		if c.temperature != 0 {
			t := c.temperature
			params.Temperature = &t
		}
		if c.maxTokens > 0 {
			mt := c.maxTokens
			params.MaxTokens = &mt
		}
		resp, err := backend.Completion(ctx, params)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("empty choices in response")
		}
		return resp.Choices[0].Message.ContentString(), nil
	}
}

// CreateThread implements dialogue.Client.
func (c *Client) CreateThread(_ context.Context) (string, error) {
	id := "thread_" + uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[id] = &thread{runs: make(map[string]*run)}
	return id, nil
}

// PostMessage implements dialogue.Client.
func (c *Client) PostMessage(_ context.Context, threadID string, role dialogue.Role, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[threadID]
	if !ok {
		return fmt.Errorf("anyllm: %w: %s", dialogue.ErrUnknownThread, threadID)
	}
	th.messages = append(th.messages, anyllmlib.Message{Role: string(role), Content: text})
	return nil
}

// RequestResponse implements dialogue.Client. The completion runs in the
// background with its own timeout; ctx only guards the request itself.
func (c *Client) RequestResponse(ctx context.Context, threadID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	th, ok := c.threads[threadID]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("anyllm: %w: %s", dialogue.ErrUnknownThread, threadID)
	}
	msgs := make([]anyllmlib.Message, 0, len(th.messages)+1)
	if c.system != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: c.system})
	}
	msgs = append(msgs, th.messages...)

	runCtx, cancel := context.WithTimeout(context.Background(), c.runTimeout)
	id := "run_" + uuid.NewString()
	r := &run{status: dialogue.StatusPending, cancel: cancel}
	th.runs[id] = r
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()
		reply, err := c.complete(runCtx, msgs)
		reply = strings.TrimSpace(reply)

		c.mu.Lock()
		defer c.mu.Unlock()
		switch {
		case r.status != dialogue.StatusPending:
			// Cancelled: the late reply must not land after newer messages.
			slog.Debug("anyllm: dropped reply of cancelled run", "thread", threadID, "run", id)
		case err != nil:
			r.status, r.err = dialogue.StatusFailed, err
			slog.Warn("anyllm: completion failed", "thread", threadID, "run", id, "err", err)
		case reply == "":
			r.status, r.err = dialogue.StatusFailed, dialogue.ErrNoResponse
		default:
			r.status, r.reply = dialogue.StatusCompleted, reply
			if th, ok := c.threads[threadID]; ok {
				th.messages = append(th.messages, anyllmlib.Message{Role: string(dialogue.RoleAssistant), Content: reply})
			}
		}
	}()
	return id, nil
}

func (c *Client) lookup(threadID, runID string) (*run, error) {
	th, ok := c.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("anyllm: %w: %s", dialogue.ErrUnknownThread, threadID)
	}
	r, ok := th.runs[runID]
	if !ok {
		return nil, fmt.Errorf("anyllm: %w: %s", dialogue.ErrUnknownRun, runID)
	}
	return r, nil
}

// PollStatus implements dialogue.Client.
func (c *Client) PollStatus(_ context.Context, threadID, runID string) (dialogue.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(threadID, runID)
	if err != nil {
		return dialogue.StatusFailed, err
	}
	if r.status == dialogue.StatusFailed {
		return r.status, fmt.Errorf("anyllm: completion: %w", r.err)
	}
	return r.status, nil
}

// FetchResponse implements dialogue.Client.
func (c *Client) FetchResponse(_ context.Context, threadID, runID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(threadID, runID)
	if err != nil {
		return "", err
	}
	if r.status != dialogue.StatusCompleted {
		return "", dialogue.ErrNoResponse
	}
	return r.reply, nil
}

// CancelRun implements dialogue.Client. The completion is abandoned and its
// reply discarded.
func (c *Client) CancelRun(_ context.Context, threadID, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(threadID, runID)
	if err != nil {
		if errors.Is(err, dialogue.ErrUnknownThread) {
			return nil
		}
		return err
	}
	if r.status == dialogue.StatusPending {
		r.status, r.err = dialogue.StatusFailed, dialogue.ErrRunCancelled
		r.cancel()
	}
	return nil
}

// DeleteThread implements dialogue.Client. In-flight runs are cancelled.
func (c *Client) DeleteThread(_ context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[threadID]
	if !ok {
		return nil
	}
	for _, r := range th.runs {
		r.cancel()
	}
	delete(c.threads, threadID)
	return nil
}

// Close cancels all runs and waits for their goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, th := range c.threads {
		for _, r := range th.runs {
			r.cancel()
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}
