// Package mcp exposes the dispatch state as Model Context Protocol tools over
// the streamable HTTP transport:
//
//   - classify_transcript runs the extraction rules on a piece of text.
//   - call_summary reports the summary of the live or most recent call.
//   - recent_calls lists logged calls with their summaries.
//   - call_transcript returns the logged transcript of one call.
//
// The tools are read-only; they never touch a running call.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/dispatchvoice/internal/extract"
	"github.com/MrWong99/dispatchvoice/internal/observe"
	"github.com/MrWong99/dispatchvoice/pkg/calllog"
)

// Tool names.
const (
	ToolClassify   = "classify_transcript"
	ToolSummary    = "call_summary"
	ToolRecent     = "recent_calls"
	ToolTranscript = "call_transcript"
)

const (
	defaultRecent = 10
	maxRecent     = 100
)

// SummarySource reports the summary of the live or most recent call.
type SummarySource interface {
	Summary() (callID string, s extract.Summary, active bool)
}

// Deps are the read models served by the tools.
type Deps struct {
	// Engine defaults to [extract.Default].
	Engine *extract.Engine

	// Summaries backs call_summary. Required.
	Summaries SummarySource

	// Log backs recent_calls and call_transcript. Without it those tools
	// are not offered.
	Log calllog.Store

	// Metrics may be nil.
	Metrics *observe.Metrics

	// Version is reported to clients.
	Version string
}

// ClassifyInput is the argument of classify_transcript.
type ClassifyInput struct {
	Text string `json:"text" jsonschema:"caller speech to classify"`
}

// SummaryOutput is the result of call_summary.
type SummaryOutput struct {
	CallID  string          `json:"call_id,omitempty"`
	Active  bool            `json:"active"`
	Summary extract.Summary `json:"summary"`
}

// RecentInput is the argument of recent_calls.
type RecentInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of calls, newest first (default 10)"`
}

// CallInfo is one call in recent_calls.
type CallInfo struct {
	CallID    string          `json:"call_id"`
	StartedAt string          `json:"started_at" jsonschema:"RFC 3339 start time"`
	EndedAt   string          `json:"ended_at,omitempty" jsonschema:"RFC 3339 end time, absent while live"`
	EndReason string          `json:"end_reason,omitempty"`
	Summary   extract.Summary `json:"summary"`
}

// RecentOutput is the result of recent_calls.
type RecentOutput struct {
	Calls []CallInfo `json:"calls"`
}

// TranscriptInput is the argument of call_transcript.
type TranscriptInput struct {
	CallID string `json:"call_id" jsonschema:"ID of the call"`
}

// Line is one transcript line.
type Line struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// TranscriptOutput is the result of call_transcript.
type TranscriptOutput struct {
	CallID string `json:"call_id"`
	Lines  []Line `json:"lines"`
}

// NewServer builds the MCP server with all tools registered.
func NewServer(deps Deps) (*mcpsdk.Server, error) {
	if deps.Summaries == nil {
		return nil, errors.New("mcp: summary source is required")
	}
	if deps.Engine == nil {
		deps.Engine = extract.Default()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "dispatchvoice", Version: version}, nil)
	t := &tools{deps: deps}

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolClassify,
		Description: "Classify an emergency description: category, problem, address, victim status, key details and recommended units.",
	}, instrument(t, ToolClassify, t.classify))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolSummary,
		Description: "Emergency summary of the live call, or of the most recent call when none is live.",
	}, instrument(t, ToolSummary, t.summary))
	if deps.Log != nil {
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        ToolRecent,
			Description: "Recently logged calls with their final summaries, newest first.",
		}, instrument(t, ToolRecent, t.recent))
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        ToolTranscript,
			Description: "Logged transcript of one call, oldest line first.",
		}, instrument(t, ToolTranscript, t.transcript))
	}
	return srv, nil
}

// Handler serves srv over the streamable HTTP transport.
func Handler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}

type tools struct {
	deps Deps
}

// instrument records tool metrics around h. Errors are returned to the
// client as tool errors, not protocol errors.
func instrument[In, Out any](t *tools, name string, h func(context.Context, In) (Out, error)) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		start := time.Now()
		out, err := h(ctx, in)
		status := "ok"
		if err != nil {
			status = "error"
		}
		if m := t.deps.Metrics; m != nil {
			m.RecordToolCall(ctx, name, status)
			m.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil {
			slog.Debug("mcp: tool failed", "tool", name, "err", err)
			var zero Out
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			}, zero, nil
		}
		return nil, out, nil
	}
}

func (t *tools) classify(_ context.Context, in ClassifyInput) (extract.Summary, error) {
	if in.Text == "" {
		return extract.Summary{}, errors.New("text must not be empty")
	}
	var s extract.Summary
	t.deps.Engine.Apply(&s, in.Text)
	return s, nil
}

func (t *tools) summary(context.Context, struct{}) (SummaryOutput, error) {
	id, s, active := t.deps.Summaries.Summary()
	return SummaryOutput{CallID: id, Active: active, Summary: s}, nil
}

func (t *tools) recent(ctx context.Context, in RecentInput) (RecentOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultRecent
	}
	limit = min(limit, maxRecent)
	recs, err := t.deps.Log.Recent(ctx, limit)
	if err != nil {
		return RecentOutput{}, fmt.Errorf("list calls: %w", err)
	}
	out := RecentOutput{Calls: make([]CallInfo, 0, len(recs))}
	for _, r := range recs {
		ci := CallInfo{CallID: r.CallID, StartedAt: r.StartedAt.Format(time.RFC3339), EndReason: r.EndReason, Summary: r.Summary}
		if !r.Live() {
			ci.EndedAt = r.EndedAt.Format(time.RFC3339)
		}
		out.Calls = append(out.Calls, ci)
	}
	return out, nil
}

func (t *tools) transcript(ctx context.Context, in TranscriptInput) (TranscriptOutput, error) {
	if in.CallID == "" {
		return TranscriptOutput{}, errors.New("call_id must not be empty")
	}
	entries, err := t.deps.Log.Transcript(ctx, in.CallID)
	if err != nil {
		return TranscriptOutput{}, fmt.Errorf("transcript of %s: %w", in.CallID, err)
	}
	out := TranscriptOutput{CallID: in.CallID, Lines: make([]Line, 0, len(entries))}
	for _, e := range entries {
		out.Lines = append(out.Lines, Line{Role: e.Role, Text: e.Text, Timestamp: e.Timestamp.Format(time.RFC3339Nano)})
	}
	return out, nil
}
