package mcp_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/dispatchvoice/internal/events"
	"github.com/MrWong99/dispatchvoice/internal/extract"
	"github.com/MrWong99/dispatchvoice/internal/mcp"
	"github.com/MrWong99/dispatchvoice/pkg/calllog"
	"github.com/MrWong99/dispatchvoice/pkg/calllog/memory"
)

func connect(t *testing.T, deps mcp.Deps) *mcpsdk.ClientSession {
	t.Helper()
	srv, err := mcp.NewServer(deps)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx := context.Background()
	ct, st := mcpsdk.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, st, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call[T any](t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) (T, *mcpsdk.CallToolResult) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if args == nil {
		args = map[string]any{}
	}
	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	var out T
	if res.IsError || len(res.Content) == 0 {
		return out, res
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("decode %s result %q: %v", name, text.Text, err)
	}
	return out, res
}

func TestTools_Listed(t *testing.T) {
	t.Parallel()
	cs := connect(t, mcp.Deps{Summaries: &events.Latest{}, Log: &memory.Store{}})
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{mcp.ToolTranscript, mcp.ToolSummary, mcp.ToolClassify, mcp.ToolRecent}
	slices.Sort(want)
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestTools_WithoutLog(t *testing.T) {
	t.Parallel()
	cs := connect(t, mcp.Deps{Summaries: &events.Latest{}})
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tools) != 2 {
		t.Errorf("tools = %d, want classify and summary only", len(res.Tools))
	}
}

func TestClassifyTranscript(t *testing.T) {
	t.Parallel()
	cs := connect(t, mcp.Deps{Summaries: &events.Latest{}})
	got, res := call[extract.Summary](t, cs, mcp.ToolClassify, map[string]any{
		"text": "My father is having a heart attack at 123 Main Street, he is unconscious",
	})
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	if got.Category != extract.CategoryMedical || got.Problem != extract.ProblemHeartAttack {
		t.Errorf("classification = %+v", got)
	}
	if got.Address != "123 Main Street" {
		t.Errorf("address = %q", got.Address)
	}
	if !slices.Contains(got.Units, "Medical Helicopter") {
		t.Errorf("units = %v", got.Units)
	}
}

func TestClassifyTranscript_EmptyText(t *testing.T) {
	t.Parallel()
	cs := connect(t, mcp.Deps{Summaries: &events.Latest{}})
	_, res := call[extract.Summary](t, cs, mcp.ToolClassify, map[string]any{"text": ""})
	if !res.IsError {
		t.Fatal("expected tool error for empty text")
	}
}

func TestCallSummary(t *testing.T) {
	t.Parallel()
	latest := &events.Latest{}
	latest.Publish(events.Lifecycle(events.TypeCallStarted, "call-1", ""))
	latest.Publish(events.SummaryUpdate("call-1", extract.Summary{Category: extract.CategoryFire, Address: "456 Park Avenue"}))

	cs := connect(t, mcp.Deps{Summaries: latest})
	got, _ := call[mcp.SummaryOutput](t, cs, mcp.ToolSummary, nil)
	if got.CallID != "call-1" || !got.Active || got.Summary.Category != extract.CategoryFire {
		t.Errorf("summary = %+v", got)
	}
}

func TestRecentCallsAndTranscript(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := &memory.Store{}
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := log.StartCall(ctx, id, start.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	_ = log.AppendEntry(ctx, calllog.Entry{CallID: "b", Role: "caller", Text: "help", Timestamp: start})
	_ = log.AppendEntry(ctx, calllog.Entry{CallID: "b", Role: "responder", Text: "where are you?", Timestamp: start.Add(time.Second)})
	_ = log.EndCall(ctx, "a", start.Add(time.Hour), "")

	cs := connect(t, mcp.Deps{Summaries: &events.Latest{}, Log: log})

	recent, _ := call[mcp.RecentOutput](t, cs, mcp.ToolRecent, map[string]any{"limit": 2})
	if len(recent.Calls) != 2 || recent.Calls[0].CallID != "c" || recent.Calls[1].CallID != "b" {
		t.Fatalf("recent = %+v", recent.Calls)
	}
	if recent.Calls[0].EndedAt != "" {
		t.Errorf("live call has end time %q", recent.Calls[0].EndedAt)
	}

	tr, _ := call[mcp.TranscriptOutput](t, cs, mcp.ToolTranscript, map[string]any{"call_id": "b"})
	if len(tr.Lines) != 2 || tr.Lines[1].Role != "responder" || tr.Lines[1].Text != "where are you?" {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestHandler_StreamableHTTP(t *testing.T) {
	t.Parallel()
	srv, err := mcp.NewServer(mcp.Deps{Summaries: &events.Latest{}})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(mcp.Handler(srv))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: ts.URL}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: mcp.ToolClassify, Arguments: map[string]any{"text": "someone broke in, a break-in at my house"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	text := res.Content[0].(*mcpsdk.TextContent).Text
	if !strings.Contains(text, `"POLICE"`) {
		t.Errorf("result = %s", text)
	}
}

func TestNewServer_RequiresSummaries(t *testing.T) {
	t.Parallel()
	if _, err := mcp.NewServer(mcp.Deps{}); err == nil {
		t.Fatal("expected error")
	}
}
