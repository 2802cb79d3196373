package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/dispatchvoice/internal/call"
	"github.com/MrWong99/dispatchvoice/internal/extract"
	mcpserver "github.com/MrWong99/dispatchvoice/internal/mcp"
	"github.com/MrWong99/dispatchvoice/pkg/calllog"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

type errorBody struct {
	Error string `json:"error"`
}

type summaryBody struct {
	CallID  string          `json:"call_id,omitempty"`
	Active  bool            `json:"active"`
	Summary extract.Summary `json:"summary"`
}

type callRecord struct {
	CallID    string          `json:"call_id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at,omitzero"`
	EndReason string          `json:"end_reason,omitempty"`
	Summary   extract.Summary `json:"summary"`
}

type transcriptLine struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type callDetail struct {
	callRecord
	Transcript []transcriptLine `json:"transcript"`
}

func recordOf(r calllog.Record) callRecord {
	return callRecord{
		CallID:    r.CallID,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		EndReason: r.EndReason,
		Summary:   r.Summary,
	}
}

// routes builds the HTTP mux. Everything is registered here so the route
// table reads in one place.
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/call/start", a.handleStart)
	mux.HandleFunc("POST /api/call/end", a.handleEnd)
	mux.HandleFunc("GET /api/call", a.handleCall)
	mux.HandleFunc("GET /api/summary", a.handleSummary)
	mux.HandleFunc("GET /api/rules", a.handleRules)
	mux.HandleFunc("GET /api/calls", a.handleRecent)
	mux.HandleFunc("GET /api/calls/{id}", a.handleCallDetail)
	mux.Handle("GET /ws", a.hub)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)

	if a.mcpServer != nil {
		mux.Handle(a.cfg.MCP.Path, mcpserver.Handler(a.mcpServer))
	}
	return mux
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	info, err := a.calls.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, info)
	case errors.Is(err, call.ErrCallActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, call.ErrDevice):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (a *App) handleEnd(w http.ResponseWriter, r *http.Request) {
	err := a.calls.EndCall(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a.calls.Info())
	case errors.Is(err, call.ErrNoCall):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *App) handleCall(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.calls.Info())
}

func (a *App) handleSummary(w http.ResponseWriter, _ *http.Request) {
	id, s, active := a.latest.Summary()
	writeJSON(w, http.StatusOK, summaryBody{CallID: id, Active: active, Summary: s})
}

func (a *App) handleRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Rules())
}

func (a *App) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxRecentLimit)
	}
	recs, err := a.callLog.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]callRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordOf(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := a.callLog.Call(r.Context(), id)
	if errors.Is(err, calllog.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	entries, err := a.callLog.Transcript(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	d := callDetail{callRecord: recordOf(rec), Transcript: make([]transcriptLine, 0, len(entries))}
	for _, e := range entries {
		d.Transcript = append(d.Transcript, transcriptLine{Role: e.Role, Text: e.Text, Timestamp: e.Timestamp})
	}
	writeJSON(w, http.StatusOK, d)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
