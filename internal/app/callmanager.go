package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/call"
	"github.com/MrWong99/dispatchvoice/internal/events"
	"github.com/MrWong99/dispatchvoice/internal/extract"
)

// DefaultEndTimeout bounds EndCall when the caller's context has no deadline.
const DefaultEndTimeout = 15 * time.Second

// CallInfo describes the live or most recent call.
type CallInfo struct {
	CallID    string          `json:"call_id,omitempty"`
	Active    bool            `json:"active"`
	StartedAt time.Time       `json:"started_at,omitzero"`
	EndReason string          `json:"end_reason,omitempty"`
	Summary   extract.Summary `json:"summary"`
}

// CallManager is the single owner of the call controller. The HTTP API, the
// event socket, the MCP tools and shutdown all reach the controller through
// it. All exported methods are safe for concurrent use.
type CallManager struct {
	ctrl       *call.Controller
	endTimeout time.Duration
}

var _ events.Controller = (*CallManager)(nil)

// NewCallManager wraps ctrl. A non-positive endTimeout selects
// [DefaultEndTimeout].
func NewCallManager(ctrl *call.Controller, endTimeout time.Duration) *CallManager {
	if endTimeout <= 0 {
		endTimeout = DefaultEndTimeout
	}
	return &CallManager{ctrl: ctrl, endTimeout: endTimeout}
}

// Start begins a new call and returns its info. It fails with
// [call.ErrCallActive] while another call is live.
func (m *CallManager) Start(ctx context.Context) (CallInfo, error) {
	s, err := m.ctrl.StartCall(ctx)
	if err != nil {
		return CallInfo{}, err
	}
	return infoOf(s), nil
}

// StartCall implements [events.Controller].
func (m *CallManager) StartCall(ctx context.Context) error {
	_, err := m.Start(ctx)
	return err
}

// EndCall implements [events.Controller]. It blocks until the call has been
// torn down or ctx expires.
func (m *CallManager) EndCall(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.endTimeout)
		defer cancel()
	}
	s := m.ctrl.Current()
	if err := m.ctrl.EndCall(ctx); err != nil {
		return err
	}
	if s != nil {
		slog.Info("call ended", "call_id", s.ID(), "duration", time.Since(s.StartedAt()).Round(time.Millisecond))
	}
	return nil
}

// Stop ends the live call, if any. It is used on shutdown.
func (m *CallManager) Stop(ctx context.Context) error {
	if !m.ctrl.Active() {
		return nil
	}
	err := m.EndCall(ctx)
	if errors.Is(err, call.ErrNoCall) {
		return nil
	}
	return err
}

// Wait blocks until the current call has been torn down and returns the
// device error that ended it, if any.
func (m *CallManager) Wait() error { return m.ctrl.Wait() }

// Active reports whether a call is in progress.
func (m *CallManager) Active() bool { return m.ctrl.Active() }

// Info returns the live or most recent call. The zero value is returned
// before the first call.
func (m *CallManager) Info() CallInfo {
	s := m.ctrl.Current()
	if s == nil {
		return CallInfo{}
	}
	return infoOf(s)
}

// SetConfig replaces the configuration used by the next call.
func (m *CallManager) SetConfig(cfg call.Config) error {
	if err := m.ctrl.SetConfig(cfg); err != nil {
		return err
	}
	if m.ctrl.Active() {
		slog.Info("call settings updated, the live call keeps its current settings")
	}
	return nil
}

func infoOf(s *call.Session) CallInfo {
	return CallInfo{
		CallID:    s.ID(),
		Active:    s.Active(),
		StartedAt: s.StartedAt(),
		EndReason: s.EndReason(),
		Summary:   s.Summary(),
	}
}
