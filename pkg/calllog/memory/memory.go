// Package memory provides an in-memory [calllog.Store] for tests and for
// running without a database.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/extract"
	"github.com/MrWong99/dispatchvoice/pkg/calllog"
)

var _ calllog.Store = (*Store)(nil)

// Store keeps call records in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	order   []string
	records map[string]calllog.Record
	entries map[string][]calllog.Entry

	// Err, if set, is returned by every write method.
	Err error
}

func (s *Store) init() {
	if s.records == nil {
		s.records = make(map[string]calllog.Record)
		s.entries = make(map[string][]calllog.Entry)
	}
}

// StartCall implements [calllog.Store].
func (s *Store) StartCall(_ context.Context, callID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.init()
	if _, ok := s.records[callID]; ok {
		return nil
	}
	s.records[callID] = calllog.Record{CallID: callID, StartedAt: at}
	s.order = append(s.order, callID)
	return nil
}

// AppendEntry implements [calllog.Store].
func (s *Store) AppendEntry(_ context.Context, e calllog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.init()
	if _, ok := s.records[e.CallID]; !ok {
		return fmt.Errorf("append entry %s: %w", e.CallID, calllog.ErrNotFound)
	}
	s.entries[e.CallID] = append(s.entries[e.CallID], e)
	return nil
}

// SaveSummary implements [calllog.Store].
func (s *Store) SaveSummary(_ context.Context, callID string, sum extract.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.init()
	r, ok := s.records[callID]
	if !ok {
		return fmt.Errorf("save summary %s: %w", callID, calllog.ErrNotFound)
	}
	r.Summary = sum.Clone()
	s.records[callID] = r
	return nil
}

// EndCall implements [calllog.Store].
func (s *Store) EndCall(_ context.Context, callID string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.init()
	r, ok := s.records[callID]
	if !ok {
		return fmt.Errorf("end call %s: %w", callID, calllog.ErrNotFound)
	}
	r.EndedAt, r.EndReason = at, reason
	s.records[callID] = r
	return nil
}

// Call implements [calllog.Store].
func (s *Store) Call(_ context.Context, callID string) (calllog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[callID]
	if !ok {
		return calllog.Record{}, calllog.ErrNotFound
	}
	r.Summary = r.Summary.Clone()
	return r, nil
}

// Transcript implements [calllog.Store].
func (s *Store) Transcript(_ context.Context, callID string) ([]calllog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calllog.Entry{}, s.entries[callID]...), nil
}

// Recent implements [calllog.Store].
func (s *Store) Recent(_ context.Context, limit int) ([]calllog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []calllog.Record{}
	for _, id := range slices.Backward(s.order) {
		if len(out) >= limit {
			break
		}
		r := s.records[id]
		r.Summary = r.Summary.Clone()
		out = append(out, r)
	}
	return out, nil
}
