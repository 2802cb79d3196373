// Package postgres provides a PostgreSQL-backed [calllog.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.StartCall(ctx, callID, time.Now())
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/dispatchvoice/internal/extract"
	"github.com/MrWong99/dispatchvoice/pkg/calllog"
)

var _ calllog.Store = (*Store)(nil)

// Store is a [calllog.Store] on a single [pgxpool.Pool]. All operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks database connectivity. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// StartCall implements [calllog.Store]. Starting a known call ID again is a
// no-op.
func (s *Store) StartCall(ctx context.Context, callID string, at time.Time) error {
	const q = `
		INSERT INTO calls (call_id, started_at)
		VALUES ($1, $2)
		ON CONFLICT (call_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, callID, at); err != nil {
		return fmt.Errorf("calllog postgres: start call: %w", err)
	}
	return nil
}

// AppendEntry implements [calllog.Store].
func (s *Store) AppendEntry(ctx context.Context, e calllog.Entry) error {
	const q = `
		INSERT INTO call_entries (call_id, role, text, timestamp)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, e.CallID, e.Role, e.Text, e.Timestamp); err != nil {
		return fmt.Errorf("calllog postgres: append entry: %w", err)
	}
	return nil
}

// SaveSummary implements [calllog.Store].
func (s *Store) SaveSummary(ctx context.Context, callID string, sum extract.Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("calllog postgres: encode summary: %w", err)
	}
	const q = `UPDATE calls SET summary = $2 WHERE call_id = $1`
	tag, err := s.pool.Exec(ctx, q, callID, data)
	if err != nil {
		return fmt.Errorf("calllog postgres: save summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("calllog postgres: save summary %s: %w", callID, calllog.ErrNotFound)
	}
	return nil
}

// EndCall implements [calllog.Store].
func (s *Store) EndCall(ctx context.Context, callID string, at time.Time, reason string) error {
	const q = `UPDATE calls SET ended_at = $2, end_reason = $3 WHERE call_id = $1`
	tag, err := s.pool.Exec(ctx, q, callID, at, reason)
	if err != nil {
		return fmt.Errorf("calllog postgres: end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("calllog postgres: end call %s: %w", callID, calllog.ErrNotFound)
	}
	return nil
}

const selectCall = `SELECT call_id, started_at, ended_at, end_reason, summary FROM calls`

// Call implements [calllog.Store].
func (s *Store) Call(ctx context.Context, callID string) (calllog.Record, error) {
	rows, err := s.pool.Query(ctx, selectCall+` WHERE call_id = $1`, callID)
	if err != nil {
		return calllog.Record{}, fmt.Errorf("calllog postgres: get call: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return calllog.Record{}, calllog.ErrNotFound
	}
	if err != nil {
		return calllog.Record{}, fmt.Errorf("calllog postgres: scan call: %w", err)
	}
	return rec, nil
}

// Recent implements [calllog.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]calllog.Record, error) {
	if limit <= 0 {
		return []calllog.Record{}, nil
	}
	rows, err := s.pool.Query(ctx, selectCall+` ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: recent calls: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: scan calls: %w", err)
	}
	if recs == nil {
		recs = []calllog.Record{}
	}
	return recs, nil
}

// Transcript implements [calllog.Store].
func (s *Store) Transcript(ctx context.Context, callID string) ([]calllog.Entry, error) {
	const q = `
		SELECT call_id, role, text, timestamp
		FROM   call_entries
		WHERE  call_id = $1
		ORDER  BY id`
	rows, err := s.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: transcript: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (calllog.Entry, error) {
		var e calllog.Entry
		err := row.Scan(&e.CallID, &e.Role, &e.Text, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("calllog postgres: scan transcript: %w", err)
	}
	if entries == nil {
		entries = []calllog.Entry{}
	}
	return entries, nil
}

func scanRecord(row pgx.CollectableRow) (calllog.Record, error) {
	var (
		r       calllog.Record
		endedAt *time.Time
		summary []byte
	)
	if err := row.Scan(&r.CallID, &r.StartedAt, &endedAt, &r.EndReason, &summary); err != nil {
		return calllog.Record{}, err
	}
	if endedAt != nil {
		r.EndedAt = *endedAt
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &r.Summary); err != nil {
			return calllog.Record{}, fmt.Errorf("decode summary: %w", err)
		}
	}
	return r, nil
}
