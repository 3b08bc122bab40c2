package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/conductor/internal/miner"
)

// CallQuery filters call logs. Zero fields do not filter.
type CallQuery struct {
	Since time.Time
	Until time.Time
	Tool  string
	Limit int
}

// CallLog stores tool-call records.
type CallLog struct {
	db *DB
}

// NewCallLog creates a call log over db.
func NewCallLog(db *DB) *CallLog {
	return &CallLog{db: db}
}

// Record appends one call.
func (c *CallLog) Record(ctx context.Context, rec miner.CallRecord) error {
	return c.RecordBatch(ctx, []miner.CallRecord{rec})
}

// RecordBatch appends calls in a single transaction.
func (c *CallLog) RecordBatch(ctx context.Context, recs []miner.CallRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := c.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin call log batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO call_logs (session_id, tool_name, success, latency, called_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing call log insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if r.Tool == "" {
			tx.Rollback()
			return fmt.Errorf("call record has no tool name")
		}
		if _, err := stmt.ExecContext(ctx, r.SessionID, r.Tool, r.Success, r.Latency, r.Timestamp.UnixMicro()); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting call log: %w", err)
		}
	}
	return tx.Commit()
}

// Records returns matching calls in chronological order.
func (c *CallLog) Records(ctx context.Context, q CallQuery) ([]miner.CallRecord, error) {
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "called_at >= ?")
		args = append(args, q.Since.UnixMicro())
	}
	if !q.Until.IsZero() {
		where = append(where, "called_at < ?")
		args = append(args, q.Until.UnixMicro())
	}
	if q.Tool != "" {
		where = append(where, "tool_name = ?")
		args = append(args, q.Tool)
	}

	query := "SELECT session_id, tool_name, success, latency, called_at FROM call_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY called_at, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := c.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying call logs: %w", err)
	}
	defer rows.Close()

	var out []miner.CallRecord
	for rows.Next() {
		var (
			r  miner.CallRecord
			ts int64
		)
		if err := rows.Scan(&r.SessionID, &r.Tool, &r.Success, &r.Latency, &ts); err != nil {
			return nil, fmt.Errorf("scanning call log: %w", err)
		}
		r.Timestamp = time.UnixMicro(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored calls.
func (c *CallLog) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM call_logs").Scan(&n)
	return n, err
}

// Prune deletes calls older than before and returns how many were removed.
func (c *CallLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.sql.ExecContext(ctx, "DELETE FROM call_logs WHERE called_at < ?", before.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("pruning call logs: %w", err)
	}
	return res.RowsAffected()
}
