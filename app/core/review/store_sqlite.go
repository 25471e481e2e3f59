package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deskmind/app/core/pipeline"
	"deskmind/app/core/review/db"
)

// SQLiteStore persists drafts across restarts. Used by the webhook path.
type SQLiteStore struct {
	db *db.DB
}

func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

func (s *SQLiteStore) Create(ctx context.Context, d Draft) (Draft, error) {
	if strings.TrimSpace(d.ConversationID) == "" {
		return Draft{}, fmt.Errorf("conversation_id is required")
	}
	d.Status = StatusPending
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().Unix()
	}
	traceJSON, err := json.Marshal(d.Trace)
	if err != nil {
		return Draft{}, err
	}

	query := `INSERT INTO drafts (id, conversation_id, user_id, customer_message, content, confidence, reasoning, source, status, trace, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`
	result, err := s.db.Conn().ExecContext(ctx, query,
		d.ID, d.ConversationID, d.UserID, d.CustomerMessage, d.Content,
		d.Confidence, d.Reasoning, d.Source, traceJSON, d.CreatedAt)
	if err != nil {
		return Draft{}, err
	}
	index, err := result.LastInsertId()
	if err != nil {
		return Draft{}, err
	}
	d.Index = index
	return d, nil
}

func (s *SQLiteStore) Get(ctx context.Context, index int64) (Draft, error) {
	query := `SELECT idx, id, conversation_id, user_id, customer_message, content, confidence, COALESCE(reasoning, ''), source, status, trace, created_at, COALESCE(resolved_at, 0), COALESCE(sent_at, 0), COALESCE(final_content, '')
FROM drafts WHERE idx = ?`
	return s.scanDraft(s.db.Conn().QueryRowContext(ctx, query, index))
}

func (s *SQLiteStore) List(ctx context.Context, status string, limit int) ([]Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		query string
		args  []interface{}
	)
	base := `SELECT idx, id, conversation_id, user_id, customer_message, content, confidence, COALESCE(reasoning, ''), source, status, trace, created_at, COALESCE(resolved_at, 0), COALESCE(sent_at, 0), COALESCE(final_content, '') FROM drafts`
	if strings.TrimSpace(status) == "" {
		query = base + ` ORDER BY idx ASC LIMIT ?`
		args = []interface{}{limit}
	} else {
		query = base + ` WHERE status = ? ORDER BY idx ASC LIMIT ?`
		args = []interface{}{status, limit}
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Draft, 0, limit)
	for rows.Next() {
		d, err := s.scanDraft(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Resolve(ctx context.Context, index int64, status string, finalContent string) (Draft, error) {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Draft{}, err
	}
	defer tx.Rollback()

	// Guarded update: only a pending draft can move to a terminal status.
	result, err := tx.ExecContext(ctx,
		`UPDATE drafts SET status = ?, resolved_at = ?, final_content = ? WHERE idx = ? AND status = 'pending'`,
		status, time.Now().Unix(), finalContent, index)
	if err != nil {
		return Draft{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Draft{}, err
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM drafts WHERE idx = ?`, index).Scan(&current)
		if err == sql.ErrNoRows {
			return Draft{}, ErrNotFound
		}
		if err != nil {
			return Draft{}, err
		}
		return Draft{}, ErrAlreadyResolved
	}
	if err := tx.Commit(); err != nil {
		return Draft{}, err
	}
	return s.Get(ctx, index)
}

func (s *SQLiteStore) MarkSent(ctx context.Context, index int64) (Draft, error) {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Draft{}, err
	}
	defer tx.Rollback()

	// Only a delivered approve/edit moves to sent.
	result, err := tx.ExecContext(ctx,
		`UPDATE drafts SET status = 'sent', sent_at = ? WHERE idx = ? AND status IN ('approved', 'edited')`,
		time.Now().Unix(), index)
	if err != nil {
		return Draft{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Draft{}, err
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM drafts WHERE idx = ?`, index).Scan(&current)
		if err == sql.ErrNoRows {
			return Draft{}, ErrNotFound
		}
		if err != nil {
			return Draft{}, err
		}
		if current == StatusSent {
			return Draft{}, ErrAlreadyResolved
		}
		return Draft{}, fmt.Errorf("review: draft %d is %s, not awaiting delivery", index, current)
	}
	if err := tx.Commit(); err != nil {
		return Draft{}, err
	}
	return s.Get(ctx, index)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanDraft(row rowScanner) (Draft, error) {
	var (
		d         Draft
		traceJSON []byte
	)
	err := row.Scan(&d.Index, &d.ID, &d.ConversationID, &d.UserID, &d.CustomerMessage, &d.Content,
		&d.Confidence, &d.Reasoning, &d.Source, &d.Status, &traceJSON, &d.CreatedAt, &d.ResolvedAt, &d.SentAt, &d.FinalContent)
	if err == sql.ErrNoRows {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	if len(traceJSON) > 0 {
		var events []pipeline.TraceEvent
		if err := json.Unmarshal(traceJSON, &events); err == nil {
			d.Trace = events
		}
	}
	return d, nil
}
