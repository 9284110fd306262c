package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hupe1980/bankmesh/core"
)

type sessionRow struct {
	SessionID       string `db:"session_id"`
	UserID          string `db:"user_id"`
	Title           string `db:"title"`
	AgentsUsed      string `db:"agents_used"`
	TotalAgentsUsed int    `db:"total_agents_used"`
	DurationMS      int64  `db:"session_duration_ms"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r sessionRow) session() (*core.Session, error) {
	agents := []string{}
	if r.AgentsUsed != "" {
		if err := json.Unmarshal([]byte(r.AgentsUsed), &agents); err != nil {
			return nil, fmt.Errorf("storage: decode agents_used: %w", err)
		}
	}
	return &core.Session{
		ID:              r.SessionID,
		UserID:          r.UserID,
		Title:           r.Title,
		AgentsUsed:      agents,
		TotalAgentsUsed: r.TotalAgentsUsed,
		DurationMS:      r.DurationMS,
		CreatedAt:       fromMillis(r.CreatedAt),
		UpdatedAt:       fromMillis(r.UpdatedAt),
	}, nil
}

// EnsureSession implements core.SessionStore.
func (s *Store) EnsureSession(ctx context.Context, sessionID, userID string) (*core.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	sess = core.NewSession(sessionID, userID)
	query := s.db.Rebind(`INSERT INTO chat_sessions (session_id, user_id, title, agents_used,
total_agents_used, session_duration_ms, created_at, updated_at)
VALUES (?, ?, ?, '[]', 0, 0, ?, ?)
ON CONFLICT (session_id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, sess.ID, sess.UserID, sess.Title,
		millis(sess.CreatedAt), millis(sess.UpdatedAt)); err != nil {
		return nil, fmt.Errorf("storage: create session: %w", err)
	}

	// A concurrent turn may have created it first.
	return s.GetSession(ctx, sessionID)
}

// GetSession implements core.SessionStore.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM chat_sessions WHERE session_id = ?`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get session: %w", err)
	}
	return row.session()
}

// UpdateSession implements core.SessionStore.
func (s *Store) UpdateSession(ctx context.Context, sess *core.Session) error {
	return writeSession(ctx, s.db, sess)
}

// RecordSessionActivity implements core.SessionStore. The row is read under
// a lock and rewritten in the same transaction, so concurrent turns of one
// session never drop each other's agents.
func (s *Store) RecordSessionActivity(ctx context.Context, sessionID string, agents []string, at time.Time) (*core.Session, int, error) {
	var (
		sess  *core.Session
		added int
	)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var row sessionRow
		query := tx.Rebind(`SELECT * FROM chat_sessions WHERE session_id = ?` + s.dialect.forUpdate())
		err := tx.GetContext(ctx, &row, query, sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("storage: lock session: %w", err)
		}

		if sess, err = row.session(); err != nil {
			return err
		}
		added = sess.RecordAgents(agents...)
		sess.Touch(at)

		return writeSession(ctx, tx, sess)
	})
	if err != nil {
		return nil, 0, err
	}

	return sess, added, nil
}

func writeSession(ctx context.Context, db sqlx.ExtContext, sess *core.Session) error {
	agents, err := json.Marshal(sess.AgentsUsed)
	if err != nil {
		return fmt.Errorf("storage: encode agents_used: %w", err)
	}

	query := db.Rebind(`UPDATE chat_sessions SET title = ?, agents_used = ?, total_agents_used = ?,
session_duration_ms = ?, updated_at = ? WHERE session_id = ?`)
	res, err := db.ExecContext(ctx, query, sess.Title, string(agents), sess.TotalAgentsUsed,
		sess.DurationMS, millis(nowOr(sess.UpdatedAt)), sess.ID)
	if err != nil {
		return fmt.Errorf("storage: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// DeleteSession implements core.SessionStore.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := clearSession(ctx, tx, sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chat_sessions WHERE session_id = ?`), sessionID); err != nil {
			return fmt.Errorf("storage: delete session: %w", err)
		}
		return nil
	})
}

// ListSessions returns the sessions of a user, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]*core.Session, error) {
	var rows []sessionRow
	query := s.db.Rebind(`SELECT * FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	out := make([]*core.Session, 0, len(rows))
	for _, r := range rows {
		sess, err := r.session()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// ChatHistory implements core.HistoryStore.
func (s *Store) ChatHistory(ctx context.Context, sessionID string, limit int) ([]core.ChatRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []chatRow
	query := s.db.Rebind(`SELECT ` + chatColumns + ` FROM (
SELECT * FROM chat_history WHERE session_id = ? AND message_type IN (?, ?)
ORDER BY id DESC LIMIT ?) recent ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, query, sessionID, core.KindHuman, core.KindAgentResponse, limit); err != nil {
		return nil, fmt.Errorf("storage: chat history: %w", err)
	}
	return chatRecords(rows), nil
}

// ClearChatHistory implements core.HistoryStore.
func (s *Store) ClearChatHistory(ctx context.Context, sessionID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return clearSession(ctx, tx, sessionID)
	})
}

func clearSession(ctx context.Context, tx *sqlx.Tx, sessionID string) error {
	for _, table := range []string{"chat_history", "agent_traces", "tool_usage"} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM `+table+` WHERE session_id = ?`), sessionID); err != nil {
			return fmt.Errorf("storage: clear %s: %w", table, err)
		}
	}
	return nil
}
