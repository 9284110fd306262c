package core

import (
	"context"
	"slices"
	"time"
)

// Session is one user conversation thread. It is created lazily on the first
// message and updated after every trace.
type Session struct {
	ID              string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title,omitempty"`
	AgentsUsed      []string  `json:"agents_used"`
	TotalAgentsUsed int       `json:"total_agents_used"`
	DurationMS      int64     `json:"session_duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewSession creates a session owned by userID.
func NewSession(id, userID string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, UserID: userID, AgentsUsed: []string{}, CreatedAt: now, UpdatedAt: now}
}

// RecordAgents merges names into AgentsUsed and returns how many were new.
// TotalAgentsUsed only grows by newly seen names.
func (s *Session) RecordAgents(names ...string) int {
	added := 0
	for _, n := range names {
		if n == "" || slices.Contains(s.AgentsUsed, n) {
			continue
		}
		s.AgentsUsed = append(s.AgentsUsed, n)
		added++
	}
	s.TotalAgentsUsed += added
	return added
}

// Touch recomputes the session duration relative to now.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
	s.DurationMS = now.Sub(s.CreatedAt).Milliseconds()
}

// SessionStore persists sessions.
type SessionStore interface {
	// EnsureSession returns the session, creating it for userID if absent.
	EnsureSession(ctx context.Context, sessionID, userID string) (*Session, error)
	// UpdateSession writes the aggregate fields of s.
	UpdateSession(ctx context.Context, s *Session) error
	// RecordSessionActivity merges agents into the stored session and
	// touches it at the given time as one atomic step. It returns the
	// updated session and how many agents were new.
	RecordSessionActivity(ctx context.Context, sessionID string, agents []string, at time.Time) (*Session, int, error)
	// GetSession returns ErrNotFound when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// DeleteSession removes the session and everything recorded for it.
	DeleteSession(ctx context.Context, sessionID string) error
}

// HistoryStore reads and clears persisted chat history.
type HistoryStore interface {
	// ChatHistory returns up to limit human/ai records of the session,
	// oldest first.
	ChatHistory(ctx context.Context, sessionID string, limit int) ([]ChatRecord, error)
	// ClearChatHistory deletes chat records, hops and tool usage of a session.
	ClearChatHistory(ctx context.Context, sessionID string) error
}
