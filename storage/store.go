package storage

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/logging"
	"github.com/hupe1980/bankmesh/tool/banking"
	"github.com/hupe1980/bankmesh/tool/dbquery"
)

var (
	_ core.TraceStore    = (*Store)(nil)
	_ core.HistoryStore  = (*Store)(nil)
	_ core.RegistryStore = (*Store)(nil)
	_ banking.Ledger     = (*Store)(nil)
	_ dbquery.Querier    = (*Store)(nil)
)

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite or postgres
	DSN    string
	// MaxRetries bounds retries of transactions failing with transient
	// conflicts. Zero disables retries.
	MaxRetries int
	RetryDelay time.Duration
	Logger     logging.Logger
}

// Store is the SQL implementation of the persistence interfaces.
type Store struct {
	db         *sqlx.DB
	dialect    Dialect
	maxRetries int
	retryDelay time.Duration
	logger     logging.Logger
}

// Open connects to the configured database and creates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if d == SQLite {
		// One writer at a time; also keeps in-memory databases alive.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	for _, stmt := range d.pragmas() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: execute pragma: %w", err)
		}
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}

	s := &Store{
		db:         db,
		dialect:    d,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logging.OrNoOp(cfg.Logger),
	}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: initialize schema: %w", err)
	}

	s.logger.Debug("storage.open", "dialect", string(d))

	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sqlx.DB for advanced operations.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the backend in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DefaultSchema implements dbquery.Querier.
func (s *Store) DefaultSchema() string {
	return s.dialect.DefaultSchema()
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
id TEXT PRIMARY KEY,
name TEXT NOT NULL,
email TEXT NOT NULL DEFAULT '',
created_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS accounts (
id TEXT PRIMARY KEY,
user_id TEXT NOT NULL,
account_number TEXT NOT NULL UNIQUE,
account_type TEXT NOT NULL,
balance DOUBLE PRECISION NOT NULL DEFAULT 0,
name TEXT NOT NULL,
created_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id)`,
		`CREATE TABLE IF NOT EXISTS transactions (
id TEXT PRIMARY KEY,
from_account_id TEXT NOT NULL DEFAULT '',
to_account_id TEXT NOT NULL DEFAULT '',
amount DOUBLE PRECISION NOT NULL,
type TEXT NOT NULL,
description TEXT NOT NULL DEFAULT '',
category TEXT NOT NULL DEFAULT '',
status TEXT NOT NULL,
created_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(from_account_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
session_id TEXT PRIMARY KEY,
user_id TEXT NOT NULL,
title TEXT NOT NULL DEFAULT '',
agents_used TEXT NOT NULL DEFAULT '[]',
total_agents_used INTEGER NOT NULL DEFAULT 0,
session_duration_ms BIGINT NOT NULL DEFAULT 0,
created_at BIGINT NOT NULL,
updated_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
id ` + s.dialect.autoIncrement() + `,
message_id TEXT NOT NULL,
session_id TEXT NOT NULL,
trace_id TEXT NOT NULL,
user_id TEXT NOT NULL,
agent_id TEXT NOT NULL DEFAULT '',
agent_name TEXT NOT NULL DEFAULT '',
message_type TEXT NOT NULL,
content TEXT NOT NULL DEFAULT '',
model_name TEXT NOT NULL DEFAULT '',
content_filter_results TEXT NOT NULL DEFAULT '',
total_tokens INTEGER NOT NULL DEFAULT 0,
completion_tokens INTEGER NOT NULL DEFAULT 0,
prompt_tokens INTEGER NOT NULL DEFAULT 0,
tool_id TEXT NOT NULL DEFAULT '',
tool_name TEXT NOT NULL DEFAULT '',
tool_input TEXT NOT NULL DEFAULT '',
tool_output TEXT NOT NULL DEFAULT '',
tool_call_id TEXT NOT NULL DEFAULT '',
finish_reason TEXT NOT NULL DEFAULT '',
response_time_ms BIGINT NOT NULL DEFAULT 0,
routing_step INTEGER NOT NULL DEFAULT 0,
trace_end BIGINT NOT NULL,
UNIQUE (trace_id, message_id, message_type)
)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id)`,
		`CREATE TABLE IF NOT EXISTS agent_traces (
id TEXT PRIMARY KEY,
session_id TEXT NOT NULL,
trace_id TEXT NOT NULL,
step_order INTEGER NOT NULL,
from_agent TEXT NOT NULL DEFAULT '',
current_agent TEXT NOT NULL,
agent_id TEXT NOT NULL DEFAULT '',
task_type TEXT NOT NULL DEFAULT '',
duration_ms BIGINT NOT NULL DEFAULT 0,
success INTEGER NOT NULL DEFAULT 1,
error_message TEXT NOT NULL DEFAULT '',
created_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_traces_trace ON agent_traces(trace_id, step_order)`,
		`CREATE TABLE IF NOT EXISTS tool_usage (
call_id TEXT PRIMARY KEY,
session_id TEXT NOT NULL,
trace_id TEXT NOT NULL,
tool_id TEXT NOT NULL DEFAULT '',
tool_name TEXT NOT NULL DEFAULT '',
agent_id TEXT NOT NULL DEFAULT '',
agent_name TEXT NOT NULL DEFAULT '',
input TEXT NOT NULL DEFAULT '',
output TEXT NOT NULL DEFAULT '',
status TEXT NOT NULL DEFAULT '',
tokens_used INTEGER NOT NULL DEFAULT 0,
created_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS agent_definitions (
id TEXT PRIMARY KEY,
name TEXT NOT NULL UNIQUE,
description TEXT NOT NULL DEFAULT '',
agent_type TEXT NOT NULL DEFAULT '',
prompt_template TEXT NOT NULL DEFAULT '',
llm_config TEXT NOT NULL DEFAULT '{}',
created_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS tool_definitions (
id TEXT PRIMARY KEY,
name TEXT NOT NULL UNIQUE,
description TEXT NOT NULL DEFAULT '',
input_schema TEXT NOT NULL DEFAULT '{}',
cost_per_call_cents INTEGER NOT NULL DEFAULT 0,
version TEXT NOT NULL DEFAULT '',
active INTEGER NOT NULL DEFAULT 1,
created_at BIGINT NOT NULL
)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// inTx runs fn in a transaction, retrying transient conflicts.
func (s *Store) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return WithRetry(ctx, s.maxRetries, s.retryDelay, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
