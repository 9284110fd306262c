//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/tool/banking"
)

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "bankmesh",
			"POSTGRES_PASSWORD": "bankmesh",
			"POSTGRES_DB":       "bankmesh",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://bankmesh:bankmesh@%s:%s/bankmesh?sslmode=disable", host, port.Port())
	s, err := Open(ctx, Config{Driver: "postgres", DSN: dsn, MaxRetries: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestPostgresStore(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	assert.Equal(t, "public", s.DefaultSchema())

	require.NoError(t, s.InsertTool(ctx, &core.ToolDefinition{Name: "search", Version: "1.0.0", Active: true}))
	assert.ErrorIs(t, s.InsertTool(ctx, &core.ToolDefinition{Name: "search"}), core.ErrConflict)

	for range 2 {
		require.NoError(t, s.WithinTx(ctx, func(w core.TraceWriter) error {
			_, err := w.InsertChatRecord(ctx, &core.ChatRecord{
				MessageID: "m1", SessionID: "s1", TraceID: "t1", UserID: "u1",
				MessageType: core.KindHuman, Content: "hi",
			})
			return err
		}))
	}

	ids, err := s.MessageIDs(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)

	cols, err := s.DescribeTable(ctx, "public", "tool_definitions")
	require.NoError(t, err)
	require.NotEmpty(t, cols)
	assert.True(t, cols[0].IsPrimaryKey)

	_, rows, err := s.ReadQuery(ctx, "SELECT name, active FROM tool_definitions LIMIT 5")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "search", rows[0]["name"])
}

func TestPostgresConcurrentWrites(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	sess, err := s.EnsureSession(ctx, "s1", "u1")
	require.NoError(t, err)

	errs := make(chan error, 10)
	for i := range 10 {
		go func() {
			_, _, err := s.RecordSessionActivity(ctx, "s1", []string{fmt.Sprintf("agent_%d", i)}, sess.CreatedAt.Add(time.Second))
			errs <- err
		}()
	}
	for range 10 {
		require.NoError(t, <-errs)
	}

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalAgentsUsed)

	require.NoError(t, s.EnsureUser(ctx, &User{ID: "u1", Name: "Ada"}))
	from := &banking.Account{UserID: "u1", AccountNumber: "000000000001", AccountType: "checking", Balance: 100, Name: "Checking"}
	require.NoError(t, s.CreateAccount(ctx, from))

	assertConcurrentTransfersBounded(t, s, from.ID, 100, 30)
}
