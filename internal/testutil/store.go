package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/storage"
)

// NewStore opens a private in-memory SQLite store closed at test cleanup.
func NewStore(t *testing.T) *storage.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}
