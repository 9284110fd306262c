package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/internal/testutil"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }

func TestGenerate(t *testing.T) {
	d := Generate("user_5", func(o *Options) { o.Now = fixedNow; o.Seed = 42 })

	assert.Equal(t, "user_5", d.User.ID)
	require.GreaterOrEqual(t, len(d.Accounts), 2)
	assert.LessOrEqual(t, len(d.Accounts), 4)
	assert.Equal(t, "checking", d.Accounts[0].AccountType)
	assert.Equal(t, "savings", d.Accounts[1].AccountType)

	require.GreaterOrEqual(t, len(d.Transactions), 20)
	assert.LessOrEqual(t, len(d.Transactions), 50)

	names := map[string]bool{}
	for _, a := range d.Accounts {
		assert.False(t, names[a.Name], "duplicate account name %q", a.Name)
		names[a.Name] = true
	}

	for i, tx := range d.Transactions {
		assert.False(t, tx.CreatedAt.After(fixedNow()))
		if i > 0 {
			assert.False(t, tx.CreatedAt.After(d.Transactions[i-1].CreatedAt), "newest first")
		}
		if tx.Type == "transfer" {
			assert.NotEqual(t, tx.FromAccountID, tx.ToAccountID)
		}
	}

	again := Generate("user_5", func(o *Options) { o.Now = fixedNow; o.Seed = 42 })
	assert.Len(t, again.Transactions, len(d.Transactions))
	assert.Equal(t, d.Transactions[0].Amount, again.Transactions[0].Amount)
}

func TestLoad(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()

	d := Generate("user_5", func(o *Options) { o.Now = fixedNow })
	require.NoError(t, Load(ctx, store, d))

	accounts, err := store.Accounts(ctx, "user_5")
	require.NoError(t, err)
	assert.Len(t, accounts, len(d.Accounts))
}

func TestSupportDocuments(t *testing.T) {
	docs, err := SupportDocuments()
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	ids := map[string]bool{}
	for _, d := range docs {
		ids[d.ID] = true
		assert.NotEmpty(t, d.Content)
		assert.NotEmpty(t, d.Metadata["title"])
	}
	assert.True(t, ids["pin-reset"])
}

func TestParseDocumentsRequiresContent(t *testing.T) {
	_, err := ParseDocuments([]byte("documents:\n  - id: x\n"))
	assert.Error(t, err)
}
