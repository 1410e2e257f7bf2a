package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movimenti/internal/core"
	"movimenti/internal/store"
)

// newRepo connects to POSTGRES_TEST_URL and empties the table. Tests are
// skipped when the variable is unset.
func newRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	repo, err := NewPostgresRepository(ctx, url, nil)
	require.NoError(t, err)
	_, err = repo.pool.Exec(ctx, "TRUNCATE transactions")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sample(desc, amount string, day int) core.Record {
	return core.Record{
		TransactionDate: time.Date(2024, 1, day, 9, 30, 0, 0, time.UTC),
		Description:     desc,
		Amount:          decimal.RequireFromString(amount),
	}
}

func TestInsertAndSelect(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	rec := sample("Groceries", "-45.10", 5)
	rec.Extra = map[string]string{"reference": "R-1"}

	n, err := repo.InsertBatch(ctx, []core.Record{rec, sample("Paycheck", "1000", 20)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := repo.SelectAll(ctx, store.SelectOptions{OrderBy: core.FieldAmount})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Groceries", all[0].Description)
	assert.True(t, decimal.RequireFromString("-45.10").Equal(all[0].Amount))
	assert.Equal(t, map[string]string{"reference": "R-1"}, all[0].Extra)
	assert.True(t, rec.TransactionDate.Equal(all[0].TransactionDate))
	assert.Nil(t, all[0].PostDate)
}

func TestDeleteAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.InsertBatch(ctx, []core.Record{sample("Coffee", "-3.5", 2)})
	require.NoError(t, err)
	all, err := repo.SelectAll(ctx, store.SelectOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	id := all[0].ID

	cat := "Food"
	require.NoError(t, repo.UpdateByID(ctx, id, core.Patch{Category: &cat}))
	all, err = repo.SelectAll(ctx, store.SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Food", all[0].Category)

	require.NoError(t, repo.DeleteByID(ctx, id))
	assert.ErrorIs(t, repo.DeleteByID(ctx, id), store.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateByID(ctx, id, core.Patch{Category: &cat}), store.ErrNotFound)
}
