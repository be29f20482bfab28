package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finboard/internal/core"
	"finboard/internal/daily"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "finboard.db"), daily.Guayaquil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func int64p(v int64) *int64 { return &v }

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finboard.db")
	require.NoError(t, RunMigrations(DSN(path)))
	require.NoError(t, RunMigrations(DSN(path)))

	version, err := migrateUp(DSN(path))
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestDirtySchemaIsRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finboard.db")
	require.NoError(t, RunMigrations(DSN(path)))

	db, err := sql.Open("sqlite", DSN(path))
	require.NoError(t, err)
	_, err = db.Exec("UPDATE schema_migrations SET dirty = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = RunMigrations(DSN(path))
	assert.ErrorIs(t, err, ErrDirtySchema)
}

func TestTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	bank, err := repo.CreateBank(ctx, core.Bank{Name: "Pichincha"})
	require.NoError(t, err)
	cat, err := repo.CreateCategory(ctx, core.Category{Name: "Food", Color: "#ff0000"})
	require.NoError(t, err)

	created, err := repo.CreateTransaction(ctx, core.Transaction{
		Type:        core.Expense,
		Amount:      core.Money{Cents: 4500},
		OccurredAt:  "2024-03-10T18:30:00-05:00",
		Description: " Dinner ",
		BankID:      int64p(bank.ID),
		CategoryID:  int64p(cat.ID),
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "2024-03-10T23:30:00Z", created.OccurredAt)
	assert.Equal(t, "Dinner", created.Description)
	require.NotNil(t, created.Bank)
	assert.Equal(t, "Pichincha", created.Bank.Name)
	require.NotNil(t, created.Category)
	assert.Equal(t, "#ff0000", created.Category.Color)
	assert.Nil(t, created.Card)

	created.Amount = core.Money{Cents: 5000}
	updated, err := repo.UpdateTransaction(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), updated.Amount.Cents)

	got, err := repo.GetTransaction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestDeleteTransactionTwiceFailsDistinctly(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tx, err := repo.CreateTransaction(ctx, core.Transaction{
		Type: core.Income, Amount: core.Money{Cents: 100},
		OccurredAt: "2024-03-10T12:00:00Z", Description: "refund",
	})
	require.NoError(t, err)

	_, deleted, err := repo.GetTransactionIncludingDeleted(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, repo.DeleteTransaction(ctx, tx.ID))
	err = repo.DeleteTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrDeleted)
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.DeleteTransaction(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrDeleted)

	got, deleted, err := repo.GetTransactionIncludingDeleted(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, "refund", got.Description)
	assert.Equal(t, int64(100), got.Amount.Cents)

	_, _, err = repo.GetTransactionIncludingDeleted(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	tx.Description = "edited"
	_, err = repo.UpdateTransaction(ctx, tx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTransactionsUsesLocalMonth(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	budget, err := repo.CreateBudget(ctx, core.Budget{Name: "Groceries", Amount: core.Money{Cents: 20000}})
	require.NoError(t, err)

	seed := []core.Transaction{
		// 2024-02-29 23:00 local, belongs to February
		{Type: core.Expense, Amount: core.Money{Cents: 100}, OccurredAt: "2024-03-01T04:00:00Z", Description: "feb"},
		{Type: core.Expense, Amount: core.Money{Cents: 200}, OccurredAt: "2024-03-01T05:00:00Z", Description: "first", BudgetID: int64p(budget.ID)},
		{Type: core.Income, Amount: core.Money{Cents: 300}, OccurredAt: "2024-03-15T12:00:00Z", Description: "mid"},
		// 2024-03-31 23:00 local, still March
		{Type: core.Expense, Amount: core.Money{Cents: 400}, OccurredAt: "2024-04-01T04:00:00Z", Description: "last", BudgetID: int64p(budget.ID)},
		{Type: core.Expense, Amount: core.Money{Cents: 500}, OccurredAt: "2024-04-01T05:00:00Z", Description: "apr"},
	}
	for _, tx := range seed {
		_, err := repo.CreateTransaction(ctx, tx)
		require.NoError(t, err)
	}

	march, err := repo.ListTransactions(ctx, core.TransactionFilter{Year: 2024, Month: 3})
	require.NoError(t, err)
	var descs []string
	for _, tx := range march {
		descs = append(descs, tx.Description)
	}
	assert.Equal(t, []string{"last", "mid", "first"}, descs)

	filtered, err := repo.ListTransactions(ctx, core.TransactionFilter{Year: 2024, Month: 3, BudgetID: int64p(budget.ID)})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	spent, err := repo.BudgetSpent(ctx, budget.ID, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(600), spent.Cents)

	_, err = repo.ListTransactions(ctx, core.TransactionFilter{Year: 2024, Month: 0})
	assert.ErrorIs(t, err, core.ErrInvalidMonth)
}

func TestReferenceEntities(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	bank, err := repo.CreateBank(ctx, core.Bank{Name: "Guayaquil"})
	require.NoError(t, err)
	_, err = repo.CreateBank(ctx, core.Bank{Name: "Guayaquil"})
	assert.ErrorIs(t, err, ErrConflict)

	card, err := repo.CreateCard(ctx, core.Card{Name: "Visa", BankID: int64p(bank.ID), LastFour: "4242"})
	require.NoError(t, err)
	assert.Equal(t, bank.ID, *card.BankID)

	_, err = repo.CreateTransaction(ctx, core.Transaction{
		Type: core.Expense, Amount: core.Money{Cents: 1}, OccurredAt: "2024-03-10T12:00:00Z",
		Description: "x", CardID: int64p(12345),
	})
	assert.ErrorIs(t, err, ErrInvalidReference)

	require.NoError(t, repo.DeleteBank(ctx, bank.ID))
	assert.ErrorIs(t, repo.DeleteBank(ctx, bank.ID), ErrNotFound)

	cards, err := repo.ListCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Nil(t, cards[0].BankID, "bank reference cleared on delete")

	banks, err := repo.ListBanks(ctx)
	require.NoError(t, err)
	assert.Empty(t, banks)

	_, err = repo.GetBudget(ctx, 77)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	sub, err := repo.CreateSubscription(ctx, core.Subscription{
		Name:      "Netflix",
		Amount:    core.Money{Cents: 1599},
		Every:     core.Monthly,
		StartDate: core.NewDate(2024, 1, 15),
		Match:     "NETFLIX.COM",
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", sub.StartDate.Format(daily.DayLayout))
	assert.True(t, sub.EndDate.IsEmpty())
	assert.Empty(t, sub.LastCharged)

	at := time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkSubscriptionCharged(ctx, sub.ID, at))
	assert.ErrorIs(t, repo.MarkSubscriptionCharged(ctx, 999, at), ErrNotFound)

	subs, err := repo.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "2024-03-15T11:00:00Z", subs[0].LastCharged)

	require.NoError(t, repo.DeleteSubscription(ctx, sub.ID))
}
