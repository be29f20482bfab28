package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finboard/internal/core"
	"finboard/internal/daily"
	apphttp "finboard/internal/http"
	"finboard/internal/log"
	"finboard/internal/services"
	"finboard/internal/storage"
)

type apiEnv struct {
	client *Client
	gets   *int64
}

// newAPIEnv runs the real API over a temporary SQLite database and counts
// the GET requests that reach it.
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	return newWrappedAPIEnv(t, nil)
}

// newWrappedAPIEnv is newAPIEnv with wrap placed in front of the API
// handler when it is not nil.
func newWrappedAPIEnv(t *testing.T, wrap func(http.Handler) http.Handler) *apiEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "finboard.db"), daily.Guayaquil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logger := log.Discard()
	txs := services.NewTransactionService(repo, nil, logger)
	srv := apphttp.NewServer(":0", apphttp.Deps{
		Transactions: txs,
		Merger:       services.NewMergeService(txs, txs, daily.Guayaquil, logger),
		Days:         services.NewDayView(txs, repo, daily.Guayaquil),
		Summary:      services.NewSummaryService(txs, repo),
		Reference:    repo,
	}, apphttp.Options{Zone: daily.Guayaquil, WritesPerMinute: 1000}, logger)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	var handler http.Handler = srv.Handler
	if wrap != nil {
		handler = wrap(handler)
	}
	var gets int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt64(&gets, 1)
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	c, err := New(ts.URL, WithHTTPClient(ts.Client()), WithCache(50, time.Minute))
	require.NoError(t, err)
	return &apiEnv{client: c, gets: &gets}
}

func tx(typ core.TransactionType, cents int64, at, desc string) core.Transaction {
	return core.Transaction{Type: typ, Amount: core.Money{Cents: cents}, OccurredAt: at, Description: desc}
}

var march = core.TransactionFilter{Year: 2024, Month: 3}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8081", "://nope"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}

func TestQueryCacheInvalidatedByWrites(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	c := env.client

	_, err := c.CreateTransaction(ctx, tx(core.Expense, 1200, "2024-03-10T15:00:00Z", "Lunch"))
	require.NoError(t, err)

	first, err := c.ListTransactions(ctx, march)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := c.ListTransactions(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(env.gets), "second read should be served from cache")

	_, err = c.CreateTransaction(ctx, tx(core.Income, 1200, "2024-03-10T18:00:00Z", "Refund"))
	require.NoError(t, err)
	assert.Zero(t, c.Cache().Size())

	third, err := c.ListTransactions(ctx, march)
	require.NoError(t, err)
	assert.Len(t, third, 2)
	assert.Equal(t, int64(2), atomic.LoadInt64(env.gets))

	days, err := c.Days(ctx, march)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Len(t, days[0].Pairs, 1)
}

func TestReadInFlightDuringDeleteIsNotCached(t *testing.T) {
	loaded := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env := newWrappedAPIEnv(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/transactions/") {
				next.ServeHTTP(w, r)
				return
			}
			// Answer from a snapshot taken before the delete below.
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r)
			once.Do(func() {
				close(loaded)
				<-release
			})
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	})
	ctx := context.Background()
	c := env.client

	created, err := c.CreateTransaction(ctx, tx(core.Expense, 900, "2024-03-10T15:00:00Z", "Taxi"))
	require.NoError(t, err)

	type result struct {
		tx  core.Transaction
		err error
	}
	first := make(chan result, 1)
	go func() {
		got, err := c.GetTransaction(ctx, created.ID)
		first <- result{got, err}
	}()
	<-loaded

	require.NoError(t, c.DeleteTransaction(ctx, created.ID))
	close(release)

	stale := <-first
	require.NoError(t, stale.err)
	assert.Equal(t, "Taxi", stale.tx.Description)

	_, err = c.GetTransaction(ctx, created.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestCancelledWaiterDoesNotFailSharedRead(t *testing.T) {
	received := make(chan struct{}, 1)
	release := make(chan struct{})
	aborted := make(chan bool, 1)
	var gets int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&gets, 1)
		select {
		case received <- struct{}{}:
		default:
		}
		<-release
		select {
		case aborted <- r.Context().Err() != nil:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, err := New(ts.URL, WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.ListTransactions(cancelled, march)
		firstErr <- err
	}()
	<-received
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan error, 1)
	go func() {
		_, err := c.ListTransactions(context.Background(), march)
		second <- err
	}()
	close(release)

	assert.False(t, <-aborted, "shared request should outlive the cancelled caller")
	assert.NoError(t, <-second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&gets))
}

func TestDeleteTwiceReportsAlreadyDeleted(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	created, err := env.client.CreateTransaction(ctx, tx(core.Expense, 500, "2024-03-10T15:00:00Z", "Coffee"))
	require.NoError(t, err)

	require.NoError(t, env.client.DeleteTransaction(ctx, created.ID))
	err = env.client.DeleteTransaction(ctx, created.ID)
	assert.ErrorIs(t, err, services.ErrAlreadyDeleted)

	_, err = env.client.GetTransaction(ctx, created.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)

	err = env.client.DeleteTransaction(ctx, 999999)
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.NotErrorIs(t, err, services.ErrAlreadyDeleted)
}

func TestServerMergeWithUnknownIncome(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	c := env.client

	expense, err := c.CreateTransaction(ctx, tx(core.Expense, 2000, "2024-03-10T15:00:00Z", "Dinner"))
	require.NoError(t, err)

	err = c.Merge(ctx, daily.MergePair{ExpenseID: expense.ID, IncomeID: 999999}, true)
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.NotErrorIs(t, err, services.ErrAlreadyDeleted)

	got, err := c.GetTransaction(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dinner", got.Description)
}

func TestClientSideMergerRetriesOnlySurvivor(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	c := env.client

	expense, err := c.CreateTransaction(ctx, tx(core.Expense, 2000, "2024-03-10T15:00:00Z", "Dinner"))
	require.NoError(t, err)
	income, err := c.CreateTransaction(ctx, tx(core.Income, 2000, "2024-03-10T20:00:00Z", "Split"))
	require.NoError(t, err)

	// The income went away in an earlier, partially applied merge.
	require.NoError(t, c.DeleteTransaction(ctx, income.ID))

	merger := services.NewMerger(c, log.Discard())
	require.NoError(t, merger.Merge(ctx, daily.MergePair{ExpenseID: expense.ID, IncomeID: income.ID}, true))

	list, err := c.ListTransactions(ctx, march)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestServerMergeErrors(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	c := env.client

	expense, err := c.CreateTransaction(ctx, tx(core.Expense, 2000, "2024-03-10T15:00:00Z", "Dinner"))
	require.NoError(t, err)
	income, err := c.CreateTransaction(ctx, tx(core.Income, 1999, "2024-03-10T20:00:00Z", "Almost"))
	require.NoError(t, err)
	pair := daily.MergePair{ExpenseID: expense.ID, IncomeID: income.ID}

	assert.ErrorIs(t, c.Merge(ctx, pair, false), services.ErrMergeNotConfirmed)
	assert.ErrorIs(t, c.Merge(ctx, pair, true), services.ErrNotAPair)

	updated := income
	updated.Amount = core.Money{Cents: 2000}
	_, err = c.UpdateTransaction(ctx, updated)
	require.NoError(t, err)
	require.NoError(t, c.Merge(ctx, pair, true))
	assert.ErrorIs(t, c.Merge(ctx, pair, true), services.ErrAlreadyDeleted)
}

func TestMergePartialAnswer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(`{"removed":[1],"remaining":2,"error":"delete transaction: disk full"}`))
	}))
	defer ts.Close()

	c, err := New(ts.URL)
	require.NoError(t, err)
	err = c.Merge(context.Background(), daily.MergePair{ExpenseID: 1, IncomeID: 2}, true)

	var partial *services.PartialMergeError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, int64(1), partial.Removed)
	assert.Equal(t, int64(2), partial.Remaining)
	assert.ErrorIs(t, err, services.ErrPartialMerge)
}

func TestMalformedTimestampError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"transaction 7: malformed timestamp \"x\"","transaction_id":7}`))
	}))
	defer ts.Close()

	c, err := New(ts.URL)
	require.NoError(t, err)
	_, err = c.Days(context.Background(), march)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(7), apiErr.TransactionID)
	assert.ErrorIs(t, err, daily.ErrMalformedTimestamp)
}

func TestReferenceDataAndSummary(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	c := env.client

	budget, err := c.CreateBudget(ctx, core.Budget{Name: "Food", Amount: core.Money{Cents: 40000}})
	require.NoError(t, err)
	_, err = c.CreateBudget(ctx, core.Budget{Name: "Food", Amount: core.Money{Cents: 100}})
	assert.ErrorIs(t, err, storage.ErrConflict)

	bank, err := c.CreateBank(ctx, core.Bank{Name: "Guayaquil"})
	require.NoError(t, err)
	_, err = c.CreateCard(ctx, core.Card{Name: "Visa", BankID: &bank.ID, LastFour: "4242"})
	require.NoError(t, err)
	cards, err := c.ListCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "4242", cards[0].LastFour)

	_, err = c.CreateTransaction(ctx, core.Transaction{
		Type: core.Expense, Amount: core.Money{Cents: 10000}, OccurredAt: "2024-03-05T15:00:00Z",
		Description: "Market", BudgetID: &budget.ID,
	})
	require.NoError(t, err)

	usage, err := c.BudgetUsage(ctx, budget.ID, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, 25, usage.Percent)

	ov, err := c.MonthOverview(ctx, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), ov.Expenses.Cents)

	require.NoError(t, c.DeleteBank(ctx, bank.ID))
	assert.ErrorIs(t, c.DeleteBank(ctx, bank.ID), services.ErrNotFound)
}

func TestCancelledContext(t *testing.T) {
	env := newAPIEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.client.ListTransactions(ctx, march)
	assert.ErrorIs(t, err, context.Canceled)
}
