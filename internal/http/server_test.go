package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/extract"
	"finboard/internal/log"
	"finboard/internal/middleware/trace"
	"finboard/internal/services"
	"finboard/internal/storage"
)

type testEnv struct {
	srv  *Server
	repo *storage.SQLiteRepository
}

// newTestEnv wires the real services over a temporary SQLite database.
// override may replace any dependency before the server is built.
func newTestEnv(t *testing.T, opts Options, override func(*Deps)) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "finboard.db"), daily.Guayaquil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logger := log.Discard()
	txs := services.NewTransactionService(repo, nil, logger)
	deps := Deps{
		Transactions: txs,
		Merger:       services.NewMergeService(txs, txs, daily.Guayaquil, logger),
		Days:         services.NewDayView(txs, repo, daily.Guayaquil),
		Summary:      services.NewSummaryService(txs, repo),
		Reference:    repo,
	}
	if override != nil {
		override(&deps)
	}
	if opts.Zone == (daily.Zone{}) {
		opts.Zone = daily.Guayaquil
	}
	srv := NewServer(":0", deps, opts, logger)
	srv.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e *testEnv) createTx(t *testing.T, typ core.TransactionType, amount, at, desc string, extra map[string]any) core.Transaction {
	t.Helper()
	body := map[string]any{"type": typ, "amount": amount, "occurred_at": at, "description": desc}
	for k, v := range extra {
		body[k] = v
	}
	rr := e.do(t, http.MethodPost, "/transactions", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[core.Transaction](t, rr)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	rr := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	_ = env.repo.Close()
	rr = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMiddlewareHeaders(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	rr := env.do(t, http.MethodGet, "/healthz", nil)

	assert.NotEmpty(t, rr.Header().Get(trace.RequestIDHeader))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rr.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestTransactionCRUD(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	created := env.createTx(t, core.Expense, "45.00", "2024-03-10T18:30:00-05:00", "Dinner", nil)
	assert.Equal(t, "2024-03-10T23:30:00Z", created.OccurredAt)
	assert.Equal(t, int64(4500), created.Amount.Cents)
	path := "/transactions/" + strconv.FormatInt(created.ID, 10)

	rr := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Dinner", decode[core.Transaction](t, rr).Description)

	rr = env.do(t, http.MethodGet, "/transactions?year=2024&month=3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]core.Transaction](t, rr), 1)

	rr = env.do(t, http.MethodPut, path, map[string]any{
		"type": "expense", "amount": "50.00", "occurred_at": "2024-03-10T23:30:00Z", "description": "Dinner and tip",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(5000), decode[core.Transaction](t, rr).Amount.Cents)

	rr = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusGone, rr.Code)
	rr = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodDelete, "/transactions/999999", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateTransactionErrors(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
		{"garbage amount", map[string]any{"type": "expense", "amount": "abc", "occurred_at": "2024-03-10T12:00:00Z", "description": "x"}, http.StatusBadRequest},
		{"invalid type", map[string]any{"type": "transfer", "amount": "1.00", "occurred_at": "2024-03-10T12:00:00Z", "description": "x"}, http.StatusUnprocessableEntity},
		{"empty description", map[string]any{"type": "expense", "amount": "1.00", "occurred_at": "2024-03-10T12:00:00Z", "description": "  "}, http.StatusUnprocessableEntity},
		{"bad timestamp", map[string]any{"type": "expense", "amount": "1.00", "occurred_at": "yesterday", "description": "x"}, http.StatusUnprocessableEntity},
		{"unknown bank", map[string]any{"type": "expense", "amount": "1.00", "occurred_at": "2024-03-10T12:00:00Z", "description": "x", "bank_id": 999}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/transactions", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode[errorBody](t, rr).Error)
		})
	}
}

func TestListFilterErrors(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	for _, target := range []string{
		"/transactions?month=13",
		"/transactions?year=abc",
		"/transactions/days?bank_id=-1",
		"/summary?month=0",
		"/transactions/abc",
	} {
		rr := env.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestDaysGroupsPairsAndCaches(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	expense := env.createTx(t, core.Expense, "20.00", "2024-03-10T15:00:00Z", "Lunch for Ana", nil)
	income := env.createTx(t, core.Income, "20.00", "2024-03-10T20:00:00Z", "Ana pays back", nil)
	// Local day is 2024-02-29, outside March.
	env.createTx(t, core.Expense, "5.00", "2024-03-01T03:00:00Z", "Late snack", nil)

	rr := env.do(t, http.MethodGet, "/transactions/days?year=2024&month=3", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "miss", rr.Header().Get("X-Cache"))

	days := decode[[]services.Day](t, rr)
	require.Len(t, days, 1)
	assert.Equal(t, "2024-03-10", days[0].Day)
	assert.Equal(t, []daily.MergePair{{ExpenseID: expense.ID, IncomeID: income.ID}}, days[0].Pairs)
	assert.Equal(t, int64(0), days[0].Net)

	rr = env.do(t, http.MethodGet, "/transactions/days?year=2024&month=3", nil)
	assert.Equal(t, "hit", rr.Header().Get("X-Cache"))

	env.createTx(t, core.Expense, "7.00", "2024-03-11T15:00:00Z", "Coffee", nil)
	rr = env.do(t, http.MethodGet, "/transactions/days?year=2024&month=3", nil)
	assert.Equal(t, "miss", rr.Header().Get("X-Cache"))
	assert.Len(t, decode[[]services.Day](t, rr), 2)
}

func TestReadInFlightDuringDeleteIsNotCached(t *testing.T) {
	loaded := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env := newTestEnv(t, Options{}, func(d *Deps) {
		days := d.Days
		d.Days = dayViewerFunc(func(ctx context.Context, f core.TransactionFilter) ([]services.Day, error) {
			out, err := days.Days(ctx, f)
			once.Do(func() {
				close(loaded)
				<-release
			})
			return out, err
		})
	})
	created := env.createTx(t, core.Expense, "9.00", "2024-03-10T15:00:00Z", "Taxi", nil)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- env.do(t, http.MethodGet, "/transactions/days?year=2024&month=3", nil)
	}()
	<-loaded

	rr := env.do(t, http.MethodDelete, "/transactions/"+strconv.FormatInt(created.ID, 10), nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	close(release)

	stale := <-first
	require.Equal(t, http.StatusOK, stale.Code)
	assert.Len(t, decode[[]services.Day](t, stale), 1)

	rr = env.do(t, http.MethodGet, "/transactions/days?year=2024&month=3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "miss", rr.Header().Get("X-Cache"))
	assert.Empty(t, decode[[]services.Day](t, rr))
}

func TestDaysDefaultsToCurrentLocalMonth(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.createTx(t, core.Expense, "3.00", "2024-03-14T15:00:00Z", "Bus", nil)

	rr := env.do(t, http.MethodGet, "/transactions/days", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]services.Day](t, rr), 1)
}

func TestMalformedTimestampReportsID(t *testing.T) {
	env := newTestEnv(t, Options{}, func(d *Deps) {
		d.Days = dayViewerFunc(func(context.Context, core.TransactionFilter) ([]services.Day, error) {
			return nil, &daily.MalformedTimestampError{ID: 7, Value: "yesterday"}
		})
	})

	rr := env.do(t, http.MethodGet, "/transactions/days?year=2024&month=3", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, int64(7), body.TransactionID)
	assert.Contains(t, body.Error, "yesterday")
}

func TestMerge(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	expense := env.createTx(t, core.Expense, "20.00", "2024-03-10T15:00:00Z", "Lunch", nil)
	income := env.createTx(t, core.Income, "20.00", "2024-03-10T20:00:00Z", "Refund", nil)
	other := env.createTx(t, core.Income, "19.00", "2024-03-10T20:00:00Z", "Other", nil)

	merge := func(e, i int64, confirm bool) *httptest.ResponseRecorder {
		return env.do(t, http.MethodPost, "/transactions/merge", map[string]any{"expense_id": e, "income_id": i, "confirm": confirm})
	}

	assert.Equal(t, http.StatusPreconditionRequired, merge(expense.ID, income.ID, false).Code)
	assert.Equal(t, http.StatusConflict, merge(expense.ID, other.ID, true).Code)
	assert.Equal(t, http.StatusBadRequest, merge(0, income.ID, true).Code)

	rr := merge(expense.ID, income.ID, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.ElementsMatch(t, []int64{expense.ID, income.ID}, decode[mergeResponse](t, rr).Removed)

	for _, id := range []int64{expense.ID, income.ID} {
		rr := env.do(t, http.MethodGet, "/transactions/"+strconv.FormatInt(id, 10), nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	}
	assert.Equal(t, http.StatusGone, merge(expense.ID, income.ID, true).Code)
}

func TestMergeWithUnknownIDDeletesNothing(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	expense := env.createTx(t, core.Expense, "20.00", "2024-03-10T15:00:00Z", "Lunch", nil)
	income := env.createTx(t, core.Income, "20.00", "2024-03-10T20:00:00Z", "Refund", nil)

	for _, body := range []map[string]any{
		{"expense_id": expense.ID, "income_id": 999999, "confirm": true},
		{"expense_id": 999998, "income_id": income.ID, "confirm": true},
		{"expense_id": 999998, "income_id": 999999, "confirm": true},
	} {
		rr := env.do(t, http.MethodPost, "/transactions/merge", body)
		assert.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
	}

	for _, id := range []int64{expense.ID, income.ID} {
		rr := env.do(t, http.MethodGet, "/transactions/"+strconv.FormatInt(id, 10), nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestMergeRetryAfterPartialDelete(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	expense := env.createTx(t, core.Expense, "20.00", "2024-03-10T15:00:00Z", "Lunch", nil)
	income := env.createTx(t, core.Income, "20.00", "2024-03-10T20:00:00Z", "Refund", nil)
	other := env.createTx(t, core.Income, "5.00", "2024-03-10T20:00:00Z", "Other", nil)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/transactions/"+strconv.FormatInt(other.ID, 10), nil).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/transactions/"+strconv.FormatInt(income.ID, 10), nil).Code)

	rr := env.do(t, http.MethodPost, "/transactions/merge", map[string]any{"expense_id": expense.ID, "income_id": other.ID, "confirm": true})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/transactions/merge", map[string]any{"expense_id": expense.ID, "income_id": income.ID, "confirm": true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = env.do(t, http.MethodGet, "/transactions/"+strconv.FormatInt(expense.ID, 10), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMergeFailureStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		check      func(t *testing.T, rr *httptest.ResponseRecorder)
	}{
		{
			name:       "partial",
			err:        &services.PartialMergeError{Removed: 1, Remaining: 2, Err: errors.New("network down")},
			wantStatus: http.StatusMultiStatus,
			check: func(t *testing.T, rr *httptest.ResponseRecorder) {
				body := decode[mergeResponse](t, rr)
				assert.Equal(t, []int64{1}, body.Removed)
				assert.Equal(t, int64(2), body.Remaining)
				assert.Contains(t, body.Error, "network down")
			},
		},
		{
			name:       "both deletes failed",
			err:        &services.MergeFailedError{ExpenseErr: errors.New("a"), IncomeErr: errors.New("b")},
			wantStatus: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{}, func(d *Deps) {
				d.Merger = mergerFunc(func(context.Context, daily.MergePair, bool) error { return tt.err })
			})
			rr := env.do(t, http.MethodPost, "/transactions/merge", map[string]any{"expense_id": 1, "income_id": 2, "confirm": true})
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.check != nil {
				tt.check(t, rr)
			}
		})
	}
}

func TestReferenceDataAndSummaries(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	rr := env.do(t, http.MethodPost, "/banks", map[string]any{"name": "Pichincha"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	bank := decode[core.Bank](t, rr)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/banks", map[string]any{"name": "Pichincha"}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/banks", map[string]any{"name": ""}).Code)

	rr = env.do(t, http.MethodGet, "/banks", nil)
	assert.Len(t, decode[[]core.Bank](t, rr), 1)
	rr = env.do(t, http.MethodGet, "/cards", nil)
	assert.Equal(t, "[]\n", rr.Body.String())

	bankPath := "/banks/" + strconv.FormatInt(bank.ID, 10)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, bankPath, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, bankPath, nil).Code)

	rr = env.do(t, http.MethodPost, "/budgets", map[string]any{"name": "Food", "amount": "300.00"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	budget := decode[core.Budget](t, rr)
	rr = env.do(t, http.MethodPost, "/categories", map[string]any{"name": "Groceries", "color": "#00ff00"})
	require.Equal(t, http.StatusCreated, rr.Code)
	category := decode[core.Category](t, rr)

	env.createTx(t, core.Expense, "100.00", "2024-03-05T15:00:00Z", "Market", map[string]any{"budget_id": budget.ID, "category_id": category.ID})
	env.createTx(t, core.Income, "1000.00", "2024-03-01T15:00:00Z", "Salary", nil)

	rr = env.do(t, http.MethodGet, "/budgets/"+strconv.FormatInt(budget.ID, 10)+"/usage?year=2024&month=3", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	usage := decode[core.BudgetUsage](t, rr)
	assert.Equal(t, 33, usage.Percent)
	assert.Equal(t, int64(20000), usage.Remaining)
	assert.False(t, usage.Over)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/budgets/999/usage?year=2024&month=3", nil).Code)

	rr = env.do(t, http.MethodGet, "/summary?year=2024&month=3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	ov := decode[core.MonthOverview](t, rr)
	assert.Equal(t, int64(10000), ov.Expenses.Cents)
	assert.Equal(t, int64(100000), ov.Income.Cents)
	assert.Equal(t, int64(90000), ov.Balance)
	require.Len(t, ov.ByCategory, 1)
	assert.Equal(t, "Groceries", ov.ByCategory[0].Name)
}

func TestSubscriptionsRoute(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	rr := env.do(t, http.MethodPost, "/subscriptions", map[string]any{
		"name": "Netflix", "amount": "15.99", "every": "monthly", "start_date": "2024-01-05",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/subscriptions", map[string]any{
		"name": "Gym", "amount": "30.00", "every": "hourly", "start_date": "2024-01-05",
	}).Code)

	rr = env.do(t, http.MethodGet, "/subscriptions", nil)
	subs := decode[[]core.Subscription](t, rr)
	require.Len(t, subs, 1)
	assert.Equal(t, core.Monthly, subs[0].Every)
}

func TestExtractRoutes(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, Options{}, nil)
		rr := env.do(t, http.MethodPost, "/extract/email", map[string]any{"text": "receipt"})
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	fake := &fakeExtractor{drafts: []extract.Draft{{
		Type: core.Expense, Amount: core.Money{Cents: 1250}, Description: "Pharmacy", OccurredAt: "2024-03-10T17:00:00Z",
	}}}
	env := newTestEnv(t, Options{}, func(d *Deps) { d.Extractor = fake })

	rr := env.do(t, http.MethodPost, "/extract/email", map[string]any{"text": "Your receipt: 12.50"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, decode[extractResponse](t, rr).Drafts, 1)
	assert.Equal(t, "Your receipt: 12.50", fake.text)

	req := httptest.NewRequest(http.MethodPost, "/extract/image", bytes.NewReader([]byte{0x89, 'P', 'N', 'G'}))
	req.Header.Set("Content-Type", "image/png")
	rr = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "image/png", fake.mime)

	fake.err = extract.ErrNoDrafts
	rr = env.do(t, http.MethodPost, "/extract/email", map[string]any{"text": "hello"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[extractResponse](t, rr).Drafts)

	fake.err = extract.ErrUnsupportedMIME
	rr = env.do(t, http.MethodPost, "/extract/email", map[string]any{"text": "hello"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestWritesAreRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{WritesPerMinute: 1}, nil)

	assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/categories", map[string]any{"name": "A"}).Code)
	rr := env.do(t, http.MethodPost, "/categories", map[string]any{"name": "B"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/categories", nil).Code)
}

type dayViewerFunc func(context.Context, core.TransactionFilter) ([]services.Day, error)

func (f dayViewerFunc) Days(ctx context.Context, filter core.TransactionFilter) ([]services.Day, error) {
	return f(ctx, filter)
}

type mergerFunc func(context.Context, daily.MergePair, bool) error

func (f mergerFunc) Merge(ctx context.Context, pair daily.MergePair, confirmed bool) error {
	return f(ctx, pair, confirmed)
}

type fakeExtractor struct {
	drafts []extract.Draft
	err    error
	text   string
	mime   string
}

func (f *fakeExtractor) FromImage(_ context.Context, _ []byte, mimeType string) ([]extract.Draft, error) {
	f.mime = mimeType
	return f.drafts, f.err
}

func (f *fakeExtractor) FromEmail(_ context.Context, text string) ([]extract.Draft, error) {
	f.text = text
	return f.drafts, f.err
}
