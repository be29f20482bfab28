// Package client is a thin typed client for the finboard REST API. GET
// responses are cached by request key and every mutation clears the cache.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"finboard/internal/cache"
	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/extract"
	"finboard/internal/log"
	"finboard/internal/services"
	"finboard/internal/storage"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status        int
	Message       string
	RequestID     string
	TransactionID int64

	sentinel error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("finboard api: %d %s", e.Status, e.Message)
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

// Unwrap exposes the service error the status stands for, so callers can
// use errors.Is with the services and storage sentinels.
func (e *APIError) Unwrap() error {
	return e.sentinel
}

type errorBody struct {
	Error         string `json:"error"`
	RequestID     string `json:"request_id"`
	TransactionID int64  `json:"transaction_id"`
	Removed       int64  `json:"removed"`
	Remaining     int64  `json:"remaining"`
}

// fetchTimeout bounds a GET shared by concurrent callers. It runs detached
// from any one caller's context, so a caller giving up does not fail the
// others waiting on it.
const fetchTimeout = 30 * time.Second

// Client calls the REST API.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.LRUCache[[]byte]
	group   singleflight.Group
	logger  *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache sizes the query cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) { c.cache = cache.NewLRUCache[[]byte](size, ttl) }
}

// WithLogger sets the client logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger.WithComponent(log.ComponentClient) }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   cache.NewLRUCache[[]byte](100, time.Minute),
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Cache exposes the query cache so callers can register it for sweeping.
func (c *Client) Cache() *cache.LRUCache[[]byte] {
	return c.cache
}

// Invalidate drops every cached GET. A GET still in flight will not
// store its answer afterwards.
func (c *Client) Invalidate() {
	c.cache.Clear()
}

// get fetches path and decodes it into dst, serving from the cache when
// possible. Concurrent identical requests within one cache generation
// share one round trip.
func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	key := cache.Key(http.MethodGet, target)

	data, ok := c.cache.Get(key)
	if ok {
		c.logger.DebugContext(ctx, "Query cache hit", "key", key)
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		gen := c.cache.Generation()
		ch := c.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
			fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
			defer cancel()
			body, _, err := c.do(fetchCtx, http.MethodGet, target, "", nil)
			if err != nil {
				return nil, err
			}
			c.cache.SetIfCurrent(key, body, gen)
			return body, nil
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return res.Err
			}
			data = res.Val.([]byte)
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// send performs a mutation and clears the cache, whatever the outcome: a
// failed request may still have changed data on the server.
func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	defer c.Invalidate()

	data, _, err := c.do(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// do runs one request. Non-2xx answers become *APIError.
func (c *Client) do(ctx context.Context, method, target, contentType string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	c.logger.DebugContext(ctx, "API call", log.FieldMethod, method, log.FieldPath, target,
		log.FieldStatusCode, resp.StatusCode, log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.StatusCode != http.StatusMultiStatus {
		return data, resp.StatusCode, nil
	}
	return data, resp.StatusCode, newAPIError(resp.StatusCode, data)
}

func newAPIError(status int, data []byte) *APIError {
	var body errorBody
	_ = json.Unmarshal(data, &body)
	e := &APIError{
		Status:        status,
		Message:       body.Error,
		RequestID:     body.RequestID,
		TransactionID: body.TransactionID,
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	switch status {
	case http.StatusNotFound:
		e.sentinel = services.ErrNotFound
	case http.StatusGone:
		e.sentinel = services.ErrAlreadyDeleted
	case http.StatusConflict:
		e.sentinel = storage.ErrConflict
	case http.StatusPreconditionRequired:
		e.sentinel = services.ErrMergeNotConfirmed
	case http.StatusBadGateway:
		e.sentinel = services.ErrMergeFailed
	case http.StatusInternalServerError:
		if body.TransactionID != 0 {
			e.sentinel = daily.ErrMalformedTimestamp
		}
	}
	return e
}

func filterQuery(f core.TransactionFilter) url.Values {
	q := url.Values{}
	if f.Year != 0 {
		q.Set("year", strconv.Itoa(f.Year))
	}
	if f.Month != 0 {
		q.Set("month", strconv.Itoa(f.Month))
	}
	for name, id := range map[string]*int64{
		"bank_id":     f.BankID,
		"card_id":     f.CardID,
		"budget_id":   f.BudgetID,
		"category_id": f.CategoryID,
	} {
		if id != nil {
			q.Set(name, strconv.FormatInt(*id, 10))
		}
	}
	return q
}

func idPath(prefix string, id int64) string {
	return prefix + "/" + strconv.FormatInt(id, 10)
}

// Health reports whether the server answers its readiness check.
func (c *Client) Health(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodGet, "/readyz", "", nil)
	return err
}

func (c *Client) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	var out []core.Transaction
	err := c.get(ctx, "/transactions", filterQuery(f), &out)
	return out, err
}

// Days fetches the day-grouped month view with pairs and totals.
func (c *Client) Days(ctx context.Context, f core.TransactionFilter) ([]services.Day, error) {
	var out []services.Day
	err := c.get(ctx, "/transactions/days", filterQuery(f), &out)
	return out, err
}

func (c *Client) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	var out core.Transaction
	err := c.get(ctx, idPath("/transactions", id), nil, &out)
	return out, err
}

func (c *Client) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	var out core.Transaction
	err := c.send(ctx, http.MethodPost, "/transactions", tx, &out)
	return out, err
}

func (c *Client) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	var out core.Transaction
	err := c.send(ctx, http.MethodPut, idPath("/transactions", tx.ID), tx, &out)
	return out, err
}

// DeleteTransaction deletes one transaction. The server answers 410 for an
// id an earlier call removed, reported as services.ErrAlreadyDeleted, and
// 404 for one that never existed. That lets the client act as the deleter of
// a services.Merger.
func (c *Client) DeleteTransaction(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, idPath("/transactions", id), nil, nil)
}

// Merge asks the server to delete a confirmed pair. A 207 answer becomes a
// *services.PartialMergeError naming the transaction that remains.
func (c *Client) Merge(ctx context.Context, pair daily.MergePair, confirmed bool) error {
	in := map[string]any{"expense_id": pair.ExpenseID, "income_id": pair.IncomeID, "confirm": confirmed}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	defer c.Invalidate()

	data, status, err := c.do(ctx, http.MethodPost, "/transactions/merge", "application/json", body)
	switch status {
	case http.StatusMultiStatus:
		var partial struct {
			Removed   []int64 `json:"removed"`
			Remaining int64   `json:"remaining"`
			Error     string  `json:"error"`
		}
		if jerr := json.Unmarshal(data, &partial); jerr != nil || len(partial.Removed) != 1 {
			return fmt.Errorf("decode partial merge %q: %w", data, err)
		}
		return &services.PartialMergeError{Removed: partial.Removed[0], Remaining: partial.Remaining, Err: errors.New(partial.Error)}
	case http.StatusConflict:
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.sentinel = services.ErrNotAPair
		}
	}
	return err
}

func (c *Client) MonthOverview(ctx context.Context, year, month int) (core.MonthOverview, error) {
	var out core.MonthOverview
	err := c.get(ctx, "/summary", filterQuery(core.TransactionFilter{Year: year, Month: month}), &out)
	return out, err
}

func (c *Client) BudgetUsage(ctx context.Context, budgetID int64, year, month int) (core.BudgetUsage, error) {
	var out core.BudgetUsage
	q := filterQuery(core.TransactionFilter{Year: year, Month: month})
	err := c.get(ctx, idPath("/budgets", budgetID)+"/usage", q, &out)
	return out, err
}

func (c *Client) ListBanks(ctx context.Context) ([]core.Bank, error) {
	var out []core.Bank
	err := c.get(ctx, "/banks", nil, &out)
	return out, err
}

func (c *Client) CreateBank(ctx context.Context, b core.Bank) (core.Bank, error) {
	var out core.Bank
	err := c.send(ctx, http.MethodPost, "/banks", b, &out)
	return out, err
}

func (c *Client) DeleteBank(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, idPath("/banks", id), nil, nil)
}

func (c *Client) ListCards(ctx context.Context) ([]core.Card, error) {
	var out []core.Card
	err := c.get(ctx, "/cards", nil, &out)
	return out, err
}

func (c *Client) CreateCard(ctx context.Context, card core.Card) (core.Card, error) {
	var out core.Card
	err := c.send(ctx, http.MethodPost, "/cards", card, &out)
	return out, err
}

func (c *Client) DeleteCard(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, idPath("/cards", id), nil, nil)
}

func (c *Client) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	var out []core.Budget
	err := c.get(ctx, "/budgets", nil, &out)
	return out, err
}

func (c *Client) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	var out core.Budget
	err := c.send(ctx, http.MethodPost, "/budgets", b, &out)
	return out, err
}

func (c *Client) DeleteBudget(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, idPath("/budgets", id), nil, nil)
}

func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	var out []core.Category
	err := c.get(ctx, "/categories", nil, &out)
	return out, err
}

func (c *Client) CreateCategory(ctx context.Context, cat core.Category) (core.Category, error) {
	var out core.Category
	err := c.send(ctx, http.MethodPost, "/categories", cat, &out)
	return out, err
}

func (c *Client) DeleteCategory(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, idPath("/categories", id), nil, nil)
}

func (c *Client) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	var out []core.Subscription
	err := c.get(ctx, "/subscriptions", nil, &out)
	return out, err
}

func (c *Client) CreateSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error) {
	var out core.Subscription
	err := c.send(ctx, http.MethodPost, "/subscriptions", s, &out)
	return out, err
}

func (c *Client) DeleteSubscription(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, idPath("/subscriptions", id), nil, nil)
}

// ExtractEmail asks the server for transaction drafts found in text.
func (c *Client) ExtractEmail(ctx context.Context, text string) ([]extract.Draft, error) {
	var out struct {
		Drafts []extract.Draft `json:"drafts"`
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	data, _, err := c.do(ctx, http.MethodPost, "/extract/email", "application/json", body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Drafts, nil
}

// ExtractImage asks the server for transaction drafts found in a receipt image.
func (c *Client) ExtractImage(ctx context.Context, data []byte, mimeType string) ([]extract.Draft, error) {
	var out struct {
		Drafts []extract.Draft `json:"drafts"`
	}
	resp, _, err := c.do(ctx, http.MethodPost, "/extract/image", mimeType, data)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, err
	}
	return out.Drafts, nil
}
