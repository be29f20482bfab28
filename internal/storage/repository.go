// Package storage persists the finance data in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/log"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist or was soft deleted.
	ErrNotFound = errors.New("not found")
	// ErrDeleted is returned when deleting a transaction that was already
	// soft deleted. It matches ErrNotFound too.
	ErrDeleted = fmt.Errorf("already deleted: %w", ErrNotFound)
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrInvalidReference is returned when a write points at a missing related row.
	ErrInvalidReference = errors.New("invalid reference")
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	zone    daily.Zone
	logger  *log.Logger
	now     func() time.Time
}

// DSN returns the modernc connection string for dbPath with foreign keys
// enforced and a busy timeout for concurrent writers.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func NewSQLiteRepository(dbPath string, zone daily.Zone, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	if logger == nil {
		logger = log.Discard()
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := migrateUp(dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger = logger.WithComponent(log.ComponentStorage)
	logger.Info("SQLite database ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		zone:    zone,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Zone returns the zone month ranges are computed in.
func (r *SQLiteRepository) Zone() daily.Zone {
	return r.zone
}

// ListTransactions returns the live transactions of one local calendar
// month, most recent first, with their relations joined.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	from, to := r.zone.MonthRange(f.Year, time.Month(f.Month))
	rows, err := r.queries.ListTransactions(ctx, ListTransactionsParams{
		From:       core.FormatInstant(from),
		To:         core.FormatInstant(to),
		BankID:     nullInt(f.BankID),
		CardID:     nullInt(f.CardID),
		BudgetID:   nullInt(f.BudgetID),
		CategoryID: nullInt(f.CategoryID),
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions %04d-%02d: %w", f.Year, f.Month, err)
	}

	txs := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, row.toCore())
	}
	return txs, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return row.toCore(), nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	params, err := transactionParams(tx)
	if err != nil {
		return core.Transaction{}, err
	}
	id, err := r.queries.CreateTransaction(ctx, params)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", classify(err))
	}

	r.logger.DebugContext(ctx, "Transaction saved to SQLite",
		log.FieldTransactionID, id,
		log.FieldTxType, params.Type,
		log.FieldAmountCents, params.AmountCents)

	return r.GetTransaction(ctx, id)
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	params, err := transactionParams(tx)
	if err != nil {
		return core.Transaction{}, err
	}
	n, err := r.queries.UpdateTransaction(ctx, UpdateTransactionParams{
		ID:                      tx.ID,
		CreateTransactionParams: params,
		UpdatedAt:               core.FormatInstant(r.now()),
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", tx.ID, classify(err))
	}
	if n == 0 {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", tx.ID, ErrNotFound)
	}
	return r.GetTransaction(ctx, tx.ID)
}

// GetTransactionIncludingDeleted loads a transaction even when it was soft
// deleted and reports whether it was. An id that never existed returns
// ErrNotFound.
func (r *SQLiteRepository) GetTransactionIncludingDeleted(ctx context.Context, id int64) (core.Transaction, bool, error) {
	row, err := r.queries.GetTransactionAny(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, false, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("get transaction %d: %w", id, err)
	}
	deleted, err := r.queries.TransactionDeleted(ctx, id)
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return row.toCore(), deleted, nil
}

// DeleteTransaction soft deletes a transaction. Deleting it a second time
// returns ErrDeleted; an id that never existed returns ErrNotFound.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64) error {
	n, err := r.queries.SoftDeleteTransaction(ctx, id, core.FormatInstant(r.now()))
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	deleted, err := r.queries.TransactionDeleted(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	case err != nil:
		return fmt.Errorf("delete transaction %d: %w", id, err)
	case deleted:
		return fmt.Errorf("transaction %d: %w", id, ErrDeleted)
	default:
		return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
}

// BudgetSpent sums the expenses charged to a budget in one local month.
func (r *SQLiteRepository) BudgetSpent(ctx context.Context, budgetID int64, year, month int) (core.Money, error) {
	from, to := r.zone.MonthRange(year, time.Month(month))
	total, err := r.queries.SumBudgetExpenses(ctx, budgetID, core.FormatInstant(from), core.FormatInstant(to))
	if err != nil {
		return core.Money{}, fmt.Errorf("sum budget %d: %w", budgetID, err)
	}
	return core.Money{Cents: total}, nil
}

func (r *SQLiteRepository) ListBanks(ctx context.Context) ([]core.Bank, error) {
	rows, err := r.queries.ListBanks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	out := make([]core.Bank, 0, len(rows))
	for _, b := range rows {
		out = append(out, core.Bank{ID: b.ID, Name: b.Name})
	}
	return out, nil
}

func (r *SQLiteRepository) CreateBank(ctx context.Context, b core.Bank) (core.Bank, error) {
	row, err := r.queries.CreateBank(ctx, strings.TrimSpace(b.Name))
	if err != nil {
		return core.Bank{}, fmt.Errorf("create bank: %w", classify(err))
	}
	return core.Bank{ID: row.ID, Name: row.Name}, nil
}

func (r *SQLiteRepository) DeleteBank(ctx context.Context, id int64) error {
	return r.deleteFrom(ctx, "banks", id)
}

func (r *SQLiteRepository) ListCards(ctx context.Context) ([]core.Card, error) {
	rows, err := r.queries.ListCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	out := make([]core.Card, 0, len(rows))
	for _, c := range rows {
		out = append(out, core.Card{ID: c.ID, Name: c.Name, BankID: ptrInt(c.BankID), LastFour: c.LastFour})
	}
	return out, nil
}

func (r *SQLiteRepository) CreateCard(ctx context.Context, c core.Card) (core.Card, error) {
	row, err := r.queries.CreateCard(ctx, strings.TrimSpace(c.Name), nullInt(c.BankID), c.LastFour)
	if err != nil {
		return core.Card{}, fmt.Errorf("create card: %w", classify(err))
	}
	return core.Card{ID: row.ID, Name: row.Name, BankID: ptrInt(row.BankID), LastFour: row.LastFour}, nil
}

func (r *SQLiteRepository) DeleteCard(ctx context.Context, id int64) error {
	return r.deleteFrom(ctx, "cards", id)
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.queries.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	out := make([]core.Budget, 0, len(rows))
	for _, b := range rows {
		out = append(out, core.Budget{ID: b.ID, Name: b.Name, Amount: core.Money{Cents: b.AmountCents}})
	}
	return out, nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, id int64) (core.Budget, error) {
	b, err := r.queries.GetBudget(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budget %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %d: %w", id, err)
	}
	return core.Budget{ID: b.ID, Name: b.Name, Amount: core.Money{Cents: b.AmountCents}}, nil
}

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	row, err := r.queries.CreateBudget(ctx, strings.TrimSpace(b.Name), b.Amount.Cents)
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", classify(err))
	}
	return core.Budget{ID: row.ID, Name: row.Name, Amount: core.Money{Cents: row.AmountCents}}, nil
}

func (r *SQLiteRepository) DeleteBudget(ctx context.Context, id int64) error {
	return r.deleteFrom(ctx, "budgets", id)
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.queries.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]core.Category, 0, len(rows))
	for _, c := range rows {
		out = append(out, core.Category{ID: c.ID, Name: c.Name, Color: c.Color})
	}
	return out, nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	row, err := r.queries.CreateCategory(ctx, strings.TrimSpace(c.Name), c.Color)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", classify(err))
	}
	return core.Category{ID: row.ID, Name: row.Name, Color: row.Color}, nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id int64) error {
	return r.deleteFrom(ctx, "categories", id)
}

func (r *SQLiteRepository) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	rows, err := r.queries.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	out := make([]core.Subscription, 0, len(rows))
	for _, s := range rows {
		sub, err := s.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (r *SQLiteRepository) CreateSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error) {
	params := CreateSubscriptionParams{
		Name:        strings.TrimSpace(s.Name),
		AmountCents: s.Amount.Cents,
		Every:       string(s.Every),
		StartDate:   s.StartDate.Format(daily.DayLayout),
		Match:       strings.TrimSpace(s.Match),
		CategoryID:  nullInt(s.CategoryID),
		CardID:      nullInt(s.CardID),
	}
	if !s.EndDate.IsEmpty() {
		params.EndDate = sql.NullString{String: s.EndDate.Format(daily.DayLayout), Valid: true}
	}
	id, err := r.queries.CreateSubscription(ctx, params)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("create subscription: %w", classify(err))
	}
	row, err := r.queries.GetSubscription(ctx, id)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("get subscription %d: %w", id, err)
	}
	return row.toCore()
}

// MarkSubscriptionCharged stamps the instant a subscription was last charged.
func (r *SQLiteRepository) MarkSubscriptionCharged(ctx context.Context, id int64, at time.Time) error {
	n, err := r.queries.MarkSubscriptionCharged(ctx, id, core.FormatInstant(at))
	if err != nil {
		return fmt.Errorf("mark subscription %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteSubscription(ctx context.Context, id int64) error {
	return r.deleteFrom(ctx, "subscriptions", id)
}

func (r *SQLiteRepository) deleteFrom(ctx context.Context, table string, id int64) error {
	n, err := r.queries.DeleteFrom(ctx, table, id)
	if err != nil {
		return fmt.Errorf("delete from %s %d: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return nil
}

func transactionParams(tx core.Transaction) (CreateTransactionParams, error) {
	at, err := tx.Instant()
	if err != nil {
		return CreateTransactionParams{}, err
	}
	return CreateTransactionParams{
		Type:        string(tx.Type),
		AmountCents: tx.Amount.Cents,
		OccurredAt:  core.FormatInstant(at),
		Description: strings.TrimSpace(tx.Description),
		BankID:      nullInt(tx.BankID),
		CardID:      nullInt(tx.CardID),
		BudgetID:    nullInt(tx.BudgetID),
		CategoryID:  nullInt(tx.CategoryID),
	}, nil
}

func (row TransactionRow) toCore() core.Transaction {
	tx := core.Transaction{
		ID:          row.ID,
		Type:        core.TransactionType(row.Type),
		Amount:      core.Money{Cents: row.AmountCents},
		OccurredAt:  row.OccurredAt,
		Description: row.Description,
		BankID:      ptrInt(row.BankID),
		CardID:      ptrInt(row.CardID),
		BudgetID:    ptrInt(row.BudgetID),
		CategoryID:  ptrInt(row.CategoryID),
	}
	if row.BankID.Valid && row.BankName.Valid {
		tx.Bank = &core.Bank{ID: row.BankID.Int64, Name: row.BankName.String}
	}
	if row.CardID.Valid && row.CardName.Valid {
		tx.Card = &core.Card{ID: row.CardID.Int64, Name: row.CardName.String, LastFour: row.CardLastFour.String}
	}
	if row.BudgetID.Valid && row.BudgetName.Valid {
		tx.Budget = &core.Budget{ID: row.BudgetID.Int64, Name: row.BudgetName.String, Amount: core.Money{Cents: row.BudgetCents.Int64}}
	}
	if row.CategoryID.Valid && row.CatName.Valid {
		tx.Category = &core.Category{ID: row.CategoryID.Int64, Name: row.CatName.String, Color: row.CatColor.String}
	}
	return tx
}

func (s Subscription) toCore() (core.Subscription, error) {
	start, err := time.Parse(daily.DayLayout, s.StartDate)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("subscription %d start date: %w", s.ID, err)
	}
	sub := core.Subscription{
		ID:         s.ID,
		Name:       s.Name,
		Amount:     core.Money{Cents: s.AmountCents},
		Every:      core.RepetitionTypes(s.Every),
		StartDate:  core.Date{Time: start},
		Match:      s.Match,
		CategoryID: ptrInt(s.CategoryID),
		CardID:     ptrInt(s.CardID),
	}
	if s.EndDate.Valid {
		end, err := time.Parse(daily.DayLayout, s.EndDate.String)
		if err != nil {
			return core.Subscription{}, fmt.Errorf("subscription %d end date: %w", s.ID, err)
		}
		sub.EndDate = core.Date{Time: end}
	}
	if s.LastChargedAt.Valid {
		sub.LastCharged = s.LastChargedAt.String
	}
	return sub, nil
}

// classify maps SQLite constraint failures to sentinel errors.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return err
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
