package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const transactionColumns = `
SELECT t.id, t.type, t.amount_cents, t.occurred_at, t.description,
       t.bank_id, t.card_id, t.budget_id, t.category_id,
       b.name, c.name, c.last_four, bu.name, bu.amount_cents, ca.name, ca.color
FROM transactions t
LEFT JOIN banks b       ON b.id = t.bank_id
LEFT JOIN cards c       ON c.id = t.card_id
LEFT JOIN budgets bu    ON bu.id = t.budget_id
LEFT JOIN categories ca ON ca.id = t.category_id
`

const listTransactions = transactionColumns + `
WHERE t.deleted_at IS NULL
  AND t.occurred_at >= ? AND t.occurred_at < ?
  AND (? IS NULL OR t.bank_id = ?)
  AND (? IS NULL OR t.card_id = ?)
  AND (? IS NULL OR t.budget_id = ?)
  AND (? IS NULL OR t.category_id = ?)
ORDER BY t.occurred_at DESC, t.id DESC
`

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions,
		arg.From, arg.To,
		arg.BankID, arg.BankID,
		arg.CardID, arg.CardID,
		arg.BudgetID, arg.BudgetID,
		arg.CategoryID, arg.CategoryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getTransaction = transactionColumns + `
WHERE t.id = ? AND t.deleted_at IS NULL
`

func (q *Queries) GetTransaction(ctx context.Context, id int64) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id))
}

const getTransactionAny = transactionColumns + `
WHERE t.id = ?
`

// GetTransactionAny loads a transaction whether or not it was soft deleted.
func (q *Queries) GetTransactionAny(ctx context.Context, id int64) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransactionAny, id))
}

const transactionDeleted = `SELECT deleted_at IS NOT NULL FROM transactions WHERE id = ?`

func (q *Queries) TransactionDeleted(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := q.db.QueryRowContext(ctx, transactionDeleted, id).Scan(&deleted)
	return deleted, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (TransactionRow, error) {
	var i TransactionRow
	err := s.Scan(
		&i.ID, &i.Type, &i.AmountCents, &i.OccurredAt, &i.Description,
		&i.BankID, &i.CardID, &i.BudgetID, &i.CategoryID,
		&i.BankName, &i.CardName, &i.CardLastFour, &i.BudgetName, &i.BudgetCents,
		&i.CatName, &i.CatColor,
	)
	return i, err
}

const createTransaction = `
INSERT INTO transactions (type, amount_cents, occurred_at, description, bank_id, card_id, budget_id, category_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createTransaction,
		arg.Type, arg.AmountCents, arg.OccurredAt, arg.Description,
		arg.BankID, arg.CardID, arg.BudgetID, arg.CategoryID,
	).Scan(&id)
	return id, err
}

const updateTransaction = `
UPDATE transactions
SET type = ?, amount_cents = ?, occurred_at = ?, description = ?,
    bank_id = ?, card_id = ?, budget_id = ?, category_id = ?, updated_at = ?
WHERE id = ? AND deleted_at IS NULL
`

func (q *Queries) UpdateTransaction(ctx context.Context, arg UpdateTransactionParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction,
		arg.Type, arg.AmountCents, arg.OccurredAt, arg.Description,
		arg.BankID, arg.CardID, arg.BudgetID, arg.CategoryID, arg.UpdatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const softDeleteTransaction = `
UPDATE transactions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
`

func (q *Queries) SoftDeleteTransaction(ctx context.Context, id int64, deletedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, softDeleteTransaction, deletedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const sumBudgetExpenses = `
SELECT COALESCE(SUM(amount_cents), 0)
FROM transactions
WHERE deleted_at IS NULL AND type = 'expense' AND budget_id = ?
  AND occurred_at >= ? AND occurred_at < ?
`

func (q *Queries) SumBudgetExpenses(ctx context.Context, budgetID int64, from, to string) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, sumBudgetExpenses, budgetID, from, to).Scan(&total)
	return total, err
}

const listBanks = `SELECT id, name, created_at FROM banks ORDER BY name`

func (q *Queries) ListBanks(ctx context.Context) ([]Bank, error) {
	rows, err := q.db.QueryContext(ctx, listBanks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Bank
	for rows.Next() {
		var i Bank
		if err := rows.Scan(&i.ID, &i.Name, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createBank = `INSERT INTO banks (name) VALUES (?) RETURNING id, name, created_at`

func (q *Queries) CreateBank(ctx context.Context, name string) (Bank, error) {
	var i Bank
	err := q.db.QueryRowContext(ctx, createBank, name).Scan(&i.ID, &i.Name, &i.CreatedAt)
	return i, err
}

const listCards = `SELECT id, name, bank_id, last_four, created_at FROM cards ORDER BY name`

func (q *Queries) ListCards(ctx context.Context) ([]Card, error) {
	rows, err := q.db.QueryContext(ctx, listCards)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Card
	for rows.Next() {
		var i Card
		if err := rows.Scan(&i.ID, &i.Name, &i.BankID, &i.LastFour, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createCard = `
INSERT INTO cards (name, bank_id, last_four) VALUES (?, ?, ?)
RETURNING id, name, bank_id, last_four, created_at
`

func (q *Queries) CreateCard(ctx context.Context, name string, bankID sql.NullInt64, lastFour string) (Card, error) {
	var i Card
	err := q.db.QueryRowContext(ctx, createCard, name, bankID, lastFour).
		Scan(&i.ID, &i.Name, &i.BankID, &i.LastFour, &i.CreatedAt)
	return i, err
}

const listBudgets = `SELECT id, name, amount_cents, created_at FROM budgets ORDER BY name`

func (q *Queries) ListBudgets(ctx context.Context) ([]Budget, error) {
	rows, err := q.db.QueryContext(ctx, listBudgets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Budget
	for rows.Next() {
		var i Budget
		if err := rows.Scan(&i.ID, &i.Name, &i.AmountCents, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getBudget = `SELECT id, name, amount_cents, created_at FROM budgets WHERE id = ?`

func (q *Queries) GetBudget(ctx context.Context, id int64) (Budget, error) {
	var i Budget
	err := q.db.QueryRowContext(ctx, getBudget, id).Scan(&i.ID, &i.Name, &i.AmountCents, &i.CreatedAt)
	return i, err
}

const createBudget = `
INSERT INTO budgets (name, amount_cents) VALUES (?, ?)
RETURNING id, name, amount_cents, created_at
`

func (q *Queries) CreateBudget(ctx context.Context, name string, amountCents int64) (Budget, error) {
	var i Budget
	err := q.db.QueryRowContext(ctx, createBudget, name, amountCents).
		Scan(&i.ID, &i.Name, &i.AmountCents, &i.CreatedAt)
	return i, err
}

const listCategories = `SELECT id, name, color, created_at FROM categories ORDER BY name`

func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Category
	for rows.Next() {
		var i Category
		if err := rows.Scan(&i.ID, &i.Name, &i.Color, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createCategory = `
INSERT INTO categories (name, color) VALUES (?, ?)
RETURNING id, name, color, created_at
`

func (q *Queries) CreateCategory(ctx context.Context, name, color string) (Category, error) {
	var i Category
	err := q.db.QueryRowContext(ctx, createCategory, name, color).
		Scan(&i.ID, &i.Name, &i.Color, &i.CreatedAt)
	return i, err
}

const subscriptionColumns = `
SELECT id, name, amount_cents, every, start_date, end_date, match,
       category_id, card_id, last_charged_at, created_at
FROM subscriptions
`

func (q *Queries) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, subscriptionColumns+`ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Subscription
	for rows.Next() {
		i, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (q *Queries) GetSubscription(ctx context.Context, id int64) (Subscription, error) {
	return scanSubscription(q.db.QueryRowContext(ctx, subscriptionColumns+`WHERE id = ?`, id))
}

func scanSubscription(s scanner) (Subscription, error) {
	var i Subscription
	err := s.Scan(&i.ID, &i.Name, &i.AmountCents, &i.Every, &i.StartDate, &i.EndDate, &i.Match,
		&i.CategoryID, &i.CardID, &i.LastChargedAt, &i.CreatedAt)
	return i, err
}

const createSubscription = `
INSERT INTO subscriptions (name, amount_cents, every, start_date, end_date, match, category_id, card_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`

func (q *Queries) CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createSubscription,
		arg.Name, arg.AmountCents, arg.Every, arg.StartDate, arg.EndDate, arg.Match,
		arg.CategoryID, arg.CardID,
	).Scan(&id)
	return id, err
}

const markSubscriptionCharged = `UPDATE subscriptions SET last_charged_at = ? WHERE id = ?`

func (q *Queries) MarkSubscriptionCharged(ctx context.Context, id int64, at string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markSubscriptionCharged, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteFrom hard-deletes a reference row. table must be one of the
// reference tables; it is never taken from user input.
func (q *Queries) DeleteFrom(ctx context.Context, table string, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
