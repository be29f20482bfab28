package storage

import "database/sql"

// Row types mirror the tables in migrations/.

type Bank struct {
	ID        int64
	Name      string
	CreatedAt string
}

type Card struct {
	ID        int64
	Name      string
	BankID    sql.NullInt64
	LastFour  string
	CreatedAt string
}

type Budget struct {
	ID          int64
	Name        string
	AmountCents int64
	CreatedAt   string
}

type Category struct {
	ID        int64
	Name      string
	Color     string
	CreatedAt string
}

type Subscription struct {
	ID            int64
	Name          string
	AmountCents   int64
	Every         string
	StartDate     string
	EndDate       sql.NullString
	Match         string
	CategoryID    sql.NullInt64
	CardID        sql.NullInt64
	LastChargedAt sql.NullString
	CreatedAt     string
}

// TransactionRow is a live transaction joined with its relations.
type TransactionRow struct {
	ID           int64
	Type         string
	AmountCents  int64
	OccurredAt   string
	Description  string
	BankID       sql.NullInt64
	CardID       sql.NullInt64
	BudgetID     sql.NullInt64
	CategoryID   sql.NullInt64
	BankName     sql.NullString
	CardName     sql.NullString
	CardLastFour sql.NullString
	BudgetName   sql.NullString
	BudgetCents  sql.NullInt64
	CatName      sql.NullString
	CatColor     sql.NullString
}

type CreateTransactionParams struct {
	Type        string
	AmountCents int64
	OccurredAt  string
	Description string
	BankID      sql.NullInt64
	CardID      sql.NullInt64
	BudgetID    sql.NullInt64
	CategoryID  sql.NullInt64
}

type UpdateTransactionParams struct {
	ID int64
	CreateTransactionParams
	UpdatedAt string
}

// ListTransactionsParams bounds occurred_at to [From, To) and filters on any
// non-null dimension.
type ListTransactionsParams struct {
	From       string
	To         string
	BankID     sql.NullInt64
	CardID     sql.NullInt64
	BudgetID   sql.NullInt64
	CategoryID sql.NullInt64
}

type CreateSubscriptionParams struct {
	Name        string
	AmountCents int64
	Every       string
	StartDate   string
	EndDate     sql.NullString
	Match       string
	CategoryID  sql.NullInt64
	CardID      sql.NullInt64
}
