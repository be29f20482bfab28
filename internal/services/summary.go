package services

import (
	"context"
	"sort"

	"finboard/internal/core"
)

// Uncategorized is the category name used for expenses without a category.
const Uncategorized = "Uncategorized"

// BudgetStore reads budgets and what was spent against them.
type BudgetStore interface {
	GetBudget(ctx context.Context, id int64) (core.Budget, error)
	BudgetSpent(ctx context.Context, budgetID int64, year, month int) (core.Money, error)
}

// SummaryService aggregates a month of transactions.
type SummaryService struct {
	txs     TransactionLister
	budgets BudgetStore
}

func NewSummaryService(txs TransactionLister, budgets BudgetStore) *SummaryService {
	return &SummaryService{txs: txs, budgets: budgets}
}

// MonthOverview totals the local calendar month.
func (s *SummaryService) MonthOverview(ctx context.Context, year, month int) (core.MonthOverview, error) {
	txs, err := s.txs.ListTransactions(ctx, core.TransactionFilter{Year: year, Month: month})
	if err != nil {
		return core.MonthOverview{}, err
	}
	return Overview(year, month, txs), nil
}

// Overview computes totals and the expense breakdown by category, largest
// first.
func Overview(year, month int, txs []core.Transaction) core.MonthOverview {
	ov := core.MonthOverview{Year: year, Month: month, ByCategory: []core.CategoryAmount{}}
	byCat := make(map[string]int64)

	for _, tx := range txs {
		switch tx.Type {
		case core.Income:
			ov.Income.Cents += tx.Amount.Cents
		case core.Expense:
			ov.Expenses.Cents += tx.Amount.Cents
			name := Uncategorized
			if tx.Category != nil && tx.Category.Name != "" {
				name = tx.Category.Name
			}
			byCat[name] += tx.Amount.Cents
		}
	}
	ov.Balance = ov.Income.Cents - ov.Expenses.Cents

	for name, cents := range byCat {
		ov.ByCategory = append(ov.ByCategory, core.CategoryAmount{Name: name, Amount: core.Money{Cents: cents}})
	}
	sort.Slice(ov.ByCategory, func(i, j int) bool {
		a, b := ov.ByCategory[i], ov.ByCategory[j]
		if a.Amount.Cents != b.Amount.Cents {
			return a.Amount.Cents > b.Amount.Cents
		}
		return a.Name < b.Name
	})
	return ov
}

// BudgetUsage reports how much of a budget was spent in a local month.
func (s *SummaryService) BudgetUsage(ctx context.Context, budgetID int64, year, month int) (core.BudgetUsage, error) {
	if err := (core.TransactionFilter{Year: year, Month: month}).Validate(); err != nil {
		return core.BudgetUsage{}, err
	}
	budget, err := s.budgets.GetBudget(ctx, budgetID)
	if err != nil {
		return core.BudgetUsage{}, err
	}
	spent, err := s.budgets.BudgetSpent(ctx, budgetID, year, month)
	if err != nil {
		return core.BudgetUsage{}, err
	}
	return Usage(budget, spent, year, month), nil
}

// Usage computes the spent percentage rounded half-up.
func Usage(budget core.Budget, spent core.Money, year, month int) core.BudgetUsage {
	u := core.BudgetUsage{
		Budget:    budget,
		Year:      year,
		Month:     month,
		Spent:     spent,
		Remaining: budget.Amount.Cents - spent.Cents,
		Over:      spent.Cents > budget.Amount.Cents,
	}
	if budget.Amount.Cents > 0 {
		u.Percent = int((spent.Cents*200 + budget.Amount.Cents) / (2 * budget.Amount.Cents))
	}
	return u
}
