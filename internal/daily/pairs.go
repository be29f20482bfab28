package daily

import (
	"finboard/internal/core"
)

// MergePair is an expense and the income that reimburses it.
type MergePair struct {
	ExpenseID int64 `json:"expense_id"`
	IncomeID  int64 `json:"income_id"`
}

// Pairs matches expenses with incomes of exactly the same amount within one
// day bucket. Matching is greedy in input order: each expense takes the first
// still unpaired income with the same amount. The result maps every paired
// id to its counterpart in both directions; unpaired ids are absent.
func Pairs(txs []core.Transaction) map[int64]int64 {
	pairs := make(map[int64]int64)

	incomes := make(map[int64][]int64) // cents -> income ids, scan order
	for _, tx := range txs {
		if tx.Type == core.Income {
			incomes[tx.Amount.Cents] = append(incomes[tx.Amount.Cents], tx.ID)
		}
	}

	for _, tx := range txs {
		if tx.Type != core.Expense {
			continue
		}
		if _, taken := pairs[tx.ID]; taken {
			continue
		}
		queue := incomes[tx.Amount.Cents]
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if _, taken := pairs[id]; taken || id == tx.ID {
				continue
			}
			pairs[tx.ID] = id
			pairs[id] = tx.ID
			break
		}
		incomes[tx.Amount.Cents] = queue
	}
	return pairs
}

// PairList returns the pairs of m ordered as their expenses appear in txs.
func PairList(txs []core.Transaction, m map[int64]int64) []MergePair {
	list := make([]MergePair, 0, len(m)/2)
	for _, tx := range txs {
		if tx.Type != core.Expense {
			continue
		}
		if income, ok := m[tx.ID]; ok {
			list = append(list, MergePair{ExpenseID: tx.ID, IncomeID: income})
		}
	}
	return list
}

// SamePair reports whether expense and income would be paired by Pairs:
// opposite types, distinct ids, equal amounts and the same local day.
func SamePair(expense, income core.Transaction, zone Zone) bool {
	if expense.Type != core.Expense || income.Type != core.Income {
		return false
	}
	if expense.ID == income.ID || expense.Amount.Cents != income.Amount.Cents {
		return false
	}
	et, err := expense.Instant()
	if err != nil {
		return false
	}
	it, err := income.Instant()
	if err != nil {
		return false
	}
	return zone.LocalDay(et) == zone.LocalDay(it)
}
