package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int              `json:"year"`
	Month      int              `json:"month"` // 1-12
	Expenses   Money            `json:"expenses"`
	Income     Money            `json:"income"`
	Balance    int64            `json:"balance_cents"` // income minus expenses, may be negative
	ByCategory []CategoryAmount `json:"by_category"`
}

// BudgetUsage reports how much of a budget's monthly allowance is spent.
type BudgetUsage struct {
	Budget    Budget `json:"budget"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Spent     Money  `json:"spent"`
	Remaining int64  `json:"remaining_cents"`
	Percent   int    `json:"percent"`
	Over      bool   `json:"over_budget"`
}
