package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"finboard/internal/core"
	"finboard/internal/services"
)

// RenderDays writes the day-grouped month view as aligned text. Paired
// transactions are marked with the id of their counterpart.
func RenderDays(w io.Writer, days []services.Day) error {
	if len(days) == 0 {
		_, err := fmt.Fprintln(w, "No transactions.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, day := range days {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s\t\t\tout %s\tin %s\tnet %s\n",
			day.Day, day.Expenses, day.Income, signed(day.Net))
		for _, tx := range day.Transactions {
			fmt.Fprintf(tw, "  #%d\t%s\t%s\t%s\t%s\n",
				tx.ID, tx.Type, amount(tx.Transaction), truncate(tx.Description, 40), marks(tx))
		}
	}
	return tw.Flush()
}

// RenderOverview writes the month totals and the per-category breakdown.
func RenderOverview(w io.Writer, ov core.MonthOverview) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%04d-%02d\n", ov.Year, ov.Month)
	fmt.Fprintf(tw, "Expenses\t%s\n", ov.Expenses)
	fmt.Fprintf(tw, "Income\t%s\n", ov.Income)
	fmt.Fprintf(tw, "Balance\t%s\n", signed(ov.Balance))
	for _, c := range ov.ByCategory {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Name, c.Amount)
	}
	return tw.Flush()
}

// RenderBudgetUsage writes one budget's spending for the month.
func RenderBudgetUsage(w io.Writer, u core.BudgetUsage) error {
	state := "ok"
	if u.Over {
		state = "OVER"
	}
	_, err := fmt.Fprintf(w, "%s %04d-%02d: %s of %s (%d%%), remaining %s [%s]\n",
		u.Budget.Name, u.Year, u.Month, u.Spent, u.Budget.Amount, u.Percent, signed(u.Remaining), state)
	return err
}

func amount(tx core.Transaction) string {
	if tx.Type == core.Expense {
		return "-" + tx.Amount.String()
	}
	return "+" + tx.Amount.String()
}

func marks(tx services.DayTransaction) string {
	var parts []string
	if tx.PairedWith != nil {
		parts = append(parts, fmt.Sprintf("pair #%d", *tx.PairedWith))
	}
	if tx.SubscriptionID != nil {
		parts = append(parts, "subscription")
	}
	return strings.Join(parts, ", ")
}

func signed(cents int64) string {
	if cents < 0 {
		return "-" + core.Money{Cents: -cents}.String()
	}
	return core.Money{Cents: cents}.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
