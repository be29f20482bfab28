// Package sheets mirrors transactions into a spreadsheet, one row per
// transaction keyed by its id.
package sheets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"finboard/internal/core"
	"finboard/internal/daily"
)

// TransactionExporter writes and removes transaction rows. Export of an
// id that is already exported replaces its row; Remove of an unknown id
// is a no-op.
type TransactionExporter interface {
	Export(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	Remove(ctx context.Context, id int64) error
}

// Header is the first row of every transactions sheet.
var Header = []any{"ID", "Day", "Type", "Description", "Amount", "Category"}

// Row is the exported form of a transaction.
type Row struct {
	ID          int64
	Day         string
	Type        core.TransactionType
	Description string
	Amount      core.Money
	Category    string
}

// NewRow converts tx, placing it on its local calendar day in zone.
func NewRow(tx core.Transaction, zone daily.Zone) (Row, error) {
	if tx.ID <= 0 {
		return Row{}, fmt.Errorf("transaction id is required")
	}
	if err := tx.Validate(); err != nil {
		return Row{}, fmt.Errorf("validation failed: %w", err)
	}
	at, err := tx.Instant()
	if err != nil {
		return Row{}, err
	}
	r := Row{
		ID:          tx.ID,
		Day:         zone.LocalDay(at),
		Type:        tx.Type,
		Description: tx.Description,
		Amount:      tx.Amount,
	}
	if tx.Category != nil {
		r.Category = tx.Category.Name
	}
	return r, nil
}

// Year is the calendar year of the row's local day.
func (r Row) Year() int {
	t, err := time.Parse(daily.DayLayout, r.Day)
	if err != nil {
		return 0
	}
	return t.Year()
}

// Values returns the cells in Header order.
func (r Row) Values() []any {
	return []any{strconv.FormatInt(r.ID, 10), r.Day, string(r.Type), r.Description, r.Amount.Euros(), r.Category}
}
