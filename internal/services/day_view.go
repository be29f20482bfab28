package services

import (
	"context"
	"fmt"

	"finboard/internal/core"
	"finboard/internal/daily"
)

// TransactionLister lists one month of transactions.
type TransactionLister interface {
	ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error)
}

// SubscriptionLister lists all subscriptions.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context) ([]core.Subscription, error)
}

// DayTransaction is a transaction annotated for the day view.
type DayTransaction struct {
	core.Transaction
	PairedWith     *int64 `json:"paired_with,omitempty"`
	SubscriptionID *int64 `json:"subscription_id,omitempty"`
}

// Day is one local calendar day of the month view.
type Day struct {
	Day          string            `json:"day"`
	Transactions []DayTransaction  `json:"transactions"`
	Pairs        []daily.MergePair `json:"pairs"`
	Expenses     core.Money        `json:"expenses"`
	Income       core.Money        `json:"income"`
	Net          int64             `json:"net_cents"` // income minus expenses
}

// DayView builds the day-grouped month view.
type DayView struct {
	txs  TransactionLister
	subs SubscriptionLister
	zone daily.Zone
}

// NewDayView creates a DayView. subs may be nil to skip subscription annotations.
func NewDayView(txs TransactionLister, subs SubscriptionLister, zone daily.Zone) *DayView {
	return &DayView{txs: txs, subs: subs, zone: zone}
}

// Days loads the month selected by f and groups it by local day, newest
// first, with merge pairs and totals for each day.
func (v *DayView) Days(ctx context.Context, f core.TransactionFilter) ([]Day, error) {
	txs, err := v.txs.ListTransactions(ctx, f)
	if err != nil {
		return nil, err
	}

	var matcher *SubscriptionMatcher
	if v.subs != nil {
		subs, err := v.subs.ListSubscriptions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		matcher = NewSubscriptionMatcher(subs)
	}

	return BuildDays(txs, v.zone, matcher)
}

// BuildDays is the pure part of Days.
func BuildDays(txs []core.Transaction, zone daily.Zone, matcher *SubscriptionMatcher) ([]Day, error) {
	buckets, err := daily.Group(txs, zone)
	if err != nil {
		return nil, err
	}

	days := make([]Day, 0, len(buckets))
	for _, b := range buckets {
		pairs := daily.Pairs(b.Transactions)
		day := Day{
			Day:          b.Day,
			Transactions: make([]DayTransaction, 0, len(b.Transactions)),
			Pairs:        daily.PairList(b.Transactions, pairs),
		}
		for _, tx := range b.Transactions {
			dt := DayTransaction{Transaction: tx}
			if other, ok := pairs[tx.ID]; ok {
				dt.PairedWith = &other
			}
			if sub, ok := matcher.Match(tx); ok {
				id := sub.ID
				dt.SubscriptionID = &id
			}
			switch tx.Type {
			case core.Expense:
				day.Expenses.Cents += tx.Amount.Cents
			case core.Income:
				day.Income.Cents += tx.Amount.Cents
			}
			day.Transactions = append(day.Transactions, dt)
		}
		day.Net = day.Income.Cents - day.Expenses.Cents
		days = append(days, day)
	}
	return days, nil
}
