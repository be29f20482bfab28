package services

import (
	"context"
	"fmt"
	"time"

	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/log"
)

// SubscriptionStore reads subscriptions and records their charges.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]core.Subscription, error)
	MarkSubscriptionCharged(ctx context.Context, id int64, at time.Time) error
}

// TransactionWriter creates transactions and lists a month of them.
type TransactionWriter interface {
	TransactionLister
	CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
}

// SubscriptionProcessor turns due subscriptions into expense transactions.
type SubscriptionProcessor struct {
	subs   SubscriptionStore
	txs    TransactionWriter
	zone   daily.Zone
	logger *log.Logger
}

func NewSubscriptionProcessor(subs SubscriptionStore, txs TransactionWriter, zone daily.Zone, logger *log.Logger) *SubscriptionProcessor {
	if logger == nil {
		logger = log.Discard()
	}
	return &SubscriptionProcessor{
		subs:   subs,
		txs:    txs,
		zone:   zone,
		logger: logger.WithComponent(log.ComponentSubscription),
	}
}

// ProcessDue charges every active subscription that is due at now and
// returns how many expenses were created. Monthly and yearly subscriptions
// are skipped when a matching expense already exists in the current local
// month, e.g. one entered by hand. A failure on one subscription is logged
// and does not stop the others.
func (p *SubscriptionProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.subs == nil || p.txs == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	subs, err := p.subs.ListSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	local := now.In(p.zone.Location())
	year, month, day := local.Date()
	today := core.NewDate(year, int(month), day)

	monthTxs, err := p.txs.ListTransactions(ctx, core.TransactionFilter{Year: year, Month: int(month)})
	if err != nil {
		return 0, fmt.Errorf("list month transactions: %w", err)
	}

	p.logger.InfoContext(ctx, "Processing subscriptions",
		"total", len(subs),
		"local_day", p.zone.LocalDay(now))

	created := 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if !sub.ActiveOn(today) {
			continue
		}

		due, err := p.isDue(sub, local)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to check if subscription is due",
				log.FieldSubscription, sub.ID, log.FieldError, err)
			continue
		}
		if !due {
			continue
		}

		if (sub.Every == core.Monthly || sub.Every == core.Yearly) && chargedInMonth(sub, monthTxs) {
			p.logger.DebugContext(ctx, "Subscription already charged this month",
				log.FieldSubscription, sub.ID)
			if err := p.subs.MarkSubscriptionCharged(ctx, sub.ID, now); err != nil {
				p.logger.ErrorContext(ctx, "Failed to mark subscription charged",
					log.FieldSubscription, sub.ID, log.FieldError, err)
			}
			continue
		}

		tx, err := p.txs.CreateTransaction(ctx, core.Transaction{
			Type:        core.Expense,
			Amount:      sub.Amount,
			OccurredAt:  core.FormatInstant(now),
			Description: sub.Name,
			CategoryID:  sub.CategoryID,
			CardID:      sub.CardID,
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to create expense from subscription",
				log.FieldSubscription, sub.ID, log.FieldError, err)
			continue
		}
		monthTxs = append(monthTxs, tx)

		if err := p.subs.MarkSubscriptionCharged(ctx, sub.ID, now); err != nil {
			// The expense exists; the month check prevents a duplicate next run.
			p.logger.ErrorContext(ctx, "Failed to mark subscription charged",
				log.FieldSubscription, sub.ID, log.FieldError, err)
		}

		created++
		p.logger.InfoContext(ctx, "Created expense from subscription",
			log.FieldSubscription, sub.ID,
			log.FieldTransactionID, tx.ID,
			log.FieldAmountCents, sub.Amount.Cents,
			"every", sub.Every)
	}

	p.logger.InfoContext(ctx, "Subscription processing complete",
		"created", created,
		"total_checked", len(subs))

	return created, nil
}

func (p *SubscriptionProcessor) isDue(sub core.Subscription, localNow time.Time) (bool, error) {
	checker, err := GetDuenessChecker(sub.Every)
	if err != nil {
		return false, err
	}
	var last time.Time
	if sub.LastCharged != "" {
		t, err := core.ParseInstant(sub.LastCharged)
		if err != nil {
			return false, fmt.Errorf("last charged: %w", err)
		}
		last = t.In(p.zone.Location())
	}
	return checker.IsDue(last, localNow, sub.StartDate), nil
}

func chargedInMonth(sub core.Subscription, txs []core.Transaction) bool {
	m := NewSubscriptionMatcher([]core.Subscription{sub})
	for _, tx := range txs {
		if _, ok := m.Match(tx); ok {
			return true
		}
	}
	return false
}
