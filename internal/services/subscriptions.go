package services

import (
	"strings"

	"finboard/internal/core"
)

// SubscriptionMatcher recognizes subscription charges by description.
type SubscriptionMatcher struct {
	subs []core.Subscription
}

func NewSubscriptionMatcher(subs []core.Subscription) *SubscriptionMatcher {
	return &SubscriptionMatcher{subs: subs}
}

// Match returns the first subscription whose match text occurs in the
// expense's description, ignoring case. Incomes never match.
func (m *SubscriptionMatcher) Match(tx core.Transaction) (core.Subscription, bool) {
	if m == nil || tx.Type != core.Expense {
		return core.Subscription{}, false
	}
	desc := strings.ToLower(tx.Description)
	for _, s := range m.subs {
		needle := strings.ToLower(s.MatchText())
		if needle != "" && strings.Contains(desc, needle) {
			return s, true
		}
	}
	return core.Subscription{}, false
}
