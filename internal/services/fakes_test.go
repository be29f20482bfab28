package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"finboard/internal/core"
	"finboard/internal/daily"
)

// memStore is an in-memory TransactionStore with the same not-found
// semantics as the SQLite repository.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	txs     map[int64]core.Transaction
	deleted map[int64]bool
	failOn  map[int64]error
	zone    daily.Zone

	subs    []core.Subscription
	charged map[int64]time.Time
}

func newMemStore(txs ...core.Transaction) *memStore {
	s := &memStore{
		txs:     make(map[int64]core.Transaction),
		deleted: make(map[int64]bool),
		failOn:  make(map[int64]error),
		charged: make(map[int64]time.Time),
		zone:    daily.Guayaquil,
	}
	for _, tx := range txs {
		s.txs[tx.ID] = tx
		if tx.ID > s.nextID {
			s.nextID = tx.ID
		}
	}
	return s
}

func (s *memStore) ListTransactions(_ context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to := s.zone.MonthRange(f.Year, time.Month(f.Month))
	var out []core.Transaction
	for id, tx := range s.txs {
		if s.deleted[id] {
			continue
		}
		at, err := tx.Instant()
		if err != nil {
			out = append(out, tx)
			continue
		}
		if !at.Before(from) && at.Before(to) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || s.deleted[id] {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	return tx, nil
}

func (s *memStore) GetTransactionIncludingDeleted(_ context.Context, id int64) (core.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, false, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	return tx, s.deleted[id], nil
}

func (s *memStore) CreateTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	tx.ID = s.nextID
	s.txs[tx.ID] = tx
	return tx, nil
}

func (s *memStore) UpdateTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; !ok || s.deleted[tx.ID] {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", tx.ID, ErrNotFound)
	}
	s.txs[tx.ID] = tx
	return tx, nil
}

func (s *memStore) DeleteTransaction(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[id]; err != nil {
		return err
	}
	if _, ok := s.txs[id]; !ok {
		return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if s.deleted[id] {
		return fmt.Errorf("transaction %d: %w", id, ErrAlreadyDeleted)
	}
	s.deleted[id] = true
	return nil
}

func (s *memStore) ListSubscriptions(context.Context) ([]core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Subscription, len(s.subs))
	for i, sub := range s.subs {
		if at, ok := s.charged[sub.ID]; ok {
			sub.LastCharged = core.FormatInstant(at)
		}
		out[i] = sub
	}
	return out, nil
}

func (s *memStore) MarkSubscriptionCharged(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charged[id] = at
	return nil
}

func (s *memStore) live(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.txs[id]
	return ok && !s.deleted[id]
}

type publishedEvent struct {
	Type string
	ID   int64
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishTransaction(_ context.Context, eventType string, tx core.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, ID: tx.ID})
	return p.err
}

func tx(id int64, typ core.TransactionType, cents int64, at, desc string) core.Transaction {
	return core.Transaction{ID: id, Type: typ, Amount: core.Money{Cents: cents}, OccurredAt: at, Description: desc}
}
