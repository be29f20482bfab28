// Package services holds the business operations behind the REST API and
// the workers.
package services

import (
	"context"
	"fmt"

	"finboard/internal/core"
	"finboard/internal/log"
)

// Transaction event types published after successful writes.
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionUpdated = "transaction.updated"
	EventTransactionDeleted = "transaction.deleted"
)

// TransactionStore is the persistence the transaction service needs.
type TransactionStore interface {
	ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	GetTransactionIncludingDeleted(ctx context.Context, id int64) (core.Transaction, bool, error)
	CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
}

// EventPublisher announces transaction writes to other processes.
type EventPublisher interface {
	PublishTransaction(ctx context.Context, eventType string, tx core.Transaction) error
}

// TransactionService orchestrates transaction writes across storage and AMQP.
type TransactionService struct {
	store     TransactionStore
	publisher EventPublisher
	logger    *log.Logger
	audit     *log.StructuredLogger
}

// NewTransactionService creates the service. publisher may be nil when no
// broker is configured.
func NewTransactionService(store TransactionStore, publisher EventPublisher, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentTransaction)
	return &TransactionService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		audit:     log.NewStructuredLogger(logger),
	}
}

func (s *TransactionService) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, f)
}

func (s *TransactionService) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// GetTransactionIncludingDeleted loads a transaction even if it was
// deleted, reporting whether it was.
func (s *TransactionService) GetTransactionIncludingDeleted(ctx context.Context, id int64) (core.Transaction, bool, error) {
	return s.store.GetTransactionIncludingDeleted(ctx, id)
}

// CreateTransaction validates and saves a transaction, then publishes a
// created event.
func (s *TransactionService) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validation failed: %w", err)
	}
	saved, err := s.store.CreateTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.audit.LogTransaction(ctx, log.OpCreate, saved.ID, string(saved.Type), saved.Amount.Cents)
	s.publish(ctx, EventTransactionCreated, saved)
	return saved, nil
}

func (s *TransactionService) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validation failed: %w", err)
	}
	saved, err := s.store.UpdateTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.audit.LogTransaction(ctx, log.OpUpdate, saved.ID, string(saved.Type), saved.Amount.Cents)
	s.publish(ctx, EventTransactionUpdated, saved)
	return saved, nil
}

// DeleteTransaction soft deletes a transaction. An already deleted id
// yields ErrAlreadyDeleted, one that never existed ErrNotFound.
func (s *TransactionService) DeleteTransaction(ctx context.Context, id int64) error {
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.audit.LogTransaction(ctx, log.OpDelete, id, "", 0)
	s.publish(ctx, EventTransactionDeleted, core.Transaction{ID: id})
	return nil
}

// publish never fails the write: the transaction is already stored.
func (s *TransactionService) publish(ctx context.Context, eventType string, tx core.Transaction) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping event", log.FieldEventType, eventType)
		return
	}
	if err := s.publisher.PublishTransaction(ctx, eventType, tx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish transaction event",
			log.FieldEventType, eventType,
			log.FieldTransactionID, tx.ID,
			log.FieldError, err)
	}
}
