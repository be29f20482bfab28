package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/log"
)

// TransactionDeleter deletes a transaction by id. Deleting an id that is
// already gone must return an error matching ErrAlreadyDeleted.
type TransactionDeleter interface {
	DeleteTransaction(ctx context.Context, id int64) error
}

// Merger removes a confirmed expense/reimbursement pair.
type Merger struct {
	deleter TransactionDeleter
	logger  *log.Logger
}

func NewMerger(deleter TransactionDeleter, logger *log.Logger) *Merger {
	if logger == nil {
		logger = log.Discard()
	}
	return &Merger{deleter: deleter, logger: logger.WithComponent(log.ComponentMerge)}
}

// Merge deletes both sides of pair concurrently and waits for both. It
// returns nil when both are gone, a *MergeFailedError when neither could be
// removed and a *PartialMergeError when only one was. A side reported as
// already deleted counts as removed, so re-running a partially applied merge
// only retries the surviving transaction.
func (m *Merger) Merge(ctx context.Context, pair daily.MergePair, confirmed bool) error {
	if !confirmed {
		return ErrMergeNotConfirmed
	}
	if pair.ExpenseID == pair.IncomeID {
		return fmt.Errorf("%w: expense and income share id %d", ErrNotAPair, pair.ExpenseID)
	}

	var expenseErr, incomeErr error

	// No shared cancellation: a failing delete must not abort the other one.
	var g errgroup.Group
	g.Go(func() error {
		expenseErr = m.delete(ctx, pair.ExpenseID)
		return nil
	})
	g.Go(func() error {
		incomeErr = m.delete(ctx, pair.IncomeID)
		return nil
	})
	_ = g.Wait()

	fields := log.NewFields().WithPair(pair.ExpenseID, pair.IncomeID).WithOperation(log.OpMerge)

	switch {
	case expenseErr == nil && incomeErr == nil:
		m.logger.InfoContext(ctx, "Merge pair removed", fields.ToSlice()...)
		return nil
	case expenseErr != nil && incomeErr != nil:
		err := &MergeFailedError{ExpenseErr: expenseErr, IncomeErr: incomeErr}
		m.logger.ErrorContext(ctx, "Merge failed", fields.WithError(err).ToSlice()...)
		return err
	case expenseErr != nil:
		err := &PartialMergeError{Removed: pair.IncomeID, Remaining: pair.ExpenseID, Err: expenseErr}
		m.logger.ErrorContext(ctx, "Merge partially applied", fields.WithError(err).ToSlice()...)
		return err
	default:
		err := &PartialMergeError{Removed: pair.ExpenseID, Remaining: pair.IncomeID, Err: incomeErr}
		m.logger.ErrorContext(ctx, "Merge partially applied", fields.WithError(err).ToSlice()...)
		return err
	}
}

func (m *Merger) delete(ctx context.Context, id int64) error {
	err := m.deleter.DeleteTransaction(ctx, id)
	if errors.Is(err, ErrAlreadyDeleted) {
		m.logger.DebugContext(ctx, "Transaction already deleted", log.FieldTransactionID, id)
		return nil
	}
	return err
}

// TransactionLookup loads a transaction whether or not it was deleted.
// An id that never existed returns ErrNotFound.
type TransactionLookup interface {
	GetTransactionIncludingDeleted(ctx context.Context, id int64) (tx core.Transaction, deleted bool, err error)
}

// MergeService validates a merge request against stored data before
// handing it to a Merger.
type MergeService struct {
	lookup  TransactionLookup
	deleter TransactionDeleter
	zone    daily.Zone
	logger  *log.Logger
}

// NewMergeService builds a MergeService. deleter must report a second
// delete of the same id with ErrAlreadyDeleted, as the store does.
func NewMergeService(lookup TransactionLookup, deleter TransactionDeleter, zone daily.Zone, logger *log.Logger) *MergeService {
	if logger == nil {
		logger = log.Discard()
	}
	return &MergeService{lookup: lookup, deleter: deleter, zone: zone, logger: logger}
}

// Merge checks the pair and removes it. Both ids must exist, live or
// deleted, and be a pair as daily.Pairs would find it; a deleted side is
// checked from its stored record. One deleted side makes the call the retry
// of a partially applied merge and only the survivor is removed. When both
// are already deleted ErrAlreadyDeleted is returned and nothing changes.
func (s *MergeService) Merge(ctx context.Context, pair daily.MergePair, confirmed bool) error {
	if !confirmed {
		return ErrMergeNotConfirmed
	}

	expense, expenseDeleted, err := s.lookup.GetTransactionIncludingDeleted(ctx, pair.ExpenseID)
	if err != nil {
		return err
	}
	income, incomeDeleted, err := s.lookup.GetTransactionIncludingDeleted(ctx, pair.IncomeID)
	if err != nil {
		return err
	}

	if !daily.SamePair(expense, income, s.zone) {
		return ErrNotAPair
	}
	if expenseDeleted && incomeDeleted {
		return fmt.Errorf("transactions %d and %d: %w", pair.ExpenseID, pair.IncomeID, ErrAlreadyDeleted)
	}
	return NewMerger(s.deleter, s.logger).Merge(ctx, pair, true)
}
