// Package worker mirrors transaction events into the spreadsheet export.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"finboard/internal/amqp"
	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/log"
	"finboard/internal/services"
	"finboard/internal/sheets"
)

// EventSource delivers transaction events until ctx is done.
type EventSource interface {
	Consume(ctx context.Context, handler amqp.Handler) error
}

// TransactionReader is the read side of the transaction store.
type TransactionReader interface {
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error)
}

// Config holds the worker settings.
type Config struct {
	// ReconcileInterval is how often the current month is re-exported; zero disables it.
	ReconcileInterval time.Duration

	// BatchSize bounds concurrent exports during reconciliation (default: 10).
	BatchSize int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: time.Hour,
		BatchSize:         10,
	}
}

// SyncWorker applies transaction events to a TransactionExporter.
type SyncWorker struct {
	exporter sheets.TransactionExporter
	store    TransactionReader
	zone     daily.Zone
	config   Config
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncWorker creates a worker. store may be nil, in which case events
// are exported from their own payload.
func NewSyncWorker(exporter sheets.TransactionExporter, store TransactionReader, zone daily.Zone, config Config, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.Discard()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &SyncWorker{
		exporter: exporter,
		store:    store,
		zone:     zone,
		config:   config,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
	}
}

// HandleEvent applies one event. Created and updated transactions are
// exported from their current stored state, deleted ones are removed.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	fields := log.NewFields().WithOperation(log.OpSync)
	fields[log.FieldEventID] = ev.EventID
	fields[log.FieldEventType] = ev.Type
	fields[log.FieldTransactionID] = ev.TransactionID

	switch ev.Type {
	case services.EventTransactionCreated, services.EventTransactionUpdated:
		tx, gone, err := w.current(ctx, ev)
		if err != nil {
			return err
		}
		if gone {
			w.logger.Fields(ctx, slog.LevelDebug, "Transaction deleted before sync, removing row", fields)
			return w.remove(ctx, ev.TransactionID)
		}
		ref, err := w.exporter.Export(ctx, tx)
		if err != nil {
			return fmt.Errorf("export transaction %d: %w", tx.ID, err)
		}
		fields[log.FieldSheetsRef] = ref
		w.logger.Fields(ctx, slog.LevelInfo, "Transaction exported", fields)
		return nil

	case services.EventTransactionDeleted:
		if err := w.remove(ctx, ev.TransactionID); err != nil {
			return err
		}
		w.logger.Fields(ctx, slog.LevelInfo, "Transaction row removed", fields)
		return nil

	default:
		w.logger.Fields(ctx, slog.LevelWarn, "Ignoring unknown event type", fields)
		return nil
	}
}

// current resolves the transaction to export. gone reports that it was
// deleted since the event was published.
func (w *SyncWorker) current(ctx context.Context, ev *amqp.TransactionEvent) (core.Transaction, bool, error) {
	if w.store == nil {
		if ev.Transaction == nil {
			return core.Transaction{}, false, fmt.Errorf("event %s has no transaction payload", ev.EventID)
		}
		return *ev.Transaction, false, nil
	}
	tx, err := w.store.GetTransaction(ctx, ev.TransactionID)
	if errors.Is(err, services.ErrNotFound) {
		return core.Transaction{}, true, nil
	}
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("get transaction %d: %w", ev.TransactionID, err)
	}
	return tx, false, nil
}

func (w *SyncWorker) remove(ctx context.Context, id int64) error {
	if err := w.exporter.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove transaction %d: %w", id, err)
	}
	return nil
}

// Reconcile re-exports every transaction of a local month. It recovers
// rows for events lost while the worker was down.
func (w *SyncWorker) Reconcile(ctx context.Context, year, month int) (int, error) {
	if w.store == nil {
		return 0, errors.New("reconcile requires a transaction store")
	}
	txs, err := w.store.ListTransactions(ctx, core.TransactionFilter{Year: year, Month: month})
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}

	var (
		mu       sync.Mutex
		exported int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.BatchSize)
	for _, tx := range txs {
		g.Go(func() error {
			if _, err := w.exporter.Export(gctx, tx); err != nil {
				w.logger.ErrorContext(gctx, "Failed to export during reconcile",
					log.FieldTransactionID, tx.ID, log.FieldError, err)
				return nil
			}
			mu.Lock()
			exported++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return exported, err
	}

	w.logger.InfoContext(ctx, "Reconcile completed",
		log.FieldYear, year,
		log.FieldMonth, month,
		"total", len(txs),
		"exported", exported)
	return exported, nil
}

// Start consumes events from source in the background. Returns an error if
// already running.
func (w *SyncWorker) Start(ctx context.Context, source EventSource) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx, source)

	w.logger.InfoContext(ctx, "Sync worker started",
		"reconcile_interval", w.config.ReconcileInterval,
		"batch_size", w.config.BatchSize)
	return nil
}

// Stop gracefully stops the worker and waits for completion.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		w.logger.InfoContext(ctx, "Sync worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Sync worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Done is closed when the background loop exits.
func (w *SyncWorker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doneCh
}

func (w *SyncWorker) runLoop(ctx context.Context, source EventSource) {
	defer close(w.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return source.Consume(gctx, w.HandleEvent)
	})
	if w.config.ReconcileInterval > 0 && w.store != nil {
		g.Go(func() error {
			w.reconcileLoop(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.ErrorContext(ctx, "Sync worker stopped with error", log.FieldError, err)
	}
}

func (w *SyncWorker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			y, m, _ := w.zone.Today(w.now())
			if _, err := w.Reconcile(ctx, y, int(m)); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic reconcile failed", log.FieldError, err)
			}
		}
	}
}
