// Package engine orchestrates the extraction pipeline: it admits fetched
// mail into durable records, drains the dispatch queue with a worker
// pool, and runs the periodic maintenance passes over the subscription
// ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/subscout/subscout/internal/confidence"
	"github.com/subscout/subscout/internal/dispatch"
	"github.com/subscout/subscout/internal/intake"
	"github.com/subscout/subscout/internal/metrics"
	"github.com/subscout/subscout/internal/model"
	"github.com/subscout/subscout/internal/reconcile"
	"github.com/subscout/subscout/internal/service"
)

// releaseTimeout bounds the status write that hands a claimed record back
// after its worker context died.
const releaseTimeout = 5 * time.Second

// Engine drives messages from mailbox to subscription ledger.
type Engine struct {
	storage    service.Storage
	source     service.MailSource
	gate       *intake.Intake
	classifier Classifier
	extractor  Extractor
	enricher   Enricher
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
	workers    int
	batchSize  int
	queueCap   int
}

// Config holds tuning options for the engine.
type Config struct {
	Workers       int
	BatchSize     int
	QueueCapacity int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		BatchSize:     100,
		QueueCapacity: dispatch.DefaultCapacity,
	}
}

// New creates an engine with the default configuration. The mail source
// and enricher may be nil for deployments that only process already
// ingested mail; ScanAllAccounts and EnrichVendors then report an error.
func New(storage service.Storage, source service.MailSource, classifier Classifier, extractor Extractor, enricher Enricher, reconciler *reconcile.Reconciler, logger *slog.Logger) (*Engine, error) {
	return NewWithConfig(storage, source, classifier, extractor, enricher, reconciler, logger, DefaultConfig())
}

// NewWithConfig creates an engine with custom tuning.
func NewWithConfig(storage service.Storage, source service.MailSource, classifier Classifier, extractor Extractor, enricher Enricher, reconciler *reconcile.Reconciler, logger *slog.Logger, cfg Config) (*Engine, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gate, err := intake.New(storage, logger)
	if err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaults.QueueCapacity
	}

	return &Engine{
		storage:    storage,
		source:     source,
		gate:       gate,
		classifier: classifier,
		extractor:  extractor,
		enricher:   enricher,
		reconciler: reconciler,
		logger:     logger,
		workers:    cfg.Workers,
		batchSize:  cfg.BatchSize,
		queueCap:   cfg.QueueCapacity,
	}, nil
}

// ProcessPending drains one account's pending records through the worker
// pool. Records stranded mid-flight by an earlier crash are requeued
// first, so the call is idempotent under the scheduler's coarse retry.
func (e *Engine) ProcessPending(ctx context.Context, accountID string) (service.ProcessStats, error) {
	account, err := e.storage.GetAccount(ctx, accountID)
	if err != nil {
		return service.ProcessStats{}, fmt.Errorf("failed to load account: %w", err)
	}

	stats, rejected, err := e.drainAccount(ctx, *account)
	if rejected > 0 {
		e.logger.Warn("Queue rejected records; they remain pending",
			"account", account.Address,
			"rejected", rejected)
	}
	return stats, err
}

// drainAccount requeues stranded work, loads one batch of pending
// records, and runs it through the pool. The second return value counts
// records the queue rejected.
func (e *Engine) drainAccount(ctx context.Context, account model.EmailAccount) (service.ProcessStats, int, error) {
	start := time.Now()
	var stats service.ProcessStats

	requeued, err := e.storage.RequeueStuckEmails(ctx, account.ID)
	if err != nil {
		return stats, 0, fmt.Errorf("failed to requeue stuck records: %w", err)
	}
	if requeued > 0 {
		e.logger.Warn("Requeued records from an interrupted run",
			"account", account.Address,
			"count", requeued)
	}

	records, err := e.storage.GetPendingEmails(ctx, account.ID, e.batchSize)
	if err != nil {
		return stats, 0, fmt.Errorf("failed to load pending records: %w", err)
	}
	if len(records) == 0 {
		return stats, 0, nil
	}

	stats, rejected := e.processBatch(ctx, account.UserID, records)
	stats.Duration = time.Since(start)

	e.logger.Info("Processed pending records",
		"account", account.Address,
		"processed", stats.Processed,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"created", stats.SubscriptionsCreated,
		"updated", stats.SubscriptionsUpdated,
		"duration", stats.Duration)

	return stats, rejected, ctx.Err()
}

// processBatch enqueues the records and drains them with the worker pool.
// It returns when every accepted record reached an outcome or the context
// was cancelled; cancelled-mid-flight records go back to PENDING.
func (e *Engine) processBatch(ctx context.Context, userID string, records []model.EmailRecord) (service.ProcessStats, int) {
	queue := dispatch.New(e.queueCap)

	var accepted int64
	var rejected int
	for i := range records {
		record := records[i]
		if !queue.Enqueue(&record) {
			// A full queue is backpressure, not loss: the record stays
			// PENDING for a later sweep.
			rejected++
			continue
		}
		if _, err := e.storage.MarkEmailQueued(ctx, record.ID); err != nil {
			e.logger.Warn("Failed to mark record queued", "email_id", record.ID, "error", err)
		}
		accepted++
	}
	metrics.SetQueueDepth(queue.Len())

	var stats service.ProcessStats
	if accepted == 0 {
		return stats, rejected
	}

	// The pool context is cancelled once the batch is drained, waking
	// workers blocked on an empty queue.
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var remaining atomic.Int64
	remaining.Store(accepted)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				record, err := queue.Next(poolCtx)
				if err != nil {
					return
				}

				result := e.processOne(poolCtx, userID, record)
				metrics.SetQueueDepth(queue.Len())

				mu.Lock()
				tally(&stats, result)
				mu.Unlock()

				if remaining.Add(-1) == 0 {
					cancel()
				}
			}
		}()
	}
	wg.Wait()

	return stats, rejected
}

// outcomeKind is the terminal disposition of one record's pipeline run.
type outcomeKind int

const (
	// outcomeSkipped means the record was already completed elsewhere.
	outcomeSkipped outcomeKind = iota
	// outcomeAborted means the context died mid-flight and the record
	// went back to PENDING; a later run owns it.
	outcomeAborted
	outcomeNotRelevant
	outcomeCompleted
	outcomeFailed
)

// outcome carries a worker's result back to the batch tally.
type outcome struct {
	disposition    confidence.Disposition
	kind           outcomeKind
	created        bool
	requiresReview bool
}

func tally(stats *service.ProcessStats, result outcome) {
	switch result.kind {
	case outcomeSkipped:
		stats.Skipped++
	case outcomeAborted:
		// Not an outcome for this run; the record is pending again.
	case outcomeNotRelevant:
		stats.Processed++
		stats.Completed++
	case outcomeFailed:
		stats.Processed++
		stats.Failed++
	case outcomeCompleted:
		stats.Processed++
		stats.Completed++
		if result.created {
			stats.SubscriptionsCreated++
		} else {
			stats.SubscriptionsUpdated++
		}
		if result.disposition == confidence.AutoAccept {
			stats.AutoAccepted++
		}
		if result.requiresReview {
			stats.NeedsReview++
		}
	}
}

// processOne runs classify, extract, and reconcile for a single record.
// Errors never propagate; they become record state.
func (e *Engine) processOne(ctx context.Context, userID string, record *model.EmailRecord) outcome {
	claimed, err := e.storage.ClaimEmail(ctx, record.ID)
	if err != nil {
		e.logger.Error("Failed to claim record", "email_id", record.ID, "error", err)
		e.release(record.ID)
		return outcome{kind: outcomeAborted}
	}

	// At-least-once tolerance: the same message can reach two pipeline
	// passes, and only the first one that finished counts. The claim is
	// refused once a record is completed.
	if !claimed {
		metrics.EmailProcessed(metrics.OutcomeSkipped)
		return outcome{kind: outcomeSkipped}
	}

	verdict, err := e.classifier.ClassifyEmail(ctx, *record)
	if err != nil {
		return e.fail(ctx, record.ID, "classification", err)
	}
	metrics.Classification(string(verdict.EmailType))

	if !verdict.IsSubscriptionRelated {
		if err := e.storage.MarkEmailCompleted(ctx, record.ID, ""); err != nil {
			return e.fail(ctx, record.ID, "completion", err)
		}
		metrics.EmailProcessed(metrics.OutcomeNotRelevant)
		e.logger.Debug("Message not subscription-related",
			"email_id", record.ID,
			"email_type", verdict.EmailType)
		return outcome{kind: outcomeNotRelevant}
	}

	extraction, err := e.extractor.ExtractSubscription(ctx, *record)
	if err != nil {
		return e.fail(ctx, record.ID, "extraction", err)
	}

	assessment := confidence.Evaluate(extraction)
	metrics.ObserveConfidence(assessment.Overall)

	sub, created, err := e.reconciler.Reconcile(ctx, userID, record.AccountID, &extraction, assessment, record.ID)
	if err != nil {
		return e.fail(ctx, record.ID, "reconciliation", err)
	}

	if err := e.storage.MarkEmailCompleted(ctx, record.ID, sub.ID); err != nil {
		return e.fail(ctx, record.ID, "completion", err)
	}

	metrics.EmailProcessed(metrics.OutcomeCompleted)
	return outcome{
		kind:           outcomeCompleted,
		created:        created,
		disposition:    assessment.Disposition,
		requiresReview: assessment.RequiresReview,
	}
}

// fail records a terminal failure for the record. Cancellation is not a
// verdict on the message, so the claim is handed back instead.
func (e *Engine) fail(ctx context.Context, id, stage string, cause error) outcome {
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		e.release(id)
		return outcome{kind: outcomeAborted}
	}

	e.logger.Error("Record processing failed",
		"email_id", id,
		"stage", stage,
		"error", cause)
	if err := e.storage.UpdateEmailStatus(ctx, id, model.RecordFailed, cause.Error()); err != nil {
		e.logger.Error("Failed to record failure", "email_id", id, "error", err)
	}
	metrics.EmailProcessed(metrics.OutcomeFailed)
	return outcome{kind: outcomeFailed}
}

// release hands a claimed record back to PENDING. It runs on its own
// context because the caller's is usually already dead.
func (e *Engine) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := e.storage.ReleaseEmail(ctx, id); err != nil {
		e.logger.Warn("Failed to release record; the next requeue sweep recovers it",
			"email_id", id,
			"error", err)
	}
}

// ScanAllAccounts fetches new mail for every connected account, admits it
// into durable records, and processes the backlog account by account. One
// broken mailbox does not stop the others.
func (e *Engine) ScanAllAccounts(ctx context.Context) (service.ScanStats, error) {
	start := time.Now()
	var stats service.ScanStats

	if e.source == nil {
		return stats, fmt.Errorf("no mail source configured")
	}

	accounts, err := e.storage.ListAccounts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list accounts: %w", err)
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		if err := e.scanAccount(ctx, account, &stats); err != nil {
			e.logger.Error("Account scan failed",
				"account", account.Address,
				"error", err)
		}
	}

	stats.Duration = time.Since(start)
	e.logger.Info("Mailbox scan complete",
		"accounts", stats.AccountsScanned,
		"fetched", stats.MessagesFetched,
		"new", stats.NewRecords,
		"duplicates", stats.Duplicates,
		"processed", stats.Processing.Processed,
		"duration", stats.Duration)

	return stats, nil
}

func (e *Engine) scanAccount(ctx context.Context, account model.EmailAccount, stats *service.ScanStats) error {
	// The sync cursor moves to the fetch start, not completion, so mail
	// arriving mid-scan is picked up next time.
	syncStart := time.Now().UTC()

	fetched, err := e.source.Fetch(ctx, account, account.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	stats.AccountsScanned++
	stats.MessagesFetched += len(fetched)

	for _, msg := range fetched {
		_, created, admitErr := e.gate.Admit(ctx, account.ID, msg)
		if admitErr != nil {
			return fmt.Errorf("intake failed for message %s: %w", msg.ExternalID, admitErr)
		}
		if created {
			stats.NewRecords++
		} else {
			stats.Duplicates++
		}
	}

	if err := e.storage.UpdateAccountSyncTime(ctx, account.ID, syncStart); err != nil {
		return fmt.Errorf("failed to update sync time: %w", err)
	}

	drained, rejected, err := e.drainAccount(ctx, account)
	stats.Processing.Add(drained)
	stats.QueueRejected += rejected
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	return nil
}

// UpdateAllSubscriptions runs the renewal maintenance pass over the
// subscription ledger.
func (e *Engine) UpdateAllSubscriptions(ctx context.Context) (service.RenewalStats, error) {
	return e.reconciler.AdvanceRenewals(ctx, time.Now().UTC())
}
