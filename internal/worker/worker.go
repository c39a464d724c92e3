// Package worker bounds analysis concurrency and consumes asynchronously
// submitted transactions from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
)

const defaultSubmissionTimeout = 30 * time.Second

// Processor validates a submitted transaction and publishes its verdict.
type Processor interface {
	ValidateSubmission(ctx context.Context, tenantID string, s bus.Submission) (*domain.TransactionValidation, error)
}

// Config selects what the worker consumes.
type Config struct {
	// TenantIDs to consume for. Empty subscribes once under
	// domain.GlobalTenantID and so receives every tenant.
	TenantIDs []string

	// Timeout bounds one submission. Zero means 30s.
	Timeout time.Duration
}

// Worker turns queued submissions into validations. Stop waits for the
// submissions already being processed.
type Worker struct {
	bus       domain.EventBus
	processor Processor
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     []domain.Subscription
	stopped  bool
	inflight sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

func NewWorker(b domain.EventBus, processor Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       b,
		processor: processor,
		timeout:   defaultSubmissionTimeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to TopicTransactionSubmitted for each configured tenant.
// It fails only if no subscription could be made.
func (w *Worker) Start(cfg Config) error {
	if cfg.Timeout > 0 {
		w.timeout = cfg.Timeout
	}
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.GlobalTenantID}
	}

	var errs []error
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionSubmitted, w.handle)
		if err != nil {
			slog.Error("failed to subscribe worker", "tenant_id", tenantID, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		w.mu.Lock()
		w.subs = append(w.subs, sub)
		w.mu.Unlock()
	}

	n := len(tenants) - len(errs)
	if n == 0 {
		return fmt.Errorf("no worker subscriptions started: %w", errors.Join(errs...))
	}
	slog.Info("async worker started", "subscriptions", n, "timeout", w.timeout)
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("worker stopped, dropping submission %s", msg.ID)
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.processSubmission(ctx, msg)
	if err != nil {
		w.failed.Add(1)
	} else {
		w.processed.Add(1)
	}
	return err
}

// processSubmission decodes and validates one message. The message ID
// stands in for a missing request ID. Publishing the verdict is the
// processor's job.
func (w *Worker) processSubmission(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var s bus.Submission
	if err := json.Unmarshal(msg.Payload, &s); err != nil {
		return fmt.Errorf("decode submission %s: %w", msg.ID, err)
	}
	if s.RequestID == "" {
		s.RequestID = msg.ID
	}

	log := slog.With("request_id", s.RequestID, "tenant_id", msg.TenantID)
	result, err := w.processor.ValidateSubmission(ctx, msg.TenantID, s)
	if err != nil {
		log.Error("submission validation failed", "error", err)
		return err
	}

	log.Info("submission processed",
		"verdict", result.Verdict,
		"risk_score", result.OverallRiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes, cancels running validations and waits for them to
// return.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.stopped = true
	w.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Topic(), err))
		}
	}
	w.cancel()
	w.inflight.Wait()

	slog.Info("async worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
	return errors.Join(errs...)
}

// Stats is a point-in-time view of the worker.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subs))
	for i, sub := range w.subs {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subs),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
