package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/subsync/libs/db"
	otelx "github.com/md-rashed-zaman/subsync/libs/otel"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/outbox"
)

// Handler runs a due job. A returned error fails the job for good.
type Handler func(ctx context.Context, job Job) error

var ErrNoHandler = errors.New("no handler registered for job kind")

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

type Worker struct {
	pool      *db.Pool
	repo      *Repository
	outbox    *outbox.Repository
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		handlers:  map[string]Handler{},
	}
}

// Handle registers h for jobs of the given kind.
func (w *Worker) Handle(kind string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

func (w *Worker) handler(kind string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("jobs batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	var done []int64
	for _, job := range due {
		jobCtx := otelx.TraceContext{Parent: job.Traceparent, State: job.Tracestate}.Into(ctx)
		if err := w.run(jobCtx, job); err != nil {
			w.logger.Warn("job failed", "job_id", job.ID, "kind", job.Kind, "key", job.IdempotencyKey, "err", err)
			if err := w.fail(jobCtx, tx, job, err); err != nil {
				return err
			}
			continue
		}
		done = append(done, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, done); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *Worker) run(ctx context.Context, job Job) (err error) {
	h, ok := w.handler(job.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, job.Kind)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panic: %v", rec)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) fail(ctx context.Context, tx pgx.Tx, job Job, cause error) error {
	if err := w.repo.MarkFailed(ctx, tx, job.ID, cause.Error()); err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "scheduler_job",
		AggregateID:   job.IdempotencyKey,
		EventType:     outbox.TypeReminderFailed,
		Payload:       FailurePayload(job, cause, time.Now()),
	})
}

// FailurePayload is the dead-letter body published for a failed job.
func FailurePayload(job Job, cause error, at time.Time) []byte {
	payload := job.Payload
	if !json.Valid(payload) {
		payload = json.RawMessage(`null`)
	}
	raw, _ := json.Marshal(map[string]any{
		"job_id":          job.ID,
		"kind":            job.Kind,
		"idempotency_key": job.IdempotencyKey,
		"run_at":          job.RunAt.UTC().Format(time.RFC3339),
		"payload":         payload,
		"error_reason":    cause.Error(),
		"failed_at":       at.UTC().Format(time.RFC3339),
	})
	return raw
}
