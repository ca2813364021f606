// Package jobs is the deferred one-shot task queue backed by the
// scheduler_jobs table.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/subsync/libs/db"
	otelx "github.com/md-rashed-zaman/subsync/libs/otel"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

type Job struct {
	ID             int64
	IdempotencyKey string
	Kind           string
	Payload        json.RawMessage
	RunAt          time.Time
	Attempts       int
	Traceparent    string
	Tracestate     string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enqueue stores a job to run at job.RunAt. A job whose idempotency key is
// already present is dropped and reported as enqueued=false.
func (r *Repository) Enqueue(ctx context.Context, job Job) (bool, error) {
	tc := otelx.CaptureTraceContext(ctx)
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO scheduler_jobs (idempotency_key, kind, payload, run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.IdempotencyKey, job.Kind, []byte(job.Payload), job.RunAt.UTC(), tc.Parent, tc.State)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, kind, payload, run_at, attempts, traceparent, tracestate
		FROM scheduler_jobs
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var raw []byte
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.Kind, &raw, &j.RunAt, &j.Attempts, &j.Traceparent, &j.Tracestate); err != nil {
			return nil, err
		}
		j.Payload = raw
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs
		SET status = 'processed', attempts = attempts + 1, updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// MarkFailed is terminal. Jobs are not retried.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastError)
	return err
}
