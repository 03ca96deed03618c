package jobs

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Job is one queued unit of work.
type Job struct {
	ID          string
	Queue       string
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
}

// EnqueueOptions tunes a single enqueue call.
type EnqueueOptions struct {
	// Delay defers eligibility; zero means ready now.
	Delay time.Duration
	// MaxAttempts overrides the queue default when positive.
	MaxAttempts int
}

// Store reads and writes the jobs table. ULID job ids are time-ordered, so
// ordering the claim by id gives FIFO among ready jobs for free.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a job store on the shared pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Enqueue inserts a job. The payload must be JSON-serializable.
func (s *Store) Enqueue(ctx context.Context, queue string, payload any, opts EnqueueOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	runAt := time.Now().UTC().Add(opts.Delay)
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, queue, payload, state, max_attempts, run_at)
		VALUES ($1, $2, $3, 'enqueued', $4, $5)`,
		id, queue, raw, maxAttempts, runAt)
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", queue, err)
	}
	return id, nil
}

// Claim atomically takes the oldest ready job on a queue. A job counts as
// ready when enqueued and due, or when active but claimed longer than
// staleAfter ago — the second case redelivers work whose worker vanished
// without acknowledging.
func (s *Store) Claim(ctx context.Context, queue string, staleAfter time.Duration) (*Job, error) {
	now := time.Now().UTC()
	var job Job
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs SET state = 'active', claimed_at = $3, attempts = attempts + 1, updated_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND (
			    (state = 'enqueued' AND run_at <= $3)
			    OR (state = 'active' AND claimed_at < $2)
			  )
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, payload, attempts, max_attempts`,
		queue, now.Add(-staleAfter), now).
		Scan(&job.ID, &job.Queue, &job.Payload, &job.Attempts, &job.MaxAttempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim %s job: %w", queue, err)
	}
	return &job, nil
}

// Complete removes a finished job (remove-on-complete retention).
func (s *Store) Complete(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// Fail re-enqueues the job with a backoff delay, or dead-letters it when the
// attempt budget is spent or the error was non-retryable. Dead rows are kept
// with the failure reason for inspection.
func (s *Store) Fail(ctx context.Context, job *Job, cause error, backoffBase time.Duration) error {
	now := time.Now().UTC()
	dead := job.Attempts >= job.MaxAttempts || IsNonRetryable(cause)
	if dead {
		_, err := s.pool.Exec(ctx, `
			UPDATE jobs SET state = 'dead', last_error = $2, updated_at = $3
			WHERE id = $1`,
			job.ID, cause.Error(), now)
		if err != nil {
			return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
		}
		return nil
	}
	delay := RetryDelay(backoffBase, job.Attempts)
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'enqueued', run_at = $2, last_error = $3, claimed_at = NULL, updated_at = $4
		WHERE id = $1`,
		job.ID, now.Add(delay), cause.Error(), now)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	return nil
}
