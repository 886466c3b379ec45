package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
)

const dispatchColumns = `id, ticket_id, lane, state, attempts, next_attempt_at,
	last_error, idempotency_key, payload, created_at, updated_at`

func scanDispatchJob(row rowScanner) (*models.DispatchJob, error) {
	var (
		job       models.DispatchJob
		next      int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&job.ID, &job.TicketID, &job.Lane, &job.State, &job.Attempts, &next,
		&job.LastError, &job.IdempotencyKey, &job.Payload, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.NextAttemptAt = time.Unix(next, 0).UTC()
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &job, nil
}

// EnqueueDispatchTx adds a delivery job inside the caller's transaction.
func EnqueueDispatchTx(tx *sql.Tx, job *models.DispatchJob) error {
	_, err := tx.Exec(`
		INSERT INTO dispatch_jobs (id, ticket_id, lane, state, attempts, next_attempt_at,
			last_error, idempotency_key, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TicketID, job.Lane, job.State, job.Attempts, job.NextAttemptAt.Unix(),
		job.LastError, job.IdempotencyKey, job.Payload, job.CreatedAt.Unix(), job.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("enqueue dispatch job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimDispatchJob atomically claims the next ready job from the given
// lane, flipping it to InFlight. Returns nil when the lane has nothing
// ready.
func (s *Store) ClaimDispatchJob(ctx context.Context, lane int, now time.Time) (*models.DispatchJob, error) {
	var claimed *models.DispatchJob
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT `+dispatchColumns+` FROM dispatch_jobs
			WHERE state = ? AND lane = ? AND next_attempt_at <= ?
			ORDER BY next_attempt_at, created_at
			LIMIT 1`,
			models.DispatchQueued, lane, now.Unix())
		job, err := scanDispatchJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim dispatch job: %w", err)
		}

		if _, err := tx.Exec(`UPDATE dispatch_jobs SET state = ?, updated_at = ? WHERE id = ?`,
			models.DispatchInFlight, now.Unix(), job.ID); err != nil {
			return fmt.Errorf("mark dispatch job %s in flight: %w", job.ID, err)
		}
		job.State = models.DispatchInFlight
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteDispatchJob records a delivery outcome for an in-flight job.
func (s *Store) CompleteDispatchJob(ctx context.Context, jobID string, attempt models.DispatchAttempt, state models.DispatchState, nextAttempt time.Time, lastError string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO dispatch_attempts (job_id, attempt, status_code, error, at)
			VALUES (?, ?, ?, ?, ?)`,
			attempt.JobID, attempt.Attempt, attempt.StatusCode, attempt.Error, attempt.At.Unix()); err != nil {
			return fmt.Errorf("record dispatch attempt for %s: %w", jobID, err)
		}
		if _, err := tx.Exec(`
			UPDATE dispatch_jobs
			SET state = ?, attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?`,
			state, attempt.Attempt, nextAttempt.Unix(), lastError, attempt.At.Unix(), jobID); err != nil {
			return fmt.Errorf("finish dispatch job %s: %w", jobID, err)
		}
		return nil
	})
}

// GetDispatchJob loads one job by ID.
func (s *Store) GetDispatchJob(ctx context.Context, id string) (*models.DispatchJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM dispatch_jobs WHERE id = ?`, id)
	job, err := scanDispatchJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_dispatch_job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dispatch job %s: %w", id, err)
	}
	return job, nil
}

// ListDispatchJobs returns jobs in a state, oldest first.
func (s *Store) ListDispatchJobs(ctx context.Context, state models.DispatchState, limit int) (jobs []*models.DispatchJob, err error) {
	if limit <= 0 {
		limit = 200
	}
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx,
		`SELECT `+dispatchColumns+` FROM dispatch_jobs WHERE state = ? ORDER BY created_at LIMIT ?`, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatch jobs: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		job, scanErr := scanDispatchJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan dispatch job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatch jobs: %w", err)
	}
	return jobs, err
}

// RequeueFailedDispatch resets terminal jobs for another delivery round.
// Returns how many jobs were requeued.
func (s *Store) RequeueFailedDispatch(ctx context.Context, now time.Time) (int, error) {
	var requeued int
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE dispatch_jobs
			SET state = ?, attempts = 0, next_attempt_at = ?, last_error = '', updated_at = ?
			WHERE state = ?`,
			models.DispatchQueued, now.Unix(), now.Unix(), models.DispatchFailed)
		if err != nil {
			return fmt.Errorf("requeue failed dispatch jobs: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("requeue failed dispatch jobs: rows affected: %w", err)
		}
		requeued = int(n)
		return nil
	})
	return requeued, err
}

// DispatchQueueDepths reports queued jobs per lane for metrics.
func (s *Store) DispatchQueueDepths(ctx context.Context) (depths map[int]int, err error) {
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx,
		`SELECT lane, COUNT(*) FROM dispatch_jobs WHERE state = ? GROUP BY lane`, models.DispatchQueued)
	if err != nil {
		return nil, fmt.Errorf("dispatch queue depths: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	depths = make(map[int]int)
	for rows.Next() {
		var lane, n int
		if scanErr := rows.Scan(&lane, &n); scanErr != nil {
			return nil, fmt.Errorf("scan queue depth: %w", scanErr)
		}
		depths[lane] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue depths: %w", err)
	}
	return depths, err
}

// ListDispatchAttempts returns the attempt history for a job.
func (s *Store) ListDispatchAttempts(ctx context.Context, jobID string) (attempts []models.DispatchAttempt, err error) {
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx,
		`SELECT job_id, attempt, status_code, error, at FROM dispatch_attempts WHERE job_id = ? ORDER BY attempt`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list dispatch attempts: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		var (
			a  models.DispatchAttempt
			at int64
		)
		if scanErr := rows.Scan(&a.JobID, &a.Attempt, &a.StatusCode, &a.Error, &at); scanErr != nil {
			return nil, fmt.Errorf("scan dispatch attempt: %w", scanErr)
		}
		a.At = time.Unix(at, 0).UTC()
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatch attempts: %w", err)
	}
	return attempts, err
}
