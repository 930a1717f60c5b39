package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"restyle/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository backed by PostgreSQL. All
// status transitions are single-statement compare-and-set updates so that
// exactly one worker wins a claim and terminal states never mutate.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, source_image_key, source_image_name, source_image_size, instruction,
unit_count, tier, aspect_ratio, locale, status, cancel_requested, error_message,
produced, attempted, credits_consumed, started_at, finished_at, deleted, created_at, updated_at`

// Create inserts a new pending job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, user_id, source_image_key, source_image_name, source_image_size, instruction,
                  unit_count, tier, aspect_ratio, locale, status, credits_consumed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.SourceImageKey,
		job.SourceImageName,
		job.SourceImageSize,
		job.Instruction,
		job.UnitCount,
		job.Tier,
		job.AspectRatio,
		job.Locale,
		job.Status,
		job.CreditsConsumed,
	)
	return err
}

// GetByID fetches a job unless it has been soft-retired.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND NOT deleted`, jobID)
	return scanJob(row)
}

// ListByUser pages through a user's visible jobs, newest first. Cancelled
// and soft-retired jobs are excluded to match the single-job lookups.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.Job, int, error) {
	const visible = `user_id = $1 AND NOT deleted AND status <> 'cancelled'`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE `+visible, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+visible+` ORDER BY created_at DESC OFFSET $2 LIMIT $3`,
		userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, total, rows.Err()
}

// Claim transitions pending -> processing, stamping started_at.
func (r *JobRepositoryPG) Claim(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
UPDATE jobs
SET status = 'processing', started_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'pending' AND NOT deleted
RETURNING ` + jobColumns + `;
`
	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrAlreadyClaimed
	}
	return job, err
}

// ClaimNextPending claims the oldest pending job. SKIP LOCKED keeps
// concurrent sweepers from contending on the same row.
func (r *JobRepositoryPG) ClaimNextPending(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM jobs
    WHERE status = 'pending' AND NOT deleted
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE jobs
SET status = 'processing', started_at = NOW(), updated_at = NOW()
WHERE id IN (SELECT id FROM next_job)
RETURNING ` + jobColumns + `;
`
	return scanJob(r.pool.QueryRow(ctx, query))
}

// RequestCancel sets the cooperative cancellation flag on a live job.
func (r *JobRepositoryPG) RequestCancel(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET cancel_requested = TRUE, updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'processing');
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}

// CancelRequested re-reads the flag from the store.
func (r *JobRepositoryPG) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag bool
	err := r.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1`, jobID).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	return flag, err
}

// CancelPending transitions pending -> cancelled directly, for jobs no worker
// has picked up yet. Returns false when a worker won the claim race.
func (r *JobRepositoryPG) CancelPending(ctx context.Context, jobID string) (bool, error) {
	query := `
UPDATE jobs
SET status = 'cancelled', cancel_requested = TRUE, finished_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'pending';
`
	tag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateCounts persists produced/attempted for a processing job.
func (r *JobRepositoryPG) UpdateCounts(ctx context.Context, jobID string, produced, attempted int) error {
	query := `
UPDATE jobs
SET produced = $2, attempted = $3, updated_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	_, err := r.pool.Exec(ctx, query, jobID, produced, attempted)
	return err
}

// SetCreditsConsumed records the post-refund cost of the job.
func (r *JobRepositoryPG) SetCreditsConsumed(ctx context.Context, jobID string, credits int) error {
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET credits_consumed = $2, updated_at = NOW() WHERE id = $1`, jobID, credits)
	return err
}

// Finish transitions processing -> terminal status, stamping finished_at.
func (r *JobRepositoryPG) Finish(ctx context.Context, jobID string, status domain.JobStatus, errorMessage string) error {
	query := `
UPDATE jobs
SET status = $2, error_message = $3, finished_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, jobID, status, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.SourceImageKey,
		&job.SourceImageName,
		&job.SourceImageSize,
		&job.Instruction,
		&job.UnitCount,
		&job.Tier,
		&job.AspectRatio,
		&job.Locale,
		&job.Status,
		&job.CancelRequested,
		&job.ErrorMessage,
		&job.Produced,
		&job.Attempted,
		&job.CreditsConsumed,
		&job.StartedAt,
		&job.FinishedAt,
		&job.Deleted,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
