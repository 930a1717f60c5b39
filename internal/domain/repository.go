package domain

import "context"

// JobRepository is the durable Job Store: the single source of truth for job
// state. Status transitions are compare-and-set so that exactly one worker
// owns a job and terminal states stay immutable.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	// GetByID returns a job unless it is soft-retired.
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ListByUser pages through a user's jobs, newest first. Soft-retired
	// and cancelled jobs are excluded, matching the uniform visibility
	// rule of the single-job lookups. The second result is the total
	// matching count.
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]Job, int, error)
	// Claim transitions pending -> processing and stamps started_at.
	// Returns ErrAlreadyClaimed when the job is not pending.
	Claim(ctx context.Context, jobID string) (*Job, error)
	// ClaimNextPending claims the oldest pending job, ErrNotFound when none.
	ClaimNextPending(ctx context.Context) (*Job, error)
	// RequestCancel sets the cooperative cancellation flag. No-op on
	// terminal jobs.
	RequestCancel(ctx context.Context, jobID string) error
	// CancelRequested re-reads the flag; the worker calls this between units.
	CancelRequested(ctx context.Context, jobID string) (bool, error)
	// CancelPending transitions pending -> cancelled directly. Returns false
	// when the job left pending first (a worker won the race).
	CancelPending(ctx context.Context, jobID string) (bool, error)
	// UpdateCounts persists produced/attempted for a processing job.
	UpdateCounts(ctx context.Context, jobID string, produced, attempted int) error
	// SetCreditsConsumed records the post-refund credit cost of the job.
	SetCreditsConsumed(ctx context.Context, jobID string, credits int) error
	// Finish transitions processing -> terminal status and stamps
	// finished_at. Returns ErrJobTerminal when the job already ended.
	Finish(ctx context.Context, jobID string, status JobStatus, errorMessage string) error
}

// UnitRepository persists generation units. Units are append-only.
type UnitRepository interface {
	Append(ctx context.Context, unit *GenerationUnit) error
	ListByJob(ctx context.Context, jobID string) ([]GenerationUnit, error)
}

// UsageRepository is the per-(user, period) credit ledger. Debit and Credit
// are atomic: concurrent jobs for the same user serialize on the entry.
type UsageRepository interface {
	// Debit consumes credits, failing with ErrQuotaExceeded when the period
	// allowance cannot cover the amount. No partial debit occurs.
	Debit(ctx context.Context, userID, period string, amount int) (UsageEntry, error)
	// Credit refunds credits, flooring consumed at zero.
	Credit(ctx context.Context, userID, period string, amount int) (UsageEntry, error)
	Get(ctx context.Context, userID, period string) (UsageEntry, error)
}
