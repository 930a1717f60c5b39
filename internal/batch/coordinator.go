// Package batch aggregates status and cancellation across a client-chosen
// set of jobs. A batch is not a server-side object: the job IDs arrive with
// every request and the aggregate is computed on demand.
package batch

import (
	"context"
	"math"

	"restyle/internal/domain"
	"restyle/internal/infra"
	"restyle/internal/progress"
)

// CancelFunc cancels one job on behalf of a user. The coordinator treats
// already-terminal outcomes as success.
type CancelFunc func(ctx context.Context, userID, jobID string) (domain.CancelOutcome, error)

// JobBrief is the per-job line inside an aggregate.
type JobBrief struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Produced int              `json:"produced"`
	Total    int              `json:"total"`
}

// Status is the aggregate over a job set.
type Status struct {
	Total           int        `json:"total"`
	Pending         int        `json:"pending"`
	Processing      int        `json:"processing"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	Cancelled       int        `json:"cancelled"`
	Missing         int        `json:"missing"`
	OverallProgress int        `json:"overall_progress"`
	AllTerminal     bool       `json:"all_terminal"`
	Jobs            []JobBrief `json:"jobs"`
}

// Coordinator computes batch aggregates from the job store and relays
// terminal transitions from the progress hub.
type Coordinator struct {
	jobs   domain.JobRepository
	hub    *progress.Hub
	logger infra.Logger
}

// NewCoordinator wires a coordinator.
func NewCoordinator(jobs domain.JobRepository, hub *progress.Hub, logger infra.Logger) *Coordinator {
	return &Coordinator{jobs: jobs, hub: hub, logger: logger}
}

// jobPercent maps one job onto 0..100 for the aggregate mean. Terminal jobs
// count as fully done regardless of how they ended, so a cancelled batch
// converges to 100 instead of stalling.
func jobPercent(job *domain.Job) int {
	if job.Status.Terminal() {
		return 100
	}
	if job.Status == domain.JobStatusPending || job.UnitCount == 0 {
		return 0
	}
	return int(math.Round(float64(job.Attempted) / float64(job.UnitCount) * 100))
}

// Status aggregates the current state of the given jobs. Jobs that do not
// exist, are retired, or belong to another user are counted as missing and
// excluded from the mean.
func (c *Coordinator) Status(ctx context.Context, userID string, jobIDs []string) (Status, error) {
	agg := Status{Total: len(jobIDs)}
	sum := 0
	visible := 0
	for _, id := range jobIDs {
		job, err := c.jobs.GetByID(ctx, id)
		if err != nil || job.UserID != userID {
			agg.Missing++
			continue
		}
		visible++
		sum += jobPercent(job)
		switch job.Status {
		case domain.JobStatusPending:
			agg.Pending++
		case domain.JobStatusProcessing:
			agg.Processing++
		case domain.JobStatusCompleted:
			agg.Completed++
		case domain.JobStatusFailed:
			agg.Failed++
		case domain.JobStatusCancelled:
			agg.Cancelled++
		}
		agg.Jobs = append(agg.Jobs, JobBrief{
			JobID:    job.ID,
			Status:   job.Status,
			Progress: jobPercent(job),
			Produced: job.Produced,
			Total:    job.UnitCount,
		})
	}
	if visible > 0 {
		agg.OverallProgress = int(math.Round(float64(sum) / float64(visible)))
	}
	agg.AllTerminal = visible > 0 && agg.Completed+agg.Failed+agg.Cancelled == visible
	return agg, nil
}

// CancelAll requests cancellation for every job in the set. Jobs that
// already finished or were already cancelled are tolerated; the per-job
// outcome map lets the client see which was which. Missing or foreign jobs
// are skipped silently, matching the single-job surface.
func (c *Coordinator) CancelAll(ctx context.Context, userID string, jobIDs []string, cancel CancelFunc) map[string]domain.CancelOutcome {
	outcomes := make(map[string]domain.CancelOutcome, len(jobIDs))
	for _, id := range jobIDs {
		outcome, err := cancel(ctx, userID, id)
		if err != nil {
			c.logger.Warn().Err(err).Str("job_id", id).Msg("batch: cancel failed")
			continue
		}
		outcomes[id] = outcome
	}
	return outcomes
}

// Watch streams aggregate snapshots until every visible job is terminal or
// ctx ends. A snapshot is recomputed on every event from any member job, so
// the stream reflects the authoritative store rather than event payloads.
func (c *Coordinator) Watch(ctx context.Context, userID string, jobIDs []string) <-chan Status {
	out := make(chan Status, 1)

	merged := make(chan domain.ProgressEvent, 16)
	cancels := make([]func(), 0, len(jobIDs))
	for _, id := range jobIDs {
		events, cancel := c.hub.Subscribe(id)
		cancels = append(cancels, cancel)
		go func(ch <-chan domain.ProgressEvent) {
			for ev := range ch {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(events)
	}

	go func() {
		defer close(out)
		defer func() {
			for _, cancel := range cancels {
				cancel()
			}
		}()

		emit := func() bool {
			agg, err := c.Status(ctx, userID, jobIDs)
			if err != nil {
				return false
			}
			select {
			case out <- agg:
			case <-ctx.Done():
				return true
			}
			return agg.AllTerminal
		}

		if emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-merged:
				if emit() {
					return
				}
			}
		}
	}()
	return out
}
