package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"restyle/internal/domain"
	"restyle/internal/infra"
	"restyle/internal/queue"
)

// Pool runs a fixed number of workers over the job queue. Each worker claims
// jobs through the repository CAS, so a duplicated or stale delivery is
// acked and skipped rather than double-executed. A periodic poll sweep picks
// up jobs whose queue message never arrived.
type Pool struct {
	jobs         domain.JobRepository
	exec         *Executor
	size         int
	pollInterval time.Duration
	logger       infra.Logger
}

// NewPool builds a pool of size workers.
func NewPool(jobs domain.JobRepository, exec *Executor, size int, pollInterval time.Duration, logger infra.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Pool{jobs: jobs, exec: exec, size: size, pollInterval: pollInterval, logger: logger}
}

// Run blocks until ctx is cancelled and all workers have drained their
// current job. deliveries may be nil, in which case only the poll sweep
// feeds the pool.
func (p *Pool) Run(ctx context.Context, deliveries <-chan queue.Delivery) error {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id, deliveries)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) runWorker(ctx context.Context, id int, deliveries <-chan queue.Delivery) {
	log := p.logger.With().Int("worker", id).Logger()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				deliveries = nil
				continue
			}
			p.handleDelivery(ctx, log, d)
		case <-ticker.C:
			p.sweep(ctx, log)
		}
	}
}

func (p *Pool) handleDelivery(ctx context.Context, log infra.Logger, d queue.Delivery) {
	job, err := p.jobs.Claim(ctx, d.JobID)
	if err != nil {
		// Lost the claim race or the job was cancelled while queued.
		// Ack regardless so the message does not redeliver.
		if !errors.Is(err, domain.ErrAlreadyClaimed) && !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("job_id", d.JobID).Msg("worker: claim failed")
		}
		if ackErr := d.Ack(); ackErr != nil {
			log.Warn().Err(ackErr).Str("job_id", d.JobID).Msg("worker: ack failed")
		}
		return
	}
	if err := p.exec.Execute(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("worker: execution aborted")
	}
	if err := d.Ack(); err != nil {
		log.Warn().Err(err).Str("job_id", d.JobID).Msg("worker: ack failed")
	}
}

// sweep drains pending jobs until none remain. It is the safety net for
// lost queue messages and the only feed when no broker is configured.
func (p *Pool) sweep(ctx context.Context, log infra.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.jobs.ClaimNextPending(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Warn().Err(err).Msg("worker: pending sweep failed")
			}
			return
		}
		if err := p.exec.Execute(ctx, job); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("worker: execution aborted")
		}
	}
}
