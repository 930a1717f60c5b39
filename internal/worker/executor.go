// Package worker runs claimed jobs through the sequential generation loop:
// one unit at a time, cooperative cancellation between units, tier fallback
// with credit refund, and partial success when some units fail.
package worker

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"restyle/internal/domain"
	"restyle/internal/generation"
	"restyle/internal/infra"
	"restyle/internal/ledger"
	"restyle/internal/metrics"
	"restyle/internal/progress"
	"restyle/internal/storage"
)

// UnitGenerator produces one variant with retry handled inside.
type UnitGenerator interface {
	GenerateUnit(ctx context.Context, req generation.Request) (generation.Result, error)
}

// BlobStore is the slice of the artifact store the executor needs.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Executor owns the lifecycle of a single claimed job.
type Executor struct {
	jobs    domain.JobRepository
	units   domain.UnitRepository
	ledger  *ledger.Service
	gen     UnitGenerator
	store   BlobStore
	hub     progress.Publisher
	baseURL string
	logger  infra.Logger
	now     func() time.Time
}

// NewExecutor wires the executor. baseURL prefixes artifact keys into
// client-facing URLs.
func NewExecutor(
	jobs domain.JobRepository,
	units domain.UnitRepository,
	usage *ledger.Service,
	gen UnitGenerator,
	store BlobStore,
	hub progress.Publisher,
	baseURL string,
	logger infra.Logger,
) *Executor {
	return &Executor{
		jobs:    jobs,
		units:   units,
		ledger:  usage,
		gen:     gen,
		store:   store,
		hub:     hub,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

// progressPercent maps completed units onto the 5..99 band. 100 is reserved
// for the terminal event.
func progressPercent(done, total int) int {
	pct := int(math.Round(float64(done) / float64(total) * 100))
	if pct < 5 {
		pct = 5
	}
	if pct > 99 {
		pct = 99
	}
	return pct
}

// Execute runs one claimed job to a terminal state. The caller must have
// transitioned the job to processing already. A context cancellation leaves
// the job in processing for operator recovery; it is not a user cancel.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) error {
	start := e.now()
	log := e.logger.With().Str("job_id", job.ID).Str("user_id", job.UserID).Logger()

	tier, err := generation.ResolveTier(job.Tier)
	if err != nil {
		// The gateway validates tiers; an unknown one here means bad data.
		return e.finishFailed(ctx, job, job.CreditsConsumed, "unknown capability tier", start)
	}
	requested := tier

	e.hub.Publish(domain.ProgressEvent{
		JobID:    job.ID,
		Type:     domain.EventProgress,
		Progress: progressPercent(0, job.UnitCount),
		Status:   domain.JobStatusProcessing,
		Current:  0,
		Total:    job.UnitCount,
		Message:  msgStarting(job.Locale),
	})

	source, err := e.store.Read(ctx, job.SourceImageKey)
	if err != nil {
		log.Error().Err(err).Msg("worker: source image unreadable")
		return e.finishFailed(ctx, job, job.CreditsConsumed, "source image unavailable", start)
	}

	var (
		produced  int
		attempted int
		credits   = job.CreditsConsumed
		cancelled bool
		fellBack  bool
		lastFail  string
		images    []domain.ArtifactRef
	)

	for ordinal := 1; ordinal <= job.UnitCount; ordinal++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		flagged, err := e.jobs.CancelRequested(ctx, job.ID)
		if err != nil {
			log.Warn().Err(err).Msg("worker: cancel flag read failed")
		}
		if flagged {
			cancelled = true
			break
		}

		req := generation.Request{
			JobID:       job.ID,
			Ordinal:     ordinal,
			UnitCount:   job.UnitCount,
			SourceImage: source,
			SourceMIME:  mimeForName(job.SourceImageName),
			Instruction: job.Instruction,
			Tier:        tier,
			AspectRatio: job.AspectRatio,
		}
		result, genErr := e.gen.GenerateUnit(ctx, req)

		if genErr != nil && generation.IsTierUnavailable(genErr) && !fellBack {
			if fb, ok := generation.FallbackTier(tier); ok {
				refund := (tier.Multiplier - fb.Multiplier) * (job.UnitCount - ordinal)
				if refund > 0 {
					if _, err := e.ledger.Credit(ctx, job.UserID, refund); err != nil {
						log.Error().Err(err).Int("refund", refund).Msg("worker: fallback refund failed")
					} else {
						credits -= refund
						metrics.CreditsRefunded.Add(float64(refund))
					}
					if err := e.jobs.SetCreditsConsumed(ctx, job.ID, credits); err != nil {
						log.Warn().Err(err).Msg("worker: credits update failed")
					}
				}
				metrics.TierFallbacks.Inc()
				log.Info().
					Str("from", tier.Name).
					Str("to", fb.Name).
					Int("refund", refund).
					Msg("worker: tier fallback")
				e.hub.Publish(domain.ProgressEvent{
					JobID:          job.ID,
					Type:           domain.EventFallback,
					Progress:       progressPercent(attempted, job.UnitCount),
					Status:         domain.JobStatusProcessing,
					Current:        produced,
					Total:          job.UnitCount,
					Message:        msgFallback(job.Locale),
					Fallback:       true,
					RequestedModel: requested.Model,
					UsedModel:      fb.Model,
					Refund:         refund,
				})
				tier = fb
				fellBack = true
				req.Tier = tier
				result, genErr = e.gen.GenerateUnit(ctx, req)
			}
		}

		if genErr != nil && generation.IsFatal(genErr) {
			// No unit slot is consumed: the job fails as a whole and the
			// failing unit plus everything after it is refunded.
			log.Error().Err(genErr).Int("ordinal", ordinal).Msg("worker: fatal provider error")
			return e.failFatal(ctx, job, tier, produced, attempted, credits, genErr.Error(), start)
		}

		attempted++

		if genErr != nil {
			lastFail = genErr.Error()
			metrics.UnitsGenerated.WithLabelValues(tier.Name, "failed").Inc()
			log.Warn().Err(genErr).Int("ordinal", ordinal).Msg("worker: unit failed")
			e.appendUnit(ctx, &domain.GenerationUnit{
				ID:            uuid.NewString(),
				JobID:         job.ID,
				Ordinal:       ordinal,
				FailureReason: genErr.Error(),
			})
			e.persistCounts(ctx, job.ID, produced, attempted)
			continue
		}

		filename := fmt.Sprintf("%s_%02d%s", job.ID, ordinal, extForMIME(result.Format))
		key := storage.ArtifactKey(job.UserID, filename)
		if _, err := e.store.Write(ctx, key, result.Data); err != nil {
			lastFail = err.Error()
			metrics.UnitsGenerated.WithLabelValues(tier.Name, "failed").Inc()
			log.Error().Err(err).Int("ordinal", ordinal).Msg("worker: artifact write failed")
			e.appendUnit(ctx, &domain.GenerationUnit{
				ID:            uuid.NewString(),
				JobID:         job.ID,
				Ordinal:       ordinal,
				FailureReason: "artifact store unavailable",
			})
			e.persistCounts(ctx, job.ID, produced, attempted)
			continue
		}

		unit := &domain.GenerationUnit{
			ID:           uuid.NewString(),
			JobID:        job.ID,
			Ordinal:      ordinal,
			ArtifactKey:  key,
			ArtifactSize: int64(len(result.Data)),
		}
		e.appendUnit(ctx, unit)
		produced++
		images = append(images, domain.ArtifactRef{
			ID:   unit.ID,
			URL:  e.baseURL + "/" + key,
			Name: filename,
			Size: unit.ArtifactSize,
		})
		e.persistCounts(ctx, job.ID, produced, attempted)
		metrics.UnitsGenerated.WithLabelValues(tier.Name, "ok").Inc()

		e.hub.Publish(domain.ProgressEvent{
			JobID:    job.ID,
			Type:     domain.EventProgress,
			Progress: progressPercent(attempted, job.UnitCount),
			Status:   domain.JobStatusProcessing,
			Current:  produced,
			Total:    job.UnitCount,
			Message:  msgUnitDone(job.Locale, attempted, job.UnitCount),
		})
	}

	if cancelled {
		refund := tier.Multiplier * (job.UnitCount - attempted)
		if refund > 0 {
			if _, err := e.ledger.Credit(ctx, job.UserID, refund); err != nil {
				log.Error().Err(err).Int("refund", refund).Msg("worker: cancel refund failed")
			} else {
				credits -= refund
				metrics.CreditsRefunded.Add(float64(refund))
			}
			if err := e.jobs.SetCreditsConsumed(ctx, job.ID, credits); err != nil {
				log.Warn().Err(err).Msg("worker: credits update failed")
			}
		}
		if err := e.jobs.Finish(ctx, job.ID, domain.JobStatusCancelled, ""); err != nil {
			return fmt.Errorf("worker: finish cancelled: %w", err)
		}
		metrics.JobsFinished.WithLabelValues(string(domain.JobStatusCancelled)).Inc()
		metrics.JobDuration.Observe(e.now().Sub(start).Seconds())
		e.hub.Publish(domain.ProgressEvent{
			JobID:    job.ID,
			Type:     domain.EventCancelled,
			Progress: progressPercent(attempted, job.UnitCount),
			Status:   domain.JobStatusCancelled,
			Current:  produced,
			Total:    job.UnitCount,
			Message:  msgCancelled(job.Locale),
		})
		log.Info().Int("produced", produced).Int("attempted", attempted).Msg("worker: job cancelled")
		return nil
	}

	if produced == 0 {
		if lastFail == "" {
			lastFail = "no images generated"
		}
		return e.finishFailed(ctx, job, credits, lastFail, start)
	}

	if err := e.jobs.Finish(ctx, job.ID, domain.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("worker: finish completed: %w", err)
	}
	metrics.JobsFinished.WithLabelValues(string(domain.JobStatusCompleted)).Inc()
	metrics.JobDuration.Observe(e.now().Sub(start).Seconds())
	e.hub.Publish(domain.ProgressEvent{
		JobID:    job.ID,
		Type:     domain.EventCompleted,
		Progress: 100,
		Status:   domain.JobStatusCompleted,
		Current:  produced,
		Total:    job.UnitCount,
		Message:  msgCompleted(job.Locale),
		Images:   images,
	})
	log.Info().
		Int("produced", produced).
		Int("attempted", attempted).
		Int("credits", credits).
		Msg("worker: job completed")
	return nil
}

// failFatal ends the job on a provider error no unit-level tolerance can
// absorb. Units from the failing ordinal onward never ran, so they are
// refunded at the current tier; with nothing produced the job costs nothing.
func (e *Executor) failFatal(ctx context.Context, job *domain.Job, tier generation.Tier, produced, attempted, credits int, reason string, start time.Time) error {
	if produced == 0 {
		return e.finishFailed(ctx, job, credits, reason, start)
	}
	log := e.logger.With().Str("job_id", job.ID).Logger()
	refund := tier.Multiplier * (job.UnitCount - attempted)
	if refund > 0 {
		if _, err := e.ledger.Credit(ctx, job.UserID, refund); err != nil {
			log.Error().Err(err).Int("refund", refund).Msg("worker: fatal refund failed")
		} else {
			credits -= refund
			metrics.CreditsRefunded.Add(float64(refund))
		}
		if err := e.jobs.SetCreditsConsumed(ctx, job.ID, credits); err != nil {
			log.Warn().Err(err).Msg("worker: credits update failed")
		}
	}
	if err := e.jobs.Finish(ctx, job.ID, domain.JobStatusFailed, reason); err != nil {
		return fmt.Errorf("worker: finish failed: %w", err)
	}
	metrics.JobsFinished.WithLabelValues(string(domain.JobStatusFailed)).Inc()
	metrics.JobDuration.Observe(e.now().Sub(start).Seconds())
	e.hub.Publish(domain.ProgressEvent{
		JobID:   job.ID,
		Type:    domain.EventFailed,
		Status:  domain.JobStatusFailed,
		Current: produced,
		Total:   job.UnitCount,
		Message: msgFailed(job.Locale),
		Error:   reason,
	})
	log.Warn().Str("reason", reason).Int("produced", produced).Msg("worker: job failed")
	return nil
}

// finishFailed ends a job in failed state and refunds everything it still
// holds: a job that produced nothing costs nothing.
func (e *Executor) finishFailed(ctx context.Context, job *domain.Job, credits int, reason string, start time.Time) error {
	log := e.logger.With().Str("job_id", job.ID).Logger()
	if credits > 0 {
		if _, err := e.ledger.Credit(ctx, job.UserID, credits); err != nil {
			log.Error().Err(err).Int("refund", credits).Msg("worker: failure refund failed")
		} else {
			metrics.CreditsRefunded.Add(float64(credits))
		}
		if err := e.jobs.SetCreditsConsumed(ctx, job.ID, 0); err != nil {
			log.Warn().Err(err).Msg("worker: credits update failed")
		}
	}
	if err := e.jobs.Finish(ctx, job.ID, domain.JobStatusFailed, reason); err != nil {
		return fmt.Errorf("worker: finish failed: %w", err)
	}
	metrics.JobsFinished.WithLabelValues(string(domain.JobStatusFailed)).Inc()
	metrics.JobDuration.Observe(e.now().Sub(start).Seconds())
	e.hub.Publish(domain.ProgressEvent{
		JobID:   job.ID,
		Type:    domain.EventFailed,
		Status:  domain.JobStatusFailed,
		Total:   job.UnitCount,
		Message: msgFailed(job.Locale),
		Error:   reason,
	})
	log.Warn().Str("reason", reason).Msg("worker: job failed")
	return nil
}

func (e *Executor) appendUnit(ctx context.Context, unit *domain.GenerationUnit) {
	if err := e.units.Append(ctx, unit); err != nil {
		e.logger.Error().Err(err).Str("job_id", unit.JobID).Int("ordinal", unit.Ordinal).Msg("worker: unit append failed")
	}
}

func (e *Executor) persistCounts(ctx context.Context, jobID string, produced, attempted int) {
	if err := e.jobs.UpdateCounts(ctx, jobID, produced, attempted); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("worker: count update failed")
	}
}

func extForMIME(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func mimeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
