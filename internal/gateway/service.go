// Package gateway is the HTTP surface: submission, status, cancellation,
// event streaming, batch aggregation and the usage endpoint.
package gateway

import (
	"context"
	"fmt"
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
	"restyle/pkg/zip"
)

// Publisher enqueues job IDs for the worker pool. The pending sweep covers a
// lost publish, so failures here degrade latency, not correctness.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// BlobStore is the slice of the artifact store the gateway needs.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

const (
	maxSourceImageSize = 10 << 20
	// estimatedSecondsPerUnit feeds the client-facing completion estimate.
	estimatedSecondsPerUnit = 30
)

// SubmitRequest is one validated-on-entry job submission.
type SubmitRequest struct {
	ImageData   []byte
	ImageName   string
	Instruction string
	UnitCount   int
	TierName    string
	AspectRatio string
}

// SubmitResult is what the client needs to start observing the job.
type SubmitResult struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	EstimatedSeconds int    `json:"estimated_seconds"`
	RemainingCredits int    `json:"remaining_credits"`
}

// JobService implements the submission, status and cancellation operations
// over the durable stores.
type JobService struct {
	jobs      domain.JobRepository
	units     domain.UnitRepository
	ledger    *ledger.Service
	store     BlobStore
	publisher Publisher
	hub       progress.Publisher
	baseURL   string
	logger    infra.Logger
}

// NewJobService wires the service. publisher may be nil when no broker is
// configured; the worker's poll sweep picks jobs up instead.
func NewJobService(
	jobs domain.JobRepository,
	units domain.UnitRepository,
	usage *ledger.Service,
	store BlobStore,
	publisher Publisher,
	hub progress.Publisher,
	baseURL string,
	logger infra.Logger,
) *JobService {
	return &JobService{
		jobs:      jobs,
		units:     units,
		ledger:    usage,
		store:     store,
		publisher: publisher,
		hub:       hub,
		baseURL:   baseURL,
		logger:    logger,
	}
}

func validateSubmit(req SubmitRequest) error {
	if len(req.ImageData) == 0 {
		return fmt.Errorf("%w: source image is required", domain.ErrInvalidRequest)
	}
	if len(req.ImageData) > maxSourceImageSize {
		return fmt.Errorf("%w: source image exceeds %d bytes", domain.ErrInvalidRequest, maxSourceImageSize)
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return fmt.Errorf("%w: instruction is required", domain.ErrInvalidRequest)
	}
	if req.UnitCount < domain.MinUnitCount || req.UnitCount > domain.MaxUnitCount {
		return fmt.Errorf("%w: generation count must be between %d and %d",
			domain.ErrInvalidRequest, domain.MinUnitCount, domain.MaxUnitCount)
	}
	if req.AspectRatio != "" && !domain.ValidAspectRatio(req.AspectRatio) {
		return fmt.Errorf("%w: unsupported aspect ratio %q", domain.ErrInvalidRequest, req.AspectRatio)
	}
	return nil
}

// Submit debits the user's allowance up front, persists the source image and
// the pending job, and enqueues it. The debit happens before the job exists,
// so a quota rejection leaves no trace.
func (s *JobService) Submit(ctx context.Context, userID, locale string, req SubmitRequest) (SubmitResult, error) {
	if err := validateSubmit(req); err != nil {
		return SubmitResult{}, err
	}
	tier, err := generation.ResolveTier(req.TierName)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidRequest, req.TierName)
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = domain.AspectRatioOriginal
	}

	cost := tier.Multiplier * req.UnitCount
	entry, err := s.ledger.Debit(ctx, userID, cost)
	if err != nil {
		return SubmitResult{}, err
	}

	rollback := func(stage string, cause error) {
		s.logger.Error().Err(cause).Str("stage", stage).Str("user_id", userID).Msg("gateway: submit rollback")
		if _, err := s.ledger.Credit(ctx, userID, cost); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Int("amount", cost).Msg("gateway: rollback refund failed")
		}
	}

	jobID := uuid.NewString()
	name := filepath.Base(req.ImageName)
	if name == "" || name == "." {
		name = "source.png"
	}
	key := storage.UploadKey(userID, jobID+strings.ToLower(filepath.Ext(name)))
	if _, err := s.store.Write(ctx, key, req.ImageData); err != nil {
		rollback("store", err)
		return SubmitResult{}, fmt.Errorf("gateway: store source image: %w", err)
	}

	job := &domain.Job{
		ID:              jobID,
		UserID:          userID,
		SourceImageKey:  key,
		SourceImageName: name,
		SourceImageSize: int64(len(req.ImageData)),
		Instruction:     strings.TrimSpace(req.Instruction),
		UnitCount:       req.UnitCount,
		Tier:            tier.Name,
		AspectRatio:     aspect,
		Locale:          locale,
		Status:          domain.JobStatusPending,
		CreditsConsumed: cost,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		rollback("create", err)
		return SubmitResult{}, fmt.Errorf("gateway: create job: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, jobID); err != nil {
			// The sweep will claim it; log and move on.
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("gateway: enqueue failed, sweep will recover")
		}
	}

	metrics.JobsSubmitted.Inc()
	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", userID).
		Str("tier", tier.Name).
		Int("units", req.UnitCount).
		Int("cost", cost).
		Msg("gateway: job submitted")

	return SubmitResult{
		JobID:            jobID,
		Status:           string(domain.JobStatusPending),
		EstimatedSeconds: estimatedSecondsPerUnit * req.UnitCount,
		RemainingCredits: entry.Remaining(),
	}, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// JobListItem is one row of the job history listing.
type JobListItem struct {
	JobID           string               `json:"job_id"`
	Status          domain.JobStatus     `json:"status"`
	Instruction     string               `json:"instruction"`
	Tier            string               `json:"tier"`
	GenerationCount int                  `json:"generation_count"`
	CurrentCount    int                  `json:"current_count"`
	CreatedAt       time.Time            `json:"created_at"`
	Images          []domain.ArtifactRef `json:"images,omitempty"`
}

// JobPage is one page of a user's job history, newest first.
type JobPage struct {
	Jobs     []JobListItem `json:"jobs"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// List returns the user's past and running jobs. Cancelled and retired jobs
// are invisible here, the same as on the single-job surfaces; completed jobs
// carry their generated images.
func (s *JobService) List(ctx context.Context, userID string, page, pageSize int) (JobPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	jobs, total, err := s.jobs.ListByUser(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return JobPage{}, err
	}

	items := make([]JobListItem, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		item := JobListItem{
			JobID:           job.ID,
			Status:          job.Status,
			Instruction:     job.Instruction,
			Tier:            job.Tier,
			GenerationCount: job.UnitCount,
			CurrentCount:    job.Produced,
			CreatedAt:       job.CreatedAt,
		}
		if job.Status == domain.JobStatusCompleted {
			images, err := s.artifacts(ctx, job)
			if err != nil {
				return JobPage{}, err
			}
			item.Images = images
		}
		items = append(items, item)
	}
	return JobPage{Jobs: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// visibleJob loads a job and applies the uniform not-found rule: absent,
// retired, foreign and cancelled jobs are indistinguishable to the caller.
func (s *JobService) visibleJob(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID || job.Status == domain.JobStatusCancelled {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// Snapshot returns the authoritative pull-path view of a job.
func (s *JobService) Snapshot(ctx context.Context, userID, jobID string) (domain.JobSnapshot, error) {
	job, err := s.visibleJob(ctx, userID, jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	snap := domain.JobSnapshot{
		JobID:           job.ID,
		Status:          job.Status,
		GenerationCount: job.UnitCount,
		CurrentCount:    job.Produced,
		ErrorMessage:    job.ErrorMessage,
	}
	if job.Status == domain.JobStatusCompleted {
		images, err := s.artifacts(ctx, job)
		if err != nil {
			return domain.JobSnapshot{}, err
		}
		snap.Images = images
	}
	return snap, nil
}

func (s *JobService) artifacts(ctx context.Context, job *domain.Job) ([]domain.ArtifactRef, error) {
	units, err := s.units.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	var images []domain.ArtifactRef
	for _, u := range units {
		if !u.Succeeded() {
			continue
		}
		images = append(images, domain.ArtifactRef{
			ID:   u.ID,
			URL:  s.baseURL + "/" + u.ArtifactKey,
			Name: filepath.Base(u.ArtifactKey),
			Size: u.ArtifactSize,
		})
	}
	return images, nil
}

// Cancel applies the two-path cancellation rule. A pending job is cancelled
// directly here with a full refund; a processing job only gets the
// cooperative flag and the owning worker settles it at the next unit
// boundary.
func (s *JobService) Cancel(ctx context.Context, userID, jobID string) (domain.CancelOutcome, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.UserID != userID {
		return "", domain.ErrNotFound
	}

	switch job.Status {
	case domain.JobStatusCancelled:
		return domain.CancelOutcomeAlreadyCancelled, nil
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		return domain.CancelOutcomeAlreadyFinished, nil
	case domain.JobStatusPending:
		ok, err := s.jobs.CancelPending(ctx, jobID)
		if err != nil {
			return "", err
		}
		if ok {
			if job.CreditsConsumed > 0 {
				if _, err := s.ledger.Credit(ctx, userID, job.CreditsConsumed); err != nil {
					s.logger.Error().Err(err).Str("job_id", jobID).Msg("gateway: cancel refund failed")
				} else {
					metrics.CreditsRefunded.Add(float64(job.CreditsConsumed))
				}
				if err := s.jobs.SetCreditsConsumed(ctx, jobID, 0); err != nil {
					s.logger.Warn().Err(err).Str("job_id", jobID).Msg("gateway: credits update failed")
				}
			}
			metrics.JobsFinished.WithLabelValues(string(domain.JobStatusCancelled)).Inc()
			s.hub.Publish(domain.ProgressEvent{
				JobID:   jobID,
				Type:    domain.EventCancelled,
				Status:  domain.JobStatusCancelled,
				Total:   job.UnitCount,
				Message: "cancelled",
			})
			s.logger.Info().Str("job_id", jobID).Msg("gateway: pending job cancelled")
			return domain.CancelOutcomeCancelled, nil
		}
		// A worker won the race; fall through to the cooperative path.
	}

	if err := s.jobs.RequestCancel(ctx, jobID); err != nil {
		return "", err
	}
	s.logger.Info().Str("job_id", jobID).Msg("gateway: cancel requested")
	return domain.CancelOutcomeCancelled, nil
}

// Archive bundles a completed job's variants into one zip download.
func (s *JobService) Archive(ctx context.Context, userID, jobID string) ([]byte, string, error) {
	job, err := s.visibleJob(ctx, userID, jobID)
	if err != nil {
		return nil, "", err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, "", fmt.Errorf("%w: job is not completed", domain.ErrInvalidRequest)
	}
	units, err := s.units.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, "", err
	}
	var entries []zip.Entry
	for _, u := range units {
		if !u.Succeeded() {
			continue
		}
		data, err := s.store.Read(ctx, u.ArtifactKey)
		if err != nil {
			return nil, "", fmt.Errorf("gateway: read artifact %s: %w", u.ArtifactKey, err)
		}
		entries = append(entries, zip.Entry{
			Filename: filepath.Base(u.ArtifactKey),
			Data:     data,
		})
	}
	if len(entries) == 0 {
		return nil, "", domain.ErrNotFound
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		return nil, "", err
	}
	return archive, job.ID + ".zip", nil
}

// Usage returns the current-period allowance summary.
func (s *JobService) Usage(ctx context.Context, userID string) (domain.UsageSummary, error) {
	return s.ledger.Summary(ctx, userID)
}

// snapshotEvent renders the authoritative state as the first frame of an
// event stream, so a late subscriber starts from truth instead of silence.
func snapshotEvent(job *domain.Job, images []domain.ArtifactRef) domain.ProgressEvent {
	ev := domain.ProgressEvent{
		JobID:   job.ID,
		Status:  job.Status,
		Current: job.Produced,
		Total:   job.UnitCount,
	}
	switch job.Status {
	case domain.JobStatusCompleted:
		ev.Type = domain.EventCompleted
		ev.Progress = 100
		ev.Images = images
	case domain.JobStatusFailed:
		ev.Type = domain.EventFailed
		ev.Error = job.ErrorMessage
	case domain.JobStatusProcessing:
		ev.Type = domain.EventProgress
		ev.Progress = processingPercent(job)
	default:
		ev.Type = domain.EventProgress
	}
	return ev
}

func processingPercent(job *domain.Job) int {
	if job.UnitCount == 0 {
		return 0
	}
	pct := job.Attempted * 100 / job.UnitCount
	if pct < 5 {
		pct = 5
	}
	if pct > 99 {
		pct = 99
	}
	return pct
}
