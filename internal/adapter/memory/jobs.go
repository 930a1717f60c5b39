// Package memory provides in-memory repository implementations with the same
// transition semantics as the PostgreSQL adapters. They back unit tests and
// single-process development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"restyle/internal/domain"
)

// JobStore is an in-memory domain.JobRepository.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job)}
}

func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.jobs[job.ID] = &clone
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Deleted {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *JobStore) ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []domain.Job
	for _, job := range s.jobs {
		if job.UserID != userID || job.Deleted || job.Status == domain.JobStatusCancelled {
			continue
		}
		matched = append(matched, *job)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *JobStore) Claim(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Deleted || job.Status != domain.JobStatusPending {
		return nil, domain.ErrAlreadyClaimed
	}
	now := time.Now()
	job.Status = domain.JobStatusProcessing
	job.StartedAt = &now
	job.UpdatedAt = now
	clone := *job
	return &clone, nil
}

func (s *JobStore) ClaimNextPending(ctx context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.Job
	for _, job := range s.jobs {
		if job.Deleted || job.Status != domain.JobStatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	now := time.Now()
	oldest.Status = domain.JobStatusProcessing
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	clone := *oldest
	return &clone, nil
}

func (s *JobStore) RequestCancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	if job.Status == domain.JobStatusPending || job.Status == domain.JobStatusProcessing {
		job.CancelRequested = true
		job.UpdatedAt = time.Now()
	}
	return nil
}

func (s *JobStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	return job.CancelRequested, nil
}

func (s *JobStore) CancelPending(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return false, nil
	}
	now := time.Now()
	job.Status = domain.JobStatusCancelled
	job.CancelRequested = true
	job.FinishedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *JobStore) UpdateCounts(ctx context.Context, jobID string, produced, attempted int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return nil
	}
	job.Produced = produced
	job.Attempted = attempted
	job.UpdatedAt = time.Now()
	return nil
}

func (s *JobStore) SetCreditsConsumed(ctx context.Context, jobID string, credits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.CreditsConsumed = credits
		job.UpdatedAt = time.Now()
	}
	return nil
}

func (s *JobStore) Finish(ctx context.Context, jobID string, status domain.JobStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return domain.ErrJobTerminal
	}
	now := time.Now()
	job.Status = status
	job.ErrorMessage = errorMessage
	job.FinishedAt = &now
	job.UpdatedAt = now
	return nil
}

// Retire soft-deletes a job, hiding it from every lookup.
func (s *JobStore) Retire(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.Deleted = true
	}
}

var _ domain.JobRepository = (*JobStore)(nil)

// UnitStore is an in-memory domain.UnitRepository.
type UnitStore struct {
	mu    sync.Mutex
	units map[string][]domain.GenerationUnit
}

// NewUnitStore creates an empty unit store.
func NewUnitStore() *UnitStore {
	return &UnitStore{units: make(map[string][]domain.GenerationUnit)}
}

func (s *UnitStore) Append(ctx context.Context, unit *domain.GenerationUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *unit
	clone.CreatedAt = time.Now()
	s.units[unit.JobID] = append(s.units[unit.JobID], clone)
	return nil
}

func (s *UnitStore) ListByJob(ctx context.Context, jobID string) ([]domain.GenerationUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := append([]domain.GenerationUnit(nil), s.units[jobID]...)
	sort.Slice(units, func(i, j int) bool { return units[i].Ordinal < units[j].Ordinal })
	return units, nil
}

var _ domain.UnitRepository = (*UnitStore)(nil)
