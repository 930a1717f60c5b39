// Package ledger wraps the usage repository with period handling and a
// read-through summary cache. Every debit and credit invalidates the cache,
// so the pull path never serves a stale allowance.
package ledger

import (
	"context"
	"time"

	"restyle/internal/domain"
	"restyle/internal/infra"
)

// Cache holds derived usage summaries. Implementations must tolerate being
// nil-backed: a cache miss is never an error.
type Cache interface {
	GetSummary(ctx context.Context, userID, period string) (domain.UsageSummary, bool)
	SetSummary(ctx context.Context, userID, period string, summary domain.UsageSummary)
	Invalidate(ctx context.Context, userID, period string)
}

// Service is the Usage Ledger: atomic debit/credit against the monthly
// allowance plus the client-facing summary.
type Service struct {
	repo   domain.UsageRepository
	cache  Cache
	logger infra.Logger
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCache attaches a summary cache.
func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithClock overrides the period clock. Tests pin it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the ledger service.
func NewService(repo domain.UsageRepository, logger infra.Logger, opts ...Option) *Service {
	s := &Service{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Period returns the current ledger period key.
func (s *Service) Period() string {
	return domain.PeriodKey(s.now())
}

// Debit consumes credits for the current period. ErrQuotaExceeded means
// nothing was consumed.
func (s *Service) Debit(ctx context.Context, userID string, amount int) (domain.UsageEntry, error) {
	period := s.Period()
	entry, err := s.repo.Debit(ctx, userID, period, amount)
	if err != nil {
		return domain.UsageEntry{}, err
	}
	s.invalidate(ctx, userID, period)
	s.logger.Debug().
		Str("user_id", userID).
		Int("amount", amount).
		Int("consumed", entry.Consumed).
		Msg("ledger: debit")
	return entry, nil
}

// Credit refunds credits for the current period.
func (s *Service) Credit(ctx context.Context, userID string, amount int) (domain.UsageEntry, error) {
	if amount <= 0 {
		return s.repo.Get(ctx, userID, s.Period())
	}
	period := s.Period()
	entry, err := s.repo.Credit(ctx, userID, period, amount)
	if err != nil {
		return domain.UsageEntry{}, err
	}
	s.invalidate(ctx, userID, period)
	s.logger.Debug().
		Str("user_id", userID).
		Int("amount", amount).
		Int("consumed", entry.Consumed).
		Msg("ledger: credit")
	return entry, nil
}

// Summary returns the client-facing view of the current period, served from
// cache when possible.
func (s *Service) Summary(ctx context.Context, userID string) (domain.UsageSummary, error) {
	period := s.Period()
	if s.cache != nil {
		if summary, ok := s.cache.GetSummary(ctx, userID, period); ok {
			return summary, nil
		}
	}
	entry, err := s.repo.Get(ctx, userID, period)
	if err != nil {
		return domain.UsageSummary{}, err
	}
	summary := entry.Summary()
	if s.cache != nil {
		s.cache.SetSummary(ctx, userID, period, summary)
	}
	return summary, nil
}

func (s *Service) invalidate(ctx context.Context, userID, period string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID, period)
	}
}
