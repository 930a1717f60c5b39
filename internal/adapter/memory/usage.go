package memory

import (
	"context"
	"sync"
	"time"

	"restyle/internal/domain"
)

// UsageStore is an in-memory domain.UsageRepository with the same atomic
// conditional-debit behavior as the PostgreSQL ledger.
type UsageStore struct {
	mu           sync.Mutex
	entries      map[string]*domain.UsageEntry
	defaultLimit int
}

// NewUsageStore creates a ledger store seeded with defaultLimit per entry.
func NewUsageStore(defaultLimit int) *UsageStore {
	if defaultLimit <= 0 {
		defaultLimit = domain.DefaultMonthlyLimit
	}
	return &UsageStore{entries: make(map[string]*domain.UsageEntry), defaultLimit: defaultLimit}
}

func (s *UsageStore) key(userID, period string) string {
	return userID + "|" + period
}

func (s *UsageStore) ensureLocked(userID, period string) *domain.UsageEntry {
	k := s.key(userID, period)
	entry, ok := s.entries[k]
	if !ok {
		entry = &domain.UsageEntry{UserID: userID, Period: period, Limit: s.defaultLimit}
		s.entries[k] = entry
	}
	return entry
}

// SetLimit overrides the allowance for one entry. Test helper.
func (s *UsageStore) SetLimit(userID, period string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.ensureLocked(userID, period)
	entry.Limit = limit
}

func (s *UsageStore) Debit(ctx context.Context, userID, period string, amount int) (domain.UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.ensureLocked(userID, period)
	if entry.Consumed+amount > entry.Limit {
		return domain.UsageEntry{}, domain.ErrQuotaExceeded
	}
	entry.Consumed += amount
	entry.UpdatedAt = time.Now()
	return *entry, nil
}

func (s *UsageStore) Credit(ctx context.Context, userID, period string, amount int) (domain.UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.ensureLocked(userID, period)
	entry.Consumed -= amount
	if entry.Consumed < 0 {
		entry.Consumed = 0
	}
	entry.UpdatedAt = time.Now()
	return *entry, nil
}

func (s *UsageStore) Get(ctx context.Context, userID, period string) (domain.UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.ensureLocked(userID, period), nil
}

var _ domain.UsageRepository = (*UsageStore)(nil)
