package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"restyle/internal/domain"
)

// UsageRepositoryPG implements the per-(user, period) credit ledger. Debits
// are conditional single-statement updates, so concurrent jobs for one user
// serialize on the row without ever overspending the allowance.
type UsageRepositoryPG struct {
	pool         *pgxpool.Pool
	defaultLimit int
}

// NewUsageRepository creates a ledger repository. defaultLimit seeds entries
// created on first use within a period.
func NewUsageRepository(pool *pgxpool.Pool, defaultLimit int) *UsageRepositoryPG {
	if defaultLimit <= 0 {
		defaultLimit = domain.DefaultMonthlyLimit
	}
	return &UsageRepositoryPG{pool: pool, defaultLimit: defaultLimit}
}

func (r *UsageRepositoryPG) ensure(ctx context.Context, userID, period string) error {
	query := `
INSERT INTO usage_ledger (user_id, period, quota_limit, consumed)
VALUES ($1, $2, $3, 0)
ON CONFLICT (user_id, period) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, query, userID, period, r.defaultLimit)
	return err
}

// Debit consumes credits if and only if the allowance covers the amount.
func (r *UsageRepositoryPG) Debit(ctx context.Context, userID, period string, amount int) (domain.UsageEntry, error) {
	if err := r.ensure(ctx, userID, period); err != nil {
		return domain.UsageEntry{}, err
	}
	query := `
UPDATE usage_ledger
SET consumed = consumed + $3, updated_at = NOW()
WHERE user_id = $1 AND period = $2 AND consumed + $3 <= quota_limit
RETURNING user_id, period, quota_limit, consumed, updated_at;
`
	entry, err := scanUsage(r.pool.QueryRow(ctx, query, userID, period, amount))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.UsageEntry{}, domain.ErrQuotaExceeded
	}
	return entry, err
}

// Credit refunds credits, flooring consumed at zero.
func (r *UsageRepositoryPG) Credit(ctx context.Context, userID, period string, amount int) (domain.UsageEntry, error) {
	if err := r.ensure(ctx, userID, period); err != nil {
		return domain.UsageEntry{}, err
	}
	query := `
UPDATE usage_ledger
SET consumed = GREATEST(0, consumed - $3), updated_at = NOW()
WHERE user_id = $1 AND period = $2
RETURNING user_id, period, quota_limit, consumed, updated_at;
`
	return scanUsage(r.pool.QueryRow(ctx, query, userID, period, amount))
}

// Get returns the current entry, seeding one when the period is fresh.
func (r *UsageRepositoryPG) Get(ctx context.Context, userID, period string) (domain.UsageEntry, error) {
	if err := r.ensure(ctx, userID, period); err != nil {
		return domain.UsageEntry{}, err
	}
	query := `
SELECT user_id, period, quota_limit, consumed, updated_at
FROM usage_ledger
WHERE user_id = $1 AND period = $2;
`
	return scanUsage(r.pool.QueryRow(ctx, query, userID, period))
}

// SetLimit overrides the allowance for one user and period. Administrative
// only; it is not part of the repository contract the services see.
func (r *UsageRepositoryPG) SetLimit(ctx context.Context, userID, period string, limit int) (domain.UsageEntry, error) {
	if err := r.ensure(ctx, userID, period); err != nil {
		return domain.UsageEntry{}, err
	}
	query := `
UPDATE usage_ledger
SET quota_limit = $3, updated_at = NOW()
WHERE user_id = $1 AND period = $2
RETURNING user_id, period, quota_limit, consumed, updated_at;
`
	return scanUsage(r.pool.QueryRow(ctx, query, userID, period, limit))
}

func scanUsage(row pgx.Row) (domain.UsageEntry, error) {
	var e domain.UsageEntry
	if err := row.Scan(&e.UserID, &e.Period, &e.Limit, &e.Consumed, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UsageEntry{}, domain.ErrNotFound
		}
		return domain.UsageEntry{}, err
	}
	return e, nil
}

var _ domain.UsageRepository = (*UsageRepositoryPG)(nil)
