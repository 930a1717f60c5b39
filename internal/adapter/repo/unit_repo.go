package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"restyle/internal/domain"
)

// UnitRepositoryPG persists generation units. Units are append-only: the
// worker inserts one row per attempt outcome and nothing ever updates them.
type UnitRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUnitRepository creates a new unit repository backed by PostgreSQL.
func NewUnitRepository(pool *pgxpool.Pool) *UnitRepositoryPG {
	return &UnitRepositoryPG{pool: pool}
}

// Append inserts one unit record.
func (r *UnitRepositoryPG) Append(ctx context.Context, unit *domain.GenerationUnit) error {
	query := `
INSERT INTO generation_units (id, job_id, ordinal, artifact_key, artifact_size, failure_reason)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		unit.ID,
		unit.JobID,
		unit.Ordinal,
		unit.ArtifactKey,
		unit.ArtifactSize,
		unit.FailureReason,
	)
	return err
}

// ListByJob returns units in ordinal order.
func (r *UnitRepositoryPG) ListByJob(ctx context.Context, jobID string) ([]domain.GenerationUnit, error) {
	query := `
SELECT id, job_id, ordinal, artifact_key, artifact_size, failure_reason, created_at
FROM generation_units
WHERE job_id = $1
ORDER BY ordinal ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []domain.GenerationUnit
	for rows.Next() {
		var u domain.GenerationUnit
		if err := rows.Scan(&u.ID, &u.JobID, &u.Ordinal, &u.ArtifactKey, &u.ArtifactSize, &u.FailureReason, &u.CreatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

var _ domain.UnitRepository = (*UnitRepositoryPG)(nil)
