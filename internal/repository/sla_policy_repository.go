package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// SLAPolicyRepository persists (priority, category) budgets.
type SLAPolicyRepository interface {
	ListPolicies(ctx context.Context) ([]domain.SLAPolicy, error)
	Upsert(ctx context.Context, policy *domain.SLAPolicy) error
}

type slaPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewSLAPolicyRepository instantiates the repository.
func NewSLAPolicyRepository(pool *pgxpool.Pool) SLAPolicyRepository {
	return &slaPolicyRepository{pool: pool}
}

func (r *slaPolicyRepository) ListPolicies(ctx context.Context) ([]domain.SLAPolicy, error) {
	const query = `
        SELECT priority, category, response_minutes, resolution_minutes, updated_at
        FROM sla_policies ORDER BY priority, category`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPolicy
	for rows.Next() {
		var (
			policy             domain.SLAPolicy
			response, resolved int
		)
		if err := rows.Scan(&policy.Priority, &policy.Category, &response, &resolved, &policy.UpdatedAt); err != nil {
			return nil, err
		}
		policy.ResponseBudget = time.Duration(response) * time.Minute
		policy.ResolutionBudget = time.Duration(resolved) * time.Minute
		result = append(result, policy)
	}
	return result, rows.Err()
}

func (r *slaPolicyRepository) Upsert(ctx context.Context, policy *domain.SLAPolicy) error {
	const query = `
        INSERT INTO sla_policies (priority, category, response_minutes, resolution_minutes)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (priority, category) DO UPDATE
        SET response_minutes=EXCLUDED.response_minutes,
            resolution_minutes=EXCLUDED.resolution_minutes,
            updated_at=NOW()
        RETURNING updated_at`
	return r.pool.QueryRow(ctx, query,
		policy.Priority,
		policy.Category,
		int(policy.ResponseBudget/time.Minute),
		int(policy.ResolutionBudget/time.Minute),
	).Scan(&policy.UpdatedAt)
}
