package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// PerformanceRepository derives rolling agent metrics from ticket history.
type PerformanceRepository interface {
	Performance(ctx context.Context, agentIDs []string, since time.Time) (map[string]domain.AgentPerformance, error)
}

type performanceRepository struct {
	pool *pgxpool.Pool
}

// NewPerformanceRepository instantiates the repository.
func NewPerformanceRepository(pool *pgxpool.Pool) PerformanceRepository {
	return &performanceRepository{pool: pool}
}

// Performance returns resolution rate and mean satisfaction over tickets assigned since the
// cutoff. Agents with no tickets in the window are absent from the result; agents whose tickets
// carry no rating have a nil satisfaction.
func (r *performanceRepository) Performance(ctx context.Context, agentIDs []string, since time.Time) (map[string]domain.AgentPerformance, error) {
	const query = `
        SELECT assignee_agent_id,
               COUNT(*) FILTER (WHERE status IN ('resolved','closed'))::float8 / COUNT(*)::float8,
               AVG(satisfaction_rating)::float8
        FROM tickets
        WHERE assignee_agent_id = ANY($1) AND assigned_at >= $2
        GROUP BY assignee_agent_id`
	rows, err := r.pool.Query(ctx, query, agentIDs, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.AgentPerformance, len(agentIDs))
	for rows.Next() {
		var perf domain.AgentPerformance
		if err := rows.Scan(&perf.AgentID, &perf.ResolutionRate, &perf.Satisfaction); err != nil {
			return nil, err
		}
		result[perf.AgentID] = perf
	}
	return result, rows.Err()
}
