package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// AgentRepository is the read-only directory view of agents.
type AgentRepository interface {
	List(ctx context.Context) ([]domain.Agent, error)
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
}

type agentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository instantiates the repository.
func NewAgentRepository(pool *pgxpool.Pool) AgentRepository {
	return &agentRepository{pool: pool}
}

const agentColumns = `id, name, email, role, team_id, available, disabled, skills, languages,
               office_start, office_end, office_days, timezone, created_at`

func (r *agentRepository) List(ctx context.Context) ([]domain.Agent, error) {
	const query = `SELECT ` + agentColumns + ` FROM agents ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *agent)
	}
	return result, rows.Err()
}

func (r *agentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	const query = `SELECT ` + agentColumns + ` FROM agents WHERE id=$1`
	agent, err := scanAgent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAgentNotFound
	}
	return agent, err
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var (
		agent domain.Agent
		days  []int32
	)
	if err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Email,
		&agent.Role,
		&agent.TeamID,
		&agent.Available,
		&agent.Disabled,
		&agent.Skills,
		&agent.Languages,
		&agent.OfficeHours.Start,
		&agent.OfficeHours.End,
		&days,
		&agent.OfficeHours.Timezone,
		&agent.CreatedAt,
	); err != nil {
		return nil, err
	}
	for _, d := range days {
		if d >= 0 && d <= 6 {
			agent.OfficeHours.Days = append(agent.OfficeHours.Days, time.Weekday(d))
		}
	}
	return &agent, nil
}
