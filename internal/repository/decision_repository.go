package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// DecisionRepository stores the append-only assignment audit trail.
type DecisionRepository interface {
	Create(ctx context.Context, decision *domain.AssignmentDecision) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.AssignmentDecision, error)
}

type decisionRepository struct {
	pool *pgxpool.Pool
}

// NewDecisionRepository builds repository.
func NewDecisionRepository(pool *pgxpool.Pool) DecisionRepository {
	return &decisionRepository{pool: pool}
}

func (r *decisionRepository) Create(ctx context.Context, decision *domain.AssignmentDecision) error {
	return insertDecision(ctx, r.pool, decision)
}

func insertDecision(ctx context.Context, q querier, decision *domain.AssignmentDecision) error {
	if decision.ID == "" {
		decision.ID = uuid.NewString()
	}
	if decision.Actor == "" {
		decision.Actor = "system"
	}
	scores := decision.Breakdown
	if scores == nil {
		scores = map[string]domain.ScoreBreakdown{}
	}
	breakdown, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO assignment_decisions (id, ticket_id, agent_id, previous_agent_id, path, rule_id, breakdown, reason, actor)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at`
	return q.QueryRow(ctx, query,
		decision.ID,
		decision.TicketID,
		decision.AgentID,
		decision.PreviousAgentID,
		decision.Path,
		decision.RuleID,
		breakdown,
		decision.Reason,
		decision.Actor,
	).Scan(&decision.CreatedAt)
}

func (r *decisionRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.AssignmentDecision, error) {
	const query = `
        SELECT id, ticket_id, agent_id, previous_agent_id, path, rule_id, breakdown, reason, actor, created_at
        FROM assignment_decisions WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AssignmentDecision
	for rows.Next() {
		var (
			decision  domain.AssignmentDecision
			breakdown []byte
		)
		if err := rows.Scan(
			&decision.ID,
			&decision.TicketID,
			&decision.AgentID,
			&decision.PreviousAgentID,
			&decision.Path,
			&decision.RuleID,
			&breakdown,
			&decision.Reason,
			&decision.Actor,
			&decision.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(breakdown) > 0 {
			if err := json.Unmarshal(breakdown, &decision.Breakdown); err != nil {
				return nil, err
			}
		}
		result = append(result, decision)
	}
	return result, rows.Err()
}
