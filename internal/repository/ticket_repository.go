package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// TicketRepository reads the ticket columns the assignment core depends on. Assignment and SLA
// columns are only written through AssignmentStore.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListActiveByAssignees(ctx context.Context, agentIDs []string) ([]domain.Ticket, error)
	ListNearingBreach(ctx context.Context, horizon time.Time, limit int) ([]domain.Ticket, error)
	MarkSLAWarningSent(ctx context.Context, id string, deadline domain.SLADeadline, at time.Time) error
	HandledRequester(ctx context.Context, requesterID, excludeTicketID string) ([]string, error)
	OpenLoadByAgent(ctx context.Context, agentIDs []string) ([]domain.PriorityCount, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, requester_id, title, description, category, subcategory, language,
               status, priority, assignee_agent_id, assigned_at, response_due_at, resolution_due_at,
               first_response_at, resolved_at, satisfaction_rating::float8,
               response_warning_sent_at, resolution_warning_sent_at, created_at, updated_at`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTicketNotFound
	}
	return ticket, err
}

// ListActiveByAssignees returns open and in-progress tickets of the given agents, least
// recently assigned first.
func (r *ticketRepository) ListActiveByAssignees(ctx context.Context, agentIDs []string) ([]domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE assignee_agent_id = ANY($1) AND status IN ('open','in_progress')
        ORDER BY assigned_at ASC NULLS FIRST, id ASC`
	rows, err := r.pool.Query(ctx, query, agentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

// ListNearingBreach returns assigned, unresolved tickets with a pending deadline at or before
// horizon that has not been warned about yet.
func (r *ticketRepository) ListNearingBreach(ctx context.Context, horizon time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE status IN ('open','in_progress')
          AND assignee_agent_id IS NOT NULL
          AND ((first_response_at IS NULL AND response_warning_sent_at IS NULL AND response_due_at <= $1)
               OR (resolution_warning_sent_at IS NULL AND resolution_due_at <= $1))
        ORDER BY LEAST(COALESCE(response_due_at, resolution_due_at), resolution_due_at) ASC
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, horizon, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) MarkSLAWarningSent(ctx context.Context, id string, deadline domain.SLADeadline, at time.Time) error {
	var query string
	switch deadline {
	case domain.DeadlineResponse:
		query = `UPDATE tickets SET response_warning_sent_at=$1 WHERE id=$2 AND response_warning_sent_at IS NULL`
	case domain.DeadlineResolution:
		query = `UPDATE tickets SET resolution_warning_sent_at=$1 WHERE id=$2 AND resolution_warning_sent_at IS NULL`
	default:
		return fmt.Errorf("unknown sla deadline %q", deadline)
	}
	_, err := r.pool.Exec(ctx, query, at, id)
	return err
}

// HandledRequester lists agents that were assigned another ticket from the same requester.
func (r *ticketRepository) HandledRequester(ctx context.Context, requesterID, excludeTicketID string) ([]string, error) {
	const query = `
        SELECT DISTINCT assignee_agent_id FROM tickets
        WHERE requester_id=$1 AND id<>$2 AND assignee_agent_id IS NOT NULL`
	rows, err := r.pool.Query(ctx, query, requesterID, excludeTicketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// OpenLoadByAgent groups active tickets by (assignee, priority) in one statement so the
// counts come from a single snapshot.
func (r *ticketRepository) OpenLoadByAgent(ctx context.Context, agentIDs []string) ([]domain.PriorityCount, error) {
	return openLoad(ctx, r.pool, agentIDs, "")
}

func openLoad(ctx context.Context, q querier, agentIDs []string, excludeTicketID string) ([]domain.PriorityCount, error) {
	const query = `
        SELECT assignee_agent_id, priority, COUNT(*)
        FROM tickets
        WHERE assignee_agent_id = ANY($1) AND status IN ('open','in_progress') AND id <> $2
        GROUP BY assignee_agent_id, priority`
	rows, err := q.Query(ctx, query, agentIDs, excludeTicketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PriorityCount
	for rows.Next() {
		var row domain.PriorityCount
		if err := rows.Scan(&row.AgentID, &row.Priority, &row.Count); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.RequesterID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Subcategory,
		&ticket.Language,
		&ticket.Status,
		&ticket.Priority,
		&ticket.AssigneeID,
		&ticket.AssignedAt,
		&ticket.ResponseDueAt,
		&ticket.ResolutionDueAt,
		&ticket.FirstResponseAt,
		&ticket.ResolvedAt,
		&ticket.SatisfactionRating,
		&ticket.ResponseWarningSentAt,
		&ticket.ResolutionWarningSentAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
