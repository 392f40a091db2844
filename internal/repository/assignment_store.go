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

// AssignmentWrite is one compare-and-swap on a ticket's assignee plus its audit entry.
type AssignmentWrite struct {
	TicketID string
	// ExpectedAssignee is the assignee the decision was computed against; nil means unassigned.
	ExpectedAssignee *string
	AgentID          string
	// Deadlines restamps the SLA columns; nil keeps the current ones.
	Deadlines *domain.SLADeadlines
	// CapacityCeiling, when positive, revalidates the agent's weighted load under a per-agent
	// lock and fails with domain.ErrCapacityExceeded if the agent is at or above it.
	CapacityCeiling float64
	// RequireUnresponded fails the write if the ticket received a first response meanwhile.
	RequireUnresponded bool
	Decision           *domain.AssignmentDecision
}

// AssignmentStore owns every write to ticket assignment state.
type AssignmentStore interface {
	CommitAssignment(ctx context.Context, w AssignmentWrite) error
	AppendDecision(ctx context.Context, decision *domain.AssignmentDecision) error
}

type assignmentStore struct {
	pool *pgxpool.Pool
}

// NewAssignmentStore instantiates the store.
func NewAssignmentStore(pool *pgxpool.Pool) AssignmentStore {
	return &assignmentStore{pool: pool}
}

func (s *assignmentStore) AppendDecision(ctx context.Context, decision *domain.AssignmentDecision) error {
	return insertDecision(ctx, s.pool, decision)
}

// CommitAssignment locks the ticket row, checks the expected assignee, optionally revalidates
// the agent's load while holding a transaction-scoped advisory lock on the agent, then updates
// the ticket and appends the decision in the same transaction.
func (s *assignmentStore) CommitAssignment(ctx context.Context, w AssignmentWrite) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var (
		assignee   *string
		status     domain.TicketStatus
		firstReply *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT assignee_agent_id, status, first_response_at FROM tickets WHERE id=$1 FOR UPDATE`,
		w.TicketID,
	).Scan(&assignee, &status, &firstReply)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrTicketNotFound
	}
	if err != nil {
		return err
	}
	if !status.Active() {
		return domain.ErrTicketClosed
	}
	if !sameAssignee(assignee, w.ExpectedAssignee) {
		return fmt.Errorf("%w: ticket %s assignee changed", domain.ErrAssignmentConflict, w.TicketID)
	}
	if w.RequireUnresponded && firstReply != nil {
		return fmt.Errorf("%w: ticket %s received a response", domain.ErrAssignmentConflict, w.TicketID)
	}

	if w.CapacityCeiling > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, w.AgentID); err != nil {
			return err
		}
		rows, err := openLoad(ctx, tx, []string{w.AgentID}, w.TicketID)
		if err != nil {
			return err
		}
		if load := domain.SumWeighted(rows)[w.AgentID]; load >= w.CapacityCeiling {
			return fmt.Errorf("%w: agent %s load %.1f", domain.ErrCapacityExceeded, w.AgentID, load)
		}
	}

	var responseDue, resolutionDue *time.Time
	if w.Deadlines != nil {
		responseDue, resolutionDue = &w.Deadlines.ResponseDue, &w.Deadlines.ResolutionDue
	}
	const update = `
        UPDATE tickets
        SET assignee_agent_id=$1,
            assigned_at=NOW(),
            response_due_at=COALESCE($2, response_due_at),
            resolution_due_at=COALESCE($3, resolution_due_at),
            response_warning_sent_at=CASE WHEN $2::timestamptz IS NULL THEN response_warning_sent_at ELSE NULL END,
            resolution_warning_sent_at=CASE WHEN $3::timestamptz IS NULL THEN resolution_warning_sent_at ELSE NULL END,
            updated_at=NOW()
        WHERE id=$4`
	if _, err := tx.Exec(ctx, update, w.AgentID, responseDue, resolutionDue, w.TicketID); err != nil {
		return err
	}

	if w.Decision != nil {
		if err := insertDecision(ctx, tx, w.Decision); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func sameAssignee(current, expected *string) bool {
	if current == nil || expected == nil {
		return current == nil && expected == nil
	}
	return *current == *expected
}
