package dto

import (
	"time"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// ReassignRequest payload.
type ReassignRequest struct {
	Reason string `json:"reason"`
}

// ManualAssignRequest payload.
type ManualAssignRequest struct {
	AgentID string `json:"agent_id"`
}

// AssignmentResponse reports one coordinator run.
type AssignmentResponse struct {
	TicketID        string              `json:"ticket_id"`
	Status          string              `json:"status"`
	AgentID         *string             `json:"agent_id"`
	DecisionID      string              `json:"decision_id,omitempty"`
	Path            domain.DecisionPath `json:"path,omitempty"`
	RuleID          *string             `json:"rule_id,omitempty"`
	ResponseDueAt   *time.Time          `json:"response_due_at,omitempty"`
	ResolutionDueAt *time.Time          `json:"resolution_due_at,omitempty"`
}

// DecisionResponse is one audit entry.
type DecisionResponse struct {
	ID              string                           `json:"id"`
	TicketID        string                           `json:"ticket_id"`
	AgentID         *string                          `json:"agent_id"`
	PreviousAgentID *string                          `json:"previous_agent_id"`
	Path            domain.DecisionPath              `json:"path"`
	RuleID          *string                          `json:"rule_id"`
	Reason          string                           `json:"reason"`
	Actor           string                           `json:"actor"`
	Breakdown       map[string]domain.ScoreBreakdown `json:"breakdown"`
	CreatedAt       time.Time                        `json:"created_at"`
}

// AgentWorkloadResponse is one row of the workload view.
type AgentWorkloadResponse struct {
	AgentID      string  `json:"agent_id"`
	Name         string  `json:"name"`
	TeamID       *string `json:"team_id"`
	Available    bool    `json:"available"`
	Disabled     bool    `json:"disabled"`
	WeightedLoad float64 `json:"weighted_load"`
}
