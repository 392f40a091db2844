package events

import (
	"time"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	// Consumed from the ticket service.
	EventTicketCreated    EventType = "ticket_created"
	EventTicketReassigned EventType = "ticket_reassigned"

	// Emitted by the assignment core.
	EventTicketAssigned     EventType = "ticket_assigned"
	EventTicketUnassigned   EventType = "ticket_unassigned"
	EventSLABreachImminent  EventType = "sla_breach_imminent"
	EventRebalanceCompleted EventType = "rebalance_completed"
)

// SystemActor marks events produced without a human actor.
const SystemActor = "system"

// Event represents a domain event flowing through the dispatcher.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     string      `json:"actor,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// TicketReassignedPayload payload.
type TicketReassignedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	DecisionID      string              `json:"decision_id"`
	AgentID         string              `json:"agent_id"`
	PreviousAgentID *string             `json:"previous_agent_id,omitempty"`
	Path            domain.DecisionPath `json:"path"`
	RuleID          *string             `json:"rule_id,omitempty"`
	ResponseDueAt   *time.Time          `json:"response_due_at,omitempty"`
	ResolutionDueAt *time.Time          `json:"resolution_due_at,omitempty"`
}

// TicketUnassignedPayload payload.
type TicketUnassignedPayload struct {
	DecisionID string                `json:"decision_id"`
	Reason     string                `json:"reason"`
	Priority   domain.TicketPriority `json:"priority"`
	Category   string                `json:"category"`
	Candidates int                   `json:"candidates"`
}

// SLABreachImminentPayload payload.
type SLABreachImminentPayload struct {
	AgentID         string                `json:"agent_id"`
	Priority        domain.TicketPriority `json:"priority"`
	Deadline        domain.SLADeadline    `json:"deadline"`
	DueAt           time.Time             `json:"due_at"`
	ResponseDueAt   *time.Time            `json:"response_due_at,omitempty"`
	ResolutionDueAt *time.Time            `json:"resolution_due_at,omitempty"`
}

// RebalanceCompletedPayload payload.
type RebalanceCompletedPayload struct {
	RunID        string  `json:"run_id"`
	Moves        int     `json:"moves"`
	StdDevBefore float64 `json:"stddev_before"`
	StdDevAfter  float64 `json:"stddev_after"`
	DryRun       bool    `json:"dry_run"`
}
