package domain

import "time"

// DecisionPath records how an assignment outcome was reached.
type DecisionPath string

const (
	PathRuleMatch DecisionPath = "rule_match"
	PathScoring   DecisionPath = "scoring"
	PathManual    DecisionPath = "manual"
	PathRebalance DecisionPath = "rebalance"
)

// Decision reasons shared by the coordinator and rebalancer.
const (
	ReasonNoEligibleAgent = "no eligible agent"
	// ReasonNoAlternativeAgent marks a reassignment that found nobody else; the decision names
	// the agent who keeps the ticket.
	ReasonNoAlternativeAgent = "no alternative agent"
	ReasonRebalance       = "rebalance"
)

// ScoreBreakdown is the per-component contribution for one candidate.
type ScoreBreakdown struct {
	Workload      float64 `json:"workload"`
	Performance   float64 `json:"performance"`
	Availability  float64 `json:"availability"`
	Skill         float64 `json:"skill"`
	History       float64 `json:"history"`
	LanguageBonus float64 `json:"language_bonus"`
	Total         float64 `json:"total"`
	// WeightedLoad is the agent's weighted open-ticket count the score was computed from.
	WeightedLoad float64  `json:"weighted_load"`
	Degraded     []string `json:"degraded,omitempty"`
}

// AssignmentDecision is an immutable audit entry. AgentID is nil when the ticket was left
// unassigned.
type AssignmentDecision struct {
	ID              string
	TicketID        string
	AgentID         *string
	PreviousAgentID *string
	Path            DecisionPath
	RuleID          *string
	Breakdown       map[string]ScoreBreakdown
	Reason          string
	Actor           string
	CreatedAt       time.Time
}
