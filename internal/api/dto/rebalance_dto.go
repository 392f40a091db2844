package dto

import "time"

// RebalanceRequest payload. Empty scope means every active agent.
type RebalanceRequest struct {
	TeamID   string   `json:"team_id"`
	AgentIDs []string `json:"agent_ids"`
	DryRun   bool     `json:"dry_run"`
}

// RebalanceMoveResponse is one planned or executed move.
type RebalanceMoveResponse struct {
	TicketID    string  `json:"ticket_id"`
	FromAgentID string  `json:"from_agent_id"`
	ToAgentID   string  `json:"to_agent_id"`
	Weight      float64 `json:"weight"`
	Status      string  `json:"status"`
	DecisionID  string  `json:"decision_id,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// RebalanceResponse summarizes a run.
type RebalanceResponse struct {
	RunID        string                  `json:"run_id"`
	DryRun       bool                    `json:"dry_run"`
	Agents       int                     `json:"agents"`
	Overloaded   []string                `json:"overloaded"`
	Underloaded  []string                `json:"underloaded"`
	StdDevBefore float64                 `json:"stddev_before"`
	StdDevAfter  float64                 `json:"stddev_after"`
	Moves        []RebalanceMoveResponse `json:"moves"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
}
