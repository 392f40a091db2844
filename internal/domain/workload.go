package domain

import "time"

// PriorityCount is one (agent, priority) bucket of active assigned tickets.
type PriorityCount struct {
	AgentID  string
	Priority TicketPriority
	Count    int
}

// WorkloadSnapshot is a derived, point-in-time view of weighted open-ticket counts.
// It is not persisted and must not outlive a single assignment decision.
type WorkloadSnapshot struct {
	TakenAt time.Time
	Loads   map[string]float64
}

// Load returns the weighted load of agentID, zero when unknown.
func (s WorkloadSnapshot) Load(agentID string) float64 {
	return s.Loads[agentID]
}

// SumWeighted folds priority buckets into weighted loads per agent.
func SumWeighted(rows []PriorityCount) map[string]float64 {
	loads := make(map[string]float64, len(rows))
	for _, row := range rows {
		loads[row.AgentID] += float64(row.Count) * row.Priority.Weight()
	}
	return loads
}
