package domain

import "time"

// WildcardCategory matches any category in an SLA policy row.
const WildcardCategory = "*"

// SLAPolicy holds response and resolution budgets for a (priority, category) pair.
type SLAPolicy struct {
	Priority         TicketPriority
	Category         string
	ResponseBudget   time.Duration
	ResolutionBudget time.Duration
	UpdatedAt        time.Time
}

// Valid reports whether both budgets are positive.
func (p SLAPolicy) Valid() bool {
	return p.ResponseBudget > 0 && p.ResolutionBudget > 0
}

// SLADeadline names one of the two deadlines a ticket carries.
type SLADeadline string

const (
	DeadlineResponse   SLADeadline = "response"
	DeadlineResolution SLADeadline = "resolution"
)

// SLADeadlines is the result of an SLA computation.
type SLADeadlines struct {
	ResponseDue   time.Time
	ResolutionDue time.Time
	// Source describes which table row produced the budgets: "exact", "wildcard" or "default".
	Source string
}
