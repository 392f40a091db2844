package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// Active reports whether the status counts toward workload and may be (re)assigned.
func (s TicketStatus) Active() bool {
	return s == TicketStatusOpen || s == TicketStatusInProgress
}

// ActiveStatuses lists the statuses that count toward an agent's workload.
var ActiveStatuses = []TicketStatus{TicketStatusOpen, TicketStatusInProgress}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Priorities lists every priority from least to most urgent.
var Priorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityMedium,
	TicketPriorityHigh,
	TicketPriorityUrgent,
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	return p.Rank() > 0
}

// Rank orders priorities; low=1 .. urgent=4, unknown=0.
func (p TicketPriority) Rank() int {
	switch p {
	case TicketPriorityLow:
		return 1
	case TicketPriorityMedium:
		return 2
	case TicketPriorityHigh:
		return 3
	case TicketPriorityUrgent:
		return 4
	default:
		return 0
	}
}

// Weight is the workload weight contributed by one open ticket of this priority.
func (p TicketPriority) Weight() float64 {
	switch p {
	case TicketPriorityUrgent:
		return 3
	case TicketPriorityHigh:
		return 2
	case TicketPriorityMedium:
		return 1.5
	default:
		return 1
	}
}

// Ticket is the slice of the support ticket aggregate the assignment core reads and writes.
// Assignment and SLA fields are written only through the assignment store.
type Ticket struct {
	ID                 string
	RequesterID        string
	Title              string
	Description        string
	Category           string
	Subcategory        string
	Language           string
	Status             TicketStatus
	Priority           TicketPriority
	AssigneeID         *string
	AssignedAt         *time.Time
	ResponseDueAt      *time.Time
	ResolutionDueAt    *time.Time
	FirstResponseAt    *time.Time
	ResolvedAt         *time.Time
	SatisfactionRating *float64
	// Breach warnings already sent, one per deadline.
	ResponseWarningSentAt   *time.Time
	ResolutionWarningSentAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Responded reports whether an agent already engaged with the ticket.
func (t *Ticket) Responded() bool {
	return t.FirstResponseAt != nil
}

// AssignedTo reports whether the ticket is currently assigned to agentID.
func (t *Ticket) AssignedTo(agentID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == agentID
}
