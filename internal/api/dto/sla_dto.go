package dto

import (
	"time"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// SLAPolicyRequest payload. An empty category stores the wildcard row.
type SLAPolicyRequest struct {
	Priority          domain.TicketPriority `json:"priority"`
	Category          string                `json:"category"`
	ResponseMinutes   int                   `json:"response_minutes"`
	ResolutionMinutes int                   `json:"resolution_minutes"`
}

// SLAPolicyResponse represents a policy row.
type SLAPolicyResponse struct {
	Priority          domain.TicketPriority `json:"priority"`
	Category          string                `json:"category"`
	ResponseMinutes   int                   `json:"response_minutes"`
	ResolutionMinutes int                   `json:"resolution_minutes"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// SLAPreviewResponse shows the deadlines a ticket would receive.
type SLAPreviewResponse struct {
	Priority        domain.TicketPriority `json:"priority"`
	Category        string                `json:"category"`
	CreatedAt       time.Time             `json:"created_at"`
	ResponseDueAt   time.Time             `json:"response_due_at"`
	ResolutionDueAt time.Time             `json:"resolution_due_at"`
	Source          string                `json:"source"`
}
