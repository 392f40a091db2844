package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assignment-service/internal/api/dto"
	"github.com/spec-kit/assignment-service/internal/domain"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

// SLAManager is the SLA policy surface of the service layer.
type SLAManager interface {
	ListPolicies(ctx context.Context, actor *domain.Principal) ([]domain.SLAPolicy, error)
	UpsertPolicy(ctx context.Context, actor *domain.Principal, policy domain.SLAPolicy) (*domain.SLAPolicy, error)
	Preview(priority domain.TicketPriority, category string, createdAt time.Time) domain.SLADeadlines
}

// SLAHandler exposes SLA policy administration.
type SLAHandler struct {
	service SLAManager
	now     func() time.Time
}

// NewSLAHandler constructs handler.
func NewSLAHandler(sla SLAManager) *SLAHandler {
	return &SLAHandler{service: sla, now: time.Now}
}

// List GET /sla-policies.
func (h *SLAHandler) List(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	policies, err := h.service.ListPolicies(c.UserContext(), principal)
	if err != nil {
		return err
	}
	items := make([]dto.SLAPolicyResponse, 0, len(policies))
	for _, p := range policies {
		items = append(items, policyResponse(p))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Upsert PUT /sla-policies.
func (h *SLAHandler) Upsert(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.SLAPolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	stored, err := h.service.UpsertPolicy(c.UserContext(), principal, domain.SLAPolicy{
		Priority:         req.Priority,
		Category:         req.Category,
		ResponseBudget:   time.Duration(req.ResponseMinutes) * time.Minute,
		ResolutionBudget: time.Duration(req.ResolutionMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": policyResponse(*stored)})
}

// Preview GET /sla-policies/preview?priority=&category=&created_at=.
func (h *SLAHandler) Preview(c *fiber.Ctx) error {
	priority := domain.TicketPriority(c.Query("priority"))
	if priority == "" {
		return apperrors.NewValidationError("priority required", nil)
	}
	createdAt := h.now().UTC()
	if raw := c.Query("created_at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperrors.NewValidationError("created_at must be RFC3339", nil)
		}
		createdAt = parsed
	}
	category := c.Query("category")
	deadlines := h.service.Preview(priority, category, createdAt)
	return c.JSON(fiber.Map{"data": dto.SLAPreviewResponse{
		Priority:        priority,
		Category:        category,
		CreatedAt:       createdAt,
		ResponseDueAt:   deadlines.ResponseDue,
		ResolutionDueAt: deadlines.ResolutionDue,
		Source:          deadlines.Source,
	}})
}

func policyResponse(p domain.SLAPolicy) dto.SLAPolicyResponse {
	return dto.SLAPolicyResponse{
		Priority:          p.Priority,
		Category:          p.Category,
		ResponseMinutes:   int(p.ResponseBudget / time.Minute),
		ResolutionMinutes: int(p.ResolutionBudget / time.Minute),
		UpdatedAt:         p.UpdatedAt,
	}
}
