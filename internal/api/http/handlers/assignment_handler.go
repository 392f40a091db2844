package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assignment-service/internal/api/dto"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/service"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

// Assigner is the coordinator surface used over HTTP.
type Assigner interface {
	AssignTicket(ctx context.Context, ticketID string) (*service.AssignmentResult, error)
	ReassignTicket(ctx context.Context, ticketID, reason, actor string) (*service.AssignmentResult, error)
	AssignManually(ctx context.Context, ticketID, agentID, actor string) (*service.AssignmentResult, error)
	DecisionHistory(ctx context.Context, ticketID string) ([]domain.AssignmentDecision, error)
	CurrentWorkload(ctx context.Context) ([]service.AgentLoad, error)
}

// AssignmentHandler exposes coordinator operations to administrators.
type AssignmentHandler struct {
	service Assigner
}

// NewAssignmentHandler constructs handler.
func NewAssignmentHandler(assigner Assigner) *AssignmentHandler {
	return &AssignmentHandler{service: assigner}
}

// Assign POST /tickets/:id/assign.
func (h *AssignmentHandler) Assign(c *fiber.Ctx) error {
	result, err := h.service.AssignTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": assignmentResponse(result)})
}

// Reassign POST /tickets/:id/reassign.
func (h *AssignmentHandler) Reassign(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.ReassignRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	result, err := h.service.ReassignTicket(c.UserContext(), c.Params("id"), strings.TrimSpace(req.Reason), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": assignmentResponse(result)})
}

// AssignManually POST /tickets/:id/assign/manual.
func (h *AssignmentHandler) AssignManually(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.ManualAssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return apperrors.NewValidationError("agent_id required", nil)
	}
	result, err := h.service.AssignManually(c.UserContext(), c.Params("id"), req.AgentID, principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": assignmentResponse(result)})
}

// Decisions GET /tickets/:id/decisions.
func (h *AssignmentHandler) Decisions(c *fiber.Ctx) error {
	decisions, err := h.service.DecisionHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.DecisionResponse, 0, len(decisions))
	for _, d := range decisions {
		items = append(items, dto.DecisionResponse{
			ID:              d.ID,
			TicketID:        d.TicketID,
			AgentID:         d.AgentID,
			PreviousAgentID: d.PreviousAgentID,
			Path:            d.Path,
			RuleID:          d.RuleID,
			Reason:          d.Reason,
			Actor:           d.Actor,
			Breakdown:       d.Breakdown,
			CreatedAt:       d.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// Workload GET /agents/workload.
func (h *AssignmentHandler) Workload(c *fiber.Ctx) error {
	loads, err := h.service.CurrentWorkload(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.AgentWorkloadResponse, 0, len(loads))
	for _, l := range loads {
		items = append(items, dto.AgentWorkloadResponse{
			AgentID:      l.Agent.ID,
			Name:         l.Agent.Name,
			TeamID:       l.Agent.TeamID,
			Available:    l.Agent.Available,
			Disabled:     l.Agent.Disabled,
			WeightedLoad: l.Load,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

func assignmentResponse(r *service.AssignmentResult) dto.AssignmentResponse {
	resp := dto.AssignmentResponse{
		TicketID: r.TicketID,
		Status:   string(r.Status),
		AgentID:  r.AgentID,
	}
	if r.Decision != nil {
		resp.DecisionID = r.Decision.ID
		resp.Path = r.Decision.Path
		resp.RuleID = r.Decision.RuleID
	}
	if r.Deadlines != nil {
		resp.ResponseDueAt = &r.Deadlines.ResponseDue
		resp.ResolutionDueAt = &r.Deadlines.ResolutionDue
	}
	return resp
}
