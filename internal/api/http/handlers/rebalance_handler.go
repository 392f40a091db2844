package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assignment-service/internal/api/dto"
	"github.com/spec-kit/assignment-service/internal/service"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

// RebalanceRunner triggers a rebalance pass.
type RebalanceRunner interface {
	Rebalance(ctx context.Context, scope service.RebalanceScope) (*service.RebalanceReport, error)
}

// RebalanceHandler exposes manual rebalancing.
type RebalanceHandler struct {
	service RebalanceRunner
}

// NewRebalanceHandler constructs handler.
func NewRebalanceHandler(rebalancer RebalanceRunner) *RebalanceHandler {
	return &RebalanceHandler{service: rebalancer}
}

// Run POST /rebalance.
func (h *RebalanceHandler) Run(c *fiber.Ctx) error {
	var req dto.RebalanceRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	report, err := h.service.Rebalance(c.UserContext(), service.RebalanceScope{
		TeamID:   req.TeamID,
		AgentIDs: req.AgentIDs,
		DryRun:   req.DryRun,
	})
	if err != nil {
		return err
	}
	moves := make([]dto.RebalanceMoveResponse, 0, len(report.Moves))
	for _, m := range report.Moves {
		moves = append(moves, dto.RebalanceMoveResponse{
			TicketID:    m.TicketID,
			FromAgentID: m.FromAgentID,
			ToAgentID:   m.ToAgentID,
			Weight:      m.Weight,
			Status:      string(m.Status),
			DecisionID:  m.DecisionID,
			Error:       m.Error,
		})
	}
	return c.JSON(fiber.Map{"data": dto.RebalanceResponse{
		RunID:        report.RunID,
		DryRun:       report.DryRun,
		Agents:       report.Agents,
		Overloaded:   nonNil(report.Overloaded),
		Underloaded:  nonNil(report.Underloaded),
		StdDevBefore: report.StdDevBefore,
		StdDevAfter:  report.StdDevAfter,
		Moves:        moves,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
	}})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
