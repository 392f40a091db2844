package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assignment-service/internal/api/dto"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/service"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

// RuleManager is the rule administration surface of the service layer.
type RuleManager interface {
	ListRules(ctx context.Context, actor *domain.Principal) ([]domain.AssignmentRule, error)
	GetRule(ctx context.Context, actor *domain.Principal, id string) (*domain.AssignmentRule, error)
	CreateRule(ctx context.Context, actor *domain.Principal, in service.RuleInput) (*domain.AssignmentRule, error)
	UpdateRule(ctx context.Context, actor *domain.Principal, id string, in service.RuleInput) (*domain.AssignmentRule, error)
	SetRuleEnabled(ctx context.Context, actor *domain.Principal, id string, enabled bool) (*domain.AssignmentRule, error)
	DeleteRule(ctx context.Context, actor *domain.Principal, id string) error
}

// RulesHandler exposes rule CRUD.
type RulesHandler struct {
	service RuleManager
}

// NewRulesHandler constructs handler.
func NewRulesHandler(rules RuleManager) *RulesHandler {
	return &RulesHandler{service: rules}
}

// List GET /rules.
func (h *RulesHandler) List(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	list, err := h.service.ListRules(c.UserContext(), principal)
	if err != nil {
		return err
	}
	items := make([]dto.RuleResponse, 0, len(list))
	for i := range list {
		item, err := ruleResponse(&list[i])
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /rules/:id.
func (h *RulesHandler) Get(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	rule, err := h.service.GetRule(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, rule)
}

// Create POST /rules.
func (h *RulesHandler) Create(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	input, err := parseRuleRequest(c)
	if err != nil {
		return err
	}
	rule, err := h.service.CreateRule(c.UserContext(), principal, input)
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusCreated, rule)
}

// Update PUT /rules/:id.
func (h *RulesHandler) Update(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	input, err := parseRuleRequest(c)
	if err != nil {
		return err
	}
	rule, err := h.service.UpdateRule(c.UserContext(), principal, c.Params("id"), input)
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, rule)
}

// SetEnabled PATCH /rules/:id/enabled.
func (h *RulesHandler) SetEnabled(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.RuleEnabledRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Enabled == nil {
		return apperrors.NewValidationError("enabled required", nil)
	}
	rule, err := h.service.SetRuleEnabled(c.UserContext(), principal, c.Params("id"), *req.Enabled)
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, rule)
}

// Delete DELETE /rules/:id.
func (h *RulesHandler) Delete(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteRule(c.UserContext(), principal, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func (h *RulesHandler) respond(c *fiber.Ctx, status int, rule *domain.AssignmentRule) error {
	body, err := ruleResponse(rule)
	if err != nil {
		return err
	}
	return c.Status(status).JSON(fiber.Map{"data": body})
}

func parseRuleRequest(c *fiber.Ctx) (service.RuleInput, error) {
	var req dto.RuleRequest
	if err := c.BodyParser(&req); err != nil {
		return service.RuleInput{}, apperrors.NewValidationError("invalid payload", nil)
	}
	input := service.RuleInput{
		Name:       strings.TrimSpace(req.Name),
		Priority:   req.Priority,
		Enabled:    req.Enabled == nil || *req.Enabled,
		Conditions: req.Conditions,
	}
	// A missing action is left nil so validation reports it with the other problems.
	if len(req.Action) > 0 && string(req.Action) != "null" {
		action, err := domain.UnmarshalAction(req.Action)
		if err != nil {
			return service.RuleInput{}, apperrors.NewValidationError("invalid action", map[string]any{"action": err.Error()})
		}
		input.Action = action
	}
	return input, nil
}

func ruleResponse(rule *domain.AssignmentRule) (dto.RuleResponse, error) {
	action, err := domain.MarshalAction(rule.Action)
	if err != nil {
		return dto.RuleResponse{}, apperrors.NewInternalError(err)
	}
	conditions := rule.Conditions
	if conditions == nil {
		conditions = []domain.RuleCondition{}
	}
	return dto.RuleResponse{
		ID:         rule.ID,
		Name:       rule.Name,
		Priority:   rule.Priority,
		Enabled:    rule.Enabled,
		Conditions: conditions,
		Action:     json.RawMessage(action),
		CreatedAt:  rule.CreatedAt,
		UpdatedAt:  rule.UpdatedAt,
	}, nil
}
