package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/repository"
	"github.com/spec-kit/assignment-service/internal/rules"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

// CacheInvalidator drops cached rule sets on this and peer instances.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// RuleInput carries an administrator's rule definition.
type RuleInput struct {
	Name       string
	Priority   int
	Enabled    bool
	Conditions []domain.RuleCondition
	Action     domain.RuleAction
}

// RuleService manages assignment rules. Every write is validated before it is stored and
// invalidates the rule cache once committed.
type RuleService struct {
	rules       repository.RuleRepository
	invalidator CacheInvalidator
	logger      *zap.Logger
}

// NewRuleService constructs the service.
func NewRuleService(repo repository.RuleRepository, invalidator CacheInvalidator, logger *zap.Logger) *RuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{rules: repo, invalidator: invalidator, logger: logger}
}

// ListRules returns every rule, enabled or not.
func (s *RuleService) ListRules(ctx context.Context, actor *domain.Principal) ([]domain.AssignmentRule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	list, err := s.rules.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// GetRule fetches one rule.
func (s *RuleService) GetRule(ctx context.Context, actor *domain.Principal, id string) (*domain.AssignmentRule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, mapRuleError(err, id)
	}
	return rule, nil
}

// CreateRule validates and stores a new rule.
func (s *RuleService) CreateRule(ctx context.Context, actor *domain.Principal, in RuleInput) (*domain.AssignmentRule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rule := &domain.AssignmentRule{
		Name:       in.Name,
		Priority:   in.Priority,
		Enabled:    in.Enabled,
		Conditions: in.Conditions,
		Action:     in.Action,
	}
	if err := rules.Validate(*rule); err != nil {
		return nil, mapRuleError(err, "")
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, mapRuleError(err, "")
	}
	s.changed(ctx, "created", rule.ID, actor)
	return rule, nil
}

// UpdateRule replaces the definition of an existing rule.
func (s *RuleService) UpdateRule(ctx context.Context, actor *domain.Principal, id string, in RuleInput) (*domain.AssignmentRule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rule := &domain.AssignmentRule{
		ID:         id,
		Name:       in.Name,
		Priority:   in.Priority,
		Enabled:    in.Enabled,
		Conditions: in.Conditions,
		Action:     in.Action,
	}
	if err := rules.Validate(*rule); err != nil {
		return nil, mapRuleError(err, id)
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, mapRuleError(err, id)
	}
	s.changed(ctx, "updated", id, actor)
	return rule, nil
}

// SetRuleEnabled toggles a rule without touching its definition.
func (s *RuleService) SetRuleEnabled(ctx context.Context, actor *domain.Principal, id string, enabled bool) (*domain.AssignmentRule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, mapRuleError(err, id)
	}
	if rule.Enabled == enabled {
		return rule, nil
	}
	rule.Enabled = enabled
	if enabled {
		// a stored rule may predate the current validation rules
		if err := rules.Validate(*rule); err != nil {
			return nil, mapRuleError(err, id)
		}
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, mapRuleError(err, id)
	}
	s.changed(ctx, "toggled", id, actor)
	return rule, nil
}

// DeleteRule removes a rule.
func (s *RuleService) DeleteRule(ctx context.Context, actor *domain.Principal, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, id); err != nil {
		return mapRuleError(err, id)
	}
	s.changed(ctx, "deleted", id, actor)
	return nil
}

func (s *RuleService) changed(ctx context.Context, op, id string, actor *domain.Principal) {
	s.logger.Info("assignment rule "+op, zap.String("rule_id", id), zap.String("actor", actor.SubjectID))
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
}

func mapRuleError(err error, id string) error {
	var invalid *rules.ValidationError
	switch {
	case errors.As(err, &invalid):
		return apperrors.NewConfigurationError("rule rejected", map[string]any{"problems": invalid.Problems})
	case errors.Is(err, repository.ErrRulePriorityTaken):
		return apperrors.NewConfigurationError("rule rejected", map[string]any{
			"problems": []string{"priority already used by another enabled rule"},
		})
	case errors.Is(err, domain.ErrInvalidRule):
		return apperrors.NewConfigurationError("rule rejected", map[string]any{"problems": []string{err.Error()}})
	case errors.Is(err, domain.ErrRuleNotFound):
		return apperrors.NewNotFound("rule", map[string]any{"rule_id": id})
	}
	return apperrors.MapError(err)
}
