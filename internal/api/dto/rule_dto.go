package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// RuleRequest payload for creating or replacing a rule. Action uses the stored encoding:
// {"type":"force_assign","agent_id":"..."}, {"type":"restrict_pool","filter":{...}} or
// {"type":"defer"}.
type RuleRequest struct {
	Name       string                 `json:"name"`
	Priority   int                    `json:"priority"`
	Enabled    *bool                  `json:"enabled"`
	Conditions []domain.RuleCondition `json:"conditions"`
	Action     json.RawMessage        `json:"action"`
}

// RuleEnabledRequest toggles a rule.
type RuleEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// RuleResponse represents a stored rule.
type RuleResponse struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Priority   int                    `json:"priority"`
	Enabled    bool                   `json:"enabled"`
	Conditions []domain.RuleCondition `json:"conditions"`
	Action     json.RawMessage        `json:"action"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}
