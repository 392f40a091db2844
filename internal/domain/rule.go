package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConditionField names a ticket attribute a rule condition can test.
type ConditionField string

const (
	FieldPriority    ConditionField = "priority"
	FieldCategory    ConditionField = "category"
	FieldSubcategory ConditionField = "subcategory"
	FieldKeyword     ConditionField = "keyword"
	FieldTimeOfDay   ConditionField = "time_of_day"
	FieldDayOfWeek   ConditionField = "day_of_week"
)

// ConditionOperator names a comparison.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpIn          ConditionOperator = "in"
	OpNotIn       ConditionOperator = "not_in"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpAtLeast     ConditionOperator = "at_least"
	OpAtMost      ConditionOperator = "at_most"
	OpBetween     ConditionOperator = "between"
	OpBefore      ConditionOperator = "before"
	OpAfter       ConditionOperator = "after"
)

// RuleCondition is a single (field, operator, value) test. Values carries the operand list
// for set operators (in, not_in) and the two bounds for between.
type RuleCondition struct {
	Field    ConditionField    `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value,omitempty"`
	Values   []string          `json:"values,omitempty"`
}

// ActionKind tags the RuleAction variant.
type ActionKind string

const (
	ActionForceAssign  ActionKind = "force_assign"
	ActionRestrictPool ActionKind = "restrict_pool"
	ActionDefer        ActionKind = "defer"
)

// RuleAction is the closed set of outcomes a matched rule can force.
// Implementations: ForceAssign, RestrictPool, Defer.
type RuleAction interface {
	Kind() ActionKind
	isRuleAction()
}

// ForceAssign routes the ticket to a specific agent, or to the best member of a group.
type ForceAssign struct {
	AgentID string
	GroupID string
}

// CandidateFilter narrows the pool handed to scoring. Empty fields do not filter.
type CandidateFilter struct {
	AgentIDs  []string `json:"agent_ids,omitempty"`
	GroupIDs  []string `json:"group_ids,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Empty reports whether the filter imposes no constraint.
func (f CandidateFilter) Empty() bool {
	return len(f.AgentIDs) == 0 && len(f.GroupIDs) == 0 && len(f.Skills) == 0 && len(f.Languages) == 0
}

// RestrictPool limits scoring to agents passing Filter.
type RestrictPool struct {
	Filter CandidateFilter
}

// Defer hands the ticket to scoring over all eligible agents.
type Defer struct{}

func (ForceAssign) Kind() ActionKind  { return ActionForceAssign }
func (RestrictPool) Kind() ActionKind { return ActionRestrictPool }
func (Defer) Kind() ActionKind        { return ActionDefer }

func (ForceAssign) isRuleAction()  {}
func (RestrictPool) isRuleAction() {}
func (Defer) isRuleAction()        {}

type actionEnvelope struct {
	Type    ActionKind       `json:"type"`
	AgentID string           `json:"agent_id,omitempty"`
	GroupID string           `json:"group_id,omitempty"`
	Filter  *CandidateFilter `json:"filter,omitempty"`
}

// MarshalAction encodes an action for storage and transport.
func MarshalAction(action RuleAction) ([]byte, error) {
	env := actionEnvelope{}
	switch a := action.(type) {
	case ForceAssign:
		env.Type = ActionForceAssign
		env.AgentID = a.AgentID
		env.GroupID = a.GroupID
	case RestrictPool:
		env.Type = ActionRestrictPool
		filter := a.Filter
		env.Filter = &filter
	case Defer, nil:
		env.Type = ActionDefer
	default:
		return nil, fmt.Errorf("unknown rule action %T", action)
	}
	return json.Marshal(env)
}

// UnmarshalAction decodes an action produced by MarshalAction.
func UnmarshalAction(data []byte) (RuleAction, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode rule action: %w", err)
	}
	switch env.Type {
	case ActionForceAssign:
		return ForceAssign{AgentID: env.AgentID, GroupID: env.GroupID}, nil
	case ActionRestrictPool:
		filter := CandidateFilter{}
		if env.Filter != nil {
			filter = *env.Filter
		}
		return RestrictPool{Filter: filter}, nil
	case ActionDefer, "":
		return Defer{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, env.Type)
	}
}

// AssignmentRule is an administrator-defined condition/action pair.
type AssignmentRule struct {
	ID         string
	Name       string
	Priority   int
	Enabled    bool
	Conditions []RuleCondition
	Action     RuleAction
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
