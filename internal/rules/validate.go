package rules

import (
	"fmt"
	"strings"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
)

// ValidationError lists every problem found in a rule definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrInvalidRule
}

var fieldOperators = map[domain.ConditionField][]domain.ConditionOperator{
	domain.FieldPriority:    {domain.OpEquals, domain.OpNotEquals, domain.OpIn, domain.OpNotIn, domain.OpAtLeast, domain.OpAtMost},
	domain.FieldCategory:    {domain.OpEquals, domain.OpNotEquals, domain.OpIn, domain.OpNotIn, domain.OpContains, domain.OpNotContains},
	domain.FieldSubcategory: {domain.OpEquals, domain.OpNotEquals, domain.OpIn, domain.OpNotIn, domain.OpContains, domain.OpNotContains},
	domain.FieldKeyword:     {domain.OpContains, domain.OpNotContains},
	domain.FieldTimeOfDay:   {domain.OpBefore, domain.OpAfter, domain.OpBetween},
	domain.FieldDayOfWeek:   {domain.OpEquals, domain.OpNotEquals, domain.OpIn, domain.OpNotIn},
}

// Validate checks a rule definition. The returned error wraps domain.ErrInvalidRule.
func Validate(rule domain.AssignmentRule) error {
	var problems []string
	if strings.TrimSpace(rule.Name) == "" {
		problems = append(problems, "name is required")
	}
	if rule.Priority < 0 {
		problems = append(problems, "priority must not be negative")
	}
	for i, cond := range rule.Conditions {
		if err := ValidateCondition(cond); err != nil {
			problems = append(problems, fmt.Sprintf("condition %d: %v", i, err))
		}
	}
	if err := ValidateAction(rule.Action); err != nil {
		problems = append(problems, fmt.Sprintf("action: %v", err))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateCondition checks operator compatibility and operand shape for one condition.
func ValidateCondition(cond domain.RuleCondition) error {
	ops, ok := fieldOperators[cond.Field]
	if !ok {
		return fmt.Errorf("unknown field %q", cond.Field)
	}
	if !containsOp(ops, cond.Operator) {
		return fmt.Errorf("operator %q not supported for field %q", cond.Operator, cond.Field)
	}

	operands, err := operandsOf(cond)
	if err != nil {
		return err
	}
	for _, v := range operands {
		if err := checkOperand(cond.Field, v); err != nil {
			return err
		}
	}
	return nil
}

// operandsOf returns the operand list the operator consumes.
func operandsOf(cond domain.RuleCondition) ([]string, error) {
	switch cond.Operator {
	case domain.OpIn, domain.OpNotIn:
		if len(cond.Values) == 0 {
			return nil, fmt.Errorf("operator %q requires values", cond.Operator)
		}
		return cond.Values, nil
	case domain.OpBetween:
		if len(cond.Values) != 2 {
			return nil, fmt.Errorf("operator %q requires exactly two values", cond.Operator)
		}
		return cond.Values, nil
	default:
		if strings.TrimSpace(cond.Value) == "" {
			return nil, fmt.Errorf("operator %q requires a value", cond.Operator)
		}
		return []string{cond.Value}, nil
	}
}

func checkOperand(field domain.ConditionField, value string) error {
	switch field {
	case domain.FieldPriority:
		if !domain.TicketPriority(strings.ToLower(value)).Valid() {
			return fmt.Errorf("unknown priority %q", value)
		}
	case domain.FieldTimeOfDay:
		if _, err := domain.ParseClock(value); err != nil {
			return err
		}
	case domain.FieldDayOfWeek:
		if _, ok := config.ParseWeekday(value); !ok {
			return fmt.Errorf("unknown weekday %q", value)
		}
	default:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("empty operand for field %q", field)
		}
	}
	return nil
}

// ValidateAction checks the action variant carries a usable target.
func ValidateAction(action domain.RuleAction) error {
	switch a := action.(type) {
	case nil:
		return fmt.Errorf("action is required")
	case domain.ForceAssign:
		hasAgent := strings.TrimSpace(a.AgentID) != ""
		hasGroup := strings.TrimSpace(a.GroupID) != ""
		if hasAgent == hasGroup {
			return fmt.Errorf("force_assign needs exactly one of agent_id or group_id")
		}
	case domain.RestrictPool:
		if a.Filter.Empty() {
			return fmt.Errorf("restrict_pool needs a non-empty filter")
		}
	case domain.Defer:
	default:
		return fmt.Errorf("unsupported action %T", action)
	}
	return nil
}

func containsOp(ops []domain.ConditionOperator, op domain.ConditionOperator) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
