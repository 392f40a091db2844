package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/observability"
)

// Outcome is the result of evaluating the active rule set against one ticket.
type Outcome struct {
	Action domain.RuleAction
	// Rule is the first fully matching rule, nil when nothing matched.
	Rule *domain.AssignmentRule
	// Skipped holds ids of malformed rules passed over during evaluation.
	Skipped []string
}

// Matched reports whether a rule produced the action.
func (o Outcome) Matched() bool {
	return o.Rule != nil
}

// Engine evaluates ordered condition/action rules.
type Engine struct {
	loc     *time.Location
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewEngine builds an engine that evaluates time conditions in timezone.
func NewEngine(timezone string, logger *zap.Logger, metrics *observability.Metrics) (*Engine, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("rules timezone: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{loc: loc, logger: logger, metrics: metrics}, nil
}

// Evaluate returns the action of the first enabled rule whose conditions all match, in
// ascending priority then creation order. No match yields Defer.
func (e *Engine) Evaluate(ticket *domain.Ticket, rules []domain.AssignmentRule) Outcome {
	outcome := Outcome{Action: domain.Defer{}}
	for _, rule := range Ordered(rules) {
		if err := Validate(rule); err != nil {
			e.skip(&outcome, rule, err)
			continue
		}
		matched, err := e.matchAll(ticket, rule.Conditions)
		if err != nil {
			e.skip(&outcome, rule, err)
			continue
		}
		if matched {
			r := rule
			outcome.Rule = &r
			outcome.Action = rule.Action
			return outcome
		}
	}
	return outcome
}

// Ordered returns the enabled rules sorted by priority, creation time, then id.
func Ordered(rules []domain.AssignmentRule) []domain.AssignmentRule {
	active := make([]domain.AssignmentRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return active
}

func (e *Engine) skip(outcome *Outcome, rule domain.AssignmentRule, err error) {
	outcome.Skipped = append(outcome.Skipped, rule.ID)
	e.logger.Warn("skipping malformed assignment rule",
		zap.String("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
		zap.Error(err),
	)
	if e.metrics != nil {
		e.metrics.RulesSkipped.Inc()
	}
}

func (e *Engine) matchAll(ticket *domain.Ticket, conds []domain.RuleCondition) (bool, error) {
	for _, cond := range conds {
		ok, err := e.match(ticket, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) match(ticket *domain.Ticket, cond domain.RuleCondition) (bool, error) {
	switch cond.Field {
	case domain.FieldPriority:
		return matchPriority(ticket.Priority, cond)
	case domain.FieldCategory:
		return matchText(ticket.Category, cond), nil
	case domain.FieldSubcategory:
		return matchText(ticket.Subcategory, cond), nil
	case domain.FieldKeyword:
		haystack := strings.ToLower(ticket.Title + "\n" + ticket.Description)
		found := strings.Contains(haystack, strings.ToLower(cond.Value))
		if cond.Operator == domain.OpNotContains {
			return !found, nil
		}
		return found, nil
	case domain.FieldTimeOfDay:
		local := ticket.CreatedAt.In(e.loc)
		return matchClock(local.Hour()*60+local.Minute(), cond)
	case domain.FieldDayOfWeek:
		return matchWeekday(ticket.CreatedAt.In(e.loc).Weekday(), cond)
	}
	return false, fmt.Errorf("unknown field %q", cond.Field)
}

func matchPriority(p domain.TicketPriority, cond domain.RuleCondition) (bool, error) {
	switch cond.Operator {
	case domain.OpAtLeast, domain.OpAtMost:
		bound := domain.TicketPriority(strings.ToLower(cond.Value)).Rank()
		if bound == 0 {
			return false, fmt.Errorf("unknown priority %q", cond.Value)
		}
		if cond.Operator == domain.OpAtLeast {
			return p.Rank() >= bound, nil
		}
		return p.Rank() <= bound, nil
	}
	return matchText(string(p), cond), nil
}

// matchText applies equality, set and substring operators case-insensitively.
func matchText(actual string, cond domain.RuleCondition) bool {
	switch cond.Operator {
	case domain.OpEquals:
		return strings.EqualFold(actual, cond.Value)
	case domain.OpNotEquals:
		return !strings.EqualFold(actual, cond.Value)
	case domain.OpIn:
		return inFold(actual, cond.Values)
	case domain.OpNotIn:
		return !inFold(actual, cond.Values)
	case domain.OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value))
	case domain.OpNotContains:
		return !strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value))
	}
	return false
}

func matchClock(minute int, cond domain.RuleCondition) (bool, error) {
	switch cond.Operator {
	case domain.OpBefore, domain.OpAfter:
		bound, err := domain.ParseClock(cond.Value)
		if err != nil {
			return false, err
		}
		if cond.Operator == domain.OpBefore {
			return minute < bound, nil
		}
		return minute >= bound, nil
	case domain.OpBetween:
		lo, err := domain.ParseClock(cond.Values[0])
		if err != nil {
			return false, err
		}
		hi, err := domain.ParseClock(cond.Values[1])
		if err != nil {
			return false, err
		}
		if lo <= hi {
			return minute >= lo && minute < hi, nil
		}
		return minute >= lo || minute < hi, nil
	}
	return false, fmt.Errorf("operator %q not supported for time_of_day", cond.Operator)
}

func matchWeekday(day time.Weekday, cond domain.RuleCondition) (bool, error) {
	in := func(values []string) (bool, error) {
		for _, v := range values {
			d, ok := config.ParseWeekday(v)
			if !ok {
				return false, fmt.Errorf("unknown weekday %q", v)
			}
			if d == day {
				return true, nil
			}
		}
		return false, nil
	}
	switch cond.Operator {
	case domain.OpEquals:
		return in([]string{cond.Value})
	case domain.OpNotEquals:
		ok, err := in([]string{cond.Value})
		return !ok, err
	case domain.OpIn:
		return in(cond.Values)
	case domain.OpNotIn:
		ok, err := in(cond.Values)
		return !ok, err
	}
	return false, fmt.Errorf("operator %q not supported for day_of_week", cond.Operator)
}

func inFold(actual string, values []string) bool {
	for _, v := range values {
		if strings.EqualFold(actual, v) {
			return true
		}
	}
	return false
}
