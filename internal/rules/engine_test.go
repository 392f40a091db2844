package rules_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/observability"
	"github.com/spec-kit/assignment-service/internal/rules"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // Monday

func newEngine(t *testing.T) *rules.Engine {
	t.Helper()
	engine, err := rules.NewEngine("UTC", zap.NewNop(), observability.NewMetrics())
	require.NoError(t, err)
	return engine
}

func cond(field domain.ConditionField, op domain.ConditionOperator, value string, values ...string) domain.RuleCondition {
	return domain.RuleCondition{Field: field, Operator: op, Value: value, Values: values}
}

func rule(id string, priority int, action domain.RuleAction, conds ...domain.RuleCondition) domain.AssignmentRule {
	return domain.AssignmentRule{
		ID:         id,
		Name:       id,
		Priority:   priority,
		Enabled:    true,
		Conditions: conds,
		Action:     action,
		CreatedAt:  base,
	}
}

func TestEvaluateUrgentSecurityForcesLead(t *testing.T) {
	engine := newEngine(t)
	ticket := &domain.Ticket{
		ID:        "t1",
		Priority:  domain.TicketPriorityUrgent,
		Category:  "Security",
		Title:     "Suspicious login",
		CreatedAt: base,
	}
	set := []domain.AssignmentRule{
		rule("billing", 5, domain.RestrictPool{Filter: domain.CandidateFilter{Skills: []string{"billing"}}},
			cond(domain.FieldCategory, domain.OpEquals, "Billing")),
		rule("security", 1, domain.ForceAssign{AgentID: "security-team-lead"},
			cond(domain.FieldPriority, domain.OpEquals, "urgent"),
			cond(domain.FieldCategory, domain.OpEquals, "security")),
	}

	outcome := engine.Evaluate(ticket, set)
	require.True(t, outcome.Matched())
	assert.Equal(t, "security", outcome.Rule.ID)
	assert.Equal(t, domain.ForceAssign{AgentID: "security-team-lead"}, outcome.Action)
}

func TestEvaluateOrdering(t *testing.T) {
	engine := newEngine(t)
	ticket := &domain.Ticket{ID: "t1", Priority: domain.TicketPriorityHigh, Category: "Network", CreatedAt: base}
	matchAll := cond(domain.FieldPriority, domain.OpAtLeast, "medium")

	older := rule("older", 3, domain.ForceAssign{AgentID: "older"}, matchAll)
	newer := rule("newer", 3, domain.ForceAssign{AgentID: "newer"}, matchAll)
	newer.CreatedAt = base.Add(time.Minute)
	first := rule("first", 1, domain.ForceAssign{AgentID: "first"},
		cond(domain.FieldCategory, domain.OpEquals, "Billing"))
	disabled := rule("disabled", 0, domain.ForceAssign{AgentID: "disabled"}, matchAll)
	disabled.Enabled = false

	tests := map[string]struct {
		set      []domain.AssignmentRule
		expected string
	}{
		"UnmetConditionDoesNotShortCircuit": {set: []domain.AssignmentRule{first, older}, expected: "older"},
		"CreationOrderBreaksPriorityTie":    {set: []domain.AssignmentRule{newer, older}, expected: "older"},
		"DisabledRulesIgnored":              {set: []domain.AssignmentRule{disabled, newer}, expected: "newer"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			outcome := engine.Evaluate(ticket, tc.set)
			require.True(t, outcome.Matched())
			assert.Equal(t, tc.expected, outcome.Rule.ID)
		})
	}
}

func TestEvaluateNoMatchDefers(t *testing.T) {
	engine := newEngine(t)
	ticket := &domain.Ticket{ID: "t1", Priority: domain.TicketPriorityLow, Category: "General", CreatedAt: base}
	set := []domain.AssignmentRule{
		rule("urgent-only", 1, domain.ForceAssign{AgentID: "x"}, cond(domain.FieldPriority, domain.OpEquals, "urgent")),
	}

	outcome := engine.Evaluate(ticket, set)
	assert.False(t, outcome.Matched())
	assert.Equal(t, domain.Defer{}, outcome.Action)
	assert.Empty(t, outcome.Skipped)
}

func TestEvaluateSkipsMalformedRule(t *testing.T) {
	engine := newEngine(t)
	ticket := &domain.Ticket{ID: "t1", Priority: domain.TicketPriorityHigh, Category: "Network", CreatedAt: base}
	set := []domain.AssignmentRule{
		rule("broken-field", 1, domain.ForceAssign{AgentID: "x"}, cond("planet", domain.OpEquals, "mars")),
		rule("broken-action", 2, domain.ForceAssign{}, cond(domain.FieldCategory, domain.OpEquals, "Network")),
		rule("good", 3, domain.RestrictPool{Filter: domain.CandidateFilter{Skills: []string{"network"}}},
			cond(domain.FieldCategory, domain.OpEquals, "Network")),
	}

	outcome := engine.Evaluate(ticket, set)
	require.True(t, outcome.Matched())
	assert.Equal(t, "good", outcome.Rule.ID)
	assert.Equal(t, []string{"broken-field", "broken-action"}, outcome.Skipped)
}

func TestConditionOperators(t *testing.T) {
	engine := newEngine(t)
	ticket := &domain.Ticket{
		ID:          "t1",
		Priority:    domain.TicketPriorityHigh,
		Category:    "Network",
		Subcategory: "VPN",
		Title:       "Network Outage in Berlin office",
		Description: "All users lost connectivity",
		CreatedAt:   time.Date(2026, 3, 7, 22, 30, 0, 0, time.UTC), // Saturday
	}

	tests := map[string]struct {
		cond     domain.RuleCondition
		expected bool
	}{
		"PriorityAtLeastHigh":      {cond(domain.FieldPriority, domain.OpAtLeast, "high"), true},
		"PriorityAtMostMedium":     {cond(domain.FieldPriority, domain.OpAtMost, "medium"), false},
		"PriorityIn":               {cond(domain.FieldPriority, domain.OpIn, "", "urgent", "high"), true},
		"CategoryNotEquals":        {cond(domain.FieldCategory, domain.OpNotEquals, "network"), false},
		"SubcategoryNotIn":         {cond(domain.FieldSubcategory, domain.OpNotIn, "", "wifi", "lan"), true},
		"CategoryContains":         {cond(domain.FieldCategory, domain.OpContains, "work"), true},
		"KeywordInTitle":           {cond(domain.FieldKeyword, domain.OpContains, "outage"), true},
		"KeywordInDescription":     {cond(domain.FieldKeyword, domain.OpContains, "CONNECTIVITY"), true},
		"KeywordNotContains":       {cond(domain.FieldKeyword, domain.OpNotContains, "printer"), true},
		"TimeAfter":                {cond(domain.FieldTimeOfDay, domain.OpAfter, "18:00"), true},
		"TimeBefore":               {cond(domain.FieldTimeOfDay, domain.OpBefore, "18:00"), false},
		"TimeBetweenOvernight":     {cond(domain.FieldTimeOfDay, domain.OpBetween, "", "22:00", "06:00"), true},
		"TimeBetweenBusinessDay":   {cond(domain.FieldTimeOfDay, domain.OpBetween, "", "09:00", "17:00"), false},
		"DayOfWeekWeekend":         {cond(domain.FieldDayOfWeek, domain.OpIn, "", "sat", "sunday"), true},
		"DayOfWeekNotEqualsSat":    {cond(domain.FieldDayOfWeek, domain.OpNotEquals, "Saturday"), false},
		"DayOfWeekEqualsMonday":    {cond(domain.FieldDayOfWeek, domain.OpEquals, "mon"), false},
		"CategoryEqualsIgnoreCase": {cond(domain.FieldCategory, domain.OpEquals, "NETWORK"), true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			outcome := engine.Evaluate(ticket, []domain.AssignmentRule{rule("r", 1, domain.Defer{}, tc.cond)})
			assert.Equal(t, tc.expected, outcome.Matched())
			assert.Empty(t, outcome.Skipped)
		})
	}
}

func TestTimeConditionsUseConfiguredTimezone(t *testing.T) {
	engine, err := rules.NewEngine("America/New_York", zap.NewNop(), nil)
	require.NoError(t, err)
	// 14:00 UTC is 09:00 in New York on this date.
	ticket := &domain.Ticket{ID: "t1", Priority: domain.TicketPriorityLow, CreatedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)}

	outcome := engine.Evaluate(ticket, []domain.AssignmentRule{
		rule("morning", 1, domain.Defer{}, cond(domain.FieldTimeOfDay, domain.OpBefore, "10:00")),
	})
	assert.True(t, outcome.Matched())
}
