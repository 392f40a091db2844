package service_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/repository"
	"github.com/spec-kit/assignment-service/internal/service"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

type memRules struct {
	mu    sync.Mutex
	rules map[string]domain.AssignmentRule
}

var _ repository.RuleRepository = (*memRules)(nil)

func (m *memRules) List(context.Context) ([]domain.AssignmentRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AssignmentRule
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRules) ListEnabled(ctx context.Context) ([]domain.AssignmentRule, error) {
	all, _ := m.List(ctx)
	var out []domain.AssignmentRule
	for _, r := range all {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRules) GetByID(_ context.Context, id string) (*domain.AssignmentRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return &r, nil
}

// priorityTaken mirrors the partial unique index on enabled rule priorities.
func (m *memRules) priorityTaken(rule *domain.AssignmentRule) bool {
	if !rule.Enabled {
		return false
	}
	for id, r := range m.rules {
		if id != rule.ID && r.Enabled && r.Priority == rule.Priority {
			return true
		}
	}
	return false
}

func (m *memRules) Create(_ context.Context, rule *domain.AssignmentRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if m.priorityTaken(rule) {
		return repository.ErrRulePriorityTaken
	}
	rule.CreatedAt, rule.UpdatedAt = testNow, testNow
	m.rules[rule.ID] = *rule
	return nil
}

func (m *memRules) Update(_ context.Context, rule *domain.AssignmentRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return domain.ErrRuleNotFound
	}
	if m.priorityTaken(rule) {
		return repository.ErrRulePriorityTaken
	}
	m.rules[rule.ID] = *rule
	return nil
}

func (m *memRules) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return domain.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) { c.calls++ }

var (
	admin     = &domain.Principal{SubjectID: "admin-1", Role: domain.AgentRoleAdmin}
	nonAdmin  = &domain.Principal{SubjectID: "agent-1", Role: domain.AgentRoleAgent}
	validRule = service.RuleInput{
		Name:     "urgent security",
		Priority: 1,
		Enabled:  true,
		Conditions: []domain.RuleCondition{
			{Field: domain.FieldPriority, Operator: domain.OpEquals, Value: "urgent"},
		},
		Action: domain.ForceAssign{AgentID: "lead"},
	}
)

func newRuleService() (*service.RuleService, *memRules, *countingInvalidator) {
	repo := &memRules{rules: map[string]domain.AssignmentRule{}}
	inv := &countingInvalidator{}
	return service.NewRuleService(repo, inv, zap.NewNop()), repo, inv
}

func TestCreateRuleInvalidatesCache(t *testing.T) {
	svc, repo, inv := newRuleService()

	rule, err := svc.CreateRule(context.Background(), admin, validRule)
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Contains(t, repo.rules, rule.ID)
	assert.Equal(t, 1, inv.calls)
}

func TestCreateRuleRejections(t *testing.T) {
	tests := map[string]struct {
		actor  *domain.Principal
		input  func(in service.RuleInput) service.RuleInput
		status int
	}{
		"non admin": {
			actor:  nonAdmin,
			status: http.StatusForbidden,
		},
		"operator not valid for field": {
			actor: admin,
			input: func(in service.RuleInput) service.RuleInput {
				in.Conditions = []domain.RuleCondition{{Field: domain.FieldKeyword, Operator: domain.OpAtLeast, Value: "x"}}
				return in
			},
			status: http.StatusUnprocessableEntity,
		},
		"force assign without target": {
			actor: admin,
			input: func(in service.RuleInput) service.RuleInput {
				in.Action = domain.ForceAssign{}
				return in
			},
			status: http.StatusUnprocessableEntity,
		},
		"missing action": {
			actor: admin,
			input: func(in service.RuleInput) service.RuleInput {
				in.Action = nil
				return in
			},
			status: http.StatusUnprocessableEntity,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			svc, repo, inv := newRuleService()
			in := validRule
			if tc.input != nil {
				in = tc.input(in)
			}
			_, err := svc.CreateRule(context.Background(), tc.actor, in)
			require.Error(t, err)
			assert.Equal(t, tc.status, httpStatus(err))
			assert.Empty(t, repo.rules)
			assert.Zero(t, inv.calls)
		})
	}
}

func TestCreateRuleReportsEveryProblem(t *testing.T) {
	svc, _, _ := newRuleService()
	in := validRule
	in.Name = ""
	in.Action = nil

	_, err := svc.CreateRule(context.Background(), admin, in)
	derr := apperrors.ToDomainError(err)
	require.NotNil(t, derr)
	assert.Equal(t, "CONFIGURATION_ERROR", derr.Code)
	assert.Len(t, derr.Details["problems"], 2)
}

func TestDuplicateEnabledPriorityRejected(t *testing.T) {
	svc, _, _ := newRuleService()
	_, err := svc.CreateRule(context.Background(), admin, validRule)
	require.NoError(t, err)

	second := validRule
	second.Name = "another"
	_, err = svc.CreateRule(context.Background(), admin, second)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, httpStatus(err))

	second.Enabled = false
	_, err = svc.CreateRule(context.Background(), admin, second)
	assert.NoError(t, err)
}

func TestUpdateToggleDeleteRule(t *testing.T) {
	svc, repo, inv := newRuleService()
	rule, err := svc.CreateRule(context.Background(), admin, validRule)
	require.NoError(t, err)

	update := validRule
	update.Priority = 5
	updated, err := svc.UpdateRule(context.Background(), admin, rule.ID, update)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Priority)

	toggled, err := svc.SetRuleEnabled(context.Background(), admin, rule.ID, false)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)
	assert.False(t, repo.rules[rule.ID].Enabled)

	require.NoError(t, svc.DeleteRule(context.Background(), admin, rule.ID))
	assert.Empty(t, repo.rules)
	assert.Equal(t, 4, inv.calls)

	err = svc.DeleteRule(context.Background(), admin, rule.ID)
	assert.Equal(t, http.StatusNotFound, httpStatus(err))
	_, err = svc.UpdateRule(context.Background(), admin, "missing", validRule)
	assert.Equal(t, http.StatusNotFound, httpStatus(err))
}
