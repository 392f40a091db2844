package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/api/http/handlers"
	"github.com/spec-kit/assignment-service/internal/auth"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/events"
	"github.com/spec-kit/assignment-service/internal/service"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

func newApp(t *testing.T) (*fiber.App, fiber.Handler, string) {
	t.Helper()
	tokens := auth.NewTokenManager("secret", 5)
	token, _, err := tokens.GenerateToken("admin-1", domain.AgentRoleAdmin)
	require.NoError(t, err)
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			d := apperrors.ToDomainError(err)
			return c.Status(d.HTTPStatus).JSON(fiber.Map{"error": fiber.Map{"code": d.Code, "details": d.Details}})
		},
	})
	return app, auth.NewAuthMiddleware(tokens).Handle, token
}

func do(t *testing.T, app *fiber.App, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

type recordingRules struct {
	input   service.RuleInput
	actor   *domain.Principal
	enabled *bool
}

func (r *recordingRules) ListRules(context.Context, *domain.Principal) ([]domain.AssignmentRule, error) {
	return nil, nil
}

func (r *recordingRules) GetRule(context.Context, *domain.Principal, string) (*domain.AssignmentRule, error) {
	return nil, nil
}

func (r *recordingRules) CreateRule(_ context.Context, actor *domain.Principal, in service.RuleInput) (*domain.AssignmentRule, error) {
	r.input, r.actor = in, actor
	return &domain.AssignmentRule{ID: "r1", Name: in.Name, Priority: in.Priority, Enabled: in.Enabled, Conditions: in.Conditions, Action: in.Action}, nil
}

func (r *recordingRules) UpdateRule(_ context.Context, _ *domain.Principal, id string, in service.RuleInput) (*domain.AssignmentRule, error) {
	r.input = in
	return &domain.AssignmentRule{ID: id, Action: in.Action}, nil
}

func (r *recordingRules) SetRuleEnabled(_ context.Context, _ *domain.Principal, id string, enabled bool) (*domain.AssignmentRule, error) {
	r.enabled = &enabled
	return &domain.AssignmentRule{ID: id, Enabled: enabled}, nil
}

func (r *recordingRules) DeleteRule(context.Context, *domain.Principal, string) error { return nil }

func TestCreateRuleDecodesAction(t *testing.T) {
	app, authn, token := newApp(t)
	rules := &recordingRules{}
	h := handlers.NewRulesHandler(rules)
	app.Post("/rules", authn, h.Create)

	resp, body := do(t, app, http.MethodPost, "/rules", token, `{
		"name": " billing to finance ",
		"priority": 3,
		"conditions": [{"field": "category", "operator": "equals", "value": "Billing"}],
		"action": {"type": "restrict_pool", "filter": {"group_ids": ["finance"]}}
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, "billing to finance", rules.input.Name)
	assert.True(t, rules.input.Enabled, "enabled defaults to true")
	assert.Equal(t, "admin-1", rules.actor.SubjectID)
	assert.Equal(t, domain.RestrictPool{Filter: domain.CandidateFilter{GroupIDs: []string{"finance"}}}, rules.input.Action)

	data := body["data"].(map[string]any)
	assert.Equal(t, "r1", data["id"])
	assert.Equal(t, "restrict_pool", data["action"].(map[string]any)["type"])
}

func TestCreateRulePayloadErrors(t *testing.T) {
	tests := map[string]struct {
		body   string
		status int
		action bool
	}{
		"malformed json":      {body: `{`, status: http.StatusBadRequest},
		"unknown action type": {body: `{"name":"x","action":{"type":"escalate"}}`, status: http.StatusBadRequest},
		"missing action":      {body: `{"name":"x"}`, status: http.StatusCreated},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			app, authn, token := newApp(t)
			rules := &recordingRules{}
			app.Post("/rules", authn, handlers.NewRulesHandler(rules).Create)

			resp, _ := do(t, app, http.MethodPost, "/rules", token, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status == http.StatusCreated {
				assert.Nil(t, rules.input.Action, "left for validation to report")
			}
		})
	}
}

func TestSetRuleEnabledRequiresFlag(t *testing.T) {
	app, authn, token := newApp(t)
	rules := &recordingRules{}
	app.Patch("/rules/:id/enabled", authn, handlers.NewRulesHandler(rules).SetEnabled)

	resp, _ := do(t, app, http.MethodPatch, "/rules/r1/enabled", token, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, rules.enabled)

	resp, body := do(t, app, http.MethodPatch, "/rules/r1/enabled", token, `{"enabled":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, rules.enabled)
	assert.False(t, *rules.enabled)
	assert.Equal(t, false, body["data"].(map[string]any)["enabled"])
}

func TestRulesHandlerWithoutPrincipal(t *testing.T) {
	app, _, _ := newApp(t)
	app.Get("/rules", handlers.NewRulesHandler(&recordingRules{}).List)

	resp, _ := do(t, app, http.MethodGet, "/rules", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type recordingSLA struct {
	policy    domain.SLAPolicy
	createdAt time.Time
}

func (r *recordingSLA) ListPolicies(context.Context, *domain.Principal) ([]domain.SLAPolicy, error) {
	return []domain.SLAPolicy{{Priority: domain.TicketPriorityHigh, Category: "*", ResponseBudget: time.Hour, ResolutionBudget: 8 * time.Hour}}, nil
}

func (r *recordingSLA) UpsertPolicy(_ context.Context, _ *domain.Principal, p domain.SLAPolicy) (*domain.SLAPolicy, error) {
	r.policy = p
	return &p, nil
}

func (r *recordingSLA) Preview(_ domain.TicketPriority, _ string, createdAt time.Time) domain.SLADeadlines {
	r.createdAt = createdAt
	return domain.SLADeadlines{ResponseDue: createdAt.Add(time.Hour), ResolutionDue: createdAt.Add(4 * time.Hour), Source: "exact"}
}

func TestSLAHandler(t *testing.T) {
	app, authn, token := newApp(t)
	sla := &recordingSLA{}
	h := handlers.NewSLAHandler(sla)
	app.Get("/sla-policies", authn, h.List)
	app.Put("/sla-policies", authn, h.Upsert)
	app.Get("/sla-policies/preview", authn, h.Preview)

	resp, body := do(t, app, http.MethodGet, "/sla-policies", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := body["data"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(480), rows[0].(map[string]any)["resolution_minutes"])

	resp, _ = do(t, app, http.MethodPut, "/sla-policies", token, `{"priority":"urgent","category":"Security","response_minutes":15,"resolution_minutes":240}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 15*time.Minute, sla.policy.ResponseBudget)
	assert.Equal(t, 4*time.Hour, sla.policy.ResolutionBudget)

	resp, body = do(t, app, http.MethodGet, "/sla-policies/preview?priority=high&created_at=2024-03-05T10:00:00Z", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), sla.createdAt)
	assert.Equal(t, "2024-03-05T11:00:00Z", body["data"].(map[string]any)["response_due_at"])

	resp, _ = do(t, app, http.MethodGet, "/sla-policies/preview?priority=high&created_at=yesterday", token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type recordingAssigner struct {
	reason string
	actor  string
	agent  string
}

func (r *recordingAssigner) AssignTicket(_ context.Context, id string) (*service.AssignmentResult, error) {
	agent := "agent-a"
	due := time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC)
	return &service.AssignmentResult{
		TicketID:  id,
		Status:    service.StatusAssigned,
		AgentID:   &agent,
		Decision:  &domain.AssignmentDecision{ID: "d1", Path: domain.PathScoring},
		Deadlines: &domain.SLADeadlines{ResponseDue: due, ResolutionDue: due.Add(time.Hour)},
	}, nil
}

func (r *recordingAssigner) ReassignTicket(_ context.Context, id, reason, actor string) (*service.AssignmentResult, error) {
	r.reason, r.actor = reason, actor
	return &service.AssignmentResult{TicketID: id, Status: service.StatusUnassigned}, nil
}

func (r *recordingAssigner) AssignManually(_ context.Context, id, agentID, actor string) (*service.AssignmentResult, error) {
	r.agent, r.actor = agentID, actor
	return &service.AssignmentResult{TicketID: id, Status: service.StatusAssigned, AgentID: &agentID}, nil
}

func (r *recordingAssigner) DecisionHistory(_ context.Context, id string) ([]domain.AssignmentDecision, error) {
	return []domain.AssignmentDecision{{ID: "d1", TicketID: id, Path: domain.PathManual, Actor: "admin-1"}}, nil
}

func (r *recordingAssigner) CurrentWorkload(context.Context) ([]service.AgentLoad, error) {
	return []service.AgentLoad{{Agent: domain.Agent{ID: "agent-a", Available: true}, Load: 4.5}}, nil
}

func TestAssignmentHandler(t *testing.T) {
	app, authn, token := newApp(t)
	assigner := &recordingAssigner{}
	h := handlers.NewAssignmentHandler(assigner)
	app.Post("/tickets/:id/assign", authn, h.Assign)
	app.Post("/tickets/:id/reassign", authn, h.Reassign)
	app.Post("/tickets/:id/assign/manual", authn, h.AssignManually)
	app.Get("/tickets/:id/decisions", authn, h.Decisions)
	app.Get("/agents/workload", authn, h.Workload)

	resp, body := do(t, app, http.MethodPost, "/tickets/t1/assign", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "assigned", data["status"])
	assert.Equal(t, "agent-a", data["agent_id"])
	assert.Equal(t, "scoring", data["path"])
	assert.Equal(t, "2024-03-05T11:00:00Z", data["response_due_at"])

	resp, body = do(t, app, http.MethodPost, "/tickets/t1/reassign", token, `{"reason":" escalation "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "escalation", assigner.reason)
	assert.Equal(t, "admin-1", assigner.actor)
	assert.Nil(t, body["data"].(map[string]any)["agent_id"])

	resp, _ = do(t, app, http.MethodPost, "/tickets/t1/assign/manual", token, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, app, http.MethodPost, "/tickets/t1/assign/manual", token, `{"agent_id":"agent-b"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "agent-b", assigner.agent)

	resp, body = do(t, app, http.MethodGet, "/tickets/t1/decisions", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)

	resp, body = do(t, app, http.MethodGet, "/agents/workload", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4.5, body["data"].([]any)[0].(map[string]any)["weighted_load"])
}

type scopeRecorder struct{ scope service.RebalanceScope }

func (s *scopeRecorder) Rebalance(_ context.Context, scope service.RebalanceScope) (*service.RebalanceReport, error) {
	s.scope = scope
	return &service.RebalanceReport{
		RunID:      "run-1",
		DryRun:     scope.DryRun,
		Overloaded: []string{"agent-a"},
		Moves:      []service.RebalanceMove{{TicketID: "t1", FromAgentID: "agent-a", ToAgentID: "agent-b", Weight: 1, Status: service.MoveProposed}},
	}, nil
}

func TestRebalanceHandlerPassesScope(t *testing.T) {
	app, _, _ := newApp(t)
	rec := &scopeRecorder{}
	app.Post("/rebalance", handlers.NewRebalanceHandler(rec).Run)

	resp, body := do(t, app, http.MethodPost, "/rebalance", "", `{"team_id":"tier1","dry_run":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, service.RebalanceScope{TeamID: "tier1", DryRun: true}, rec.scope)

	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["dry_run"])
	assert.Equal(t, []any{}, data["underloaded"])
	assert.Equal(t, "proposed", data["moves"].([]any)[0].(map[string]any)["status"])
}

func TestEventsWebhookDispatches(t *testing.T) {
	app, mw, token := newApp(t)
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	var got []events.Event
	dispatcher.Subscribe(events.EventTicketReassigned, func(_ context.Context, e events.Event) error {
		got = append(got, e)
		return nil
	})
	app.Post("/events/tickets", mw, handlers.NewEventsHandler(dispatcher).Ingest)

	resp, _ := do(t, app, http.MethodPost, "/events/tickets", token, `{"type":"ticket_reassigned","ticket_id":"t7","reason":"vacation","actor":"someone-else"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, got, 1)
	assert.Equal(t, "t7", got[0].TicketID)
	assert.Equal(t, events.TicketReassignedPayload{Reason: "vacation"}, got[0].Payload)
	assert.Equal(t, "admin-1", got[0].Actor, "actor comes from the token, not the body")

	resp, _ = do(t, app, http.MethodPost, "/events/tickets", token, `{"type":"ticket_closed","ticket_id":"t7"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, got, 1)
}

func TestEventsWebhookRequiresCaller(t *testing.T) {
	app, _, _ := newApp(t)
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	var got []events.Event
	dispatcher.Subscribe(events.EventTicketReassigned, func(_ context.Context, e events.Event) error {
		got = append(got, e)
		return nil
	})
	app.Post("/events/tickets", handlers.NewEventsHandler(dispatcher).Ingest)

	resp, _ := do(t, app, http.MethodPost, "/events/tickets", "", `{"type":"ticket_reassigned","ticket_id":"t1","actor":"admin-1","reason":"spoof"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, got)
}
