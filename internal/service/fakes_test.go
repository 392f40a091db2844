package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/events"
	"github.com/spec-kit/assignment-service/internal/observability"
	"github.com/spec-kit/assignment-service/internal/repository"
	"github.com/spec-kit/assignment-service/internal/rules"
	"github.com/spec-kit/assignment-service/internal/scoring"
	"github.com/spec-kit/assignment-service/internal/service"
	"github.com/spec-kit/assignment-service/internal/sla"
	"github.com/spec-kit/assignment-service/internal/workload"
)

var testNow = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) // Tuesday

func strPtr(s string) *string { return &s }

// memStore is an in-memory ticket table that honours the same compare-and-swap contract as the
// Postgres assignment store.
type memStore struct {
	mu        sync.Mutex
	tickets   map[string]*domain.Ticket
	decisions []domain.AssignmentDecision

	conflicts int // number of upcoming commits to fail with a conflict
	commits   int
}

var (
	_ repository.TicketRepository   = (*memStore)(nil)
	_ repository.AssignmentStore    = (*memStore)(nil)
	_ repository.DecisionRepository = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{tickets: map[string]*domain.Ticket{}}
}

func (m *memStore) put(t domain.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == "" {
		t.Status = domain.TicketStatusOpen
	}
	if t.Priority == "" {
		t.Priority = domain.TicketPriorityLow
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = testNow.Add(-time.Hour)
	}
	m.tickets[t.ID] = &t
}

// seedLoad gives agentID n open tickets of priority p, assigned one minute apart.
func (m *memStore) seedLoad(agentID string, n int, p domain.TicketPriority, category string) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := agentID + "-t" + string(rune('a'+i))
		assignedAt := testNow.Add(-time.Duration(n-i) * time.Minute)
		due := testNow.Add(8 * time.Hour)
		m.put(domain.Ticket{
			ID:              id,
			RequesterID:     "req-" + id,
			Category:        category,
			Priority:        p,
			AssigneeID:      strPtr(agentID),
			AssignedAt:      &assignedAt,
			ResponseDueAt:   &due,
			ResolutionDueAt: &due,
		})
		ids[i] = id
	}
	return ids
}

func (m *memStore) ticket(id string) domain.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tickets[id]
}

func (m *memStore) decisionsFor(ticketID string) []domain.AssignmentDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AssignmentDecision
	for _, d := range m.decisions {
		if d.TicketID == ticketID {
			out = append(out, d)
		}
	}
	return out
}

func (m *memStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ListActiveByAssignees(_ context.Context, agentIDs []string) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range agentIDs {
		want[id] = true
	}
	var out []domain.Ticket
	for _, t := range m.tickets {
		if t.Status.Active() && t.AssigneeID != nil && want[*t.AssigneeID] {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].AssignedAt, out[j].AssignedAt
		switch {
		case ai == nil && aj != nil:
			return true
		case ai != nil && aj == nil:
			return false
		case ai != nil && aj != nil && !ai.Equal(*aj):
			return ai.Before(*aj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) ListNearingBreach(_ context.Context, horizon time.Time, limit int) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ticket
	for _, t := range m.tickets {
		if !t.Status.Active() || t.AssigneeID == nil {
			continue
		}
		responseDue := t.FirstResponseAt == nil && t.ResponseWarningSentAt == nil &&
			t.ResponseDueAt != nil && !t.ResponseDueAt.After(horizon)
		resolutionDue := t.ResolutionWarningSentAt == nil &&
			t.ResolutionDueAt != nil && !t.ResolutionDueAt.After(horizon)
		if responseDue || resolutionDue {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkSLAWarningSent(_ context.Context, id string, deadline domain.SLADeadline, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil
	}
	switch deadline {
	case domain.DeadlineResponse:
		if t.ResponseWarningSentAt == nil {
			t.ResponseWarningSentAt = &at
		}
	case domain.DeadlineResolution:
		if t.ResolutionWarningSentAt == nil {
			t.ResolutionWarningSentAt = &at
		}
	}
	return nil
}

func (m *memStore) HandledRequester(_ context.Context, requesterID, excludeTicketID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, t := range m.tickets {
		if t.RequesterID == requesterID && t.ID != excludeTicketID && t.AssigneeID != nil && !seen[*t.AssigneeID] {
			seen[*t.AssigneeID] = true
			out = append(out, *t.AssigneeID)
		}
	}
	return out, nil
}

func (m *memStore) OpenLoadByAgent(_ context.Context, agentIDs []string) ([]domain.PriorityCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLoad(agentIDs, ""), nil
}

func (m *memStore) openLoad(agentIDs []string, exclude string) []domain.PriorityCount {
	counts := map[[2]string]int{}
	for _, id := range agentIDs {
		for _, t := range m.tickets {
			if t.ID != exclude && t.Status.Active() && t.AssignedTo(id) {
				counts[[2]string{id, string(t.Priority)}]++
			}
		}
	}
	var out []domain.PriorityCount
	for k, n := range counts {
		out = append(out, domain.PriorityCount{AgentID: k[0], Priority: domain.TicketPriority(k[1]), Count: n})
	}
	return out
}

func (m *memStore) CommitAssignment(_ context.Context, w repository.AssignmentWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrAssignmentConflict
	}
	t, ok := m.tickets[w.TicketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	if !t.Status.Active() {
		return domain.ErrTicketClosed
	}
	expected, current := "", ""
	if w.ExpectedAssignee != nil {
		expected = *w.ExpectedAssignee
	}
	if t.AssigneeID != nil {
		current = *t.AssigneeID
	}
	if expected != current || (w.RequireUnresponded && t.Responded()) {
		return domain.ErrAssignmentConflict
	}
	if w.CapacityCeiling > 0 {
		load := domain.SumWeighted(m.openLoad([]string{w.AgentID}, w.TicketID))[w.AgentID]
		if load >= w.CapacityCeiling {
			return domain.ErrCapacityExceeded
		}
	}
	agent := w.AgentID
	at := testNow
	t.AssigneeID = &agent
	t.AssignedAt = &at
	if w.Deadlines != nil {
		resp, res := w.Deadlines.ResponseDue, w.Deadlines.ResolutionDue
		t.ResponseDueAt = &resp
		t.ResolutionDueAt = &res
		t.ResponseWarningSentAt = nil
		t.ResolutionWarningSentAt = nil
	}
	m.appendLocked(w.Decision)
	return nil
}

func (m *memStore) AppendDecision(_ context.Context, d *domain.AssignmentDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(d)
	return nil
}

func (m *memStore) Create(ctx context.Context, d *domain.AssignmentDecision) error {
	return m.AppendDecision(ctx, d)
}

func (m *memStore) appendLocked(d *domain.AssignmentDecision) {
	if d.Actor == "" {
		d.Actor = events.SystemActor
	}
	d.CreatedAt = testNow.Add(time.Duration(len(m.decisions)) * time.Millisecond)
	m.decisions = append(m.decisions, *d)
}

func (m *memStore) ListByTicket(_ context.Context, ticketID string) ([]domain.AssignmentDecision, error) {
	return m.decisionsFor(ticketID), nil
}

type memAgents struct {
	mu     sync.Mutex
	agents []domain.Agent
	err    error
}

func (a *memAgents) List(context.Context) ([]domain.Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return append([]domain.Agent(nil), a.agents...), nil
}

func (a *memAgents) GetByID(_ context.Context, id string) (*domain.Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	for _, ag := range a.agents {
		if ag.ID == id {
			cp := ag
			return &cp, nil
		}
	}
	return nil, domain.ErrAgentNotFound
}

type memPerformance struct {
	metrics map[string]domain.AgentPerformance
	err     error
}

func (p memPerformance) Performance(_ context.Context, ids []string, _ time.Time) (map[string]domain.AgentPerformance, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := map[string]domain.AgentPerformance{}
	for _, id := range ids {
		if m, ok := p.metrics[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

type staticRules []domain.AssignmentRule

func (r staticRules) Rules(context.Context) ([]domain.AssignmentRule, error) {
	return r, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) ofType(t events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func agent(id string, skills ...string) domain.Agent {
	return domain.Agent{
		ID:        id,
		Name:      id,
		Role:      domain.AgentRoleAgent,
		Available: true,
		Skills:    skills,
	}
}

func assignmentConfig() config.AssignmentConfig {
	return config.AssignmentConfig{
		Weights:           config.DefaultScoringWeights(),
		CapacityCeiling:   10,
		SkillBaseline:     0.3,
		LanguageBonus:     0.05,
		ProviderTimeout:   time.Second,
		MetricsWindowDays: 30,
		RulesTimezone:     "UTC",
	}
}

type harness struct {
	store      *memStore
	agents     *memAgents
	dispatcher events.Dispatcher
	events     *eventLog
	publisher  *recordingPublisher
	metrics    *observability.Metrics
	directory  *service.DirectoryReader
	workload   *workload.Aggregator
	svc        *service.AssignmentService
	cfg        config.AssignmentConfig
}

type harnessOption func(*config.AssignmentConfig, *staticRules)

func withCeiling(c float64) harnessOption {
	return func(cfg *config.AssignmentConfig, _ *staticRules) { cfg.CapacityCeiling = c }
}

func withRules(rs ...domain.AssignmentRule) harnessOption {
	return func(_ *config.AssignmentConfig, r *staticRules) { *r = rs }
}

func newHarness(t *testing.T, agents []domain.Agent, opts ...harnessOption) *harness {
	t.Helper()
	cfg := assignmentConfig()
	var ruleSet staticRules
	for _, opt := range opts {
		opt(&cfg, &ruleSet)
	}

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := newMemStore()
	dir := &memAgents{agents: agents}
	dispatcher := events.NewInMemoryDispatcher(logger)
	log := &eventLog{}
	for _, et := range []events.EventType{
		events.EventTicketAssigned,
		events.EventTicketUnassigned,
		events.EventSLABreachImminent,
		events.EventRebalanceCompleted,
	} {
		dispatcher.Subscribe(et, log.record)
	}
	publisher := &recordingPublisher{}
	service.NewNotificationService(dispatcher, publisher, logger, config.NotificationConfig{
		Channel:        "notifications",
		AdminRecipient: "admins",
	}).RegisterHandlers()

	engine, err := rules.NewEngine(cfg.RulesTimezone, logger, metrics)
	require.NoError(t, err)
	scorer, err := scoring.NewEngine(cfg)
	require.NoError(t, err)
	calc, err := sla.NewCalculator(config.SLAConfig{Clock: config.SLAClockCalendar}, logger, metrics)
	require.NoError(t, err)

	now := func() time.Time { return testNow }
	directory := service.NewDirectoryReader(dir, time.Second, logger, metrics)
	agg := workload.NewAggregator(store, now)
	svc := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:      store,
		Store:           store,
		DecisionRepo:    store,
		PerformanceRepo: memPerformance{},
		Directory:       directory,
		Workload:        agg,
		Rules:           ruleSet,
		RuleEngine:      engine,
		Scorer:          scorer,
		SLA:             calc,
		Dispatcher:      dispatcher,
		Logger:          logger,
		Metrics:         metrics,
		Config:          cfg,
		Now:             now,
	})

	return &harness{
		store:      store,
		agents:     dir,
		dispatcher: dispatcher,
		events:     log,
		publisher:  publisher,
		metrics:    metrics,
		directory:  directory,
		workload:   agg,
		svc:        svc,
		cfg:        cfg,
	}
}
