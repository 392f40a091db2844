package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/events"
	"github.com/spec-kit/assignment-service/internal/observability"
	"github.com/spec-kit/assignment-service/internal/repository"
	"github.com/spec-kit/assignment-service/internal/rules"
	"github.com/spec-kit/assignment-service/internal/scoring"
	"github.com/spec-kit/assignment-service/internal/sla"
	"github.com/spec-kit/assignment-service/internal/workload"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

// AssignmentStatus is the outcome of one coordinator run.
type AssignmentStatus string

const (
	StatusAssigned        AssignmentStatus = "assigned"
	StatusUnassigned      AssignmentStatus = "unassigned"
	StatusAlreadyAssigned AssignmentStatus = "already_assigned"
	// StatusRetained is a reassignment that kept the current assignee for lack of alternatives.
	StatusRetained AssignmentStatus = "retained"
)

// AssignmentResult reports what a run did.
type AssignmentResult struct {
	TicketID  string
	Status    AssignmentStatus
	AgentID   *string
	Decision  *domain.AssignmentDecision
	Deadlines *domain.SLADeadlines
}

// RuleSource supplies the active rule set.
type RuleSource interface {
	Rules(ctx context.Context) ([]domain.AssignmentRule, error)
}

// AgentLoad is one row of the workload view.
type AgentLoad struct {
	Agent domain.Agent
	Load  float64
}

// AssignmentService coordinates rules, scoring, the atomic write, SLA stamping and audit.
type AssignmentService struct {
	tickets     repository.TicketRepository
	store       repository.AssignmentStore
	decisions   repository.DecisionRepository
	performance repository.PerformanceRepository
	directory   *DirectoryReader
	workload    *workload.Aggregator
	rules       RuleSource
	engine      *rules.Engine
	scorer      *scoring.Engine
	sla         *sla.Calculator
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	cfg         config.AssignmentConfig
	now         func() time.Time
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TicketRepo      repository.TicketRepository
	Store           repository.AssignmentStore
	DecisionRepo    repository.DecisionRepository
	PerformanceRepo repository.PerformanceRepository
	Directory       *DirectoryReader
	Workload        *workload.Aggregator
	Rules           RuleSource
	RuleEngine      *rules.Engine
	Scorer          *scoring.Engine
	SLA             *sla.Calculator
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
	Metrics         *observability.Metrics
	Config          config.AssignmentConfig
	Now             func() time.Time
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		tickets:     deps.TicketRepo,
		store:       deps.Store,
		decisions:   deps.DecisionRepo,
		performance: deps.PerformanceRepo,
		directory:   deps.Directory,
		workload:    deps.Workload,
		rules:       deps.Rules,
		engine:      deps.RuleEngine,
		scorer:      deps.Scorer,
		sla:         deps.SLA,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		metrics:     deps.Metrics,
		cfg:         deps.Config,
		now:         now,
	}
}

// RegisterHandlers subscribes the coordinator to ticket lifecycle events.
func (s *AssignmentService) RegisterHandlers() {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Subscribe(events.EventTicketCreated, s.handleTicketCreated)
	s.dispatcher.Subscribe(events.EventTicketReassigned, s.handleTicketReassigned)
}

func (s *AssignmentService) handleTicketCreated(ctx context.Context, event events.Event) error {
	_, err := s.AssignTicket(ctx, event.TicketID)
	return err
}

func (s *AssignmentService) handleTicketReassigned(ctx context.Context, event events.Event) error {
	reason := ""
	if p, ok := event.Payload.(events.TicketReassignedPayload); ok {
		reason = p.Reason
	}
	_, err := s.ReassignTicket(ctx, event.TicketID, reason, event.Actor)
	return err
}

// AssignTicket runs the coordinator for a newly created ticket. A ticket that already has an
// assignee is left untouched.
func (s *AssignmentService) AssignTicket(ctx context.Context, ticketID string) (*AssignmentResult, error) {
	return s.withRetry(ctx, ticketID, func() (*AssignmentResult, error) {
		return s.decide(ctx, run{ticketID: ticketID, actor: events.SystemActor})
	})
}

// ReassignTicket moves a ticket away from its current assignee through rules and scoring.
func (s *AssignmentService) ReassignTicket(ctx context.Context, ticketID, reason, actor string) (*AssignmentResult, error) {
	if actor == "" {
		actor = events.SystemActor
	}
	return s.withRetry(ctx, ticketID, func() (*AssignmentResult, error) {
		return s.decide(ctx, run{ticketID: ticketID, reassign: true, reason: reason, actor: actor})
	})
}

// AssignManually assigns a ticket to agentID, bypassing rules, scoring and capacity, through the
// same atomic write and audit path.
func (s *AssignmentService) AssignManually(ctx context.Context, ticketID, agentID, actor string) (*AssignmentResult, error) {
	agent, err := s.directory.Agent(ctx, agentID)
	if err != nil {
		return nil, s.mapError(ticketID, err)
	}
	if !agent.Assignable() {
		return nil, s.mapError(ticketID, domain.ErrAgentDisabled)
	}
	return s.withRetry(ctx, ticketID, func() (*AssignmentResult, error) {
		ticket, err := s.loadAssignable(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		if ticket.AssignedTo(agentID) {
			return &AssignmentResult{TicketID: ticketID, Status: StatusAlreadyAssigned, AgentID: ticket.AssigneeID}, nil
		}
		decision := &domain.AssignmentDecision{
			TicketID:        ticketID,
			AgentID:         &agent.ID,
			PreviousAgentID: ticket.AssigneeID,
			Path:            domain.PathManual,
			Reason:          "manual override",
			Actor:           actor,
		}
		return s.commit(ctx, ticket, agent.ID, decision, 0)
	})
}

// Move is one rebalance reassignment.
type Move struct {
	TicketID           string
	FromAgentID        string
	ToAgentID          string
	RequireUnresponded bool
	RunID              string
}

// MoveTicket executes a rebalance move through the compare-and-swap path. The ticket must still
// belong to FromAgentID. SLA deadlines are kept.
func (s *AssignmentService) MoveTicket(ctx context.Context, m Move) (*domain.AssignmentDecision, error) {
	from := m.FromAgentID
	to := m.ToAgentID
	decision := &domain.AssignmentDecision{
		ID:              uuid.NewString(),
		TicketID:        m.TicketID,
		AgentID:         &to,
		PreviousAgentID: &from,
		Path:            domain.PathRebalance,
		Reason:          domain.ReasonRebalance,
		Actor:           "rebalancer:" + m.RunID,
	}
	err := s.store.CommitAssignment(ctx, repository.AssignmentWrite{
		TicketID:           m.TicketID,
		ExpectedAssignee:   &from,
		AgentID:            to,
		CapacityCeiling:    s.cfg.CapacityCeiling,
		RequireUnresponded: m.RequireUnresponded,
		Decision:           decision,
	})
	if err != nil {
		return nil, err
	}
	s.countDecision(domain.PathRebalance, StatusAssigned)
	s.publishAssigned(ctx, decision, nil)
	return decision, nil
}

// DecisionHistory lists the audit trail of a ticket in commit order.
func (s *AssignmentService) DecisionHistory(ctx context.Context, ticketID string) ([]domain.AssignmentDecision, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, s.mapError(ticketID, err)
	}
	decisions, err := s.decisions.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return decisions, nil
}

// CurrentWorkload returns the weighted load of every agent in the directory.
func (s *AssignmentService) CurrentWorkload(ctx context.Context) ([]AgentLoad, error) {
	roster, _, err := s.directory.Roster(ctx)
	if err != nil {
		return nil, apperrors.NewServiceUnavailable("agent directory unavailable", err)
	}
	ids := make([]string, len(roster))
	for i, a := range roster {
		ids[i] = a.ID
	}
	snap, err := s.workload.Snapshot(ctx, ids)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	out := make([]AgentLoad, len(roster))
	for i, a := range roster {
		out[i] = AgentLoad{Agent: a, Load: snap.Load(a.ID)}
	}
	return out, nil
}

type run struct {
	ticketID string
	reassign bool
	reason   string
	actor    string
}

// withRetry retries fn once on a lost compare-and-swap, then surfaces a retryable conflict.
func (s *AssignmentService) withRetry(ctx context.Context, ticketID string, fn func() (*AssignmentResult, error)) (*AssignmentResult, error) {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.AssignmentDuration.Observe(s.now().Sub(start).Seconds())
		}
	}()

	result, err := fn()
	if errors.Is(err, domain.ErrAssignmentConflict) {
		s.conflict(ticketID, err)
		result, err = fn()
		if errors.Is(err, domain.ErrAssignmentConflict) {
			s.conflict(ticketID, err)
		}
	}
	if err != nil {
		return nil, s.mapError(ticketID, err)
	}
	return result, nil
}

func (s *AssignmentService) conflict(ticketID string, err error) {
	s.logger.Warn("assignment conflict", zap.String("ticket_id", ticketID), zap.Error(err))
	if s.metrics != nil {
		s.metrics.AssignmentConflicts.Inc()
	}
}

func (s *AssignmentService) loadAssignable(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.Status.Active() {
		return nil, domain.ErrTicketClosed
	}
	return ticket, nil
}

// decide is one attempt: rules, then scoring, then the conditional write.
func (s *AssignmentService) decide(ctx context.Context, r run) (*AssignmentResult, error) {
	ticket, err := s.loadAssignable(ctx, r.ticketID)
	if err != nil {
		return nil, err
	}
	if !r.reassign && ticket.AssigneeID != nil {
		return &AssignmentResult{TicketID: ticket.ID, Status: StatusAlreadyAssigned, AgentID: ticket.AssigneeID}, nil
	}
	exclude := ""
	if r.reassign && ticket.AssigneeID != nil {
		exclude = *ticket.AssigneeID
	}

	outcome := s.evaluateRules(ctx, ticket)
	var ruleID *string
	if outcome.Rule != nil {
		id := outcome.Rule.ID
		ruleID = &id
	}

	roster, degraded, err := s.directory.Roster(ctx)
	if err != nil {
		s.logger.Error("no agent roster available", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return s.unassigned(ctx, ticket, r, ruleID, scoring.Ranking{})
	}

	pool := eligible(roster, exclude)
	switch action := outcome.Action.(type) {
	case domain.ForceAssign:
		if action.AgentID != "" {
			if result, handled, err := s.forceAgent(ctx, ticket, r, action.AgentID, exclude, ruleID); handled {
				return result, err
			}
		} else if ranking := s.rank(ctx, ticket, inGroup(pool, action.GroupID), degraded); !ranking.Empty() {
			return s.commitRanked(ctx, ticket, r, ranking, domain.PathRuleMatch, ruleID)
		} else {
			s.logger.Warn("force-assign group has no eligible member, scoring full pool",
				zap.String("ticket_id", ticket.ID),
				zap.String("group_id", action.GroupID))
		}
	case domain.RestrictPool:
		pool = restrict(pool, action.Filter)
	}

	ranking := s.rank(ctx, ticket, pool, degraded)
	return s.commitRanked(ctx, ticket, r, ranking, domain.PathScoring, ruleID)
}

// forceAgent writes a rule-forced agent. handled is false when the target is unusable and
// the caller should score the full pool instead.
func (s *AssignmentService) forceAgent(ctx context.Context, ticket *domain.Ticket, r run, agentID, exclude string, ruleID *string) (*AssignmentResult, bool, error) {
	agent, err := s.directory.Agent(ctx, agentID)
	switch {
	case err != nil:
		s.logger.Warn("force-assign target unavailable, scoring full pool",
			zap.String("ticket_id", ticket.ID), zap.String("agent_id", agentID), zap.Error(err))
		return nil, false, nil
	case !agent.Assignable():
		s.logger.Warn("force-assign target disabled, scoring full pool",
			zap.String("ticket_id", ticket.ID), zap.String("agent_id", agentID))
		return nil, false, nil
	case agent.ID == exclude:
		return nil, false, nil
	}
	decision := &domain.AssignmentDecision{
		TicketID:        ticket.ID,
		AgentID:         &agent.ID,
		PreviousAgentID: ticket.AssigneeID,
		Path:            domain.PathRuleMatch,
		RuleID:          ruleID,
		Reason:          s.reason(r, "rule forced assignment"),
		Actor:           r.actor,
	}
	result, err := s.commit(ctx, ticket, agent.ID, decision, 0)
	return result, true, err
}

func (s *AssignmentService) evaluateRules(ctx context.Context, ticket *domain.Ticket) rules.Outcome {
	active, err := s.rules.Rules(ctx)
	if err != nil {
		s.logger.Warn("rules unavailable, deferring to scoring", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return rules.Outcome{Action: domain.Defer{}}
	}
	return s.engine.Evaluate(ticket, active)
}

// rank gathers provider inputs concurrently under the provider timeout and scores pool.
func (s *AssignmentService) rank(ctx context.Context, ticket *domain.Ticket, pool []domain.Agent, degraded bool) scoring.Ranking {
	if len(pool) == 0 {
		return scoring.Ranking{}
	}
	ids := make([]string, len(pool))
	for i, a := range pool {
		ids[i] = a.ID
	}

	pctx, cancel := withTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	var (
		g       errgroup.Group
		loads   map[string]float64
		perf    map[string]domain.AgentPerformance
		history map[string]bool
	)
	g.Go(func() error {
		snap, err := s.workload.Snapshot(pctx, ids)
		if err != nil {
			degradeProvider(s.logger, s.metrics, "workload", err)
			return nil
		}
		loads = snap.Loads
		return nil
	})
	g.Go(func() error {
		since := s.now().AddDate(0, 0, -s.cfg.MetricsWindowDays)
		p, err := s.performance.Performance(pctx, ids, since)
		if err != nil {
			degradeProvider(s.logger, s.metrics, "performance", err)
			return nil
		}
		perf = p
		return nil
	})
	g.Go(func() error {
		handled, err := s.tickets.HandledRequester(pctx, ticket.RequesterID, ticket.ID)
		if err != nil {
			degradeProvider(s.logger, s.metrics, "history", err)
			return nil
		}
		history = make(map[string]bool, len(handled))
		for _, id := range handled {
			history[id] = true
		}
		return nil
	})
	_ = g.Wait()

	return s.scorer.Rank(scoring.Input{
		Ticket:            ticket,
		Candidates:        pool,
		Workload:          loads,
		Performance:       perf,
		History:           history,
		DirectoryDegraded: degraded,
		Now:               s.now(),
	})
}

// commitRanked tries candidates best first. A candidate that filled up since the snapshot is
// skipped; an empty or exhausted ranking leaves the ticket unassigned.
func (s *AssignmentService) commitRanked(ctx context.Context, ticket *domain.Ticket, r run, ranking scoring.Ranking, path domain.DecisionPath, ruleID *string) (*AssignmentResult, error) {
	breakdown := ranking.Breakdowns()
	for _, cand := range ranking.Candidates {
		agentID := cand.Agent.ID
		decision := &domain.AssignmentDecision{
			TicketID:        ticket.ID,
			AgentID:         &agentID,
			PreviousAgentID: ticket.AssigneeID,
			Path:            path,
			RuleID:          ruleID,
			Breakdown:       breakdown,
			Reason:          s.reason(r, fmt.Sprintf("highest score %.3f", cand.Breakdown.Total)),
			Actor:           r.actor,
		}
		result, err := s.commit(ctx, ticket, agentID, decision, s.cfg.CapacityCeiling)
		if errors.Is(err, domain.ErrCapacityExceeded) {
			s.logger.Info("candidate reached capacity before commit, trying next",
				zap.String("ticket_id", ticket.ID),
				zap.String("agent_id", agentID))
			continue
		}
		return result, err
	}
	return s.unassigned(ctx, ticket, r, ruleID, ranking)
}

func (s *AssignmentService) commit(ctx context.Context, ticket *domain.Ticket, agentID string, decision *domain.AssignmentDecision, ceiling float64) (*AssignmentResult, error) {
	deadlines := s.sla.ComputeDeadlines(ticket.Priority, ticket.Category, ticket.CreatedAt)
	decision.ID = uuid.NewString()
	err := s.store.CommitAssignment(ctx, repository.AssignmentWrite{
		TicketID:         ticket.ID,
		ExpectedAssignee: ticket.AssigneeID,
		AgentID:          agentID,
		Deadlines:        &deadlines,
		CapacityCeiling:  ceiling,
		Decision:         decision,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket assigned",
		zap.String("ticket_id", ticket.ID),
		zap.String("agent_id", agentID),
		zap.String("path", string(decision.Path)),
		zap.String("sla_source", deadlines.Source),
		zap.Time("response_due", deadlines.ResponseDue),
		zap.Time("resolution_due", deadlines.ResolutionDue))
	s.countDecision(decision.Path, StatusAssigned)
	s.publishAssigned(ctx, decision, &deadlines)

	return &AssignmentResult{
		TicketID:  ticket.ID,
		Status:    StatusAssigned,
		AgentID:   decision.AgentID,
		Decision:  decision,
		Deadlines: &deadlines,
	}, nil
}

// unassigned records a decision with no agent and notifies administrators. The ticket row is
// not touched.
func (s *AssignmentService) unassigned(ctx context.Context, ticket *domain.Ticket, r run, ruleID *string, ranking scoring.Ranking) (*AssignmentResult, error) {
	decision := &domain.AssignmentDecision{
		TicketID:        ticket.ID,
		PreviousAgentID: ticket.AssigneeID,
		Path:            domain.PathScoring,
		RuleID:          ruleID,
		Breakdown:       ranking.Breakdowns(),
		Reason:          domain.ReasonNoEligibleAgent,
		Actor:           r.actor,
	}
	status := StatusUnassigned
	if r.reassign && ticket.AssigneeID != nil {
		decision.AgentID = ticket.AssigneeID
		decision.Reason = domain.ReasonNoAlternativeAgent
		status = StatusRetained
	}
	decision.ID = uuid.NewString()
	if err := s.store.AppendDecision(ctx, decision); err != nil {
		return nil, err
	}

	s.logger.Warn("no agent available for ticket",
		zap.String("ticket_id", ticket.ID),
		zap.String("status", string(status)),
		zap.Int("excluded", len(ranking.Excluded)))
	s.countDecision(domain.PathScoring, status)
	s.publish(ctx, events.EventTicketUnassigned, ticket.ID, r.actor, events.TicketUnassignedPayload{
		DecisionID: decision.ID,
		Reason:     decision.Reason,
		Priority:   ticket.Priority,
		Category:   ticket.Category,
		Candidates: len(ranking.Candidates) + len(ranking.Excluded),
	})
	return &AssignmentResult{TicketID: ticket.ID, Status: status, AgentID: decision.AgentID, Decision: decision}, nil
}

func (s *AssignmentService) reason(r run, fallback string) string {
	if r.reassign && r.reason != "" {
		return r.reason
	}
	return fallback
}

func (s *AssignmentService) countDecision(path domain.DecisionPath, status AssignmentStatus) {
	if s.metrics != nil {
		s.metrics.AssignmentsTotal.WithLabelValues(string(path), string(status)).Inc()
	}
}

func (s *AssignmentService) publishAssigned(ctx context.Context, decision *domain.AssignmentDecision, deadlines *domain.SLADeadlines) {
	payload := events.TicketAssignedPayload{
		DecisionID:      decision.ID,
		AgentID:         *decision.AgentID,
		PreviousAgentID: decision.PreviousAgentID,
		Path:            decision.Path,
		RuleID:          decision.RuleID,
	}
	if deadlines != nil {
		payload.ResponseDueAt = &deadlines.ResponseDue
		payload.ResolutionDueAt = &deadlines.ResolutionDue
	}
	s.publish(ctx, events.EventTicketAssigned, decision.TicketID, decision.Actor, payload)
}

func (s *AssignmentService) publish(ctx context.Context, eventType events.EventType, ticketID, actor string, payload any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: s.now(),
		Payload:   payload,
	})
}

func (s *AssignmentService) mapError(ticketID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrTicketNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	case errors.Is(err, domain.ErrAgentNotFound):
		return apperrors.NewNotFound("agent", nil)
	case errors.Is(err, domain.ErrTicketClosed):
		return apperrors.NewConflict("ticket is not open", map[string]any{"ticket_id": ticketID})
	case errors.Is(err, domain.ErrAgentDisabled):
		return apperrors.NewConflict("agent disabled", nil)
	case errors.Is(err, domain.ErrAssignmentConflict):
		return apperrors.NewAssignmentConflict(ticketID, err)
	}
	return apperrors.MapError(err)
}

// eligible drops disabled agents, admin accounts and the excluded agent from automatic pools.
func eligible(roster []domain.Agent, exclude string) []domain.Agent {
	out := make([]domain.Agent, 0, len(roster))
	for _, a := range roster {
		if a.Disabled || a.Role == domain.AgentRoleAdmin || a.ID == exclude {
			continue
		}
		out = append(out, a)
	}
	return out
}

func inGroup(pool []domain.Agent, groupID string) []domain.Agent {
	var out []domain.Agent
	for _, a := range pool {
		if a.InTeam(groupID) {
			out = append(out, a)
		}
	}
	return out
}

// restrict keeps agents passing every non-empty filter dimension.
func restrict(pool []domain.Agent, f domain.CandidateFilter) []domain.Agent {
	var out []domain.Agent
	for _, a := range pool {
		if len(f.AgentIDs) > 0 && !containsFold(f.AgentIDs, a.ID) {
			continue
		}
		if len(f.GroupIDs) > 0 && (a.TeamID == nil || !containsFold(f.GroupIDs, *a.TeamID)) {
			continue
		}
		if len(f.Skills) > 0 && !anyFold(a.Skills, f.Skills) {
			continue
		}
		if len(f.Languages) > 0 && !anyFold(a.Languages, f.Languages) {
			continue
		}
		out = append(out, a)
	}
	return out
}
