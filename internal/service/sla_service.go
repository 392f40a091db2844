package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/events"
	"github.com/spec-kit/assignment-service/internal/observability"
	"github.com/spec-kit/assignment-service/internal/repository"
	"github.com/spec-kit/assignment-service/internal/sla"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

const breachScanLimit = 200

// SLAService manages the policy table and warns assignees ahead of a breach.
type SLAService struct {
	policies   repository.SLAPolicyRepository
	tickets    repository.TicketRepository
	calculator *sla.Calculator
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.SLAConfig
	now        func() time.Time
}

// SLADependencies bundles collaborators.
type SLADependencies struct {
	PolicyRepo repository.SLAPolicyRepository
	TicketRepo repository.TicketRepository
	Calculator *sla.Calculator
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Config     config.SLAConfig
	Now        func() time.Time
}

// NewSLAService constructs the service.
func NewSLAService(deps SLADependencies) *SLAService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAService{
		policies:   deps.PolicyRepo,
		tickets:    deps.TicketRepo,
		calculator: deps.Calculator,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		cfg:        deps.Config,
		now:        now,
	}
}

// ListPolicies returns the stored policy rows.
func (s *SLAService) ListPolicies(ctx context.Context, actor *domain.Principal) ([]domain.SLAPolicy, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	policies, err := s.policies.ListPolicies(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return policies, nil
}

// UpsertPolicy stores a (priority, category) row and reloads the calculator table.
func (s *SLAService) UpsertPolicy(ctx context.Context, actor *domain.Principal, policy domain.SLAPolicy) (*domain.SLAPolicy, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	policy.Category = strings.TrimSpace(policy.Category)
	if policy.Category == "" {
		policy.Category = domain.WildcardCategory
	}
	if problems := policyProblems(policy); len(problems) > 0 {
		return nil, apperrors.NewConfigurationError("sla policy rejected", map[string]any{"problems": problems})
	}
	if err := s.policies.Upsert(ctx, &policy); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.calculator.Refresh(ctx, s.policies); err != nil {
		s.logger.Warn("sla policy stored but table reload failed", zap.Error(err))
	}
	s.logger.Info("sla policy updated",
		zap.String("priority", string(policy.Priority)),
		zap.String("category", policy.Category),
		zap.String("actor", actor.SubjectID))
	return &policy, nil
}

// Preview computes deadlines for a hypothetical ticket created at createdAt.
func (s *SLAService) Preview(priority domain.TicketPriority, category string, createdAt time.Time) domain.SLADeadlines {
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	return s.calculator.ComputeDeadlines(priority, category, createdAt)
}

// WarnApproachingBreaches publishes one warning per assigned ticket whose pending deadline falls
// within the configured lead time. Returns the number of warnings sent.
func (s *SLAService) WarnApproachingBreaches(ctx context.Context) (int, error) {
	now := s.now()
	horizon := now.Add(s.cfg.WarningLeadTime)
	tickets, err := s.tickets.ListNearingBreach(ctx, horizon, breachScanLimit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range tickets {
		t := &tickets[i]
		if t.AssigneeID == nil {
			continue
		}
		deadline, due := pendingDeadline(t, horizon)
		if due.IsZero() {
			continue
		}
		if s.dispatcher != nil {
			_ = s.dispatcher.Publish(ctx, events.Event{
				ID:        uuid.NewString(),
				Type:      events.EventSLABreachImminent,
				TicketID:  t.ID,
				Actor:     events.SystemActor,
				Timestamp: now,
				Payload: events.SLABreachImminentPayload{
					AgentID:         *t.AssigneeID,
					Priority:        t.Priority,
					Deadline:        deadline,
					DueAt:           due,
					ResponseDueAt:   t.ResponseDueAt,
					ResolutionDueAt: t.ResolutionDueAt,
				},
			})
		}
		if err := s.tickets.MarkSLAWarningSent(ctx, t.ID, deadline, now); err != nil {
			s.logger.Warn("mark sla warning", zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		sent++
		if s.metrics != nil {
			s.metrics.SLAWarningsSent.Inc()
		}
	}
	if sent > 0 {
		s.logger.Info("sla breach warnings sent", zap.Int("count", sent))
	}
	return sent, nil
}

// pendingDeadline picks the earliest unwarned deadline still pending at or before horizon.
func pendingDeadline(t *domain.Ticket, horizon time.Time) (domain.SLADeadline, time.Time) {
	if !t.Responded() && t.ResponseWarningSentAt == nil && t.ResponseDueAt != nil && !t.ResponseDueAt.After(horizon) {
		return domain.DeadlineResponse, *t.ResponseDueAt
	}
	if t.ResolutionWarningSentAt == nil && t.ResolutionDueAt != nil && !t.ResolutionDueAt.After(horizon) {
		return domain.DeadlineResolution, *t.ResolutionDueAt
	}
	return "", time.Time{}
}

func policyProblems(p domain.SLAPolicy) []string {
	var problems []string
	if !p.Priority.Valid() {
		problems = append(problems, "unknown priority "+string(p.Priority))
	}
	if p.ResponseBudget < time.Minute {
		problems = append(problems, "response budget must be at least one minute")
	}
	if p.ResolutionBudget < time.Minute {
		problems = append(problems, "resolution budget must be at least one minute")
	}
	if p.ResponseBudget > p.ResolutionBudget {
		problems = append(problems, "response budget must not exceed resolution budget")
	}
	return problems
}
