package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/events"
	"github.com/spec-kit/assignment-service/internal/observability"
	"github.com/spec-kit/assignment-service/internal/persistence"
	"github.com/spec-kit/assignment-service/internal/repository"
	"github.com/spec-kit/assignment-service/internal/workload"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

// RebalanceScope limits a run. Empty TeamID and AgentIDs mean every active agent.
type RebalanceScope struct {
	TeamID   string
	AgentIDs []string
	DryRun   bool
}

// MoveStatus tracks a planned move.
type MoveStatus string

const (
	MoveProposed MoveStatus = "proposed"
	MoveExecuted MoveStatus = "executed"
	MoveSkipped  MoveStatus = "skipped"
)

// RebalanceMove is one planned or executed reassignment.
type RebalanceMove struct {
	TicketID    string
	FromAgentID string
	ToAgentID   string
	Weight      float64
	Status      MoveStatus
	DecisionID  string
	Error       string
}

// RebalanceReport summarizes a run.
type RebalanceReport struct {
	RunID        string
	DryRun       bool
	StartedAt    time.Time
	FinishedAt   time.Time
	Agents       int
	Overloaded   []string
	Underloaded  []string
	StdDevBefore float64
	StdDevAfter  float64
	Moves        []RebalanceMove
}

// Executed counts moves that were committed.
func (r *RebalanceReport) Executed() int {
	n := 0
	for _, m := range r.Moves {
		if m.Status == MoveExecuted {
			n++
		}
	}
	return n
}

// Locker guards a run across instances.
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// TicketMover commits a single rebalance move.
type TicketMover interface {
	MoveTicket(ctx context.Context, m Move) (*domain.AssignmentDecision, error)
}

// RebalanceService redistributes open tickets from overloaded to underloaded agents.
type RebalanceService struct {
	mover      TicketMover
	directory  *DirectoryReader
	tickets    repository.TicketRepository
	workload   *workload.Aggregator
	locker     Locker
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.RebalanceConfig
	assignment config.AssignmentConfig
	now        func() time.Time

	running sync.Mutex
}

// RebalanceDependencies bundles collaborators.
type RebalanceDependencies struct {
	Mover      TicketMover
	Directory  *DirectoryReader
	TicketRepo repository.TicketRepository
	Workload   *workload.Aggregator
	Locker     Locker
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Config     config.RebalanceConfig
	Assignment config.AssignmentConfig
	Now        func() time.Time
}

// NewRebalanceService creates the service. A nil Locker limits exclusion to this process.
func NewRebalanceService(deps RebalanceDependencies) *RebalanceService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RebalanceService{
		mover:      deps.Mover,
		directory:  deps.Directory,
		tickets:    deps.TicketRepo,
		workload:   deps.Workload,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		cfg:        deps.Config,
		assignment: deps.Assignment,
		now:        now,
	}
}

func errRebalanceInProgress() error {
	return &apperrors.DomainError{
		Code:       "REBALANCE_IN_PROGRESS",
		Message:    "a rebalance is already running",
		HTTPStatus: http.StatusConflict,
		Err:        domain.ErrRebalanceInProgress,
	}
}

// Rebalance runs one non-overlapping pass. A concurrent call is rejected with
// domain.ErrRebalanceInProgress.
func (s *RebalanceService) Rebalance(ctx context.Context, scope RebalanceScope) (*RebalanceReport, error) {
	if !s.running.TryLock() {
		s.countRun("rejected")
		return nil, errRebalanceInProgress()
	}
	defer s.running.Unlock()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if errors.Is(err, persistence.ErrLockHeld) {
			s.countRun("rejected")
			return nil, errRebalanceInProgress()
		}
		if err != nil {
			s.countRun("failed")
			return nil, apperrors.NewServiceUnavailable("rebalance lock unavailable", err)
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.logger.Warn("release rebalance lock", zap.Error(err))
			}
		}()
	}

	report, err := s.run(ctx, scope)
	if err != nil {
		s.countRun("failed")
		return nil, err
	}
	if scope.DryRun {
		s.countRun("dry_run")
	} else {
		s.countRun("completed")
	}
	return report, nil
}

func (s *RebalanceService) run(ctx context.Context, scope RebalanceScope) (*RebalanceReport, error) {
	report := &RebalanceReport{RunID: uuid.NewString(), DryRun: scope.DryRun, StartedAt: s.now()}
	log := s.logger.With(zap.String("run_id", report.RunID), zap.Bool("dry_run", scope.DryRun))

	roster, degraded, err := s.directory.Roster(ctx)
	if err != nil || degraded {
		return nil, apperrors.NewServiceUnavailable("agent directory unavailable", err)
	}
	agents := inScope(roster, scope)
	byID := make(map[string]domain.Agent, len(agents))
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	report.Agents = len(ids)

	snap, err := s.workload.Snapshot(ctx, ids)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	loads := make(map[string]float64, len(ids))
	for _, id := range ids {
		loads[id] = snap.Load(id)
	}
	report.StdDevBefore = workload.StdDev(loads, ids)
	report.Overloaded, report.Underloaded = s.classify(loads, ids)

	if len(report.Overloaded) > 0 && len(report.Underloaded) > 0 {
		tickets, err := s.tickets.ListActiveByAssignees(ctx, report.Overloaded)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		report.Moves = s.plan(loads, ids, byID, tickets)
	}
	report.StdDevAfter = workload.StdDev(loads, ids)

	if !scope.DryRun && len(report.Moves) > 0 {
		s.execute(ctx, report, log)
		if fresh, err := s.workload.Snapshot(ctx, ids); err == nil {
			report.StdDevAfter = workload.StdDev(fresh.Loads, ids)
		} else {
			log.Warn("post-rebalance snapshot failed, reporting planned deviation", zap.Error(err))
		}
	}
	report.FinishedAt = s.now()

	if s.metrics != nil {
		s.metrics.RebalanceStdDev.WithLabelValues("before").Set(report.StdDevBefore)
		s.metrics.RebalanceStdDev.WithLabelValues("after").Set(report.StdDevAfter)
	}
	log.Info("rebalance finished",
		zap.Int("agents", report.Agents),
		zap.Int("moves", len(report.Moves)),
		zap.Int("executed", report.Executed()),
		zap.Float64("stddev_before", report.StdDevBefore),
		zap.Float64("stddev_after", report.StdDevAfter))

	if !scope.DryRun && report.Executed() > 0 && s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventRebalanceCompleted,
			Actor:     events.SystemActor,
			Timestamp: report.FinishedAt,
			Payload: events.RebalanceCompletedPayload{
				RunID:        report.RunID,
				Moves:        report.Executed(),
				StdDevBefore: report.StdDevBefore,
				StdDevAfter:  report.StdDevAfter,
			},
		})
	}
	return report, nil
}

// classify returns overloaded agents heaviest first and underloaded agents lightest first.
func (s *RebalanceService) classify(loads map[string]float64, ids []string) (over, under []string) {
	for _, id := range ids {
		switch {
		case loads[id] > s.cfg.OverloadThreshold:
			over = append(over, id)
		case loads[id] < s.cfg.UnderloadThreshold:
			under = append(under, id)
		}
	}
	sort.SliceStable(over, func(i, j int) bool { return loads[over[i]] > loads[over[j]] })
	sort.SliceStable(under, func(i, j int) bool { return loads[under[i]] < loads[under[j]] })
	return over, under
}

// plan greedily moves the least recently assigned safe ticket from the heaviest overloaded
// agent to the lightest underloaded agent that can take it, updating loads in place, until the
// deviation target is met, no safe move remains, or the move budget is spent.
func (s *RebalanceService) plan(loads map[string]float64, ids []string, byID map[string]domain.Agent, tickets []domain.Ticket) []RebalanceMove {
	queues := make(map[string][]domain.Ticket)
	for _, t := range tickets {
		if t.AssigneeID != nil {
			queues[*t.AssigneeID] = append(queues[*t.AssigneeID], t)
		}
	}
	moved := map[string]bool{}
	now := s.now()
	var moves []RebalanceMove

	for s.cfg.MaxMoves == 0 || len(moves) < s.cfg.MaxMoves {
		if workload.StdDev(loads, ids) < s.cfg.TargetStdDev {
			break
		}
		over, under := s.classify(loads, ids)
		move, ok := s.nextMove(loads, over, under, byID, queues, moved, now)
		if !ok {
			break
		}
		moved[move.TicketID] = true
		loads[move.FromAgentID] -= move.Weight
		loads[move.ToAgentID] += move.Weight
		moves = append(moves, move)
	}
	return moves
}

func (s *RebalanceService) nextMove(loads map[string]float64, over, under []string, byID map[string]domain.Agent, queues map[string][]domain.Ticket, moved map[string]bool, now time.Time) (RebalanceMove, bool) {
	for _, src := range over {
		for i := range queues[src] {
			t := &queues[src][i]
			if moved[t.ID] || (t.Responded() && !s.cfg.AllowRespondedMoves) {
				continue
			}
			w := t.Priority.Weight()
			for _, dst := range under {
				if loads[dst]+w > loads[src]-w || loads[dst]+w > s.assignment.CapacityCeiling {
					continue
				}
				if !s.canTake(byID[dst], t, now) {
					continue
				}
				return RebalanceMove{
					TicketID:    t.ID,
					FromAgentID: src,
					ToAgentID:   dst,
					Weight:      w,
					Status:      MoveProposed,
				}, true
			}
		}
	}
	return RebalanceMove{}, false
}

// canTake reports whether dst has the availability and skill for the ticket.
func (s *RebalanceService) canTake(dst domain.Agent, t *domain.Ticket, now time.Time) bool {
	if dst.Disabled || !dst.Available {
		return false
	}
	if !dst.OfficeHours.Contains(now) && s.assignment.PartialAvailabilityCredit <= 0 {
		return false
	}
	if t.Category == "" && t.Subcategory == "" {
		return true
	}
	return dst.HasSkillFor(t.Category, t.Subcategory)
}

func (s *RebalanceService) execute(ctx context.Context, report *RebalanceReport, log *zap.Logger) {
	for i := range report.Moves {
		m := &report.Moves[i]
		decision, err := s.mover.MoveTicket(ctx, Move{
			TicketID:           m.TicketID,
			FromAgentID:        m.FromAgentID,
			ToAgentID:          m.ToAgentID,
			RequireUnresponded: !s.cfg.AllowRespondedMoves,
			RunID:              report.RunID,
		})
		if err != nil {
			m.Status = MoveSkipped
			m.Error = err.Error()
			log.Warn("rebalance move skipped",
				zap.String("ticket_id", m.TicketID),
				zap.String("from", m.FromAgentID),
				zap.String("to", m.ToAgentID),
				zap.Error(err))
		} else {
			m.Status = MoveExecuted
			m.DecisionID = decision.ID
			log.Info("rebalance move executed",
				zap.String("ticket_id", m.TicketID),
				zap.String("from", m.FromAgentID),
				zap.String("to", m.ToAgentID))
		}
		if s.metrics != nil {
			s.metrics.RebalanceMoves.WithLabelValues(string(m.Status)).Inc()
		}
	}
}

func (s *RebalanceService) countRun(result string) {
	if s.metrics != nil {
		s.metrics.RebalanceRuns.WithLabelValues(result).Inc()
	}
}

func inScope(roster []domain.Agent, scope RebalanceScope) []domain.Agent {
	out := make([]domain.Agent, 0, len(roster))
	for _, a := range eligible(roster, "") {
		if scope.TeamID != "" && !a.InTeam(scope.TeamID) {
			continue
		}
		if len(scope.AgentIDs) > 0 && !containsFold(scope.AgentIDs, a.ID) {
			continue
		}
		out = append(out, a)
	}
	return out
}
