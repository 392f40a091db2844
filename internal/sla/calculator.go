package sla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/observability"
)

const (
	SourceExact    = "exact"
	SourceWildcard = "wildcard"
	SourceDefault  = "default"
)

// Budgets is a response/resolution pair.
type Budgets struct {
	Response   time.Duration
	Resolution time.Duration
}

// DefaultBudgets apply when no policy row matches a priority.
var DefaultBudgets = map[domain.TicketPriority]Budgets{
	domain.TicketPriorityUrgent: {Response: time.Hour, Resolution: 4 * time.Hour},
	domain.TicketPriorityHigh:   {Response: 2 * time.Hour, Resolution: 8 * time.Hour},
	domain.TicketPriorityMedium: {Response: 4 * time.Hour, Resolution: 24 * time.Hour},
	domain.TicketPriorityLow:    {Response: 8 * time.Hour, Resolution: 48 * time.Hour},
}

// PolicySource loads the persisted policy table.
type PolicySource interface {
	ListPolicies(ctx context.Context) ([]domain.SLAPolicy, error)
}

type policyKey struct {
	priority domain.TicketPriority
	category string
}

// Calculator maps (priority, category) to deadlines over an in-memory policy table.
type Calculator struct {
	mu      sync.RWMutex
	table   map[policyKey]domain.SLAPolicy
	clock   Clock
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCalculator builds a calculator with an empty table; call SetPolicies or Refresh to load rows.
func NewCalculator(cfg config.SLAConfig, logger *zap.Logger, metrics *observability.Metrics) (*Calculator, error) {
	var clock Clock = CalendarClock{}
	if cfg.Clock == config.SLAClockBusiness {
		bc, err := NewBusinessClock(cfg)
		if err != nil {
			return nil, err
		}
		clock = bc
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		table:   map[policyKey]domain.SLAPolicy{},
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Refresh reloads the table from src. On failure the previous table stays in effect.
func (c *Calculator) Refresh(ctx context.Context, src PolicySource) error {
	policies, err := src.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load sla policies: %w", err)
	}
	c.SetPolicies(policies)
	return nil
}

// SetPolicies replaces the table. Rows with non-positive budgets are dropped with a warning.
func (c *Calculator) SetPolicies(policies []domain.SLAPolicy) {
	table := make(map[policyKey]domain.SLAPolicy, len(policies))
	for _, p := range policies {
		if !p.Valid() || !p.Priority.Valid() {
			c.logger.Warn("ignoring invalid sla policy",
				zap.String("priority", string(p.Priority)),
				zap.String("category", p.Category),
				zap.Duration("response", p.ResponseBudget),
				zap.Duration("resolution", p.ResolutionBudget),
			)
			continue
		}
		table[policyKey{priority: p.Priority, category: p.Category}] = p
	}
	c.mu.Lock()
	c.table = table
	c.mu.Unlock()
}

// Budgets resolves the budgets for a pair and reports which row supplied them.
func (c *Calculator) Budgets(priority domain.TicketPriority, category string) (Budgets, string) {
	c.mu.RLock()
	exact, hasExact := c.table[policyKey{priority: priority, category: category}]
	wildcard, hasWildcard := c.table[policyKey{priority: priority, category: domain.WildcardCategory}]
	c.mu.RUnlock()

	switch {
	case hasExact:
		return Budgets{Response: exact.ResponseBudget, Resolution: exact.ResolutionBudget}, SourceExact
	case hasWildcard:
		c.fallback(SourceWildcard, priority, category)
		return Budgets{Response: wildcard.ResponseBudget, Resolution: wildcard.ResolutionBudget}, SourceWildcard
	}

	budgets, ok := DefaultBudgets[priority]
	if !ok {
		c.logger.Warn("unknown ticket priority, using medium sla defaults", zap.String("priority", string(priority)))
		budgets = DefaultBudgets[domain.TicketPriorityMedium]
	}
	c.fallback(SourceDefault, priority, category)
	return budgets, SourceDefault
}

// ComputeDeadlines returns response and resolution deadlines measured from createdAt.
func (c *Calculator) ComputeDeadlines(priority domain.TicketPriority, category string, createdAt time.Time) domain.SLADeadlines {
	budgets, source := c.Budgets(priority, category)
	return domain.SLADeadlines{
		ResponseDue:   c.clock.Add(createdAt, budgets.Response),
		ResolutionDue: c.clock.Add(createdAt, budgets.Resolution),
		Source:        source,
	}
}

func (c *Calculator) fallback(source string, priority domain.TicketPriority, category string) {
	c.logger.Debug("sla policy fallback",
		zap.String("source", source),
		zap.String("priority", string(priority)),
		zap.String("category", category),
	)
	if c.metrics != nil {
		c.metrics.SLADefaultFallbacks.WithLabelValues(source).Inc()
	}
}
