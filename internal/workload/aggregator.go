package workload

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// Reader returns active-ticket counts per (agent, priority) from one consistent read.
type Reader interface {
	OpenLoadByAgent(ctx context.Context, agentIDs []string) ([]domain.PriorityCount, error)
}

// Aggregator computes weighted open-ticket load per agent.
type Aggregator struct {
	reader Reader
	now    func() time.Time
}

// NewAggregator builds an aggregator over reader.
func NewAggregator(reader Reader, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{reader: reader, now: now}
}

// Snapshot returns the weighted load of every requested agent. Agents with no active tickets
// are present with zero load.
func (a *Aggregator) Snapshot(ctx context.Context, agentIDs []string) (domain.WorkloadSnapshot, error) {
	snapshot := domain.WorkloadSnapshot{TakenAt: a.now(), Loads: make(map[string]float64, len(agentIDs))}
	if len(agentIDs) == 0 {
		return snapshot, nil
	}
	rows, err := a.reader.OpenLoadByAgent(ctx, agentIDs)
	if err != nil {
		return domain.WorkloadSnapshot{}, fmt.Errorf("workload snapshot: %w", err)
	}
	loads := domain.SumWeighted(rows)
	for _, id := range agentIDs {
		snapshot.Loads[id] = loads[id]
	}
	return snapshot, nil
}

// StdDev is the population standard deviation of the loads of agentIDs.
func StdDev(loads map[string]float64, agentIDs []string) float64 {
	if len(agentIDs) == 0 {
		return 0
	}
	var sum float64
	for _, id := range agentIDs {
		sum += loads[id]
	}
	mean := sum / float64(len(agentIDs))
	var sq float64
	for _, id := range agentIDs {
		d := loads[id] - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(agentIDs)))
}
