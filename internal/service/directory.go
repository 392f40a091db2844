package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/observability"
	"github.com/spec-kit/assignment-service/internal/repository"
)

// DirectoryReader reads the agent directory under a hard timeout and remembers the last good
// roster for degraded operation.
type DirectoryReader struct {
	repo    repository.AgentRepository
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	roster []domain.Agent
}

// NewDirectoryReader builds a reader over repo.
func NewDirectoryReader(repo repository.AgentRepository, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *DirectoryReader {
	return &DirectoryReader{repo: repo, timeout: timeout, logger: logger, metrics: metrics}
}

// Roster lists every agent. degraded is true when the live read failed and the previous roster
// was served. An error means there is no roster at all.
func (d *DirectoryReader) Roster(ctx context.Context) (agents []domain.Agent, degraded bool, err error) {
	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	agents, err = d.repo.List(ctx)
	if err == nil {
		d.mu.Lock()
		d.roster = agents
		d.mu.Unlock()
		return agents, false, nil
	}

	d.mu.RLock()
	last := d.roster
	d.mu.RUnlock()
	degradeProvider(d.logger, d.metrics, "directory", err)
	if last == nil {
		return nil, true, err
	}
	return last, true, nil
}

// Agent looks up one agent, falling back to the remembered roster when the directory is down.
func (d *DirectoryReader) Agent(ctx context.Context, id string) (*domain.Agent, error) {
	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	agent, err := d.repo.GetByID(ctx, id)
	if err == nil || errors.Is(err, domain.ErrAgentNotFound) {
		return agent, err
	}

	degradeProvider(d.logger, d.metrics, "directory", err)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.roster {
		if d.roster[i].ID == id {
			a := d.roster[i]
			return &a, nil
		}
	}
	return nil, err
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func degradeProvider(logger *zap.Logger, metrics *observability.Metrics, provider string, err error) {
	logger.Warn("provider unavailable, scoring with neutral defaults",
		zap.String("provider", provider),
		zap.Error(err))
	if metrics != nil {
		metrics.ProviderDegraded.WithLabelValues(provider).Inc()
	}
}
