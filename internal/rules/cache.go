package rules

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// Loader reads the enabled rule set from storage.
type Loader interface {
	ListEnabled(ctx context.Context) ([]domain.AssignmentRule, error)
}

// Cache holds the active rule set for a short TTL. Every rule write must call Invalidate.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu         sync.Mutex
	rules      []domain.AssignmentRule
	loadedAt   time.Time
	loaded     bool
	generation uint64
}

// NewCache builds a cache over loader.
func NewCache(loader Loader, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{loader: loader, ttl: ttl, now: time.Now, logger: logger}
}

// WithClock overrides the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Rules returns the cached rule set, reloading it when stale or invalidated. If a reload
// fails and a previous set exists, the previous set is served.
func (c *Cache) Rules(ctx context.Context) ([]domain.AssignmentRule, error) {
	c.mu.Lock()
	if c.loaded && (c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl) {
		rules := c.rules
		c.mu.Unlock()
		return rules, nil
	}
	gen := c.generation
	stale := c.rules
	c.mu.Unlock()

	fresh, err := c.loader.ListEnabled(ctx)
	if err != nil {
		if stale != nil {
			c.logger.Warn("rule reload failed, serving previous rule set", zap.Error(err))
			return stale, nil
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// an invalidation raced with this load; hand out the result but do not keep it
	if c.generation != gen {
		return fresh, nil
	}
	c.rules = fresh
	c.loadedAt = c.now()
	c.loaded = true
	return fresh, nil
}

// Invalidate drops the cached set so the next read reloads.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.generation++
	c.loaded = false
	c.mu.Unlock()
}
