package rules_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/rules"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	rules []domain.AssignmentRule
	err   error
}

func (l *countingLoader) ListEnabled(context.Context) ([]domain.AssignmentRule, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.rules, l.err
}

func (l *countingLoader) set(rules []domain.AssignmentRule, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules, l.err = rules, err
}

func TestCacheServesWithinTTL(t *testing.T) {
	now := base
	loader := &countingLoader{rules: []domain.AssignmentRule{rule("r1", 1, domain.Defer{})}}
	cache := rules.NewCache(loader, 30*time.Second, zap.NewNop()).WithClock(func() time.Time { return now })

	ctx := context.Background()
	_, err := cache.Rules(ctx)
	require.NoError(t, err)
	_, err = cache.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)

	now = now.Add(31 * time.Second)
	_, err = cache.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	loader := &countingLoader{rules: []domain.AssignmentRule{rule("r1", 1, domain.Defer{})}}
	cache := rules.NewCache(loader, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := cache.Rules(ctx)
	require.NoError(t, err)

	loader.set([]domain.AssignmentRule{rule("r2", 1, domain.Defer{})}, nil)
	cache.Invalidate()

	got, err := cache.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].ID)
}

func TestCacheServesStaleOnReloadFailure(t *testing.T) {
	loader := &countingLoader{rules: []domain.AssignmentRule{rule("r1", 1, domain.Defer{})}}
	cache := rules.NewCache(loader, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := cache.Rules(ctx)
	require.NoError(t, err)

	loader.set(nil, errors.New("db down"))
	cache.Invalidate()

	got, err := cache.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", got[0].ID)
}

func TestCacheColdFailure(t *testing.T) {
	loader := &countingLoader{err: errors.New("db down")}
	cache := rules.NewCache(loader, time.Hour, zap.NewNop())

	_, err := cache.Rules(context.Background())
	assert.Error(t, err)
}

func TestInvalidatorWithoutRedisStillClearsLocalCache(t *testing.T) {
	loader := &countingLoader{rules: []domain.AssignmentRule{rule("r1", 1, domain.Defer{})}}
	cache := rules.NewCache(loader, time.Hour, zap.NewNop())
	inv := rules.NewInvalidator(nil, "assignment:rules:invalidate", cache, zap.NewNop())
	ctx := context.Background()

	_, err := cache.Rules(ctx)
	require.NoError(t, err)
	inv.Invalidate(ctx)
	_, err = cache.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}
