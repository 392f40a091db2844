package rules

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Invalidator fans rule cache invalidations out to every instance over Redis pub/sub.
type Invalidator struct {
	client     *redis.Client
	channel    string
	cache      *Cache
	logger     *zap.Logger
	instanceID string
}

// NewInvalidator wires cache to channel. A nil client limits invalidation to this instance.
func NewInvalidator(client *redis.Client, channel string, cache *Cache, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		client:     client,
		channel:    channel,
		cache:      cache,
		logger:     logger,
		instanceID: uuid.NewString(),
	}
}

// Invalidate clears the local cache and notifies peers. Publish failures are logged; peers
// fall back to TTL expiry.
func (i *Invalidator) Invalidate(ctx context.Context) {
	i.cache.Invalidate()
	if i.client == nil {
		return
	}
	if err := i.client.Publish(ctx, i.channel, i.instanceID).Err(); err != nil {
		i.logger.Warn("publish rule invalidation failed", zap.String("channel", i.channel), zap.Error(err))
	}
}

// Listen invalidates the local cache on every peer message until ctx is done.
func (i *Invalidator) Listen(ctx context.Context) {
	if i.client == nil {
		return
	}
	sub := i.client.Subscribe(ctx, i.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Payload == i.instanceID {
				continue
			}
			i.cache.Invalidate()
			i.logger.Debug("rule cache invalidated by peer", zap.String("peer", msg.Payload))
		}
	}
}
