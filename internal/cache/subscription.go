package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/changefeed"
	"github.com/careloop/medvault/internal/domain/record"
)

const subscriptionName = "record-cache"

// Subscription owns exactly one change feed registration per cache
// lifetime. Insert and update events route to Upsert, delete events to
// Remove, in arrival order. Consistency against the optimistic upload
// path is eventual: the idempotent upsert and absence-tolerant remove
// make either arrival order safe, but nothing serializes the two paths.
type Subscription struct {
	feed   *changefeed.Feed
	cache  *Cache
	logger *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewSubscription creates a subscription routing one owner's feed events
// into the cache. Call Start to begin delivery.
func NewSubscription(feed *changefeed.Feed, c *Cache, logger *zap.Logger) *Subscription {
	return &Subscription{
		feed:   feed,
		cache:  c,
		logger: logger,
	}
}

// Start opens the subscription. Idempotent: a second call while active is
// a no-op, never a second live registration.
func (s *Subscription) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.logger.Debug("Change subscription already started",
			zap.String("owner_id", s.cache.OwnerID()))
		return
	}

	s.feed.Subscribe(s.cache.OwnerID(), subscriptionName, s.route)
	s.started = true

	s.logger.Info("Change subscription opened",
		zap.String("owner_id", s.cache.OwnerID()))
}

// Close tears the subscription down. Safe to call when never started.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.feed.Unsubscribe(s.cache.OwnerID(), subscriptionName)
	s.started = false

	s.logger.Info("Change subscription closed",
		zap.String("owner_id", s.cache.OwnerID()))
}

// Active reports whether the subscription is currently open.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Subscription) route(_ context.Context, evt record.ChangeEvent) {
	switch evt.Kind {
	case record.ChangeInsert, record.ChangeUpdate:
		if evt.Payload == nil {
			s.logger.Warn("Change event without payload dropped",
				zap.String("kind", string(evt.Kind)),
				zap.String("record_id", evt.RecordID))
			return
		}
		s.cache.Upsert(evt.Payload)
	case record.ChangeDelete:
		s.cache.Remove(evt.RecordID)
	default:
		s.logger.Warn("Unknown change event kind dropped",
			zap.String("kind", string(evt.Kind)),
			zap.String("record_id", evt.RecordID))
	}
}
