// Package changefeed is the in-process push channel for record changes. The
// repository publishes an event after every committed write; subscribers
// (one cache subscription per owner) receive events in publish order.
package changefeed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/careloop/medvault/internal/domain/record"
)

// Handler consumes a single change event. Handlers run synchronously in
// publish order; a panic inside a handler is recovered and logged.
type Handler func(ctx context.Context, evt record.ChangeEvent)

// Logger is the minimal logging dependency of the feed.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type handlerInfo struct {
	name    string
	handler Handler
}

// Feed routes change events to subscribers keyed by owner identity.
type Feed struct {
	mu       sync.RWMutex
	handlers map[string][]handlerInfo
	logger   Logger
	closed   atomic.Bool
}

// Option configures the feed.
type Option func(*Feed)

// WithLogger sets a logger for the feed.
func WithLogger(logger Logger) Option {
	return func(f *Feed) {
		f.logger = logger
	}
}

// New creates a change feed.
func New(opts ...Option) *Feed {
	f := &Feed{handlers: make(map[string][]handlerInfo)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe registers a named handler for one owner's events. The name is
// the handle for Unsubscribe; registering the same name twice replaces the
// previous handler rather than adding a second delivery.
func (f *Feed) Subscribe(ownerID, name string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing := f.handlers[ownerID]
	for i, info := range existing {
		if info.name == name {
			existing[i].handler = h
			return
		}
	}
	f.handlers[ownerID] = append(existing, handlerInfo{name: name, handler: h})

	if f.logger != nil {
		f.logger.Info("Change feed handler registered",
			"owner_id", ownerID,
			"handler_name", name,
		)
	}
}

// Unsubscribe removes a handler by name. Unknown names are a no-op.
func (f *Feed) Unsubscribe(ownerID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing := f.handlers[ownerID]
	filtered := existing[:0]
	for _, info := range existing {
		if info.name != name {
			filtered = append(filtered, info)
		}
	}
	if len(filtered) == 0 {
		delete(f.handlers, ownerID)
	} else {
		f.handlers[ownerID] = filtered
	}
}

// Publish delivers an event to every subscriber of the owner, in
// registration order. Handler failures never propagate to the publisher.
func (f *Feed) Publish(ctx context.Context, ownerID string, evt record.ChangeEvent) {
	if f.closed.Load() {
		if f.logger != nil {
			f.logger.Error("Dropping event, change feed is closed",
				"owner_id", ownerID,
				"kind", string(evt.Kind),
				"record_id", evt.RecordID,
			)
		}
		return
	}

	f.mu.RLock()
	handlers := make([]handlerInfo, len(f.handlers[ownerID]))
	copy(handlers, f.handlers[ownerID])
	f.mu.RUnlock()

	for _, info := range handlers {
		f.safeDeliver(ctx, evt, info)
	}
}

// SubscriberCount returns the number of handlers registered for an owner.
func (f *Feed) SubscriberCount(ownerID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.handlers[ownerID])
}

// Close stops delivery. Publish calls after Close drop their events.
func (f *Feed) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("change feed already closed")
	}
	f.mu.Lock()
	f.handlers = make(map[string][]handlerInfo)
	f.mu.Unlock()
	return nil
}

// safeDeliver runs one handler with panic recovery.
func (f *Feed) safeDeliver(ctx context.Context, evt record.ChangeEvent, info handlerInfo) {
	defer func() {
		if r := recover(); r != nil {
			if f.logger != nil {
				f.logger.Error("Change feed handler panic recovered",
					"handler_name", info.name,
					"kind", string(evt.Kind),
					"record_id", evt.RecordID,
					"panic", r,
				)
			}
		}
	}()

	info.handler(ctx, evt)
}
