// Package cache holds the in-process authoritative view of one owner's
// records. It reconciles optimistic local mutations with change feed
// deliveries through idempotent upserts and absence-tolerant removes.
package cache

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/domain/record"
)

// Lister is the record backend operation the cache needs for its initial
// and refreshed full loads.
type Lister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*record.MedicalRecord, error)
}

// entry pairs a record with its insertion sequence. The sequence breaks
// visit-date ties: higher sequence (processed later) sorts first.
type entry struct {
	rec *record.MedicalRecord
	seq uint64
}

// Cache is the shared mutable record collection. All mutations go through
// Upsert, Remove and ReplaceAll; each is atomic under the cache mutex.
type Cache struct {
	ownerID string
	lister  Lister
	logger  *zap.Logger

	mu        sync.Mutex
	entries   []entry
	byID      map[string]int
	nextSeq   uint64
	stale     bool
	lastErr   error
	listeners []func()
}

// New creates a cache for one owner. It starts empty; call Refresh for the
// initial full load.
func New(ownerID string, lister Lister, logger *zap.Logger) *Cache {
	return &Cache{
		ownerID: ownerID,
		lister:  lister,
		logger:  logger,
		byID:    make(map[string]int),
	}
}

// OwnerID returns the identity the cache is scoped to.
func (c *Cache) OwnerID() string {
	return c.ownerID
}

// OnChange registers a listener invoked after every mutation. Listeners
// run outside the cache lock and must not block.
func (c *Cache) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Upsert inserts the record or replaces the entity with the same ID in
// place. Replacement keeps the original insertion sequence, so applying
// the same record twice is observably identical to applying it once.
func (c *Cache) Upsert(rec *record.MedicalRecord) {
	if rec == nil || rec.ID == "" {
		return
	}

	c.mu.Lock()
	if i, ok := c.byID[rec.ID]; ok {
		c.entries[i].rec = rec
	} else {
		c.nextSeq++
		c.entries = append(c.entries, entry{rec: rec, seq: c.nextSeq})
	}
	c.resortLocked()
	c.mu.Unlock()

	c.notify()
}

// Remove deletes the entity with the given ID. Absent IDs are a no-op,
// which tolerates a delete event arriving before its matching insert.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	i, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	c.resortLocked()
	c.mu.Unlock()

	c.notify()
}

// ReplaceAll swaps the entire collection, resetting insertion order. Used
// only for full loads from the record backend.
func (c *Cache) ReplaceAll(records []*record.MedicalRecord) {
	c.mu.Lock()
	c.replaceAllLocked(records)
	c.mu.Unlock()

	c.notify()
}

// Refresh performs a full load from the record backend. On failure the
// cache keeps its last-known-good contents and raises the stale flag;
// stale-but-available beats empty.
func (c *Cache) Refresh(ctx context.Context) error {
	records, err := c.lister.ListByOwner(ctx, c.ownerID)

	c.mu.Lock()
	if err != nil {
		c.stale = true
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("Record refresh failed, serving stale contents",
			zap.String("owner_id", c.ownerID),
			zap.Error(err))
		return err
	}
	c.replaceAllLocked(records)
	c.stale = false
	c.lastErr = nil
	c.mu.Unlock()

	c.notify()
	return nil
}

// Records returns the visible collection: visit date descending, ties
// broken by insertion order with the newest processed first.
func (c *Cache) Records() []*record.MedicalRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*record.MedicalRecord, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.rec
	}
	return out
}

// Get returns the record with the given ID, or nil.
func (c *Cache) Get(id string) *record.MedicalRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.byID[id]; ok {
		return c.entries[i].rec
	}
	return nil
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stale reports whether the last refresh failed, and with what error.
func (c *Cache) Stale() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale, c.lastErr
}

func (c *Cache) replaceAllLocked(records []*record.MedicalRecord) {
	c.entries = c.entries[:0]
	c.nextSeq = 0
	c.byID = make(map[string]int, len(records))
	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			continue
		}
		if _, dup := c.byID[rec.ID]; dup {
			continue
		}
		c.byID[rec.ID] = len(c.entries)
		c.nextSeq++
		c.entries = append(c.entries, entry{rec: rec, seq: c.nextSeq})
	}
	c.resortLocked()
}

// resortLocked restores the ordering invariant and rebuilds the ID index.
func (c *Cache) resortLocked() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		di, dj := c.entries[i].rec.VisitDate, c.entries[j].rec.VisitDate
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return c.entries[i].seq > c.entries[j].seq
	})

	c.byID = make(map[string]int, len(c.entries))
	for i, e := range c.entries {
		c.byID[e.rec.ID] = i
	}
}

func (c *Cache) notify() {
	c.mu.Lock()
	listeners := make([]func(), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
