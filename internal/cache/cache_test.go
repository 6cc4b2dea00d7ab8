package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/domain/record"
)

// mockLister backs Refresh in tests.
type mockLister struct {
	records   []*record.MedicalRecord
	err       error
	callCount int
}

func (m *mockLister) ListByOwner(_ context.Context, _ string) ([]*record.MedicalRecord, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func newTestRecord(id string, visit time.Time) *record.MedicalRecord {
	return &record.MedicalRecord{
		ID:         id,
		OwnerID:    "owner-1",
		Title:      "Blood panel " + id,
		RecordType: record.TypeLabResult,
		VisitDate:  visit,
	}
}

func newTestCache(lister Lister) *Cache {
	return New("owner-1", lister, zap.NewNop())
}

func recordIDs(c *Cache) []string {
	records := c.Records()
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func TestCache_UpsertIdempotent(t *testing.T) {
	c := newTestCache(&mockLister{})
	rec := newTestRecord("a", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	c.Upsert(rec)
	once := recordIDs(c)

	c.Upsert(rec)
	twice := recordIDs(c)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, c.Len())
}

func TestCache_UpsertReplacesInPlace(t *testing.T) {
	c := newTestCache(&mockLister{})
	visit := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	c.Upsert(newTestRecord("a", visit))
	c.Upsert(newTestRecord("b", visit))

	updated := newTestRecord("a", visit)
	updated.Title = "Updated title"
	c.Upsert(updated)

	require.Equal(t, 2, c.Len())
	assert.Equal(t, "Updated title", c.Get("a").Title)
	// Same visit date: "b" was inserted later and keeps winning the tie
	// even after "a" is replaced.
	assert.Equal(t, []string{"b", "a"}, recordIDs(c))
}

func TestCache_OrderingInvariant(t *testing.T) {
	c := newTestCache(&mockLister{})

	january := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	march := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	june := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	c.Upsert(newTestRecord("march", march))
	c.Upsert(newTestRecord("june", june))
	c.Upsert(newTestRecord("january", january))
	c.Upsert(newTestRecord("march-late", march))

	// Visit date descending; same-date records newest-processed first.
	assert.Equal(t, []string{"june", "march-late", "march", "january"}, recordIDs(c))
}

func TestCache_NoDuplicateIDs(t *testing.T) {
	c := newTestCache(&mockLister{})
	visit := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	c.Upsert(newTestRecord("a", visit))
	c.Upsert(newTestRecord("b", visit))
	c.Upsert(newTestRecord("a", visit))
	c.Remove("b")
	c.Upsert(newTestRecord("b", visit))
	c.Upsert(newTestRecord("a", visit))

	seen := map[string]int{}
	for _, r := range c.Records() {
		seen[r.ID]++
	}
	for id, n := range seen {
		assert.Equalf(t, 1, n, "record %s appears %d times", id, n)
	}
	assert.Equal(t, 2, c.Len())
}

func TestCache_RemoveAbsentIsNoOp(t *testing.T) {
	c := newTestCache(&mockLister{})
	c.Upsert(newTestRecord("a", time.Now().UTC()))

	assert.NotPanics(t, func() { c.Remove("never-created") })
	assert.Equal(t, 1, c.Len())
}

func TestCache_ReplaceAllResetsCollection(t *testing.T) {
	c := newTestCache(&mockLister{})
	c.Upsert(newTestRecord("old", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))

	c.ReplaceAll([]*record.MedicalRecord{
		newTestRecord("n1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		newTestRecord("n2", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	})

	assert.Equal(t, []string{"n2", "n1"}, recordIDs(c))
	assert.Nil(t, c.Get("old"))
}

func TestCache_RefreshSuccess(t *testing.T) {
	lister := &mockLister{records: []*record.MedicalRecord{
		newTestRecord("a", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
	}}
	c := newTestCache(lister)

	require.NoError(t, c.Refresh(context.Background()))

	stale, lastErr := c.Stale()
	assert.False(t, stale)
	assert.NoError(t, lastErr)
	assert.Equal(t, 1, c.Len())
}

func TestCache_RefreshFailureKeepsLastKnownGood(t *testing.T) {
	lister := &mockLister{records: []*record.MedicalRecord{
		newTestRecord("a", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		newTestRecord("b", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}}
	c := newTestCache(lister)
	require.NoError(t, c.Refresh(context.Background()))

	lister.err = errors.New("backend unavailable")
	err := c.Refresh(context.Background())
	require.Error(t, err)

	// Stale-but-available beats empty.
	assert.Equal(t, 2, c.Len())
	stale, lastErr := c.Stale()
	assert.True(t, stale)
	assert.ErrorContains(t, lastErr, "backend unavailable")

	// A later successful refresh clears the flag.
	lister.err = nil
	require.NoError(t, c.Refresh(context.Background()))
	stale, _ = c.Stale()
	assert.False(t, stale)
}

func TestCache_OnChangeNotified(t *testing.T) {
	c := newTestCache(&mockLister{})

	notified := 0
	c.OnChange(func() { notified++ })

	c.Upsert(newTestRecord("a", time.Now().UTC()))
	c.Remove("a")
	c.ReplaceAll(nil)

	assert.Equal(t, 3, notified)
}
