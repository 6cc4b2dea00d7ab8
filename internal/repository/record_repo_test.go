package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/changefeed"
	"github.com/careloop/medvault/internal/domain/record"
	"github.com/careloop/medvault/pkg/database"
)

func newTestRepo(t *testing.T, feed *changefeed.Feed) *RecordRepository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, zap.NewNop()).Run(Migrations()))

	return NewRecordRepository(db, feed, zap.NewNop())
}

func sampleRecord(ownerID string) *record.MedicalRecord {
	return &record.MedicalRecord{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Title:        "Annual checkup labs",
		RecordType:   record.TypeLabResult,
		FacilityName: "City Clinic",
		VisitDate:    time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC),
		Notes:        "fasting sample",
		Attachment: &record.Attachment{
			URL:       "/blobs/owner/abc_labs.pdf",
			FileName:  "labs.pdf",
			SizeBytes: 2048,
			MimeType:  "application/pdf",
		},
		Interpretation: &record.Interpretation{
			Explanation:         "All values in range.",
			RecommendedActions:  []string{"Repeat next year"},
			AttentionIndicators: []string{},
		},
	}
}

func TestRecordRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t, nil)
	rec := sampleRecord("owner-1")

	require.NoError(t, repo.Create(context.Background(), rec))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, record.TypeLabResult, got.RecordType)
	assert.True(t, rec.VisitDate.Equal(got.VisitDate))
	require.NotNil(t, got.Attachment)
	assert.Equal(t, rec.Attachment.URL, got.Attachment.URL)
	require.NotNil(t, got.Interpretation)
	assert.Equal(t, []string{"Repeat next year"}, got.Interpretation.RecommendedActions)
	assert.Empty(t, got.Interpretation.AttentionIndicators)
}

func TestRecordRepository_MetadataOnlyRecord(t *testing.T) {
	repo := newTestRepo(t, nil)
	rec := sampleRecord("owner-1")
	rec.Attachment = nil
	rec.Interpretation = nil

	require.NoError(t, repo.Create(context.Background(), rec))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Attachment)
	assert.Nil(t, got.Interpretation)
}

func TestRecordRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t, nil)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRecordRepository_ListByOwnerOrdering(t *testing.T) {
	repo := newTestRepo(t, nil)
	ctx := context.Background()

	older := sampleRecord("owner-1")
	older.VisitDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleRecord("owner-1")
	newer.VisitDate = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	other := sampleRecord("owner-2")

	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, other))

	got, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}

func TestRecordRepository_Update(t *testing.T) {
	repo := newTestRepo(t, nil)
	ctx := context.Background()
	rec := sampleRecord("owner-1")
	require.NoError(t, repo.Create(ctx, rec))

	rec.Title = "Renamed labs"
	require.NoError(t, repo.Update(ctx, rec))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed labs", got.Title)

	missing := sampleRecord("owner-1")
	assert.ErrorIs(t, repo.Update(ctx, missing), ErrRecordNotFound)
}

func TestRecordRepository_Delete(t *testing.T) {
	repo := newTestRepo(t, nil)
	ctx := context.Background()
	rec := sampleRecord("owner-1")
	require.NoError(t, repo.Create(ctx, rec))

	require.NoError(t, repo.Delete(ctx, rec.ID))
	_, err := repo.GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, rec.ID), ErrRecordNotFound)
}

func TestRecordRepository_PublishesChangeEvents(t *testing.T) {
	feed := changefeed.New()
	t.Cleanup(func() { feed.Close() })

	var events []record.ChangeEvent
	feed.Subscribe("owner-1", "test", func(_ context.Context, evt record.ChangeEvent) {
		events = append(events, evt)
	})

	repo := newTestRepo(t, feed)
	ctx := context.Background()
	rec := sampleRecord("owner-1")

	require.NoError(t, repo.Create(ctx, rec))
	rec.Notes = "updated"
	require.NoError(t, repo.Update(ctx, rec))
	require.NoError(t, repo.Delete(ctx, rec.ID))

	require.Len(t, events, 3)
	assert.Equal(t, record.ChangeInsert, events[0].Kind)
	require.NotNil(t, events[0].Payload)
	assert.Equal(t, record.ChangeUpdate, events[1].Kind)
	assert.Equal(t, record.ChangeDelete, events[2].Kind)
	assert.Equal(t, rec.ID, events[2].RecordID)
	assert.Nil(t, events[2].Payload)
}
