// Package service orchestrates record operations across the backend
// repository, the blob store and the in-memory cache.
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/blobstore"
	"github.com/careloop/medvault/internal/cache"
	"github.com/careloop/medvault/internal/domain/record"
	"github.com/careloop/medvault/internal/repository"
)

// RecordStore is the repository surface the service needs.
type RecordStore interface {
	GetByID(ctx context.Context, id string) (*record.MedicalRecord, error)
	Update(ctx context.Context, rec *record.MedicalRecord) error
	Delete(ctx context.Context, id string) error
}

// RecordService serves one owner's records. Reads come from the cache;
// writes go to the repository first and are then reflected locally so the
// caller sees the result before the change feed catches up.
type RecordService struct {
	ownerID       string
	repo          RecordStore
	blobs         blobstore.Store
	cache         *cache.Cache
	blobURLPrefix string
	logger        *zap.Logger
}

func NewRecordService(
	ownerID string,
	repo RecordStore,
	blobs blobstore.Store,
	recordCache *cache.Cache,
	blobURLPrefix string,
	logger *zap.Logger,
) *RecordService {
	return &RecordService{
		ownerID:       ownerID,
		repo:          repo,
		blobs:         blobs,
		cache:         recordCache,
		blobURLPrefix: strings.TrimSuffix(blobURLPrefix, "/"),
		logger:        logger,
	}
}

// Warm performs the initial cache load. A failure leaves the cache empty
// and stale; the caller decides whether that is fatal.
func (s *RecordService) Warm(ctx context.Context) error {
	return s.cache.Refresh(ctx)
}

// List returns the cached records in display order plus the staleness flag.
func (s *RecordService) List() ([]*record.MedicalRecord, bool) {
	stale, _ := s.cache.Stale()
	return s.cache.Records(), stale
}

// Get returns one cached record.
func (s *RecordService) Get(id string) (*record.MedicalRecord, error) {
	rec := s.cache.Get(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrRecordNotFound, id)
	}
	return rec, nil
}

// Refresh re-reads the owner's records from the backend. On failure the
// cache keeps serving its last known good contents.
func (s *RecordService) Refresh(ctx context.Context) error {
	return s.cache.Refresh(ctx)
}

// Update replaces a record's metadata in the backend and mirrors the
// result into the cache. The attachment and interpretation are immutable
// after creation and are carried over from the stored record.
func (s *RecordService) Update(ctx context.Context, rec *record.MedicalRecord) error {
	existing, err := s.owned(ctx, rec.ID)
	if err != nil {
		return err
	}

	rec.OwnerID = s.ownerID
	rec.Attachment = existing.Attachment
	rec.Interpretation = existing.Interpretation
	rec.CreatedAt = existing.CreatedAt

	if err := s.repo.Update(ctx, rec); err != nil {
		return err
	}
	s.cache.Upsert(rec)
	return nil
}

// Delete removes a record from the backend, best-effort deletes its
// attachment blob, and drops it from the cache. The change feed will
// deliver the same removal again; the cache tolerates that.
func (s *RecordService) Delete(ctx context.Context, id string) error {
	existing, err := s.owned(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if existing.Attachment != nil {
		if path, ok := s.blobPath(existing.Attachment.URL); ok {
			if err := s.blobs.Delete(ctx, path); err != nil {
				s.logger.Warn("Failed to delete attachment blob",
					zap.String("record_id", id),
					zap.String("path", path),
					zap.Error(err))
			}
		}
	}

	s.cache.Remove(id)
	s.logger.Info("Record deleted",
		zap.String("record_id", id),
		zap.String("owner_id", s.ownerID))
	return nil
}

// owned fetches a record from the backend and enforces owner scoping.
// Records belonging to other owners are indistinguishable from missing.
func (s *RecordService) owned(ctx context.Context, id string) (*record.MedicalRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != s.ownerID {
		return nil, fmt.Errorf("%w: %s", repository.ErrRecordNotFound, id)
	}
	return rec, nil
}

// blobPath maps a record-visible attachment URL back to the store path.
func (s *RecordService) blobPath(url string) (string, bool) {
	if s.blobURLPrefix == "" || !strings.HasPrefix(url, s.blobURLPrefix+"/") {
		return "", false
	}
	return strings.TrimPrefix(url, s.blobURLPrefix+"/"), true
}
