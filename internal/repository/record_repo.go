// Package repository is the record backend adapter: relational persistence
// for record metadata plus post-commit publication into the change feed.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/changefeed"
	"github.com/careloop/medvault/internal/domain/record"
	"github.com/careloop/medvault/pkg/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations exposes the schema migrations for the migrator.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrRecordNotFound is returned when no record has the requested ID.
var ErrRecordNotFound = errors.New("record not found")

// RecordRepository persists medical records. Writes publish a change event
// after the statement commits, never before.
type RecordRepository struct {
	db     *database.DB
	feed   *changefeed.Feed
	logger *zap.Logger
}

// NewRecordRepository creates a record repository. feed may be nil, in
// which case no change events are published.
func NewRecordRepository(db *database.DB, feed *changefeed.Feed, logger *zap.Logger) *RecordRepository {
	return &RecordRepository{db: db, feed: feed, logger: logger}
}

// Create inserts a record and publishes an insert event.
func (r *RecordRepository) Create(ctx context.Context, rec *record.MedicalRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	attachment := attachmentColumns(rec.Attachment)
	actions, warnings, explanation, err := interpretationColumns(rec.Interpretation)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO medical_records (
			id, owner_id, title, record_type, facility_name, visit_date, notes,
			attachment_url, attachment_file_name, attachment_size_bytes, attachment_mime_type,
			explanation, recommended_actions, attention_indicators, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Title, string(rec.RecordType), rec.FacilityName,
		rec.VisitDate.UTC(), rec.Notes,
		attachment.url, attachment.fileName, attachment.sizeBytes, attachment.mimeType,
		explanation, actions, warnings, rec.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert record",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return fmt.Errorf("failed to insert record: %w", err)
	}

	r.logger.Info("Record created",
		zap.String("record_id", rec.ID),
		zap.String("owner_id", rec.OwnerID),
		zap.String("record_type", string(rec.RecordType)))

	r.publish(ctx, rec.OwnerID, record.ChangeEvent{
		Kind:     record.ChangeInsert,
		RecordID: rec.ID,
		Payload:  rec,
	})
	return nil
}

// Update replaces a record in full and publishes an update event. There
// are no partial patches.
func (r *RecordRepository) Update(ctx context.Context, rec *record.MedicalRecord) error {
	attachment := attachmentColumns(rec.Attachment)
	actions, warnings, explanation, err := interpretationColumns(rec.Interpretation)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE medical_records SET
			title = ?, record_type = ?, facility_name = ?, visit_date = ?, notes = ?,
			attachment_url = ?, attachment_file_name = ?, attachment_size_bytes = ?, attachment_mime_type = ?,
			explanation = ?, recommended_actions = ?, attention_indicators = ?
		WHERE id = ?`,
		rec.Title, string(rec.RecordType), rec.FacilityName, rec.VisitDate.UTC(), rec.Notes,
		attachment.url, attachment.fileName, attachment.sizeBytes, attachment.mimeType,
		explanation, actions, warnings,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, rec.ID)
	}

	r.publish(ctx, rec.OwnerID, record.ChangeEvent{
		Kind:     record.ChangeUpdate,
		RecordID: rec.ID,
		Payload:  rec,
	})
	return nil
}

// Delete removes a record and publishes a delete event.
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	rec, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, "DELETE FROM medical_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	r.logger.Info("Record deleted",
		zap.String("record_id", id),
		zap.String("owner_id", rec.OwnerID))

	r.publish(ctx, rec.OwnerID, record.ChangeEvent{
		Kind:     record.ChangeDelete,
		RecordID: id,
	})
	return nil
}

// GetByID fetches one record.
func (r *RecordRepository) GetByID(ctx context.Context, id string) (*record.MedicalRecord, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}
	return rec, nil
}

// ListByOwner returns all of an owner's records, visit date descending
// with newest-created first on ties.
func (r *RecordRepository) ListByOwner(ctx context.Context, ownerID string) ([]*record.MedicalRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectColumns+" WHERE owner_id = ? ORDER BY visit_date DESC, created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*record.MedicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *RecordRepository) publish(ctx context.Context, ownerID string, evt record.ChangeEvent) {
	if r.feed == nil {
		return
	}
	r.feed.Publish(ctx, ownerID, evt)
}

const selectColumns = `
	SELECT id, owner_id, title, record_type, facility_name, visit_date, notes,
		attachment_url, attachment_file_name, attachment_size_bytes, attachment_mime_type,
		explanation, recommended_actions, attention_indicators, created_at
	FROM medical_records`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*record.MedicalRecord, error) {
	var (
		rec           record.MedicalRecord
		recordType    string
		attURL        sql.NullString
		attName       sql.NullString
		attSize       sql.NullInt64
		attMime       sql.NullString
		explanation   sql.NullString
		actionsJSON   sql.NullString
		warningsJSON  sql.NullString
	)

	err := s.Scan(
		&rec.ID, &rec.OwnerID, &rec.Title, &recordType, &rec.FacilityName,
		&rec.VisitDate, &rec.Notes,
		&attURL, &attName, &attSize, &attMime,
		&explanation, &actionsJSON, &warningsJSON,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.RecordType = record.Type(recordType)

	if attURL.Valid {
		rec.Attachment = &record.Attachment{
			URL:       attURL.String,
			FileName:  attName.String,
			SizeBytes: attSize.Int64,
			MimeType:  attMime.String,
		}
	}

	if explanation.Valid {
		interp := &record.Interpretation{
			Explanation:         explanation.String,
			RecommendedActions:  []string{},
			AttentionIndicators: []string{},
		}
		if actionsJSON.Valid && actionsJSON.String != "" {
			if err := json.Unmarshal([]byte(actionsJSON.String), &interp.RecommendedActions); err != nil {
				return nil, fmt.Errorf("corrupt recommended_actions for %s: %w", rec.ID, err)
			}
		}
		if warningsJSON.Valid && warningsJSON.String != "" {
			if err := json.Unmarshal([]byte(warningsJSON.String), &interp.AttentionIndicators); err != nil {
				return nil, fmt.Errorf("corrupt attention_indicators for %s: %w", rec.ID, err)
			}
		}
		rec.Interpretation = interp
	}

	return &rec, nil
}

type attachmentCols struct {
	url       sql.NullString
	fileName  sql.NullString
	sizeBytes sql.NullInt64
	mimeType  sql.NullString
}

func attachmentColumns(a *record.Attachment) attachmentCols {
	if a == nil {
		return attachmentCols{}
	}
	return attachmentCols{
		url:       sql.NullString{String: a.URL, Valid: true},
		fileName:  sql.NullString{String: a.FileName, Valid: true},
		sizeBytes: sql.NullInt64{Int64: a.SizeBytes, Valid: true},
		mimeType:  sql.NullString{String: a.MimeType, Valid: true},
	}
}

func interpretationColumns(i *record.Interpretation) (actions, warnings, explanation sql.NullString, err error) {
	if i == nil {
		return
	}

	actionBytes, err := json.Marshal(i.RecommendedActions)
	if err != nil {
		return actions, warnings, explanation, fmt.Errorf("failed to marshal recommended actions: %w", err)
	}
	warningBytes, err := json.Marshal(i.AttentionIndicators)
	if err != nil {
		return actions, warnings, explanation, fmt.Errorf("failed to marshal attention indicators: %w", err)
	}

	explanation = sql.NullString{String: i.Explanation, Valid: true}
	actions = sql.NullString{String: string(actionBytes), Valid: true}
	warnings = sql.NullString{String: string(warningBytes), Valid: true}
	return
}
