package uploader

import (
	"fmt"
	"time"

	"github.com/careloop/medvault/internal/domain/record"
)

// Draft is the metadata half of a submission.
type Draft struct {
	Title        string
	RecordType   record.Type
	FacilityName string
	VisitDate    time.Time
	Notes        string
}

// SubmittedFile is the optional document half of a submission.
type SubmittedFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// validateDraft rejects incomplete metadata before any network call.
func validateDraft(draft Draft) error {
	if draft.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidDraft)
	}
	if !draft.RecordType.IsValid() {
		return fmt.Errorf("%w: unknown record type %q", ErrInvalidDraft, string(draft.RecordType))
	}
	if draft.VisitDate.IsZero() {
		return fmt.Errorf("%w: visit date is required", ErrInvalidDraft)
	}
	return nil
}

// validateFile rejects disallowed files before any network call.
func (c *Controller) validateFile(file *SubmittedFile) error {
	if file == nil {
		return nil
	}
	if !c.config.allowed(file.MimeType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFileType, file.MimeType)
	}
	if c.config.MaxFileSize > 0 && int64(len(file.Data)) > c.config.MaxFileSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(file.Data), c.config.MaxFileSize)
	}
	return nil
}
