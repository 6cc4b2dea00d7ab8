package uploader

import "errors"

var (
	// ErrUnsupportedFileType is returned before any network call when the
	// file's MIME type is not accepted.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrFileTooLarge is returned before any network call when the file
	// exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrInvalidDraft is returned when the metadata draft is incomplete.
	ErrInvalidDraft = errors.New("invalid record draft")

	// ErrJobNotFound is returned for cancel/retry of an unknown job ID.
	ErrJobNotFound = errors.New("upload job not found")

	// ErrNotRetryable is returned when retry is requested for a job that
	// is not in the error state.
	ErrNotRetryable = errors.New("job is not in a retryable state")
)
