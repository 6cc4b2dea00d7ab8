package upload

import "github.com/careloop/medvault/internal/domain/record"

// Job is the ephemeral descriptor of one in-flight submission. It is never
// persisted; it lives in the controller's active set until dismissed.
type Job struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	// SizeBytes and MimeType are zero for metadata-only submissions.
	SizeBytes int64  `json:"size_bytes,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	Status Status `json:"status"`

	// UploadProgress and ProcessingProgress are independent axes in [0,100];
	// neither implies the other.
	UploadProgress     int `json:"upload_progress"`
	ProcessingProgress int `json:"processing_progress"`

	// ResultRecord is populated only on success.
	ResultRecord *record.MedicalRecord `json:"result_record,omitempty"`
	// ErrorMessage is populated only on error.
	ErrorMessage string `json:"error_message,omitempty"`
}
