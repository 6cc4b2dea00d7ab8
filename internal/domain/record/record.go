// Package record defines the persisted medical record entity shared by the
// cache, the repository and the upload pipeline.
package record

import "time"

// Type classifies a medical record.
type Type string

const (
	TypePrescription Type = "prescription"
	TypeLabResult    Type = "lab_result"
	TypeScan         Type = "scan"
	TypeOther        Type = "other"
)

var validTypes = map[Type]bool{
	TypePrescription: true,
	TypeLabResult:    true,
	TypeScan:         true,
	TypeOther:        true,
}

// IsValid returns true if the type is one of the defined record types.
func (t Type) IsValid() bool {
	return validTypes[t]
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// Attachment references the blob backing a record. The record exclusively
// owns the reference; the blob itself is owned by the blob store.
type Attachment struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

// Interpretation is the structured result of analyzing a document. It is
// always fully populated; the parser substitutes defaults rather than
// returning partial data.
type Interpretation struct {
	Explanation         string   `json:"explanation"`
	RecommendedActions  []string `json:"recommended_actions"`
	AttentionIndicators []string `json:"attention_indicators"`
}

// MedicalRecord is a persisted record entity. Mutation is by full
// replacement only; there are no partial patches.
type MedicalRecord struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Title          string          `json:"title"`
	RecordType     Type            `json:"record_type"`
	FacilityName   string          `json:"facility_name"`
	VisitDate      time.Time       `json:"visit_date"`
	Notes          string          `json:"notes,omitempty"`
	Attachment     *Attachment     `json:"attachment,omitempty"`
	Interpretation *Interpretation `json:"interpretation,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ChangeKind identifies the kind of change carried by a ChangeEvent.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent describes an insert, update or delete made against the
// record backend. Events are transient: consumed once and discarded.
type ChangeEvent struct {
	Kind     ChangeKind     `json:"kind"`
	RecordID string         `json:"record_id"`
	Payload  *MedicalRecord `json:"payload,omitempty"`
}
