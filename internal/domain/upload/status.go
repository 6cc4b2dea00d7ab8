// Package upload models the lifecycle of a single document submission:
// uploading -> processing -> {success | error}. Terminal states never
// transition back; a retry constructs a new job instead.
package upload

// Status represents a stage in the submission lifecycle.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

var validStatuses = map[Status]bool{
	StatusUploading:  true,
	StatusProcessing: true,
	StatusSuccess:    true,
	StatusError:      true,
}

var terminalStatuses = map[Status]bool{
	StatusSuccess: true,
	StatusError:   true,
}

// IsTerminal returns true if no further transitions are allowed from the status.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsValid returns true if the status is a valid lifecycle stage.
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Trigger represents an event that can cause a status transition.
type Trigger string

const (
	TriggerUploadDone Trigger = "UPLOAD_DONE"
	TriggerComplete   Trigger = "COMPLETE"
	TriggerFail       Trigger = "FAIL"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
