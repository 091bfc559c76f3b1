package model

// ErrorKind tags an error outcome so clients can render targeted guidance.
type ErrorKind string

const (
	ErrKindMissingFields  ErrorKind = "missing_fields"
	ErrKindInvalidEmail   ErrorKind = "invalid_email"
	ErrKindInvalidPhone   ErrorKind = "invalid_phone"
	ErrKindInvalidURL     ErrorKind = "invalid_url"
	ErrKindFieldTooLong   ErrorKind = "field_too_long"
	ErrKindOwnerNotFound  ErrorKind = "owner_not_found"
	ErrKindAccessDenied   ErrorKind = "access_denied"
	ErrKindAlreadyPresent ErrorKind = "already_present"
	ErrKindUpstream       ErrorKind = "upstream"
	ErrKindInternal       ErrorKind = "internal"
)

// Action records what the pipeline did with a successful record.
type Action string

const (
	// ActionCreated means a new lead and link were written.
	ActionCreated Action = "created"
	// ActionLinked means an existing lead was linked to the cadence.
	ActionLinked Action = "linked"
	// ActionPresent means the lead was already linked to the cadence.
	ActionPresent Action = "present"
)

// SuccessOutcome is a record that ended Created or Linked.
type SuccessOutcome struct {
	ExternalID string `json:"external_id"`
	LeadID     int64  `json:"lead_id"`
	CadenceID  int64  `json:"cadence_id"`
	Action     Action `json:"action"`
	Index      int    `json:"-"`
}

// ErrorOutcome is a record that ended Rejected.
type ErrorOutcome struct {
	ExternalID *string   `json:"external_id"`
	CadenceID  int64     `json:"cadence_id"`
	Message    string    `json:"message"`
	Kind       ErrorKind `json:"kind"`
	Index      int       `json:"-"`
}

// BatchResult is the folded outcome of one pipeline run.
type BatchResult struct {
	TotalSuccess   int              `json:"total_success"`
	TotalError     int              `json:"total_error"`
	TotalSkipped   int              `json:"total_skipped"`
	ElementSuccess []SuccessOutcome `json:"element_success"`
	ElementError   []ErrorOutcome   `json:"element_error"`
}
