package model

import "time"

// DefaultFormVersion is stamped on submissions whose template has no version.
const DefaultFormVersion = "1.0.0"

// FormSubmission is the durable record of one step's validated data.
type FormSubmission struct {
	ID        string             `json:"id,omitempty"`
	SessionID string             `json:"sessionId"`
	ProjectID string             `json:"projectId,omitempty"`
	ItemID    string             `json:"itemId,omitempty"`
	StepID    string             `json:"stepId"`
	FormID    string             `json:"formId"`
	FormData  map[string]any     `json:"formData"`
	Metadata  SubmissionMetadata `json:"metadata"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// SubmissionMetadata describes the circumstances of a submission.
type SubmissionMetadata struct {
	SubmittedAt      time.Time `json:"submittedAt"`
	FormVersion      string    `json:"formVersion"`
	UserID           string    `json:"userId,omitempty"`
	SalesOrderNumber string    `json:"salesOrderNumber,omitempty"`
	ItemNumber       string    `json:"itemNumber,omitempty"`
	ProductType      string    `json:"productType,omitempty"`
	IsRevision       bool      `json:"isRevision"`
	RenamedFrom      string    `json:"renamedFrom,omitempty"`
}

// Key returns the logical key of the submission: one durable record exists per
// session and step.
func (s *FormSubmission) Key() SubmissionKey {
	return SubmissionKey{SessionID: s.SessionID, StepID: s.StepID}
}

// SubmissionKey identifies a submission independently of its generated id.
type SubmissionKey struct {
	SessionID string
	StepID    string
}

// SubmissionFilter selects submissions for listing. SessionID takes
// precedence over SalesOrderNumber.
type SubmissionFilter struct {
	SessionID        string
	SalesOrderNumber string
	ItemNumber       string
}

// Empty reports whether no criterion is set.
func (f SubmissionFilter) Empty() bool {
	return f.SessionID == "" && f.SalesOrderNumber == ""
}

// PersistResult is returned by a successful persist.
type PersistResult struct {
	SubmissionID string `json:"submissionId"`
	Revision     bool   `json:"revision"`
}
