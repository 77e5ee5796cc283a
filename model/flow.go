package model

import "time"

// Flow session status constants.
const (
	FlowStatusActive    = "active"
	FlowStatusCompleted = "completed"
)

// Tab status constants.
const (
	TabStatusPending   = "pending"
	TabStatusActive    = "active"
	TabStatusCompleted = "completed"
	TabStatusSkipped   = "skipped"
)

// FlowState is the explicit state of one session's walk through a flow. The
// executor takes a FlowState and returns a new one; it never mutates its input.
type FlowState struct {
	SessionID     string          `json:"sessionId"`
	FlowID        string          `json:"flowId"`
	CurrentStepID string          `json:"currentStepId"`
	ViewStepID    string          `json:"viewStepId,omitempty"`
	Status        string          `json:"status"`
	Tabs          []Tab           `json:"tabs"`
	Actions       []ActionStatus  `json:"actions,omitempty"`
	Variables     Values          `json:"variables,omitempty"`
	Values        Values          `json:"values,omitempty"`
	IsRevision    bool            `json:"isRevision"`
	Metadata      SessionMetadata `json:"metadata"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Tab is the per-step display record of a data-collection step.
type Tab struct {
	StepID string `json:"stepId"`
	FormID string `json:"formId"`
	Label  string `json:"label"`
	Order  int    `json:"order"`
	Status string `json:"status"`
}

// ActionStatus records an action step the flow passed through.
type ActionStatus struct {
	StepID string `json:"stepId"`
	Order  int    `json:"order"`
	Status string `json:"status"`
}

// SessionMetadata carries the caller-supplied identifiers stamped on every
// submission of the session.
type SessionMetadata struct {
	UserID           string `json:"userId,omitempty"`
	ProjectID        string `json:"projectId,omitempty"`
	ItemID           string `json:"itemId,omitempty"`
	SalesOrderNumber string `json:"salesOrderNumber,omitempty"`
	ItemNumber       string `json:"itemNumber,omitempty"`
	ProductType      string `json:"productType,omitempty"`
}

// Completed reports whether the flow reached its terminal state.
func (s *FlowState) Completed() bool {
	return s.Status == FlowStatusCompleted
}

// Tab returns the tab of the given step or form id.
func (s *FlowState) Tab(id string) (Tab, bool) {
	for _, t := range s.Tabs {
		if t.StepID == id || t.FormID == id {
			return t, true
		}
	}
	return Tab{}, false
}

// Clone returns a deep copy so callers can derive a new state without
// touching the original.
func (s *FlowState) Clone() *FlowState {
	out := *s
	out.Tabs = append([]Tab(nil), s.Tabs...)
	out.Actions = append([]ActionStatus(nil), s.Actions...)
	out.Variables = s.Variables.Clone()
	out.Values = s.Values.Clone()
	return &out
}

// Progress summarizes how far a session is through its tabs.
type Progress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}
