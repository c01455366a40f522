package proposal

import (
	"time"

	"sanctum.org/internal/access"
	"sanctum.org/internal/project"
)

// Status is the proposal workflow state. Approved and rejected are terminal.
type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusRevision    Status = "revision"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusRevision, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may leave the state.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Editable reports whether the submitter may still edit content fields.
func (s Status) Editable() bool {
	return s == StatusPending || s == StatusRevision
}

// Proposal is a staged project awaiting review. Approval materializes a
// real project and records its id in CreatedProjectID.
type Proposal struct {
	ID            string               `json:"id"`
	SubmitterID   string               `json:"submitter_id"`
	Name          string               `json:"name"`
	Codename      string               `json:"codename,omitempty"`
	ObjectClass   string               `json:"object_class,omitempty"`
	SecurityClass access.SecurityClass `json:"security_class"`
	ThreatLevel   project.ThreatLevel  `json:"threat_level"`
	Description   string               `json:"description,omitempty"`
	Justification string               `json:"justification"`
	EstimatedRes  string               `json:"estimated_resources,omitempty"`
	Timeline      string               `json:"proposed_timeline,omitempty"`

	Status           Status     `json:"status"`
	AdminNotes       string     `json:"admin_notes,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
	RevisionNotes    string     `json:"revision_notes,omitempty"`
	ReviewedBy       *string    `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty"`
	CreatedProjectID *string    `json:"created_project_id,omitempty"`

	Departments  []DepartmentLink       `json:"departments,omitempty"`
	Requirements []ClearanceRequirement `json:"clearance_requirements,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DepartmentLink joins a proposal to a department; exactly one link may be
// flagged primary.
type DepartmentLink struct {
	DepartmentID string `json:"department_id"`
	Primary      bool   `json:"primary"`
}

// ClearanceRequirement states a level the proposed work will need, with a
// free-text rationale. Duplicates are permitted.
type ClearanceRequirement struct {
	Level     int    `json:"level"`
	Rationale string `json:"rationale,omitempty"`
}

// ContentUpdate carries submitter edits. Nil fields are untouched; the
// child sets, when present, replace the stored sets wholesale.
type ContentUpdate struct {
	Name          *string
	Codename      *string
	ObjectClass   *string
	SecurityClass *access.SecurityClass
	ThreatLevel   *project.ThreatLevel
	Description   *string
	Justification *string
	EstimatedRes  *string
	Timeline      *string
	Departments   []DepartmentLink
	Requirements  []ClearanceRequirement
}
