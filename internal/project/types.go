package project

import (
	"time"

	"sanctum.org/internal/access"
)

// Status is the project lifecycle state. Expunged is the only terminal
// state and the only form of deletion.
type Status string

const (
	StatusActive    Status = "active"
	StatusReview    Status = "review"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
	StatusExpunged  Status = "expunged"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusReview, StatusSuspended, StatusArchived, StatusExpunged:
		return true
	}
	return false
}

// ThreatLevel is the six-point hazard scale.
type ThreatLevel string

const (
	ThreatWhite  ThreatLevel = "white"
	ThreatBlue   ThreatLevel = "blue"
	ThreatYellow ThreatLevel = "yellow"
	ThreatOrange ThreatLevel = "orange"
	ThreatRed    ThreatLevel = "red"
	ThreatBlack  ThreatLevel = "black"
)

func ValidThreatLevel(t ThreatLevel) bool {
	switch t {
	case ThreatWhite, ThreatBlue, ThreatYellow, ThreatOrange, ThreatRed, ThreatBlack:
		return true
	}
	return false
}

// Role is the assignment role on a project team.
type Role string

const (
	RoleLead       Role = "lead"
	RoleResearcher Role = "researcher"
	RoleAssistant  Role = "assistant"
	RoleObserver   Role = "observer"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleLead, RoleResearcher, RoleAssistant, RoleObserver:
		return true
	}
	return false
}

// EntryType classifies a logbook entry.
type EntryType string

const (
	EntryObservation EntryType = "observation"
	EntryExperiment  EntryType = "experiment"
	EntryIncident    EntryType = "incident"
	EntryNote        EntryType = "note"
	EntryAddendum    EntryType = "addendum"
	EntryInterview   EntryType = "interview"
)

func ValidEntryType(t EntryType) bool {
	switch t {
	case EntryObservation, EntryExperiment, EntryIncident, EntryNote, EntryAddendum, EntryInterview:
		return true
	}
	return false
}

// Project is the unit of research work.
type Project struct {
	ID            string               `json:"id"`
	ProjectCode   string               `json:"project_code"`
	Name          string               `json:"name"`
	Codename      string               `json:"codename,omitempty"`
	ObjectClass   string               `json:"object_class,omitempty"`
	SecurityClass access.SecurityClass `json:"security_class"`
	ThreatLevel   ThreatLevel          `json:"threat_level"`
	Status        Status               `json:"status"`
	Progress      int                  `json:"progress"`
	Description   string               `json:"description,omitempty"`
	Procedures    string               `json:"procedures,omitempty"`
	Protocols     string               `json:"protocols,omitempty"`
	CreatedBy     string               `json:"created_by"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// RequiredClearance is the project's effective minimum clearance.
func (p *Project) RequiredClearance() int {
	return access.RequiredClearance(p.SecurityClass)
}

// Assignment joins a user to a project team. At most one lead per project.
type Assignment struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessRule persists an additive grant with provenance.
type AccessRule struct {
	access.Rule
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// LogbookEntry is an append-only, per-project record. EntryNumber is
// assigned by the store inside the insert transaction.
type LogbookEntry struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	EntryNumber        int       `json:"entry_number"`
	AuthorID           string    `json:"author_id"`
	EntryType          EntryType `json:"entry_type"`
	Text               string    `json:"text"`
	RedactedText       *string   `json:"-"`
	MinClearanceToView int       `json:"min_clearance_to_view,omitempty"`
	Redacted           bool      `json:"redacted,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Update carries partial project mutations. Nil fields are untouched.
type Update struct {
	Name          *string
	Codename      *string
	ObjectClass   *string
	SecurityClass *access.SecurityClass
	ThreatLevel   *ThreatLevel
	Status        *Status
	Progress      *int
	Description   *string
	Procedures    *string
	Protocols     *string
}

// ListFilter narrows project listings.
type ListFilter struct {
	Status         Status
	SecurityClass  access.SecurityClass
	AllowedClasses []access.SecurityClass
}
