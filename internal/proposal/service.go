package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sanctum.org/internal/access"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/ids"
	"sanctum.org/internal/project"
)

var (
	ErrInvalidInput      = errors.New("proposal: invalid input")
	ErrNotFound          = errors.New("proposal: not found")
	ErrConflict          = errors.New("proposal: resource conflict")
	ErrDenied            = errors.New("proposal: insufficient clearance")
	ErrInvalidTransition = errors.New("proposal: invalid status transition")
)

// Service runs the proposal workflow. The proposal path is open to any
// authenticated account regardless of clearance; reviewers gate what gets
// materialized.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("proposal store is required")
	}
	return &Service{store: store}, nil
}

// CreateInput is the submission payload.
type CreateInput struct {
	Name          string
	Codename      string
	ObjectClass   string
	SecurityClass access.SecurityClass
	ThreatLevel   project.ThreatLevel
	Description   string
	Justification string
	EstimatedRes  string
	Timeline      string
	Departments   []DepartmentLink
	Requirements  []ClearanceRequirement
}

// Create submits a new proposal in the pending state.
func (s *Service) Create(ctx context.Context, actor auth.Principal, input CreateInput) (*Proposal, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: proposal name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Justification) == "" {
		return nil, fmt.Errorf("%w: justification is required", ErrInvalidInput)
	}
	if !access.ValidClass(input.SecurityClass) {
		return nil, fmt.Errorf("%w: unknown security class %q", ErrInvalidInput, input.SecurityClass)
	}
	threat := input.ThreatLevel
	if threat == "" {
		threat = project.ThreatWhite
	}
	if !project.ValidThreatLevel(threat) {
		return nil, fmt.Errorf("%w: unknown threat level %q", ErrInvalidInput, threat)
	}
	departments, err := normalizeDepartments(input.Departments)
	if err != nil {
		return nil, err
	}
	requirements, err := normalizeRequirements(input.Requirements)
	if err != nil {
		return nil, err
	}

	p := &Proposal{
		ID:            ids.New(),
		SubmitterID:   actor.UserID,
		Name:          name,
		Codename:      strings.TrimSpace(input.Codename),
		ObjectClass:   strings.TrimSpace(input.ObjectClass),
		SecurityClass: input.SecurityClass,
		ThreatLevel:   threat,
		Description:   input.Description,
		Justification: input.Justification,
		EstimatedRes:  input.EstimatedRes,
		Timeline:      input.Timeline,
		Status:        StatusPending,
		Departments:   departments,
		Requirements:  requirements,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a proposal visible to the actor: the submitter or a reviewer.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Proposal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: proposal id is required", ErrInvalidInput)
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.SubmitterID != actor.UserID && !access.CanReview(actor.Clearance) {
		return nil, ErrDenied
	}
	return p, nil
}

// List returns the actor's own proposals, or all of them for reviewers.
func (s *Service) List(ctx context.Context, actor auth.Principal) ([]*Proposal, error) {
	if access.CanReview(actor.Clearance) {
		return s.store.ListAll(ctx)
	}
	return s.store.ListBySubmitter(ctx, actor.UserID)
}

// UpdateContent applies submitter edits. Only the submitter may edit, only
// while the status is pending or revision; editing in revision flips the
// proposal back to pending.
func (s *Service) UpdateContent(ctx context.Context, actor auth.Principal, id string, upd ContentUpdate) (*Proposal, error) {
	p, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if p.SubmitterID != actor.UserID {
		return nil, ErrDenied
	}
	if !p.Status.Editable() {
		return nil, fmt.Errorf("%w: proposal is %s", ErrInvalidTransition, p.Status)
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: proposal name is required", ErrInvalidInput)
	}
	if upd.Justification != nil && strings.TrimSpace(*upd.Justification) == "" {
		return nil, fmt.Errorf("%w: justification is required", ErrInvalidInput)
	}
	if upd.SecurityClass != nil && !access.ValidClass(*upd.SecurityClass) {
		return nil, fmt.Errorf("%w: unknown security class %q", ErrInvalidInput, *upd.SecurityClass)
	}
	if upd.ThreatLevel != nil && !project.ValidThreatLevel(*upd.ThreatLevel) {
		return nil, fmt.Errorf("%w: unknown threat level %q", ErrInvalidInput, *upd.ThreatLevel)
	}
	if upd.Departments != nil {
		if upd.Departments, err = normalizeDepartments(upd.Departments); err != nil {
			return nil, err
		}
	}
	if upd.Requirements != nil {
		if upd.Requirements, err = normalizeRequirements(upd.Requirements); err != nil {
			return nil, err
		}
	}

	// Any owner edit while in revision lands the proposal back in pending.
	return s.store.UpdateContent(ctx, p.ID, upd, StatusPending)
}

// StartReview moves a pending proposal under review.
func (s *Service) StartReview(ctx context.Context, actor auth.Principal, id string, adminNotes string) (*Proposal, error) {
	if !access.CanReview(actor.Clearance) {
		return nil, ErrDenied
	}
	stamp := ReviewStamp{Status: StatusUnderReview, ReviewerID: actor.UserID}
	if notes := strings.TrimSpace(adminNotes); notes != "" {
		stamp.AdminNotes = &notes
	}
	return s.store.Transition(ctx, id, []Status{StatusPending}, stamp)
}

// RequestRevision sends a pending proposal back to its submitter.
func (s *Service) RequestRevision(ctx context.Context, actor auth.Principal, id, revisionNotes string) (*Proposal, error) {
	if !access.CanReview(actor.Clearance) {
		return nil, ErrDenied
	}
	revisionNotes = strings.TrimSpace(revisionNotes)
	if revisionNotes == "" {
		return nil, fmt.Errorf("%w: revision notes are required", ErrInvalidInput)
	}
	return s.store.Transition(ctx, id, []Status{StatusPending, StatusUnderReview}, ReviewStamp{
		Status:        StatusRevision,
		ReviewerID:    actor.UserID,
		RevisionNotes: &revisionNotes,
	})
}

// Reject terminally declines a pending proposal.
func (s *Service) Reject(ctx context.Context, actor auth.Principal, id, rejectionReason string) (*Proposal, error) {
	if !access.CanReview(actor.Clearance) {
		return nil, ErrDenied
	}
	rejectionReason = strings.TrimSpace(rejectionReason)
	if rejectionReason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	return s.store.Transition(ctx, id, []Status{StatusPending, StatusUnderReview}, ReviewStamp{
		Status:          StatusRejected,
		ReviewerID:      actor.UserID,
		RejectionReason: &rejectionReason,
	})
}

// Approve materializes the proposal into a project. This is the only
// approval path and it is atomic: a proposal can never be approved twice,
// and an approved proposal always points at exactly one created project.
func (s *Service) Approve(ctx context.Context, actor auth.Principal, id string) (*Proposal, *project.Project, error) {
	if !access.CanReview(actor.Clearance) {
		return nil, nil, ErrDenied
	}
	p, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, nil, err
	}

	created := &project.Project{
		ID:            ids.New(),
		ProjectCode:   ids.ProjectCode(),
		Name:          p.Name,
		Codename:      p.Codename,
		ObjectClass:   p.ObjectClass,
		SecurityClass: p.SecurityClass,
		ThreatLevel:   p.ThreatLevel,
		Status:        project.StatusActive,
		Description:   p.Description,
		CreatedBy:     p.SubmitterID,
	}
	approved, err := s.store.Approve(ctx, p.ID, actor.UserID, created)
	if err != nil {
		return nil, nil, err
	}
	return approved, created, nil
}

// Delete removes a proposal. The submitter may delete only while it is
// still pending; administrators may delete unconditionally.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	p, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if access.CanAdminister(actor.Clearance) {
		return s.store.Delete(ctx, p.ID)
	}
	if p.SubmitterID != actor.UserID {
		return ErrDenied
	}
	if p.Status != StatusPending {
		return fmt.Errorf("%w: only pending proposals can be withdrawn", ErrInvalidTransition)
	}
	return s.store.Delete(ctx, p.ID)
}

func normalizeDepartments(links []DepartmentLink) ([]DepartmentLink, error) {
	seen := make(map[string]struct{}, len(links))
	primaries := 0
	out := make([]DepartmentLink, 0, len(links))
	for _, l := range links {
		id := strings.TrimSpace(l.DepartmentID)
		if id == "" {
			return nil, fmt.Errorf("%w: department id is required", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate department %s", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		if l.Primary {
			primaries++
		}
		out = append(out, DepartmentLink{DepartmentID: id, Primary: l.Primary})
	}
	if primaries > 1 {
		return nil, fmt.Errorf("%w: at most one primary department", ErrInvalidInput)
	}
	return out, nil
}

func normalizeRequirements(reqs []ClearanceRequirement) ([]ClearanceRequirement, error) {
	out := make([]ClearanceRequirement, 0, len(reqs))
	for _, r := range reqs {
		if r.Level < 0 || r.Level > auth.MaxClearance {
			return nil, fmt.Errorf("%w: clearance requirement out of range: %d", ErrInvalidInput, r.Level)
		}
		out = append(out, ClearanceRequirement{Level: r.Level, Rationale: strings.TrimSpace(r.Rationale)})
	}
	return out, nil
}
