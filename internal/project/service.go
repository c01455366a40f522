package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sanctum.org/internal/access"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/ids"
)

var (
	ErrInvalidInput = errors.New("project: invalid input")
	ErrNotFound     = errors.New("project: not found")
	ErrConflict     = errors.New("project: resource conflict")
	ErrDenied       = errors.New("project: insufficient clearance")
)

// SubjectResolver loads the access-rule matching shape for an actor.
// Satisfied by identity.Service.
type SubjectResolver interface {
	Subject(ctx context.Context, userID string) (access.Subject, error)
}

// Service enforces the clearance gates around project CRUD, team
// assignments, access rules, and the logbook.
type Service struct {
	store    Store
	subjects SubjectResolver
}

func NewService(store Store, subjects SubjectResolver) (*Service, error) {
	if store == nil {
		return nil, errors.New("project store is required")
	}
	if subjects == nil {
		return nil, errors.New("subject resolver is required")
	}
	return &Service{store: store, subjects: subjects}, nil
}

// CreateInput is the direct project creation payload.
type CreateInput struct {
	Name          string
	Codename      string
	ObjectClass   string
	SecurityClass access.SecurityClass
	ThreatLevel   ThreatLevel
	Description   string
	Procedures    string
	Protocols     string
}

// Create opens a new project. The actor needs the creation capability and
// may not classify the project beyond their own clearance; the creator
// becomes the project lead.
func (s *Service) Create(ctx context.Context, actor auth.Principal, input CreateInput) (*Project, error) {
	if !access.CanCreateProject(actor.Clearance) {
		return nil, ErrDenied
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	if !access.ValidClass(input.SecurityClass) {
		return nil, fmt.Errorf("%w: unknown security class %q", ErrInvalidInput, input.SecurityClass)
	}
	// The classification ceiling: creating a project you could not read is
	// not permitted regardless of the creation capability.
	if !access.CanReadClass(actor.Clearance, input.SecurityClass) {
		return nil, ErrDenied
	}
	threat := input.ThreatLevel
	if threat == "" {
		threat = ThreatWhite
	}
	if !ValidThreatLevel(threat) {
		return nil, fmt.Errorf("%w: unknown threat level %q", ErrInvalidInput, threat)
	}

	p := &Project{
		ID:            ids.New(),
		ProjectCode:   ids.ProjectCode(),
		Name:          name,
		Codename:      strings.TrimSpace(input.Codename),
		ObjectClass:   strings.TrimSpace(input.ObjectClass),
		SecurityClass: input.SecurityClass,
		ThreatLevel:   threat,
		Status:        StatusActive,
		Progress:      0,
		Description:   input.Description,
		Procedures:    input.Procedures,
		Protocols:     input.Protocols,
		CreatedBy:     actor.UserID,
	}
	if err := s.store.Create(ctx, p, actor.UserID); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a project if the actor clears its classification or holds a
// matching supplementary grant.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, actor, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) checkRead(ctx context.Context, actor auth.Principal, p *Project) error {
	if access.Allowed(actor.Clearance, p.RequiredClearance()) {
		return nil
	}
	subject, err := s.subjects.Subject(ctx, actor.UserID)
	if err != nil {
		return err
	}
	rules, err := s.store.ListAccessRulesForTarget(ctx, p.ID)
	if err != nil {
		return err
	}
	plain := make([]access.Rule, 0, len(rules))
	for _, r := range rules {
		plain = append(plain, r.Rule)
	}
	if access.AnyGrants(plain, subject, p.ID) {
		return nil
	}
	return ErrDenied
}

// List returns projects the actor may read, optionally narrowed by status
// and class.
func (s *Service) List(ctx context.Context, actor auth.Principal, status Status, class access.SecurityClass) ([]*Project, error) {
	if status != "" && !ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if class != "" && !access.ValidClass(class) {
		return nil, fmt.Errorf("%w: unknown security class %q", ErrInvalidInput, class)
	}
	allowed := make([]access.SecurityClass, 0, 4)
	for _, c := range []access.SecurityClass{access.ClassGreen, access.ClassAmber, access.ClassRed, access.ClassBlack} {
		if access.CanReadClass(actor.Clearance, c) {
			allowed = append(allowed, c)
		}
	}
	if len(allowed) == 0 {
		return []*Project{}, nil
	}
	return s.store.List(ctx, ListFilter{
		Status:         status,
		SecurityClass:  class,
		AllowedClasses: allowed,
	})
}

// Update mutates a project. The actor must clear the classification AND be
// an editing team member (lead or researcher) or an administrator.
// Reclassification is re-validated against the new class so an update can
// never escalate a project beyond the actor's own clearance.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, upd Update) (*Project, error) {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkWrite(ctx, actor, p); err != nil {
		return nil, err
	}

	if upd.SecurityClass != nil {
		if !access.ValidClass(*upd.SecurityClass) {
			return nil, fmt.Errorf("%w: unknown security class %q", ErrInvalidInput, *upd.SecurityClass)
		}
		if !access.CanReadClass(actor.Clearance, *upd.SecurityClass) {
			return nil, ErrDenied
		}
	}
	if upd.Status != nil {
		if !ValidStatus(*upd.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *upd.Status)
		}
		if *upd.Status == StatusExpunged {
			return nil, fmt.Errorf("%w: expunging requires the dedicated operation", ErrInvalidInput)
		}
	}
	if upd.ThreatLevel != nil && !ValidThreatLevel(*upd.ThreatLevel) {
		return nil, fmt.Errorf("%w: unknown threat level %q", ErrInvalidInput, *upd.ThreatLevel)
	}
	if upd.Progress != nil && (*upd.Progress < 0 || *upd.Progress > 100) {
		return nil, fmt.Errorf("%w: progress must be within 0..100", ErrInvalidInput)
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}

	return s.store.Update(ctx, id, upd)
}

func (s *Service) checkWrite(ctx context.Context, actor auth.Principal, p *Project) error {
	if access.CanAdminister(actor.Clearance) {
		return nil
	}
	a, err := s.store.GetAssignment(ctx, p.ID, actor.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if a != nil && (a.Role == RoleLead || a.Role == RoleResearcher) {
		return nil
	}
	granted, err := s.ruleGrantsRole(ctx, actor, p, RoleLead, RoleResearcher)
	if err != nil {
		return err
	}
	if granted {
		return nil
	}
	return ErrDenied
}

// ruleGrantsRole checks the supplementary grants for one conferring any of
// the given roles on this project.
func (s *Service) ruleGrantsRole(ctx context.Context, actor auth.Principal, p *Project, roles ...Role) (bool, error) {
	subject, err := s.subjects.Subject(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	stored, err := s.store.ListAccessRulesForTarget(ctx, p.ID)
	if err != nil {
		return false, err
	}
	plain := make([]access.Rule, 0, len(stored))
	for _, r := range stored {
		plain = append(plain, r.Rule)
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return access.GrantsRole(plain, subject, p.ID, names...), nil
}

// Expunge is the only deletion path and is reserved for administrators.
func (s *Service) Expunge(ctx context.Context, actor auth.Principal, id string) error {
	if !access.CanAdminister(actor.Clearance) {
		return ErrDenied
	}
	status := StatusExpunged
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	_, err := s.store.Update(ctx, id, Update{Status: &status})
	return err
}

// Assign adds or changes a team member. Only the project lead or an
// administrator may manage the team; the single-lead invariant is enforced.
func (s *Service) Assign(ctx context.Context, actor auth.Principal, projectID, userID string, role Role) (*Assignment, error) {
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	p, err := s.Get(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTeamAdmin(ctx, actor, p); err != nil {
		return nil, err
	}
	a := &Assignment{ProjectID: p.ID, UserID: userID, Role: role}
	if err := s.store.UpsertAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Unassign removes a team member.
func (s *Service) Unassign(ctx context.Context, actor auth.Principal, projectID, userID string) error {
	p, err := s.Get(ctx, actor, projectID)
	if err != nil {
		return err
	}
	if err := s.checkTeamAdmin(ctx, actor, p); err != nil {
		return err
	}
	return s.store.RemoveAssignment(ctx, p.ID, userID)
}

func (s *Service) checkTeamAdmin(ctx context.Context, actor auth.Principal, p *Project) error {
	if access.CanAdminister(actor.Clearance) {
		return nil
	}
	a, err := s.store.GetAssignment(ctx, p.ID, actor.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if a != nil && a.Role == RoleLead {
		return nil
	}
	granted, err := s.ruleGrantsRole(ctx, actor, p, RoleLead)
	if err != nil {
		return err
	}
	if granted {
		return nil
	}
	return ErrDenied
}

// Assignments lists the team for a readable project.
func (s *Service) Assignments(ctx context.Context, actor auth.Principal, projectID string) ([]*Assignment, error) {
	p, err := s.Get(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAssignments(ctx, p.ID)
}

// Rules lists the supplementary grants touching a project. Only those who
// can manage the team may see them.
func (s *Service) Rules(ctx context.Context, actor auth.Principal, projectID string) ([]*AccessRule, error) {
	p, err := s.Get(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTeamAdmin(ctx, actor, p); err != nil {
		return nil, err
	}
	return s.store.ListAccessRulesForTarget(ctx, p.ID)
}

// AddAccessRule records a supplementary grant. Administrators may add any
// rule; a project lead may add rules scoped to their own project.
func (s *Service) AddAccessRule(ctx context.Context, actor auth.Principal, rule access.Rule) (*AccessRule, error) {
	switch rule.Kind {
	case access.RuleUser, access.RuleDepartment, access.RuleRank:
		if strings.TrimSpace(rule.SubjectID) == "" {
			return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
		}
	case access.RuleClearance:
		if rule.MinClearance < 0 || rule.MinClearance > auth.MaxClearance {
			return nil, fmt.Errorf("%w: min clearance must be within 0..%d", ErrInvalidInput, auth.MaxClearance)
		}
	default:
		return nil, fmt.Errorf("%w: unknown rule kind %q", ErrInvalidInput, rule.Kind)
	}
	if rule.Role != "" && !ValidRole(Role(rule.Role)) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, rule.Role)
	}

	if !access.CanAdminister(actor.Clearance) {
		if rule.TargetID == "" {
			return nil, ErrDenied
		}
		p, err := s.store.Get(ctx, rule.TargetID)
		if err != nil {
			return nil, err
		}
		if err := s.checkTeamAdmin(ctx, actor, p); err != nil {
			return nil, err
		}
	}

	rule.ID = ids.New()
	stored := &AccessRule{Rule: rule, CreatedBy: actor.UserID}
	if err := s.store.CreateAccessRule(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// AppendLogbookInput is the logbook creation payload.
type AppendLogbookInput struct {
	EntryType          EntryType
	Text               string
	RedactedText       *string
	MinClearanceToView int
}

// AppendLogbook appends an entry. Any assigned team member may write, as
// may unassigned oversight staff at the audit threshold and anyone a
// supplementary rule places on the team.
func (s *Service) AppendLogbook(ctx context.Context, actor auth.Principal, projectID string, input AppendLogbookInput) (*LogbookEntry, error) {
	p, err := s.Get(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if !access.CanAuditLogbook(actor.Clearance) {
		_, err := s.store.GetAssignment(ctx, p.ID, actor.UserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if errors.Is(err, ErrNotFound) {
			granted, gerr := s.ruleGrantsRole(ctx, actor, p, RoleLead, RoleResearcher, RoleAssistant, RoleObserver)
			if gerr != nil {
				return nil, gerr
			}
			if !granted {
				return nil, ErrDenied
			}
		}
	}
	if !ValidEntryType(input.EntryType) {
		return nil, fmt.Errorf("%w: unknown entry type %q", ErrInvalidInput, input.EntryType)
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, fmt.Errorf("%w: entry text is required", ErrInvalidInput)
	}
	if input.MinClearanceToView < 0 || input.MinClearanceToView > auth.MaxClearance {
		return nil, fmt.Errorf("%w: min clearance must be within 0..%d", ErrInvalidInput, auth.MaxClearance)
	}

	e := &LogbookEntry{
		ID:                 ids.New(),
		ProjectID:          p.ID,
		AuthorID:           actor.UserID,
		EntryType:          input.EntryType,
		Text:               input.Text,
		RedactedText:       input.RedactedText,
		MinClearanceToView: input.MinClearanceToView,
	}
	if err := s.store.AppendLogbookEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Logbook lists entries for a readable project, substituting the redacted
// view for entries above the actor's clearance.
func (s *Service) Logbook(ctx context.Context, actor auth.Principal, projectID string) ([]*LogbookEntry, error) {
	p, err := s.Get(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListLogbookEntries(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if access.Allowed(actor.Clearance, e.MinClearanceToView) {
			continue
		}
		e.Redacted = true
		if e.RedactedText != nil {
			e.Text = *e.RedactedText
		} else {
			e.Text = "[DATA EXPUNGED]"
		}
	}
	return entries, nil
}
