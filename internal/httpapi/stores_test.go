package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sanctum.org/internal/covenant"
	"sanctum.org/internal/identity"
	"sanctum.org/internal/invite"
	"sanctum.org/internal/project"
	"sanctum.org/internal/proposal"
)

// In-memory store implementations backing the HTTP tests. Each mirrors
// the transactional guards of its PostgreSQL counterpart.

type fakeIdentityStore struct {
	mu          sync.Mutex
	users       map[string]*identity.User
	departments map[string]*identity.Department
	ranks       map[string]*identity.Rank
	memberships map[string][]identity.Membership
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{
		users:       make(map[string]*identity.User),
		departments: make(map[string]*identity.Department),
		ranks:       make(map[string]*identity.Rank),
		memberships: make(map[string][]identity.Membership),
	}
}

func (f *fakeIdentityStore) CreateUser(_ context.Context, u *identity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return identity.ErrConflict
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeIdentityStore) GetUser(_ context.Context, id string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeIdentityStore) GetUserByUsername(_ context.Context, username string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeIdentityStore) GetUserByEmail(_ context.Context, email string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeIdentityStore) UpdateUser(_ context.Context, id string, upd identity.UserUpdate) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.Title != nil {
		u.Title = *upd.Title
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Clearance != nil {
		u.ClearanceLevel = *upd.Clearance
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.IsVerified != nil {
		u.IsVerified = *upd.IsVerified
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (f *fakeIdentityStore) ListUsers(_ context.Context) ([]*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*identity.User, 0, len(f.users))
	for _, u := range f.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeIdentityStore) CreateDepartment(_ context.Context, d *identity.Department) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.departments[d.ID] = &cp
	return nil
}

func (f *fakeIdentityStore) GetDepartment(_ context.Context, id string) (*identity.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.departments[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeIdentityStore) ListDepartments(_ context.Context) ([]*identity.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*identity.Department, 0, len(f.departments))
	for _, d := range f.departments {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeIdentityStore) CreateRank(_ context.Context, r *identity.Rank) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.ranks[r.ID] = &cp
	return nil
}

func (f *fakeIdentityStore) GetRank(_ context.Context, id string) (*identity.Rank, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ranks[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeIdentityStore) ListRanks(_ context.Context, departmentID string) ([]*identity.Rank, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*identity.Rank
	for _, r := range f.ranks {
		if r.DepartmentID == departmentID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeIdentityStore) ReplaceMemberships(_ context.Context, userID string, memberships []identity.Membership, primaryDepartmentID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return identity.ErrNotFound
	}
	f.memberships[userID] = memberships
	u.PrimaryDepartmentID = primaryDepartmentID
	return nil
}

func (f *fakeIdentityStore) ListMemberships(_ context.Context, userID string) ([]*identity.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*identity.Membership
	for _, m := range f.memberships[userID] {
		cp := m
		out = append(out, &cp)
	}
	return out, nil
}

type fakeProjectStore struct {
	mu          sync.Mutex
	projects    map[string]*project.Project
	assignments map[string]map[string]*project.Assignment
	rules       []*project.AccessRule
	logbook     map[string][]*project.LogbookEntry
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{
		projects:    make(map[string]*project.Project),
		assignments: make(map[string]map[string]*project.Assignment),
		logbook:     make(map[string][]*project.LogbookEntry),
	}
}

func (f *fakeProjectStore) Create(_ context.Context, p *project.Project, leadUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	f.projects[p.ID] = &cp
	if leadUserID != "" {
		f.assignments[p.ID] = map[string]*project.Assignment{
			leadUserID: {ProjectID: p.ID, UserID: leadUserID, Role: project.RoleLead, CreatedAt: now},
		}
	}
	return nil
}

func (f *fakeProjectStore) Get(_ context.Context, id string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, project.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProjectStore) List(_ context.Context, filter project.ListFilter) ([]*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := make(map[string]bool, len(filter.AllowedClasses))
	for _, c := range filter.AllowedClasses {
		allowed[string(c)] = true
	}
	var out []*project.Project
	for _, p := range f.projects {
		if !allowed[string(p.SecurityClass)] {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.SecurityClass != "" && p.SecurityClass != filter.SecurityClass {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeProjectStore) Update(_ context.Context, id string, upd project.Update) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, project.ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.SecurityClass != nil {
		p.SecurityClass = *upd.SecurityClass
	}
	if upd.ThreatLevel != nil {
		p.ThreatLevel = *upd.ThreatLevel
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.Progress != nil {
		p.Progress = *upd.Progress
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (f *fakeProjectStore) UpsertAssignment(_ context.Context, a *project.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.Role == project.RoleLead {
		for _, existing := range f.assignments[a.ProjectID] {
			if existing.Role == project.RoleLead && existing.UserID != a.UserID {
				return fmt.Errorf("%w: project already has a lead", project.ErrConflict)
			}
		}
	}
	if f.assignments[a.ProjectID] == nil {
		f.assignments[a.ProjectID] = make(map[string]*project.Assignment)
	}
	a.CreatedAt = time.Now().UTC()
	cp := *a
	f.assignments[a.ProjectID][a.UserID] = &cp
	return nil
}

func (f *fakeProjectStore) RemoveAssignment(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.assignments[projectID][userID]; !ok {
		return project.ErrNotFound
	}
	delete(f.assignments[projectID], userID)
	return nil
}

func (f *fakeProjectStore) GetAssignment(_ context.Context, projectID, userID string) (*project.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[projectID][userID]
	if !ok {
		return nil, project.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeProjectStore) ListAssignments(_ context.Context, projectID string) ([]*project.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*project.Assignment
	for _, a := range f.assignments[projectID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeProjectStore) CreateAccessRule(_ context.Context, rule *project.AccessRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule.CreatedAt = time.Now().UTC()
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeProjectStore) ListAccessRulesForTarget(_ context.Context, targetID string) ([]*project.AccessRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*project.AccessRule
	for _, r := range f.rules {
		if r.TargetID == "" || r.TargetID == targetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeProjectStore) AppendLogbookEntry(_ context.Context, e *project.LogbookEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[e.ProjectID]; !ok {
		return project.ErrNotFound
	}
	e.EntryNumber = len(f.logbook[e.ProjectID]) + 1
	e.CreatedAt = time.Now().UTC()
	cp := *e
	f.logbook[e.ProjectID] = append(f.logbook[e.ProjectID], &cp)
	return nil
}

func (f *fakeProjectStore) ListLogbookEntries(_ context.Context, projectID string) ([]*project.LogbookEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*project.LogbookEntry
	for _, e := range f.logbook[projectID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

type fakeProposalStore struct {
	mu        sync.Mutex
	proposals map[string]*proposal.Proposal
	projects  *fakeProjectStore
}

func newFakeProposalStore(projects *fakeProjectStore) *fakeProposalStore {
	return &fakeProposalStore{
		proposals: make(map[string]*proposal.Proposal),
		projects:  projects,
	}
}

func (f *fakeProposalStore) Create(_ context.Context, p *proposal.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	f.proposals[p.ID] = &cp
	return nil
}

func (f *fakeProposalStore) Get(_ context.Context, id string) (*proposal.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, proposal.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProposalStore) ListBySubmitter(_ context.Context, submitterID string) ([]*proposal.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*proposal.Proposal
	for _, p := range f.proposals {
		if p.SubmitterID == submitterID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeProposalStore) ListAll(_ context.Context) ([]*proposal.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*proposal.Proposal
	for _, p := range f.proposals {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeProposalStore) UpdateContent(_ context.Context, id string, upd proposal.ContentUpdate, status proposal.Status) (*proposal.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, proposal.ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.SecurityClass != nil {
		p.SecurityClass = *upd.SecurityClass
	}
	if upd.Justification != nil {
		p.Justification = *upd.Justification
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Departments != nil {
		p.Departments = upd.Departments
	}
	if upd.Requirements != nil {
		p.Requirements = upd.Requirements
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (f *fakeProposalStore) Transition(_ context.Context, id string, from []proposal.Status, stamp proposal.ReviewStamp) (*proposal.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, proposal.ErrNotFound
	}
	matched := false
	for _, s := range from {
		if p.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: proposal is %s", proposal.ErrInvalidTransition, p.Status)
	}
	now := time.Now().UTC()
	p.Status = stamp.Status
	p.ReviewedBy = &stamp.ReviewerID
	p.ReviewedAt = &now
	if stamp.AdminNotes != nil {
		p.AdminNotes = *stamp.AdminNotes
	}
	if stamp.RejectionReason != nil {
		p.RejectionReason = *stamp.RejectionReason
	}
	if stamp.RevisionNotes != nil {
		p.RevisionNotes = *stamp.RevisionNotes
	}
	p.UpdatedAt = now
	cp := *p
	return &cp, nil
}

func (f *fakeProposalStore) Approve(ctx context.Context, id string, reviewerID string, created *project.Project) (*proposal.Proposal, error) {
	f.mu.Lock()
	p, ok := f.proposals[id]
	if !ok {
		f.mu.Unlock()
		return nil, proposal.ErrNotFound
	}
	if p.Status != proposal.StatusPending && p.Status != proposal.StatusUnderReview {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: proposal is %s", proposal.ErrInvalidTransition, p.Status)
	}
	submitter := p.SubmitterID
	f.mu.Unlock()

	if err := f.projects.Create(ctx, created, submitter); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	p.Status = proposal.StatusApproved
	p.ReviewedBy = &reviewerID
	p.ReviewedAt = &now
	p.CreatedProjectID = &created.ID
	p.UpdatedAt = now
	cp := *p
	return &cp, nil
}

func (f *fakeProposalStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.proposals[id]; !ok {
		return proposal.ErrNotFound
	}
	delete(f.proposals, id)
	return nil
}

type fakeInviteStore struct {
	mu       sync.Mutex
	byID     map[string]*invite.Invitation
	byToken  map[string]*invite.Invitation
	identity *fakeIdentityStore
}

func newFakeInviteStore(identityStore *fakeIdentityStore) *fakeInviteStore {
	return &fakeInviteStore{
		byID:     make(map[string]*invite.Invitation),
		byToken:  make(map[string]*invite.Invitation),
		identity: identityStore,
	}
}

func (f *fakeInviteStore) Create(_ context.Context, inv *invite.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv.CreatedAt = time.Now().UTC()
	cp := *inv
	f.byID[inv.ID] = &cp
	f.byToken[inv.Token] = &cp
	return nil
}

func (f *fakeInviteStore) Get(_ context.Context, id string) (*invite.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return nil, invite.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInviteStore) GetByToken(_ context.Context, token string) (*invite.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byToken[token]
	if !ok {
		return nil, invite.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInviteStore) ListByIssuer(_ context.Context, issuerID string) ([]*invite.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*invite.Invitation
	for _, inv := range f.byID {
		if inv.IssuerID == issuerID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeInviteStore) ListAll(_ context.Context) ([]*invite.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*invite.Invitation
	for _, inv := range f.byID {
		cp := *inv
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeInviteStore) Redeem(ctx context.Context, token string, user *identity.User) error {
	f.mu.Lock()
	inv, ok := f.byToken[token]
	if !ok || inv.UsedAt != nil || !time.Now().Before(inv.ExpiresAt) {
		f.mu.Unlock()
		return invite.ErrConsumed
	}
	now := time.Now().UTC()
	inv.UsedAt = &now
	f.mu.Unlock()
	return f.identity.CreateUser(ctx, user)
}

func (f *fakeInviteStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return invite.ErrNotFound
	}
	delete(f.byToken, inv.Token)
	delete(f.byID, id)
	return nil
}

type fakeCovenantStore struct {
	mu       sync.Mutex
	seats    map[string]*covenant.Seat
	byID     map[string]*covenant.Invitation
	byToken  map[string]*covenant.Invitation
	identity *fakeIdentityStore
}

func newFakeCovenantStore(identityStore *fakeIdentityStore) *fakeCovenantStore {
	return &fakeCovenantStore{
		seats:    make(map[string]*covenant.Seat),
		byID:     make(map[string]*covenant.Invitation),
		byToken:  make(map[string]*covenant.Invitation),
		identity: identityStore,
	}
}

func (f *fakeCovenantStore) addSeat(seat *covenant.Seat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *seat
	f.seats[seat.ID] = &cp
}

func (f *fakeCovenantStore) ListSeats(_ context.Context) ([]*covenant.Seat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*covenant.Seat
	for _, s := range f.seats {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCovenantStore) GetSeat(_ context.Context, id string) (*covenant.Seat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.seats[id]
	if !ok {
		return nil, covenant.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeCovenantStore) UpdateSeat(_ context.Context, id string, upd covenant.SeatUpdate) (*covenant.Seat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.seats[id]
	if !ok {
		return nil, covenant.ErrNotFound
	}
	s.HolderUserID = upd.HolderUserID
	s.MemberName = upd.MemberName
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	return &cp, nil
}

func (f *fakeCovenantStore) CreateInvitation(_ context.Context, inv *covenant.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv.CreatedAt = time.Now().UTC()
	cp := *inv
	f.byID[inv.ID] = &cp
	f.byToken[inv.Token] = &cp
	return nil
}

func (f *fakeCovenantStore) GetInvitation(_ context.Context, id string) (*covenant.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return nil, covenant.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeCovenantStore) GetInvitationByToken(_ context.Context, token string) (*covenant.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byToken[token]
	if !ok {
		return nil, covenant.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeCovenantStore) ListInvitations(_ context.Context) ([]*covenant.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*covenant.Invitation
	for _, inv := range f.byID {
		cp := *inv
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCovenantStore) Accept(ctx context.Context, token string, user *identity.User) error {
	f.mu.Lock()
	inv, ok := f.byToken[token]
	if !ok || inv.AcceptedAt != nil || !time.Now().Before(inv.ExpiresAt) {
		f.mu.Unlock()
		return covenant.ErrConsumed
	}
	if inv.SeatID != nil {
		seat, ok := f.seats[*inv.SeatID]
		if !ok {
			f.mu.Unlock()
			return covenant.ErrNotFound
		}
		if seat.HolderUserID != nil {
			f.mu.Unlock()
			return covenant.ErrConflict
		}
		seat.HolderUserID = &user.ID
		seat.MemberName = &user.DisplayName
	}
	now := time.Now().UTC()
	inv.AcceptedAt = &now
	f.mu.Unlock()
	return f.identity.CreateUser(ctx, user)
}

func (f *fakeCovenantStore) DeleteInvitation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return covenant.ErrNotFound
	}
	delete(f.byToken, inv.Token)
	delete(f.byID, id)
	return nil
}
