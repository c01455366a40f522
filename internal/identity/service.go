package identity

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
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrNotFound           = errors.New("identity: not found")
	ErrConflict           = errors.New("identity: resource conflict")
	ErrDenied             = errors.New("identity: insufficient clearance")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)

// Service provides account and directory operations on top of Store.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	return &Service{store: store}, nil
}

// Register creates a self-registered account at the bottom of the clearance
// scale. Invitation redemption is the only registration path that binds a
// higher level.
func (s *Service) Register(ctx context.Context, username, email, password, displayName string) (*User, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = username
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:             ids.New(),
		Username:       username,
		Email:          email,
		DisplayName:    displayName,
		PasswordHash:   hash,
		ClearanceLevel: 0,
		IsActive:       true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies credentials and returns the account if it is active.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Get loads a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, id)
}

// List returns all accounts; restricted to administrators.
func (s *Service) List(ctx context.Context, actor auth.Principal) ([]*User, error) {
	if !access.CanAdminister(actor.Clearance) {
		return nil, ErrDenied
	}
	return s.store.ListUsers(ctx)
}

// UpdateProfileInput is the self-service slice of a user record.
type UpdateProfileInput struct {
	DisplayName *string
	Title       *string
	Email       *string
	Password    *string
}

// AdminUpdateInput extends profile edits with the admin-only fields.
type AdminUpdateInput struct {
	UpdateProfileInput
	Clearance  *int
	IsActive   *bool
	IsVerified *bool
}

// Update applies a user mutation. The actor must be the account owner or an
// administrator; only administrators may touch clearance and flags.
func (s *Service) Update(ctx context.Context, actor auth.Principal, userID string, input AdminUpdateInput) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	isSelf := actor.UserID == userID
	isAdmin := access.CanAdminister(actor.Clearance)
	if !isSelf && !isAdmin {
		return nil, ErrDenied
	}
	if (input.Clearance != nil || input.IsActive != nil || input.IsVerified != nil) && !isAdmin {
		return nil, ErrDenied
	}

	var upd UserUpdate
	if input.DisplayName != nil {
		name := strings.TrimSpace(*input.DisplayName)
		if name == "" {
			return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
		}
		upd.DisplayName = &name
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		upd.Title = &title
	}
	if input.Email != nil {
		email, err := normalizeEmail(*input.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	if input.Password != nil {
		pw := strings.TrimSpace(*input.Password)
		if pw == "" {
			return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
		}
		hash, err := auth.HashPassword(pw)
		if err != nil {
			return nil, err
		}
		upd.PasswordHash = &hash
	}
	if input.Clearance != nil {
		level := *input.Clearance
		if level < 0 || level > auth.MaxClearance {
			return nil, fmt.Errorf("%w: clearance must be within 0..%d", ErrInvalidInput, auth.MaxClearance)
		}
		upd.Clearance = &level
	}
	upd.IsActive = input.IsActive
	upd.IsVerified = input.IsVerified

	return s.store.UpdateUser(ctx, userID, upd)
}

// CreateDepartment adds a directory unit; administrators only.
func (s *Service) CreateDepartment(ctx context.Context, actor auth.Principal, name, codename, icon, color string) (*Department, error) {
	if !access.CanAdminister(actor.Clearance) {
		return nil, ErrDenied
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: department name is required", ErrInvalidInput)
	}
	dept := &Department{
		ID:       ids.New(),
		Name:     name,
		Codename: strings.TrimSpace(codename),
		Icon:     strings.TrimSpace(icon),
		Color:    strings.TrimSpace(color),
	}
	if err := s.store.CreateDepartment(ctx, dept); err != nil {
		return nil, err
	}
	return dept, nil
}

func (s *Service) ListDepartments(ctx context.Context) ([]*Department, error) {
	return s.store.ListDepartments(ctx)
}

func (s *Service) GetDepartment(ctx context.Context, id string) (*Department, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: department id is required", ErrInvalidInput)
	}
	return s.store.GetDepartment(ctx, id)
}

func (s *Service) GetRank(ctx context.Context, id string) (*Rank, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: rank id is required", ErrInvalidInput)
	}
	return s.store.GetRank(ctx, id)
}

// CreateRank adds a rank to a department; administrators only. Rank names
// are unique per department.
func (s *Service) CreateRank(ctx context.Context, actor auth.Principal, departmentID, name string, clearance, sortOrder int) (*Rank, error) {
	if !access.CanAdminister(actor.Clearance) {
		return nil, ErrDenied
	}
	departmentID = strings.TrimSpace(departmentID)
	name = strings.TrimSpace(name)
	if departmentID == "" || name == "" {
		return nil, fmt.Errorf("%w: department id and rank name are required", ErrInvalidInput)
	}
	if clearance < 0 || clearance > auth.MaxClearance {
		return nil, fmt.Errorf("%w: clearance must be within 0..%d", ErrInvalidInput, auth.MaxClearance)
	}
	if _, err := s.store.GetDepartment(ctx, departmentID); err != nil {
		return nil, err
	}
	rank := &Rank{
		ID:             ids.New(),
		DepartmentID:   departmentID,
		Name:           name,
		ClearanceLevel: clearance,
		SortOrder:      sortOrder,
	}
	if err := s.store.CreateRank(ctx, rank); err != nil {
		return nil, err
	}
	return rank, nil
}

func (s *Service) ListRanks(ctx context.Context, departmentID string) ([]*Rank, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return nil, fmt.Errorf("%w: department id is required", ErrInvalidInput)
	}
	return s.store.ListRanks(ctx, departmentID)
}

// MembershipSpec is one desired membership row in a replacement set.
type MembershipSpec struct {
	DepartmentID string  `json:"department_id"`
	RankID       *string `json:"rank_id,omitempty"`
}

// SetMemberships replaces a user's full membership set. The primary
// department, when given, must be part of the new set; the user row's
// primary_department_id is kept consistent inside the same transaction.
func (s *Service) SetMemberships(ctx context.Context, actor auth.Principal, userID string, specs []MembershipSpec, primaryDepartmentID *string) error {
	if !access.CanAdminister(actor.Clearance) {
		return ErrDenied
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(specs))
	memberships := make([]Membership, 0, len(specs))
	for _, spec := range specs {
		deptID := strings.TrimSpace(spec.DepartmentID)
		if deptID == "" {
			return fmt.Errorf("%w: department id is required", ErrInvalidInput)
		}
		if _, dup := seen[deptID]; dup {
			return fmt.Errorf("%w: duplicate department %s", ErrInvalidInput, deptID)
		}
		seen[deptID] = struct{}{}
		if _, err := s.store.GetDepartment(ctx, deptID); err != nil {
			return err
		}
		if spec.RankID != nil {
			rank, err := s.store.GetRank(ctx, *spec.RankID)
			if err != nil {
				return err
			}
			if rank.DepartmentID != deptID {
				return fmt.Errorf("%w: rank %s does not belong to department %s", ErrInvalidInput, rank.ID, deptID)
			}
		}
		memberships = append(memberships, Membership{DepartmentID: deptID, UserID: userID, RankID: spec.RankID})
	}

	if primaryDepartmentID != nil && *primaryDepartmentID != "" {
		if _, ok := seen[*primaryDepartmentID]; !ok {
			return fmt.Errorf("%w: primary department must be part of the membership set", ErrInvalidInput)
		}
	}
	return s.store.ReplaceMemberships(ctx, userID, memberships, primaryDepartmentID)
}

func (s *Service) ListMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.ListMemberships(ctx, userID)
}

// Subject assembles the access-rule matching shape for an actor.
func (s *Service) Subject(ctx context.Context, userID string) (access.Subject, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return access.Subject{}, err
	}
	memberships, err := s.store.ListMemberships(ctx, userID)
	if err != nil {
		return access.Subject{}, err
	}
	subject := access.Subject{UserID: user.ID, Clearance: user.ClearanceLevel}
	for _, m := range memberships {
		subject.Departments = append(subject.Departments, m.DepartmentID)
		if m.RankID != nil {
			subject.Ranks = append(subject.Ranks, *m.RankID)
		}
	}
	return subject, nil
}

func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if len(username) < 3 {
		return "", fmt.Errorf("%w: username must be at least 3 characters", ErrInvalidInput)
	}
	for _, r := range username {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.' {
			continue
		}
		return "", fmt.Errorf("%w: username contains invalid characters", ErrInvalidInput)
	}
	return username, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
