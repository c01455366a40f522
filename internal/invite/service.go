package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sanctum.org/internal/access"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/identity"
	"sanctum.org/internal/ids"
)

var (
	ErrInvalidInput = errors.New("invite: invalid input")
	ErrNotFound     = errors.New("invite: not found")
	ErrConflict     = errors.New("invite: resource conflict")
	ErrDenied       = errors.New("invite: insufficient clearance")
	ErrConsumed     = errors.New("invite: invalid or already used")
	ErrExpired      = errors.New("invite: invitation expired")
)

const defaultTTL = 7 * 24 * time.Hour

// DirectoryLookup validates bound department/rank references. Satisfied by
// identity.Service.
type DirectoryLookup interface {
	GetDepartment(ctx context.Context, id string) (*identity.Department, error)
	GetRank(ctx context.Context, id string) (*identity.Rank, error)
}

// Service runs the recruitment chain: issuance binds attributes to a
// token, redemption turns the token into an account.
type Service struct {
	store     Store
	directory DirectoryLookup
	now       func() time.Time
}

func NewService(store Store, directory DirectoryLookup) (*Service, error) {
	if store == nil {
		return nil, errors.New("invite store is required")
	}
	if directory == nil {
		return nil, errors.New("directory lookup is required")
	}
	return &Service{store: store, directory: directory, now: time.Now}, nil
}

// WithClock overrides the time source; test use only.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// IssueInput is the issuance payload.
type IssueInput struct {
	DisplayName    string
	Title          string
	ClearanceLevel int
	DepartmentID   *string
	RankID         *string
	TTL            time.Duration
}

// Issue creates an invitation. Issuers need the issuance capability, and
// the bound clearance follows the decreasing-trust chain: strictly below
// the issuer's own level unless the issuer sits at the top of the scale.
func (s *Service) Issue(ctx context.Context, actor auth.Principal, input IssueInput) (*Invitation, error) {
	if !access.CanIssueInvitations(actor.Clearance) {
		return nil, ErrDenied
	}
	if !access.CanIssueClearance(actor.Clearance, input.ClearanceLevel) {
		return nil, fmt.Errorf("%w: cannot issue clearance %d from level %d", ErrInvalidInput, input.ClearanceLevel, actor.Clearance)
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if input.DepartmentID != nil {
		if _, err := s.directory.GetDepartment(ctx, *input.DepartmentID); err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return nil, fmt.Errorf("%w: department does not exist", ErrInvalidInput)
			}
			return nil, err
		}
	}
	if input.RankID != nil {
		rank, err := s.directory.GetRank(ctx, *input.RankID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return nil, fmt.Errorf("%w: rank does not exist", ErrInvalidInput)
			}
			return nil, err
		}
		if input.DepartmentID == nil || rank.DepartmentID != *input.DepartmentID {
			return nil, fmt.Errorf("%w: rank does not belong to the bound department", ErrInvalidInput)
		}
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	inv := &Invitation{
		ID:             ids.New(),
		Token:          uuid.NewString(),
		IssuerID:       actor.UserID,
		DisplayName:    displayName,
		Title:          strings.TrimSpace(input.Title),
		ClearanceLevel: input.ClearanceLevel,
		DepartmentID:   input.DepartmentID,
		RankID:         input.RankID,
		ExpiresAt:      s.now().UTC().Add(ttl),
	}
	if err := s.store.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns the issuer's own invitations; administrators see all.
func (s *Service) List(ctx context.Context, actor auth.Principal) ([]*Invitation, error) {
	if !access.CanIssueInvitations(actor.Clearance) {
		return nil, ErrDenied
	}
	if access.CanAdminister(actor.Clearance) {
		return s.store.ListAll(ctx)
	}
	return s.store.ListByIssuer(ctx, actor.UserID)
}

// Inspect resolves a live token to its bound attributes. Consumed and
// expired tokens are indistinguishable from absent ones except for the
// expiry error, which carries no bound attributes.
func (s *Service) Inspect(ctx context.Context, token string) (*Invitation, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) lookup(ctx context.Context, token string) (*Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrConsumed
		}
		return nil, err
	}
	if inv.UsedAt != nil {
		return nil, ErrConsumed
	}
	if !s.now().Before(inv.ExpiresAt) {
		return nil, ErrExpired
	}
	return inv, nil
}

// RedeemInput is the account half of a redemption.
type RedeemInput struct {
	Username string
	Email    string
	Password string
}

// Redeem consumes the token and creates the bound account atomically.
// Either the invitation is stamped used AND the user exists, or neither.
func (s *Service) Redeem(ctx context.Context, token string, input RedeemInput) (*identity.User, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	username := strings.TrimSpace(strings.ToLower(input.Username))
	if len(username) < 3 {
		return nil, fmt.Errorf("%w: username must be at least 3 characters", ErrInvalidInput)
	}
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := &identity.User{
		ID:                  ids.New(),
		Username:            username,
		Email:               email,
		DisplayName:         inv.DisplayName,
		Title:               inv.Title,
		PasswordHash:        hash,
		ClearanceLevel:      inv.ClearanceLevel,
		PrimaryDepartmentID: inv.DepartmentID,
		IsActive:            true,
		IsVerified:          true,
	}
	if err := s.store.Redeem(ctx, inv.Token, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Revoke deletes an unredeemed invitation. Only the issuer or an
// administrator may revoke.
func (s *Service) Revoke(ctx context.Context, actor auth.Principal, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: invitation id is required", ErrInvalidInput)
	}
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.IssuerID != actor.UserID && !access.CanAdminister(actor.Clearance) {
		return ErrDenied
	}
	if inv.UsedAt != nil {
		return fmt.Errorf("%w: invitation already redeemed", ErrConflict)
	}
	return s.store.Delete(ctx, id)
}
