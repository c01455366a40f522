package covenant

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
	ErrInvalidInput = errors.New("covenant: invalid input")
	ErrNotFound     = errors.New("covenant: not found")
	ErrConflict     = errors.New("covenant: resource conflict")
	ErrDenied       = errors.New("covenant: insufficient clearance")
	ErrConsumed     = errors.New("covenant: invalid or already used")
	ErrExpired      = errors.New("covenant: invitation expired")
)

const defaultTTL = 7 * 24 * time.Hour

// Service manages the Serpentius council: the seat roster and the
// covenant recruitment chain. Seat holders gain nothing from their seat;
// only editing the roster is gated, on the numeric clearance scale.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("covenant store is required")
	}
	return &Service{store: store, now: time.Now}, nil
}

// WithClock overrides the time source; test use only.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// ListSeats returns the full roster. The roster is presentational and
// visible to any authenticated member.
func (s *Service) ListSeats(ctx context.Context) ([]*Seat, error) {
	return s.store.ListSeats(ctx)
}

func (s *Service) GetSeat(ctx context.Context, id string) (*Seat, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: seat id is required", ErrInvalidInput)
	}
	return s.store.GetSeat(ctx, id)
}

// UpdateSeat reassigns or vacates a seat.
func (s *Service) UpdateSeat(ctx context.Context, actor auth.Principal, id string, upd SeatUpdate) (*Seat, error) {
	if !access.CanAdminister(actor.Clearance) {
		return nil, ErrDenied
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: seat id is required", ErrInvalidInput)
	}
	if upd.HolderUserID != nil && strings.TrimSpace(*upd.HolderUserID) == "" {
		return nil, fmt.Errorf("%w: holder user id cannot be blank", ErrInvalidInput)
	}
	return s.store.UpdateSeat(ctx, id, upd)
}

// IssueInput is the covenant issuance payload.
type IssueInput struct {
	DisplayName    string
	Role           string
	Title          string
	Sigil          string
	ClearanceLevel int
	SeatID         *string
	TTL            time.Duration
}

// Issue creates a covenant invitation. Only the top of the numeric scale
// may recruit into the covenant, and the bound clearance still follows
// the decreasing-trust chain.
func (s *Service) Issue(ctx context.Context, actor auth.Principal, input IssueInput) (*Invitation, error) {
	if !access.CanAdminister(actor.Clearance) {
		return nil, ErrDenied
	}
	if !access.CanIssueClearance(actor.Clearance, input.ClearanceLevel) {
		return nil, fmt.Errorf("%w: cannot issue clearance %d from level %d", ErrInvalidInput, input.ClearanceLevel, actor.Clearance)
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	role := strings.TrimSpace(input.Role)
	if role == "" {
		return nil, fmt.Errorf("%w: covenant role is required", ErrInvalidInput)
	}
	if input.SeatID != nil {
		seat, err := s.store.GetSeat(ctx, *input.SeatID)
		if err != nil {
			return nil, err
		}
		if seat.HolderUserID != nil {
			return nil, fmt.Errorf("%w: seat %s is already held", ErrConflict, seat.SeatName)
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
		Role:           role,
		Title:          strings.TrimSpace(input.Title),
		Sigil:          strings.TrimSpace(input.Sigil),
		ClearanceLevel: input.ClearanceLevel,
		SeatID:         input.SeatID,
		ExpiresAt:      s.now().UTC().Add(ttl),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvitations returns every covenant invitation; administrators only.
func (s *Service) ListInvitations(ctx context.Context, actor auth.Principal) ([]*Invitation, error) {
	if !access.CanAdminister(actor.Clearance) {
		return nil, ErrDenied
	}
	return s.store.ListInvitations(ctx)
}

// Inspect resolves a live token to its bound attributes.
func (s *Service) Inspect(ctx context.Context, token string) (*Invitation, error) {
	return s.lookup(ctx, token)
}

func (s *Service) lookup(ctx context.Context, token string) (*Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrConsumed
		}
		return nil, err
	}
	if inv.AcceptedAt != nil {
		return nil, ErrConsumed
	}
	if !s.now().Before(inv.ExpiresAt) {
		return nil, ErrExpired
	}
	return inv, nil
}

// AcceptInput is the account half of an acceptance.
type AcceptInput struct {
	Username string
	Email    string
	Password string
}

// Accept consumes the token and creates the bound account. When the
// invitation binds a seat, the new member is placed on it in the same
// transaction.
func (s *Service) Accept(ctx context.Context, token string, input AcceptInput) (*identity.User, error) {
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

	title := inv.Title
	if title == "" {
		title = inv.Role
	}
	user := &identity.User{
		ID:             ids.New(),
		Username:       username,
		Email:          email,
		DisplayName:    inv.DisplayName,
		Title:          title,
		PasswordHash:   hash,
		ClearanceLevel: inv.ClearanceLevel,
		IsActive:       true,
		IsVerified:     true,
	}
	if err := s.store.Accept(ctx, inv.Token, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Revoke deletes an unaccepted invitation; administrators only.
func (s *Service) Revoke(ctx context.Context, actor auth.Principal, id string) error {
	if !access.CanAdminister(actor.Clearance) {
		return ErrDenied
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: invitation id is required", ErrInvalidInput)
	}
	inv, err := s.store.GetInvitation(ctx, id)
	if err != nil {
		return err
	}
	if inv.AcceptedAt != nil {
		return fmt.Errorf("%w: invitation already accepted", ErrConflict)
	}
	return s.store.DeleteInvitation(ctx, id)
}
