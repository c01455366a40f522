package covenant

import (
	"context"

	"sanctum.org/internal/identity"
)

// Store describes persistence operations required by the covenant
// subsystem.
type Store interface {
	ListSeats(ctx context.Context) ([]*Seat, error)
	GetSeat(ctx context.Context, id string) (*Seat, error)
	UpdateSeat(ctx context.Context, id string, upd SeatUpdate) (*Seat, error)

	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, id string) (*Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*Invitation, error)
	ListInvitations(ctx context.Context) ([]*Invitation, error)

	// Accept consumes the token, creates the bound account, and seats the
	// new member when a seat is bound, all in one transaction. The
	// conditional update on accepted_at is the single-use guard.
	Accept(ctx context.Context, token string, user *identity.User) error

	// DeleteInvitation removes an unaccepted invitation.
	DeleteInvitation(ctx context.Context, id string) error
}
