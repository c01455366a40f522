package invite

import (
	"context"

	"sanctum.org/internal/identity"
)

// Store describes persistence operations required by the invitation
// subsystem.
type Store interface {
	Create(ctx context.Context, inv *Invitation) error
	Get(ctx context.Context, id string) (*Invitation, error)
	GetByToken(ctx context.Context, token string) (*Invitation, error)
	ListByIssuer(ctx context.Context, issuerID string) ([]*Invitation, error)
	ListAll(ctx context.Context) ([]*Invitation, error)

	// Redeem consumes the token and creates the bound account in one
	// transaction. The conditional update on used_at is the single-use
	// guard; zero rows consumed means the token was already spent, expired,
	// or never existed.
	Redeem(ctx context.Context, token string, user *identity.User) error

	// Delete removes an unredeemed invitation.
	Delete(ctx context.Context, id string) error
}
