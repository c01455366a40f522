package identity

import "context"

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	CreateDepartment(ctx context.Context, d *Department) error
	GetDepartment(ctx context.Context, id string) (*Department, error)
	ListDepartments(ctx context.Context) ([]*Department, error)

	CreateRank(ctx context.Context, r *Rank) error
	GetRank(ctx context.Context, id string) (*Rank, error)
	ListRanks(ctx context.Context, departmentID string) ([]*Rank, error)

	// ReplaceMemberships swaps the full membership set for a user and keeps
	// the user's primary_department_id consistent, in one transaction.
	ReplaceMemberships(ctx context.Context, userID string, memberships []Membership, primaryDepartmentID *string) error
	ListMemberships(ctx context.Context, userID string) ([]*Membership, error)
}
