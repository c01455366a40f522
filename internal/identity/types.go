package identity

import "time"

// User is a portal account. Accounts are never hard-deleted; deactivation
// flips IsActive.
type User struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username"`
	Email               string    `json:"email"`
	DisplayName         string    `json:"display_name"`
	Title               string    `json:"title,omitempty"`
	PasswordHash        string    `json:"-"`
	ClearanceLevel      int       `json:"clearance_level"`
	PrimaryDepartmentID *string   `json:"primary_department_id,omitempty"`
	IsActive            bool      `json:"is_active"`
	IsVerified          bool      `json:"is_verified"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Department is an organizational unit. Referenced departments are never
// deleted.
type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Codename  string    `json:"codename,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rank belongs to exactly one department and carries its own clearance.
type Rank struct {
	ID             string    `json:"id"`
	DepartmentID   string    `json:"department_id"`
	Name           string    `json:"name"`
	ClearanceLevel int       `json:"clearance_level"`
	SortOrder      int       `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
}

// Membership joins a user to a department, optionally at a rank. At most
// one row exists per (department, user) pair.
type Membership struct {
	DepartmentID string    `json:"department_id"`
	UserID       string    `json:"user_id"`
	RankID       *string   `json:"rank_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserUpdate carries partial user mutations. Nil fields are untouched.
type UserUpdate struct {
	DisplayName  *string
	Title        *string
	Email        *string
	PasswordHash *string
	Clearance    *int
	IsActive     *bool
	IsVerified   *bool
}
