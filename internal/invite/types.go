package invite

import "time"

// Invitation pre-binds account attributes to a single-use token. UsedAt is
// the consumption flag; a null UsedAt with a future ExpiresAt means the
// token is still live.
type Invitation struct {
	ID             string     `json:"id"`
	Token          string     `json:"token"`
	IssuerID       string     `json:"issuer_id"`
	DisplayName    string     `json:"display_name"`
	Title          string     `json:"title,omitempty"`
	ClearanceLevel int        `json:"clearance_level"`
	DepartmentID   *string    `json:"department_id,omitempty"`
	RankID         *string    `json:"rank_id,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Live reports whether the invitation can still be redeemed at t.
func (i *Invitation) Live(t time.Time) bool {
	return i.UsedAt == nil && t.Before(i.ExpiresAt)
}
