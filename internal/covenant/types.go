package covenant

import "time"

// Tier is the covenant's own clearance scale. It orders seats within the
// council and is never compared against the numeric user clearance.
type Tier string

const (
	TierOuroborosSovereign Tier = "ouroboros_sovereign"
	TierOphidianApex       Tier = "ophidian_apex"
	TierVenomCircle        Tier = "venom_circle"
	TierScaleBearer        Tier = "scale_bearer"
	TierOuterCoil          Tier = "outer_coil"
)

var tierOrder = map[Tier]int{
	TierOuroborosSovereign: 5,
	TierOphidianApex:       4,
	TierVenomCircle:        3,
	TierScaleBearer:        2,
	TierOuterCoil:          1,
}

func ValidTier(t Tier) bool {
	_, ok := tierOrder[t]
	return ok
}

// Rank returns the tier's position in the hierarchy, highest first.
// Unknown tiers rank below every known one.
func (t Tier) Rank() int {
	return tierOrder[t]
}

// Seat is one position on the council roster. The roster itself is
// seed-defined; runtime changes touch only the holder fields.
type Seat struct {
	ID           string    `json:"id"`
	SeatName     string    `json:"seat_name"`
	Tier         Tier      `json:"tier"`
	Description  string    `json:"description,omitempty"`
	HolderUserID *string   `json:"holder_user_id,omitempty"`
	MemberName   *string   `json:"member_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SeatUpdate changes the holder of a seat. Both fields nil clears the
// assignment.
type SeatUpdate struct {
	HolderUserID *string `json:"holder_user_id"`
	MemberName   *string `json:"member_name"`
}

// Invitation binds a covenant role, title, and sigil to a single-use
// token. AcceptedAt is the consumption flag.
type Invitation struct {
	ID             string     `json:"id"`
	Token          string     `json:"token"`
	IssuerID       string     `json:"issuer_id"`
	DisplayName    string     `json:"display_name"`
	Role           string     `json:"role"`
	Title          string     `json:"title,omitempty"`
	Sigil          string     `json:"sigil,omitempty"`
	ClearanceLevel int        `json:"clearance_level"`
	SeatID         *string    `json:"seat_id,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Live reports whether the invitation can still be accepted at t.
func (i *Invitation) Live(t time.Time) bool {
	return i.AcceptedAt == nil && t.Before(i.ExpiresAt)
}
