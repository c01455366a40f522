package auth

// MaxClearance is the top of the numeric clearance scale.
const MaxClearance = 5

// Principal is the resolved identity attached to every authenticated request.
// Clearance is always the live value from the identity store, not the token
// snapshot, so demotions and deactivations take effect immediately.
type Principal struct {
	UserID    string
	Username  string
	Clearance int
}
