// Package access holds the clearance predicate and the named capability
// checks built on top of it. Every hard-coded threshold in the system lives
// in this file.
package access

// SecurityClass labels a project's classification tier.
type SecurityClass string

const (
	ClassGreen SecurityClass = "GREEN"
	ClassAmber SecurityClass = "AMBER"
	ClassRed   SecurityClass = "RED"
	ClassBlack SecurityClass = "BLACK"
)

// securityClearanceMap fixes the minimum clearance per security class.
var securityClearanceMap = map[SecurityClass]int{
	ClassGreen: 1,
	ClassAmber: 2,
	ClassRed:   4,
	ClassBlack: 5,
}

// Capability thresholds. Reviewer and administrator status are not stored
// roles; they are comparisons against these levels.
const (
	minCreateProject = 3
	minReview        = 4
	minIssueInvites  = 4
	minLogbookAudit  = 4
	minAdminister    = 5
)

// ValidClass reports whether the label is a known security class.
func ValidClass(class SecurityClass) bool {
	_, ok := securityClearanceMap[class]
	return ok
}

// RequiredClearance returns the minimum clearance for a security class.
// Unknown classes map to the top of the scale rather than to zero.
func RequiredClearance(class SecurityClass) int {
	if c, ok := securityClearanceMap[class]; ok {
		return c
	}
	return minAdminister
}

// Allowed is the single clearance predicate: an actor may touch a resource
// iff their clearance meets the resource's declared minimum. A negative
// actor clearance (unknown/unset) is treated as zero.
func Allowed(actorClearance, requiredClearance int) bool {
	if actorClearance < 0 {
		actorClearance = 0
	}
	return actorClearance >= requiredClearance
}

// CanReadClass applies the predicate through the class map.
func CanReadClass(actorClearance int, class SecurityClass) bool {
	return Allowed(actorClearance, RequiredClearance(class))
}

// CanCreateProject gates the direct project creation path.
func CanCreateProject(actorClearance int) bool {
	return Allowed(actorClearance, minCreateProject)
}

// CanReview gates proposal status transitions.
func CanReview(actorClearance int) bool {
	return Allowed(actorClearance, minReview)
}

// CanIssueInvitations gates invitation issuance.
func CanIssueInvitations(actorClearance int) bool {
	return Allowed(actorClearance, minIssueInvites)
}

// CanAuditLogbook lets unassigned oversight staff append logbook entries.
func CanAuditLogbook(actorClearance int) bool {
	return Allowed(actorClearance, minLogbookAudit)
}

// CanAdminister covers the top-tier overrides: expunging projects, editing
// arbitrary clearance, unconditional proposal deletion, seat edits.
func CanAdminister(actorClearance int) bool {
	return Allowed(actorClearance, minAdminister)
}

// CanIssueClearance enforces the decreasing-trust chain for invitations:
// issuers below the top of the scale may only bind levels strictly below
// their own; top-level issuers may bind any level including their own.
// Issuers below the invitation threshold cannot bind anything.
func CanIssueClearance(issuerClearance, invitedClearance int) bool {
	if !CanIssueInvitations(issuerClearance) {
		return false
	}
	if invitedClearance < 0 || invitedClearance > minAdminister {
		return false
	}
	if issuerClearance >= minAdminister {
		return true
	}
	return invitedClearance < issuerClearance
}
