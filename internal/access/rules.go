package access

// RuleKind selects what a supplementary grant matches on.
type RuleKind string

const (
	RuleUser       RuleKind = "user"
	RuleDepartment RuleKind = "department"
	RuleRank       RuleKind = "rank"
	RuleClearance  RuleKind = "clearance"
)

// Rule is an additive grant. There is no deny variant: a rule that does not
// match simply contributes nothing, and the base clearance predicate is
// always evaluated independently.
type Rule struct {
	ID           string
	Kind         RuleKind
	SubjectID    string // user/department/rank id, depending on Kind
	MinClearance int    // used when Kind == RuleClearance
	TargetID     string // optional: restricts the grant to one project
	Role         string // role granted to matching actors
}

// Subject is the actor shape rules are evaluated against.
type Subject struct {
	UserID      string
	Clearance   int
	Departments []string
	Ranks       []string
}

// Matches reports whether the rule grants anything to the subject for the
// given target resource.
func (r Rule) Matches(subject Subject, targetID string) bool {
	if r.TargetID != "" && r.TargetID != targetID {
		return false
	}
	switch r.Kind {
	case RuleUser:
		return r.SubjectID != "" && r.SubjectID == subject.UserID
	case RuleDepartment:
		return containsID(subject.Departments, r.SubjectID)
	case RuleRank:
		return containsID(subject.Ranks, r.SubjectID)
	case RuleClearance:
		return Allowed(subject.Clearance, r.MinClearance)
	default:
		return false
	}
}

// AnyGrants evaluates the additive grant set for a target.
func AnyGrants(rules []Rule, subject Subject, targetID string) bool {
	for _, r := range rules {
		if r.Matches(subject, targetID) {
			return true
		}
	}
	return false
}

// GrantsRole reports whether a matching rule confers one of the named
// roles. Rules with no role grant read access only and never match here.
func GrantsRole(rules []Rule, subject Subject, targetID string, roles ...string) bool {
	for _, r := range rules {
		if r.Role == "" || !r.Matches(subject, targetID) {
			continue
		}
		for _, want := range roles {
			if r.Role == want {
				return true
			}
		}
	}
	return false
}

func containsID(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
