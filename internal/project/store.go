package project

import "context"

// Store describes persistence operations required by the project subsystem.
type Store interface {
	// Create inserts the project and its initial lead assignment in one
	// transaction.
	Create(ctx context.Context, p *Project, leadUserID string) error
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context, filter ListFilter) ([]*Project, error)
	Update(ctx context.Context, id string, upd Update) (*Project, error)

	UpsertAssignment(ctx context.Context, a *Assignment) error
	RemoveAssignment(ctx context.Context, projectID, userID string) error
	GetAssignment(ctx context.Context, projectID, userID string) (*Assignment, error)
	ListAssignments(ctx context.Context, projectID string) ([]*Assignment, error)

	CreateAccessRule(ctx context.Context, rule *AccessRule) error
	// ListAccessRulesForTarget returns global rules plus rules scoped to the
	// given target.
	ListAccessRulesForTarget(ctx context.Context, targetID string) ([]*AccessRule, error)

	// AppendLogbookEntry assigns the next entry number and inserts, holding
	// the project row locked so concurrent appends cannot collide.
	AppendLogbookEntry(ctx context.Context, e *LogbookEntry) error
	ListLogbookEntries(ctx context.Context, projectID string) ([]*LogbookEntry, error)
}
