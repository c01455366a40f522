package proposal

import (
	"context"

	"sanctum.org/internal/project"
)

// ReviewStamp is written by reviewer transitions.
type ReviewStamp struct {
	Status          Status
	ReviewerID      string
	AdminNotes      *string
	RejectionReason *string
	RevisionNotes   *string
}

// Store describes persistence operations required by the proposal subsystem.
type Store interface {
	// Create inserts the proposal and its child sets in one transaction.
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	ListBySubmitter(ctx context.Context, submitterID string) ([]*Proposal, error)
	ListAll(ctx context.Context) ([]*Proposal, error)

	// UpdateContent applies submitter edits and the resulting status (the
	// revision -> pending flip happens here) and, when child sets are
	// present, replaces them wholesale inside the same transaction.
	UpdateContent(ctx context.Context, id string, upd ContentUpdate, status Status) (*Proposal, error)

	// Transition stamps a reviewer decision, guarded by the expected
	// current status so concurrent reviews cannot double-apply.
	Transition(ctx context.Context, id string, from []Status, stamp ReviewStamp) (*Proposal, error)

	// Approve locks the proposal, verifies it is still approvable, creates
	// the project plus the submitter's lead assignment, and stamps the
	// proposal approved, all in one transaction.
	Approve(ctx context.Context, id string, reviewerID string, p *project.Project) (*Proposal, error)

	// Delete removes the proposal and its child rows.
	Delete(ctx context.Context, id string) error
}
