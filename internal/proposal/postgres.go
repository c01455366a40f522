package proposal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sanctum.org/internal/project"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const proposalColumns = `id, submitter_id, name, codename, object_class, security_class,
	threat_level, description, justification, estimated_resources, proposed_timeline,
	status, admin_notes, rejection_reason, revision_notes, reviewed_by, reviewed_at,
	created_project_id, created_at, updated_at`

func scanProposal(row interface{ Scan(...any) error }) (*Proposal, error) {
	var p Proposal
	err := row.Scan(&p.ID, &p.SubmitterID, &p.Name, &p.Codename, &p.ObjectClass, &p.SecurityClass,
		&p.ThreatLevel, &p.Description, &p.Justification, &p.EstimatedRes, &p.Timeline,
		&p.Status, &p.AdminNotes, &p.RejectionReason, &p.RevisionNotes, &p.ReviewedBy, &p.ReviewedAt,
		&p.CreatedProjectID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) Create(ctx context.Context, p *Proposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into proposals(id, submitter_id, name, codename, object_class, security_class,
			threat_level, description, justification, estimated_resources, proposed_timeline, status)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		returning created_at, updated_at
	`, p.ID, p.SubmitterID, p.Name, p.Codename, p.ObjectClass, p.SecurityClass,
		p.ThreatLevel, p.Description, p.Justification, p.EstimatedRes, p.Timeline,
		p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	if err := replaceChildren(ctx, tx, p.ID, p.Departments, p.Requirements); err != nil {
		return err
	}
	return tx.Commit()
}

// replaceChildren swaps the full department/requirement sets. Callers must
// resend the complete desired sets; no diffing happens here.
func replaceChildren(ctx context.Context, tx *sql.Tx, proposalID string, departments []DepartmentLink, requirements []ClearanceRequirement) error {
	if departments != nil {
		if _, err := tx.ExecContext(ctx,
			`delete from proposal_departments where proposal_id=$1`, proposalID); err != nil {
			return err
		}
		for _, d := range departments {
			if _, err := tx.ExecContext(ctx, `
				insert into proposal_departments(proposal_id, department_id, is_primary)
				values ($1,$2,$3)
			`, proposalID, d.DepartmentID, d.Primary); err != nil {
				return err
			}
		}
	}
	if requirements != nil {
		if _, err := tx.ExecContext(ctx,
			`delete from proposal_clearance_requirements where proposal_id=$1`, proposalID); err != nil {
			return err
		}
		for _, r := range requirements {
			if _, err := tx.ExecContext(ctx, `
				insert into proposal_clearance_requirements(proposal_id, level, rationale)
				values ($1,$2,$3)
			`, proposalID, r.Level, r.Rationale); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Proposal, error) {
	p, err := scanProposal(s.db.QueryRowContext(ctx,
		`select `+proposalColumns+` from proposals where id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PGStore) loadChildren(ctx context.Context, p *Proposal) error {
	rows, err := s.db.QueryContext(ctx, `
		select department_id, is_primary from proposal_departments
		where proposal_id=$1 order by department_id asc
	`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var d DepartmentLink
		if err := rows.Scan(&d.DepartmentID, &d.Primary); err != nil {
			return err
		}
		p.Departments = append(p.Departments, d)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	reqRows, err := s.db.QueryContext(ctx, `
		select level, rationale from proposal_clearance_requirements
		where proposal_id=$1 order by id asc
	`, p.ID)
	if err != nil {
		return err
	}
	defer reqRows.Close()
	for reqRows.Next() {
		var r ClearanceRequirement
		if err := reqRows.Scan(&r.Level, &r.Rationale); err != nil {
			return err
		}
		p.Requirements = append(p.Requirements, r)
	}
	return reqRows.Err()
}

func (s *PGStore) ListBySubmitter(ctx context.Context, submitterID string) ([]*Proposal, error) {
	return s.list(ctx, `select `+proposalColumns+` from proposals where submitter_id=$1 order by created_at desc`, submitterID)
}

func (s *PGStore) ListAll(ctx context.Context) ([]*Proposal, error) {
	return s.list(ctx, `select `+proposalColumns+` from proposals order by created_at desc`)
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]*Proposal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Proposal, 0, 16)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *PGStore) UpdateContent(ctx context.Context, id string, upd ContentUpdate, status Status) (*Proposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var class, threat *string
	if upd.SecurityClass != nil {
		v := string(*upd.SecurityClass)
		class = &v
	}
	if upd.ThreatLevel != nil {
		v := string(*upd.ThreatLevel)
		threat = &v
	}
	res, err := tx.ExecContext(ctx, `
		update proposals set
			name = coalesce($2, name),
			codename = coalesce($3, codename),
			object_class = coalesce($4, object_class),
			security_class = coalesce($5, security_class),
			threat_level = coalesce($6, threat_level),
			description = coalesce($7, description),
			justification = coalesce($8, justification),
			estimated_resources = coalesce($9, estimated_resources),
			proposed_timeline = coalesce($10, proposed_timeline),
			status = $11,
			updated_at = now()
		where id = $1
	`, id, upd.Name, upd.Codename, upd.ObjectClass, class, threat,
		upd.Description, upd.Justification, upd.EstimatedRes, upd.Timeline, status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	if err := replaceChildren(ctx, tx, id, upd.Departments, upd.Requirements); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *PGStore) Transition(ctx context.Context, id string, from []Status, stamp ReviewStamp) (*Proposal, error) {
	fromStrs := make([]string, 0, len(from))
	for _, f := range from {
		fromStrs = append(fromStrs, string(f))
	}
	res, err := s.db.ExecContext(ctx, `
		update proposals set
			status = $2,
			reviewed_by = $3,
			reviewed_at = now(),
			admin_notes = coalesce($4, admin_notes),
			rejection_reason = coalesce($5, rejection_reason),
			revision_notes = coalesce($6, revision_notes),
			updated_at = now()
		where id = $1 and status = any($7)
	`, id, stamp.Status, stamp.ReviewerID, stamp.AdminNotes,
		stamp.RejectionReason, stamp.RevisionNotes, fromStrs)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, stamp.Status)
	}
	return s.Get(ctx, id)
}

func (s *PGStore) Approve(ctx context.Context, id string, reviewerID string, created *project.Project) (*Proposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the proposal so a concurrent approval observes the terminal
	// status instead of creating a second project.
	var status Status
	var submitterID string
	err = tx.QueryRowContext(ctx,
		`select status, submitter_id from proposals where id=$1 for update`, id,
	).Scan(&status, &submitterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != StatusPending && status != StatusUnderReview {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, StatusApproved)
	}

	if err := tx.QueryRowContext(ctx, `
		insert into projects(id, project_code, name, codename, object_class, security_class,
			threat_level, status, progress, description, procedures, protocols, created_by)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		returning created_at, updated_at
	`, created.ID, created.ProjectCode, created.Name, created.Codename, created.ObjectClass,
		created.SecurityClass, created.ThreatLevel, created.Status, created.Progress,
		created.Description, created.Procedures, created.Protocols, created.CreatedBy,
	).Scan(&created.CreatedAt, &created.UpdatedAt); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into project_assignments(project_id, user_id, role)
		values ($1,$2,'lead')
	`, created.ID, submitterID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		update proposals set
			status = $2,
			reviewed_by = $3,
			reviewed_at = now(),
			created_project_id = $4,
			updated_at = now()
		where id = $1
	`, id, StatusApproved, reviewerID, created.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	// Child rows go via ON DELETE CASCADE.
	res, err := s.db.ExecContext(ctx, `delete from proposals where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
