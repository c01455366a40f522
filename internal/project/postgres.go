package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sanctum.org/internal/access"
	"sanctum.org/internal/store/pg"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const projectColumns = `id, project_code, name, codename, object_class, security_class,
	threat_level, status, progress, description, procedures, protocols,
	created_by, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.ProjectCode, &p.Name, &p.Codename, &p.ObjectClass, &p.SecurityClass,
		&p.ThreatLevel, &p.Status, &p.Progress, &p.Description, &p.Procedures, &p.Protocols,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) Create(ctx context.Context, p *Project, leadUserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into projects(id, project_code, name, codename, object_class, security_class,
			threat_level, status, progress, description, procedures, protocols, created_by)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		returning created_at, updated_at
	`, p.ID, p.ProjectCode, p.Name, p.Codename, p.ObjectClass, p.SecurityClass,
		p.ThreatLevel, p.Status, p.Progress, p.Description, p.Procedures, p.Protocols,
		p.CreatedBy).Scan(&p.CreatedAt, &p.UpdatedAt)
	if pg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: project code already exists", ErrConflict)
	}
	if err != nil {
		return err
	}

	if leadUserID != "" {
		if _, err := tx.ExecContext(ctx, `
			insert into project_assignments(project_id, user_id, role)
			values ($1,$2,'lead')
		`, p.ID, leadUserID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) Get(ctx context.Context, id string) (*Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`select `+projectColumns+` from projects where id=$1`, id))
}

func (s *PGStore) List(ctx context.Context, filter ListFilter) ([]*Project, error) {
	query := `select ` + projectColumns + ` from projects where 1=1`
	args := make([]any, 0, 4)

	if len(filter.AllowedClasses) > 0 {
		placeholders := make([]string, 0, len(filter.AllowedClasses))
		for _, c := range filter.AllowedClasses {
			args = append(args, string(c))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += ` and security_class in (` + strings.Join(placeholders, ",") + `)`
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` and status=$%d`, len(args))
	}
	if filter.SecurityClass != "" {
		args = append(args, string(filter.SecurityClass))
		query += fmt.Sprintf(` and security_class=$%d`, len(args))
	}
	query += ` order by created_at desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Project, 0, 16)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *PGStore) Update(ctx context.Context, id string, upd Update) (*Project, error) {
	var class, threat, status *string
	if upd.SecurityClass != nil {
		v := string(*upd.SecurityClass)
		class = &v
	}
	if upd.ThreatLevel != nil {
		v := string(*upd.ThreatLevel)
		threat = &v
	}
	if upd.Status != nil {
		v := string(*upd.Status)
		status = &v
	}
	row := s.db.QueryRowContext(ctx, `
		update projects set
			name = coalesce($2, name),
			codename = coalesce($3, codename),
			object_class = coalesce($4, object_class),
			security_class = coalesce($5, security_class),
			threat_level = coalesce($6, threat_level),
			status = coalesce($7, status),
			progress = coalesce($8, progress),
			description = coalesce($9, description),
			procedures = coalesce($10, procedures),
			protocols = coalesce($11, protocols),
			updated_at = now()
		where id = $1
		returning `+projectColumns+`
	`, id, upd.Name, upd.Codename, upd.ObjectClass, class, threat, status,
		upd.Progress, upd.Description, upd.Procedures, upd.Protocols)
	return scanProject(row)
}

// Assignments -----------------------------------------------------------------

func (s *PGStore) UpsertAssignment(ctx context.Context, a *Assignment) error {
	// The partial unique index on (project_id) where role='lead' backs the
	// single-lead invariant at the schema level.
	err := s.db.QueryRowContext(ctx, `
		insert into project_assignments(project_id, user_id, role)
		values ($1,$2,$3)
		on conflict (project_id, user_id) do update set role = excluded.role
		returning created_at
	`, a.ProjectID, a.UserID, a.Role).Scan(&a.CreatedAt)
	if pg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: project already has a lead", ErrConflict)
	}
	if pg.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) RemoveAssignment(ctx context.Context, projectID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from project_assignments where project_id=$1 and user_id=$2`,
		projectID, userID)
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

func (s *PGStore) GetAssignment(ctx context.Context, projectID, userID string) (*Assignment, error) {
	var a Assignment
	err := s.db.QueryRowContext(ctx, `
		select project_id, user_id, role, created_at
		from project_assignments where project_id=$1 and user_id=$2
	`, projectID, userID).Scan(&a.ProjectID, &a.UserID, &a.Role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) ListAssignments(ctx context.Context, projectID string) ([]*Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select project_id, user_id, role, created_at
		from project_assignments where project_id=$1 order by created_at asc
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Assignment, 0, 8)
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ProjectID, &a.UserID, &a.Role, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &a)
	}
	return res, rows.Err()
}

// Access rules ----------------------------------------------------------------

func (s *PGStore) CreateAccessRule(ctx context.Context, rule *AccessRule) error {
	var target any
	if rule.TargetID != "" {
		target = rule.TargetID
	}
	return s.db.QueryRowContext(ctx, `
		insert into project_access_rules(id, kind, subject_id, min_clearance, target_id, role, created_by)
		values ($1,$2,$3,$4,$5,$6,$7)
		returning created_at
	`, rule.ID, rule.Kind, rule.SubjectID, rule.MinClearance, target, rule.Role, rule.CreatedBy).Scan(&rule.CreatedAt)
}

func (s *PGStore) ListAccessRulesForTarget(ctx context.Context, targetID string) ([]*AccessRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, kind, subject_id, min_clearance, coalesce(target_id,''), role, created_by, created_at
		from project_access_rules
		where target_id is null or target_id=$1
	`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*AccessRule, 0, 8)
	for rows.Next() {
		var r AccessRule
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.SubjectID, &r.MinClearance, &r.TargetID, &r.Role, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Kind = access.RuleKind(kind)
		res = append(res, &r)
	}
	return res, rows.Err()
}

// Logbook ---------------------------------------------------------------------

func (s *PGStore) AppendLogbookEntry(ctx context.Context, e *LogbookEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the project row so concurrent appends serialize on the number.
	var dummy int
	if err := tx.QueryRowContext(ctx,
		`select 1 from projects where id=$1 for update`, e.ProjectID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	err = tx.QueryRowContext(ctx, `
		insert into logbook_entries(id, project_id, entry_number, author_id, entry_type,
			text, redacted_text, min_clearance_to_view)
		select $1, $2, coalesce(max(entry_number),0)+1, $3, $4, $5, $6, $7
		from logbook_entries where project_id=$2
		returning entry_number, created_at
	`, e.ID, e.ProjectID, e.AuthorID, e.EntryType, e.Text, e.RedactedText,
		e.MinClearanceToView).Scan(&e.EntryNumber, &e.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) ListLogbookEntries(ctx context.Context, projectID string) ([]*LogbookEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, project_id, entry_number, author_id, entry_type, text,
			redacted_text, min_clearance_to_view, created_at
		from logbook_entries where project_id=$1 order by entry_number asc
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*LogbookEntry, 0, 16)
	for rows.Next() {
		var e LogbookEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EntryNumber, &e.AuthorID, &e.EntryType,
			&e.Text, &e.RedactedText, &e.MinClearanceToView, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	return res, rows.Err()
}
