package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

const userColumns = `id, username, email, display_name, title, password_hash,
	clearance_level, primary_department_id, is_active, is_verified, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.Title, &u.PasswordHash,
		&u.ClearanceLevel, &u.PrimaryDepartmentID, &u.IsActive, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, username, email, display_name, title, password_hash,
			clearance_level, primary_department_id, is_active, is_verified)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, u.ID, u.Username, u.Email, u.DisplayName, u.Title, u.PasswordHash,
		u.ClearanceLevel, u.PrimaryDepartmentID, u.IsActive, u.IsVerified)
	if pg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: username or email already taken", ErrConflict)
	}
	if err != nil {
		return err
	}
	return s.refreshTimestamps(ctx, u)
}

func (s *PGStore) refreshTimestamps(ctx context.Context, u *User) error {
	return s.db.QueryRowContext(ctx,
		`select created_at, updated_at from users where id=$1`, u.ID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (s *PGStore) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *PGStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username))
}

func (s *PGStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *PGStore) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	res, err := s.db.ExecContext(ctx, `
		update users set
			display_name = coalesce($2, display_name),
			title = coalesce($3, title),
			email = coalesce($4, email),
			password_hash = coalesce($5, password_hash),
			clearance_level = coalesce($6, clearance_level),
			is_active = coalesce($7, is_active),
			is_verified = coalesce($8, is_verified),
			updated_at = now()
		where id = $1
	`, id, upd.DisplayName, upd.Title, upd.Email, upd.PasswordHash,
		upd.Clearance, upd.IsActive, upd.IsVerified)
	if pg.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w: email already taken", ErrConflict)
	}
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
	return s.GetUser(ctx, id)
}

func (s *PGStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// Department store -----------------------------------------------------------

func (s *PGStore) CreateDepartment(ctx context.Context, d *Department) error {
	err := s.db.QueryRowContext(ctx, `
		insert into departments(id, name, codename, icon, color)
		values ($1,$2,$3,$4,$5)
		returning created_at, updated_at
	`, d.ID, d.Name, d.Codename, d.Icon, d.Color).Scan(&d.CreatedAt, &d.UpdatedAt)
	if pg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: department name already exists", ErrConflict)
	}
	return err
}

func (s *PGStore) GetDepartment(ctx context.Context, id string) (*Department, error) {
	var d Department
	err := s.db.QueryRowContext(ctx, `
		select id, name, codename, icon, color, created_at, updated_at
		from departments where id=$1
	`, id).Scan(&d.ID, &d.Name, &d.Codename, &d.Icon, &d.Color, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGStore) ListDepartments(ctx context.Context) ([]*Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, codename, icon, color, created_at, updated_at
		from departments order by name asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Department, 0, 8)
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Codename, &d.Icon, &d.Color, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &d)
	}
	return res, rows.Err()
}

// Rank store ------------------------------------------------------------------

func (s *PGStore) CreateRank(ctx context.Context, r *Rank) error {
	err := s.db.QueryRowContext(ctx, `
		insert into ranks(id, department_id, name, clearance_level, sort_order)
		values ($1,$2,$3,$4,$5)
		returning created_at
	`, r.ID, r.DepartmentID, r.Name, r.ClearanceLevel, r.SortOrder).Scan(&r.CreatedAt)
	if pg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: rank name already exists in department", ErrConflict)
	}
	if pg.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) GetRank(ctx context.Context, id string) (*Rank, error) {
	var r Rank
	err := s.db.QueryRowContext(ctx, `
		select id, department_id, name, clearance_level, sort_order, created_at
		from ranks where id=$1
	`, id).Scan(&r.ID, &r.DepartmentID, &r.Name, &r.ClearanceLevel, &r.SortOrder, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PGStore) ListRanks(ctx context.Context, departmentID string) ([]*Rank, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, department_id, name, clearance_level, sort_order, created_at
		from ranks where department_id=$1 order by sort_order asc, name asc
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Rank, 0, 8)
	for rows.Next() {
		var r Rank
		if err := rows.Scan(&r.ID, &r.DepartmentID, &r.Name, &r.ClearanceLevel, &r.SortOrder, &r.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &r)
	}
	return res, rows.Err()
}

// Membership store ------------------------------------------------------------

func (s *PGStore) ReplaceMemberships(ctx context.Context, userID string, memberships []Membership, primaryDepartmentID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from department_memberships where user_id=$1`, userID); err != nil {
		return err
	}
	for _, m := range memberships {
		if _, err := tx.ExecContext(ctx, `
			insert into department_memberships(department_id, user_id, rank_id)
			values ($1,$2,$3)
		`, m.DepartmentID, userID, m.RankID); err != nil {
			if pg.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return err
		}
	}

	// primary_department_id lives on the user row; the schema does not tie it
	// to the join table, so it is maintained here.
	if primaryDepartmentID != nil {
		var value any
		if *primaryDepartmentID != "" {
			value = *primaryDepartmentID
		}
		if _, err := tx.ExecContext(ctx,
			`update users set primary_department_id=$2, updated_at=now() where id=$1`,
			userID, value); err != nil {
			return err
		}
	} else if len(memberships) == 0 {
		if _, err := tx.ExecContext(ctx,
			`update users set primary_department_id=null, updated_at=now() where id=$1`, userID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PGStore) ListMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select department_id, user_id, rank_id, created_at
		from department_memberships where user_id=$1 order by created_at asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*Membership, 0, 4)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.DepartmentID, &m.UserID, &m.RankID, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}
