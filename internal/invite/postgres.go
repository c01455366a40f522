package invite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sanctum.org/internal/identity"
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

const invitationColumns = `id, token, issuer_id, display_name, title, clearance_level,
	department_id, rank_id, expires_at, used_at, created_at`

func scanInvitation(row interface{ Scan(...any) error }) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.Token, &inv.IssuerID, &inv.DisplayName, &inv.Title,
		&inv.ClearanceLevel, &inv.DepartmentID, &inv.RankID, &inv.ExpiresAt, &inv.UsedAt, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *PGStore) Create(ctx context.Context, inv *Invitation) error {
	err := s.db.QueryRowContext(ctx, `
		insert into invitations(id, token, issuer_id, display_name, title, clearance_level,
			department_id, rank_id, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		returning created_at
	`, inv.ID, inv.Token, inv.IssuerID, inv.DisplayName, inv.Title, inv.ClearanceLevel,
		inv.DepartmentID, inv.RankID, inv.ExpiresAt).Scan(&inv.CreatedAt)
	if pg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: invitation token collision", ErrConflict)
	}
	if pg.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: bound department or rank does not exist", ErrNotFound)
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (*Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations where id=$1`, id))
}

func (s *PGStore) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations where token=$1`, token))
}

func (s *PGStore) ListByIssuer(ctx context.Context, issuerID string) ([]*Invitation, error) {
	return s.list(ctx, `select `+invitationColumns+` from invitations
		where issuer_id=$1 order by created_at desc`, issuerID)
}

func (s *PGStore) ListAll(ctx context.Context) ([]*Invitation, error) {
	return s.list(ctx, `select `+invitationColumns+` from invitations order by created_at desc`)
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Invitation, 0, 16)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Redeem consumes a live token and creates the bound account. The
// conditional update is the single-use guard: under concurrent redemption
// exactly one transaction observes a null used_at and commits.
func (s *PGStore) Redeem(ctx context.Context, token string, user *identity.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update invitations set used_at = now()
		where token=$1 and used_at is null and expires_at > now()
	`, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConsumed
	}

	err = tx.QueryRowContext(ctx, `
		insert into users(id, username, email, display_name, title, password_hash,
			clearance_level, primary_department_id, is_active, is_verified)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		returning created_at, updated_at
	`, user.ID, user.Username, user.Email, user.DisplayName, user.Title, user.PasswordHash,
		user.ClearanceLevel, user.PrimaryDepartmentID, user.IsActive, user.IsVerified,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if pg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: username or email already taken", ErrConflict)
	}
	if err != nil {
		return err
	}

	if user.PrimaryDepartmentID != nil {
		var rankID *string
		if err := tx.QueryRowContext(ctx,
			`select rank_id from invitations where token=$1`, token,
		).Scan(&rankID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into department_memberships(department_id, user_id, rank_id)
			values ($1,$2,$3)
		`, *user.PrimaryDepartmentID, user.ID, rankID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from invitations where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
