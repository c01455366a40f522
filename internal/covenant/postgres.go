package covenant

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

const seatColumns = `id, seat_name, tier, description, holder_user_id, member_name, created_at, updated_at`

func scanSeat(row interface{ Scan(...any) error }) (*Seat, error) {
	var seat Seat
	err := row.Scan(&seat.ID, &seat.SeatName, &seat.Tier, &seat.Description,
		&seat.HolderUserID, &seat.MemberName, &seat.CreatedAt, &seat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seat, nil
}

func (s *PGStore) ListSeats(ctx context.Context) ([]*Seat, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+seatColumns+` from serpentius_seats
		order by case tier
			when 'ouroboros_sovereign' then 5
			when 'ophidian_apex' then 4
			when 'venom_circle' then 3
			when 'scale_bearer' then 2
			else 1
		end desc, seat_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Seat, 0, 16)
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seat)
	}
	return out, rows.Err()
}

func (s *PGStore) GetSeat(ctx context.Context, id string) (*Seat, error) {
	return scanSeat(s.db.QueryRowContext(ctx,
		`select `+seatColumns+` from serpentius_seats where id=$1`, id))
}

func (s *PGStore) UpdateSeat(ctx context.Context, id string, upd SeatUpdate) (*Seat, error) {
	seat, err := scanSeat(s.db.QueryRowContext(ctx, `
		update serpentius_seats set
			holder_user_id = $2,
			member_name = $3,
			updated_at = now()
		where id=$1
		returning `+seatColumns, id, upd.HolderUserID, upd.MemberName))
	if pg.IsForeignKeyViolation(err) {
		return nil, fmt.Errorf("%w: holder user does not exist", ErrNotFound)
	}
	return seat, err
}

const invitationColumns = `id, token, issuer_id, display_name, role, title, sigil,
	clearance_level, seat_id, expires_at, accepted_at, created_at`

func scanInvitation(row interface{ Scan(...any) error }) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.Token, &inv.IssuerID, &inv.DisplayName, &inv.Role,
		&inv.Title, &inv.Sigil, &inv.ClearanceLevel, &inv.SeatID,
		&inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *PGStore) CreateInvitation(ctx context.Context, inv *Invitation) error {
	err := s.db.QueryRowContext(ctx, `
		insert into covenant_invitations(id, token, issuer_id, display_name, role, title,
			sigil, clearance_level, seat_id, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		returning created_at
	`, inv.ID, inv.Token, inv.IssuerID, inv.DisplayName, inv.Role, inv.Title,
		inv.Sigil, inv.ClearanceLevel, inv.SeatID, inv.ExpiresAt).Scan(&inv.CreatedAt)
	if pg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: invitation token collision", ErrConflict)
	}
	if pg.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: bound seat does not exist", ErrNotFound)
	}
	return err
}

func (s *PGStore) GetInvitation(ctx context.Context, id string) (*Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from covenant_invitations where id=$1`, id))
}

func (s *PGStore) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from covenant_invitations where token=$1`, token))
}

func (s *PGStore) ListInvitations(ctx context.Context) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+invitationColumns+` from covenant_invitations order by created_at desc`)
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

// Accept consumes a live token, creates the bound account, and seats the
// member when a seat is bound. The conditional update on accepted_at is
// the single-use guard.
func (s *PGStore) Accept(ctx context.Context, token string, user *identity.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seatID *string
	var displayName string
	err = tx.QueryRowContext(ctx, `
		update covenant_invitations set accepted_at = now()
		where token=$1 and accepted_at is null and expires_at > now()
		returning seat_id, display_name
	`, token).Scan(&seatID, &displayName)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConsumed
	}
	if err != nil {
		return err
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

	if seatID != nil {
		res, err := tx.ExecContext(ctx, `
			update serpentius_seats set
				holder_user_id = $2,
				member_name = $3,
				updated_at = now()
			where id=$1 and holder_user_id is null
		`, *seatID, user.ID, displayName)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: bound seat is already held", ErrConflict)
		}
	}

	return tx.Commit()
}

func (s *PGStore) DeleteInvitation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from covenant_invitations where id=$1`, id)
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
