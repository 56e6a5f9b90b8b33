package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
)

type SessionRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *SessionRepo) With(db DB) *SessionRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *SessionRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const sessionCols = `id, cashdesk_id, user_id, start_at, end_at, cash_after,
		        backoffice_user_before, backoffice_user_after, api_token, comment`

func scanSession(row interface{ Scan(dest ...any) error }) (*domain.CashdeskSession, error) {
	var s domain.CashdeskSession
	err := row.Scan(
		&s.ID, &s.CashdeskID, &s.UserID, &s.Start, &s.End, &s.CashAfter,
		&s.BackofficeUserBefore, &s.BackofficeUserAfter, &s.APIToken, &s.Comment,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SessionByID retrieves a cashdesk session by its ID.
func (r *SessionRepo) SessionByID(ctx context.Context, id int64) (*domain.CashdeskSession, error) {
	const op = "postgres.SessionRepo.SessionByID"

	db := r.handle()

	s, err := scanSession(db.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM cashdesk_sessions WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return s, nil
}

// SessionByToken retrieves a cashdesk session by its API token.
//
// Returns:
//   - *domain.CashdeskSession: the session when found.
//   - error: repository.ErrNotFound if no session carries the token.
func (r *SessionRepo) SessionByToken(ctx context.Context, token string) (*domain.CashdeskSession, error) {
	const op = "postgres.SessionRepo.SessionByToken"

	db := r.handle()

	s, err := scanSession(db.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM cashdesk_sessions WHERE api_token = $1`, token,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return s, nil
}

// ActiveSessionByCashdesk retrieves the running session at a desk.
func (r *SessionRepo) ActiveSessionByCashdesk(ctx context.Context, cashdeskID int64) (*domain.CashdeskSession, error) {
	const op = "postgres.SessionRepo.ActiveSessionByCashdesk"

	db := r.handle()

	s, err := scanSession(db.QueryRow(ctx,
		`SELECT `+sessionCols+`
		 FROM cashdesk_sessions
		 WHERE cashdesk_id = $1 AND start_at <= now() AND end_at IS NULL
		 ORDER BY start_at DESC
		 LIMIT 1`,
		cashdeskID,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return s, nil
}

// ListSessions lists sessions, newest first.
func (r *SessionRepo) ListSessions(ctx context.Context, limit, offset int) ([]domain.CashdeskSession, error) {
	const op = "postgres.SessionRepo.ListSessions"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+sessionCols+`
		 FROM cashdesk_sessions
		 ORDER BY start_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.CashdeskSession
	for rows.Next() {
		var s domain.CashdeskSession
		if err := rows.Scan(
			&s.ID, &s.CashdeskID, &s.UserID, &s.Start, &s.End, &s.CashAfter,
			&s.BackofficeUserBefore, &s.BackofficeUserAfter, &s.APIToken, &s.Comment,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// OpenSession inserts a session and fills in its ID and start time.
//
// Returns:
//   - error: repository.ErrConflict if the API token is already in use.
func (r *SessionRepo) OpenSession(ctx context.Context, s *domain.CashdeskSession) error {
	const op = "postgres.SessionRepo.OpenSession"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO cashdesk_sessions(
		    cashdesk_id, user_id, backoffice_user_before, api_token, comment)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, start_at`,
		s.CashdeskID, s.UserID, s.BackofficeUserBefore, s.APIToken, s.Comment,
	).Scan(&s.ID, &s.Start)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// CloseSession ends a session, recording the counted cash and the
// backoffice user who took it over.
func (r *SessionRepo) CloseSession(ctx context.Context, id int64, cashAfter decimal.Decimal, backofficeUserID int64) error {
	const op = "postgres.SessionRepo.CloseSession"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE cashdesk_sessions
		 SET end_at = now(), cash_after = $2, backoffice_user_after = $3
		 WHERE id = $1 AND end_at IS NULL`,
		id, cashAfter, backofficeUserID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// CreateItemMovement records items handed to or counted back from a
// session.
func (r *SessionRepo) CreateItemMovement(ctx context.Context, m *domain.ItemMovement) error {
	const op = "postgres.SessionRepo.CreateItemMovement"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO item_movements(session_id, item_id, amount, backoffice_user_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		m.SessionID, m.ItemID, m.Amount, m.BackofficeUserID,
	).Scan(&m.ID, &m.At)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// CreateCashMovement records cash moved into or out of a session.
func (r *SessionRepo) CreateCashMovement(ctx context.Context, m *domain.CashMovement) error {
	const op = "postgres.SessionRepo.CreateCashMovement"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO cash_movements(session_id, cash, backoffice_user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		m.SessionID, m.Cash, m.BackofficeUserID,
	).Scan(&m.ID, &m.At)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ItemMovementsBySession lists a session's item movements in order.
func (r *SessionRepo) ItemMovementsBySession(ctx context.Context, sessionID int64) ([]domain.ItemMovement, error) {
	const op = "postgres.SessionRepo.ItemMovementsBySession"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, session_id, item_id, amount, backoffice_user_id, created_at
		 FROM item_movements
		 WHERE session_id = $1
		 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.ItemMovement
	for rows.Next() {
		var m domain.ItemMovement
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ItemID, &m.Amount, &m.BackofficeUserID, &m.At); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// CashMovementsBySession lists a session's cash movements in order.
func (r *SessionRepo) CashMovementsBySession(ctx context.Context, sessionID int64) ([]domain.CashMovement, error) {
	const op = "postgres.SessionRepo.CashMovementsBySession"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, session_id, cash, backoffice_user_id, created_at
		 FROM cash_movements
		 WHERE session_id = $1
		 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.CashMovement
	for rows.Next() {
		var m domain.CashMovement
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Cash, &m.BackofficeUserID, &m.At); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// CashdeskByID retrieves a cashdesk by its ID.
func (r *SessionRepo) CashdeskByID(ctx context.Context, id int64) (*domain.Cashdesk, error) {
	const op = "postgres.SessionRepo.CashdeskByID"

	db := r.handle()

	var c domain.Cashdesk
	err := db.QueryRow(ctx,
		`SELECT id, name, ip_address, is_active, handles_items
		 FROM cashdesks WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.IPAddress, &c.IsActive, &c.HandlesItems)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &c, nil
}

// UserByID retrieves a user by their ID.
func (r *SessionRepo) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	const op = "postgres.SessionRepo.UserByID"

	db := r.handle()

	var u domain.User
	err := db.QueryRow(ctx,
		`SELECT id, username, is_superuser, is_backoffice, is_troubleshooter, auth_token
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.IsSuperuser, &u.IsBackoffice, &u.IsTroubleshooter, &u.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &u, nil
}

// TroubleshooterByToken resolves a troubleshooter by their auth token.
//
// Returns:
//   - *domain.User: the troubleshooter when found.
//   - error: repository.ErrNotFound if no troubleshooter carries the token.
func (r *SessionRepo) TroubleshooterByToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "postgres.SessionRepo.TroubleshooterByToken"

	db := r.handle()

	var u domain.User
	err := db.QueryRow(ctx,
		`SELECT id, username, is_superuser, is_backoffice, is_troubleshooter, auth_token
		 FROM users
		 WHERE auth_token = $1 AND is_troubleshooter`,
		token,
	).Scan(&u.ID, &u.Username, &u.IsSuperuser, &u.IsBackoffice, &u.IsTroubleshooter, &u.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &u, nil
}
