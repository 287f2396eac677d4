package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/xid"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

// SQLSTATE unique_violation.
const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, subscription, avatar_url, session_token, created_at, updated_at`

func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Subscription == "" {
		user.Subscription = model.SubscriptionFree
	}

	query :=
		`INSERT INTO users (id, email, password_hash, subscription, avatar_url, session_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.conn.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		string(user.Subscription),
		user.AvatarURL,
		nullString(user.SessionToken),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperror.Conflict("user", "email", user.Email)
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}

	return nil
}

func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	u, err := scanUser(db.conn.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return u, nil
}

func (db *DB) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", id, err)
	}
	return u, nil
}

// UpdateByID runs a single statement; absent fields keep their column value
// through COALESCE, and the session token is only touched when $4 is true.
func (db *DB) UpdateByID(ctx context.Context, id string, upd repository.UserUpdate) (*model.User, error) {
	query :=
		`UPDATE users SET
		   subscription  = COALESCE($2::text, subscription),
		   avatar_url    = COALESCE($3::text, avatar_url),
		   session_token = CASE WHEN $4::boolean THEN $5::text ELSE session_token END,
		   updated_at    = now()
		 WHERE id = $1
		 RETURNING ` + userColumns

	var subscription *string
	if upd.Subscription != nil {
		s := string(*upd.Subscription)
		subscription = &s
	}

	row := db.conn.QueryRowContext(ctx, query,
		id,
		nullString(subscription),
		nullString(upd.AvatarURL),
		upd.SetSessionToken,
		nullString(upd.SessionToken),
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: updating user %s: %w", id, err)
	}
	return u, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u            model.User
		subscription string
		token        sql.NullString
	)
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&subscription,
		&u.AvatarURL,
		&token,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Subscription = model.Subscription(subscription)
	if token.Valid {
		u.SessionToken = &token.String
	}
	return &u, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
