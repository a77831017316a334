package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const userColumns = `id, name, email, user_name, password_hash, branch, refresh_token_hash, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, email, user_name, password_hash, branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Email, user.UserName, user.PasswordHash, user.Branch, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}

	return nil
}

// ExistsByEmailOrUserName reports whether either identifier is already taken.
func (r *UserRepository) ExistsByEmailOrUserName(ctx context.Context, email, userName string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 OR user_name = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, email, userName).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	var refreshHash sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Name, &user.Email, &user.UserName, &user.PasswordHash, &user.Branch,
		&refreshHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.RefreshTokenHash = refreshHash.String

	return user, nil
}

// SetRefreshToken unconditionally replaces the stored refresh token hash.
// Used on login, where any previous session is superseded.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id uuid.UUID, hash string) error {
	query := `UPDATE users SET refresh_token_hash = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, ErrUserNotFound, query, id, hash, time.Now().UTC())
}

// SwapRefreshToken replaces the stored hash only if it still equals expected.
// It returns ErrRefreshTokenMismatch when another request rotated or cleared
// the token first.
func (r *UserRepository) SwapRefreshToken(ctx context.Context, id uuid.UUID, expected, next string) error {
	query := `
		UPDATE users
		SET refresh_token_hash = $3, updated_at = $4
		WHERE id = $1 AND refresh_token_hash = $2
	`
	return r.execOne(ctx, ErrRefreshTokenMismatch, query, id, expected, next, time.Now().UTC())
}

func (r *UserRepository) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET refresh_token_hash = NULL, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, ErrUserNotFound, query, id, time.Now().UTC())
}

// UpdatePassword stores a new password hash and ends every refresh session.
func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, refresh_token_hash = NULL, updated_at = $3
		WHERE id = $1
	`
	return r.execOne(ctx, ErrUserNotFound, query, id, passwordHash, time.Now().UTC())
}

func (r *UserRepository) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(result, notFound)
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	if pqErr.Constraint == "users_user_name_key" {
		return ErrUserNameExists
	}
	return ErrEmailExists
}
