package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/smallbiznis/accounts-auth/internal/domain"
)

// DB is the subset of pgxpool.Pool the repository uses. pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ UserRepository = (*PostgresUserRepo)(nil)

// PostgresUserRepo implements UserRepository on PostgreSQL.
type PostgresUserRepo struct {
	db DB
}

func NewPostgresUserRepo(db DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, first_name, last_name, password_hash, refresh_token, reset_token, reset_token_expiry, role, created_at, updated_at`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByRefreshToken(ctx context.Context, token string) (domain.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE refresh_token = $1 AND refresh_token <> ''`, token)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by refresh token: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

const insertUserSQL = `INSERT INTO users (id, email, first_name, last_name, password_hash, role)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.Role,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

const updateUserSQL = `UPDATE users SET
	email = COALESCE($2, email),
	first_name = COALESCE($3, first_name),
	last_name = COALESCE($4, last_name),
	role = COALESCE($5, role),
	updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

func (r *PostgresUserRepo) Update(ctx context.Context, id int64, update UserUpdate) (domain.User, error) {
	row := r.db.QueryRow(ctx, updateUserSQL,
		id,
		update.Email,
		update.FirstName,
		update.LastName,
		update.Role,
	)
	updated, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

func (r *PostgresUserRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete user: %w", pgx.ErrNoRows)
	}
	return nil
}

func (r *PostgresUserRepo) SetRefreshToken(ctx context.Context, id int64, token string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET refresh_token = $2, updated_at = now() WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set refresh token: %w", pgx.ErrNoRows)
	}
	return nil
}

func (r *PostgresUserRepo) SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET reset_token = $2, reset_token_expiry = $3, updated_at = now() WHERE id = $1`,
		id, token, expiry)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set reset token: %w", pgx.ErrNoRows)
	}
	return nil
}

func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $2, reset_token = '', reset_token_expiry = NULL, updated_at = now() WHERE id = $1`,
		id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update password: %w", pgx.ErrNoRows)
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user        domain.User
		resetExpiry sql.NullTime
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.RefreshToken,
		&user.ResetToken,
		&resetExpiry,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	if resetExpiry.Valid {
		expiry := resetExpiry.Time
		user.ResetTokenExpiry = &expiry
	}
	return user, nil
}
