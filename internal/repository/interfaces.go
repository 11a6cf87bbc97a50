package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/accounts-auth/internal/domain"
)

// UserUpdate carries optional profile fields for partial updates. Nil fields
// are left unchanged.
type UserUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Role      *string
}

// UserRepository exposes persistence for user accounts. Lookups that match no
// record fail with pgx.ErrNoRows semantics. The token-lifecycle writes are
// single-statement updates, so concurrent logins for one user cannot lose an
// update: the last write wins and exactly one refresh token remains stored.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id int64) (domain.User, error)
	GetByRefreshToken(ctx context.Context, token string) (domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, id int64, update UserUpdate) (domain.User, error)
	Delete(ctx context.Context, id int64) error

	// SetRefreshToken overwrites the stored refresh token; the empty string
	// clears it.
	SetRefreshToken(ctx context.Context, id int64, token string) error
	// SetResetToken records a pending password reset, superseding any prior
	// one.
	SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error
	// UpdatePassword replaces the password hash and clears the reset token
	// pair in the same statement.
	UpdatePassword(ctx context.Context, id int64, hash string) error
}

// LoginAttemptStore counts consecutive failed logins per identifier within a
// rolling window.
type LoginAttemptStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}
