package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/smallbiznis/accounts-auth/internal/domain"
	pw "github.com/smallbiznis/accounts-auth/internal/password"
	"github.com/smallbiznis/accounts-auth/internal/repository"
)

// CreateUserInput carries the fields accepted when registering a user.
type CreateUserInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	Role      string
}

// CreateUser registers a new account. The password is optional; accounts
// without one cannot log in until a reset sets it.
func (s *AuthService) CreateUser(ctx context.Context, input CreateUserInput) (UserView, error) {
	ctx, span := s.startSpan(ctx, "AuthService.CreateUser")
	defer span.End()

	normalized := normalizeEmail(input.Email)
	if _, err := s.users.GetByEmail(ctx, normalized); err == nil {
		return UserView{}, newAuthError("email_taken", "Email already registered.", http.StatusBadRequest)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return UserView{}, fmt.Errorf("check existing user: %w", err)
	}

	var hash string
	if input.Password != "" {
		var err error
		hash, err = pw.Hash(input.Password)
		if err != nil {
			span.RecordError(err)
			return UserView{}, fmt.Errorf("hash password: %w", err)
		}
	}

	role := input.Role
	if role == "" {
		role = domain.RoleDefault
	}

	created, err := s.users.Create(ctx, domain.User{
		ID:           s.snowflake.Generate().Int64(),
		Email:        normalized,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		span.RecordError(err)
		return UserView{}, fmt.Errorf("create user: %w", err)
	}

	s.audit("user.created", "user_id", created.ID)
	return newUserView(created), nil
}

// ListUsers returns all accounts.
func (s *AuthService) ListUsers(ctx context.Context) ([]UserView, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ListUsers")
	defer span.End()

	users, err := s.users.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list users: %w", err)
	}

	views := make([]UserView, 0, len(users))
	for _, user := range users {
		views = append(views, newUserView(user))
	}
	return views, nil
}

// GetUser returns a single account by id.
func (s *AuthService) GetUser(ctx context.Context, id int64) (UserView, error) {
	ctx, span := s.startSpan(ctx, "AuthService.GetUser")
	defer span.End()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserView{}, newAuthError("user_not_found", "User not found.", http.StatusNotFound)
		}
		span.RecordError(err)
		return UserView{}, fmt.Errorf("get user: %w", err)
	}
	return newUserView(user), nil
}

// UpdateUser applies a partial profile update.
func (s *AuthService) UpdateUser(ctx context.Context, id int64, update repository.UserUpdate) (UserView, error) {
	ctx, span := s.startSpan(ctx, "AuthService.UpdateUser")
	defer span.End()

	if update.Email != nil {
		normalized := normalizeEmail(*update.Email)
		update.Email = &normalized
	}

	updated, err := s.users.Update(ctx, id, update)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserView{}, newAuthError("user_not_found", "User not found.", http.StatusNotFound)
		}
		span.RecordError(err)
		return UserView{}, fmt.Errorf("update user: %w", err)
	}

	s.audit("user.updated", "user_id", id)
	return newUserView(updated), nil
}

// DeleteUser removes an account.
func (s *AuthService) DeleteUser(ctx context.Context, id int64) error {
	ctx, span := s.startSpan(ctx, "AuthService.DeleteUser")
	defer span.End()

	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return newAuthError("user_not_found", "User not found.", http.StatusNotFound)
		}
		span.RecordError(err)
		return fmt.Errorf("delete user: %w", err)
	}

	s.audit("user.deleted", "user_id", id)
	return nil
}
