package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/accounts-auth/internal/config"
	"github.com/smallbiznis/accounts-auth/internal/domain"
	"github.com/smallbiznis/accounts-auth/internal/password"
	"github.com/smallbiznis/accounts-auth/internal/repository"
)

// EnsureAdmin creates a default admin user for dev/e2e if missing. It is a
// no-op when ADMIN_EMAIL is not configured.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" {
		return nil
	}
	if strings.TrimSpace(cfg.AdminPassword) == "" {
		return fmt.Errorf("admin bootstrap requires ADMIN_PASSWORD")
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := users.Create(ctx, domain.User{
		ID:           node.Generate().Int64(),
		Email:        email,
		FirstName:    "Admin",
		PasswordHash: hashed,
		Role:         domain.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.Int64("user_id", created.ID),
		)
	}
	return nil
}
