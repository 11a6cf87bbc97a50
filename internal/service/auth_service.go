package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/accounts-auth/internal/config"
	pw "github.com/smallbiznis/accounts-auth/internal/password"
	"github.com/smallbiznis/accounts-auth/internal/repository"
	"github.com/smallbiznis/accounts-auth/internal/token"
)

// AuthError is a caller-visible failure carrying the HTTP status it maps to.
// Anything that is not an AuthError surfaces to the client as an opaque 500.
type AuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newAuthError(code, desc string, status int) *AuthError {
	return &AuthError{Code: code, Description: desc, Status: status}
}

// AuthService orchestrates the credential and token lifecycle flows.
type AuthService struct {
	users     repository.UserRepository
	attempts  repository.LoginAttemptStore
	codec     *token.Codec
	snowflake *snowflake.Node
	cfg       config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAuthService wires dependencies. attempts may be nil to disable login
// throttling.
func NewAuthService(users repository.UserRepository, attempts repository.LoginAttemptStore, codec *token.Codec, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		attempts:  attempts,
		codec:     codec,
		snowflake: node,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/smallbiznis/accounts-auth/internal/service"),
		now:       time.Now,
	}
}

// Login verifies credentials and issues an access/refresh token pair. The
// refresh token is persisted on the user record, overwriting any prior value:
// at most one session per user is live at a time.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	normalized := normalizeEmail(email)

	if err := s.checkAttempts(ctx, normalized); err != nil {
		return LoginResult{}, err
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoginResult{}, newAuthError("user_not_found", "User not found.", http.StatusNotFound)
		}
		span.RecordError(err)
		return LoginResult{}, fmt.Errorf("login lookup user: %w", err)
	}

	if user.PasswordHash == "" {
		return LoginResult{}, newAuthError("invalid_credentials", "Unable to login.", http.StatusBadRequest)
	}
	match, err := pw.Verify(password, user.PasswordHash)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, fmt.Errorf("login verify password: %w", err)
	}
	if !match {
		return LoginResult{}, newAuthError("invalid_credentials", "Unable to login.", http.StatusBadRequest)
	}

	claims := token.Claims{UserID: user.ID, Email: user.Email}
	access, err := s.codec.Issue(claims, token.PurposeAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.codec.Issue(claims, token.PurposeRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, fmt.Errorf("issue refresh token: %w", err)
	}

	if err := s.users.SetRefreshToken(ctx, user.ID, refresh); err != nil {
		span.RecordError(err)
		return LoginResult{}, fmt.Errorf("persist refresh token: %w", err)
	}

	s.resetAttempts(ctx, normalized)
	s.audit("login.success", "user_id", user.ID)

	return LoginResult{
		UserID:       user.ID,
		Email:        user.Email,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// Refresh mints a new access token for the session identified by the
// presented refresh token. The token must both match the value stored on a
// user record and verify as a refresh-purpose token; neither check alone is
// sufficient. The refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	if refreshToken == "" {
		return "", newAuthError("invalid_token", "Refresh token missing.", http.StatusUnauthorized)
	}

	user, err := s.users.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", newAuthError("session_not_found", "Session not found.", http.StatusForbidden)
		}
		span.RecordError(err)
		return "", fmt.Errorf("refresh lookup session: %w", err)
	}

	claims, err := s.codec.Verify(refreshToken, token.PurposeRefresh)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return "", newAuthError("token_expired", "Session has expired.", http.StatusForbidden)
		}
		return "", newAuthError("session_not_found", "Session not found.", http.StatusForbidden)
	}
	if claims.Email != user.Email {
		return "", newAuthError("session_not_found", "Session not found.", http.StatusForbidden)
	}

	access, err := s.codec.Issue(token.Claims{UserID: user.ID, Email: user.Email}, token.PurposeAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("refresh issue access token: %w", err)
	}

	s.audit("refresh.success", "user_id", user.ID)
	return access, nil
}

// Logout invalidates the session holding the presented refresh token. It is
// idempotent: an absent or unmatched token is still a success, and the caller
// always drops the cookie.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	if refreshToken == "" {
		return nil
	}

	user, err := s.users.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("logout lookup session: %w", err)
	}

	if err := s.users.SetRefreshToken(ctx, user.ID, ""); err != nil {
		span.RecordError(err)
		return fmt.Errorf("logout clear refresh token: %w", err)
	}

	s.audit("logout.success", "user_id", user.ID)
	return nil
}

func (s *AuthService) checkAttempts(ctx context.Context, email string) error {
	if s.attempts == nil || s.cfg.LoginAttemptLimit <= 0 {
		return nil
	}
	count, err := s.attempts.Incr(ctx, email)
	if err != nil {
		// Counter backend down: log and let the login proceed.
		s.log().Warn("login attempt counter unavailable", zap.Error(err))
		return nil
	}
	if count > int64(s.cfg.LoginAttemptLimit) {
		return newAuthError("too_many_attempts", "Too many login attempts. Try again later.", http.StatusTooManyRequests)
	}
	return nil
}

func (s *AuthService) resetAttempts(ctx context.Context, email string) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.Reset(ctx, email); err != nil {
		s.log().Warn("reset login attempt counter", zap.Error(err))
	}
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", s.now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
