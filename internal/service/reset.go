package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	pw "github.com/smallbiznis/accounts-auth/internal/password"
	"github.com/smallbiznis/accounts-auth/internal/token"
)

// RequestReset starts a password reset for the account, superseding any
// pending one, and returns the single-use reset token.
//
// TODO: deliver the token over email instead of returning it once a mail
// sender is wired in.
func (s *AuthService) RequestReset(ctx context.Context, email string) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.RequestReset")
	defer span.End()

	normalized := normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", newAuthError("user_not_found", "User not found.", http.StatusNotFound)
		}
		span.RecordError(err)
		return "", fmt.Errorf("request reset lookup user: %w", err)
	}

	resetToken, err := s.codec.Issue(token.Claims{UserID: user.ID, Email: user.Email}, token.PurposeReset, s.cfg.ResetTokenTTL)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("issue reset token: %w", err)
	}

	expiry := s.now().UTC().Add(s.cfg.ResetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, resetToken, expiry); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("persist reset token: %w", err)
	}

	s.audit("reset.requested", "user_id", user.ID)
	return resetToken, nil
}

// ResetPassword completes a pending reset. The presented token must verify as
// a reset-purpose token, equal the stored token value (single use), and be
// within its stored expiry; the new password must differ from the current
// one. On success the hash is replaced and the reset pair cleared in one
// write.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ResetPassword")
	defer span.End()

	claims, err := s.codec.Verify(resetToken, token.PurposeReset)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return newAuthError("token_expired", "Token has expired.", http.StatusBadRequest)
		}
		return newAuthError("invalid_token", "Invalid reset token.", http.StatusBadRequest)
	}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(claims.Email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return newAuthError("user_not_found", "User not found.", http.StatusNotFound)
		}
		span.RecordError(err)
		return fmt.Errorf("reset lookup user: %w", err)
	}

	// The stored value is the single valid reset token. A token that was
	// superseded or already spent fails here even while its signature and
	// expiry still verify.
	if user.ResetToken == "" || user.ResetToken != resetToken {
		return newAuthError("invalid_token", "Invalid reset token.", http.StatusBadRequest)
	}
	if user.ResetTokenExpiry == nil || s.now().After(*user.ResetTokenExpiry) {
		return newAuthError("token_expired", "Token has expired.", http.StatusBadRequest)
	}

	if user.PasswordHash != "" {
		match, err := pw.Verify(newPassword, user.PasswordHash)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("reset compare password: %w", err)
		}
		if match {
			return newAuthError("password_reuse", "New password cannot equal previous password.", http.StatusBadRequest)
		}
	}

	hash, err := pw.Hash(newPassword)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reset hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		span.RecordError(err)
		return fmt.Errorf("reset persist password: %w", err)
	}

	s.audit("reset.completed", "user_id", user.ID)
	return nil
}
