package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/smallbiznis/accounts-auth/internal/config"
)

// Purpose is the functional category of a token. Each purpose signs with its
// own secret, so a token issued for one purpose can never verify as another.
type Purpose int

const (
	PurposeAccess Purpose = iota
	PurposeRefresh
	PurposeReset
)

func (p Purpose) String() string {
	switch p {
	case PurposeAccess:
		return "access"
	case PurposeRefresh:
		return "refresh"
	case PurposeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Verification and issuance failure modes.
var (
	ErrMissingSecret    = errors.New("token: signing secret not configured")
	ErrMalformed        = errors.New("token: malformed token")
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrPurposeMismatch  = errors.New("token: purpose mismatch")
	ErrExpired          = errors.New("token: expired")
)

// Claims is the identity payload carried by every signed token.
type Claims struct {
	UserID int64
	Email  string
}

type customClaims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

// Codec signs and verifies compact JWTs for the three token purposes.
type Codec struct {
	secrets map[Purpose][]byte
	now     func() time.Time
}

// NewCodec builds a codec from the configured per-purpose secrets.
func NewCodec(cfg config.Config) *Codec {
	return NewCodecWithClock(cfg, time.Now)
}

// NewCodecWithClock is NewCodec with an injectable clock, for tests that need
// to drive expiry.
func NewCodecWithClock(cfg config.Config, now func() time.Time) *Codec {
	secrets := make(map[Purpose][]byte, 3)
	for purpose, secret := range map[Purpose]string{
		PurposeAccess:  cfg.AccessTokenSecret,
		PurposeRefresh: cfg.RefreshTokenSecret,
		PurposeReset:   cfg.ResetTokenSecret,
	} {
		if secret != "" {
			secrets[purpose] = []byte(secret)
		}
	}
	return &Codec{secrets: secrets, now: now}
}

// Issue serializes and signs the claims for the given purpose, expiring ttl
// from now. A unique token ID is embedded so two tokens issued within the
// same second are still distinct.
func (c *Codec) Issue(claims Claims, purpose Purpose, ttl time.Duration) (string, error) {
	secret, ok := c.secrets[purpose]
	if !ok {
		return "", fmt.Errorf("issue %s token: %w", purpose, ErrMissingSecret)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := c.now().UTC()
	std := gojwt.Claims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(claims.UserID, 10),
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(ttl)),
	}
	custom := customClaims{Email: claims.Email, Purpose: purpose.String()}

	serialized, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize %s token: %w", purpose, err)
	}
	return serialized, nil
}

// Verify checks the signature, purpose marker, and expiry of a token and
// returns its claims. Signature is checked against the purpose's secret, and
// the embedded purpose marker must match as well, so even two purposes
// misconfigured with the same secret cannot be substituted for each other.
func (c *Codec) Verify(raw string, purpose Purpose) (Claims, error) {
	secret, ok := c.secrets[purpose]
	if !ok {
		return Claims{}, fmt.Errorf("verify %s token: %w", purpose, ErrMissingSecret)
	}

	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return Claims{}, ErrMalformed
	}

	var std gojwt.Claims
	var custom customClaims
	if err := parsed.Claims(secret, &std, &custom); err != nil {
		return Claims{}, ErrInvalidSignature
	}

	if custom.Purpose != purpose.String() {
		return Claims{}, ErrPurposeMismatch
	}

	if err := std.ValidateWithLeeway(gojwt.Expected{Time: c.now().UTC()}, 0); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalidSignature
	}

	userID, err := strconv.ParseInt(std.Subject, 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}

	return Claims{UserID: userID, Email: custom.Email}, nil
}
