package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/musicx/musicx-backend/pkg/config"
)

// clockSkew tolerates small drift between this service and the token issuer.
const clockSkew = 30 * time.Second

var (
	ErrSecretMissing = errors.New("jwt secret is not configured")
	ErrMissingUser   = errors.New("token has no user_id")
)

func keyFor(cfg config.JWTConfig) ([]byte, error) {
	if cfg.Secret == "" {
		return nil, ErrSecretMissing
	}
	return []byte(cfg.Secret), nil
}

// Validate runs after the registered claims pass, as part of ParseWithClaims.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("token role %q is not recognised", c.Role)
	}
	return nil
}

// MintAccessToken signs an HS256 token valid from now for the configured
// lifetime. Production tokens come from the identity service; this exists for
// tests and operator tooling.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	key, err := keyFor(cfg)
	if err != nil {
		return "", err
	}
	if cfg.Issuer == "" || cfg.ExpirationMinutes <= 0 {
		return "", errors.New("jwt issuer and a positive lifetime are required")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
		},
	}
	if err := claims.Validate(); err != nil {
		return "", err
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ParseAccessToken verifies signature, issuer and expiry, then the custom
// claims. Only HS256 is accepted.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	key, err := keyFor(cfg)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	claims := &AccessTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, err
	}
	return claims, nil
}
