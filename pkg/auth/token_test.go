package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/enums"
)

var testCfg = config.JWTConfig{Secret: "secret", Issuer: "musicx", ExpirationMinutes: 30}

func TestMintThenParseRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	userID := uuid.New()

	token, err := MintAccessToken(testCfg, now, AccessTokenPayload{UserID: userID, Role: enums.UserRoleCustomer, JTI: "jti-1"})
	require.NoError(t, err)

	claims, err := ParseAccessToken(testCfg, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, "jti-1", claims.ID)
	assert.Equal(t, testCfg.Issuer, claims.Issuer)
	assert.False(t, claims.IsAdmin())
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestMintGeneratesJTI(t *testing.T) {
	token, err := MintAccessToken(testCfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleAdmin})
	require.NoError(t, err)
	claims, err := ParseAccessToken(testCfg, token)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.IsAdmin())
}

func TestParseRejects(t *testing.T) {
	valid, err := MintAccessToken(testCfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	require.NoError(t, err)
	expired, err := MintAccessToken(testCfg, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	require.NoError(t, err)

	otherSecret := testCfg
	otherSecret.Secret = "other"
	otherIssuer := testCfg
	otherIssuer.Issuer = "elsewhere"

	cases := []struct {
		name  string
		cfg   config.JWTConfig
		token string
		is    error
	}{
		{"bad signature", testCfg, valid + "x", nil},
		{"foreign secret", otherSecret, valid, jwt.ErrTokenSignatureInvalid},
		{"foreign issuer", otherIssuer, valid, jwt.ErrTokenInvalidIssuer},
		{"expired", testCfg, expired, jwt.ErrTokenExpired},
		{"unknown role", testCfg, signRaw(t, AccessTokenClaims{UserID: uuid.New(), Role: "superuser"}), nil},
		{"no user", testCfg, signRaw(t, AccessTokenClaims{Role: enums.UserRoleCustomer}), ErrMissingUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAccessToken(tc.cfg, tc.token)
			require.Error(t, err)
			if tc.is != nil {
				assert.ErrorIs(t, err, tc.is)
			}
		})
	}
}

func TestParseToleratesSmallClockSkew(t *testing.T) {
	cfg := testCfg
	cfg.ExpirationMinutes = 1
	token, err := MintAccessToken(cfg, time.Now().Add(-time.Minute-10*time.Second), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, token)
	assert.NoError(t, err)
}

func TestMintValidatesInput(t *testing.T) {
	now := time.Now()
	_, err := MintAccessToken(testCfg, now, AccessTokenPayload{UserID: uuid.New()})
	assert.Error(t, err, "role required")
	_, err = MintAccessToken(testCfg, now, AccessTokenPayload{Role: enums.UserRoleCustomer})
	assert.ErrorIs(t, err, ErrMissingUser)

	noSecret := testCfg
	noSecret.Secret = ""
	_, err = MintAccessToken(noSecret, now, AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	assert.ErrorIs(t, err, ErrSecretMissing)
}

func signRaw(t *testing.T, claims AccessTokenClaims) string {
	t.Helper()
	claims.Issuer = testCfg.Issuer
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Minute))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testCfg.Secret))
	require.NoError(t, err)
	return token
}
