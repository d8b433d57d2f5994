package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	svc, err := NewJWTService(JWTConfig{
		Secret:         "super-secret",
		Issuer:         "treehole",
		AccessTokenTTL: time.Hour,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{
		UserID:   "42",
		IsAdmin:  true,
		Audience: []string{"notifications"},
	})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "42", claims.UserID)
	require.True(t, claims.IsAdmin)
	require.Equal(t, "treehole", claims.Issuer)
	require.Equal(t, jwt.ClaimStrings{"notifications"}, claims.Audience)
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestGenerateAccessTokenRequiresUser(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "s"})
	require.NoError(t, err)

	_, err = svc.GenerateAccessToken(AccessTokenInput{})
	require.Error(t, err)
}

func TestValidateAccessTokenFallsBackToSubject(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "s"})
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "17",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte("s"))
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(signed)
	require.NoError(t, err)
	require.Equal(t, "17", claims.UserID)
	require.False(t, claims.IsAdmin)
}

func TestValidateAccessTokenRejectsBadTokens(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC) }

	issuer, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Issuer: "a", Clock: now})
	require.NoError(t, err)
	token, err := issuer.GenerateAccessToken(AccessTokenInput{UserID: "1"})
	require.NoError(t, err)

	other, err := NewJWTService(JWTConfig{Secret: "other-secret", Clock: now})
	require.NoError(t, err)
	_, err = other.ValidateAccessToken(token)
	require.Error(t, err)

	wrongIssuer, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Issuer: "b", Clock: now})
	require.NoError(t, err)
	_, err = wrongIssuer.ValidateAccessToken(token)
	require.EqualError(t, err, "jwt: invalid issuer")

	later, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Clock: func() time.Time { return now().Add(time.Hour) }})
	require.NoError(t, err)
	_, err = later.ValidateAccessToken(token)
	require.Error(t, err)

	_, err = issuer.ValidateAccessToken("")
	require.Error(t, err)
}
