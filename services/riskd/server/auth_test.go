package server

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"lendcore/crypto"
)

func TestAuthenticatorClaims(t *testing.T) {
	subject := address(crypto.NHBPrefix, 0x42)
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "lendcore", Audience: "riskd"}, nil)
	require.NoError(t, err)

	token, err := IssueToken([]byte(testSecret), subject, []string{ScopeAdmin, ScopeMarket}, "lendcore", "riskd", time.Minute)
	require.NoError(t, err)
	principal, err := auth.authenticate(token)
	require.NoError(t, err)
	require.True(t, principal.Subject.Equal(subject))
	require.True(t, principal.HasScope(ScopeAdmin))
	require.False(t, principal.HasScope(ScopeGuardian))

	wrongIssuer, err := IssueToken([]byte(testSecret), subject, nil, "other", "riskd", time.Minute)
	require.NoError(t, err)
	_, err = auth.authenticate(wrongIssuer)
	require.ErrorContains(t, err, "issuer")

	noAudience, err := IssueToken([]byte(testSecret), subject, nil, "lendcore", "", time.Minute)
	require.NoError(t, err)
	_, err = auth.authenticate(noAudience)
	require.Error(t, err)
}

func TestAuthenticatorRejects(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": address(crypto.NHBPrefix, 1).String(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.authenticate(signed)
	require.Error(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": address(crypto.NHBPrefix, 1).String()})
	signed, err = noExpiry.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.authenticate(signed)
	require.Error(t, err)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "not-an-address",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err = badSubject.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.authenticate(signed)
	require.Error(t, err)

	_, err = NewAuthenticator(AuthConfig{}, nil)
	require.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("Bearer abc"))
	require.Equal(t, "abc", extractBearer("bearer  abc "))
	require.Empty(t, extractBearer("Basic abc"))
	require.Empty(t, extractBearer(""))
}
