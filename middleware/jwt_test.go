package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-32bytes-padded!!"

func TestParseToken_Valid(t *testing.T) {
	tok, err := GenerateToken("p-99", RolePlayer, testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "p-99", claims.PlayerID)
	assert.Equal(t, RolePlayer, claims.Role)
	assert.Equal(t, "p-99", claims.Subject)
}

func TestParseToken_ServiceWithoutPlayer(t *testing.T) {
	tok, err := GenerateToken("", RoleService, testSecret, time.Hour)
	require.NoError(t, err)
	claims, err := ParseToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, RoleService, claims.Role)
}

func TestParseToken_RejectsBadClaims(t *testing.T) {
	tok, _ := GenerateToken("", RolePlayer, testSecret, time.Hour)
	_, err := ParseToken(tok, testSecret)
	assert.Error(t, err, "player token needs a player id")

	tok, _ = GenerateToken("p1", "superuser", testSecret, time.Hour)
	_, err = ParseToken(tok, testSecret)
	assert.Error(t, err)
}

func TestParseToken_WrongSecret(t *testing.T) {
	tok, err := GenerateToken("p1", RolePlayer, testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tok, "wrong-secret")
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	tok, err := GenerateToken("p1", RolePlayer, testSecret, -time.Second)
	require.NoError(t, err)

	_, err = ParseToken(tok, testSecret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseToken_Malformed(t *testing.T) {
	_, err := ParseToken("not.a.jwt", testSecret)
	assert.Error(t, err)
	_, err = ParseToken("", testSecret)
	assert.Error(t, err)
}

func TestParseToken_RejectsNone(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{PlayerID: "p1", Role: RoleAdmin})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(s, testSecret)
	assert.Error(t, err)
}

func TestParseToken_ForeignIssuer(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		PlayerID: "p1",
		Role:     RolePlayer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseToken(s, testSecret)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}
