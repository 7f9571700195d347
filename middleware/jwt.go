package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token roles.
const (
	RolePlayer  = "player"  // a game client, limited to its own player id
	RoleService = "service" // a game server pushing events
	RoleAdmin   = "admin"
)

// Claims is the JWT payload.
type Claims struct {
	PlayerID string `json:"player_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// tokenIssuer is stamped on every token and required when parsing.
const tokenIssuer = "questforge"

var (
	errMissingPlayer = errors.New("player token without player id")
	errUnknownRole   = errors.New("unknown role")
)

// GenerateToken signs an HS256 token for playerID with role.
// Service and admin tokens usually carry an empty playerID.
func GenerateToken(playerID, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		PlayerID: playerID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   playerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}).SignedString([]byte(secret))
}

// ParseToken verifies signature, issuer and expiry, then checks the role.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	switch claims.Role {
	case RolePlayer:
		if claims.PlayerID == "" {
			return nil, errMissingPlayer
		}
	case RoleService, RoleAdmin:
	default:
		return nil, errUnknownRole
	}
	return claims, nil
}
