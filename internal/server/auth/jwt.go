// Package auth resolves API keys and session tokens to principals and
// composes the authorization predicates guarding the HTTP API.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the registered claims plus the session user's id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// GenerateToken signs an HS256 session token for userID.
func GenerateToken(userID uuid.UUID, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID.String(),
	})

	return token.SignedString(secretKey)
}

// GetUserIDFromToken validates tokenString and returns its user id. Every
// failure wraps common.ErrInvalidToken.
func GetUserIDFromToken(tokenString string, secretKey []byte) (uuid.UUID, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return uuid.Nil, common.ErrInvalidToken
	}

	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	return id, nil
}

// bearerToken extracts the token from an "Authorization: Bearer <jwt>" value.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
