package chatroom

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDFromToken reads the user_id claim of a session token without
// verifying its signature. The server remains the authority on validity;
// the client only needs to know which messages it authored.
func UserIDFromToken(token string) (ID, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return "", err
	}
	switch v := claims["user_id"].(type) {
	case string:
		return ID(v), nil
	case float64:
		return ID(fmt.Sprintf("%.0f", v)), nil
	}
	return "", fmt.Errorf("token has no user_id claim")
}

// TokenExpiry returns the exp claim, or the zero time when absent.
func TokenExpiry(token string) (time.Time, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, err
	}
	return exp.Time, nil
}

func parseClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}
