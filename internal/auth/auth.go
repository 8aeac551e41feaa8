package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ehrlich-b/perch/internal/store"
)

const jwtSecretKey = "jwt_secret"

// Claims are the JWT claims for a client connection to the daemon.
type Claims struct {
	jwt.RegisteredClaims
	Client string `json:"client,omitempty"`
}

// GenerateOrLoadSecret returns the JWT signing secret.
// Priority: configSecret (from perch.yaml) > daemon_config DB > auto-generate.
func GenerateOrLoadSecret(s *store.Store, configSecret string) ([]byte, error) {
	if configSecret != "" {
		secret, err := base64.StdEncoding.DecodeString(configSecret)
		if err != nil {
			return nil, fmt.Errorf("decode configured secret: %w", err)
		}
		return secret, nil
	}

	val, err := s.GetDaemonConfig(jwtSecretKey)
	if err != nil {
		return nil, err
	}
	if val != "" {
		return base64.StdEncoding.DecodeString(val)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	if err := s.SetDaemonConfig(jwtSecretKey, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

// IssueToken creates a signed JWT for a client.
func IssueToken(secret []byte, client string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Client: client,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken verifies a JWT and returns the claims.
func ValidateToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	return claims, nil
}
