// Package auth validates the session tokens issued by the account system.
package auth

import (
	"errors"
	"fmt"
	"time"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/normalize"
	"github.com/golang-jwt/jwt/v5"
)

// JWTManager signs and validates session JWTs. It holds every key that may
// still verify a live token; only the active key signs.
type JWTManager struct {
	keys      map[string][]byte // kid -> HMAC secret
	activeKid string
	duration  time.Duration
}

// Claims is the session payload.
type Claims struct {
	UserID string `json:"user_id"` // MongoDB ObjectID hex
	jwt.RegisteredClaims
}

// NewJWTManager returns a manager with a single unnamed key.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string][]byte{"": []byte(secretKey)},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies tokens signed by any key in keys, selected by the kid header.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	m := &JWTManager{keys: make(map[string][]byte, len(keys)), activeKid: activeKid, duration: duration}
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
	}
	return m
}

// GenerateToken issues a session token for userID.
func (m *JWTManager) GenerateToken(userID string) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("active key %q not configured", m.activeKid)
	}

	issued := time.Now()
	expiresAt := issued.Add(m.duration)
	claims := &Claims{
		UserID: normalize.ID(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issued),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// Reject anything not signed with HMAC, e.g. alg=none or RS256 confusion.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ValidateSession returns the user id carried by a valid session token.
// Every failure is reported as ErrUnauthenticated.
func (m *JWTManager) ValidateSession(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("missing token: %w", apperrors.ErrUnauthenticated)
	}
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrUnauthenticated, err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("token has no user: %w", apperrors.ErrUnauthenticated)
	}
	return claims.UserID, nil
}
