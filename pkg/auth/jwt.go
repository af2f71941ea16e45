package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims of an internal bearer token.
type Claims struct {
	OrgID string   `json:"org_id"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 bearer tokens.
type JWTManager struct {
	secretKey []byte
	issuer    string
	now       func() time.Time
}

// NewJWTManager creates a manager with a shared secret.
func NewJWTManager(secretKey, issuer string) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey), issuer: issuer, now: time.Now}
}

// GenerateToken issues a token for principal valid for duration.
func (m *JWTManager) GenerateToken(principal Principal, duration time.Duration) (string, error) {
	now := m.now()

	claims := Claims{
		OrgID: principal.OrgID,
		Roles: principal.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.Subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// ValidateToken verifies tokenString and returns its principal.
func (m *JWTManager) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return m.secretKey, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}

	if claims.OrgID == "" {
		return nil, fmt.Errorf("%w: token has no organization", ErrUnauthenticated)
	}

	return &Principal{Subject: claims.Subject, OrgID: claims.OrgID, Roles: claims.Roles}, nil
}

// IsUnauthenticated reports whether err is an authentication failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
