package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const (
	Issuer = "escrow-marketplace"
	leeway = 30 * time.Second
)

type Claims struct {
	UserID uuid.UUID
	Role   domain.Role
}

// Actor is the identity the claims authorize.
func (c *Claims) Actor() domain.Actor {
	return domain.Actor{ID: c.UserID, Role: c.Role}
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func GenerateToken(userID uuid.UUID, role domain.Role, secret string, expiry time.Duration) (string, error) {
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return "", fmt.Errorf("GenerateToken: role %q cannot hold a token", role)
	}
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID.String(),
		Role:   string(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

// ValidateToken accepts HMAC-signed tokens with an expiry. Tokens that name
// an issuer must name ours; the user id comes from user_id, falling back to
// the subject.
func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{},
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}
	if tc.Issuer != "" && tc.Issuer != Issuer {
		return nil, fmt.Errorf("ValidateToken: unexpected issuer %q", tc.Issuer)
	}

	rawID := tc.UserID
	if rawID == "" {
		rawID = tc.Subject
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: invalid user id in token: %w", err)
	}

	// Tokens minted before roles existed carry none; they act as users.
	role := domain.Role(tc.Role)
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return nil, fmt.Errorf("ValidateToken: role %q not accepted", tc.Role)
	}

	return &Claims{
		UserID: userID,
		Role:   role,
	}, nil
}
