package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const testSecret = "test-jwt-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleUser, domain.RoleAdmin} {
		t.Run(string(role), func(t *testing.T) {
			userID := uuid.New()

			token, err := GenerateToken(userID, role, testSecret, 24*time.Hour)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			claims, err := ValidateToken(token, testSecret)
			require.NoError(t, err)
			assert.Equal(t, userID, claims.UserID)
			assert.Equal(t, domain.Actor{ID: userID, Role: role}, claims.Actor())
		})
	}
}

func TestGenerateToken_RejectsSweeperRole(t *testing.T) {
	_, err := GenerateToken(uuid.New(), domain.RoleSweeper, testSecret, time.Hour)
	require.Error(t, err)
}

func TestValidateToken(t *testing.T) {
	userID := uuid.New()

	validToken, err := GenerateToken(userID, domain.RoleUser, testSecret, 24*time.Hour)
	require.NoError(t, err)

	expiredToken, err := GenerateToken(userID, domain.RoleUser, testSecret, -1*time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		secret    string
		wantErrIs error
	}{
		{
			name:      "expired token",
			token:     expiredToken,
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenExpired,
		},
		{
			name:      "wrong secret",
			token:     validToken,
			secret:    "wrong-secret",
			wantErrIs: jwt.ErrTokenSignatureInvalid,
		},
		{
			name:      "malformed token",
			token:     "not.a.valid.jwt",
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenMalformed,
		},
		{
			name:      "empty token",
			token:     "",
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenMalformed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateToken(tc.token, tc.secret)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErrIs)
		})
	}
}

func signed(t *testing.T, method jwt.SigningMethod, key any, claims tokenClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestValidateToken_RejectsNonHMAC(t *testing.T) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: uuid.NewString(),
		Role:   string(domain.RoleAdmin),
	}
	token := signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, claims)

	_, err := ValidateToken(token, testSecret)
	require.Error(t, err)
}

func TestValidateToken_Roles(t *testing.T) {
	base := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	legacy := signed(t, jwt.SigningMethodHS256, []byte(testSecret), tokenClaims{RegisteredClaims: base, UserID: uuid.NewString()})
	claims, err := ValidateToken(legacy, testSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, claims.Role)

	sweeper := signed(t, jwt.SigningMethodHS256, []byte(testSecret), tokenClaims{RegisteredClaims: base, UserID: uuid.NewString(), Role: "sweeper"})
	_, err = ValidateToken(sweeper, testSecret)
	require.Error(t, err)
}

func TestValidateToken_Claims(t *testing.T) {
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))
	id := uuid.New()

	tests := []struct {
		name    string
		claims  tokenClaims
		wantErr bool
	}{
		{"subject only", tokenClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Subject: id.String()}}, false},
		{"foreign issuer", tokenClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Issuer: "someone-else"}, UserID: id.String()}, true},
		{"no expiry", tokenClaims{UserID: id.String()}, true},
		{"no identity", tokenClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}, true},
		{"within leeway", tokenClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-10 * time.Second))}, UserID: id.String()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateToken(signed(t, jwt.SigningMethodHS256, []byte(testSecret), tt.claims), testSecret)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, claims.UserID)
		})
	}
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	a := domain.AdminActor(uuid.New())
	got, ok := ActorFromContext(ContextWithActor(context.Background(), a))
	require.True(t, ok)
	assert.Equal(t, a, got)
}
