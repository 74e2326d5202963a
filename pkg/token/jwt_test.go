package token

import (
	"rag-tenant-go/internal/model"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.GenerateToken(model.TenantIdentity{OrganizationID: "acme", UserID: "u1"}, RoleAdmin)
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, model.TenantIdentity{OrganizationID: "acme", UserID: "u1"}, claims.Identity())
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestVerifyRejectsWrongSecretAndExpired(t *testing.T) {
	tok, err := NewJWTManager("secret", time.Hour).GenerateToken(model.TenantIdentity{OrganizationID: "acme"}, "")
	require.NoError(t, err)
	_, err = NewJWTManager("other", time.Hour).VerifyToken(tok)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, TenantClaims{
		OrganizationID: "acme",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	s, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewJWTManager("secret", time.Hour).VerifyToken(s)
	assert.Error(t, err)
}

func TestVerifyRequiresOrganization(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.GenerateToken(model.TenantIdentity{UserID: "u1"}, "")
	require.NoError(t, err)
	_, err = m.VerifyToken(tok)
	assert.Error(t, err)
}
