// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"rag-tenant-go/internal/model"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin 是可以访问管理接口的角色。
const RoleAdmin = "ADMIN"

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey []byte
	tokenDur  time.Duration
}

// TenantClaims 是 token 中携带的租户身份。
type TenantClaims struct {
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId,omitempty"`
	Role           string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity 返回 claims 对应的租户身份。
func (c *TenantClaims) Identity() model.TenantIdentity {
	return model.TenantIdentity{OrganizationID: c.OrganizationID, UserID: c.UserID}
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, tokenDur time.Duration) *JWTManager {
	if tokenDur <= 0 {
		tokenDur = 24 * time.Hour
	}
	return &JWTManager{secretKey: []byte(secret), tokenDur: tokenDur}
}

// GenerateToken 为租户身份签发 token。
func (m *JWTManager) GenerateToken(identity model.TenantIdentity, role string) (string, error) {
	now := time.Now()
	claims := TenantClaims{
		OrganizationID: identity.OrganizationID,
		UserID:         identity.UserID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串。
// 签名不匹配、已过期或缺少组织标识时返回错误。
func (m *JWTManager) VerifyToken(tokenString string) (*TenantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TenantClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*TenantClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.OrganizationID == "" {
		return nil, errors.New("token has no organization")
	}
	return claims, nil
}
