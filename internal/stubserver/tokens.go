package stubserver

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"chat-console-core/internal/credential"
)

// MintToken issues an HMAC-signed development token carrying the claims the
// clients expect. Production token issuance lives in the real backend.
func MintToken(secret string, role credential.Role, tenantID, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("stubserver: token secret is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"tenantId": tenantID,
		"id":       userID,
		"role":     string(role),
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyToken checks the signature and expiry, then returns the embedded
// identity.
func VerifyToken(secret, tokenString string) (credential.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return credential.Identity{}, fmt.Errorf("stubserver: verify token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return credential.Identity{}, fmt.Errorf("stubserver: invalid token")
	}

	tenantID, _ := claims["tenantId"].(string)
	userID, _ := claims["id"].(string)
	role, _ := claims["role"].(string)
	if tenantID == "" {
		return credential.Identity{}, fmt.Errorf("stubserver: token missing tenantId claim")
	}
	return credential.Identity{
		TenantID: tenantID,
		UserID:   userID,
		Role:     credential.Role(role),
	}, nil
}
