package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const peerIDContextKey = "peer_id"

// IdentityClaims are the JWT claims carried by marketplace callers. PeerID is
// the verified identity every economic operation is attributed to.
type IdentityClaims struct {
	jwt.RegisteredClaims
	PeerID string `json:"peer_id"`
}

// AuthManager validates caller identity tokens.
type AuthManager struct {
	jwtSecret []byte
}

// NewAuthManager creates an auth manager with the given HS256 secret.
func NewAuthManager(jwtSecret string) *AuthManager {
	return &AuthManager{jwtSecret: []byte(jwtSecret)}
}

// IssueToken signs an identity token for a peer. Used by operators and tests.
func (am *AuthManager) IssueToken(peerID string, duration time.Duration) (string, error) {
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "gridmarket",
		},
		PeerID: peerID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(am.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies an identity token.
func (am *AuthManager) ValidateToken(tokenString string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return am.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid || claims.PeerID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// IdentityMiddleware requires a valid Bearer token and exposes the caller's
// peer id to handlers.
func IdentityMiddleware(am *AuthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Authorization header must be in format: Bearer <token>",
				},
			})
			c.Abort()
			return
		}

		claims, err := am.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": err.Error(),
				},
			})
			c.Abort()
			return
		}

		c.Set(peerIDContextKey, claims.PeerID)
		c.Next()
	}
}

// callerPeerID returns the verified identity set by IdentityMiddleware.
func callerPeerID(c *gin.Context) string {
	v, ok := c.Get(peerIDContextKey)
	if !ok {
		return ""
	}
	peerID, _ := v.(string)
	return peerID
}
