package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// UserIDKey is the context key for user ID.
	UserIDKey = "user_id"
	// EmailKey is the context key for email.
	EmailKey = "email"
	// StudentKey is the context key for the long-term-plan customer flag.
	StudentKey = "student"
	// RoleKey is the context key for the caller role.
	RoleKey = "role"
)

// Claims are the token claims issued by the identity service. This
// server only validates tokens, it never mints them.
type Claims struct {
	UserID  uint   `json:"user_id"`
	Email   string `json:"email"`
	Student bool   `json:"student"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// JWTValidator validates bearer tokens.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for HS256 tokens signed with secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken parses and validates a token string.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// RequireAuth returns a middleware that requires a valid bearer token
// and sets the caller's identity in the request context.
func RequireAuth(validator *JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(EmailKey, claims.Email)
		c.Set(StudentKey, claims.Student)
		c.Set(RoleKey, claims.Role)

		c.Next()
	}
}

// RequireRole returns a middleware that requires the caller to hold role.
// Must run after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader(AuthorizationHeader)
	if strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimPrefix(authHeader, BearerPrefix)
	}
	return ""
}

// GetUserID returns the authenticated user ID from context, or 0.
func GetUserID(c *gin.Context) uint {
	if val, exists := c.Get(UserIDKey); exists {
		if id, ok := val.(uint); ok {
			return id
		}
	}
	return 0
}

// GetEmail returns the authenticated user's email from context.
func GetEmail(c *gin.Context) string {
	return c.GetString(EmailKey)
}

// IsStudent returns the caller's long-term-plan customer flag.
func IsStudent(c *gin.Context) bool {
	return c.GetBool(StudentKey)
}
