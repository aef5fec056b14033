package handlers

import (
	"log"
	"net/http"
	"strings"

	"celestra-auth/internal/models"
	"celestra-auth/internal/services"
	"celestra-auth/utils"

	"github.com/gin-gonic/gin"
)

const (
	ctxClaimsKey  = "claims"
	ctxSessionKey = "session"
)

type Middleware struct {
	jwtService  *services.JWTService
	authService *services.AuthService
}

func NewMiddleware(jwtService *services.JWTService, authService *services.AuthService) *Middleware {
	return &Middleware{
		jwtService:  jwtService,
		authService: authService,
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return authHeader[7:]
	}
	return authHeader
}

// RequireAuth verifies the access token and checks the backing session
// is still live. Session validation applies sliding expiry, so every
// authenticated request refreshes the session window when the policy
// allows it.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, utils.CreateErrorResponse("MISSING_TOKEN", "authorization header required"))
			return
		}

		claims, err := m.jwtService.VerifyToken(tokenString)
		if err != nil {
			log.Printf("Token validation failed: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, utils.CreateErrorResponse("INVALID_TOKEN", "token validation failed"))
			return
		}

		session, err := m.authService.ValidateSession(c, c.GetHeader("X-Session-Token"))
		if err != nil {
			log.Printf("Session lookup failed for user %s: %v", claims.UserID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "session lookup failed"))
			return
		}
		if session == nil || session.ID != claims.SessionID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, utils.CreateErrorResponse("SESSION_EXPIRED", "session is no longer active"))
			return
		}

		c.Set(ctxClaimsKey, claims)
		c.Set(ctxSessionKey, session)
		c.Next()
	}
}

// RequireRole gates a route group to the named roles. Must run after
// RequireAuth.
func (m *Middleware) RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := currentClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, utils.CreateErrorResponse("MISSING_TOKEN", "authentication required"))
			return
		}
		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, utils.CreateErrorResponse("FORBIDDEN", "insufficient role"))
	}
}

func currentClaims(c *gin.Context) *models.Claims {
	value, ok := c.Get(ctxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*models.Claims)
	return claims
}

func currentSession(c *gin.Context) *models.Session {
	value, ok := c.Get(ctxSessionKey)
	if !ok {
		return nil
	}
	session, _ := value.(*models.Session)
	return session
}
