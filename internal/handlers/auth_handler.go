package handlers

import (
	"errors"
	"log"
	"net/http"

	"celestra-auth/internal/models"
	"celestra-auth/internal/services"
	"celestra-auth/utils"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService       *services.AuthService
	sessionService    *services.SessionService
	invitationService *services.InvitationService
	middleware        *Middleware
}

func NewAuthHandler(authService *services.AuthService, sessionService *services.SessionService, invitationService *services.InvitationService, middleware *Middleware) *AuthHandler {
	return &AuthHandler{
		authService:       authService,
		sessionService:    sessionService,
		invitationService: invitationService,
		middleware:        middleware,
	}
}

func (a *AuthHandler) RegisterRoutes(router *gin.Engine) {
	pub := router.Group("/auth/public")
	pub.POST("/register", a.Register)
	pub.POST("/login", a.Login)
	pub.POST("/logout", a.Logout)
	pub.POST("/password-reset/request", a.RequestPasswordReset)
	pub.POST("/password-reset/confirm", a.ResetPassword)
	pub.POST("/invitations/accept", a.AcceptInvitation)

	pro := router.Group("/auth/protected", a.middleware.RequireAuth())
	pro.POST("/password/change", a.ChangePassword)
	pro.GET("/sessions/me", a.GetMySessions)
	pro.DELETE("/sessions/others", a.EndOtherSessions)
	pro.POST("/2fa/enroll", a.EnrollTwoFactor)
	pro.POST("/2fa/confirm", a.ConfirmTwoFactor)
	pro.DELETE("/2fa", a.DisableTwoFactor)
}

func clientIP(c *gin.Context) string {
	return c.ClientIP()
}

// Register handles self-service account creation.
func (a *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}
	if ok, err := utils.ValidateEmail(req.Email); !ok {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("VALIDATION_ERROR", err.Error()))
		return
	}

	user, result, err := a.invitationService.RegisterUser(c, req, clientIP(c))
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			c.JSON(http.StatusConflict, utils.CreateErrorResponse("EMAIL_TAKEN", "email already registered"))
			return
		}
		log.Printf("Registration failed for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "registration failed"))
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, utils.CreateSuccessResponse(result))
		return
	}

	c.JSON(http.StatusCreated, utils.CreateSuccessResponse(gin.H{"user": user, "password": result}))
}

// Login handles user authentication
func (a *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Invalid login request format: %v", err)
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	result, err := a.authService.Login(c, req, clientIP(c), c.Request.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, utils.CreateErrorResponse("INVALID_CREDENTIALS", "invalid email or password"))
		case errors.Is(err, services.ErrAccountLocked):
			c.JSON(http.StatusLocked, utils.CreateErrorResponse("ACCOUNT_LOCKED", "account is locked"))
		case errors.Is(err, services.ErrAccountInactive):
			c.JSON(http.StatusForbidden, utils.CreateErrorResponse("ACCOUNT_INACTIVE", "account is not active"))
		case errors.Is(err, services.ErrOTPRequired):
			c.JSON(http.StatusUnauthorized, utils.CreateErrorResponse("OTP_REQUIRED", "one-time code required"))
		case errors.Is(err, services.ErrOTPInvalid):
			c.JSON(http.StatusUnauthorized, utils.CreateErrorResponse("OTP_INVALID", "one-time code invalid"))
		default:
			log.Printf("Login failed for %s: %v", req.Email, err)
			c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "login failed"))
		}
		return
	}

	c.JSON(http.StatusOK, utils.CreateSuccessResponse(result))
}

// Logout ends the session named by the X-Session-Token header.
func (a *AuthHandler) Logout(c *gin.Context) {
	token := c.GetHeader("X-Session-Token")
	if token == "" {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("MISSING_TOKEN", "session token required"))
		return
	}

	ended, err := a.authService.Logout(c, token)
	if err != nil {
		log.Printf("Logout failed: %v", err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "logout failed"))
		return
	}
	if !ended {
		c.JSON(http.StatusNotFound, utils.CreateErrorResponse("SESSION_NOT_FOUND", "no active session for token"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"ended": true}))
}

func (a *AuthHandler) ChangePassword(c *gin.Context) {
	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	claims := currentClaims(c)
	session := currentSession(c)
	var keepToken *string
	if session != nil {
		keepToken = &session.Token
	}

	result, err := a.authService.ChangePassword(c, claims.UserID, req, keepToken, clientIP(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, utils.CreateErrorResponse("INVALID_CREDENTIALS", "current password incorrect"))
			return
		}
		log.Printf("Password change failed for user %s: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "password change failed"))
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, utils.CreateSuccessResponse(result))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(result))
}

func (a *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	if err := a.authService.RequestPasswordReset(c, req.Email, clientIP(c)); err != nil {
		log.Printf("Password reset request failed for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "reset request failed"))
		return
	}
	// Same answer for known and unknown emails.
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"requested": true}))
}

func (a *AuthHandler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	result, err := a.authService.ResetPassword(c, req, clientIP(c))
	if err != nil {
		if errors.Is(err, services.ErrResetTokenInvalid) {
			c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("RESET_TOKEN_INVALID", "reset token invalid or expired"))
			return
		}
		log.Printf("Password reset failed: %v", err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "password reset failed"))
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, utils.CreateSuccessResponse(result))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(result))
}

func (a *AuthHandler) AcceptInvitation(c *gin.Context) {
	var req models.AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	user, result, err := a.invitationService.AcceptInvitation(c, req, clientIP(c))
	if err != nil {
		if errors.Is(err, services.ErrInvitationNotFound) {
			c.JSON(http.StatusNotFound, utils.CreateErrorResponse("INVITATION_NOT_FOUND", "invitation not found or no longer usable"))
			return
		}
		log.Printf("Invitation acceptance failed: %v", err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "invitation acceptance failed"))
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, utils.CreateSuccessResponse(result))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"user": user}))
}

func (a *AuthHandler) GetMySessions(c *gin.Context) {
	claims := currentClaims(c)
	sessions, err := a.sessionService.GetActiveSessions(c, claims.UserID)
	if err != nil {
		log.Printf("Session listing failed for user %s: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "session listing failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(sessions))
}

// EndOtherSessions terminates every session of the caller except the
// one driving this request.
func (a *AuthHandler) EndOtherSessions(c *gin.Context) {
	claims := currentClaims(c)
	session := currentSession(c)
	var keepToken *string
	if session != nil {
		keepToken = &session.Token
	}

	count, err := a.sessionService.EndAll(c, claims.UserID, models.EndReasonLogout, keepToken)
	if err != nil {
		log.Printf("Ending sessions failed for user %s: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "ending sessions failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"ended": count}))
}

func (a *AuthHandler) EnrollTwoFactor(c *gin.Context) {
	claims := currentClaims(c)
	enrollment, err := a.authService.EnrollTwoFactor(c, claims.UserID)
	if err != nil {
		log.Printf("2FA enrollment failed for user %s: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "enrollment failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(enrollment))
}

func (a *AuthHandler) ConfirmTwoFactor(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	claims := currentClaims(c)
	confirmed, err := a.authService.ConfirmTwoFactor(c, claims.UserID, req.Code, clientIP(c))
	if err != nil {
		log.Printf("2FA confirmation failed for user %s: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "confirmation failed"))
		return
	}
	if !confirmed {
		c.JSON(http.StatusUnauthorized, utils.CreateErrorResponse("OTP_INVALID", "one-time code invalid"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"enabled": true}))
}

func (a *AuthHandler) DisableTwoFactor(c *gin.Context) {
	claims := currentClaims(c)
	if err := a.authService.DisableTwoFactor(c, claims.UserID); err != nil {
		log.Printf("2FA disable failed for user %s: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "disable failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"enabled": false}))
}
