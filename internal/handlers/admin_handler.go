package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"celestra-auth/internal/models"
	"celestra-auth/internal/services"
	"celestra-auth/utils"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the operator surface: lockout management, audit
// queries, invitations and account administration.
type AdminHandler struct {
	lockoutService    *services.LockoutService
	failedService     *services.FailedLoginService
	auditService      *services.AuditService
	userService       *services.UserService
	invitationService *services.InvitationService
	middleware        *Middleware
}

func NewAdminHandler(
	lockoutService *services.LockoutService,
	failedService *services.FailedLoginService,
	auditService *services.AuditService,
	userService *services.UserService,
	invitationService *services.InvitationService,
	middleware *Middleware,
) *AdminHandler {
	return &AdminHandler{
		lockoutService:    lockoutService,
		failedService:     failedService,
		auditService:      auditService,
		userService:       userService,
		invitationService: invitationService,
		middleware:        middleware,
	}
}

func (h *AdminHandler) RegisterRoutes(router *gin.Engine) {
	admin := router.Group("/auth/admin",
		h.middleware.RequireAuth(),
		h.middleware.RequireRole(models.RoleSuperAdmin, models.RoleCompanyAdmin),
	)

	admin.GET("/lockouts/active", h.GetActiveLockouts)
	admin.GET("/lockouts/permanent", h.GetPermanentLockouts)
	admin.GET("/users/:id/lockouts", h.GetLockoutHistory)
	admin.GET("/users/:id/failed-logins", h.GetFailedLogins)
	admin.POST("/users/:id/unlock", h.UnlockAccount)
	admin.POST("/users/:id/lockouts/extend", h.ExtendLockout)
	admin.POST("/users/:id/lockouts/permanent", h.MakeLockoutPermanent)

	admin.PUT("/users/:id/role", h.ChangeRole)
	admin.PUT("/users/:id/status", h.ChangeStatus)

	admin.POST("/invitations", h.InviteUser)
	admin.DELETE("/invitations/:id", h.CancelInvitation)

	admin.GET("/audit/users/:id", h.GetAuditByUser)
	admin.GET("/audit/groups/:id", h.GetAuditByGroup)
	admin.GET("/audit/records/:table/:id", h.GetAuditByRecord)
	admin.GET("/audit/range", h.GetAuditByDateRange)
	admin.GET("/audit/entries/:id/verify", h.VerifyAuditEntry)
	admin.GET("/audit/entries/:id/changes", h.GetAuditChanges)
}

func actorID(c *gin.Context) *string {
	claims := currentClaims(c)
	if claims == nil {
		return nil
	}
	return &claims.UserID
}

func limitParam(c *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fallback)))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func (h *AdminHandler) GetActiveLockouts(c *gin.Context) {
	lockouts, err := h.lockoutService.GetAllActiveLockouts(c)
	if err != nil {
		log.Printf("Listing active lockouts failed: %v", err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "listing lockouts failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(lockouts))
}

func (h *AdminHandler) GetPermanentLockouts(c *gin.Context) {
	lockouts, err := h.lockoutService.GetAllPermanentLockouts(c)
	if err != nil {
		log.Printf("Listing permanent lockouts failed: %v", err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "listing lockouts failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(lockouts))
}

func (h *AdminHandler) GetLockoutHistory(c *gin.Context) {
	history, err := h.lockoutService.GetLockoutHistory(c, c.Param("id"), limitParam(c, 50))
	if err != nil {
		log.Printf("Lockout history failed for user %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "lockout history failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(history))
}

func (h *AdminHandler) GetFailedLogins(c *gin.Context) {
	windowMinutes, err := strconv.Atoi(c.DefaultQuery("window_minutes", "1440"))
	if err != nil || windowMinutes <= 0 {
		windowMinutes = 1440
	}
	records, err := h.failedService.GetRecent(c, c.Param("id"), windowMinutes)
	if err != nil {
		log.Printf("Failed login listing failed for user %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "failed login listing failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(records))
}

func (h *AdminHandler) UnlockAccount(c *gin.Context) {
	var req models.UnlockAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	lockout, err := h.lockoutService.UnlockAccount(c, c.Param("id"), actorID(c), req.Reason)
	if err != nil {
		log.Printf("Unlock failed for user %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "unlock failed"))
		return
	}
	if lockout == nil {
		c.JSON(http.StatusNotFound, utils.CreateErrorResponse("NO_ACTIVE_LOCKOUT", "user has no active lockout"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(lockout))
}

func (h *AdminHandler) ExtendLockout(c *gin.Context) {
	var req models.ExtendLockoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	extended, err := h.lockoutService.ExtendLockout(c, c.Param("id"), req.AdditionalMinutes, actorID(c))
	if err != nil {
		log.Printf("Lockout extension failed for user %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "extension failed"))
		return
	}
	if !extended {
		c.JSON(http.StatusNotFound, utils.CreateErrorResponse("NO_ACTIVE_LOCKOUT", "no active temporary lockout to extend"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"extended": true}))
}

func (h *AdminHandler) MakeLockoutPermanent(c *gin.Context) {
	var req models.UnlockAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	escalated, err := h.lockoutService.MakeLockoutPermanent(c, c.Param("id"), actorID(c), req.Reason)
	if err != nil {
		log.Printf("Lockout escalation failed for user %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "escalation failed"))
		return
	}
	if !escalated {
		c.JSON(http.StatusNotFound, utils.CreateErrorResponse("NO_ACTIVE_LOCKOUT", "no active temporary lockout to escalate"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"permanent": true}))
}

func (h *AdminHandler) ChangeRole(c *gin.Context) {
	var req struct {
		Role   string `json:"role" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	user, err := h.userService.ChangeRole(c, c.Param("id"), models.UserRole(req.Role), actorID(c), clientIP(c), req.Reason)
	if err != nil {
		log.Printf("Role change failed for user %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "role change failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(user))
}

func (h *AdminHandler) ChangeStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}

	user, err := h.userService.ChangeStatus(c, c.Param("id"), models.UserStatus(req.Status), actorID(c), clientIP(c), req.Reason)
	if err != nil {
		log.Printf("Status change failed for user %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "status change failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(user))
}

func (h *AdminHandler) InviteUser(c *gin.Context) {
	var req models.InviteUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("INVALID_REQUEST_FORMAT", "Invalid request format"))
		return
	}
	if ok, err := utils.ValidateEmail(req.Email); !ok {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("VALIDATION_ERROR", err.Error()))
		return
	}

	claims := currentClaims(c)
	invitation, err := h.invitationService.InviteUser(c, req, claims.UserID, clientIP(c))
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			c.JSON(http.StatusConflict, utils.CreateErrorResponse("EMAIL_TAKEN", "email already registered"))
			return
		}
		log.Printf("Invitation failed for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "invitation failed"))
		return
	}
	c.JSON(http.StatusCreated, utils.CreateSuccessResponse(invitation))
}

func (h *AdminHandler) CancelInvitation(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellations.
	_ = c.ShouldBindJSON(&req)

	claims := currentClaims(c)
	cancelled, err := h.invitationService.CancelInvitation(c, c.Param("id"), claims.UserID, clientIP(c), req.Reason)
	if err != nil {
		log.Printf("Invitation cancellation failed for %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "cancellation failed"))
		return
	}
	if !cancelled {
		c.JSON(http.StatusNotFound, utils.CreateErrorResponse("INVITATION_NOT_FOUND", "invitation not found or already terminal"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"cancelled": true}))
}

func (h *AdminHandler) GetAuditByUser(c *gin.Context) {
	logs, err := h.auditService.GetByUser(c, c.Param("id"), limitParam(c, 100))
	if err != nil {
		log.Printf("Audit query failed for user %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "audit query failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(logs))
}

func (h *AdminHandler) GetAuditByGroup(c *gin.Context) {
	logs, err := h.auditService.GetByGroupID(c, c.Param("id"))
	if err != nil {
		log.Printf("Audit group query failed for %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "audit query failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(logs))
}

func (h *AdminHandler) GetAuditByRecord(c *gin.Context) {
	logs, err := h.auditService.GetByTableRecord(c, c.Param("table"), c.Param("id"))
	if err != nil {
		log.Printf("Audit record query failed for %s/%s: %v", c.Param("table"), c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "audit query failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(logs))
}

func (h *AdminHandler) GetAuditByDateRange(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("VALIDATION_ERROR", "from must be RFC3339"))
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("VALIDATION_ERROR", "to must be RFC3339"))
		return
	}

	logs, err := h.auditService.GetByDateRange(c, from, to)
	if err != nil {
		log.Printf("Audit range query failed: %v", err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "audit query failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(logs))
}

// VerifyAuditEntry recomputes the signature of one stored entry and
// reports whether it still matches.
func (h *AdminHandler) VerifyAuditEntry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("VALIDATION_ERROR", "id must be an integer"))
		return
	}

	entry, valid, err := h.auditService.VerifyByID(c, id)
	if err != nil {
		log.Printf("Audit verification failed for %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "verification failed"))
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, utils.CreateErrorResponse("AUDIT_NOT_FOUND", "audit entry not found"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(gin.H{"entry": entry, "signature_valid": valid}))
}

func (h *AdminHandler) GetAuditChanges(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.CreateErrorResponse("VALIDATION_ERROR", "id must be an integer"))
		return
	}

	changes, err := h.auditService.GetChanges(c, id)
	if err != nil {
		log.Printf("Audit change query failed for %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, utils.CreateErrorResponse("INTERNAL_ERROR", "audit query failed"))
		return
	}
	c.JSON(http.StatusOK, utils.CreateSuccessResponse(changes))
}
