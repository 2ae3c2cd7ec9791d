package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adityanair/sentinelbank/internal/captcha"
	"github.com/adityanair/sentinelbank/internal/risk"
	"github.com/adityanair/sentinelbank/internal/user"
	"github.com/adityanair/sentinelbank/internal/validation"
)

// Handler provides HTTP endpoints for authentication.
type Handler struct {
	service *Service
}

// NewHandler creates a new auth handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/verify-email", h.VerifyEmail)
	r.POST("/auth/resend-code", h.ResendVerification)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/verify-2fa", h.VerifyTwoFactor)
	r.POST("/auth/forgot-password", h.ForgotPassword)
	r.POST("/auth/reset-password/:token", h.ResetPassword)
}

// RegisterProtectedRoutes sets up auth routes requiring a session.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
	r.DELETE("/auth/me", h.Delete)
}

// Signup handles POST /v1/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.RemoteIP = c.ClientIP()

	u, err := h.service.Signup(c.Request.Context(), &req)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "verification code sent",
		"email":   u.Email,
	})
}

// VerifyEmail handles POST /v1/auth/verify-email
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if err := h.service.VerifyEmail(c.Request.Context(), req.Email, req.Code); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

// ResendVerification handles POST /v1/auth/resend-code
func (h *Handler) ResendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if err := h.service.ResendVerification(c.Request.Context(), req.Email); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification code sent"})
}

// Login handles POST /v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	fillContext(c, &req.Context)

	result, err := h.service.Login(c.Request.Context(), &req)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	respondLoginResult(c, result)
}

// VerifyTwoFactor handles POST /v1/auth/verify-2fa
func (h *Handler) VerifyTwoFactor(c *gin.Context) {
	var req struct {
		Email   string       `json:"email"`
		Code    string       `json:"code"`
		Context risk.Context `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	fillContext(c, &req.Context)

	result, err := h.service.VerifyTwoFactor(c.Request.Context(), req.Email, req.Code, req.Context)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	respondLoginResult(c, result)
}

// ForgotPassword handles POST /v1/auth/forgot-password
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if err := h.service.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		respondAuthError(c, err)
		return
	}
	// Always the same response, registered or not.
	c.JSON(http.StatusOK, gin.H{"message": "if the address is registered, a reset link has been sent"})
}

// ResetPassword handles POST /v1/auth/reset-password/:token
func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if err := h.service.ResetPassword(c.Request.Context(), c.Param("token"), req.Password); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	u, err := h.service.Me(c.Request.Context(), userID)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// Delete handles DELETE /v1/auth/me
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, req.Password); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

// fillContext backfills signals the client did not report from the
// request itself.
func fillContext(c *gin.Context, rc *risk.Context) {
	if rc.IP == "" {
		rc.IP = c.ClientIP()
	}
	if rc.Device == "" {
		rc.Device = c.GetHeader("User-Agent")
	}
	if rc.LoginTime.IsZero() {
		rc.LoginTime = time.Now()
	}
}

func respondLoginResult(c *gin.Context, result *LoginResult) {
	switch result.Outcome {
	case OutcomeBlocked:
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "login_blocked",
			"message": "login refused due to suspicious activity",
		})
	case OutcomeVerificationRequired:
		c.JSON(http.StatusAccepted, gin.H{
			"outcome": result.Outcome,
			"message": "verification code sent",
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"outcome": result.Outcome,
			"token":   result.Token,
			"user":    result.User,
		})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "bad_request",
		"message": msg,
	})
}

func respondAuthError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": verrs.Error(),
			"details": verrs,
		})
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "invalid email or password",
		})
	case errors.Is(err, ErrAccountLocked):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "account_locked",
			"message": "too many failed attempts, try again later",
		})
	case errors.Is(err, ErrNotVerified):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "email_not_verified",
			"message": "verify your email before signing in",
		})
	case errors.Is(err, ErrAlreadyVerified):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_verified",
			"message": "email is already verified",
		})
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrNoPendingChallenge):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_code",
			"message": "invalid or expired verification code",
		})
	case errors.Is(err, ErrResetTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_reset_token",
			"message": "invalid or expired reset token",
		})
	case errors.Is(err, captcha.ErrFailed):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "captcha_failed",
			"message": "captcha verification failed",
		})
	case errors.Is(err, user.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "email_taken",
			"message": "email already registered",
		})
	case errors.Is(err, user.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "user not found",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
