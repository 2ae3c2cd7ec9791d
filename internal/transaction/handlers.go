package transaction

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adityanair/sentinelbank/internal/auth"
	"github.com/adityanair/sentinelbank/internal/risk"
	"github.com/adityanair/sentinelbank/internal/user"
	"github.com/adityanair/sentinelbank/internal/validation"
)

// Handler provides HTTP endpoints for transfers.
type Handler struct {
	service *Service
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up transfer routes. All require a session.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.Create)
	r.POST("/transactions/verify", h.Verify)
	r.GET("/transactions", h.List)
	r.GET("/transactions/stats", h.Stats)
	r.GET("/transactions/:id", h.Get)
	r.GET("/accounts/:number", h.RecipientLookup)
}

// Create handles POST /v1/transactions
func (h *Handler) Create(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid request body"})
		return
	}
	fillContext(c, &req.Context)

	result, err := h.service.Create(c.Request.Context(), userID, &req)
	if err != nil {
		respondTransferError(c, err)
		return
	}
	respondResult(c, result)
}

// Verify handles POST /v1/transactions/verify
func (h *Handler) Verify(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid request body"})
		return
	}

	result, err := h.service.Verify(c.Request.Context(), userID, req.Code)
	if err != nil {
		respondTransferError(c, err)
		return
	}
	respondResult(c, result)
}

// List handles GET /v1/transactions
func (h *Handler) List(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	txns, err := h.service.List(c.Request.Context(), userID, limit)
	if err != nil {
		respondTransferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

// Stats handles GET /v1/transactions/stats
func (h *Handler) Stats(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), userID)
	if err != nil {
		respondTransferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// Get handles GET /v1/transactions/:id
func (h *Handler) Get(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	t, err := h.service.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondTransferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// RecipientLookup handles GET /v1/accounts/:number
func (h *Handler) RecipientLookup(c *gin.Context) {
	if _, ok := auth.UserID(c); !ok {
		unauthorized(c)
		return
	}

	number := c.Param("number")
	name, err := h.service.RecipientName(c.Request.Context(), number)
	if err != nil {
		respondTransferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accountNumber": number, "name": name})
}

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

func respondResult(c *gin.Context, result *Result) {
	switch result.Outcome {
	case OutcomeBlocked:
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "transfer_blocked",
			"message": "transfer refused due to suspicious activity",
		})
	case OutcomeVerificationRequired:
		c.JSON(http.StatusAccepted, gin.H{
			"outcome": result.Outcome,
			"message": "verification code sent",
		})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"outcome":     result.Outcome,
			"transaction": result.Transaction,
		})
	}
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func respondTransferError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": verrs.Error(),
			"details": verrs,
		})
	case errors.Is(err, ErrRecipientNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "recipient_not_found",
			"message": "no account with that number",
		})
	case errors.Is(err, ErrOwnAccount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "own_account",
			"message": "cannot transfer to your own account",
		})
	case errors.Is(err, user.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_funds",
			"message": "balance is too low for this transfer",
		})
	case errors.Is(err, ErrVerificationPending):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "verification_pending",
			"message": "verification already in progress",
		})
	case errors.Is(err, ErrNoPendingTransfer):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_pending_transfer",
			"message": "no transfer awaiting verification",
		})
	case errors.Is(err, ErrInvalidCode):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_code",
			"message": "invalid or expired verification code",
		})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "transaction not found",
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
