package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rongwang/timebank-server/internal/models"
	"github.com/rongwang/timebank-server/internal/service"
)

// Handler holds the service and exposes the HTTP surface
type Handler struct {
	svc service.Service
}

// NewHandler creates a new API handler
func NewHandler(svc service.Service) *Handler {
	return &Handler{svc: svc}
}

// SetupRoutes registers all routes on the router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/login", h.Login)
	}

	protected := api.Group("")
	protected.Use(AuthMiddleware())
	{
		protected.POST("/listings", h.CreateListing)
		protected.GET("/listings", h.GetUserListings)
		protected.GET("/listings/:id", h.GetListing)
		protected.POST("/listings/:id/cancel", h.CancelListing)
		protected.POST("/listings/:id/apply", h.Apply)
		protected.GET("/listings/:id/participants", h.ListParticipants)

		protected.POST("/participants/:id/accept", h.Accept)
		protected.POST("/participants/:id/decline", h.Decline)
		protected.POST("/participants/:id/confirm", h.ConfirmCompletion)
		protected.POST("/participants/:id/cancel", h.Cancel)

		protected.GET("/balance", h.GetBalance)
		protected.GET("/ledger", h.GetLedgerHistory)
	}
}

// Authentication handlers
func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	resp, err := h.svc.SignUp(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Listing handlers
func (h *Handler) CreateListing(c *gin.Context) {
	var req models.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	resp, err := h.svc.CreateListing(c.Request.Context(), c.GetString("userId"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GetUserListings(c *gin.Context) {
	resp, err := h.svc.GetUserListings(c.Request.Context(), c.GetString("userId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetListing(c *gin.Context) {
	resp, err := h.svc.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CancelListing(c *gin.Context) {
	resp, err := h.svc.CancelListing(c.Request.Context(), c.GetString("userId"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListParticipants(c *gin.Context) {
	resp, err := h.svc.ListParticipants(c.Request.Context(), c.GetString("userId"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Handshake handlers
func (h *Handler) Apply(c *gin.Context) {
	var req models.ApplyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return
		}
	}

	resp, err := h.svc.Apply(c.Request.Context(), c.GetString("userId"), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Accept(c *gin.Context) {
	var req models.AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	resp, err := h.svc.Accept(c.Request.Context(), c.GetString("userId"), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Decline(c *gin.Context) {
	resp, err := h.svc.Decline(c.Request.Context(), c.GetString("userId"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ConfirmCompletion(c *gin.Context) {
	resp, err := h.svc.ConfirmCompletion(c.Request.Context(), c.GetString("userId"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Cancel(c *gin.Context) {
	resp, err := h.svc.Cancel(c.Request.Context(), c.GetString("userId"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Ledger handlers
func (h *Handler) GetBalance(c *gin.Context) {
	resp, err := h.svc.GetBalance(c.Request.Context(), c.GetString("userId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetLedgerHistory(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	resp, err := h.svc.GetLedgerHistory(c.Request.Context(), c.GetString("userId"), skip, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Error responses
func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    "BAD_REQUEST",
		Message: err.Error(),
	})
}

// respondError maps domain errors to HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	switch {
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrUnauthorized):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, models.ErrInvalidStateTransition):
		status, code = http.StatusUnprocessableEntity, "INVALID_STATE_TRANSITION"
	case errors.Is(err, models.ErrInvalidHours):
		status, code = http.StatusUnprocessableEntity, "INVALID_HOURS"
	case errors.Is(err, models.ErrCapacityExceeded):
		status, code = http.StatusConflict, "CAPACITY_EXCEEDED"
	case errors.Is(err, models.ErrAlreadyApplied):
		status, code = http.StatusConflict, "ALREADY_APPLIED"
	case errors.Is(err, models.ErrEmailTaken):
		status, code = http.StatusConflict, "EMAIL_TAKEN"
	case errors.Is(err, models.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "INVALID_CREDENTIALS"
	case errors.Is(err, models.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "UNAVAILABLE"
	}

	c.JSON(status, models.ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: err.Error(),
	})
}
