package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/accounts-auth/internal/domain"
	httpmiddleware "github.com/smallbiznis/accounts-auth/internal/http/middleware"
	"github.com/smallbiznis/accounts-auth/internal/repository"
	"github.com/smallbiznis/accounts-auth/internal/service"
)

// UserHandler exposes account management endpoints.
type UserHandler struct {
	Auth *service.AuthService
}

// NewUserHandler creates the user handler.
func NewUserHandler(auth *service.AuthService) *UserHandler {
	return &UserHandler{Auth: auth}
}

// Create registers an account. Password is optional at creation time.
func (h *UserHandler) Create(c *gin.Context) {
	var req struct {
		Email     string `json:"email" binding:"required,email"`
		FirstName string `json:"first_name" binding:"required"`
		LastName  string `json:"last_name"`
		Password  string `json:"password"`
		Role      string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and first_name are required."})
		return
	}

	view, err := h.Auth.CreateUser(c.Request.Context(), service.CreateUserInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Role:      req.Role,
	})
	if err != nil {
		h.respondUserError(c, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

// List returns all accounts.
func (h *UserHandler) List(c *gin.Context) {
	views, err := h.Auth.ListUsers(c.Request.Context())
	if err != nil {
		h.respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// Get returns one account by ID.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.Auth.GetUser(c.Request.Context(), id)
	if err != nil {
		h.respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Update applies a partial update to an account. Callers may update their own
// record; any other record requires the admin role.
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !h.authorizeSelfOrAdmin(c, id) {
		return
	}

	var req struct {
		Email     *string `json:"email" binding:"omitempty,email"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Role      *string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid update payload."})
		return
	}

	view, err := h.Auth.UpdateUser(c.Request.Context(), id, repository.UserUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		h.respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Delete removes an account, under the same self-or-admin rule as Update.
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !h.authorizeSelfOrAdmin(c, id) {
		return
	}
	if err := h.Auth.DeleteUser(c.Request.Context(), id); err != nil {
		h.respondUserError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) authorizeSelfOrAdmin(c *gin.Context, id int64) bool {
	claims, ok := httpmiddleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return false
	}
	if claims.UserID == id {
		return true
	}
	caller, err := h.Auth.GetUser(c.Request.Context(), claims.UserID)
	if err == nil && caller.Role == domain.RoleAdmin {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "error_description": "Not allowed to manage this user."})
	return false
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id must be a positive integer."})
		return 0, false
	}
	return id, true
}

func (h *UserHandler) respondUserError(c *gin.Context, err error) {
	if authErr, ok := err.(*service.AuthError); ok {
		c.JSON(authErr.Status, gin.H{"error": authErr.Code, "error_description": authErr.Description})
		return
	}
	zap.L().Error("user service failure", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}
