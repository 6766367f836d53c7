package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
)

// AdminService is the admin use-case surface.
type AdminService interface {
	Drain(ctx context.Context) (*dto.DrainResponse, error)
	LookupPolicy(ctx context.Context, tenantID string) (*dto.PolicyResponse, error)
}

// AdminHandler serves the admin endpoints. Authentication happens in middleware.
type AdminHandler struct {
	admin AdminService
}

// NewAdminHandler creates a handler.
func NewAdminHandler(admin AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Drain handles POST /tsa/queue/drain.
func (h *AdminHandler) Drain(c *gin.Context) {
	resp, err := h.admin.Drain(c.Request.Context())
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, resp)
}

// Policy handles GET /tsa/admin/policy/:tenant_id.
func (h *AdminHandler) Policy(c *gin.Context) {
	resp, err := h.admin.LookupPolicy(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, resp)
}
