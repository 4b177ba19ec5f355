package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dormledger/auth-service/internal/api/dto"
	"github.com/dormledger/auth-service/internal/auth"
	"github.com/dormledger/auth-service/internal/service"
	apperrors "github.com/dormledger/auth-service/pkg/util"
)

// AdminHandler exposes administrator session controls.
type AdminHandler struct {
	auth          *service.AuthService
	notifications *service.NotificationService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(authService *service.AuthService, notifications *service.NotificationService) *AdminHandler {
	return &AdminHandler{auth: authService, notifications: notifications}
}

// ListSessions handles GET /api/admin/users/:id/sessions.
func (h *AdminHandler) ListSessions(c *fiber.Ctx) error {
	userID := c.Params("id")
	sessions, err := h.auth.ListSessions(c.UserContext(), userID)
	if err != nil {
		return auth.MapError(err)
	}
	return c.JSON(dto.OK(dto.NewSessionViews(sessions)))
}

// ForceLogout handles POST /api/admin/users/:id/force-logout.
func (h *AdminHandler) ForceLogout(c *fiber.Ctx) error {
	var req dto.ForceLogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	userID := c.Params("id")
	n, err := h.auth.ForceLogout(c.UserContext(), userID, req.Message)
	if err != nil {
		return auth.MapError(err)
	}
	return c.JSON(dto.OK(dto.ForceLogoutResponse{UserID: userID, RevokedSessions: n}))
}

// BroadcastConfig handles POST /api/admin/config/broadcast.
func (h *AdminHandler) BroadcastConfig(c *fiber.Ctx) error {
	var req dto.ConfigBroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	keys := make([]string, 0, len(req.Keys))
	for _, k := range req.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return apperrors.NewValidationError("keys required", nil)
	}

	if err := h.notifications.AnnounceConfigChange(c.UserContext(), keys); err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.OK(fiber.Map{"keys": keys}))
}
