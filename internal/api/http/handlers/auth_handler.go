package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dormledger/auth-service/internal/api/dto"
	"github.com/dormledger/auth-service/internal/auth"
	"github.com/dormledger/auth-service/internal/service"
	apperrors "github.com/dormledger/auth-service/pkg/util"
)

// AuthHandler exposes the session lifecycle endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Identifier()) == "" || req.Password == "" {
		return apperrors.NewValidationError("username or email, and password required", nil)
	}

	res, err := h.auth.Login(c.UserContext(), service.Credentials{
		Identifier: req.Identifier(),
		Password:   req.Password,
		UserAgent:  c.Get(fiber.HeaderUserAgent),
		RemoteAddr: c.IP(),
	})
	if err != nil {
		return auth.MapError(err)
	}

	return c.JSON(dto.OK(dto.LoginResponse{
		User:   res.Identity,
		Tokens: dto.NewTokensResponse(res.Tokens),
		Session: dto.SessionResponse{
			SessionToken: res.Session.Token,
			ExpiresIn:    int64(h.auth.IdleTimeout().Seconds()),
		},
	}))
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		return apperrors.NewValidationError("refreshToken required", nil)
	}

	pair, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return auth.MapError(err)
	}
	return c.JSON(dto.OK(dto.RefreshResponse{Tokens: dto.NewTokensResponse(*pair)}))
}

// Logout handles POST /api/auth/logout. The body is optional.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	err := h.auth.Logout(c.UserContext(), service.LogoutInput{
		AccessToken:  auth.BearerToken(c),
		SessionToken: req.SessionToken,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		return auth.MapError(err)
	}
	return c.JSON(dto.Envelope{Success: true, Message: "logged out"})
}

// Profile handles GET /api/auth/profile.
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return auth.MapError(auth.ErrMissingToken)
	}
	identity, err := h.auth.Profile(c.UserContext(), principal.Claims)
	if err != nil {
		return auth.MapError(err)
	}
	return c.JSON(dto.OK(identity))
}

// Heartbeat handles POST /api/auth/heartbeat. A request without a bearer
// token is answered with 403 NO_TOKEN so clients can tell it apart from an
// invalid session.
func (h *AuthHandler) Heartbeat(c *fiber.Ctx) error {
	token := auth.BearerToken(c)
	if token == "" {
		return apperrors.NewMissingToken()
	}

	res, err := h.auth.Heartbeat(c.UserContext(), token)
	if err != nil {
		return auth.MapError(err)
	}
	return c.JSON(dto.OK(dto.HeartbeatResponse{
		ServerTime:  res.ServerTime,
		SessionID:   res.SessionID,
		IdleTimeout: int64(res.IdleTimeout.Seconds()),
	}))
}

// ValidateSession handles POST /api/auth/validate-token.
func (h *AuthHandler) ValidateSession(c *fiber.Ctx) error {
	var req dto.ValidateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.SessionToken) == "" {
		return apperrors.NewValidationError("sessionToken required", nil)
	}

	session, err := h.auth.ValidateSessionToken(c.UserContext(), req.SessionToken)
	if err != nil {
		return auth.MapError(err)
	}
	return c.JSON(dto.OK(dto.ValidateSessionResponse{
		Valid:           true,
		UserID:          session.UserID,
		LastHeartbeatAt: session.LastHeartbeatAt,
	}))
}
