package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dormledger/auth-service/internal/domain"
)

const principalKey = "auth_principal"

// Validator checks an access token against signature, revocation and session
// liveness.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*domain.Claims, error)
}

// Principal represents the authenticated caller.
type Principal struct {
	Claims *domain.Claims
	Token  string
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	validator Validator
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(validator Validator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token := BearerToken(c)
	if token == "" {
		return MapError(ErrMissingToken)
	}

	claims, err := m.validator.Validate(c.UserContext(), token)
	if err != nil {
		return MapError(err)
	}

	c.Locals(principalKey, &Principal{Claims: claims, Token: token})
	return c.Next()
}

// BearerToken extracts the token from the Authorization header, or "" when
// the header is absent or not a bearer credential.
func BearerToken(c *fiber.Ctx) string {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
