package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dormledger/auth-service/internal/domain"
	apperrors "github.com/dormledger/auth-service/pkg/util"
)

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(ctx context.Context, token string) (*domain.Claims, error) {
	args := m.Called(ctx, token)
	claims, _ := args.Get(0).(*domain.Claims)
	return claims, args.Error(1)
}

func newProtectedApp(v Validator, perm string) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).JSON(fiber.Map{"code": de.Code})
		},
	})
	mw := NewAuthMiddleware(v)
	handlers := []fiber.Handler{mw.Handle}
	if perm != "" {
		handlers = append(handlers, RequirePermission(perm))
	}
	handlers = append(handlers, func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.Claims.UserID)
	})
	app.Get("/protected", handlers...)
	return app
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Code
}

func TestAuthMiddleware(t *testing.T) {
	v := new(mockValidator)
	v.On("Validate", mock.Anything, "good").Return(&domain.Claims{UserID: "user-1", Roles: []string{RoleResident}}, nil)
	v.On("Validate", mock.Anything, "revoked").Return(nil, ErrRevokedToken)
	v.On("Validate", mock.Anything, "down").Return(nil, errors.Join(ErrStoreUnavailable, errors.New("dial tcp")))
	app := newProtectedApp(v, "")

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, apperrors.CodeNoToken},
		{"not bearer", "Basic abc", http.StatusUnauthorized, apperrors.CodeNoToken},
		{"revoked", "Bearer revoked", http.StatusUnauthorized, apperrors.CodeTokenRevoked},
		{"store down", "Bearer down", http.StatusServiceUnavailable, apperrors.CodeUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, errorCode(t, resp))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "bearer good")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequirePermission(t *testing.T) {
	v := new(mockValidator)
	v.On("Validate", mock.Anything, "resident").Return(&domain.Claims{UserID: "user-1", Roles: []string{RoleResident}}, nil)
	v.On("Validate", mock.Anything, "admin").Return(&domain.Claims{UserID: "admin-1", Roles: []string{RoleAdmin}}, nil)
	app := newProtectedApp(v, PermSessionRevoke)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer resident")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apperrors.CodeForbidden, errorCode(t, resp))

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer admin")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
