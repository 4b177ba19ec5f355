package auth

import (
	"errors"
	"net/http"

	apperrors "github.com/dormledger/auth-service/pkg/util"
)

// Authentication failures. Handlers translate them with MapError.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMalformedToken     = errors.New("token is malformed or has an invalid signature")
	ErrExpiredToken       = errors.New("token has expired")
	ErrRevokedToken       = errors.New("token has been revoked")
	ErrSessionExpired     = errors.New("session is no longer active")
	ErrMissingToken       = errors.New("token missing")
	ErrSigning            = errors.New("token signing unavailable")
	ErrRefreshConflict    = errors.New("session was refreshed concurrently")
	ErrStoreUnavailable   = errors.New("session store unavailable")
)

// MapError converts authentication errors into the HTTP-facing DomainError.
// SigningError is reported as a generic 500 so no key material reaches clients.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidCredentials):
		return apperrors.NewUnauthorizedCode(apperrors.CodeInvalidCredentials, ErrInvalidCredentials.Error())
	case errors.Is(err, ErrMalformedToken):
		return apperrors.NewUnauthorizedCode(apperrors.CodeTokenMalformed, "invalid token")
	case errors.Is(err, ErrExpiredToken):
		return apperrors.NewUnauthorizedCode(apperrors.CodeTokenExpired, ErrExpiredToken.Error())
	case errors.Is(err, ErrRevokedToken):
		return apperrors.NewUnauthorizedCode(apperrors.CodeTokenRevoked, ErrRevokedToken.Error())
	case errors.Is(err, ErrSessionExpired):
		return apperrors.NewUnauthorizedCode(apperrors.CodeSessionExpired, ErrSessionExpired.Error())
	case errors.Is(err, ErrMissingToken):
		return apperrors.NewUnauthorizedCode(apperrors.CodeNoToken, "missing authorization token")
	case errors.Is(err, ErrRefreshConflict):
		return apperrors.NewDomainError(apperrors.CodeRefreshConflict, ErrRefreshConflict.Error(), http.StatusConflict, nil)
	case errors.Is(err, ErrStoreUnavailable):
		return apperrors.NewServiceUnavailable("authentication temporarily unavailable", err)
	case errors.Is(err, ErrSigning):
		return apperrors.NewInternalError(err)
	default:
		return apperrors.MapError(err)
	}
}
