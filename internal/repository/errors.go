package repository

import "errors"

var (
	// ErrUserNotFound is returned when no account matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is returned when no session matches the lookup.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRotationConflict is returned when a session's bound refresh token
	// changed (or the session was revoked) between read and rotate.
	ErrRotationConflict = errors.New("session token rotation conflict")
)
