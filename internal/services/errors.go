package services

import "errors"

// Registry errors surfaced to the originating client as error events.
// Store failures are not in this list: those are soft, logged server-side.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrUserNotFound       = errors.New("user not found in session")
	ErrSessionFull        = errors.New("session is full")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidSessionName = errors.New("session name must be between 1 and 100 characters")
	ErrInvalidPermission  = errors.New("invalid permission level")
)
